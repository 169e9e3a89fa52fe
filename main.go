// Command syscapture captures the system audio output and makes it
// available to a control API, level meters, silence alerts and recordings.
//
// Usage:
//
//	syscapture serve [--config path/to/config.json]
//	syscapture capture --duration 10s --output capture.wav
//	syscapture devices
//	syscapture version
//
// If --config is not specified, syscapture looks for config.json in the same
// directory as the binary.
package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/oszuidwest/zwfm-syscapture/internal/backend"
	"github.com/oszuidwest/zwfm-syscapture/internal/backend/simulated"
	"github.com/oszuidwest/zwfm-syscapture/internal/capture"
	"github.com/oszuidwest/zwfm-syscapture/internal/config"
	"github.com/oszuidwest/zwfm-syscapture/internal/engine"
	"github.com/oszuidwest/zwfm-syscapture/internal/eventlog"
	"github.com/oszuidwest/zwfm-syscapture/internal/observe"
	"github.com/oszuidwest/zwfm-syscapture/internal/recording"
	"github.com/oszuidwest/zwfm-syscapture/internal/util"
)

// Build information, set with -ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// shutdownTimeout bounds the graceful shutdown of the serve command.
const shutdownTimeout = 30 * time.Second

var (
	configPath  string
	backendName string
)

var rootCmd = &cobra.Command{
	Use:           "syscapture",
	Short:         "System audio capture service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run capture with the control API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

var (
	captureDuration time.Duration
	captureOutput   string
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture system audio to a WAV file or stdout",
	Long: `Capture system audio for a fixed duration. With --output - the raw
interleaved float32 samples are written to stdout.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runCapture(cmd.Context())
	},
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List capturable devices",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runDevices(cmd.Context())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "syscapture %s (commit %s, built %s)\n", Version, Commit, BuildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default: config.json next to binary)")
	rootCmd.PersistentFlags().StringVar(&backendName, "backend", "", "capture backend, overrides the config ("+strings.Join(append([]string{backend.Auto}, backend.Available()...), ", ")+")")

	captureCmd.Flags().DurationVarP(&captureDuration, "duration", "d", 10*time.Second, "capture duration")
	captureCmd.Flags().StringVarP(&captureOutput, "output", "o", "capture.wav", "WAV file to write, or - for raw samples on stdout")

	rootCmd.AddCommand(serveCmd, captureCmd, devicesCmd, versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), util.ShutdownSignals()...)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// loadConfig resolves the config path and loads it.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		execPath, err := os.Executable()
		if err != nil {
			return nil, util.WrapError("get executable path", err)
		}
		path = filepath.Join(filepath.Dir(execPath), "config.json")
	}

	cfg := config.New(path)
	if err := cfg.Load(); err != nil {
		return nil, util.WrapError("load config", err)
	}
	setupLogging(cfg.Snapshot())
	slog.Info("using config file", "path", path)
	return cfg, nil
}

// setupLogging installs the default logger for the configured level and format.
func setupLogging(snap config.Snapshot) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(snap.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if snap.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// newBackend creates the capture backend from the flag or the config.
func newBackend(snap config.Snapshot) (capture.Backend, error) {
	name := cmp.Or(backendName, snap.Capture.Backend)
	b, err := backend.New(name, simulated.Config{ToneHz: 440})
	if err != nil {
		return nil, err
	}
	slog.Info("capture backend selected", "backend", b.Name())
	return b, nil
}

// runServe runs the engine and the HTTP server until ctx is cancelled.
func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	snap := cfg.Snapshot()

	b, err := newBackend(snap)
	if err != nil {
		return err
	}

	eventLogPath := cmp.Or(snap.EventLogPath, eventlog.DefaultLogPath())
	events, err := eventlog.NewLogger(eventLogPath)
	if err != nil {
		slog.Warn("event log unavailable", "path", eventLogPath, "error", err)
		eventLogPath = ""
	}
	defer util.SafeCloseFunc(events, "event log")()

	provider, err := observe.InitProvider(observe.ProviderConfig{ServiceName: "syscapture", ServiceVersion: Version})
	if err != nil {
		return util.WrapError("initialize metrics", err)
	}

	eng := engine.New(cfg, b, events)
	metrics, err := observe.NewMetrics(provider.MeterProvider, eng.MetricsSnapshot)
	if err != nil {
		return util.WrapError("register metrics", err)
	}
	eng.SetMetrics(metrics)

	srv := NewServer(cfg, eng, eventLogPath, provider.Handler())
	srv.version.Start()
	httpServer := srv.NewHTTPServer()

	if snap.APIKey == "" {
		slog.Warn("no API key configured, control endpoints are disabled")
	}
	if snap.Capture.AutoStart {
		if err := eng.Start(); err != nil {
			slog.Error("failed to start capture", "error", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("starting web server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return util.WrapError("serve HTTP", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		srv.version.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, util.WrapError("shut down HTTP server", err))
		}
		if err := eng.Stop(shutdownCtx); err != nil {
			errs = append(errs, util.WrapError("stop capture", err))
		}
		if err := capture.StopAll(shutdownCtx); err != nil {
			errs = append(errs, util.WrapError("stop remaining sessions", err))
		}
		if err := metrics.Close(); err != nil {
			errs = append(errs, util.WrapError("unregister metrics", err))
		}
		if err := provider.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, util.WrapError("shut down metrics", err))
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("shutdown complete")
	return nil
}

// runCapture captures for captureDuration into a WAV file or stdout.
func runCapture(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	snap := cfg.Snapshot()

	b, err := newBackend(snap)
	if err != nil {
		return err
	}

	var sink io.Writer
	if captureOutput == "-" {
		sink = os.Stdout
	} else {
		wav, err := recording.CreateWAV(captureOutput, capture.SampleRate, capture.DefaultOptions().Channels)
		if err != nil {
			return err
		}
		defer util.SafeCloseFunc(wav, "wav file")()
		sink = wav
	}

	var writeErr error
	sess, err := capture.Start(ctx, b, snap.StreamOptions(), capture.Callbacks{
		OnData: func(buf []byte, _, _ int) {
			if writeErr != nil {
				return
			}
			if _, err := sink.Write(buf); err != nil {
				writeErr = err
			}
		},
	})
	if err != nil {
		return err
	}

	timer := time.NewTimer(captureDuration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	case <-sess.Done():
	}

	sess.Stop()
	if err := sess.Wait(context.Background()); err != nil {
		return err
	}

	st := sess.Stats()
	slog.Info("capture finished", "output", captureOutput, "delivered", st.Delivered, "dropped", st.Dropped, "skipped", st.Skipped)
	return errors.Join(sess.Err(), writeErr)
}

// runDevices prints the devices the backend can capture from.
func runDevices(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	b, err := newBackend(cfg.Snapshot())
	if err != nil {
		return err
	}

	devices, err := b.Devices(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tDEFAULT")
	for _, d := range devices {
		def := ""
		if d.Default {
			def = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", d.ID, d.Name, def)
	}
	return tw.Flush()
}
