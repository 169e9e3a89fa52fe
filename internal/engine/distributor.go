package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/oszuidwest/zwfm-syscapture/internal/audio"
	"github.com/oszuidwest/zwfm-syscapture/internal/config"
	"github.com/oszuidwest/zwfm-syscapture/internal/notify"
	"github.com/oszuidwest/zwfm-syscapture/internal/observe"
	"github.com/oszuidwest/zwfm-syscapture/internal/recording"
	"github.com/oszuidwest/zwfm-syscapture/internal/silencedump"
)

// LevelCallback receives audio level updates from the distributor.
type LevelCallback func(levels audio.AudioLevels)

// Distributor fans captured periods out to metering, silence
// notifications, silence clips and the recorder. It runs on the session's consumer
// goroutine.
type Distributor struct {
	meter    *audio.Meter
	config   *config.Config
	notifier *notify.Notifier
	recorder *recording.Recorder
	dumps    *silencedump.Manager
	metrics  *observe.Metrics
	callback LevelCallback
	now      func() time.Time

	recordErrLogged bool
}

// NewDistributor creates a distributor. notifier, recorder and metrics may be nil.
func NewDistributor(cfg *config.Config, notifier *notify.Notifier, recorder *recording.Recorder, metrics *observe.Metrics, callback LevelCallback) *Distributor {
	return &Distributor{
		meter:    audio.NewMeter(audio.DefaultUpdateFrames),
		config:   cfg,
		notifier: notifier,
		recorder: recorder,
		metrics:  metrics,
		callback: callback,
		now:      time.Now,
	}
}

// SetDumps attaches the silence clip manager. Call before the first Process.
func (d *Distributor) SetDumps(m *silencedump.Manager) {
	d.dumps = m
}

// Process handles one delivered period.
func (d *Distributor) Process(buf []byte, frames, channels int) {
	if d.dumps != nil {
		d.dumps.Write(buf)
	}
	if d.recorder != nil {
		if err := d.recorder.Write(buf, frames, channels); err != nil {
			// Logged once per failure streak; the recorder records the details.
			if !d.recordErrLogged {
				slog.Warn("recording write failed", "error", err)
				d.recordErrLogged = true
			}
		} else {
			d.recordErrLogged = false
		}
	}

	cfg := d.config.Snapshot()
	silenceCfg := audio.SilenceConfig{
		Threshold:  cfg.SilenceThreshold,
		DurationMs: cfg.SilenceDurationMs,
		RecoveryMs: cfg.SilenceRecoveryMs,
	}
	levels, ev, ok := d.meter.Process(buf, channels, silenceCfg, d.now())
	if !ok {
		return
	}

	if d.notifier != nil {
		d.notifier.HandleSilence(ev)
	}
	if d.dumps != nil {
		d.dumps.HandleSilenceEvent(ev, silenceCfg.RecoveryMs)
	}
	if d.metrics != nil && (ev.JustEntered || ev.JustRecovered) {
		d.metrics.RecordSilence(context.Background(), ev.JustEntered)
	}
	if d.callback != nil {
		d.callback(levels)
	}
}

// Reset clears metering state between sessions.
func (d *Distributor) Reset() {
	d.meter.Reset()
	d.recordErrLogged = false
}
