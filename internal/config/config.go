// Package config provides application configuration management.
package config

import (
	"cmp"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/oszuidwest/zwfm-syscapture/internal/capture"
	"github.com/oszuidwest/zwfm-syscapture/internal/util"
)

// Configuration defaults are used when values are not specified.
const (
	DefaultPort              = 8080
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
	DefaultStationName       = "System Capture"
	DefaultBackend           = "auto"
	DefaultMaxRetries        = 10
	DefaultSilenceThreshold  = -40.0
	DefaultSilenceDurationMs = 15000
	DefaultSilenceRecoveryMs = 5000
	DefaultRecordingPath     = "recordings"
	DefaultSilenceDumpPath   = "silence-dumps"
	DefaultDumpRetentionDays = 7
)

// StorageMode selects where finished recordings are kept.
type StorageMode string

// Storage modes.
const (
	StorageLocal StorageMode = "local"
	StorageS3    StorageMode = "s3"
	StorageBoth  StorageMode = "both"
)

// stationNamePattern rejects control characters (blocks header injection in webhooks).
var stationNamePattern = regexp.MustCompile(`^[^\x00-\x1F\x7F]+$`)

// SystemConfig holds settings that require a restart.
type SystemConfig struct {
	Port        int    `json:"port" validate:"gte=1,lte=65535"`
	APIKey      string `json:"api_key"`
	LogLevel    string `json:"log_level" validate:"oneof=debug info warn error"`
	LogFormat   string `json:"log_format" validate:"oneof=text json"`
	StationName string `json:"station_name" validate:"min=1,max=30"`
}

// CaptureConfig holds the capture backend and stream tuning.
type CaptureConfig struct {
	Backend           string `json:"backend" validate:"oneof=auto coreaudio miniaudio simulated"`
	TargetKind        string `json:"target_kind" validate:"oneof=default-output device filter"`
	TargetID          string `json:"target_id,omitempty" validate:"required_unless=TargetKind default-output"`
	ExcludeSelf       bool   `json:"exclude_self"`
	QueueCapacity     int    `json:"queue_capacity" validate:"gte=0,lte=1024"`
	RingSize          int    `json:"ring_size" validate:"omitempty,gte=2,lte=1026"`
	MaxRenderFailures int    `json:"max_render_failures" validate:"gte=0"`
	AutoStart         bool   `json:"auto_start"`
	MaxRetries        int    `json:"max_retries" validate:"gte=0,lte=1000"`
}

// SilenceDetectionConfig holds silence detection thresholds and timing parameters.
type SilenceDetectionConfig struct {
	ThresholdDB float64 `json:"threshold_db" validate:"gte=-60,lte=0"`
	DurationMs  int64   `json:"duration_ms" validate:"gte=0"`
	RecoveryMs  int64   `json:"recovery_ms" validate:"gte=0"`
}

// SilenceDumpConfig controls the WAV clips saved around silence episodes.
type SilenceDumpConfig struct {
	Enabled       bool   `json:"enabled"`
	Path          string `json:"path"`
	RetentionDays int    `json:"retention_days" validate:"gte=0,lte=365"` // 0 keeps clips forever
}

// NotificationsConfig holds notification channel settings.
type NotificationsConfig struct {
	WebhookURL   string `json:"webhook_url" validate:"omitempty,http_url"`
	EventLogPath string `json:"event_log_path"`
}

// S3Config holds S3-compatible storage settings.
type S3Config struct {
	Endpoint        string `json:"endpoint,omitempty" validate:"omitempty,url"`
	Bucket          string `json:"bucket,omitempty"`
	Prefix          string `json:"prefix,omitempty"`
	AccessKeyID     string `json:"access_key_id,omitempty"`
	SecretAccessKey string `json:"secret_access_key,omitempty"`
}

// IsConfigured reports whether bucket and credentials are set.
func (c *S3Config) IsConfigured() bool {
	return util.IsConfigured(c.Bucket, c.AccessKeyID, c.SecretAccessKey)
}

// RecordingConfig holds WAV recording settings.
type RecordingConfig struct {
	Enabled       bool        `json:"enabled"`
	Path          string      `json:"path"`
	StorageMode   StorageMode `json:"storage_mode" validate:"oneof=local s3 both"`
	RetentionDays int         `json:"retention_days" validate:"gte=0"`
	S3            S3Config    `json:"s3"`
}

// Config holds all application configuration. It is safe for concurrent use.
type Config struct {
	System           SystemConfig           `json:"system"`
	Capture          CaptureConfig          `json:"capture"`
	SilenceDetection SilenceDetectionConfig `json:"silence_detection"`
	SilenceDump      SilenceDumpConfig      `json:"silence_dump"`
	Notifications    NotificationsConfig    `json:"notifications"`
	Recording        RecordingConfig        `json:"recording"`

	mu       sync.RWMutex
	filePath string
}

// New creates a new Config with default values.
func New(filePath string) *Config {
	c := &Config{filePath: filePath}
	c.SilenceDump.RetentionDays = DefaultDumpRetentionDays
	c.applyDefaults()
	return c
}

// Load reads config from file, creating a default if none exists.
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.filePath)
	if errors.Is(err, os.ErrNotExist) {
		return c.saveLocked()
	}
	if err != nil {
		return util.WrapError("read config", err)
	}

	if err := json.Unmarshal(data, c); err != nil {
		return util.WrapError("parse config", err)
	}
	c.applyDefaults()
	return c.validate()
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validate checks all configuration fields for correctness.
func (c *Config) validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid %s %v: failed %q constraint", fe.Namespace(), fe.Value(), fe.Tag())
		}
		return util.WrapError("validate config", err)
	}
	if !stationNamePattern.MatchString(c.System.StationName) {
		return fmt.Errorf("invalid station_name %q: must be printable characters", c.System.StationName)
	}
	if c.SilenceDump.Enabled {
		if err := util.ValidatePath("silence_dump.path", c.SilenceDump.Path); err != nil {
			return err
		}
	}
	if c.Recording.Enabled {
		if err := util.ValidatePath("recording.path", c.Recording.Path); err != nil {
			return err
		}
		if c.Recording.StorageMode != StorageLocal && !c.Recording.S3.IsConfigured() {
			return fmt.Errorf("recording.s3: bucket and credentials are required for storage mode %q", c.Recording.StorageMode)
		}
	}
	return nil
}

// applyDefaults sets default values for zero-value fields.
func (c *Config) applyDefaults() {
	c.System.Port = cmp.Or(c.System.Port, DefaultPort)
	c.System.LogLevel = cmp.Or(c.System.LogLevel, DefaultLogLevel)
	c.System.LogFormat = cmp.Or(c.System.LogFormat, DefaultLogFormat)
	c.System.StationName = cmp.Or(c.System.StationName, DefaultStationName)

	c.Capture.Backend = cmp.Or(c.Capture.Backend, DefaultBackend)
	c.Capture.TargetKind = cmp.Or(c.Capture.TargetKind, string(capture.TargetDefaultOutput))
	c.Capture.QueueCapacity = cmp.Or(c.Capture.QueueCapacity, capture.DefaultQueueCapacity)
	c.Capture.MaxRetries = cmp.Or(c.Capture.MaxRetries, DefaultMaxRetries)

	c.SilenceDetection.ThresholdDB = cmp.Or(c.SilenceDetection.ThresholdDB, DefaultSilenceThreshold)
	c.SilenceDetection.DurationMs = cmp.Or(c.SilenceDetection.DurationMs, DefaultSilenceDurationMs)
	c.SilenceDetection.RecoveryMs = cmp.Or(c.SilenceDetection.RecoveryMs, DefaultSilenceRecoveryMs)
	c.SilenceDump.Path = cmp.Or(c.SilenceDump.Path, DefaultSilenceDumpPath)

	c.Recording.Path = cmp.Or(c.Recording.Path, DefaultRecordingPath)
	c.Recording.StorageMode = cmp.Or(c.Recording.StorageMode, StorageLocal)
}

// saveLocked persists configuration. Caller must hold c.mu.
func (c *Config) saveLocked() error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return util.WrapError("marshal config", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.filePath), 0o755); err != nil {
		return util.WrapError("create config directory", err)
	}
	if err := os.WriteFile(c.filePath, data, 0o600); err != nil {
		return util.WrapError("write config", err)
	}
	return nil
}

// update applies fn, validates the result and saves it. On a validation
// failure the previous values are restored.
func (c *Config) update(fn func(*Config)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := struct {
		capture   CaptureConfig
		silence   SilenceDetectionConfig
		dump      SilenceDumpConfig
		notify    NotificationsConfig
		recording RecordingConfig
	}{c.Capture, c.SilenceDetection, c.SilenceDump, c.Notifications, c.Recording}

	fn(c)
	c.applyDefaults()
	if err := c.validate(); err != nil {
		c.Capture, c.SilenceDetection, c.SilenceDump = prev.capture, prev.silence, prev.dump
		c.Notifications, c.Recording = prev.notify, prev.recording
		return err
	}
	return c.saveLocked()
}

// SetCapture replaces the capture settings and saves the configuration.
func (c *Config) SetCapture(cc CaptureConfig) error {
	return c.update(func(c *Config) { c.Capture = cc })
}

// SetSilenceDetection replaces the silence thresholds and saves the configuration.
func (c *Config) SetSilenceDetection(sd SilenceDetectionConfig) error {
	return c.update(func(c *Config) { c.SilenceDetection = sd })
}

// SetSilenceDump replaces the silence dump settings and saves the configuration.
func (c *Config) SetSilenceDump(sd SilenceDumpConfig) error {
	return c.update(func(c *Config) { c.SilenceDump = sd })
}

// SetWebhookURL updates the webhook URL and saves the configuration.
func (c *Config) SetWebhookURL(url string) error {
	return c.update(func(c *Config) { c.Notifications.WebhookURL = url })
}

// SetRecording replaces the recording settings and saves the configuration.
func (c *Config) SetRecording(rc RecordingConfig) error {
	return c.update(func(c *Config) { c.Recording = rc })
}

// APIKey returns the API key guarding control endpoints.
func (c *Config) APIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.System.APIKey
}

// SetAPIKey updates the API key and saves the configuration.
func (c *Config) SetAPIKey(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.System.APIKey = key
	return c.saveLocked()
}

// Path returns the file the configuration is stored in.
func (c *Config) Path() string {
	return c.filePath
}

// Snapshot is a point-in-time copy of configuration values.
type Snapshot struct {
	// System
	Port        int
	APIKey      string
	LogLevel    string
	LogFormat   string
	StationName string

	// Capture
	Capture CaptureConfig

	// Silence detection
	SilenceThreshold  float64
	SilenceDurationMs int64
	SilenceRecoveryMs int64
	SilenceDump       SilenceDumpConfig

	// Notifications
	WebhookURL   string
	EventLogPath string

	// Recording
	Recording RecordingConfig
}

// Snapshot returns a point-in-time copy of all configuration values.
func (c *Config) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		Port:        c.System.Port,
		APIKey:      c.System.APIKey,
		LogLevel:    c.System.LogLevel,
		LogFormat:   c.System.LogFormat,
		StationName: c.System.StationName,

		Capture: c.Capture,

		SilenceThreshold:  c.SilenceDetection.ThresholdDB,
		SilenceDurationMs: c.SilenceDetection.DurationMs,
		SilenceRecoveryMs: c.SilenceDetection.RecoveryMs,
		SilenceDump:       c.SilenceDump,

		WebhookURL:   c.Notifications.WebhookURL,
		EventLogPath: c.Notifications.EventLogPath,

		Recording: c.Recording,
	}
}

// HasWebhook reports whether a webhook URL is configured.
func (s *Snapshot) HasWebhook() bool {
	return s.WebhookURL != ""
}

// StreamOptions converts the capture settings to stream options.
func (s *Snapshot) StreamOptions() capture.StreamOptions {
	opts := capture.DefaultOptions()
	opts.Target = capture.Selector{Kind: capture.TargetKind(s.Capture.TargetKind), ID: s.Capture.TargetID}
	opts.ExcludeSelf = s.Capture.ExcludeSelf
	opts.QueueCapacity = s.Capture.QueueCapacity
	opts.RingSize = cmp.Or(s.Capture.RingSize, s.Capture.QueueCapacity+2)
	opts.MaxRenderFailures = s.Capture.MaxRenderFailures
	return opts
}

// GenerateAPIKey generates a new random 32-character alphanumeric API key.
func GenerateAPIKey() (string, error) {
	const chars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	key := make([]byte, 32)
	for i := range key {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		if err != nil {
			return "", err
		}
		key[i] = chars[n.Int64()]
	}
	return string(key), nil
}
