package capture

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Fixed stream format.
const (
	SampleRate     = 44100
	Channels       = 2
	BitDepth       = 32
	BytesPerSample = BitDepth / 8

	// DefaultQueueCapacity is the dispatcher queue length when none is configured.
	DefaultQueueCapacity = 16

	// allocationGranularity is the unit every render and ring buffer grows by.
	allocationGranularity = 64 << 10
)

// TargetKind identifies how a Selector picks the capture target.
type TargetKind string

// Selector kinds.
const (
	TargetDefaultOutput TargetKind = "default-output"
	TargetDevice        TargetKind = "device"
	TargetFilter        TargetKind = "filter"
)

// Selector names the capture target.
type Selector struct {
	Kind TargetKind `json:"kind" validate:"required,oneof=default-output device filter"`
	ID   string     `json:"id,omitempty" validate:"required_unless=Kind default-output"`
}

// String returns a short human readable form.
func (s Selector) String() string {
	if s.ID == "" {
		return string(s.Kind)
	}
	return string(s.Kind) + ":" + s.ID
}

// StreamOptions configures one capture session.
type StreamOptions struct {
	Target      Selector `json:"target"`
	SampleRate  int      `json:"sample_rate" validate:"eq=44100"`
	Channels    int      `json:"channels" validate:"eq=2"`
	BitDepth    int      `json:"bit_depth" validate:"eq=32"`
	ExcludeSelf bool     `json:"exclude_self"`

	// QueueCapacity bounds the number of data deliveries waiting for the consumer.
	QueueCapacity int `json:"queue_capacity" validate:"gte=1,lte=1024"`
	// RingSize is the number of reusable frame buffers. At least 2.
	RingSize int `json:"ring_size" validate:"gte=2,lte=1026"`
	// MaxRenderFailures escalates consecutive render failures to a stream
	// failure. Zero never escalates.
	MaxRenderFailures int `json:"max_render_failures" validate:"gte=0"`
}

// DefaultOptions returns options for the default output device.
func DefaultOptions() StreamOptions {
	return StreamOptions{
		Target:        Selector{Kind: TargetDefaultOutput},
		SampleRate:    SampleRate,
		Channels:      Channels,
		BitDepth:      BitDepth,
		QueueCapacity: DefaultQueueCapacity,
		RingSize:      DefaultQueueCapacity + 2,
	}
}

// WithDefaults fills zero fields with their defaults.
func (o StreamOptions) WithDefaults() StreamOptions {
	if o.Target.Kind == "" {
		o.Target.Kind = TargetDefaultOutput
	}
	if o.SampleRate == 0 {
		o.SampleRate = SampleRate
	}
	if o.Channels == 0 {
		o.Channels = Channels
	}
	if o.BitDepth == 0 {
		o.BitDepth = BitDepth
	}
	if o.QueueCapacity == 0 {
		o.QueueCapacity = DefaultQueueCapacity
	}
	if o.RingSize == 0 {
		o.RingSize = o.QueueCapacity + 2
	}
	return o
}

// Validate checks the options against the supported stream format.
func (o StreamOptions) Validate() error {
	if err := validate.Struct(o); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid %s: failed %q constraint (got %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("invalid stream options: %w", err)
	}
	return nil
}

// BytesPerFrame returns the size of one interleaved frame.
func (o StreamOptions) BytesPerFrame() int {
	return o.Channels * BytesPerSample
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

// roundUp rounds n up to the allocation granularity.
func roundUp(n int) int {
	if n <= 0 {
		return 0
	}
	return (n + allocationGranularity - 1) / allocationGranularity * allocationGranularity
}
