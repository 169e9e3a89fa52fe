package audio

// SilenceLevel represents the silence detection state.
type SilenceLevel string

// SilenceLevelActive indicates silence is confirmed.
const SilenceLevelActive SilenceLevel = "active"

// AudioLevels is the current audio level measurements for VU meters.
type AudioLevels struct {
	Left              float64      `json:"left"`
	Right             float64      `json:"right"`
	PeakLeft          float64      `json:"peak_left"`
	PeakRight         float64      `json:"peak_right"`
	Silence           bool         `json:"silence,omitzero"`
	SilenceDurationMs int64        `json:"silence_duration_ms,omitzero"`
	SilenceLevel      SilenceLevel `json:"silence_level,omitzero"`
	ClipLeft          int          `json:"clip_left,omitzero"`
	ClipRight         int          `json:"clip_right,omitzero"`
}

// SilentLevels returns the levels reported while nothing is captured.
func SilentLevels() AudioLevels {
	return AudioLevels{Left: MinDB, Right: MinDB, PeakLeft: MinDB, PeakRight: MinDB}
}
