package server

// Request types for WebSocket commands with validation tags.

// --- Capture settings ---

// CaptureUpdateRequest is the request body for capture/update.
// Omitted fields keep their current value.
type CaptureUpdateRequest struct {
	Backend           *string `json:"backend" validate:"omitempty,oneof=auto coreaudio miniaudio simulated"`
	TargetKind        *string `json:"target_kind" validate:"omitempty,oneof=default-output device filter"`
	TargetID          *string `json:"target_id" validate:"omitempty,max=512"`
	ExcludeSelf       *bool   `json:"exclude_self"`
	QueueCapacity     *int    `json:"queue_capacity" validate:"omitempty,gte=1,lte=1024"`
	RingSize          *int    `json:"ring_size" validate:"omitempty,gte=2,lte=1026"`
	MaxRenderFailures *int    `json:"max_render_failures" validate:"omitempty,gte=0,lte=10000"`
	AutoStart         *bool   `json:"auto_start"`
	MaxRetries        *int    `json:"max_retries" validate:"omitempty,gte=0,lte=1000"`
}

// --- Silence detection settings ---

// SilenceUpdateRequest is the request body for silence/update.
type SilenceUpdateRequest struct {
	ThresholdDB *float64 `json:"threshold_db" validate:"omitempty,gte=-60,lte=0"`
	DurationMs  *int64   `json:"duration_ms" validate:"omitempty,gte=500,lte=300000"`
	RecoveryMs  *int64   `json:"recovery_ms" validate:"omitempty,gte=500,lte=60000"`
}

// SilenceDumpUpdateRequest is the request body for silence/dump-update.
// Omitted fields keep their current value.
type SilenceDumpUpdateRequest struct {
	Enabled       *bool   `json:"enabled"`
	Path          *string `json:"path" validate:"omitempty,max=4096"`
	RetentionDays *int    `json:"retention_days" validate:"omitempty,gte=0,lte=365"`
}

// --- Notification settings ---

// WebhookUpdateRequest is the request body for notifications/webhook/update.
type WebhookUpdateRequest struct {
	URL string `json:"url" validate:"omitempty,max=2048,http_url"`
}

// --- Recording settings ---

// RecordingUpdateRequest is the request body for recording/update.
type RecordingUpdateRequest struct {
	Enabled           bool   `json:"enabled"`
	Path              string `json:"path" validate:"omitempty,max=4096"`
	StorageMode       string `json:"storage_mode" validate:"omitempty,oneof=local s3 both"`
	RetentionDays     int    `json:"retention_days" validate:"omitempty,gte=1,lte=3650"`
	S3Endpoint        string `json:"s3_endpoint" validate:"omitempty,max=2048,url"`
	S3Bucket          string `json:"s3_bucket" validate:"omitempty,max=63"`
	S3Prefix          string `json:"s3_prefix" validate:"omitempty,max=256"`
	S3AccessKeyID     string `json:"s3_access_key_id" validate:"omitempty,max=128"`
	S3SecretAccessKey string `json:"s3_secret_access_key" validate:"omitempty,max=256"`
}

// --- S3 test ---

// S3TestRequest is the request body for recording/test-s3.
type S3TestRequest struct {
	Endpoint  string `json:"s3_endpoint" validate:"omitempty,max=2048"`
	Bucket    string `json:"s3_bucket" validate:"required,max=63"`
	Prefix    string `json:"s3_prefix" validate:"omitempty,max=256"`
	AccessKey string `json:"s3_access_key_id" validate:"required,max=128"`
	SecretKey string `json:"s3_secret_access_key" validate:"required,max=256"`
}

// --- Event log ---

// EventsGetRequest is the request body for events/get.
type EventsGetRequest struct {
	Limit  int    `json:"limit" validate:"omitempty,gte=1,lte=500"`
	Offset int    `json:"offset" validate:"omitempty,gte=0"`
	Filter string `json:"filter" validate:"omitempty,oneof=capture silence recording"`
}
