package recording

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/oszuidwest/zwfm-syscapture/internal/config"
	"github.com/oszuidwest/zwfm-syscapture/internal/eventlog"
	"github.com/oszuidwest/zwfm-syscapture/internal/util"
)

// MaxUploadRetryAge is the maximum age for retrying uploads.
const MaxUploadRetryAge = 24 * time.Hour

// defaultS3Prefix is used when no key prefix is configured.
const defaultS3Prefix = "recordings"

const (
	uploadQueueSize = 100
	uploadTimeout   = 5 * time.Minute
)

// objectStore is the subset of the S3 API used for uploads and cleanup.
type objectStore interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// createS3Client creates an S3 client with the given configuration.
func createS3Client(cfg *config.S3Config) *s3.Client {
	creds := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")

	options := []func(*s3.Options){
		func(o *s3.Options) {
			o.Credentials = creds
			o.Region = "auto"
		},
	}
	if cfg.Endpoint != "" {
		options = append(options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}
	return s3.New(s3.Options{}, options...)
}

// TestS3Connection tests connectivity to a bucket by uploading and deleting a test object.
func TestS3Connection(ctx context.Context, cfg *config.S3Config) error {
	if !cfg.IsConfigured() {
		return errors.New("S3 is not configured")
	}
	client := createS3Client(cfg)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	key := path.Join(cmp.Or(cfg.Prefix, defaultS3Prefix), fmt.Sprintf("test-connection-%d.txt", time.Now().UnixNano()))
	content := []byte("system capture connection test")

	if _, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(content),
		ContentLength: aws.Int64(int64(len(content))),
	}); err != nil {
		return util.WrapError("upload test file", err)
	}

	if _, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(cfg.Bucket),
		Key:    aws.String(key),
	}); err != nil {
		slog.Warn("failed to delete test file", "key", key, "error", err)
	}
	return nil
}

// uploadRequest represents a finished file to upload.
type uploadRequest struct {
	localPath string
	key       string
	size      int64
}

// pendingUpload tracks a failed upload for retry.
type pendingUpload struct {
	request      uploadRequest
	firstAttempt time.Time
	retryCount   int
	lastError    string
}

// Uploader moves finished recordings to object storage on a worker goroutine.
type Uploader struct {
	store  objectStore
	bucket string
	prefix string
	mode   config.StorageMode
	events *eventlog.Logger
	now    func() time.Time

	queue chan uploadRequest
	wg    sync.WaitGroup

	mu         sync.Mutex
	stopCh     chan struct{}
	retries    []pendingUpload
	lastUpload time.Time
	lastErr    string
}

// NewUploader creates an uploader for cfg. It returns nil in local storage mode.
func NewUploader(cfg *config.RecordingConfig, events *eventlog.Logger) *Uploader {
	if cfg.StorageMode == config.StorageLocal || !cfg.S3.IsConfigured() {
		return nil
	}
	return newUploader(createS3Client(&cfg.S3), cfg, events)
}

func newUploader(store objectStore, cfg *config.RecordingConfig, events *eventlog.Logger) *Uploader {
	return &Uploader{
		store:  store,
		bucket: cfg.S3.Bucket,
		prefix: cmp.Or(cfg.S3.Prefix, defaultS3Prefix),
		mode:   cfg.StorageMode,
		events: events,
		now:    time.Now,
		queue:  make(chan uploadRequest, uploadQueueSize),
	}
}

// Start runs the upload worker. It is a no-op while the worker runs.
func (u *Uploader) Start() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.stopCh != nil {
		return
	}
	u.stopCh = make(chan struct{})
	u.wg.Add(1)
	go u.worker(u.stopCh)
}

// Stop drains queued uploads and waits for the worker and any retry
// pass to exit.
func (u *Uploader) Stop() {
	u.mu.Lock()
	if u.stopCh != nil {
		close(u.stopCh)
		u.stopCh = nil
	}
	u.mu.Unlock()
	u.wg.Wait()
}

// RetryAsync runs ProcessRetries on its own goroutine.
func (u *Uploader) RetryAsync() {
	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		u.ProcessRetries()
	}()
}

// Key returns the object key for a local file name.
func (u *Uploader) Key(filename string) string {
	return path.Join(u.prefix, filename)
}

// Enqueue queues a finished file for upload.
func (u *Uploader) Enqueue(localPath string) {
	info, err := os.Stat(localPath)
	if err != nil {
		slog.Warn("failed to stat recording file", "path", localPath, "error", err)
		return
	}
	req := uploadRequest{localPath: localPath, key: u.Key(filepath.Base(localPath)), size: info.Size()}

	select {
	case u.queue <- req:
		slog.Info("queued file for upload", "file", filepath.Base(localPath))
		u.logEvent(eventlog.UploadQueued, req, 0, "")
	default:
		slog.Warn("upload queue full", "file", filepath.Base(localPath))
		u.addRetry(req, "upload queue full")
	}
}

// Pending returns the number of uploads waiting for a retry.
func (u *Uploader) Pending() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.retries)
}

// LastUpload returns the time and error of the most recent upload attempt.
func (u *Uploader) LastUpload() (time.Time, string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.lastUpload, u.lastErr
}

// worker processes the upload queue, draining remaining items on shutdown.
func (u *Uploader) worker(stop <-chan struct{}) {
	defer u.wg.Done()

	for {
		select {
		case <-stop:
			for {
				select {
				case req := <-u.queue:
					u.uploadWithRetry(req)
				default:
					return
				}
			}
		case req := <-u.queue:
			u.uploadWithRetry(req)
		}
	}
}

func (u *Uploader) uploadWithRetry(req uploadRequest) {
	if err := u.upload(req); err != nil {
		slog.Error("upload failed", "key", req.key, "error", err)
		u.logEvent(eventlog.UploadFailed, req, 0, err.Error())
		u.addRetry(req, err.Error())
	}
}

// upload puts one file and removes the local copy in S3-only mode.
func (u *Uploader) upload(req uploadRequest) error {
	ctx, cancel := context.WithTimeoutCause(context.Background(), uploadTimeout, errors.New("s3 upload timeout"))
	defer cancel()

	file, err := os.Open(req.localPath)
	if err != nil {
		return err
	}
	defer util.SafeCloseFunc(file, "recording file")()

	_, err = u.store.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(req.key),
		Body:          file,
		ContentLength: aws.Int64(req.size),
		ContentType:   aws.String("audio/wav"),
	})

	u.mu.Lock()
	u.lastUpload = u.now()
	u.lastErr = ""
	if err != nil {
		u.lastErr = err.Error()
	}
	u.mu.Unlock()

	if err != nil {
		return err
	}

	slog.Info("upload completed", "key", req.key)
	u.logEvent(eventlog.UploadCompleted, req, 0, "")

	if u.mode == config.StorageS3 {
		if err := os.Remove(req.localPath); err != nil {
			slog.Warn("failed to delete local file after upload", "path", req.localPath, "error", err)
		}
	}
	return nil
}

// addRetry adds a failed upload to the retry queue.
func (u *Uploader) addRetry(req uploadRequest, errMsg string) {
	u.mu.Lock()
	defer u.mu.Unlock()

	for _, p := range u.retries {
		if p.request.localPath == req.localPath {
			return
		}
	}
	u.retries = append(u.retries, pendingUpload{
		request:      req,
		firstAttempt: u.now(),
		lastError:    errMsg,
	})
}

// ProcessRetries attempts all pending uploads. Entries older than
// MaxUploadRetryAge are abandoned. Called at hour rotation.
func (u *Uploader) ProcessRetries() {
	u.mu.Lock()
	pending := u.retries
	u.retries = nil
	u.mu.Unlock()

	if len(pending) == 0 {
		return
	}
	now := u.now()

	var failed []pendingUpload
	for _, p := range pending {
		if now.Sub(p.firstAttempt) > MaxUploadRetryAge {
			slog.Warn("upload abandoned after 24h", "file", filepath.Base(p.request.localPath), "attempts", p.retryCount+1)
			u.logEvent(eventlog.UploadAbandoned, p.request, p.retryCount, "exceeded 24h retry limit")
			continue
		}

		p.retryCount++
		u.logEvent(eventlog.UploadRetry, p.request, p.retryCount, "")

		err := u.upload(p.request)
		switch {
		case err == nil:
		case errors.Is(err, os.ErrNotExist):
			slog.Warn("retry file no longer exists", "path", p.request.localPath)
		default:
			p.lastError = err.Error()
			u.logEvent(eventlog.UploadFailed, p.request, p.retryCount, err.Error())
			failed = append(failed, p)
		}
	}

	u.mu.Lock()
	u.retries = append(failed, u.retries...)
	u.mu.Unlock()
}

func (u *Uploader) logEvent(t eventlog.EventType, req uploadRequest, retry int, errMsg string) {
	if err := u.events.LogRecording(t, &eventlog.RecordingDetails{
		Filename:    filepath.Base(req.localPath),
		StorageMode: string(u.mode),
		S3Key:       req.key,
		SizeBytes:   req.size,
		Error:       errMsg,
		RetryCount:  retry,
	}); err != nil {
		slog.Warn("failed to log upload event", "error", err)
	}
}
