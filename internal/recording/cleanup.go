package recording

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/oszuidwest/zwfm-syscapture/internal/config"
	"github.com/oszuidwest/zwfm-syscapture/internal/eventlog"
	"github.com/oszuidwest/zwfm-syscapture/internal/util"
)

// cleanupScheduler runs retention cleanup every day at 03:00.
func (r *Recorder) cleanupScheduler(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		now := r.now()
		next := nextCleanup(now)
		slog.Debug("cleanup scheduler: next run scheduled", "at", next.Format(time.DateTime))

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-timer.C:
			r.RunCleanup(context.Background())
		case <-stop:
			timer.Stop()
			return
		}
	}
}

// RunCleanup deletes recordings older than the retention period.
// A retention of zero keeps files forever.
func (r *Recorder) RunCleanup(ctx context.Context) {
	r.mu.Lock()
	cfg := r.cfg
	current := r.currentFile
	uploader := r.uploader
	r.mu.Unlock()

	if cfg.RetentionDays == 0 {
		return
	}
	cutoff := r.now().AddDate(0, 0, -cfg.RetentionDays)

	if cfg.StorageMode == config.StorageLocal || cfg.StorageMode == config.StorageBoth {
		deleted := cleanupLocalFiles(cfg.Path, current, cutoff)
		r.logCleanup(deleted, "local")
	}
	if uploader != nil && cfg.StorageMode != config.StorageLocal {
		deleted := uploader.cleanupObjects(ctx, cutoff)
		r.logCleanup(deleted, "s3")
	}
}

func (r *Recorder) logCleanup(deleted int, storage string) {
	if deleted == 0 {
		return
	}
	slog.Info("cleanup: deleted recordings", "storage", storage, "count", deleted)
	r.logEvent(eventlog.CleanupCompleted, &eventlog.RecordingDetails{
		FilesDeleted: deleted,
		StorageType:  storage,
	})
}

// cleanupLocalFiles removes recordings in dir that started before cutoff.
func cleanupLocalFiles(dir, current string, cutoff time.Time) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		slog.Warn("cleanup: failed to read local directory", "path", dir, "error", err)
		return 0
	}

	var deleted int
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, filePrefix) {
			continue
		}
		started, ok := util.TimeFromFilename(name, cutoff.Location())
		if !ok || !started.Before(cutoff) {
			continue
		}
		path := filepath.Join(dir, name)
		if path == current {
			continue
		}
		if err := os.Remove(path); err != nil {
			slog.Warn("cleanup: failed to delete local file", "path", path, "error", err)
			continue
		}
		deleted++
	}
	return deleted
}

// cleanupObjects removes uploaded recordings that started before cutoff.
func (u *Uploader) cleanupObjects(ctx context.Context, cutoff time.Time) int {
	ctx, cancel := context.WithTimeoutCause(ctx, 5*time.Minute, errors.New("s3 cleanup timeout"))
	defer cancel()

	var deleted int
	var token *string
	for {
		out, err := u.store.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(u.bucket),
			Prefix:            aws.String(u.prefix + "/"),
			ContinuationToken: token,
		})
		if err != nil {
			slog.Warn("cleanup: failed to list S3 objects", "bucket", u.bucket, "error", err)
			return deleted
		}

		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			name := filepath.Base(key)
			if !strings.HasPrefix(name, filePrefix) {
				continue
			}
			started, ok := util.TimeFromFilename(name, cutoff.Location())
			if !ok || !started.Before(cutoff) {
				continue
			}
			if _, err := u.store.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(u.bucket),
				Key:    obj.Key,
			}); err != nil {
				slog.Warn("cleanup: failed to delete S3 object", "key", key, "error", err)
				continue
			}
			deleted++
		}

		if !aws.ToBool(out.IsTruncated) {
			return deleted
		}
		token = out.NextContinuationToken
	}
}
