// Package reliability holds the maintenance machinery that keeps the
// platform healthy over time: task history archival to object storage and
// periodic database upkeep, both run as scheduled jobs.
package reliability

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/fulcrumtrading/fulcrum/internal/config"
	"github.com/fulcrumtrading/fulcrum/internal/tasks"
)

// TaskArchiveStore is the slice of the task repository the archiver needs.
type TaskArchiveStore interface {
	GetTerminalBefore(cutoff time.Time) ([]*tasks.Task, error)
	DeleteTerminalBefore(cutoff time.Time) (int64, error)
}

// archivedTask is the export shape of one task in an archive object.
type archivedTask struct {
	ID           int64          `json:"id"`
	Name         string         `json:"name"`
	Type         string         `json:"type"`
	Priority     int            `json:"priority"`
	Status       string         `json:"status"`
	RetryCount   int            `json:"retry_count"`
	MaxRetries   int            `json:"max_retries"`
	Params       map[string]any `json:"params,omitempty"`
	Result       map[string]any `json:"result,omitempty"`
	ErrorMessage *string        `json:"error_message,omitempty"`
	CreatedBy    string         `json:"created_by"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// ArchiveService exports terminal tasks past their retention window to
// S3-compatible object storage and purges them from the database.
type ArchiveService struct {
	store         TaskArchiveStore
	uploader      *manager.Uploader
	bucket        string
	retentionDays int
	log           zerolog.Logger
}

// NewArchiveService creates an archive service against the configured
// S3-compatible endpoint.
func NewArchiveService(ctx context.Context, cfg *config.ArchiveConfig, store TaskArchiveStore, log zerolog.Logger) (*ArchiveService, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("auto"),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load object storage config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = &cfg.Endpoint
		}
		o.UsePathStyle = true
	})

	return &ArchiveService{
		store:         store,
		uploader:      manager.NewUploader(client),
		bucket:        cfg.Bucket,
		retentionDays: cfg.RetentionDays,
		log:           log.With().Str("service", "archive").Logger(),
	}, nil
}

// Archive exports terminal tasks older than the retention window as one
// gzip-compressed JSON object, then deletes them. Nothing is deleted unless
// the upload succeeded.
func (s *ArchiveService) Archive(ctx context.Context) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.retentionDays)

	expired, err := s.store.GetTerminalBefore(cutoff)
	if err != nil {
		return fmt.Errorf("failed to load expired tasks: %w", err)
	}
	if len(expired) == 0 {
		s.log.Debug().Time("cutoff", cutoff).Msg("No tasks past retention")
		return nil
	}

	body, err := s.encode(expired)
	if err != nil {
		return err
	}

	key := fmt.Sprintf("task-archive/%s/tasks-%s.json.gz",
		cutoff.Format("2006"), time.Now().UTC().Format("2006-01-02-150405"))

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		return fmt.Errorf("failed to upload archive %s: %w", key, err)
	}

	deleted, err := s.store.DeleteTerminalBefore(cutoff)
	if err != nil {
		return fmt.Errorf("archive %s uploaded but purge failed: %w", key, err)
	}

	s.log.Info().
		Str("key", key).
		Int("archived", len(expired)).
		Int64("purged", deleted).
		Int("bytes", len(body)).
		Msg("Task history archived")
	return nil
}

func (s *ArchiveService) encode(expired []*tasks.Task) ([]byte, error) {
	export := make([]archivedTask, 0, len(expired))
	for _, t := range expired {
		export = append(export, archivedTask{
			ID:           t.ID,
			Name:         t.Name,
			Type:         string(t.Type),
			Priority:     t.Priority,
			Status:       string(t.Status),
			RetryCount:   t.RetryCount,
			MaxRetries:   t.MaxRetries,
			Params:       t.Params,
			Result:       t.Result,
			ErrorMessage: t.ErrorMessage,
			CreatedBy:    t.CreatedBy,
			StartedAt:    t.StartedAt,
			CompletedAt:  t.CompletedAt,
			CreatedAt:    t.CreatedAt,
		})
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if err := json.NewEncoder(gz).Encode(export); err != nil {
		return nil, fmt.Errorf("failed to encode archive: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress archive: %w", err)
	}
	return buf.Bytes(), nil
}

// ArchiveJob adapts the archive service into a scheduled job.
type ArchiveJob struct {
	service *ArchiveService
}

// NewArchiveJob creates the scheduled archive job.
func NewArchiveJob(service *ArchiveService) *ArchiveJob {
	return &ArchiveJob{service: service}
}

func (j *ArchiveJob) Name() string { return "task_history_archive" }

func (j *ArchiveJob) Run(ctx context.Context) error {
	return j.service.Archive(ctx)
}
