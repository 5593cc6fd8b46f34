package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"social-metrics-sync/internal/config"
	"social-metrics-sync/internal/models"
)

// S3Archiver keeps a raw copy of every persisted snapshot in object storage
// for offline reprocessing. Archival is best effort and never fails a fetch.
type S3Archiver struct {
	client *s3.Client
	bucket string
	log    *zap.Logger
}

// NewS3Archiver returns nil when no bucket is configured.
func NewS3Archiver(ctx context.Context, cfg config.Config, log *zap.Logger) (*S3Archiver, error) {
	if cfg.ArchiveS3Bucket == "" {
		return nil, nil
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.ArchiveS3Region),
	}
	if cfg.ArchiveS3Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               cfg.ArchiveS3Endpoint,
					HostnameImmutable: cfg.ArchiveS3PathStyle,
					SigningRegion:     cfg.ArchiveS3Region,
					Source:            aws.EndpointSourceCustom,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ArchiveS3PathStyle
	})
	return &S3Archiver{client: client, bucket: cfg.ArchiveS3Bucket, log: log}, nil
}

// Archive writes the snapshot JSON under snapshots/<ws>/<account>/<day>.json.
func (a *S3Archiver) Archive(ctx context.Context, snap models.MetricsSnapshot) {
	body, err := json.Marshal(snap)
	if err != nil {
		a.log.Error("marshal snapshot for archive", zap.Error(err))
		return
	}
	day, _ := models.DayBounds(snap.StartTime)
	key := fmt.Sprintf("snapshots/%s/%s/%s.json", snap.WorkspaceID, snap.AccountID, day.Format("2006-01-02"))
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		a.log.Warn("snapshot archive failed", zap.String("key", key), zap.Error(err))
	}
}
