// pkg/aws/s3.go
package aws

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"go.uber.org/zap"
)

// S3Archiver keeps envelopes that failed processing so they can be replayed.
type S3Archiver struct {
	uploader   *s3manager.Uploader
	bucketName string
	logger     *zap.Logger
}

func NewS3Archiver(sess *session.Session, bucketName string, logger *zap.Logger) *S3Archiver {
	return &S3Archiver{
		uploader:   s3manager.NewUploader(sess),
		bucketName: bucketName,
		logger:     logger,
	}
}

// ArchiveKey lays failed envelopes out by day: failed/2006/01/02/<id>.json
func ArchiveKey(now time.Time, id string) string {
	return path.Join("failed", now.UTC().Format("2006/01/02"), id+".json")
}

func (s *S3Archiver) Archive(ctx context.Context, id string, body []byte) error {
	key := ArchiveKey(time.Now(), id)

	result, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}

	s.logger.Info("failed envelope archived", zap.String("location", result.Location))
	return nil
}
