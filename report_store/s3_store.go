package reportstore

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/h4x3rotab/docker-unpack-bench/report"
)

type uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

type s3Store struct {
	uploader uploader
	bucket   string
	key      string
}

func NewS3Store(cfg aws.Config, bucket, key string) ReportStore {
	return &s3Store{
		uploader: manager.NewUploader(s3.NewFromConfig(cfg)),
		bucket:   bucket,
		key:      key,
	}
}

func (s *s3Store) Location() string {
	return "s3://" + s.bucket + "/" + s.key
}

func (s *s3Store) Save(ctx context.Context, rep *report.SuiteReport) error {
	buf, err := encode(rep)
	if err != nil {
		return err
	}

	out, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key),
		Body:        bytes.NewReader(buf),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload report to %s: %w", s.Location(), err)
	}
	slog.Debug("uploaded report", slog.String("location", out.Location))
	return nil
}
