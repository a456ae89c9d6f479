package reportstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/h4x3rotab/docker-unpack-bench/report"
)

// Persists suite reports. Implemented by the local file store and the S3 store.
type ReportStore interface {
	Save(ctx context.Context, rep *report.SuiteReport) error

	// Where Save writes, for logging.
	Location() string
}

// New picks a store for output: an s3://bucket/key URL or a local path.
func New(ctx context.Context, output string) (ReportStore, error) {
	if !strings.HasPrefix(output, "s3://") {
		return NewFileStore(output), nil
	}

	bucket, key, err := ParseS3URL(output)
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return NewS3Store(cfg, bucket, key), nil
}

func ParseS3URL(u string) (string, string, error) {
	rest, ok := strings.CutPrefix(u, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 url: %s", u)
	}
	bucket, key, _ := strings.Cut(rest, "/")
	if bucket == "" || key == "" || strings.HasSuffix(key, "/") {
		return "", "", fmt.Errorf("s3 url must name a bucket and an object key: %s", u)
	}
	return bucket, key, nil
}

func encode(rep *report.SuiteReport) ([]byte, error) {
	buf, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}
	return append(buf, '\n'), nil
}
