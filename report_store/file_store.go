package reportstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/h4x3rotab/docker-unpack-bench/report"
	"github.com/h4x3rotab/docker-unpack-bench/util"
)

type fileStore struct {
	path string
}

func NewFileStore(path string) ReportStore {
	return &fileStore{path: path}
}

func (s *fileStore) Location() string {
	return s.path
}

// Save writes through a temporary file in the same directory so a crash never leaves a truncated report.
func (s *fileStore) Save(ctx context.Context, rep *report.SuiteReport) error {
	buf, err := encode(rep)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	err = os.MkdirAll(dir, 0o755)
	if err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}

	tmp := filepath.Join(dir, "."+filepath.Base(s.path)+"."+util.Randstring(8)+".tmp")
	err = os.WriteFile(tmp, buf, 0o644)
	if err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	err = os.Rename(tmp, s.path)
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move report into place: %w", err)
	}
	return nil
}
