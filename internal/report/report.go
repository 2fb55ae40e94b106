// Package report renders the markdown buy and sell reports.
package report

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/mkkang/swingbot/internal/common"
	"github.com/mkkang/swingbot/internal/storage"
)

// Writer renders reports into a directory, never overwriting an
// existing file.
type Writer struct {
	dir    string
	logger *common.Logger
	now    func() time.Time
}

// Option configures a Writer.
type Option func(*Writer)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) { w.now = now }
}

// NewWriter returns a report writer rooted at dir.
func NewWriter(dir string, logger *common.Logger, opts ...Option) *Writer {
	w := &Writer{dir: dir, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// claimPath creates and returns the first unused report path for a
// date stem: stem.md, then stem-1.md, stem-2.md and so on. O_EXCL makes
// the claim exclusive, so concurrent writers never pick the same name.
func (w *Writer) claimPath(stem string) (string, error) {
	for i := 0; ; i++ {
		name := stem + ".md"
		if i > 0 {
			name = fmt.Sprintf("%s-%d.md", stem, i)
		}
		path := filepath.Join(w.dir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to claim report path %s: %w", path, err)
		}
		f.Close()
		return path, nil
	}
}

func (w *Writer) write(stem, content string) (string, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory %s: %w", w.dir, err)
	}
	path, err := w.claimPath(stem)
	if err != nil {
		return "", err
	}
	if err := storage.WriteFileAtomic(path, []byte(content)); err != nil {
		return "", err
	}
	return path, nil
}

// timestampLabel resolves the run date, the run time, and a timezone
// label for the report header. Falls back to the UTC offset when the
// zone has no abbreviation.
func timestampLabel(now time.Time) (string, string, string) {
	date := now.Format("2006-01-02")
	clock := now.Format("2006-01-02 15:04")
	label := now.Format("MST")
	if label == "" || (label[0] >= '0' && label[0] <= '9') || label[0] == '+' || label[0] == '-' {
		label = "UTC" + now.Format("-07:00")
	}
	return date, clock, label
}
