// Package spool hands merged print jobs to the print pipeline.
package spool

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/kevin07696/payment-batch/internal/domain"
	"github.com/kevin07696/payment-batch/internal/domain/ports"
	"golang.org/x/time/rate"
)

// FormFeed separates pages in a spool file
const FormFeed = '\f'

// Config configures the file spooler
type Config struct {
	Dir string
	// PagesPerSecond paces writes for printers that cannot buffer a whole job; zero disables pacing
	PagesPerSecond float64
	Burst          int
}

// FileSpooler writes each job to <Dir>/<runID>.prn, pages separated by form feeds
type FileSpooler struct {
	limiter *rate.Limiter
	logger  ports.Logger
	dir     string
}

var _ ports.PrintSpooler = (*FileSpooler)(nil)

// NewFileSpooler creates the spool directory if needed
func NewFileSpooler(cfg Config, logger ports.Logger) (*FileSpooler, error) {
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create spool directory: %w", err)
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.PagesPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.PagesPerSecond), burst)
	}

	return &FileSpooler{limiter: limiter, logger: logger, dir: cfg.Dir}, nil
}

// Spool writes the job and returns the spool file path. A partial file is removed on failure.
func (s *FileSpooler) Spool(ctx context.Context, runID uuid.UUID, job *domain.PrintJob) (path string, err error) {
	if job.PageCount() == 0 {
		return "", fmt.Errorf("print job for run %s has no pages", runID)
	}

	path = filepath.Join(s.dir, runID.String()+".prn")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create spool file: %w", err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(path)
		}
	}()

	w := bufio.NewWriter(f)
	for i, page := range job.Pages {
		if err := s.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("spool page %d: %w", i+1, err)
		}
		if i > 0 {
			if err := w.WriteByte(FormFeed); err != nil {
				return "", fmt.Errorf("write spool file: %w", err)
			}
		}
		if _, err := w.Write(page.Content); err != nil {
			return "", fmt.Errorf("write spool file: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush spool file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close spool file: %w", err)
	}

	s.logger.Info("print job spooled",
		ports.String("run_id", runID.String()),
		ports.String("path", path),
		ports.Int("pages", job.PageCount()))
	return path, nil
}
