// Package report delivers run summaries to their configured destinations.
//
// Sinks accept any JSON-serializable payload so the package stays free of
// pipeline types.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Sink receives one encoded run summary.
type Sink interface {
	Send(ctx context.Context, payload any) error
}

// FileSink writes the payload as indented JSON to Path.
//
// The file is written to a temporary sibling and renamed into place, so
// readers never observe a partially written summary.
type FileSink struct {
	Path string
}

// Send implements Sink.
func (s FileSink) Send(ctx context.Context, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("report: encode: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.Path)+".*")
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("report: write %s: %w", s.Path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("report: write %s: %w", s.Path, err)
	}
	if err := os.Rename(tmp.Name(), s.Path); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	return nil
}

// Multi fans a payload out to every sink. All sinks are attempted; their
// errors are joined.
type Multi []Sink

// Send implements Sink.
func (m Multi) Send(ctx context.Context, payload any) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(ctx, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
