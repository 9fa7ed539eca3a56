// Package store persists security events as JSON lines.
package store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"throttleguard/internal/securitylog/models"
	dErrors "throttleguard/pkg/domain-errors"
)

const readBufferSize = 64 * 1024

// FileStore appends one JSON object per line to a file, newest at the end.
// A single mutex serialises appends with prune rewrites.
type FileStore struct {
	path string
	mu   sync.Mutex
	file *os.File
}

// NewFileStore creates the parent directory if needed. The file itself is
// opened lazily on the first append.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, dErrors.New(dErrors.CodeConfiguration, "security log path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeConfiguration, "create security log directory")
	}
	return &FileStore{path: path}, nil
}

func (s *FileStore) Path() string {
	return s.path
}

// Append writes event as a single line.
func (s *FileStore) Append(_ context.Context, event models.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeLoggingFailure, "encode security event")
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeLoggingFailure, "open security log")
		}
		s.file = f
	}
	if _, err := s.file.Write(data); err != nil {
		// drop the handle so the next append reopens (e.g. after the file was rotated away)
		_ = s.file.Close()
		s.file = nil
		return dErrors.Wrap(err, dErrors.CodeLoggingFailure, "write security log")
	}
	return nil
}

// ReadSince returns events with Timestamp >= since in file order.
// Malformed lines are skipped. A missing file is an empty log.
func (s *FileStore) ReadSince(ctx context.Context, since time.Time) ([]models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var events []models.Event
	err := s.scan(ctx, func(ev models.Event, _ []byte) {
		if !ev.Timestamp.Before(since) {
			events = append(events, ev)
		}
	}, nil)
	if err != nil {
		return nil, err
	}
	return events, nil
}

// Prune rewrites the log keeping only events with Timestamp >= cutoff.
// Malformed lines are dropped and counted as removed. The rewrite goes through
// a temp file and rename so a crash never leaves a half-written log.
func (s *FileStore) Prune(ctx context.Context, cutoff time.Time) (models.PruneResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		result models.PruneResult
		kept   bytes.Buffer
	)
	err := s.scan(ctx, func(ev models.Event, line []byte) {
		if ev.Timestamp.Before(cutoff) {
			result.RemovedCount++
			return
		}
		result.RemainingCount++
		kept.Write(line)
		kept.WriteByte('\n')
	}, func() {
		result.RemovedCount++
	})
	if err != nil {
		return models.PruneResult{}, err
	}
	if result.RemovedCount == 0 {
		return result, nil
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, kept.Bytes(), 0o640); err != nil {
		return models.PruneResult{}, dErrors.Wrap(err, dErrors.CodeLoggingFailure, "write pruned security log")
	}
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return models.PruneResult{}, dErrors.Wrap(err, dErrors.CodeLoggingFailure, "replace security log")
	}
	return result, nil
}

// Close releases the append handle.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// scan must be called with s.mu held.
func (s *FileStore) scan(ctx context.Context, onEvent func(models.Event, []byte), onMalformed func()) error {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return dErrors.Wrap(err, dErrors.CodeLoggingFailure, "open security log")
	}
	defer f.Close()

	reader := bufio.NewReaderSize(f, readBufferSize)
	for {
		if err := ctx.Err(); err != nil {
			return dErrors.Wrap(err, dErrors.CodeTimeout, "security log scan cancelled")
		}
		line, readErr := reader.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			var ev models.Event
			if err := json.Unmarshal(line, &ev); err == nil {
				onEvent(ev, line)
			} else if onMalformed != nil {
				onMalformed()
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			return dErrors.Wrap(readErr, dErrors.CodeLoggingFailure, "read security log")
		}
	}
}
