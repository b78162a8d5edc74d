package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/WessleyAI/wessley-health/engine/domain"
	"github.com/WessleyAI/wessley-health/pkg/fsx"
)

// FileRecords keeps every record in one JSON document keyed by user id.
type FileRecords struct {
	mu   sync.Mutex
	path string
}

var _ Records = (*FileRecords)(nil)

// NewFileRecords creates a file-backed Records.
func NewFileRecords(path string) *FileRecords {
	return &FileRecords{path: path}
}

func (f *FileRecords) load() (map[string]domain.ExplanationRecord, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]domain.ExplanationRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("records: read %s: %w", f.path, err)
	}
	all := map[string]domain.ExplanationRecord{}
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("records: decode %s: %w", f.path, err)
	}
	return all, nil
}

// Get returns the record stored under key.
func (f *FileRecords) Get(_ context.Context, key string) (domain.ExplanationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all, err := f.load()
	if err != nil {
		return domain.ExplanationRecord{}, err
	}
	rec, ok := all[key]
	if !ok {
		return domain.ExplanationRecord{}, fmt.Errorf("records: %s: %w", key, domain.ErrNotFound)
	}
	return rec, nil
}

// Put inserts or replaces rec under its user id.
func (f *FileRecords) Put(_ context.Context, rec domain.ExplanationRecord) error {
	if rec.UserID == "" {
		return domain.NewValidationError("user_id", "", domain.ErrRequired)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	all, err := f.load()
	if err != nil {
		return err
	}
	all[rec.UserID] = rec
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("records: encode: %w", err)
	}
	return fsx.WriteFile(f.path, data, 0o644)
}
