package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ecoscout/ecoscout-go/internal/errors"
	"github.com/ecoscout/ecoscout-go/internal/model"
)

// JSONBackend stores the ledger as an indented JSON array in one file,
// replaced atomically on every save. Updates hold an advisory lock on a
// sidecar file next to the ledger, shared by every process using the path.
type JSONBackend struct {
	path     string
	lockPath string
}

// NewJSONBackend stores the ledger at path, creating its directory.
func NewJSONBackend(path string) (*JSONBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.New(fmt.Errorf("failed to create ledger directory: %w", err)).
			Component("ledger").
			Category(errors.CategoryFileIO).
			Build()
	}
	return &JSONBackend{path: path, lockPath: path + ".lock"}, nil
}

// Path returns the ledger file location.
func (b *JSONBackend) Path() string { return b.path }

// Load reads and decodes the ledger file.
func (b *JSONBackend) Load(_ context.Context) ([]model.AnalysisRecord, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		category := errors.CategoryFileIO
		if os.IsNotExist(err) {
			category = errors.CategoryNotFound
		}
		return nil, errors.New(err).
			Component("ledger").
			Category(category).
			Build()
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return []model.AnalysisRecord{}, nil
	}

	var records []model.AnalysisRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, errors.New(fmt.Errorf("corrupt ledger file: %w", err)).
			Component("ledger").
			Category(errors.CategoryLedger).
			FileContext(b.path, int64(len(data))).
			Build()
	}
	if records == nil {
		records = []model.AnalysisRecord{}
	}
	return records, nil
}

// Save writes records to a temporary file in the same directory and renames
// it over the ledger, so readers see either the old or the new ledger.
func (b *JSONBackend) Save(_ context.Context, records []model.AnalysisRecord) error {
	if records == nil {
		records = []model.AnalysisRecord{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode ledger: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(b.path), ".history-*.json.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary ledger file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temporary ledger file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync temporary ledger file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temporary ledger file: %w", err)
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		return fmt.Errorf("failed to replace ledger file: %w", err)
	}
	return nil
}

// Update implements Backend.
func (b *JSONBackend) Update(ctx context.Context, fn UpdateFunc) error {
	unlock, err := lockFile(ctx, b.lockPath)
	if err != nil {
		return errors.New(fmt.Errorf("failed to lock ledger: %w", err)).
			Component("ledger").
			Category(errors.CategoryFileIO).
			Context("lock_file", b.lockPath).
			Build()
	}
	defer unlock()

	records, loadErr := b.Load(ctx)
	updated, save, err := fn(records, loadErr)
	if err != nil || !save {
		return err
	}
	return b.Save(ctx, updated)
}

// Close is a no-op; the file is only open during Load and Save.
func (b *JSONBackend) Close() error { return nil }
