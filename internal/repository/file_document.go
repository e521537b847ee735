package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"dailypair/internal/models"
	"dailypair/internal/observability"
)

type fileDocumentRepository struct {
	dir    string
	logger *observability.StoreLogger
}

// NewFileDocumentRepository stores each document as <dir>/<name>.json.
func NewFileDocumentRepository(dir string) (DocumentRepository, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return &fileDocumentRepository{dir: dir, logger: observability.NewStoreLogger("file")}, nil
}

func (r *fileDocumentRepository) path(name string) string {
	return filepath.Join(r.dir, name+".json")
}

func (r *fileDocumentRepository) Raw(ctx context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(r.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		r.logger.LogError(ctx, err, name, "read")
		return nil, models.NewInternalError(err)
	}
	return data, nil
}

func (r *fileDocumentRepository) Load(ctx context.Context, name string, dst any) (bool, error) {
	data, err := r.Raw(ctx, name)
	if err != nil {
		return false, err
	}
	if data == nil {
		r.logger.LogLoad(ctx, name, false)
		return false, nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		r.logger.LogError(ctx, err, name, "decode")
		return false, models.NewInternalError(fmt.Errorf("decode %s: %w", name, err))
	}
	r.logger.LogLoad(ctx, name, true)
	return true, nil
}

// Save writes to a temp file in the same directory and renames it over the target.
func (r *fileDocumentRepository) Save(ctx context.Context, name string, src any) error {
	data, err := json.MarshalIndent(src, "", "  ")
	if err != nil {
		r.logger.LogError(ctx, err, name, "encode")
		return models.NewInternalError(err)
	}

	if err := r.writeAtomic(name, data); err != nil {
		r.logger.LogError(ctx, err, name, "save")
		return models.NewInternalError(err)
	}
	r.logger.LogSave(ctx, name, len(data))
	return nil
}

func (r *fileDocumentRepository) writeAtomic(name string, data []byte) error {
	tmp, err := os.CreateTemp(r.dir, name+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		// no-op after a successful rename
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, r.path(name))
}
