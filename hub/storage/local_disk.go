package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// LocalDiskStore keeps objects on the local filesystem. Used for
// single-node deployments and tests.
type LocalDiskStore struct {
	basepath string
}

func NewLocalDisk(basepath string) *LocalDiskStore {
	slog.Info("creating new local disk object store", "basepath", basepath)
	return &LocalDiskStore{basepath: basepath}
}

func (s *LocalDiskStore) fullpath(key string) string {
	return filepath.Join(s.basepath, key)
}

func (s *LocalDiskStore) Put(ctx context.Context, key string, data io.Reader, size int64, contentType string) error {
	fullpath := s.fullpath(key)

	err := os.MkdirAll(filepath.Dir(fullpath), 0777)
	if err != nil {
		slog.Error("error creating parent directory", "path", fullpath, "error", err)
		return fmt.Errorf("error creating parent directory for %v: %w", key, err)
	}

	file, err := os.OpenFile(fullpath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		slog.Error("error opening file for writing", "path", fullpath, "error", err)
		return fmt.Errorf("error opening object %v: %w", key, err)
	}
	defer file.Close()

	_, err = io.Copy(file, data)
	if err != nil {
		slog.Error("error writing to file", "path", fullpath, "error", err)
		return fmt.Errorf("error writing object %v: %w", key, err)
	}

	return nil
}

func (s *LocalDiskStore) Delete(ctx context.Context, key string) error {
	fullpath := s.fullpath(key)
	err := os.RemoveAll(fullpath)
	if err != nil {
		slog.Error("error deleting object", "path", fullpath, "error", err)
		return fmt.Errorf("error deleting object %v: %w", key, err)
	}
	return nil
}

func (s *LocalDiskStore) Presign(ctx context.Context, key string, expiry time.Duration) (string, error) {
	fullpath := s.fullpath(key)
	if _, err := os.Stat(fullpath); err != nil {
		return "", fmt.Errorf("error locating object %v: %w", key, err)
	}
	return "file://" + fullpath, nil
}
