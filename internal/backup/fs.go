package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"sync-service/pkg/models"
)

const metaSuffix = ".meta.json"

// FileStore keeps each artifact as <name>.json plus a <name>.meta.json
// sidecar. The sidecar is written last, so an artifact without one was never
// committed and is not listed.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Kind() string { return "fs" }

func (s *FileStore) contentsPath(name string) string { return filepath.Join(s.dir, name+".json") }
func (s *FileStore) metaPath(name string) string     { return filepath.Join(s.dir, name+metaSuffix) }

func (s *FileStore) Put(_ context.Context, meta models.BackupArtifact, contents []byte) (string, error) {
	if _, err := os.Stat(s.metaPath(meta.Name)); err == nil {
		return "", ErrArtifactExists
	}

	if contents != nil {
		meta.Location = s.contentsPath(meta.Name)
		if err := s.writeOnce(s.contentsPath(meta.Name), contents); err != nil {
			return "", err
		}
	}

	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", err
	}
	if err := s.writeOnce(s.metaPath(meta.Name), raw); err != nil {
		return "", err
	}
	return meta.Location, nil
}

// writeOnce writes to a temp file first, then links it into place. The link
// fails if the target exists, so nothing is ever overwritten.
func (s *FileStore) writeOnce(path string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Link(tmpPath, path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return ErrArtifactExists
		}
		return err
	}
	return nil
}

func (s *FileStore) List(_ context.Context) ([]models.BackupArtifact, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var out []models.BackupArtifact
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), metaSuffix) {
			continue
		}
		meta, err := s.readMeta(strings.TrimSuffix(e.Name(), metaSuffix))
		if err != nil {
			log.Printf("⚠️ [BACKUP] skipping unreadable metadata %s: %v", e.Name(), err)
			continue
		}
		out = append(out, *meta)
	}
	return out, nil
}

func (s *FileStore) readMeta(name string) (*models.BackupArtifact, error) {
	raw, err := os.ReadFile(s.metaPath(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrArtifactNotFound
	}
	if err != nil {
		return nil, err
	}
	var meta models.BackupArtifact
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (s *FileStore) Get(_ context.Context, name string) (*models.BackupArtifact, []byte, error) {
	meta, err := s.readMeta(name)
	if err != nil {
		return nil, nil, err
	}
	if meta.Status == models.BackupStatusFailed {
		return meta, nil, nil
	}
	contents, err := os.ReadFile(s.contentsPath(name))
	if err != nil {
		return meta, nil, fmt.Errorf("read contents of %s: %w", name, err)
	}
	return meta, contents, nil
}

// Delete removes the sidecar first so a half deleted artifact is never listed.
func (s *FileStore) Delete(_ context.Context, name string) error {
	if err := os.Remove(s.metaPath(name)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrArtifactNotFound
		}
		return err
	}
	if err := os.Remove(s.contentsPath(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
