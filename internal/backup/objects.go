package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"path"
	"strings"

	"sync-service/pkg/models"
	"sync-service/utils"
)

// ObjectClient is the subset of utils.R2Client the object store needs.
type ObjectClient interface {
	PutIfAbsent(ctx context.Context, key string, content []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
}

// ObjectStore keeps artifacts in an S3 compatible bucket using the same
// contents + metadata sidecar layout as FileStore.
type ObjectStore struct {
	client ObjectClient
	prefix string
}

func NewObjectStore(client ObjectClient, prefix string) *ObjectStore {
	return &ObjectStore{client: client, prefix: strings.Trim(prefix, "/")}
}

func (s *ObjectStore) Kind() string { return "r2" }

func (s *ObjectStore) key(file string) string {
	if s.prefix == "" {
		return file
	}
	return path.Join(s.prefix, file)
}

func (s *ObjectStore) Put(ctx context.Context, meta models.BackupArtifact, contents []byte) (string, error) {
	if contents != nil {
		meta.Location = s.key(meta.Name + ".json")
		if err := s.client.PutIfAbsent(ctx, meta.Location, contents, "application/json"); err != nil {
			return "", mapObjectErr(err)
		}
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	if err := s.client.PutIfAbsent(ctx, s.key(meta.Name+metaSuffix), raw, "application/json"); err != nil {
		return "", mapObjectErr(err)
	}
	return meta.Location, nil
}

func (s *ObjectStore) List(ctx context.Context) ([]models.BackupArtifact, error) {
	listPrefix := ""
	if s.prefix != "" {
		listPrefix = s.prefix + "/"
	}
	keys, err := s.client.List(ctx, listPrefix)
	if err != nil {
		return nil, err
	}
	var out []models.BackupArtifact
	for _, k := range keys {
		if !strings.HasSuffix(k, metaSuffix) {
			continue
		}
		raw, err := s.client.Get(ctx, k)
		if err != nil {
			log.Printf("⚠️ [BACKUP] skipping unreadable metadata %s: %v", k, err)
			continue
		}
		var meta models.BackupArtifact
		if err := json.Unmarshal(raw, &meta); err != nil {
			log.Printf("⚠️ [BACKUP] skipping unreadable metadata %s: %v", k, err)
			continue
		}
		out = append(out, meta)
	}
	return out, nil
}

func (s *ObjectStore) Get(ctx context.Context, name string) (*models.BackupArtifact, []byte, error) {
	raw, err := s.client.Get(ctx, s.key(name+metaSuffix))
	if err != nil {
		return nil, nil, mapObjectErr(err)
	}
	var meta models.BackupArtifact
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, nil, fmt.Errorf("decode metadata of %s: %w", name, err)
	}
	if meta.Status == models.BackupStatusFailed {
		return &meta, nil, nil
	}
	contents, err := s.client.Get(ctx, s.key(name+".json"))
	if err != nil {
		return &meta, nil, fmt.Errorf("read contents of %s: %w", name, err)
	}
	return &meta, contents, nil
}

func (s *ObjectStore) Delete(ctx context.Context, name string) error {
	if _, err := s.client.Get(ctx, s.key(name+metaSuffix)); err != nil {
		return mapObjectErr(err)
	}
	if err := s.client.Delete(ctx, s.key(name+metaSuffix)); err != nil {
		return err
	}
	return s.client.Delete(ctx, s.key(name+".json"))
}

func mapObjectErr(err error) error {
	switch {
	case errors.Is(err, utils.ErrObjectExists):
		return ErrArtifactExists
	case errors.Is(err, utils.ErrObjectNotFound):
		return ErrArtifactNotFound
	}
	return err
}
