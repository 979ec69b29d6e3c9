package backup

import (
	"context"
	"errors"
	"fmt"

	"sync-service/pkg/models"
)

var (
	// ErrArtifactExists is returned by ArtifactStore.Put for a name already taken.
	ErrArtifactExists   = errors.New("backup: artifact already exists")
	ErrArtifactNotFound = errors.New("backup: artifact not found")
	// ErrNotRestorable is returned when restoring a failed or partial artifact.
	ErrNotRestorable = errors.New("backup: artifact is not restorable")
	ErrInvalidName   = errors.New("backup: invalid artifact name")
)

// BackupIncompleteError reports a backup that could not be completed. The
// artifact, if any was written, is marked failed.
type BackupIncompleteError struct {
	Name  string
	Stage string // snapshot, serialize or persist
	Err   error
}

func (e *BackupIncompleteError) Error() string {
	return fmt.Sprintf("backup %s incomplete at %s: %v", e.Name, e.Stage, e.Err)
}

func (e *BackupIncompleteError) Unwrap() error { return e.Err }

// ArtifactStore persists write-once backup artifacts. Metadata can be listed
// without reading contents.
type ArtifactStore interface {
	// Put stores meta and contents under meta.Name and returns where it went.
	// contents is nil for failed markers. An existing name yields ErrArtifactExists.
	Put(ctx context.Context, meta models.BackupArtifact, contents []byte) (string, error)
	List(ctx context.Context) ([]models.BackupArtifact, error)
	Get(ctx context.Context, name string) (*models.BackupArtifact, []byte, error)
	Delete(ctx context.Context, name string) error
	Kind() string
}
