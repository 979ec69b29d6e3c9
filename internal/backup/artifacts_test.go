package backup

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"sync-service/internal/database"
	"sync-service/pkg/models"
	"sync-service/utils"
)

// memObjects is an in-memory bucket with the conditional-put semantics of R2.
type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
}

func newMemObjects() *memObjects { return &memObjects{objects: map[string][]byte{}} }

func (m *memObjects) PutIfAbsent(_ context.Context, key string, content []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; ok {
		return utils.ErrObjectExists
	}
	m.objects[key] = append([]byte(nil), content...)
	m.puts++
	return nil
}

func (m *memObjects) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.objects[key]
	if !ok {
		return nil, utils.ErrObjectNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *memObjects) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *memObjects) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func newTestTableStore(t *testing.T) *TableStore {
	t.Helper()
	db, err := database.New(database.Config{
		Driver:       "sqlite",
		DSN:          "file:" + filepath.Join(t.TempDir(), "artifacts.db") + "?_busy_timeout=10000&_journal_mode=WAL",
		MaxOpenConns: 4,
	})
	if err != nil {
		t.Fatalf("database.New() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	provider, ok := db.(database.SQLProvider)
	if !ok {
		t.Fatal("sqlite adapter does not expose its pool")
	}
	s, err := NewTableStore(context.Background(), provider, database.BackendSQLite)
	if err != nil {
		t.Fatalf("NewTableStore() failed: %v", err)
	}
	return s
}

func artifactStores(t *testing.T) map[string]ArtifactStore {
	t.Helper()
	fsStore, err := NewFileStore(filepath.Join(t.TempDir(), "backups"))
	if err != nil {
		t.Fatalf("NewFileStore() failed: %v", err)
	}
	return map[string]ArtifactStore{
		"fs":    fsStore,
		"r2":    NewObjectStore(newMemObjects(), "sync-backups/"),
		"table": newTestTableStore(t),
	}
}

func testMeta(sec int64, status models.BackupStatus) models.BackupArtifact {
	created := time.Unix(sec, 123456789).UTC()
	return models.BackupArtifact{
		Name:      artifactName(created),
		CreatedAt: created,
		Status:    status,
		Records:   2,
	}
}

func TestArtifactStores_PutGet(t *testing.T) {
	for kind, s := range artifactStores(t) {
		t.Run(kind, func(t *testing.T) {
			ctx := context.Background()
			if s.Kind() != kind {
				t.Errorf("Kind() = %q, want %q", s.Kind(), kind)
			}

			meta := testMeta(100, models.BackupStatusComplete)
			body := []byte(`{"version":"1"}`)
			meta.SizeBytes = int64(len(body))

			loc, err := s.Put(ctx, meta, body)
			if err != nil {
				t.Fatalf("Put() failed: %v", err)
			}
			if loc == "" {
				t.Error("Put() returned no location")
			}

			got, contents, err := s.Get(ctx, meta.Name)
			if err != nil {
				t.Fatalf("Get() failed: %v", err)
			}
			if string(contents) != string(body) {
				t.Errorf("contents = %s, want %s", contents, body)
			}
			if got.Name != meta.Name || got.Status != meta.Status || got.Records != 2 || got.SizeBytes != meta.SizeBytes {
				t.Errorf("meta = %+v, want %+v", got, meta)
			}
			if !got.CreatedAt.Equal(meta.CreatedAt) {
				t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, meta.CreatedAt)
			}
		})
	}
}

func TestArtifactStores_WriteOnce(t *testing.T) {
	for kind, s := range artifactStores(t) {
		t.Run(kind, func(t *testing.T) {
			ctx := context.Background()
			meta := testMeta(200, models.BackupStatusComplete)
			if _, err := s.Put(ctx, meta, []byte(`"first"`)); err != nil {
				t.Fatalf("Put() failed: %v", err)
			}
			if _, err := s.Put(ctx, meta, []byte(`"second"`)); !errors.Is(err, ErrArtifactExists) {
				t.Fatalf("second Put() error = %v, want ErrArtifactExists", err)
			}
			_, contents, err := s.Get(ctx, meta.Name)
			if err != nil {
				t.Fatalf("Get() failed: %v", err)
			}
			if string(contents) != `"first"` {
				t.Errorf("contents = %s, artifact was overwritten", contents)
			}
		})
	}
}

func TestArtifactStores_FailedMarker(t *testing.T) {
	for kind, s := range artifactStores(t) {
		t.Run(kind, func(t *testing.T) {
			ctx := context.Background()
			meta := testMeta(300, models.BackupStatusFailed)
			meta.Error = "persist: disk full"
			if _, err := s.Put(ctx, meta, nil); err != nil {
				t.Fatalf("Put(marker) failed: %v", err)
			}
			got, contents, err := s.Get(ctx, meta.Name)
			if err != nil {
				t.Fatalf("Get() failed: %v", err)
			}
			if contents != nil {
				t.Errorf("failed marker has contents %q", contents)
			}
			if got.Status != models.BackupStatusFailed || got.Error != meta.Error {
				t.Errorf("meta = %+v", got)
			}
		})
	}
}

func TestArtifactStores_ListAndDelete(t *testing.T) {
	for kind, s := range artifactStores(t) {
		t.Run(kind, func(t *testing.T) {
			ctx := context.Background()
			a := testMeta(400, models.BackupStatusComplete)
			b := testMeta(401, models.BackupStatusFailed)
			if _, err := s.Put(ctx, a, []byte(`{}`)); err != nil {
				t.Fatalf("Put(a) failed: %v", err)
			}
			if _, err := s.Put(ctx, b, nil); err != nil {
				t.Fatalf("Put(b) failed: %v", err)
			}

			list, err := s.List(ctx)
			if err != nil {
				t.Fatalf("List() failed: %v", err)
			}
			names := map[string]models.BackupStatus{}
			for _, m := range list {
				names[m.Name] = m.Status
			}
			if len(names) != 2 || names[a.Name] != models.BackupStatusComplete || names[b.Name] != models.BackupStatusFailed {
				t.Fatalf("List() = %+v", list)
			}

			if err := s.Delete(ctx, a.Name); err != nil {
				t.Fatalf("Delete() failed: %v", err)
			}
			if _, _, err := s.Get(ctx, a.Name); !errors.Is(err, ErrArtifactNotFound) {
				t.Errorf("Get(deleted) error = %v, want ErrArtifactNotFound", err)
			}
			if err := s.Delete(ctx, a.Name); !errors.Is(err, ErrArtifactNotFound) {
				t.Errorf("second Delete() error = %v, want ErrArtifactNotFound", err)
			}
			list, err = s.List(ctx)
			if err != nil {
				t.Fatalf("List() failed: %v", err)
			}
			if len(list) != 1 || list[0].Name != b.Name {
				t.Errorf("List() after delete = %+v", list)
			}
		})
	}
}

func TestArtifactStores_GetMissing(t *testing.T) {
	for kind, s := range artifactStores(t) {
		t.Run(kind, func(t *testing.T) {
			if _, _, err := s.Get(context.Background(), "backup-20000101T000000.000000000Z"); !errors.Is(err, ErrArtifactNotFound) {
				t.Errorf("Get() error = %v, want ErrArtifactNotFound", err)
			}
		})
	}
}

func TestFileStore_UncommittedContentsNotListed(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore() failed: %v", err)
	}
	meta := testMeta(500, models.BackupStatusComplete)
	if err := s.writeOnce(s.contentsPath(meta.Name), []byte(`{}`)); err != nil {
		t.Fatalf("writeOnce() failed: %v", err)
	}
	list, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("List() = %+v, want nothing without a sidecar", list)
	}
	if _, _, err := s.Get(context.Background(), meta.Name); !errors.Is(err, ErrArtifactNotFound) {
		t.Errorf("Get() error = %v, want ErrArtifactNotFound", err)
	}
}

func TestObjectStore_KeysUnderPrefix(t *testing.T) {
	objects := newMemObjects()
	s := NewObjectStore(objects, "/sync-backups/")
	meta := testMeta(600, models.BackupStatusComplete)
	loc, err := s.Put(context.Background(), meta, []byte(`{}`))
	if err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	if want := "sync-backups/" + meta.Name + ".json"; loc != want {
		t.Errorf("location = %q, want %q", loc, want)
	}
	keys, _ := objects.List(context.Background(), "")
	for _, k := range keys {
		if !strings.HasPrefix(k, "sync-backups/") {
			t.Errorf("key %q outside prefix", k)
		}
	}
	if len(keys) != 2 {
		t.Errorf("keys = %v, want contents and metadata", keys)
	}
}
