package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"sync-service/internal/backup"
	"sync-service/internal/database"
	"sync-service/internal/store"
	"sync-service/internal/sync"
	"sync-service/pkg/models"
)

// newTestService wires the real components over a temporary SQLite file. The
// sync engine takes a backup after every write.
func newTestService(t *testing.T, source sync.Source, tables []string) *SyncService {
	t.Helper()
	db, err := database.New(database.Config{
		Driver:       "sqlite",
		DSN:          "file:" + filepath.Join(t.TempDir(), "svc.db") + "?_busy_timeout=10000&_journal_mode=WAL",
		MaxOpenConns: 8,
	})
	if err != nil {
		t.Fatalf("database.New() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	st := store.New(db)
	if err := st.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema() failed: %v", err)
	}
	artifacts, err := backup.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() failed: %v", err)
	}
	backups := backup.NewEngine(st, st, artifacts, backup.Options{IncludeData: true})
	syncer := sync.NewEngine(st, st, sync.Options{AfterWrite: BackupHook(backups, "post")})
	return NewSyncService(db, st, syncer, backups, source, tables)
}

type staticSource map[string][]models.Row

func (s staticSource) Fetch(_ context.Context, table string) (*sync.SourceData, error) {
	rows, ok := s[table]
	if !ok {
		return nil, errors.New("unknown table")
	}
	return &sync.SourceData{TableName: table, Rows: rows}, nil
}

func TestPushSync_BacksUpAfterWrite(t *testing.T) {
	svc := newTestService(t, nil, nil)
	ctx := context.Background()

	data := &sync.SourceData{TableName: "orders", Rows: []models.Row{{"id": 1.0}, {"id": 2.0}}}
	res, err := svc.PushSync(ctx, data)
	if err != nil {
		t.Fatalf("PushSync() failed: %v", err)
	}
	if res.State != sync.StateSynced {
		t.Errorf("State = %s, want %s", res.State, sync.StateSynced)
	}
	if res, _ = svc.PushSync(ctx, data); res.State != sync.StateSkipped {
		t.Errorf("second State = %s, want %s", res.State, sync.StateSkipped)
	}

	rec, err := svc.GetSyncConfig(ctx, "orders")
	if err != nil {
		t.Fatalf("GetSyncConfig() failed: %v", err)
	}
	if rec.LastStatus != models.SyncStatusSkipped || rec.LastRowCount != 2 {
		t.Errorf("record = %+v", rec)
	}

	list, err := svc.ListBackups(ctx)
	if err != nil {
		t.Fatalf("ListBackups() failed: %v", err)
	}
	if len(list) != 1 || list[0].Records != 1 || list[0].Tables != 1 {
		t.Errorf("ListBackups() = %+v, want one backup from the write", list)
	}
	if svc.Backend() != database.BackendSQLite || svc.BackupStore() != "fs" {
		t.Errorf("Backend() = %s, BackupStore() = %s", svc.Backend(), svc.BackupStore())
	}
}

func TestRunScheduledSync(t *testing.T) {
	if _, err := newTestService(t, nil, nil).RunScheduledSync(context.Background()); !errors.Is(err, ErrNoSource) {
		t.Errorf("RunScheduledSync() without source error = %v, want ErrNoSource", err)
	}

	src := staticSource{
		"orders":    {{"id": 1.0}},
		"customers": {{"id": 1.0}, {"id": 2.0}},
	}
	svc := newTestService(t, src, []string{"orders", "customers"})
	results, err := svc.RunScheduledSync(context.Background())
	if err != nil {
		t.Fatalf("RunScheduledSync() failed: %v", err)
	}
	if len(results) != 2 || results["customers"].Record.LastRowCount != 2 {
		t.Errorf("results = %+v", results)
	}

	all, err := svc.ListSyncConfigs(context.Background())
	if err != nil {
		t.Fatalf("ListSyncConfigs() failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("ListSyncConfigs() = %d records, want 2", len(all))
	}
	if err := svc.DeleteSyncConfig(context.Background(), "orders"); err != nil {
		t.Fatalf("DeleteSyncConfig() failed: %v", err)
	}
	if _, err := svc.GetSyncConfig(context.Background(), "orders"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetSyncConfig(deleted) error = %v, want ErrNotFound", err)
	}
}
