package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"sync-service/internal/backup"
	"sync-service/internal/database"
	"sync-service/internal/store"
	"sync-service/internal/sync"
	"sync-service/pkg/models"
)

// ErrNoSource is returned by RunScheduledSync when no upstream source or no
// table list is configured.
var ErrNoSource = errors.New("no sync source configured")

// SyncService is the facade the HTTP handlers and the scheduler talk to.
type SyncService struct {
	db      database.Adapter
	store   *store.Store
	syncer  *sync.Engine
	backups *backup.Engine

	source sync.Source
	tables []string
}

func NewSyncService(db database.Adapter, st *store.Store, syncer *sync.Engine, backups *backup.Engine, source sync.Source, tables []string) *SyncService {
	return &SyncService{
		db:      db,
		store:   st,
		syncer:  syncer,
		backups: backups,
		source:  source,
		tables:  tables,
	}
}

func (s *SyncService) Backend() database.Backend { return s.db.Backend() }

func (s *SyncService) BackupStore() string { return s.backups.StoreKind() }

// --- Sync config ---
func (s *SyncService) GetSyncConfig(ctx context.Context, tableName string) (*models.SyncConfigRecord, error) {
	return s.store.Get(ctx, tableName)
}

func (s *SyncService) ListSyncConfigs(ctx context.Context) ([]models.SyncConfigRecord, error) {
	return s.store.List(ctx)
}

func (s *SyncService) DeleteSyncConfig(ctx context.Context, tableName string) error {
	return s.store.Delete(ctx, tableName)
}

// --- Sync cycles ---

// PushSync runs one cycle on rows pushed by a caller.
func (s *SyncService) PushSync(ctx context.Context, data *sync.SourceData) (*sync.Result, error) {
	return s.syncer.Sync(ctx, data)
}

// RunScheduledSync pulls every configured table from the upstream source.
func (s *SyncService) RunScheduledSync(ctx context.Context) (map[string]*sync.Result, error) {
	if s.source == nil || len(s.tables) == 0 {
		return nil, ErrNoSource
	}
	log.Printf("🔄 [SYNC] scheduled run over %d tables", len(s.tables))
	return s.syncer.SyncAll(ctx, s.source, s.tables)
}

// --- Backups ---
func (s *SyncService) PerformBackup(ctx context.Context) (*models.BackupArtifact, error) {
	return s.backups.PerformBackup(ctx)
}

func (s *SyncService) ListBackups(ctx context.Context) ([]models.BackupArtifact, error) {
	return s.backups.ListBackups(ctx)
}

func (s *SyncService) RestoreBackup(ctx context.Context, name string) (*backup.RestoreReport, error) {
	return s.backups.Restore(ctx, name)
}

// BackupHook adapts the backup engine to a sync hook, so a snapshot is taken
// around every cycle that writes.
func BackupHook(backups *backup.Engine, stage string) sync.Hook {
	return func(ctx context.Context, tableName string) error {
		meta, err := backups.PerformBackup(ctx)
		if err != nil {
			return fmt.Errorf("%s-sync backup for %s: %w", stage, tableName, err)
		}
		log.Printf("💾 [SYNC] %s-sync backup %s for %s", stage, meta.Name, tableName)
		return nil
	}
}
