// Package store persists per-table sync state (sync_config) and the mirrored
// table data (synced_tables) through a database.Adapter.
package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"

	"github.com/google/uuid"

	"sync-service/internal/database"
	"sync-service/pkg/models"
)

// ErrNotFound is the expected outcome of a lookup for an unknown table.
var ErrNotFound = errors.New("store: not found")

var errTablesUnreadable = errors.New("store: mirror tables unreadable")

type Store struct {
	db    database.Adapter
	stmts statements
}

func New(db database.Adapter) *Store {
	return &Store{db: db, stmts: statementsFor(db.Backend())}
}

// EnsureSchema creates the tables, collections and indexes the store needs.
// Safe to run on every startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range s.stmts.schema {
		if _, err := s.db.Query(ctx, stmt, nil); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	log.Printf("✅ [STORE] schema ready on %s", s.db.Backend())
	return nil
}

func (s *Store) Get(ctx context.Context, tableName string) (*models.SyncConfigRecord, error) {
	rows, err := s.db.Query(ctx, s.stmts.getConfig, database.Params{"table_name": tableName})
	if err != nil {
		return nil, fmt.Errorf("get sync config %s: %w", tableName, err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	rec, err := decodeConfig(rows[0])
	if err != nil {
		return nil, fmt.Errorf("get sync config %s: %w", tableName, err)
	}
	return &rec, nil
}

// List returns every record sorted by table name.
func (s *Store) List(ctx context.Context) ([]models.SyncConfigRecord, error) {
	return s.list(ctx, s.db)
}

func (s *Store) list(ctx context.Context, q database.Querier) ([]models.SyncConfigRecord, error) {
	rows, err := q.Query(ctx, s.stmts.listConfig, nil)
	if err != nil {
		return nil, fmt.Errorf("list sync config: %w", err)
	}
	out := make([]models.SyncConfigRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := decodeConfig(row)
		if err != nil {
			return nil, fmt.Errorf("list sync config: %w", err)
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TableName < out[j].TableName })
	return out, nil
}

// Upsert inserts rec or replaces the stored record for rec.TableName in one
// statement. The id of an existing record is kept. A write carrying an older
// LastSync than the stored one is discarded and reported as applied=false.
func (s *Store) Upsert(ctx context.Context, rec *models.SyncConfigRecord) (applied bool, err error) {
	if rec.TableName == "" {
		return false, errors.New("upsert sync config: empty table name")
	}
	if !rec.LastStatus.Valid() {
		return false, fmt.Errorf("upsert sync config %s: invalid status %q", rec.TableName, rec.LastStatus)
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}

	rows, err := s.db.Query(ctx, s.stmts.upsertConfig, configParams(rec))
	if err != nil {
		if !s.db.Backend().Relational() && database.IsConflict(err) {
			log.Printf("⏭️ [STORE] stale write for %s discarded", rec.TableName)
			return false, nil
		}
		return false, fmt.Errorf("upsert sync config %s: %w", rec.TableName, err)
	}
	if s.db.Backend().Relational() && len(rows) == 0 {
		log.Printf("⏭️ [STORE] stale write for %s discarded", rec.TableName)
		return false, nil
	}
	return true, nil
}

// Delete removes the record for tableName. Only administrative callers use it;
// the sync loop never deletes.
func (s *Store) Delete(ctx context.Context, tableName string) error {
	rows, err := s.db.Query(ctx, s.stmts.deleteConfig, database.Params{"table_name": tableName})
	if err != nil {
		return fmt.Errorf("delete sync config %s: %w", tableName, err)
	}
	if !s.deleted(rows) {
		return ErrNotFound
	}
	log.Printf("🗑️ [STORE] sync config for %s deleted", tableName)
	return nil
}

func (s *Store) deleted(rows database.RowSet) bool {
	if s.db.Backend().Relational() {
		return len(rows) > 0
	}
	if len(rows) == 0 {
		return false
	}
	n, _ := toInt64(rows[0]["n"])
	return n > 0
}

// PutTable replaces the mirrored rows of one table.
func (s *Store) PutTable(ctx context.Context, snap *models.TableSnapshot) error {
	params, err := tableParams(snap)
	if err != nil {
		return err
	}
	if _, err := s.db.Query(ctx, s.stmts.putTable, params); err != nil {
		return fmt.Errorf("put table %s: %w", snap.TableName, err)
	}
	return nil
}

func (s *Store) GetTable(ctx context.Context, tableName string) (*models.TableSnapshot, error) {
	rows, err := s.db.Query(ctx, s.stmts.getTable, database.Params{"table_name": tableName})
	if err != nil {
		return nil, fmt.Errorf("get table %s: %w", tableName, err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	snap, err := decodeTable(rows[0])
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *Store) ListTables(ctx context.Context) ([]models.TableSnapshot, error) {
	return s.listTables(ctx, s.db)
}

func (s *Store) listTables(ctx context.Context, q database.Querier) ([]models.TableSnapshot, error) {
	rows, err := q.Query(ctx, s.stmts.listTables, nil)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	out := make([]models.TableSnapshot, 0, len(rows))
	for _, row := range rows {
		snap, err := decodeTable(row)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TableName < out[j].TableName })
	return out, nil
}

// Snapshot is a consistent read of the store.
type Snapshot struct {
	Records []models.SyncConfigRecord
	Tables  []models.TableSnapshot

	// TablesErr is set when the records were read but the mirror was not.
	TablesErr error
}

// SnapshotAll reads every record, and the mirror when withTables is set, in
// one read view so no record is observed half updated.
func (s *Store) SnapshotAll(ctx context.Context, withTables bool) (*Snapshot, error) {
	snap := &Snapshot{}
	err := s.db.Snapshot(ctx, func(q database.Querier) error {
		records, err := s.list(ctx, q)
		if err != nil {
			return err
		}
		snap.Records = records
		if !withTables {
			return nil
		}
		tables, err := s.listTables(ctx, q)
		if err != nil {
			snap.TablesErr = err
			return errTablesUnreadable
		}
		snap.Tables = tables
		return nil
	})
	if err != nil && !errors.Is(err, errTablesUnreadable) {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return snap, nil
}
