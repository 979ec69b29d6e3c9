// internal/sync/engine.go
package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"sync-service/internal/database"
	"sync-service/internal/store"
	"sync-service/pkg/models"
)

// ErrSyncFailed wraps every target store write failure. The stored baseline
// is left as it was so the next cycle retries against it.
var ErrSyncFailed = errors.New("sync failed")

// State is the outcome of one sync cycle.
type State string

const (
	StateSynced  State = "SYNCED"
	StateSkipped State = "SKIPPED"
	StateFailed  State = "SYNC_FAILED"

	// StateSuperseded means a newer cycle elsewhere recorded the table first;
	// Result.Record is the stored record, not this cycle's.
	StateSuperseded State = "SUPERSEDED"
)

// recordTimeout bounds the writes that record an outcome once the caller has
// gone away.
const recordTimeout = 10 * time.Second

// SourceData is a fresh read of one source table.
type SourceData struct {
	TableName    string       `json:"tableName"`
	Rows         []models.Row `json:"rows"`
	ModifiedTime *time.Time   `json:"modifiedTime,omitempty"`
}

// Source returns the current rows of a table, e.g. a spreadsheet reader.
type Source interface {
	Fetch(ctx context.Context, tableName string) (*SourceData, error)
}

type ConfigStore interface {
	Get(ctx context.Context, tableName string) (*models.SyncConfigRecord, error)
	Upsert(ctx context.Context, rec *models.SyncConfigRecord) (bool, error)
}

// Mirror is the target store that receives the rows of a changed table.
type Mirror interface {
	PutTable(ctx context.Context, snap *models.TableSnapshot) error
}

// Notifier is told about every failed cycle.
type Notifier interface {
	SyncFailed(ctx context.Context, tableName string, cause error)
}

// Hook runs around a cycle that is going to write. Used for backups.
type Hook func(ctx context.Context, tableName string) error

type Options struct {
	// Ordered reports whether row order is significant for a table.
	Ordered func(tableName string) bool

	BeforeWrite Hook
	AfterWrite  Hook
	Notifier    Notifier

	// Concurrency bounds SyncAll. Zero means one table at a time.
	Concurrency int

	Now func() time.Time
}

type Result struct {
	State  State                    `json:"state"`
	Record *models.SyncConfigRecord `json:"record"`
	// ShortCircuit is set when a row count change decided the cycle
	// without comparing checksums.
	ShortCircuit bool `json:"shortCircuit"`
	// Retryable is set on SYNC_FAILED when the cause was transient.
	Retryable bool `json:"retryable,omitempty"`
}

// Engine decides per table whether fresh source data needs to be written and
// records the outcome in sync_config. It keeps no state between cycles other
// than what is persisted.
type Engine struct {
	configs ConfigStore
	mirror  Mirror
	opts    Options
	locks   keyedMutex
}

func NewEngine(configs ConfigStore, mirror Mirror, opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Ordered == nil {
		opts.Ordered = func(string) bool { return false }
	}
	return &Engine{configs: configs, mirror: mirror, opts: opts}
}

// SyncFrom fetches tableName from src and runs one cycle on it.
func (e *Engine) SyncFrom(ctx context.Context, src Source, tableName string) (*Result, error) {
	data, err := src.Fetch(ctx, tableName)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", tableName, err)
	}
	if data.TableName == "" {
		data.TableName = tableName
	}
	return e.Sync(ctx, data)
}

// SyncAll runs SyncFrom for every table, in parallel up to Concurrency.
// A failing table does not stop the others; the first error is returned.
func (e *Engine) SyncAll(ctx context.Context, src Source, tables []string) (map[string]*Result, error) {
	results := make(map[string]*Result, len(tables))
	out := make([]*Result, len(tables))

	var g errgroup.Group
	limit := e.opts.Concurrency
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)
	for i, table := range tables {
		g.Go(func() error {
			res, err := e.SyncFrom(ctx, src, table)
			out[i] = res
			if err != nil {
				log.Printf("❌ [SYNC] %s: %v", table, err)
			}
			return err
		})
	}
	err := g.Wait()

	for i, table := range tables {
		if out[i] != nil {
			results[table] = out[i]
		}
	}
	return results, err
}

// Sync runs one cycle for data.TableName. Cycles for the same table are
// serialized within the process.
func (e *Engine) Sync(ctx context.Context, data *SourceData) (*Result, error) {
	if data == nil || data.TableName == "" {
		return nil, errors.New("sync: missing table name")
	}
	table := data.TableName

	unlock, err := e.locks.Lock(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("wait for running cycle on %s: %w", table, err)
	}
	defer unlock()

	current, err := e.configs.Get(ctx, table)
	switch {
	case errors.Is(err, store.ErrNotFound):
		current = &models.SyncConfigRecord{
			ID:         uuid.New().String(),
			TableName:  table,
			LastStatus: models.SyncStatusPending,
		}
		if _, err := e.configs.Upsert(ctx, current); err != nil {
			return nil, fmt.Errorf("create sync config for %s: %w", table, err)
		}
		log.Printf("🆕 [SYNC] tracking new table %s", table)
	case err != nil:
		return nil, fmt.Errorf("load sync config for %s: %w", table, err)
	}

	now := e.now(current)
	rowCount := int64(len(data.Rows))
	ordered := e.opts.Ordered(table)

	checksum, err := Checksum(data.Rows, ordered)
	if err != nil {
		return nil, fmt.Errorf("checksum %s: %w", table, err)
	}

	// A row count change goes straight to a write; the checksum above is
	// only the new baseline then and is never compared.
	shortCircuit := !current.HasBaseline() || current.LastRowCount != rowCount
	if !shortCircuit && checksum == current.LastChecksum {
		return e.skip(ctx, current, now)
	}

	res, err := e.write(ctx, current, data, checksum, now)
	if res != nil {
		res.ShortCircuit = shortCircuit
	}
	return res, err
}

func (e *Engine) skip(ctx context.Context, current *models.SyncConfigRecord, now time.Time) (*Result, error) {
	next := current.Clone()
	next.LastSync = &now
	next.LastStatus = models.SyncStatusSkipped

	applied, err := e.configs.Upsert(ctx, next)
	if err != nil {
		return nil, fmt.Errorf("record skip for %s: %w", current.TableName, err)
	}
	if !applied {
		return e.superseded(ctx, current.TableName)
	}
	log.Printf("⏭️ [SYNC] %s unchanged (%d rows), skipped", current.TableName, current.LastRowCount)
	return &Result{State: StateSkipped, Record: next}, nil
}

func (e *Engine) write(ctx context.Context, current *models.SyncConfigRecord, data *SourceData, checksum string, now time.Time) (*Result, error) {
	table := current.TableName
	rowCount := int64(len(data.Rows))

	if e.opts.BeforeWrite != nil {
		if err := e.opts.BeforeWrite(ctx, table); err != nil {
			log.Printf("⚠️ [SYNC] pre-write hook for %s failed: %v", table, err)
		}
	}

	snap := &models.TableSnapshot{
		TableName: table,
		Rows:      data.Rows,
		RowCount:  rowCount,
		Checksum:  checksum,
		UpdatedAt: now,
	}
	if err := e.mirror.PutTable(ctx, snap); err != nil {
		return e.fail(ctx, current, now, err)
	}

	next := current.Clone()
	next.LastSync = &now
	next.LastStatus = models.SyncStatusSuccess
	next.LastChecksum = checksum
	next.LastRowCount = rowCount
	next.LastModifiedTime = data.ModifiedTime

	// The mirror already holds the new rows; record them even if the caller
	// has given up, or fall back to SYNC_FAILED so the baseline is retried.
	recordCtx, cancel := detached(ctx)
	defer cancel()
	applied, err := e.configs.Upsert(recordCtx, next)
	if err != nil {
		return e.fail(ctx, current, now, fmt.Errorf("record sync: %w", err))
	}
	if !applied {
		log.Printf("⚠️ [SYNC] %s mirror written but a newer cycle owns the record", table)
		return e.superseded(recordCtx, table)
	}
	log.Printf("✅ [SYNC] %s synced (%d rows, checksum %.12s)", table, rowCount, checksum)

	if e.opts.AfterWrite != nil {
		if err := e.opts.AfterWrite(ctx, table); err != nil {
			log.Printf("⚠️ [SYNC] post-write hook for %s failed: %v", table, err)
		}
	}
	return &Result{State: StateSynced, Record: next}, nil
}

// fail records SYNC_FAILED while keeping checksum, row count and modified
// time of the last good sync.
func (e *Engine) fail(ctx context.Context, current *models.SyncConfigRecord, now time.Time, cause error) (*Result, error) {
	table := current.TableName
	next := current.Clone()
	next.LastSync = &now
	next.LastStatus = models.SyncStatusFailed

	// The caller may have given up already; the failure is still recorded.
	recordCtx, cancel := detached(ctx)
	defer cancel()

	if _, err := e.configs.Upsert(recordCtx, next); err != nil {
		log.Printf("❌ [SYNC] could not record failure for %s: %v", table, err)
	}
	retryable := database.IsRetryable(cause)
	log.Printf("❌ [SYNC] %s failed (retryable=%t): %v", table, retryable, cause)

	if e.opts.Notifier != nil {
		e.opts.Notifier.SyncFailed(recordCtx, table, cause)
	}
	return &Result{State: StateFailed, Record: next, Retryable: retryable}, fmt.Errorf("%w: %s: %w", ErrSyncFailed, table, cause)
}

// superseded reports the stored record after the store discarded this
// cycle's write for carrying an older lastSync.
func (e *Engine) superseded(ctx context.Context, table string) (*Result, error) {
	stored, err := e.configs.Get(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("reload %s after discarded write: %w", table, err)
	}
	log.Printf("⏭️ [SYNC] %s already recorded at %v by a newer cycle", table, stored.LastSync)
	return &Result{State: StateSuperseded, Record: stored}, nil
}

func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
}

// now never returns a time before the stored LastSync, so a clock step
// backwards cannot trip the store's monotonic guard.
func (e *Engine) now(current *models.SyncConfigRecord) time.Time {
	now := e.opts.Now().UTC()
	if current.LastSync != nil && now.Before(*current.LastSync) {
		return *current.LastSync
	}
	return now
}
