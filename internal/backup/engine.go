// Package backup produces write-once, point-in-time snapshots of the sync
// state (and optionally the mirrored tables) and restores from them.
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"regexp"
	"sort"
	"sync"
	"time"

	"sync-service/internal/store"
	"sync-service/pkg/models"
)

const (
	contentsVersion = "1"
	nameLayout      = "20060102T150405.000000000Z"
)

var validName = regexp.MustCompile(`^backup-\d{8}T\d{6}\.\d{9}Z$`)

type Snapshotter interface {
	SnapshotAll(ctx context.Context, withTables bool) (*store.Snapshot, error)
}

// Restorer receives restored state. Upsert keeps the store's guard against
// moving last_sync backwards.
type Restorer interface {
	Upsert(ctx context.Context, rec *models.SyncConfigRecord) (bool, error)
	PutTable(ctx context.Context, snap *models.TableSnapshot) error
}

type Notifier interface {
	BackupFailed(ctx context.Context, name string, cause error)
}

type Options struct {
	IncludeData bool
	// Retention prunes to the newest N complete artifacts after each backup.
	// Zero keeps everything.
	Retention int
	Notifier  Notifier
	Now       func() time.Time
}

type Engine struct {
	source    Snapshotter
	target    Restorer
	artifacts ArtifactStore
	opts      Options

	mu   sync.Mutex
	last time.Time
}

func NewEngine(source Snapshotter, target Restorer, artifacts ArtifactStore, opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{source: source, target: target, artifacts: artifacts, opts: opts}
}

func (e *Engine) StoreKind() string { return e.artifacts.Kind() }

// nextTimestamp is strictly increasing within the process.
func (e *Engine) nextTimestamp() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.opts.Now().UTC()
	if !now.After(e.last) {
		now = e.last.Add(time.Nanosecond)
	}
	e.last = now
	return now
}

func artifactName(t time.Time) string {
	return "backup-" + t.UTC().Format(nameLayout)
}

// PerformBackup snapshots the store, serializes it and persists one artifact.
// A snapshot whose mirror tables could not be read is stored as partial. Any
// other failure leaves a failed marker and returns *BackupIncompleteError.
func (e *Engine) PerformBackup(ctx context.Context) (*models.BackupArtifact, error) {
	createdAt := e.nextTimestamp()
	meta := models.BackupArtifact{
		Name:      artifactName(createdAt),
		CreatedAt: createdAt,
		Status:    models.BackupStatusComplete,
	}
	log.Printf("💾 [BACKUP] starting %s", meta.Name)

	snap, err := e.source.SnapshotAll(ctx, e.opts.IncludeData)
	if err != nil {
		return nil, e.fail(ctx, meta, "snapshot", err)
	}
	if snap.TablesErr != nil {
		meta.Status = models.BackupStatusPartial
		meta.Error = snap.TablesErr.Error()
		log.Printf("⚠️ [BACKUP] %s is partial: %v", meta.Name, snap.TablesErr)
	}

	contents := models.BackupContents{
		Version:    contentsVersion,
		CreatedAt:  createdAt,
		SyncConfig: snap.Records,
		Tables:     snap.Tables,
	}
	if contents.SyncConfig == nil {
		contents.SyncConfig = []models.SyncConfigRecord{}
	}
	raw, err := json.Marshal(contents)
	if err != nil {
		return nil, e.fail(ctx, meta, "serialize", err)
	}
	meta.SizeBytes = int64(len(raw))
	meta.Records = len(contents.SyncConfig)
	meta.Tables = len(contents.Tables)

	for attempt := 0; ; attempt++ {
		loc, err := e.artifacts.Put(ctx, meta, raw)
		if err == nil {
			meta.Location = loc
			break
		}
		// A name left over from an earlier process; take the next instant.
		if errors.Is(err, ErrArtifactExists) && attempt < 3 {
			meta.CreatedAt = e.nextTimestamp()
			meta.Name = artifactName(meta.CreatedAt)
			continue
		}
		return nil, e.fail(ctx, meta, "persist", err)
	}
	log.Printf("✅ [BACKUP] %s stored (%s, %d records, %d tables, %d bytes)",
		meta.Name, meta.Status, meta.Records, meta.Tables, meta.SizeBytes)

	if e.opts.Retention > 0 {
		if _, err := e.Prune(ctx, e.opts.Retention); err != nil {
			log.Printf("⚠️ [BACKUP] prune failed: %v", err)
		}
	}
	return &meta, nil
}

// fail writes a failed marker on a best effort basis and builds the error.
func (e *Engine) fail(ctx context.Context, meta models.BackupArtifact, stage string, cause error) error {
	markerCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	meta.Status = models.BackupStatusFailed
	meta.Error = fmt.Sprintf("%s: %v", stage, cause)
	meta.SizeBytes, meta.Records, meta.Tables = 0, 0, 0
	if _, err := e.artifacts.Put(markerCtx, meta, nil); err != nil {
		log.Printf("❌ [BACKUP] could not mark %s failed: %v", meta.Name, err)
	}
	log.Printf("❌ [BACKUP] %s failed at %s: %v", meta.Name, stage, cause)

	if e.opts.Notifier != nil {
		e.opts.Notifier.BackupFailed(markerCtx, meta.Name, cause)
	}
	return &BackupIncompleteError{Name: meta.Name, Stage: stage, Err: cause}
}

// ListBackups returns artifact metadata, newest first.
func (e *Engine) ListBackups(ctx context.Context) ([]models.BackupArtifact, error) {
	list, err := e.artifacts.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].Name > list[j].Name
	})
	if list == nil {
		list = []models.BackupArtifact{}
	}
	return list, nil
}

// GetBackup returns the metadata and decoded contents of one artifact.
// Contents is nil for failed markers.
func (e *Engine) GetBackup(ctx context.Context, name string) (*models.BackupArtifact, *models.BackupContents, error) {
	if !validName.MatchString(name) {
		return nil, nil, ErrInvalidName
	}
	meta, raw, err := e.artifacts.Get(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	if raw == nil {
		return meta, nil, nil
	}
	var contents models.BackupContents
	if err := json.Unmarshal(raw, &contents); err != nil {
		return meta, nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return meta, &contents, nil
}

// RestoreReport summarizes a restore.
type RestoreReport struct {
	Name     string `json:"name"`
	Restored int    `json:"restored"`
	// Kept counts records whose stored lastSync is newer than the artifact's.
	Kept   int `json:"kept"`
	Tables int `json:"tables"`
}

// Restore writes the records and mirror tables of a complete artifact back.
// A record never moves backwards in time: where the store already holds a
// newer lastSync, the stored record and its mirror table are kept.
func (e *Engine) Restore(ctx context.Context, name string) (*RestoreReport, error) {
	meta, contents, err := e.GetBackup(ctx, name)
	if err != nil {
		return nil, err
	}
	if meta.Status != models.BackupStatusComplete || contents == nil {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotRestorable, name, meta.Status)
	}

	report := &RestoreReport{Name: name}
	applied := make(map[string]bool, len(contents.SyncConfig))
	for i := range contents.SyncConfig {
		rec := contents.SyncConfig[i]
		ok, err := e.target.Upsert(ctx, &rec)
		if err != nil {
			return report, fmt.Errorf("restore %s record %s: %w", name, rec.TableName, err)
		}
		applied[rec.TableName] = ok
		if ok {
			report.Restored++
		} else {
			report.Kept++
		}
	}
	for i := range contents.Tables {
		t := contents.Tables[i]
		if ok, tracked := applied[t.TableName]; tracked && !ok {
			continue
		}
		if err := e.target.PutTable(ctx, &t); err != nil {
			return report, fmt.Errorf("restore %s table %s: %w", name, t.TableName, err)
		}
		report.Tables++
	}
	log.Printf("♻️ [BACKUP] restored %s (%d records, %d kept, %d tables)", name, report.Restored, report.Kept, report.Tables)
	return report, nil
}

// Prune keeps the newest keep complete artifacts and deletes older ones.
// Failed and partial artifacts are kept while they are newer than the oldest
// kept complete one; with no complete artifact at all, only the newest keep of
// them survive. The newest complete artifact is never deleted.
func (e *Engine) Prune(ctx context.Context, keep int) ([]string, error) {
	if keep < 1 {
		return nil, fmt.Errorf("prune: keep must be at least 1, got %d", keep)
	}
	list, err := e.ListBackups(ctx)
	if err != nil {
		return nil, err
	}

	var doomed []models.BackupArtifact
	var cutoff time.Time
	completes := 0
	for _, a := range list {
		if a.Status != models.BackupStatusComplete {
			continue
		}
		completes++
		if completes <= keep {
			cutoff = a.CreatedAt
			continue
		}
		doomed = append(doomed, a)
	}
	others := 0
	for _, a := range list {
		if a.Status == models.BackupStatusComplete {
			continue
		}
		others++
		if (completes > 0 && a.CreatedAt.Before(cutoff)) || (completes == 0 && others > keep) {
			doomed = append(doomed, a)
		}
	}

	var deleted []string
	for _, a := range doomed {
		if err := e.artifacts.Delete(ctx, a.Name); err != nil && !errors.Is(err, ErrArtifactNotFound) {
			return deleted, fmt.Errorf("prune %s: %w", a.Name, err)
		}
		deleted = append(deleted, a.Name)
	}
	if len(deleted) > 0 {
		log.Printf("🧹 [BACKUP] pruned %d artifacts", len(deleted))
	}
	return deleted, nil
}
