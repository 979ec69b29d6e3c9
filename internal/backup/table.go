package backup

import (
	"context"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"sync-service/internal/database"
	"sync-service/pkg/models"
)

// artifactRow is one artifact in the backup_artifacts table. Creation time is
// kept in Unix nanoseconds so ordering survives Postgres' microsecond
// timestamps.
type artifactRow struct {
	Name         string         `gorm:"primaryKey;type:varchar(64)"`
	CreatedAtNs  int64          `gorm:"column:created_at_ns;not null;index"`
	SizeBytes    int64          `gorm:"not null"`
	Status       string         `gorm:"type:varchar(16);not null"`
	Records      int            `gorm:"not null"`
	TableCount   int            `gorm:"not null"`
	ErrorMessage string         `gorm:"type:text"`
	Contents     datatypes.JSON `gorm:"type:text"`
}

func (artifactRow) TableName() string { return "backup_artifacts" }

func (r artifactRow) meta() models.BackupArtifact {
	return models.BackupArtifact{
		Name:      r.Name,
		CreatedAt: time.Unix(0, r.CreatedAtNs).UTC(),
		SizeBytes: r.SizeBytes,
		Status:    models.BackupStatus(r.Status),
		Records:   r.Records,
		Tables:    r.TableCount,
		Location:  "table:backup_artifacts/" + r.Name,
		Error:     r.ErrorMessage,
	}
}

// TableStore keeps artifacts in a database table, sharing the relational
// adapter's connection pool through GORM.
type TableStore struct {
	db *gorm.DB
}

func NewTableStore(ctx context.Context, provider database.SQLProvider, backend database.Backend) (*TableStore, error) {
	sqlDB, err := provider.SQLDB(ctx)
	if err != nil {
		return nil, err
	}

	var dialector gorm.Dialector
	switch backend {
	case database.BackendPostgres:
		dialector = postgres.New(postgres.Config{Conn: sqlDB})
	case database.BackendSQLite:
		dialector = sqlite.New(sqlite.Config{Conn: sqlDB})
	default:
		return nil, fmt.Errorf("table backup store needs a relational backend, got %s", backend)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("open backup table: %w", err)
	}
	if err := db.WithContext(ctx).AutoMigrate(&artifactRow{}); err != nil {
		return nil, fmt.Errorf("migrate backup table: %w", err)
	}
	return &TableStore{db: db}, nil
}

func (s *TableStore) Kind() string { return "table" }

func (s *TableStore) Put(ctx context.Context, meta models.BackupArtifact, contents []byte) (string, error) {
	row := artifactRow{
		Name:         meta.Name,
		CreatedAtNs:  meta.CreatedAt.UnixNano(),
		SizeBytes:    meta.SizeBytes,
		Status:       string(meta.Status),
		Records:      meta.Records,
		TableCount:   meta.Tables,
		ErrorMessage: meta.Error,
		Contents:     datatypes.JSON(contents),
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return "", fmt.Errorf("insert artifact %s: %w", meta.Name, res.Error)
	}
	if res.RowsAffected == 0 {
		return "", ErrArtifactExists
	}
	return row.meta().Location, nil
}

func (s *TableStore) List(ctx context.Context) ([]models.BackupArtifact, error) {
	var rows []artifactRow
	err := s.db.WithContext(ctx).
		Omit("contents").
		Order("created_at_ns DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	out := make([]models.BackupArtifact, len(rows))
	for i, r := range rows {
		out[i] = r.meta()
	}
	return out, nil
}

func (s *TableStore) Get(ctx context.Context, name string) (*models.BackupArtifact, []byte, error) {
	var rows []artifactRow
	if err := s.db.WithContext(ctx).Where("name = ?", name).Limit(1).Find(&rows).Error; err != nil {
		return nil, nil, fmt.Errorf("get artifact %s: %w", name, err)
	}
	if len(rows) == 0 {
		return nil, nil, ErrArtifactNotFound
	}
	meta := rows[0].meta()
	if meta.Status == models.BackupStatusFailed {
		return &meta, nil, nil
	}
	return &meta, []byte(rows[0].Contents), nil
}

func (s *TableStore) Delete(ctx context.Context, name string) error {
	res := s.db.WithContext(ctx).Where("name = ?", name).Delete(&artifactRow{})
	if res.Error != nil {
		return fmt.Errorf("delete artifact %s: %w", name, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrArtifactNotFound
	}
	return nil
}
