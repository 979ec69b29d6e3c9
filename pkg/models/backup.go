package models

import "time"

type BackupStatus string

const (
	BackupStatusComplete BackupStatus = "complete"
	BackupStatusPartial  BackupStatus = "partial"
	BackupStatusFailed   BackupStatus = "failed"
)

// BackupArtifact is the listable metadata of one backup. Contents are never
// part of it; see BackupContents.
type BackupArtifact struct {
	Name      string       `json:"name"`
	CreatedAt time.Time    `json:"createdAt"`
	SizeBytes int64        `json:"sizeBytes"`
	Status    BackupStatus `json:"status"`
	Records   int          `json:"records"`
	Tables    int          `json:"tables"`
	Location  string       `json:"location,omitempty"`
	Error     string       `json:"error,omitempty"`
}

// BackupContents is the serialized body of an artifact.
type BackupContents struct {
	Version    string             `json:"version"`
	CreatedAt  time.Time          `json:"createdAt"`
	SyncConfig []SyncConfigRecord `json:"syncConfig"`
	Tables     []TableSnapshot    `json:"tables,omitempty"`
}

// Row is one source row: column name to value.
type Row map[string]any

// TableSnapshot is the mirrored copy of a tracked table as of its last successful sync.
type TableSnapshot struct {
	TableName string    `json:"tableName"`
	Rows      []Row     `json:"rows"`
	RowCount  int64     `json:"rowCount"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updatedAt"`
}
