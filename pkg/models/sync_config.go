// pkg/models/sync_config.go
package models

import "time"

type SyncStatus string

const (
	SyncStatusPending SyncStatus = "pending"
	SyncStatusSuccess SyncStatus = "success"
	SyncStatusFailed  SyncStatus = "failed"
	SyncStatusSkipped SyncStatus = "skipped"
)

// Valid reports whether s is one of the known statuses.
func (s SyncStatus) Valid() bool {
	switch s {
	case SyncStatusPending, SyncStatusSuccess, SyncStatusFailed, SyncStatusSkipped:
		return true
	}
	return false
}

// SyncConfigRecord stores synchronization metadata, one row per tracked table.
// LastChecksum and LastRowCount always move together.
type SyncConfigRecord struct {
	ID               string     `json:"id"`
	TableName        string     `json:"tableName"`
	LastSync         *time.Time `json:"lastSync"`
	LastStatus       SyncStatus `json:"lastStatus"`
	LastModifiedTime *time.Time `json:"lastModifiedTime"`
	LastChecksum     string     `json:"lastChecksum"`
	LastRowCount     int64      `json:"lastRowCount"`
}

// HasBaseline reports whether a previous successful sync left a checksum behind.
func (r *SyncConfigRecord) HasBaseline() bool {
	return r != nil && r.LastChecksum != ""
}

// Clone returns a deep copy so callers can mutate without touching shared state.
func (r *SyncConfigRecord) Clone() *SyncConfigRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.LastSync != nil {
		t := *r.LastSync
		c.LastSync = &t
	}
	if r.LastModifiedTime != nil {
		t := *r.LastModifiedTime
		c.LastModifiedTime = &t
	}
	return &c
}
