package store

import "sync-service/internal/database"

// statements holds the backend specific text for every store operation. Each
// set is picked once in New, so no call site branches on the backend.
type statements struct {
	schema []string

	getConfig    string
	listConfig   string
	upsertConfig string
	deleteConfig string

	putTable   string
	getTable   string
	listTables string
}

const configColumns = `id, table_name, last_sync, last_status, last_modified_time, last_checksum, last_row_count`

// Postgres and SQLite share one dialect here: both support
// INSERT .. ON CONFLICT DO UPDATE .. WHERE and RETURNING.
var relationalStatements = statements{
	schema: []string{
		`CREATE TABLE IF NOT EXISTS sync_config (
			id                 VARCHAR(36)  NOT NULL UNIQUE,
			table_name         VARCHAR(255) PRIMARY KEY,
			last_sync          BIGINT,
			last_status        VARCHAR(16)  NOT NULL DEFAULT 'pending',
			last_modified_time BIGINT,
			last_checksum      VARCHAR(64)  NOT NULL DEFAULT '',
			last_row_count     BIGINT       NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS synced_tables (
			table_name VARCHAR(255) PRIMARY KEY,
			rows_json  TEXT         NOT NULL,
			row_count  BIGINT       NOT NULL,
			checksum   VARCHAR(64)  NOT NULL,
			updated_at BIGINT       NOT NULL
		)`,
	},

	getConfig:  `SELECT ` + configColumns + ` FROM sync_config WHERE table_name = :table_name`,
	listConfig: `SELECT ` + configColumns + ` FROM sync_config ORDER BY table_name`,

	// The WHERE clause drops writes that would move last_sync backwards.
	upsertConfig: `INSERT INTO sync_config (` + configColumns + `)
		VALUES (:id, :table_name, :last_sync, :last_status, :last_modified_time, :last_checksum, :last_row_count)
		ON CONFLICT (table_name) DO UPDATE SET
			last_sync          = excluded.last_sync,
			last_status        = excluded.last_status,
			last_modified_time = excluded.last_modified_time,
			last_checksum      = excluded.last_checksum,
			last_row_count     = excluded.last_row_count
		WHERE sync_config.last_sync IS NULL OR excluded.last_sync >= sync_config.last_sync
		RETURNING id`,

	deleteConfig: `DELETE FROM sync_config WHERE table_name = :table_name RETURNING table_name`,

	putTable: `INSERT INTO synced_tables (table_name, rows_json, row_count, checksum, updated_at)
		VALUES (:table_name, :rows_json, :row_count, :checksum, :updated_at)
		ON CONFLICT (table_name) DO UPDATE SET
			rows_json  = excluded.rows_json,
			row_count  = excluded.row_count,
			checksum   = excluded.checksum,
			updated_at = excluded.updated_at`,
	getTable:   `SELECT table_name, rows_json, row_count, checksum, updated_at FROM synced_tables WHERE table_name = :table_name`,
	listTables: `SELECT table_name, rows_json, row_count, checksum, updated_at FROM synced_tables ORDER BY table_name`,
}

// MongoDB keys both collections by table name (_id), so an upsert is a single
// document write. A guarded upsert that loses to a newer last_sync collides
// on _id and comes back as a duplicate key conflict.
var mongoStatements = statements{
	schema: []string{
		`{"createIndexes": "sync_config", "indexes": [{"key": {"id": 1}, "name": "sync_config_id", "unique": true}]}`,
	},

	getConfig:  `{"find": "sync_config", "filter": {"_id": ":table_name"}, "limit": 1}`,
	listConfig: `{"find": "sync_config", "filter": {}, "sort": {"_id": 1}}`,

	upsertConfig: `{"update": "sync_config", "updates": [{
		"q": {"_id": ":table_name", "$or": [{"last_sync": null}, {"last_sync": {"$lte": ":last_sync"}}]},
		"u": {
			"$set": {
				"table_name": ":table_name",
				"last_sync": ":last_sync",
				"last_status": ":last_status",
				"last_modified_time": ":last_modified_time",
				"last_checksum": ":last_checksum",
				"last_row_count": ":last_row_count"
			},
			"$setOnInsert": {"id": ":id"}
		},
		"upsert": true
	}]}`,

	deleteConfig: `{"delete": "sync_config", "deletes": [{"q": {"_id": ":table_name"}, "limit": 1}]}`,

	putTable: `{"update": "synced_tables", "updates": [{
		"q": {"_id": ":table_name"},
		"u": {"$set": {
			"table_name": ":table_name",
			"rows_json": ":rows_json",
			"row_count": ":row_count",
			"checksum": ":checksum",
			"updated_at": ":updated_at"
		}},
		"upsert": true
	}]}`,
	getTable:   `{"find": "synced_tables", "filter": {"_id": ":table_name"}, "limit": 1}`,
	listTables: `{"find": "synced_tables", "filter": {}, "sort": {"_id": 1}}`,
}

func statementsFor(b database.Backend) statements {
	if b.Relational() {
		return relationalStatements
	}
	return mongoStatements
}
