package database

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const duplicateKeyCode = 11000

// mongoAdapter runs database commands (find, update, delete, createIndexes...)
// written in extended JSON. String values of the form ":name" are replaced by
// the bound parameter after parsing, so parameters never pass through the
// JSON text.
type mongoAdapter struct {
	cfg Config

	mu     sync.RWMutex
	client *mongo.Client
	db     *mongo.Database
	closed bool
}

func newMongoAdapter(cfg Config) *mongoAdapter {
	return &mongoAdapter{cfg: cfg}
}

func (a *mongoAdapter) Backend() Backend { return BackendMongo }

func (a *mongoAdapter) Initialize(ctx context.Context) error {
	_, err := a.handle(ctx)
	return err
}

func (a *mongoAdapter) handle(ctx context.Context) (*mongo.Database, error) {
	a.mu.RLock()
	db, closed := a.db, a.closed
	a.mu.RUnlock()
	if db != nil {
		return db, nil
	}
	if closed {
		return nil, &ConnectionError{Backend: BackendMongo, Err: ErrClosed}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db != nil {
		return a.db, nil
	}
	if a.closed {
		return nil, &ConnectionError{Backend: BackendMongo, Err: ErrClosed}
	}

	opts := options.Client().
		ApplyURI(a.cfg.DSN).
		SetConnectTimeout(a.cfg.ConnectTimeout).
		SetServerSelectionTimeout(a.cfg.ConnectTimeout)
	if a.cfg.MaxOpenConns > 0 {
		opts.SetMaxPoolSize(uint64(a.cfg.MaxOpenConns))
	}
	if a.cfg.MaxIdleConns > 0 {
		opts.SetMinPoolSize(uint64(a.cfg.MaxIdleConns))
	}
	if a.cfg.ConnMaxLifetime > 0 {
		opts.SetMaxConnIdleTime(a.cfg.ConnMaxLifetime)
	}

	connectCtx, cancel := withTimeout(ctx, a.cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, opts)
	if err != nil {
		return nil, &ConnectionError{Backend: BackendMongo, Err: err}
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, &ConnectionError{Backend: BackendMongo, Err: err}
	}

	name := a.cfg.Database
	if name == "" {
		name = "sync_db"
	}
	a.client = client
	a.db = client.Database(name)
	log.Printf("✅ [DB] mongo client initialized (database: %s)", name)
	return a.db, nil
}

func (a *mongoAdapter) Query(ctx context.Context, stmt string, params Params) (RowSet, error) {
	db, err := a.handle(ctx)
	if err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx, a.cfg.QueryTimeout)
	defer cancel()
	return runCommand(ctx, db, stmt, params)
}

func (a *mongoAdapter) Snapshot(ctx context.Context, fn func(q Querier) error) error {
	if _, err := a.handle(ctx); err != nil {
		return err
	}
	ctx, cancel := withTimeout(ctx, a.cfg.QueryTimeout)
	defer cancel()
	return fn(a)
}

func (a *mongoAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	if a.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := a.client.Disconnect(ctx)
	a.client, a.db = nil, nil
	if err != nil {
		return &ConnectionError{Backend: BackendMongo, Err: err}
	}
	log.Printf("🛑 [DB] mongo client closed")
	return nil
}

func runCommand(ctx context.Context, db *mongo.Database, stmt string, params Params) (RowSet, error) {
	cmd, err := bindCommand(stmt, params)
	if err != nil {
		return nil, &QueryError{Backend: BackendMongo, Statement: stmt, Err: err}
	}

	var res bson.M
	if err := db.RunCommand(ctx, cmd).Decode(&res); err != nil {
		return nil, newQueryError(BackendMongo, stmt, err)
	}
	if err := writeError(res); err != nil {
		qe := newQueryError(BackendMongo, stmt, err)
		qe.Conflict = qe.Conflict || err.Code == duplicateKeyCode
		return nil, qe
	}

	cursor, ok := res["cursor"].(bson.M)
	if !ok {
		return RowSet{normalizeDoc(res)}, nil
	}

	rows := appendBatch(nil, cursor["firstBatch"])
	collection := cursorCollection(cursor)
	for id := cursorID(cursor); id != 0; id = cursorID(cursor) {
		var next bson.M
		getMore := bson.D{{Key: "getMore", Value: id}, {Key: "collection", Value: collection}}
		if err := db.RunCommand(ctx, getMore).Decode(&next); err != nil {
			return nil, newQueryError(BackendMongo, stmt, err)
		}
		if cursor, ok = next["cursor"].(bson.M); !ok {
			break
		}
		rows = appendBatch(rows, cursor["nextBatch"])
	}
	return rows, nil
}

// bindCommand parses an extended JSON command and substitutes ":name" strings.
func bindCommand(stmt string, params Params) (bson.D, error) {
	var cmd bson.D
	if err := bson.UnmarshalExtJSON([]byte(stmt), false, &cmd); err != nil {
		return nil, fmt.Errorf("parse command: %w", err)
	}
	bound, err := bindValue(cmd, params)
	if err != nil {
		return nil, err
	}
	return bound.(bson.D), nil
}

func bindValue(v any, params Params) (any, error) {
	switch t := v.(type) {
	case bson.D:
		out := make(bson.D, len(t))
		for i, e := range t {
			bv, err := bindValue(e.Value, params)
			if err != nil {
				return nil, err
			}
			out[i] = bson.E{Key: e.Key, Value: bv}
		}
		return out, nil
	case bson.M:
		out := make(bson.M, len(t))
		for k, e := range t {
			bv, err := bindValue(e, params)
			if err != nil {
				return nil, err
			}
			out[k] = bv
		}
		return out, nil
	case bson.A:
		out := make(bson.A, len(t))
		for i, e := range t {
			bv, err := bindValue(e, params)
			if err != nil {
				return nil, err
			}
			out[i] = bv
		}
		return out, nil
	case string:
		if len(t) < 2 || t[0] != ':' {
			return t, nil
		}
		val, ok := params[t[1:]]
		if !ok {
			return nil, fmt.Errorf("missing parameter %q", t[1:])
		}
		return val, nil
	default:
		return v, nil
	}
}

type commandWriteError struct {
	Code    int32
	Message string
}

func (e *commandWriteError) Error() string {
	return fmt.Sprintf("write error %d: %s", e.Code, e.Message)
}

// writeError extracts the first entry of a write command's writeErrors.
func writeError(res bson.M) *commandWriteError {
	list, ok := res["writeErrors"].(bson.A)
	if !ok || len(list) == 0 {
		return nil
	}
	first, _ := list[0].(bson.M)
	we := &commandWriteError{}
	switch code := first["code"].(type) {
	case int32:
		we.Code = code
	case int64:
		we.Code = int32(code)
	}
	we.Message, _ = first["errmsg"].(string)
	return we
}

func cursorID(cursor bson.M) int64 {
	switch id := cursor["id"].(type) {
	case int64:
		return id
	case int32:
		return int64(id)
	}
	return 0
}

func cursorCollection(cursor bson.M) string {
	ns, _ := cursor["ns"].(string)
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func appendBatch(rows RowSet, batch any) RowSet {
	docs, _ := batch.(bson.A)
	for _, d := range docs {
		switch doc := d.(type) {
		case bson.M:
			rows = append(rows, normalizeDoc(doc))
		case bson.D:
			rows = append(rows, normalizeDoc(doc.Map()))
		}
	}
	return rows
}

func normalizeDoc(doc bson.M) Row {
	row := make(Row, len(doc))
	for k, v := range doc {
		row[k] = normalizeValue(v)
	}
	return row
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case bson.M:
		return map[string]any(normalizeDoc(t))
	case bson.D:
		return map[string]any(normalizeDoc(t.Map()))
	case bson.A:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeValue(e)
		}
		return out
	case primitive.DateTime:
		return t.Time().UTC()
	case primitive.ObjectID:
		return t.Hex()
	default:
		return v
	}
}
