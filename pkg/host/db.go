package host

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// dbOpCode mirrors bytecode.DBOpCode's numeric values. It is redeclared
// here, rather than imported, because pkg/bytecode already imports this
// package for the Host interface and a back-reference would cycle.
type dbOpCode byte

const (
	dbOpFind dbOpCode = iota
	dbOpFindAll
	dbOpCreate
	dbOpUpdate
	dbOpDelete
)

// DBAdapter is the reference db_op implementation: one JSON-blob table
// per entity, queried with SQLite's json_extract for predicate matching.
// This is a demonstration adapter, not a schema-migrating ORM — every
// entity's table is created lazily on first use.
type DBAdapter struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenDBAdapter opens (creating if needed) the SQLite database at dsn,
// typically a project manifest's db_dsn.
func OpenDBAdapter(dsn string) (*DBAdapter, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "opening database %q", dsn)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "setting busy timeout")
	}
	return &DBAdapter{db: db}, nil
}

func (a *DBAdapter) Close() error { return a.db.Close() }

func (a *DBAdapter) ensureTable(entity string) error {
	_, err := a.db.Exec(`CREATE TABLE IF NOT EXISTS "` + entity + `" (
		id TEXT PRIMARY KEY,
		data JSON NOT NULL
	)`)
	return errors.Wrapf(err, "creating table for %q", entity)
}

// Exec runs one database operation against entity's table, building the
// DBResult the Host.DBOp callback returns.
func (a *DBAdapter) Exec(op byte, entity string, predicate, fields map[string]any) (DBResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.ensureTable(entity); err != nil {
		return DBResult{}, err
	}

	switch dbOpCode(op) {
	case dbOpCreate:
		return a.create(entity, fields)
	case dbOpFind:
		return a.find(entity, predicate)
	case dbOpFindAll:
		return a.findAll(entity, predicate)
	case dbOpUpdate:
		return a.update(entity, predicate, fields)
	case dbOpDelete:
		return a.delete(entity, predicate)
	default:
		return DBResult{}, errors.Errorf("unknown db op code %d", op)
	}
}

func (a *DBAdapter) create(entity string, fields map[string]any) (DBResult, error) {
	record := cloneMap(fields)
	id, ok := record["id"].(string)
	if !ok || id == "" {
		id = uuid.NewString()
		record["id"] = id
	}

	data, err := json.Marshal(record)
	if err != nil {
		return DBResult{}, errors.Wrap(err, "encoding record")
	}

	_, err = a.db.Exec(`INSERT INTO "`+entity+`" (id, data) VALUES (?, json(?))`, id, string(data))
	if err != nil {
		return DBResult{}, errors.Wrapf(err, "creating %s", entity)
	}
	return DBResult{Status: 201, Record: record}, nil
}

func (a *DBAdapter) find(entity string, predicate map[string]any) (DBResult, error) {
	rows, err := a.queryMatching(entity, predicate, 1)
	if err != nil {
		return DBResult{}, err
	}
	if len(rows) == 0 {
		return DBResult{Status: 404}, nil
	}
	return DBResult{Status: 200, Record: rows[0]}, nil
}

func (a *DBAdapter) findAll(entity string, predicate map[string]any) (DBResult, error) {
	rows, err := a.queryMatching(entity, predicate, 0)
	if err != nil {
		return DBResult{}, err
	}
	return DBResult{Status: 200, Records: rows}, nil
}

func (a *DBAdapter) update(entity string, predicate, fields map[string]any) (DBResult, error) {
	rows, err := a.queryMatching(entity, predicate, 0)
	if err != nil {
		return DBResult{}, err
	}
	if len(rows) == 0 {
		return DBResult{Status: 404}, nil
	}

	var last map[string]any
	for _, row := range rows {
		id, _ := row["id"].(string)
		merged := cloneMap(row)
		for k, v := range fields {
			merged[k] = v
		}
		data, err := json.Marshal(merged)
		if err != nil {
			return DBResult{}, errors.Wrap(err, "encoding updated record")
		}
		if _, err := a.db.Exec(`UPDATE "`+entity+`" SET data = json(?) WHERE id = ?`, string(data), id); err != nil {
			return DBResult{}, errors.Wrapf(err, "updating %s", entity)
		}
		last = merged
	}
	return DBResult{Status: 200, Record: last}, nil
}

func (a *DBAdapter) delete(entity string, predicate map[string]any) (DBResult, error) {
	rows, err := a.queryMatching(entity, predicate, 0)
	if err != nil {
		return DBResult{}, err
	}
	for _, row := range rows {
		id, _ := row["id"].(string)
		if _, err := a.db.Exec(`DELETE FROM "`+entity+`" WHERE id = ?`, id); err != nil {
			return DBResult{}, errors.Wrapf(err, "deleting from %s", entity)
		}
	}
	return DBResult{Status: 200}, nil
}

// queryMatching scans every row in entity's table and keeps the ones
// matching predicate exactly on every key, stopping early once limit
// results are found (limit 0 means unbounded). SQLite's json_extract
// narrows the scan to candidate rows before Go-side equality confirms
// the match, since json_extract's type coercion is looser than the
// value comparison the language itself defines.
func (a *DBAdapter) queryMatching(entity string, predicate map[string]any, limit int) ([]map[string]any, error) {
	query := `SELECT id, data FROM "` + entity + `"`
	args := []any{}
	keys := sortedKeys(predicate)
	if len(keys) > 0 {
		clauses := ""
		for i, k := range keys {
			if i > 0 {
				clauses += " AND "
			}
			clauses += `json_extract(data, '$.' || ?) = ?`
			args = append(args, k, predicate[k])
		}
		query += " WHERE " + clauses
	}

	rows, err := a.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "querying %s", entity)
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, errors.Wrap(err, "scanning row")
		}
		var record map[string]any
		if err := json.Unmarshal([]byte(data), &record); err != nil {
			return nil, errors.Wrapf(err, "decoding record %s", id)
		}
		if !matches(record, predicate) {
			continue
		}
		out = append(out, record)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, rows.Err()
}

func matches(record, predicate map[string]any) bool {
	for k, want := range predicate {
		if got, ok := record[k]; !ok || toText(got) != toText(want) {
			return false
		}
	}
	return true
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// toText gives JSON-decoded predicate values (float64, string, bool, nil)
// a stable comparable form, since a field stored as JSON number 3 and a
// predicate value passed in as int64 3 are the same value to a caller.
func toText(v any) string {
	return fmt.Sprintf("%v", v)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
