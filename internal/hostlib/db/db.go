// Package db registers SQL host functions (db.open/db.query/db.exec/
// db.close) into a VM state's globals table, giving scripts access to
// database/sql through the host API's Register mechanism (spec.md
// §4.D). Grounded on sentra's internal/database/db_manager.go for the
// connection-registry shape and internal/vm/database_bindings.go for
// the script-facing function names and argument conventions, adapted
// from that package's interface{}-based Value to ruavm's tagged Value
// and its handle-by-string connections to handle-by-integer ones (the
// host API has no notion of an opaque "connection id" type, so an
// integer handle is the natural fit for push/to-integer round-tripping).
package db

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/denisenkom/go-mssqldb"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"ruavm/internal/value"
	"ruavm/internal/vm"
)

// conn is one open database/sql handle, keyed by an opaque integer
// handle the script holds onto (mirrors DBConn in db_manager.go).
type conn struct {
	db       *sql.DB
	driver   string
	lastUsed time.Time
}

// registry tracks open connections for the lifetime of a State.
// Grounded on db_manager.go's DBManager{connections, mu}.
type registry struct {
	mu      sync.Mutex
	conns   map[int64]*conn
	nextID  int64
}

func newRegistry() *registry { return &registry{conns: make(map[int64]*conn)} }

func (r *registry) open(driver, dsn string) (int64, error) {
	driverName, err := canonicalDriver(driver)
	if err != nil {
		return 0, err
	}
	d, err := sql.Open(driverName, dsn)
	if err != nil {
		return 0, fmt.Errorf("failed to connect: %w", err)
	}
	if err := d.Ping(); err != nil {
		d.Close()
		return 0, fmt.Errorf("failed to ping database: %w", err)
	}
	d.SetMaxOpenConns(10)
	d.SetMaxIdleConns(5)
	d.SetConnMaxLifetime(5 * time.Minute)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.conns[id] = &conn{db: d, driver: driverName, lastUsed: time.Now()}
	return id, nil
}

// canonicalDriver maps the script-facing driver name to the
// database/sql driver registered by this package's blank imports,
// mirroring db_manager.go's Connect driver-name switch.
func canonicalDriver(name string) (string, error) {
	switch name {
	case "sqlite", "sqlite3":
		return "sqlite", nil
	case "postgres", "postgresql", "pq":
		return "postgres", nil
	case "mysql":
		return "mysql", nil
	case "mssql", "sqlserver":
		return "sqlserver", nil
	}
	return "", fmt.Errorf("unsupported database type: %s", name)
}

func (r *registry) get(handle int64) (*conn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[handle]
	if !ok {
		return nil, fmt.Errorf("no such connection: %d", handle)
	}
	c.lastUsed = time.Now()
	return c, nil
}

func (r *registry) close(handle int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[handle]
	if !ok {
		return fmt.Errorf("no such connection: %d", handle)
	}
	delete(r.conns, handle)
	return c.db.Close()
}

// query runs a row-returning statement and returns each row as an
// ordered slice of (column, value) pairs, preserving column order the
// way database_bindings.go's sql_query converts *sql.Rows into maps.
func (c *conn) query(query string, args []any) ([][]column, error) {
	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out [][]column
	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make([]column, len(cols))
		for i, name := range cols {
			row[i] = column{name: name, value: raw[i]}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (c *conn) exec(query string, args []any) (int64, error) {
	result, err := c.db.Exec(query, args...)
	if err != nil {
		return 0, fmt.Errorf("execution failed: %w", err)
	}
	return result.RowsAffected()
}

type column struct {
	name  string
	value any
}

// Register installs the db table (open/query/exec/close) into s's
// globals, per spec.md §4.D's register operation. Each script caller
// gets its own registry, scoped to the State it was registered into.
func Register(s *vm.State) {
	r := newRegistry()

	s.NewTable()
	tbl := s.GetTop()

	s.PushGoFunction("db.open", func(s *vm.State) int {
		driver := s.ToString(1)
		dsn := s.ToString(2)
		handle, err := r.open(driver, dsn)
		if err != nil {
			s.PushNil()
			s.PushString(err.Error())
			return 2
		}
		s.PushInteger(handle)
		return 1
	})
	s.SetField(tbl, "open")

	s.PushGoFunction("db.query", func(s *vm.State) int {
		handle := s.ToInteger(1)
		sqlText := s.ToString(2)
		c, err := r.get(handle)
		if err != nil {
			s.PushNil()
			s.PushString(err.Error())
			return 2
		}
		rows, err := c.query(sqlText, stackArgs(s, 3))
		if err != nil {
			s.PushNil()
			s.PushString(err.Error())
			return 2
		}
		pushRows(s, rows)
		return 1
	})
	s.SetField(tbl, "query")

	s.PushGoFunction("db.exec", func(s *vm.State) int {
		handle := s.ToInteger(1)
		sqlText := s.ToString(2)
		c, err := r.get(handle)
		if err != nil {
			s.PushNil()
			s.PushString(err.Error())
			return 2
		}
		affected, err := c.exec(sqlText, stackArgs(s, 3))
		if err != nil {
			s.PushNil()
			s.PushString(err.Error())
			return 2
		}
		s.PushInteger(affected)
		return 1
	})
	s.SetField(tbl, "exec")

	s.PushGoFunction("db.close", func(s *vm.State) int {
		handle := s.ToInteger(1)
		if err := r.close(handle); err != nil {
			s.PushBoolean(false)
			s.PushString(err.Error())
			return 2
		}
		s.PushBoolean(true)
		return 1
	})
	s.SetField(tbl, "close")

	s.SetGlobal("db")
}

// stackArgs collects the query parameters sitting at stack positions
// from..top into driver-ready Go values.
func stackArgs(s *vm.State, from int) []any {
	top := s.GetTop()
	if from > top {
		return nil
	}
	out := make([]any, 0, top-from+1)
	for i := from; i <= top; i++ {
		out = append(out, toGoValue(s, i))
	}
	return out
}

func toGoValue(s *vm.State, idx int) any {
	switch s.TypeID(idx) {
	case value.TypeNone, value.TypeNil:
		return nil
	case value.TypeBoolean:
		return s.ToBoolean(idx)
	case value.TypeNumber:
		if s.IsInteger(idx) {
			return s.ToInteger(idx)
		}
		return s.ToNumber(idx)
	case value.TypeString:
		return s.ToString(idx)
	}
	return s.ToString(idx)
}

// pushRows pushes an array-of-row-tables result: each row is a table
// keyed by column name, matching database_bindings.go's row-to-map
// conversion.
func pushRows(s *vm.State, rows [][]column) {
	s.NewTable()
	result := s.GetTop()
	for i, row := range rows {
		s.NewTable()
		rowTbl := s.GetTop()
		for _, col := range row {
			pushGoValue(s, col.value)
			s.SetField(rowTbl, col.name)
		}
		s.SetI(result, int64(i+1))
	}
}

func pushGoValue(s *vm.State, v any) {
	switch val := v.(type) {
	case nil:
		s.PushNil()
	case bool:
		s.PushBoolean(val)
	case int64:
		s.PushInteger(val)
	case int:
		s.PushInteger(int64(val))
	case float64:
		s.PushNumber(val)
	case []byte:
		s.PushString(string(val))
	case string:
		s.PushString(val)
	case time.Time:
		s.PushString(val.Format(time.RFC3339))
	default:
		s.PushString(fmt.Sprintf("%v", val))
	}
}
