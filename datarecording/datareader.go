package datarecording

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"reflect"
	"strings"
)

// Filter narrows a read. The zero Filter reads every row in insertion order.
type Filter struct {
	Where   string // condition with ? placeholders, without the WHERE keyword
	Args    []any
	OrderBy string
	Limit   int
}

func (f Filter) clause() string {
	var sb strings.Builder

	if f.Where != "" {
		sb.WriteString(" WHERE " + f.Where)
	}

	if f.OrderBy != "" {
		sb.WriteString(" ORDER BY " + f.OrderBy)
	}

	if f.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", f.Limit)
	}

	return sb.String()
}

// Reader reads back the tables of a recording. A table must be registered
// with the struct its rows decode into before it can be read.
type Reader struct {
	db    *sql.DB
	types map[string]reflect.Type
}

// NewReader opens an existing recording file.
func NewReader(path string) (*Reader, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open recording: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open recording %s: %w", path, err)
	}

	return NewReaderWithDB(db), nil
}

// NewReaderWithDB reads from a database that is already open.
func NewReaderWithDB(db *sql.DB) *Reader {
	return &Reader{db: db, types: make(map[string]reflect.Type)}
}

// Register binds a table to the struct type of sample.
func (r *Reader) Register(table string, sample any) {
	r.types[table] = reflect.TypeOf(sample)
}

// Rows returns a pointer to a decoded struct for every row that passes f.
// Columns without a field of the same name are skipped.
func (r *Reader) Rows(ctx context.Context, table string, f Filter) ([]any, error) {
	t, ok := r.types[table]
	if !ok {
		return nil, fmt.Errorf("table %s is not registered", table)
	}

	rows, err := r.db.QueryContext(ctx, "SELECT * FROM "+table+f.clause(), f.Args...)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", table, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []any

	for rows.Next() {
		row := reflect.New(t)
		targets := make([]any, len(columns))

		for i, col := range columns {
			if field := row.Elem().FieldByName(col); field.IsValid() {
				targets[i] = field.Addr().Interface()
			} else {
				targets[i] = new(any)
			}
		}

		if err := rows.Scan(targets...); err != nil {
			return nil, fmt.Errorf("read %s: %w", table, err)
		}

		out = append(out, row.Interface())
	}

	return out, rows.Err()
}

// Count returns the number of rows of a registered table matching where,
// which may be empty.
func (r *Reader) Count(ctx context.Context, table, where string, args ...any) (int, error) {
	if _, ok := r.types[table]; !ok {
		return 0, fmt.Errorf("table %s is not registered", table)
	}

	var n int

	q := "SELECT COUNT(*) FROM " + table + Filter{Where: where}.clause()
	if err := r.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}

	return n, nil
}

// Close closes the underlying database.
func (r *Reader) Close() error {
	return r.db.Close()
}
