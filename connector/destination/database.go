package destination

import (
	"context"
	"database/sql"
	"fmt"
)

// DatabaseWriter runs a parameterized INSERT/UPDATE statement against a
// generic SQL database for every message, binding the raw payload as the
// sole parameter unless Params is set to derive values from it.
type DatabaseWriter struct {
	DB        *sql.DB
	Statement string
	Params    func(payload []byte) []interface{}
	QueueFull bool
}

// NewDatabaseWriter builds a writer executing statement against db. Params
// defaults to binding the raw payload as a single "?" argument.
func NewDatabaseWriter(db *sql.DB, statement string) *DatabaseWriter {
	return &DatabaseWriter{
		DB:        db,
		Statement: statement,
		Params:    func(payload []byte) []interface{} { return []interface{}{string(payload)} },
	}
}

func (d *DatabaseWriter) Name() string { return "database" }

func (d *DatabaseWriter) QueueOnFailure() bool { return d.QueueFull }

// Send executes the configured statement, returning the number of rows
// affected as its response.
func (d *DatabaseWriter) Send(ctx context.Context, payload []byte) (string, error) {
	res, err := d.DB.ExecContext(ctx, d.Statement, d.Params(payload)...)
	if err != nil {
		return "", fmt.Errorf("database writer: exec: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("database writer: rows affected: %w", err)
	}
	return fmt.Sprintf("%d", rows), nil
}
