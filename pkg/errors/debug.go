package errors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// ErrorDump flattens an error chain for structured logs.
type ErrorDump struct {
	Message string
	Code    Code
	Chain   []string

	PGCode       string
	PGConstraint string
	PGTable      string
	PGDetail     string
}

// Dump walks err and pulls out typed codes and Postgres diagnostics from either driver.
func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}

	d := ErrorDump{Message: err.Error()}
	if te := As(err); te != nil {
		d.Code = te.Code()
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T", e))
	}

	var pgxErr *pgconn.PgError
	var pqErr *pq.Error
	switch {
	case errors.As(err, &pgxErr):
		d.PGCode, d.PGConstraint, d.PGTable, d.PGDetail = pgxErr.Code, pgxErr.ConstraintName, pgxErr.TableName, pgxErr.Detail
	case errors.As(err, &pqErr):
		d.PGCode, d.PGConstraint, d.PGTable, d.PGDetail = string(pqErr.Code), pqErr.Constraint, pqErr.Table, pqErr.Detail
	}
	return d
}

// Fields returns the non-empty parts of the dump as log fields.
func (d ErrorDump) Fields() map[string]any {
	fields := map[string]any{}
	add := func(key, value string) {
		if value != "" {
			fields[key] = value
		}
	}
	add("error", d.Message)
	add("error_code", string(d.Code))
	add("pg_code", d.PGCode)
	add("pg_constraint", d.PGConstraint)
	add("pg_table", d.PGTable)
	add("pg_detail", d.PGDetail)
	if len(d.Chain) > 1 {
		fields["error_chain"] = d.Chain
	}
	return fields
}

// Transient reports Postgres failures worth retrying on the next tick:
// connection loss, serialization failures, deadlocks and admin shutdowns.
func (d ErrorDump) Transient() bool {
	switch {
	case d.PGCode == "":
		return false
	case strings.HasPrefix(d.PGCode, "08"):
		return true
	}
	switch d.PGCode {
	case "40001", "40P01", "57P01":
		return true
	}
	return false
}
