package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

func rollbackWithError(rb interface{ Rollback() error }, err *error) {
	if cErr := rb.Rollback(); cErr != nil && !errors.Is(cErr, sql.ErrTxDone) && *err == nil {
		*err = cErr
	}
}

// toNullString stores config as given when it is a string or []byte, and as
// JSON otherwise.
func toNullString(config any) (sql.NullString, error) {
	var ns sql.NullString

	switch v := config.(type) {
	case nil:
	case string:
		ns.Valid = true
		ns.String = v

	case []byte:
		ns.Valid = true
		ns.String = string(v)

	default:
		p, err := json.Marshal(v)
		if err != nil {
			return ns, fmt.Errorf("marshaling config: %w", err)
		}

		ns.Valid = true
		ns.String = string(p)
	}

	return ns, nil
}

// NullFloat maps NaN, which the readout uses for "no value", to NULL.
func NullFloat(f float64) sql.NullFloat64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: f, Valid: true}
}

// NullString maps an empty string to NULL.
func NullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
