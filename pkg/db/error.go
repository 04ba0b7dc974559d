package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	// PostgreSQL (error code 23505)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
		return true
	}

	// MySQL (error code 1062)
	if strings.Contains(err.Error(), "Error 1062") {
		return true
	}

	// SQLite (error code 2067)
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return true
	}

	return false
}

// IsSerializationErr reports whether err indicates a concurrent-update
// conflict that is safe to retry with a fresh read.
func IsSerializationErr(err error) bool {
	if err == nil {
		return false
	}

	// PostgreSQL: serialization_failure (40001), deadlock_detected (40P01),
	// lock_not_available (55P03)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return true
		}
	}

	// MySQL (error code 1213 deadlock, 1205 lock wait timeout)
	if strings.Contains(err.Error(), "Error 1213") || strings.Contains(err.Error(), "Error 1205") {
		return true
	}

	// SQLite busy/locked
	if strings.Contains(err.Error(), "database is locked") || strings.Contains(err.Error(), "database table is locked") {
		return true
	}

	return false
}
