package db

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "duplicate key value violates unique constraint"): // postgres 23505
		return true
	case strings.Contains(msg, "Error 1062"): // mysql
		return true
	case strings.Contains(msg, "UNIQUE constraint failed"): // sqlite 2067
		return true
	}
	return false
}

// InsertIgnore rewrites a plain INSERT statement so that unique conflicts are skipped
// on every supported dialect. Callers check RowsAffected to detect the skip.
func InsertIgnore(conn *gorm.DB, insert string) string {
	stmt := strings.TrimSpace(insert)
	if conn != nil && conn.Dialector != nil && conn.Dialector.Name() == "mysql" {
		return "INSERT IGNORE" + strings.TrimPrefix(stmt, "INSERT")
	}
	return stmt + " ON CONFLICT DO NOTHING"
}
