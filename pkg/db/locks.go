package db

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
)

const rowLockCallback = "db:strip_row_locks"

// StripRowLocks removes FOR UPDATE clauses from raw statements before they
// reach the driver. sqlite rejects the clause and serializes writers itself.
func StripRowLocks(conn *gorm.DB) error {
	strip := func(tx *gorm.DB) {
		sql := tx.Statement.SQL.String()
		if !strings.Contains(sql, "FOR UPDATE") {
			return
		}
		sql = strings.ReplaceAll(sql, "FOR UPDATE SKIP LOCKED", "")
		sql = strings.ReplaceAll(sql, "FOR UPDATE", "")
		tx.Statement.SQL.Reset()
		tx.Statement.SQL.WriteString(sql)
	}
	if err := conn.Callback().Query().Before("gorm:query").Register(rowLockCallback, strip); err != nil {
		return fmt.Errorf("register query callback: %w", err)
	}
	if err := conn.Callback().Row().Before("gorm:row").Register(rowLockCallback+"_row", strip); err != nil {
		return fmt.Errorf("register row callback: %w", err)
	}
	return nil
}
