package sqlstore

import (
	"fmt"
	"strings"
)

// columns of the document table, in bind order
var columns = []string{"uri", "partition_name", "content", "content_type", "options", "options_type"}

type dialect struct {
	name        string
	textType    string
	placeholder func(i int) string
	upsert      func() string
}

var dialects = map[string]dialect{
	"postgres": {
		name:        "postgres",
		textType:    "TEXT",
		placeholder: func(i int) string { return fmt.Sprintf("$%d", i) },
		upsert:      onConflict,
	},
	"mysql": {
		name:        "mysql",
		textType:    "LONGTEXT",
		placeholder: func(int) string { return "?" },
		upsert:      onDuplicateKey,
	},
	"sqlite3": {
		name:        "sqlite3",
		textType:    "TEXT",
		placeholder: func(int) string { return "?" },
		upsert:      onConflict,
	},
}

// statement returns the upsert of one document into table
func (d dialect) statement(table string) string {
	ph := make([]string, len(columns))
	for i := range ph {
		ph[i] = d.placeholder(i + 1)
	}
	return "INSERT INTO " + table + " (" + strings.Join(columns, ", ") + ") VALUES (" +
		strings.Join(ph, ", ") + ")" + d.upsert()
}

func (d dialect) schema(table string) string {
	return "CREATE TABLE IF NOT EXISTS " + table + " (" +
		"uri VARCHAR(512) NOT NULL PRIMARY KEY, " +
		"partition_name VARCHAR(255) NOT NULL, " +
		"content " + d.textType + " NOT NULL, " +
		"content_type VARCHAR(32) NOT NULL, " +
		"options " + d.textType + " NOT NULL, " +
		"options_type VARCHAR(32) NOT NULL)"
}

func onConflict() string {
	set := make([]string, 0, len(columns)-1)
	for _, c := range columns[1:] {
		set = append(set, c+" = EXCLUDED."+c)
	}
	return " ON CONFLICT (uri) DO UPDATE SET " + strings.Join(set, ", ")
}

func onDuplicateKey() string {
	set := make([]string, 0, len(columns)-1)
	for _, c := range columns[1:] {
		set = append(set, c+" = VALUES("+c+")")
	}
	return " ON DUPLICATE KEY UPDATE " + strings.Join(set, ", ")
}
