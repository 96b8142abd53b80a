// Deploy-time database hardening for Postgres installs. The application
// migrates its own schema at boot; this script applies what gorm cannot:
// it revokes UPDATE and DELETE on journal_entries from the application
// role, so journal immutability holds even against raw SQL.
//
// Usage: DATABASE_URL=postgres://... APP_DB_ROLE=guardrail_app go run scripts/db_setup.go
package main

import (
	"database/sql"
	"fmt"
	"os"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
)

func main() {
	godotenv.Load()

	connStr := os.Getenv("DATABASE_URL")
	if connStr == "" {
		fmt.Println("❌ DATABASE_URL not set")
		os.Exit(1)
	}
	if !strings.HasPrefix(connStr, "postgres://") && !strings.HasPrefix(connStr, "postgresql://") {
		fmt.Println("ℹ️ SQLite deployment, nothing to harden")
		return
	}
	role := os.Getenv("APP_DB_ROLE")
	if role == "" {
		role = "guardrail_app"
	}

	fmt.Println("🔌 Connecting to database...")
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		fmt.Printf("❌ Connection error: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		fmt.Printf("❌ Ping error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("✅ Database connected!")

	fmt.Println("\n📋 Current tables:")
	rows, err := db.Query(`
		SELECT tablename FROM pg_tables
		WHERE schemaname = 'public'
		ORDER BY tablename
	`)
	if err != nil {
		fmt.Printf("❌ Query error: %v\n", err)
		os.Exit(1)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var table string
		rows.Scan(&table)
		tables = append(tables, table)
		fmt.Printf("  - %s\n", table)
	}
	if len(tables) == 0 {
		fmt.Println("  (no tables found — start the server once so it migrates the schema)")
		return
	}

	hasJournal := false
	for _, t := range tables {
		if t == "journal_entries" {
			hasJournal = true
		}
	}
	if !hasJournal {
		fmt.Println("\n⚠️ journal_entries table missing, nothing to harden yet")
		return
	}

	fmt.Printf("\n🔒 Hardening journal_entries for role %q...\n", role)
	stmts := []string{
		fmt.Sprintf("REVOKE UPDATE, DELETE, TRUNCATE ON journal_entries FROM %s", role),
		fmt.Sprintf("GRANT SELECT, INSERT ON journal_entries TO %s", role),
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			fmt.Printf("  ⚠️ %s: %v\n", stmt, err)
			os.Exit(1)
		}
		fmt.Printf("  ✅ %s\n", stmt)
	}

	fmt.Println("\n🎉 Journal is append-only at the database level")
}
