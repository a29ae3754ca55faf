// Command verify-db-connection connects to the relay audit database, runs the
// migration and checks that the address and hash columns are wide enough.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"strings"

	"defeatthememe-backend/internal/config"
	"defeatthememe-backend/internal/db"
	"defeatthememe-backend/internal/logger"
	"defeatthememe-backend/internal/models"
)

var requiredWidths = []struct {
	column string
	width  int64
}{
	{"from_address", 42},
	{"to_address", 42},
	{"forwarder", 42},
	{"tx_hash", 66},
}

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	fix := flag.Bool("fix", false, "widen columns that are too small")
	flag.Parse()

	logger.Init()
	fmt.Println("🔍 Verifying relay audit database...")
	fmt.Println(strings.Repeat("=", 60))

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Database.DSN == "" {
		log.Fatal("DATABASE_DSN is not set")
	}

	gdb, err := db.Open(cfg.Database.DSN, logger.Component("db"))
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		log.Fatalf("Failed to get database connection: %v", err)
	}
	defer sqlDB.Close()

	var dbName string
	if err := sqlDB.QueryRow("SELECT current_database()").Scan(&dbName); err != nil {
		log.Fatalf("Failed to get database name: %v", err)
	}
	fmt.Printf("📋 Connected to database: %s\n", dbName)

	table := models.RelayAttempt{}.TableName()
	for _, col := range requiredWidths {
		var size sql.NullInt64
		err := sqlDB.QueryRow(`
			SELECT character_maximum_length
			FROM information_schema.columns
			WHERE table_schema = 'public' AND table_name = $1 AND column_name = $2
		`, table, col.column).Scan(&size)
		if err == sql.ErrNoRows || (err == nil && !size.Valid) {
			fmt.Printf("❌ %s.%s does not exist or is unbounded\n", table, col.column)
			continue
		}
		if err != nil {
			log.Fatalf("Failed to query %s.%s: %v", table, col.column, err)
		}

		if size.Int64 >= col.width {
			fmt.Printf("✅ %s.%s is VARCHAR(%d)\n", table, col.column, size.Int64)
			continue
		}
		fmt.Printf("❌ %s.%s is VARCHAR(%d), need VARCHAR(%d)\n", table, col.column, size.Int64, col.width)
		if !*fix {
			continue
		}
		stmt := fmt.Sprintf(`ALTER TABLE %s ALTER COLUMN %s TYPE VARCHAR(%d)`, table, col.column, col.width)
		if _, err := sqlDB.Exec(stmt); err != nil {
			log.Fatalf("Failed to widen %s.%s: %v", table, col.column, err)
		}
		fmt.Printf("🔧 Widened %s.%s to VARCHAR(%d)\n", table, col.column, col.width)
	}

	var counts []struct {
		Status models.RelayStatus
		Count  int64
	}
	if err := gdb.Model(&models.RelayAttempt{}).Select("status, count(*) AS count").Group("status").Scan(&counts).Error; err != nil {
		log.Fatalf("Failed to count relay attempts: %v", err)
	}
	fmt.Println("\n📊 Relay attempts by status:")
	if len(counts) == 0 {
		fmt.Println("   (none)")
	}
	for _, c := range counts {
		fmt.Printf("   %-28s %d\n", c.Status, c.Count)
	}
}
