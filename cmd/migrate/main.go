package main

import (
	"log"
	"os"

	"wordware-roast-be/internal/model"
	"wordware-roast-be/pkg/database"

	"github.com/joho/godotenv"
)

func main() {
	// 1. Load Environment Variables
	if err := godotenv.Load(); err != nil {
		log.Println("Info: No .env file found, using system env")
	}

	dsn := os.Getenv("DB_CONNECTION_STRING")
	if dsn == "" {
		log.Fatal("Error: DB_CONNECTION_STRING is not set")
	}

	// 2. Connect to Database using existing GORM helpers
	db, err := database.NewGormDBFromDSN(dsn, true)
	if err != nil {
		log.Fatal("Error: Failed to connect to database:", err)
	}

	// 3. Extensions (gen_random_uuid)
	log.Println("Step 1: Setting up extensions...")
	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS pgcrypto;`).Error; err != nil {
		log.Printf("Warn: Failed to create pgcrypto extension: %v. Continuing...", err)
	}

	// 4. AutoMigrate
	log.Println("Step 2: Running AutoMigrate for users...")
	if err := db.AutoMigrate(&model.User{}); err != nil {
		log.Fatalf("Error: AutoMigrate failed: %v", err)
	}

	// Existing rows predate the flags; make sure none are NULL.
	log.Println("Step 3: Backfilling status flags...")
	backfill := []string{
		`UPDATE users SET wordware_started = false WHERE wordware_started IS NULL;`,
		`UPDATE users SET wordware_completed = false WHERE wordware_completed IS NULL;`,
		`UPDATE users SET paid_wordware_started = false WHERE paid_wordware_started IS NULL;`,
		`UPDATE users SET paid_wordware_completed = false WHERE paid_wordware_completed IS NULL;`,
	}
	for _, sql := range backfill {
		if err := db.Exec(sql).Error; err != nil {
			log.Printf("Warn: Backfill failed: %v", err)
		}
	}

	log.Println("✅ Migration completed")
}
