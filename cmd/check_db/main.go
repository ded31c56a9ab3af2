package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Fatal("Error loading .env file")
	}

	// Database connection
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
		os.Getenv("DB_HOST"),
		os.Getenv("DB_PORT"),
		os.Getenv("DB_USER"),
		os.Getenv("DB_PASSWORD"),
		os.Getenv("DB_NAME"),
		os.Getenv("DB_SSLMODE"),
		os.Getenv("DB_TIMEZONE"),
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	fmt.Println("✅ Connected to database")
	fmt.Println()

	// Check if status column exists
	var exists bool
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM information_schema.columns
			WHERE table_name = 'classroom_members'
			AND column_name = 'status'
		)
	`
	if err := db.Raw(query).Scan(&exists).Error; err != nil {
		log.Fatal("Failed to check status column:", err)
	}

	fmt.Printf("📊 Status column exists: %v\n", exists)
	fmt.Println()

	if !exists {
		fmt.Println("❌ Status column does NOT exist!")
		fmt.Println("⚠️  Need to run migration to add status column")
		return
	}

	// Get member statistics
	type StatusStats struct {
		Total     int64
		Active    int64
		LeftCount int64
	}
	var stats StatusStats
	query = `
		SELECT
			COUNT(*) as total,
			COUNT(CASE WHEN status = 'ACTIVE' THEN 1 END) as active,
			COUNT(CASE WHEN status = 'LEFT' THEN 1 END) as left_count
		FROM classroom_members
	`
	if err := db.Raw(query).Scan(&stats).Error; err != nil {
		log.Fatal("Failed to get statistics:", err)
	}

	fmt.Println("📈 Member Status Statistics:")
	fmt.Printf("  - Total members: %d\n", stats.Total)
	fmt.Printf("  - ACTIVE: %d\n", stats.Active)
	fmt.Printf("  - LEFT: %d\n", stats.LeftCount)
	fmt.Println()

	// Get recent members
	type MemberInfo struct {
		ID          int64
		ClassroomID int64
		UserID      int64
		Role        string
		Status      *string
	}
	var members []MemberInfo
	query = `
		SELECT id, classroom_id, user_id, role, status
		FROM classroom_members
		ORDER BY id DESC
		LIMIT 10
	`
	if err := db.Raw(query).Scan(&members).Error; err != nil {
		log.Fatal("Failed to get recent members:", err)
	}

	fmt.Println("👥 Recent Members (last 10):")
	for _, m := range members {
		status := "NULL"
		if m.Status != nil {
			status = *m.Status
		}
		fmt.Printf("  - ID: %d, Classroom: %d, User: %d, Role: %s, Status: %s\n",
			m.ID, m.ClassroomID, m.UserID, m.Role, status)
	}

	// Check for stale call sessions (active but everyone left)
	type StaleSession struct {
		ID          int64
		ClassroomID int64
	}
	var stale []StaleSession
	query = `
		SELECT cs.id, cs.classroom_id
		FROM call_sessions cs
		WHERE cs.active = true
		AND NOT EXISTS (
			SELECT 1 FROM call_participants cp
			WHERE cp.session_id = cs.id AND cp.active = true
		)
	`
	if err := db.Raw(query).Scan(&stale).Error; err != nil {
		log.Fatal("Failed to check call sessions:", err)
	}

	if len(stale) > 0 {
		fmt.Println()
		fmt.Printf("⚠️  Stale call sessions (active with no participants): %d\n", len(stale))
		for _, s := range stale {
			fmt.Printf("  - Session: %d, Classroom: %d\n", s.ID, s.ClassroomID)
		}
	}
}
