package database

import (
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
	"gorm.io/gorm"
)

//go:embed migrations/*.sql
var migrations embed.FS

const migrationsDir = "migrations"

// Migrate runs a goose command against the embedded migrations. Supported
// commands are up, down, status, version and reset.
func Migrate(db *gorm.DB, command string) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	switch command {
	case "up":
		return goose.Up(sqlDB, migrationsDir)
	case "down":
		return goose.Down(sqlDB, migrationsDir)
	case "status":
		return goose.Status(sqlDB, migrationsDir)
	case "version":
		return goose.Version(sqlDB, migrationsDir)
	case "reset":
		return goose.Reset(sqlDB, migrationsDir)
	}
	return fmt.Errorf("unknown migrate command %q", command)
}
