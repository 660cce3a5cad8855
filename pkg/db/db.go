package db

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open opens (creating if needed) the SQLite database at path and migrates it.
func Open(path string) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create database dir %s: %w", dir, err)
		}
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}

	// SQLite allows one writer; a single connection serializes request
	// handlers and background generation.
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := AutoMigrate(gdb); err != nil {
		return nil, err
	}
	return gdb, nil
}

// AutoMigrate creates database tables
func AutoMigrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(&User{}, &Conversation{}, &Message{}, &Activity{}, &Notification{}); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}
