package db

import (
	"fmt"
	"strings"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const sqlitePrefix = "sqlite:"

// Open picks the driver from the DSN: "sqlite:<path>" uses the pure-Go sqlite
// driver, anything else is treated as a MySQL DSN.
func Open(dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)}

	var (
		gdb *gorm.DB
		err error
	)
	if strings.HasPrefix(dsn, sqlitePrefix) {
		gdb, err = gorm.Open(gormsqlite.Open(strings.TrimPrefix(dsn, sqlitePrefix)), cfg)
	} else {
		gdb, err = gorm.Open(mysql.Open(dsn), cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("db handle: %w", err)
	}
	if strings.HasPrefix(dsn, sqlitePrefix) {
		// sqlite allows one writer; serialize through a single connection
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(50)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}
	return gdb, nil
}

// Migrate creates or updates the given models' tables.
func Migrate(gdb *gorm.DB, models ...any) error {
	if err := gdb.AutoMigrate(models...); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}
	return nil
}
