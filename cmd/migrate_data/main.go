package main

import (
	"reflect"

	"whatsapp-automation/internal/config"
	"whatsapp-automation/internal/database"
	"whatsapp-automation/internal/logging"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const batchSize = 500

// Copies every automation table from the local SQLite file (DB_PATH) into PostgreSQL (DB_HOST...).
// Rows that already exist in the destination are skipped, so the copy can be re-run.
func main() {
	cfg := config.LoadConfig()
	logging.Configure(cfg.LogLevel)

	// 1. Connect to SQLite (Source)
	sqliteDB, err := database.OpenSQLite(cfg.DBPath)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to SQLite")
	}
	logrus.WithField("path", cfg.DBPath).Info("Connected to SQLite")

	// 2. Connect to PostgreSQL (Destination)
	pgDB, err := database.OpenPostgres(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to PostgreSQL")
	}
	if err := database.Migrate(pgDB); err != nil {
		logrus.WithError(err).Fatal("Failed to migrate PostgreSQL schema")
	}

	logrus.Info("Starting data migration...")

	failed := 0
	for _, rows := range database.AllModels() {
		if err := migrateTable(sqliteDB, pgDB, rows); err != nil {
			failed++
		}
	}

	if failed > 0 {
		logrus.WithField("failed_tables", failed).Fatal("Data migration finished with errors")
	}
	logrus.Info("Data migration completed successfully")
}

// migrateTable copies one table; rows is a pointer to an empty slice of the model
func migrateTable(src, dst *gorm.DB, rows any) error {
	stmt := &gorm.Statement{DB: src}
	if err := stmt.Parse(rows); err != nil {
		logrus.WithError(err).Error("Failed to resolve table")
		return err
	}
	log := logrus.WithField("table", stmt.Schema.Table)
	log.Info("Migrating table")

	copied := 0
	err := src.FindInBatches(rows, batchSize, func(tx *gorm.DB, batch int) error {
		err := dst.Transaction(func(pg *gorm.DB) error {
			return pg.Clauses(clause.OnConflict{DoNothing: true}).Create(rows).Error
		})
		if err != nil {
			return err
		}
		copied += reflect.ValueOf(rows).Elem().Len()
		return nil
	}).Error
	if err != nil {
		log.WithError(err).Error("Failed to migrate table")
		return err
	}

	log.WithField("rows", copied).Info("Successfully migrated table")
	return nil
}
