package database

import (
	"fmt"
	"time"

	"whatsapp-automation/internal/config"
	"whatsapp-automation/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitGorm opens the configured database and migrates it
func InitGorm(cfg *config.Config) (*gorm.DB, error) {
	db, err := Open(cfg)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Open connects to PostgreSQL or SQLite depending on DB_DRIVER
func Open(cfg *config.Config) (*gorm.DB, error) {
	switch cfg.DBDriver {
	case "postgres", "postgresql":
		return OpenPostgres(cfg)
	case "", "sqlite", "sqlite3":
		return OpenSQLite(cfg.DBPath)
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}
}

func OpenPostgres(cfg *config.Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort, cfg.DBSSLMode)

	db, err := gorm.Open(postgres.Open(dsn), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	logrus.WithField("host", cfg.DBHost).Info("Connected to PostgreSQL")
	return db, nil
}

// OpenSQLite opens a SQLite database. A single connection is kept so that
// in-memory databases are shared by every query.
func OpenSQLite(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SQLite: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	logrus.WithField("path", path).Debug("Connected to SQLite")
	return db, nil
}

// Migrate creates or updates every table used by the automation service
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Workspace{},
		&models.WhatsAppConnection{},
		&models.MessageTemplate{},
		&models.Agent{},
		&models.Contact{},
		&models.Conversation{},
		&models.Message{},
		&models.Order{},
		&models.Automation{},
		&models.AutomationLog{},
		&models.AutomationContactTrigger{},
		&models.AutomationContinuation{},
	)
	if err != nil {
		return fmt.Errorf("failed to run auto-migration: %w", err)
	}
	return nil
}

// AllModels lists the migrated tables in dependency order
func AllModels() []any {
	return []any{
		&[]models.Workspace{},
		&[]models.WhatsAppConnection{},
		&[]models.MessageTemplate{},
		&[]models.Agent{},
		&[]models.Contact{},
		&[]models.Conversation{},
		&[]models.Message{},
		&[]models.Order{},
		&[]models.Automation{},
		&[]models.AutomationLog{},
		&[]models.AutomationContactTrigger{},
		&[]models.AutomationContinuation{},
	}
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger: logger.New(
			logrus.StandardLogger(),
			logger.Config{
				SlowThreshold:             time.Second,
				LogLevel:                  gormLogLevel(),
				IgnoreRecordNotFoundError: true,
			},
		),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func gormLogLevel() logger.LogLevel {
	switch logrus.GetLevel() {
	case logrus.TraceLevel:
		return logger.Info
	case logrus.DebugLevel, logrus.InfoLevel, logrus.WarnLevel:
		return logger.Warn
	default:
		return logger.Error
	}
}
