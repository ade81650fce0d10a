package store

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/casparianflow/sentinel/internal/logger"
)

// Store wraps the gorm handle with the logger the teacher's
// internal/db.PostgresService carries alongside its *gorm.DB.
type Store struct {
	db  *gorm.DB
	log *logger.Logger
}

// Open opens the backend named by a resolved state-store URL (see
// internal/config.ResolveStateStoreURL). sqlite: and postgres(ql): are the
// two supported schemes; duckdb: and sqlserver: are accepted by the URL
// resolver as recognized schemes but rejected here with a clear error,
// since no GORM dialect for them is wired into SPEC_FULL.md (see
// DESIGN.md).
func Open(rawURL string, appLog *logger.Logger) (*Store, error) {
	storeLog := appLog.With("component", "Store")

	gormLog := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             1 * time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	cfg := &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger: gormLog,
	}

	switch {
	case strings.HasPrefix(rawURL, "sqlite:"):
		path := strings.TrimPrefix(rawURL, "sqlite:")
		storeLog.Info("Connecting to sqlite state store", "path", path)
		db, err := gorm.Open(sqlite.Open(path+"?_journal_mode=WAL&_busy_timeout=5000"), cfg)
		if err != nil {
			storeLog.Error("Failed to open sqlite state store", "error", err)
			return nil, fmt.Errorf("store: open sqlite: %w", err)
		}
		// SQLite has no SKIP LOCKED or row-level locking; cap the pool to
		// one connection so the Claim transaction's select-then-update is
		// single-writer-serialized at the connection-pool level instead of
		// racing across pooled connections.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("store: sqlite underlying db: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
		return &Store{db: db, log: storeLog}, nil

	case strings.HasPrefix(rawURL, "postgres:"), strings.HasPrefix(rawURL, "postgresql:"):
		storeLog.Info("Connecting to postgres state store")
		db, err := gorm.Open(postgres.Open(rawURL), cfg)
		if err != nil {
			storeLog.Error("Failed to open postgres state store", "error", err)
			return nil, fmt.Errorf("store: open postgres: %w", err)
		}
		return &Store{db: db, log: storeLog}, nil

	case strings.HasPrefix(rawURL, "duckdb:"), strings.HasPrefix(rawURL, "sqlserver:"):
		return nil, fmt.Errorf("store: %s is a recognized state-store scheme but no dialect is wired for it", rawURL)

	default:
		return nil, fmt.Errorf("store: unrecognized state store URL %q", rawURL)
	}
}

// AutoMigrate checks and advances the _schema_version row per spec §6.4,
// then creates or updates the remaining State Store tables: a store whose
// recorded version is newer than CurrentSchemaVersion means this binary is
// older than the data it's opening, and AutoMigrate must refuse that
// downgrade rather than migrate a schema it doesn't understand.
func (s *Store) AutoMigrate() error {
	s.log.Info("Auto migrating state store tables...")
	if err := s.db.AutoMigrate(&SchemaVersion{}); err != nil {
		s.log.Error("Auto migration failed", "error", err)
		return err
	}
	if err := s.checkAndStampSchemaVersion(); err != nil {
		return err
	}
	if err := s.db.AutoMigrate(&Job{}, &Approval{}, &Session{}, &WorkerNode{}); err != nil {
		s.log.Error("Auto migration failed", "error", err)
		return err
	}
	return nil
}

// checkAndStampSchemaVersion reads the single _schema_version row (creating
// it at CurrentSchemaVersion if absent), refuses to proceed if the stored
// version is newer than what this build knows, and otherwise advances it
// to CurrentSchemaVersion.
func (s *Store) checkAndStampSchemaVersion() error {
	var row SchemaVersion
	err := s.db.First(&row).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		row = SchemaVersion{ID: 1, Version: CurrentSchemaVersion}
		if err := s.db.Create(&row).Error; err != nil {
			return fmt.Errorf("store: stamp initial schema version: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("store: read schema version: %w", err)
	}

	if row.Version > CurrentSchemaVersion {
		return fmt.Errorf("store: state store schema version %d is newer than this build supports (%d); refusing to downgrade", row.Version, CurrentSchemaVersion)
	}
	if row.Version < CurrentSchemaVersion {
		return s.db.Model(&SchemaVersion{}).Where("id = ?", row.ID).Update("version", CurrentSchemaVersion).Error
	}
	return nil
}

// DB exposes the underlying gorm handle for packages (approval, sentinel,
// controlapi) that need direct query access beyond this package's repo
// methods.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
