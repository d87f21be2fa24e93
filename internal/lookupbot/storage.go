package lookupbot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/MarkoPoloResearchLab/lookupgate/internal/store/filestore"
	"github.com/MarkoPoloResearchLab/lookupgate/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/lookupgate/pkg/ledger"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	driverFile     = "file"
	driverSQLite   = "sqlite"
	driverPostgres = "postgres"

	defaultSQLiteFile = "lookupgate.db"
	sqliteMemory      = ":memory:"
	sqlitePragmas     = "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
)

// ErrUnsupportedStorage indicates a storage URL with an unknown scheme.
var ErrUnsupportedStorage = errors.New("unsupported storage url")

// Storage is an opened ledger.Store plus the pieces that only SQL backends provide.
type Storage struct {
	Store ledger.Store
	// Journal is nil for the file backend.
	Journal *gormstore.Journal
	Driver  string
	cleanup func() error
}

// Close releases the underlying database handle.
func (storage *Storage) Close() error {
	if storage == nil || storage.cleanup == nil {
		return nil
	}
	return storage.cleanup()
}

// OpenStorage opens the backend named by storageURL: file://<dir>, sqlite://<path>, or postgres://<dsn>.
// A bare path is treated as an sqlite database file.
func OpenStorage(ctx context.Context, storageURL string, seed ledger.RuntimeConfig, logger *zap.Logger) (*Storage, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	driver, location, err := resolveStorage(storageURL)
	if err != nil {
		return nil, err
	}
	if driver == driverFile {
		store, err := filestore.Open(location, seed, filestore.WithLogger(logger.Named("filestore")))
		if err != nil {
			return nil, err
		}
		return &Storage{Store: store, Driver: driver}, nil
	}

	db, cleanup, err := openDatabase(ctx, driver, location)
	if err != nil {
		return nil, fmt.Errorf("database open: %w", err)
	}
	if err := gormstore.Migrate(db); err != nil {
		_ = cleanup()
		return nil, err
	}
	return &Storage{
		Store:   gormstore.New(db, seed),
		Journal: gormstore.NewJournal(db, logger.Named("journal")),
		Driver:  driver,
		cleanup: cleanup,
	}, nil
}

func openDatabase(ctx context.Context, driver string, location string) (*gorm.DB, func() error, error) {
	config := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)}
	var (
		db  *gorm.DB
		err error
	)
	switch driver {
	case driverPostgres:
		db, err = gorm.Open(postgres.Open(location), config)
	case driverSQLite:
		dsn := location
		if dsn != sqliteMemory {
			dsn += sqlitePragmas
		}
		db, err = gorm.Open(sqlite.Open(dsn), config)
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnsupportedStorage, driver)
	}
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	if driver == driverSQLite {
		// One connection keeps sqlite writers from tripping over each other.
		sqlDB.SetMaxOpenConns(1)
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, nil
}

func resolveStorage(raw string) (string, string, error) {
	trimmed := strings.TrimSpace(raw)
	switch {
	case trimmed == "":
		return "", "", fmt.Errorf("%w: empty", ErrUnsupportedStorage)
	case strings.HasPrefix(trimmed, "file://"):
		directory := strings.TrimPrefix(trimmed, "file://")
		if directory == "" {
			return "", "", fmt.Errorf("%w: file url without directory", ErrUnsupportedStorage)
		}
		return driverFile, filepath.Clean(directory), nil
	case strings.HasPrefix(trimmed, "postgres://"), strings.HasPrefix(trimmed, "postgresql://"):
		return driverPostgres, trimmed, nil
	case strings.HasPrefix(trimmed, "sqlite://"):
		path := strings.TrimPrefix(trimmed, "sqlite://")
		if path == "" || path == "/" {
			path = defaultSQLiteFile
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return driverSQLite, sqlitePath, err
	case strings.Contains(trimmed, "://"):
		return "", "", fmt.Errorf("%w: %q", ErrUnsupportedStorage, trimmed)
	}
	sqlitePath, err := normalizeSQLitePath(trimmed)
	return driverSQLite, sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == sqliteMemory {
		return path, nil
	}
	cleaned := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleaned), 0o755); err != nil {
		return "", err
	}
	return cleaned, nil
}
