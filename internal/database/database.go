package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"neonetworker/internal/config"
	"neonetworker/internal/domain"
	"neonetworker/internal/models"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	dialectPostgres = "postgres"
	dialectSQLite   = "sqlite"
)

type DB struct {
	gorm    *gorm.DB
	dialect string
	logger  *zerolog.Logger
}

// Open connects to the database named by cfg.URL. postgres:// and
// postgresql:// URLs use the Postgres driver; sqlite://, file: and bare paths
// use SQLite.
func Open(cfg config.DatabaseConfig, logger *zerolog.Logger) (*DB, error) {
	if logger == nil {
		l := zerolog.Nop()
		logger = &l
	}

	dialector, dialect, err := dialectorFor(cfg.URL)
	if err != nil {
		return nil, err
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger:         &gormLogger{logger: logger, slow: 200 * time.Millisecond, level: gormlogger.Warn},
		NowFunc:        func() time.Time { return time.Now().UTC() },
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if dialect == dialectSQLite {
		// sqlite serialises writers anyway; one connection avoids SQLITE_BUSY
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	logger.Info().Str("dialect", dialect).Msg("database connected")
	return &DB{gorm: gdb, dialect: dialect, logger: logger}, nil
}

func dialectorFor(url string) (gorm.Dialector, string, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, "", errors.New("database url is empty")
	}

	scheme, rest, hasScheme := strings.Cut(url, "://")
	if hasScheme {
		// SQLAlchemy style driver suffixes, e.g. postgresql+psycopg2
		scheme, _, _ = strings.Cut(scheme, "+")
	}

	switch {
	case hasScheme && (scheme == "postgres" || scheme == "postgresql"):
		return postgres.Open("postgres://" + rest), dialectPostgres, nil
	case hasScheme && scheme == "sqlite":
		return openSQLite(rest)
	case hasScheme:
		return nil, "", fmt.Errorf("unsupported database scheme %q", scheme)
	case strings.HasPrefix(url, "file:"), url == ":memory:":
		return sqlite.Open(url), dialectSQLite, nil
	default:
		return openSQLite(url)
	}
}

func openSQLite(path string) (gorm.Dialector, string, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, "", fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}
	return sqlite.Open(path), dialectSQLite, nil
}

// Migrate creates or updates every table.
func (db *DB) Migrate(ctx context.Context) error {
	if err := db.gorm.WithContext(ctx).AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

func (db *DB) Ping(ctx context.Context) error {
	sqlDB, err := db.gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (db *DB) Close() error {
	sqlDB, err := db.gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Dialect returns "postgres" or "sqlite".
func (db *DB) Dialect() string {
	return db.dialect
}

// Gorm exposes the underlying handle for transactions spanning repositories.
func (db *DB) Gorm() *gorm.DB {
	return db.gorm
}

func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return domain.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", domain.ErrConflict, err)
	}
	return err
}

func likeTerm(s string) string {
	return "%" + strings.ToLower(strings.TrimSpace(s)) + "%"
}

type gormLogger struct {
	logger *zerolog.Logger
	slow   time.Duration
	level  gormlogger.LogLevel
}

func (l *gormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	next := *l
	next.level = level
	return &next
}

func (l *gormLogger) Info(_ context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Info {
		l.logger.Info().Msgf(msg, args...)
	}
}

func (l *gormLogger) Warn(_ context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Warn {
		l.logger.Warn().Msgf(msg, args...)
	}
}

func (l *gormLogger) Error(_ context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Error {
		l.logger.Error().Msgf(msg, args...)
	}
}

func (l *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= gormlogger.Error:
		sql, rows := fc()
		l.logger.Error().Err(err).Dur("elapsed", elapsed).Int64("rows", rows).Str("sql", sql).Msg("query failed")
	case l.slow > 0 && elapsed > l.slow && l.level >= gormlogger.Warn:
		sql, rows := fc()
		l.logger.Warn().Dur("elapsed", elapsed).Int64("rows", rows).Str("sql", sql).Msg("slow query")
	case l.level >= gormlogger.Info:
		sql, rows := fc()
		l.logger.Debug().Dur("elapsed", elapsed).Int64("rows", rows).Str("sql", sql).Msg("query")
	}
}
