package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/KnotATypo/Telegram-Bots/internal/models"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrations embed.FS

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type DatabaseConfig struct {
	Driver   string
	Path     string
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// SQLStorage keeps items, occupancy and registered chats in SQLite or
// PostgreSQL. Every method is a standalone statement on the pool so the
// dispatcher and the notifier can use it concurrently.
type SQLStorage struct {
	db     *sql.DB
	driver string
	logger *zap.Logger
}

// New returns the storage selected by config.Driver.
func New(config DatabaseConfig, logger *zap.Logger) (Storage, error) {
	switch config.Driver {
	case DriverMemory:
		return NewMemoryStorage(), nil
	case DriverSQLite, DriverPostgres:
		return NewSQLStorage(config, logger)
	default:
		return nil, fmt.Errorf("unknown database driver %q", config.Driver)
	}
}

func NewSQLStorage(config DatabaseConfig, logger *zap.Logger) (*SQLStorage, error) {
	var dsn string
	switch config.Driver {
	case DriverPostgres:
		dsn = fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)
	case DriverSQLite:
		if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create db directory: %w", err)
		}
		dsn = config.Path + "?_pragma=busy_timeout(5000)"
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", config.Driver)
	}

	db, err := sql.Open(config.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	if config.Driver == DriverSQLite {
		// sqlite allows a single writer
		db.SetMaxOpenConns(1)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	storage := &SQLStorage{db: db, driver: config.Driver, logger: logger}

	// Initialize database schema
	if err := storage.initializeSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}

	logger.Info("Database ready", zap.String("driver", config.Driver))
	return storage, nil
}

func (s *SQLStorage) initializeSchema() error {
	// Read migrations file
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %w", err)
	}

	// Execute migrations
	if _, err := s.db.Exec(string(migrationSQL)); err != nil {
		return fmt.Errorf("error executing migrations: %w", err)
	}

	return nil
}

// rebind rewrites ? placeholders into the $n form PostgreSQL expects.
func (s *SQLStorage) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStorage) AddItem(ctx context.Context, item *models.Item) error {
	query := s.rebind(`INSERT INTO items (name, date) VALUES (?, ?)`)

	if _, err := s.db.ExecContext(ctx, query, item.Name, item.Date); err != nil {
		return fmt.Errorf("error adding item: %w", err)
	}
	return nil
}

func (s *SQLStorage) ListItems(ctx context.Context) ([]*models.Item, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, date FROM items`)
	if err != nil {
		return nil, fmt.Errorf("error querying items: %w", err)
	}
	defer rows.Close()

	var items []*models.Item
	for rows.Next() {
		item := &models.Item{}
		if err := rows.Scan(&item.Name, &item.Date); err != nil {
			return nil, fmt.Errorf("error scanning item: %w", err)
		}
		items = append(items, item)
	}

	return items, rows.Err()
}

func (s *SQLStorage) RemoveItems(ctx context.Context, name string) (int64, error) {
	query := s.rebind(`DELETE FROM items WHERE name = ?`)

	result, err := s.db.ExecContext(ctx, query, name)
	if err != nil {
		return 0, fmt.Errorf("error removing item: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error getting rows affected: %w", err)
	}

	return rowsAffected, nil
}

func (s *SQLStorage) AddOccupancy(ctx context.Context, o *models.Occupancy) error {
	query := s.rebind(`INSERT INTO occupancy (time, count) VALUES (?, ?)`)

	if _, err := s.db.ExecContext(ctx, query, o.Time.Format(time.RFC3339), o.Count); err != nil {
		return fmt.Errorf("error adding occupancy: %w", err)
	}
	return nil
}

func (s *SQLStorage) ListOccupancy(ctx context.Context) ([]*models.Occupancy, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT time, count FROM occupancy`)
	if err != nil {
		return nil, fmt.Errorf("error querying occupancy: %w", err)
	}
	defer rows.Close()

	var result []*models.Occupancy
	for rows.Next() {
		var (
			stamp string
			count int
		)
		if err := rows.Scan(&stamp, &count); err != nil {
			return nil, fmt.Errorf("error scanning occupancy: %w", err)
		}
		t, err := time.Parse(time.RFC3339, stamp)
		if err != nil {
			s.logger.Warn("Skipping occupancy row with bad time",
				zap.String("time", stamp),
				zap.Error(err))
			continue
		}
		result = append(result, &models.Occupancy{Time: t, Count: count})
	}

	return result, rows.Err()
}

func (s *SQLStorage) RegisterChat(ctx context.Context, chatID int64) error {
	query := s.rebind(`INSERT INTO chats (chat_id) VALUES (?) ON CONFLICT (chat_id) DO NOTHING`)

	if _, err := s.db.ExecContext(ctx, query, chatID); err != nil {
		return fmt.Errorf("error registering chat: %w", err)
	}
	return nil
}

func (s *SQLStorage) ListChats(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT chat_id FROM chats ORDER BY chat_id`)
	if err != nil {
		return nil, fmt.Errorf("error querying chats: %w", err)
	}
	defer rows.Close()

	var chats []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("error scanning chat: %w", err)
		}
		chats = append(chats, id)
	}

	return chats, rows.Err()
}

func (s *SQLStorage) Close() error {
	return s.db.Close()
}
