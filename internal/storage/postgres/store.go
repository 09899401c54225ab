package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// errStoreNotInitialized возвращается методами nil-хранилища.
var errStoreNotInitialized = errors.New("postgres store is not initialized")

// poolSettings описывает параметры пула database/sql.
type poolSettings struct {
	maxConns        int
	connMaxLifetime time.Duration
	connMaxIdleTime time.Duration
	pingTimeout     time.Duration
}

func defaultPoolSettings() poolSettings {
	return poolSettings{
		maxConns:        25,
		connMaxLifetime: 30 * time.Minute,
		connMaxIdleTime: 5 * time.Minute,
		pingTimeout:     5 * time.Second,
	}
}

// Option настраивает пул подключений.
type Option func(*poolSettings)

// WithMaxConns ограничивает число открытых и простаивающих соединений.
// Неположительное значение оставляет значение по умолчанию.
func WithMaxConns(n int) Option {
	return func(p *poolSettings) {
		if n > 0 {
			p.maxConns = n
		}
	}
}

// WithPingTimeout задаёт таймаут проверки доступности базы.
func WithPingTimeout(timeout time.Duration) Option {
	return func(p *poolSettings) {
		if timeout > 0 {
			p.pingTimeout = timeout
		}
	}
}

// Store держит пул соединений с базой каталога и заказов.
// Репозитории пакета работают через него и видят транзакцию из ctx.
type Store struct {
	db          *sql.DB
	pingTimeout time.Duration
}

// Open открывает пул через драйвер pgx и дожидается ответа базы.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	settings := defaultPoolSettings()
	for _, opt := range opts {
		opt(&settings)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(settings.maxConns)
	db.SetMaxIdleConns(settings.maxConns)
	db.SetConnMaxLifetime(settings.connMaxLifetime)
	db.SetConnMaxIdleTime(settings.connMaxIdleTime)

	store := &Store{db: db, pingTimeout: settings.pingTimeout}
	if err := store.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return store, nil
}

// DB отдаёт пул для служебных запросов (миграции, тесты).
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping используется health-проверкой хранилища.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}

	pingCtx, cancel := context.WithTimeout(ctx, s.pingTimeout)
	defer cancel()
	return s.db.PingContext(pingCtx)
}

// MaxOpenConns возвращает лимит пула.
func (s *Store) MaxOpenConns() int {
	if s == nil || s.db == nil {
		return 0
	}
	return s.db.Stats().MaxOpenConnections
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
