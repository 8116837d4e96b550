package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// DBManager serialises writes to a single sqlite database file.
type DBManager struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// NewDBManager opens the sqlite database at dbPath. The journal is kept in WAL mode so a crash
// during a write transaction rolls back to the last committed state.
func NewDBManager(dbPath string) (*DBManager, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=FULL", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open sqlite3 database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not reach sqlite3 database %s: %w", dbPath, err)
	}

	logrus.WithField("file", dbPath).Debug("Opened sqlite3 database")

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &DBManager{
		db:   db,
		path: dbPath,
	}, nil
}

// ExecuteWrite performs a single write statement.
func (dm *DBManager) ExecuteWrite(ctx context.Context, query string, args ...any) (sql.Result, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	return dm.db.ExecContext(ctx, query, args...)
}

// ExecuteWriteTx runs fn inside one transaction. Any error from fn rolls the transaction back.
func (dm *DBManager) ExecuteWriteTx(ctx context.Context, fn func(*sql.Tx) error) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	tx, err := dm.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logrus.WithField("file", dm.path).WithError(rbErr).Warn("rollback failed")
		}
		return err
	}

	return tx.Commit()
}

func (dm *DBManager) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return dm.db.QueryRowContext(ctx, query, args...)
}

func (dm *DBManager) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return dm.db.QueryContext(ctx, query, args...)
}

func (dm *DBManager) Close() error {
	return dm.db.Close()
}
