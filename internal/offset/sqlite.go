package offset

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/MuchTitan/go-log-shipper/internal"
	"github.com/MuchTitan/go-log-shipper/internal/database"
	"github.com/sirupsen/logrus"
)

// SQLiteStore keeps one row per tracked file. Each commit is its own transaction.
type SQLiteStore struct {
	db *database.DBManager
}

func NewSQLiteStore(dbFile string) (*SQLiteStore, error) {
	dbManager, err := database.NewDBManager(dbFile)
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{db: dbManager}
	if err := s.createTables(context.Background()); err != nil {
		dbManager.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	query := `CREATE TABLE IF NOT EXISTS shipped_files (
        id TEXT NOT NULL PRIMARY KEY,
        byte_offset INTEGER NOT NULL,
        inode INTEGER NOT NULL,
        size INTEGER NOT NULL,
        mod_time INTEGER NOT NULL,
        head TEXT NOT NULL,
        head_len INTEGER NOT NULL,
        updated_at INTEGER NOT NULL
    )`
	if _, err := s.db.ExecuteWrite(ctx, query); err != nil {
		return fmt.Errorf("could not create db table shipped_files: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context) (Record, error) {
	record := Record{}

	rows, err := s.db.Query(ctx, `SELECT id, byte_offset, inode, size, mod_time, head, head_len, updated_at FROM shipped_files`)
	if err != nil {
		logrus.WithError(err).Warn("could not read shipped_files, starting from offset 0")
		return record, nil
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id              string
			pos             internal.Position
			inode           int64
			modTime, update int64
		)
		if err := rows.Scan(&id, &pos.Offset, &inode, &pos.Signature.Size, &modTime,
			&pos.Signature.Head, &pos.Signature.HeadLen, &update); err != nil {
			logrus.WithError(err).Warn("skipping unreadable shipped_files row")
			continue
		}
		pos.Signature.Inode = uint64(inode)
		pos.Signature.ModTime = time.Unix(0, modTime).UTC()
		pos.UpdatedAt = time.Unix(0, update).UTC()
		record[id] = pos
	}
	if err := rows.Err(); err != nil {
		logrus.WithError(err).Warn("error iterating shipped_files")
	}
	return record, nil
}

func (s *SQLiteStore) Commit(ctx context.Context, id string, pos internal.Position) error {
	if pos.UpdatedAt.IsZero() {
		pos.UpdatedAt = time.Now().UTC()
	}

	err := s.db.ExecuteWriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
            INSERT OR REPLACE INTO shipped_files
            (id, byte_offset, inode, size, mod_time, head, head_len, updated_at)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id,
			pos.Offset,
			int64(pos.Signature.Inode),
			pos.Signature.Size,
			pos.Signature.ModTime.UnixNano(),
			pos.Signature.Head,
			pos.Signature.HeadLen,
			pos.UpdatedAt.UnixNano(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

func (s *SQLiteStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecuteWrite(ctx, `DELETE FROM shipped_files WHERE updated_at < ?`, olderThan.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
