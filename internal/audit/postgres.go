package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"

	"opz-funnels/internal/models"
)

var tableName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// PostgresLog stores entries in one table, the newest max rows are kept.
type PostgresLog struct {
	db    *sql.DB
	table string
	max   int
}

func NewPostgresLog(db *sql.DB, table string, max int) (*PostgresLog, error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid audit table name %q", table)
	}
	return &PostgresLog{db: db, table: table, max: capOrDefault(max)}, nil
}

// EnsureSchema creates the table and its user index when missing.
func (l *PostgresLog) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			user_ref TEXT NOT NULL,
			partner TEXT NOT NULL,
			status TEXT NOT NULL,
			entry JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, l.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_user_ref_idx ON %s (user_ref)`, l.table, l.table),
	}
	for _, stmt := range stmts {
		if _, err := l.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure audit schema: %w", err)
		}
	}
	return nil
}

// Append inserts the entry and evicts everything older than the newest max
// rows in the same transaction.
func (l *PostgresLog) Append(ctx context.Context, entry models.ReferralEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	insert := fmt.Sprintf(`INSERT INTO %s (user_ref, partner, status, entry) VALUES ($1, $2, $3, $4)`, l.table)
	if _, err := tx.ExecContext(ctx, insert, entry.UserRef, string(entry.Partner), string(entry.Status), raw); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}

	evict := fmt.Sprintf(`DELETE FROM %s WHERE id <= (SELECT id FROM %s ORDER BY id DESC OFFSET $1 LIMIT 1)`, l.table, l.table)
	if _, err := tx.ExecContext(ctx, evict, l.max); err != nil {
		return fmt.Errorf("trim audit log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit audit entry: %w", err)
	}
	return nil
}

func (l *PostgresLog) History(ctx context.Context) ([]models.ReferralEntry, error) {
	return l.query(ctx, fmt.Sprintf(`SELECT entry FROM %s ORDER BY id ASC`, l.table))
}

func (l *PostgresLog) ForUser(ctx context.Context, userRef string) ([]models.ReferralEntry, error) {
	return l.query(ctx, fmt.Sprintf(`SELECT entry FROM %s WHERE user_ref = $1 ORDER BY id ASC`, l.table), userRef)
}

func (l *PostgresLog) query(ctx context.Context, q string, args ...interface{}) ([]models.ReferralEntry, error) {
	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	out := make([]models.ReferralEntry, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		var e models.ReferralEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("decode audit entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
