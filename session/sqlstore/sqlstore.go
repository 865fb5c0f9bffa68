package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/goOnboard/session"
	"github.com/MrEthical07/goOnboard/step"
	"github.com/bytedance/sonic"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect selects placeholder style and driver name.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// ErrUnsupportedDialect is returned for dialects other than sqlite and postgres.
var ErrUnsupportedDialect = errors.New("sqlstore: unsupported dialect")

func (d Dialect) driver() (string, error) {
	switch d {
	case DialectSQLite:
		return "sqlite", nil
	case DialectPostgres:
		return "pgx", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedDialect, string(d))
	}
}

// Repository is a session.Repository backed by one SQL table.
type Repository struct {
	db      *sql.DB
	dialect Dialect
}

var _ session.Repository = (*Repository)(nil)

// Open opens dsn with the driver registered for dialect and prepares the schema.
func Open(ctx context.Context, dialect Dialect, dsn string) (*Repository, error) {
	driver, err := dialect.driver()
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if dialect == DialectSQLite {
		// In-memory databases are per connection.
		db.SetMaxOpenConns(1)
	}
	repo, err := New(ctx, db, dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// New wraps an open database and creates the sessions table if needed.
func New(ctx context.Context, db *sql.DB, dialect Dialect) (*Repository, error) {
	if _, err := dialect.driver(); err != nil {
		return nil, err
	}
	r := &Repository{db: db, dialect: dialect}
	if err := r.initSchema(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Repository) initSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS onboard_sessions (
			entity_id   TEXT PRIMARY KEY,
			instance_id TEXT NOT NULL,
			step        TEXT NOT NULL,
			context     TEXT NOT NULL,
			created_at  BIGINT NOT NULL,
			updated_at  BIGINT NOT NULL,
			expires_at  BIGINT NOT NULL,
			retry_count INTEGER NOT NULL DEFAULT 0
		)`)
	return err
}

// Load implements session.Repository.
func (r *Repository) Load(ctx context.Context, entityID string) (*session.State, error) {
	row := r.db.QueryRowContext(ctx, r.rebind(`
		SELECT entity_id, instance_id, step, context, created_at, updated_at, expires_at, retry_count
		FROM onboard_sessions
		WHERE entity_id = ?`), entityID)

	var (
		s                               session.State
		stepName, rawCtx                string
		createdMs, updatedMs, expiresMs int64
	)
	err := row.Scan(&s.EntityID, &s.InstanceID, &stepName, &rawCtx, &createdMs, &updatedMs, &expiresMs, &s.RetryCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	st, err := step.ParseStep(stepName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", session.ErrCorrupt, err)
	}
	s.CurrentStep = st
	s.Context = session.NewContext()
	if err := sonic.UnmarshalString(rawCtx, s.Context); err != nil {
		return nil, fmt.Errorf("%w: %v", session.ErrCorrupt, err)
	}
	s.CreatedAt = time.UnixMilli(createdMs)
	s.UpdatedAt = time.UnixMilli(updatedMs)
	s.ExpiresAt = time.UnixMilli(expiresMs)
	return &s, nil
}

// Save implements session.Repository as an upsert on entity_id.
func (r *Repository) Save(ctx context.Context, s *session.State) error {
	if err := s.Validate(); err != nil {
		return err
	}
	rawCtx, err := sonic.MarshalString(s.Context)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, r.rebind(`
		INSERT INTO onboard_sessions (entity_id, instance_id, step, context, created_at, updated_at, expires_at, retry_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (entity_id) DO UPDATE SET
			instance_id = excluded.instance_id,
			step        = excluded.step,
			context     = excluded.context,
			created_at  = excluded.created_at,
			updated_at  = excluded.updated_at,
			expires_at  = excluded.expires_at,
			retry_count = excluded.retry_count`),
		s.EntityID,
		s.InstanceID,
		s.CurrentStep.String(),
		rawCtx,
		s.CreatedAt.UnixMilli(),
		s.UpdatedAt.UnixMilli(),
		s.ExpiresAt.UnixMilli(),
		s.RetryCount,
	)
	return err
}

// Delete implements session.Repository.
func (r *Repository) Delete(ctx context.Context, entityID string) error {
	_, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM onboard_sessions WHERE entity_id = ?`), entityID)
	return err
}

// PurgeExpired removes sessions that expired before now and returns how many.
func (r *Repository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM onboard_sessions WHERE expires_at <= ?`), now.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Close closes the underlying database.
func (r *Repository) Close() error {
	return r.db.Close()
}

// rebind rewrites '?' placeholders to '$n' for postgres.
func (r *Repository) rebind(query string) string {
	if r.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}
