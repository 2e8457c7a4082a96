package db

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type contextKey string

const (
	sessionKey contextKey = "db_session"
	txKey      contextKey = "db_tx"
)

// AppRole is the database role every request transaction switches to.
const AppRole = "fhir_app"

var tenantIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// ValidTenantID reports whether id is an acceptable tenant slug.
func ValidTenantID(id string) bool {
	return tenantIDPattern.MatchString(id)
}

// Session carries the caller identity that row-level security policies read
// through the app.* settings.
type Session struct {
	TenantID       string
	UserID         string
	Role           string
	PatientID      string
	PractitionerID string
}

// Querier is the subset of pgx shared by pools, connections and transactions.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// WithSession attaches the caller session to ctx.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// SessionFromContext returns the session attached by WithSession.
func SessionFromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey).(Session)
	return s, ok
}

// TenantFromContext returns the tenant of the current session, if any.
func TenantFromContext(ctx context.Context) string {
	s, _ := SessionFromContext(ctx)
	return s.TenantID
}

// QuerierFromContext returns the session transaction opened by Runner.Run.
func QuerierFromContext(ctx context.Context) Querier {
	tx, _ := ctx.Value(txKey).(pgx.Tx)
	if tx == nil {
		return nil
	}
	return tx
}

// ErrNoSession is returned when a session scoped operation runs without an
// authenticated session in its context.
var ErrNoSession = errors.New("no database session in context")

// Runner executes work inside a transaction bound to the caller session.
type Runner struct {
	pool *pgxpool.Pool
}

func NewRunner(pool *pgxpool.Pool) *Runner {
	return &Runner{pool: pool}
}

// Run opens a transaction, switches to AppRole, applies the session settings
// and calls fn with a context carrying the transaction. The transaction is
// committed when fn returns nil and rolled back otherwise.
func (r *Runner) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	s, ok := SessionFromContext(ctx)
	if !ok {
		return ErrNoSession
	}
	if !ValidTenantID(s.TenantID) {
		return fmt.Errorf("invalid tenant identifier %q", s.TenantID)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin session: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := ApplySession(ctx, tx, s); err != nil {
		return err
	}

	if err := fn(context.WithValue(ctx, txKey, tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit session: %w", err)
	}
	return nil
}

// ApplySession switches the transaction to AppRole and writes the app.*
// settings. Both are transaction local.
func ApplySession(ctx context.Context, tx pgx.Tx, s Session) error {
	if _, err := tx.Exec(ctx, "SET LOCAL ROLE "+AppRole); err != nil {
		return fmt.Errorf("set role: %w", err)
	}
	_, err := tx.Exec(ctx, `SELECT
		set_config('app.tenant_id', $1, true),
		set_config('app.user_id', $2, true),
		set_config('app.role', $3, true),
		set_config('app.patient_id', $4, true),
		set_config('app.practitioner_id', $5, true)`,
		s.TenantID, s.UserID, s.Role, s.PatientID, s.PractitionerID,
	)
	if err != nil {
		return fmt.Errorf("apply session settings: %w", err)
	}
	return nil
}
