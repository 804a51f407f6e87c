// Package postgres implements the identity store, access checks and job
// history on PostgreSQL using pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JonMunkholm/userimport/internal/core"
	"github.com/JonMunkholm/userimport/internal/security"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	_ core.IdentityStore = (*Store)(nil)
	_ core.AccessStore   = (*Store)(nil)
	_ core.JobHistory    = (*Store)(nil)
)

// Store is a pgx-backed store. Lookups that find nothing return (nil, nil).
type Store struct {
	pool   *pgxpool.Pool
	hasher *security.Hasher
}

// New wraps pool. hasher may be nil to use bcrypt.DefaultCost.
func New(pool *pgxpool.Pool, hasher *security.Hasher) *Store {
	if hasher == nil {
		hasher = security.NewHasher(0)
	}
	return &Store{pool: pool, hasher: hasher}
}

// Status values as persisted. 0 is blocked, 1 is active.
func statusToDB(s core.StatusFlag) int16 {
	if s == core.StatusActive {
		return 1
	}
	return 0
}

func statusFromDB(v int16) core.StatusFlag {
	if v == 1 {
		return core.StatusActive
	}
	return core.StatusBlocked
}

const accountColumns = `id, username, email, init, status, locale, preferred_locale,
	preferred_admin_locale, timezone, created_at, updated_at`

func scanAccount(row pgx.Row) (*core.Account, error) {
	var (
		a      core.Account
		status int16
	)
	err := row.Scan(&a.ID, &a.Username, &a.Email, &a.Init, &status, &a.Locale,
		&a.PreferredLocale, &a.PreferredAdminLocale, &a.Timezone, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Status = statusFromDB(status)
	return &a, nil
}

// ============================================================================
// Identity store
// ============================================================================

func (s *Store) FindAccountByEmail(ctx context.Context, email string) (*core.Account, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE lower(email) = lower($1)`, email)
	acct, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select account: %w", err)
	}
	return acct, nil
}

func (s *Store) UsernameExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM accounts WHERE username = $1)`, username).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("select username: %w", err)
	}
	return exists, nil
}

// CreateAccount inserts the account and an empty profile in one transaction.
func (s *Store) CreateAccount(ctx context.Context, na core.NewAccount) (*core.Account, error) {
	hash, err := s.hasher.Hash(na.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
INSERT INTO accounts (id, username, email, init, status, password_hash, locale,
	preferred_locale, preferred_admin_locale, timezone)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING `+accountColumns,
		uuid.New().String(), na.Username, na.Email, na.Init, statusToDB(na.Status), hash,
		na.Locale, na.PreferredLocale, na.PreferredAdminLocale, na.Timezone)
	acct, err := scanAccount(row)
	if err != nil {
		return nil, fmt.Errorf("insert account: %w", err)
	}

	if _, err := tx.Exec(ctx, `INSERT INTO profiles (account_id) VALUES ($1)`, acct.ID); err != nil {
		return nil, fmt.Errorf("insert profile: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit account: %w", err)
	}
	return acct, nil
}

func (s *Store) UpdateAccount(ctx context.Context, acct *core.Account) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE accounts
SET status = $2, locale = $3, preferred_locale = $4, preferred_admin_locale = $5,
	timezone = $6, updated_at = NOW()
WHERE id = $1`,
		acct.ID, statusToDB(acct.Status), acct.Locale, acct.PreferredLocale,
		acct.PreferredAdminLocale, acct.Timezone)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update account %s: not found", acct.ID)
	}
	return nil
}

func (s *Store) LoadProfile(ctx context.Context, accountID string) (*core.Profile, error) {
	p := core.Profile{AccountID: accountID}
	err := s.pool.QueryRow(ctx,
		`SELECT first_name, last_name, organization FROM profiles WHERE account_id = $1`,
		accountID).Scan(&p.FirstName, &p.LastName, &p.Organization)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select profile: %w", err)
	}
	return &p, nil
}

func (s *Store) SaveProfile(ctx context.Context, p *core.Profile) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO profiles (account_id, first_name, last_name, organization)
VALUES ($1, $2, $3, $4)
ON CONFLICT (account_id) DO UPDATE
	SET first_name = EXCLUDED.first_name,
	    last_name = EXCLUDED.last_name,
	    organization = EXCLUDED.organization`,
		p.AccountID, p.FirstName, p.LastName, p.Organization)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

func (s *Store) AddGroupMember(ctx context.Context, groupID, accountID string) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO group_members (group_id, account_id) VALUES ($1, $2)
ON CONFLICT (group_id, account_id) DO NOTHING`, groupID, accountID)
	if err != nil {
		return fmt.Errorf("insert group member: %w", err)
	}
	return nil
}

// ============================================================================
// Access store
// ============================================================================

func (s *Store) GroupExists(ctx context.Context, groupID string) (bool, error) {
	return s.exists(ctx, `SELECT EXISTS (SELECT 1 FROM groups WHERE id = $1)`, groupID)
}

func (s *Store) IsGroupMember(ctx context.Context, groupID, accountID string) (bool, error) {
	return s.exists(ctx,
		`SELECT EXISTS (SELECT 1 FROM group_members WHERE group_id = $1 AND account_id = $2)`,
		groupID, accountID)
}

func (s *Store) HasGroupPermission(ctx context.Context, groupID, accountID, permission string) (bool, error) {
	return s.exists(ctx, `
SELECT EXISTS (
	SELECT 1 FROM group_permissions
	WHERE group_id = $1 AND account_id = $2 AND permission = $3
)`, groupID, accountID, permission)
}

func (s *Store) HasRole(ctx context.Context, accountID, role string) (bool, error) {
	return s.exists(ctx,
		`SELECT EXISTS (SELECT 1 FROM account_roles WHERE account_id = $1 AND role = $2)`,
		accountID, role)
}

func (s *Store) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var ok bool
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&ok); err != nil {
		return false, fmt.Errorf("access check: %w", err)
	}
	return ok, nil
}

// EnsureGroup creates groupID if it does not exist.
func (s *Store) EnsureGroup(ctx context.Context, groupID, label string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO groups (id, label) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
		groupID, label)
	if err != nil {
		return fmt.Errorf("insert group: %w", err)
	}
	return nil
}

// GrantGroupPermission gives accountID a permission inside groupID.
func (s *Store) GrantGroupPermission(ctx context.Context, groupID, accountID, permission string) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO group_permissions (group_id, account_id, permission) VALUES ($1, $2, $3)
ON CONFLICT DO NOTHING`, groupID, accountID, permission)
	if err != nil {
		return fmt.Errorf("grant group permission: %w", err)
	}
	return nil
}

// GrantRole gives accountID a site-wide role.
func (s *Store) GrantRole(ctx context.Context, accountID, role string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO account_roles (account_id, role) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		accountID, role)
	if err != nil {
		return fmt.Errorf("grant role: %w", err)
	}
	return nil
}

// ============================================================================
// Job history
// ============================================================================

func (s *Store) RecordJob(ctx context.Context, j core.JobSummary) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO import_jobs (id, source_file, group_id, phase, rows_processed, created,
	updated, failed, report_file, message, duration_ms, started_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (id) DO UPDATE
	SET phase = EXCLUDED.phase,
	    rows_processed = EXCLUDED.rows_processed,
	    created = EXCLUDED.created,
	    updated = EXCLUDED.updated,
	    failed = EXCLUDED.failed,
	    report_file = EXCLUDED.report_file,
	    message = EXCLUDED.message,
	    duration_ms = EXCLUDED.duration_ms,
	    finished_at = EXCLUDED.finished_at`,
		j.ID, j.SourceFile, j.GroupID, string(j.Phase), j.RowsProcessed, j.Created,
		j.Updated, j.Failed, j.ReportFile, j.Message, j.Duration.Milliseconds(),
		j.StartedAt, j.FinishedAt)
	if err != nil {
		return fmt.Errorf("insert import job: %w", err)
	}
	return nil
}

const jobColumns = `id, source_file, group_id, phase, rows_processed, created, updated,
	failed, report_file, message, duration_ms, started_at, finished_at`

func scanJob(row pgx.Row) (core.JobSummary, error) {
	var (
		j     core.JobSummary
		phase string
		ms    int64
	)
	err := row.Scan(&j.ID, &j.SourceFile, &j.GroupID, &phase, &j.RowsProcessed, &j.Created,
		&j.Updated, &j.Failed, &j.ReportFile, &j.Message, &ms, &j.StartedAt, &j.FinishedAt)
	j.Phase = core.JobPhase(phase)
	j.Duration = time.Duration(ms) * time.Millisecond
	return j, err
}

func (s *Store) GetJob(ctx context.Context, id string) (*core.JobSummary, error) {
	j, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM import_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select import job: %w", err)
	}
	return &j, nil
}

func (s *Store) ListJobs(ctx context.Context, limit int) ([]core.JobSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM import_jobs ORDER BY finished_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list import jobs: %w", err)
	}
	defer rows.Close()

	var out []core.JobSummary
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan import job: %w", err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list import jobs: %w", err)
	}
	return out, nil
}

func (s *Store) PurgeJobsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM import_jobs WHERE finished_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge import jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}
