package merchant

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// PostgresDirectory implements Directory on PostgreSQL.
type PostgresDirectory struct {
	db        *sql.DB
	ownsDB    bool
	tableName string
	policy    LockoutPolicy
}

// NewPostgresDirectory opens a connection pool and verifies it.
func NewPostgresDirectory(connectionString string, policy LockoutPolicy) (*PostgresDirectory, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	d := &PostgresDirectory{db: db, ownsDB: true, tableName: "merchants", policy: policy}
	if err := d.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

// NewPostgresDirectoryWithDB reuses an existing connection pool.
func NewPostgresDirectoryWithDB(db *sql.DB, policy LockoutPolicy) (*PostgresDirectory, error) {
	d := &PostgresDirectory{db: db, ownsDB: false, tableName: "merchants", policy: policy}
	if err := d.ensureSchema(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *PostgresDirectory) ensureSchema() error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			team_id              TEXT PRIMARY KEY,
			team_slug            TEXT NOT NULL UNIQUE,
			secret               TEXT NOT NULL,
			is_active            BOOLEAN NOT NULL DEFAULT true,
			supported_currencies TEXT NOT NULL DEFAULT 'RUB',
			min_per_payment      BIGINT NOT NULL DEFAULT 1000,
			max_per_payment      BIGINT NOT NULL DEFAULT 50000000,
			daily_total          BIGINT NOT NULL DEFAULT 0,
			daily_count          INTEGER NOT NULL DEFAULT 0,
			min_expiry_minutes   INTEGER NOT NULL DEFAULT 1,
			max_expiry_minutes   INTEGER NOT NULL DEFAULT 43200,
			success_url          TEXT NOT NULL DEFAULT '',
			fail_url             TEXT NOT NULL DEFAULT '',
			notification_url     TEXT NOT NULL DEFAULT '',
			failed_auth_attempts INTEGER NOT NULL DEFAULT 0,
			locked_until         TIMESTAMPTZ,
			last_auth_at         TIMESTAMPTZ,
			created_at           TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`, d.tableName)
	if _, err := d.db.Exec(query); err != nil {
		return fmt.Errorf("create merchants table: %w", err)
	}
	return nil
}

const merchantColumns = `team_id, team_slug, secret, is_active, supported_currencies,
	min_per_payment, max_per_payment, daily_total, daily_count,
	min_expiry_minutes, max_expiry_minutes,
	success_url, fail_url, notification_url,
	failed_auth_attempts, locked_until, last_auth_at, created_at`

// Lookup returns the merchant registered under teamSlug.
func (d *PostgresDirectory) Lookup(ctx context.Context, teamSlug string) (Merchant, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE team_slug = $1`, merchantColumns, d.tableName)
	return d.scanMerchant(d.db.QueryRowContext(ctx, query, teamSlug))
}

// LookupByTeamID returns the merchant with the given internal identifier.
func (d *PostgresDirectory) LookupByTeamID(ctx context.Context, teamID string) (Merchant, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE team_id = $1`, merchantColumns, d.tableName)
	return d.scanMerchant(d.db.QueryRowContext(ctx, query, teamID))
}

func (d *PostgresDirectory) scanMerchant(row *sql.Row) (Merchant, error) {
	var m Merchant
	var currencies string
	var lockedUntil, lastAuthAt sql.NullTime

	err := row.Scan(
		&m.TeamID, &m.TeamSlug, &m.Secret, &m.IsActive, &currencies,
		&m.MinPerPayment, &m.MaxPerPayment, &m.DailyTotal, &m.DailyCount,
		&m.MinExpiryMinutes, &m.MaxExpiryMinutes,
		&m.SuccessURL, &m.FailURL, &m.NotificationURL,
		&m.FailedAuthAttempts, &lockedUntil, &lastAuthAt, &m.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return Merchant{}, ErrNotFound
	}
	if err != nil {
		return Merchant{}, fmt.Errorf("query merchant: %w", err)
	}

	if currencies != "" {
		m.SupportedCurrencies = strings.Split(currencies, ",")
	}
	if lockedUntil.Valid {
		m.LockedUntil = lockedUntil.Time
	}
	if lastAuthAt.Valid {
		m.LastAuthAt = lastAuthAt.Time
	}
	return m, nil
}

// RecordAuthOutcome loads, applies the lockout policy, and writes back the
// counters in one transaction so concurrent auth attempts do not lose updates.
func (d *PostgresDirectory) RecordAuthOutcome(ctx context.Context, teamSlug string, success bool) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin auth outcome tx: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`
		SELECT failed_auth_attempts, locked_until, last_auth_at
		FROM %s WHERE team_slug = $1 FOR UPDATE
	`, d.tableName)

	var m Merchant
	var lockedUntil, lastAuthAt sql.NullTime
	err = tx.QueryRowContext(ctx, query, teamSlug).Scan(&m.FailedAuthAttempts, &lockedUntil, &lastAuthAt)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock merchant row: %w", err)
	}
	if lockedUntil.Valid {
		m.LockedUntil = lockedUntil.Time
	}
	if lastAuthAt.Valid {
		m.LastAuthAt = lastAuthAt.Time
	}

	m = applyAuthOutcome(m, success, time.Now().UTC(), d.policy)

	update := fmt.Sprintf(`
		UPDATE %s
		SET failed_auth_attempts = $2, locked_until = $3, last_auth_at = $4
		WHERE team_slug = $1
	`, d.tableName)

	var lockedArg any
	if !m.LockedUntil.IsZero() {
		lockedArg = m.LockedUntil
	}
	if _, err := tx.ExecContext(ctx, update, teamSlug, m.FailedAuthAttempts, lockedArg, m.LastAuthAt); err != nil {
		return fmt.Errorf("update auth counters: %w", err)
	}
	return tx.Commit()
}

// Upsert creates or replaces a merchant record.
func (d *PostgresDirectory) Upsert(ctx context.Context, m Merchant) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		ON CONFLICT (team_slug) DO UPDATE SET
			secret = EXCLUDED.secret,
			is_active = EXCLUDED.is_active,
			supported_currencies = EXCLUDED.supported_currencies,
			min_per_payment = EXCLUDED.min_per_payment,
			max_per_payment = EXCLUDED.max_per_payment,
			daily_total = EXCLUDED.daily_total,
			daily_count = EXCLUDED.daily_count,
			min_expiry_minutes = EXCLUDED.min_expiry_minutes,
			max_expiry_minutes = EXCLUDED.max_expiry_minutes,
			success_url = EXCLUDED.success_url,
			fail_url = EXCLUDED.fail_url,
			notification_url = EXCLUDED.notification_url
	`, d.tableName, merchantColumns)

	var lockedArg, lastAuthArg any
	if !m.LockedUntil.IsZero() {
		lockedArg = m.LockedUntil
	}
	if !m.LastAuthAt.IsZero() {
		lastAuthArg = m.LastAuthAt
	}
	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := d.db.ExecContext(ctx, query,
		m.TeamID, m.TeamSlug, m.Secret, m.IsActive, strings.Join(m.SupportedCurrencies, ","),
		m.MinPerPayment, m.MaxPerPayment, m.DailyTotal, m.DailyCount,
		m.MinExpiryMinutes, m.MaxExpiryMinutes,
		m.SuccessURL, m.FailURL, m.NotificationURL,
		m.FailedAuthAttempts, lockedArg, lastAuthArg, createdAt,
	)
	if err != nil {
		return fmt.Errorf("upsert merchant: %w", err)
	}
	return nil
}

// Close releases the pool when this directory owns it.
func (d *PostgresDirectory) Close() error {
	if d.ownsDB {
		return d.db.Close()
	}
	return nil
}
