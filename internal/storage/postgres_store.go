package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/cardflow/gateway/internal/payment"
)

// PostgresStore implements Store on PostgreSQL. All multi-row writes that must
// be atomic (payment update + history append) run inside one transaction.
type PostgresStore struct {
	db     *sql.DB
	ownsDB bool

	paymentsTable     string
	transitionsTable  string
	archiveTable      string
	transactionsTable string
	webhooksTable     string
}

// NewPostgresStore opens a connection pool and prepares the schema.
func NewPostgresStore(connectionString string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := newPostgresStore(db, true)
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStoreWithDB reuses an existing connection pool.
func NewPostgresStoreWithDB(db *sql.DB) (*PostgresStore, error) {
	s := newPostgresStore(db, false)
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func newPostgresStore(db *sql.DB, ownsDB bool) *PostgresStore {
	return &PostgresStore{
		db:                db,
		ownsDB:            ownsDB,
		paymentsTable:     "payments",
		transitionsTable:  "payment_state_transitions",
		archiveTable:      "payment_state_transitions_archive",
		transactionsTable: "bank_transactions",
		webhooksTable:     "webhook_queue",
	}
}

func (s *PostgresStore) ensureSchema() error {
	statements := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id               TEXT PRIMARY KEY,
				team_id          TEXT NOT NULL,
				order_id         TEXT NOT NULL,
				amount           BIGINT NOT NULL,
				currency         TEXT NOT NULL,
				pay_type         TEXT NOT NULL,
				description      TEXT NOT NULL DEFAULT '',
				customer_key     TEXT NOT NULL DEFAULT '',
				recurrent        BOOLEAN NOT NULL DEFAULT false,
				language         TEXT NOT NULL DEFAULT 'ru',
				success_url      TEXT NOT NULL DEFAULT '',
				fail_url         TEXT NOT NULL DEFAULT '',
				notification_url TEXT NOT NULL DEFAULT '',
				payment_expiry   INTEGER NOT NULL,
				created_at       TIMESTAMPTZ NOT NULL,
				expires_at       TIMESTAMPTZ,
				status           TEXT NOT NULL,
				error_code       TEXT NOT NULL DEFAULT '',
				message          TEXT NOT NULL DEFAULT '',
				attempt_count    INTEGER NOT NULL DEFAULT 0,
				max_attempts     INTEGER NOT NULL DEFAULT 3,
				refunded_amount  BIGINT NOT NULL DEFAULT 0,
				data             JSONB NOT NULL DEFAULT '{}',
				version          BIGINT NOT NULL DEFAULT 0,
				UNIQUE (team_id, order_id)
			)`, s.paymentsTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_expiry ON %s (expires_at) WHERE status IN ('INIT','NEW','FORM_SHOWED')`,
			s.paymentsTable, s.paymentsTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_team_day ON %s (team_id, created_at)`,
			s.paymentsTable, s.paymentsTable),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id          BIGSERIAL PRIMARY KEY,
				payment_id  TEXT NOT NULL,
				from_status TEXT NOT NULL,
				to_status   TEXT NOT NULL,
				ts          TIMESTAMPTZ NOT NULL,
				actor       TEXT NOT NULL,
				reason      TEXT NOT NULL DEFAULT '',
				error_code  TEXT NOT NULL DEFAULT '',
				message     TEXT NOT NULL DEFAULT ''
			)`, s.transitionsTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_payment ON %s (payment_id, id)`,
			s.transitionsTable, s.transitionsTable),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id          BIGINT PRIMARY KEY,
				payment_id  TEXT NOT NULL,
				from_status TEXT NOT NULL,
				to_status   TEXT NOT NULL,
				ts          TIMESTAMPTZ NOT NULL,
				actor       TEXT NOT NULL,
				reason      TEXT NOT NULL DEFAULT '',
				error_code  TEXT NOT NULL DEFAULT '',
				message     TEXT NOT NULL DEFAULT '',
				archived_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`, s.archiveTable),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id             TEXT PRIMARY KEY,
				payment_id     TEXT NOT NULL,
				type           TEXT NOT NULL,
				status         TEXT NOT NULL,
				amount         BIGINT NOT NULL,
				external_ref   TEXT NOT NULL DEFAULT '',
				attempt_number INTEGER NOT NULL DEFAULT 0,
				next_retry_at  TIMESTAMPTZ,
				fraud_score    INTEGER NOT NULL DEFAULT 0,
				created_at     TIMESTAMPTZ NOT NULL
			)`, s.transactionsTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_payment ON %s (payment_id, created_at)`,
			s.transactionsTable, s.transactionsTable),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id              TEXT PRIMARY KEY,
				seq             BIGSERIAL,
				payment_id      TEXT NOT NULL,
				url             TEXT NOT NULL,
				payload         JSONB NOT NULL,
				headers         JSONB NOT NULL DEFAULT '{}',
				event_type      TEXT NOT NULL,
				status          TEXT NOT NULL DEFAULT 'pending',
				attempts        INTEGER NOT NULL DEFAULT 0,
				max_attempts    INTEGER NOT NULL DEFAULT 7,
				last_error      TEXT NOT NULL DEFAULT '',
				last_attempt_at TIMESTAMPTZ,
				next_attempt_at TIMESTAMPTZ,
				created_at      TIMESTAMPTZ NOT NULL,
				completed_at    TIMESTAMPTZ
			)`, s.webhooksTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_dispatch ON %s (status, next_attempt_at, seq)`,
			s.webhooksTable, s.webhooksTable),
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("prepare storage schema: %w", err)
		}
	}
	return nil
}

const paymentColumns = `id, team_id, order_id, amount, currency, pay_type,
	description, customer_key, recurrent, language,
	success_url, fail_url, notification_url,
	payment_expiry, created_at, expires_at,
	status, error_code, message,
	attempt_count, max_attempts, refunded_amount, data, version`

// CreatePayment inserts a new payment, enforcing both uniqueness contracts.
func (s *PostgresStore) CreatePayment(ctx context.Context, p payment.Payment) error {
	data, err := json.Marshal(dataOrEmpty(p.Data))
	if err != nil {
		return fmt.Errorf("marshal payment data: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)
	`, s.paymentsTable, paymentColumns)

	_, err = s.db.ExecContext(ctx, query,
		p.ID, p.TeamID, p.OrderID, p.Amount, p.Currency, string(p.PayType),
		p.Description, p.CustomerKey, p.Recurrent, p.Language,
		p.SuccessURL, p.FailURL, p.NotificationURL,
		p.PaymentExpiry, p.CreatedAt, nullTime(p.ExpiresAt),
		string(p.Status), p.ErrorCode, p.Message,
		p.AttemptCount, p.MaxAttempts, p.RefundedAmount, data, p.Version,
	)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		// Unique violation: the constraint name tells which contract broke.
		if pqErr.Constraint == s.paymentsTable+"_pkey" {
			return ErrDuplicateID
		}
		return ErrDuplicateOrder
	}
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// GetPayment returns a payment by its gateway identifier.
func (s *PostgresStore) GetPayment(ctx context.Context, paymentID string) (payment.Payment, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, paymentColumns, s.paymentsTable)
	return scanPayment(s.db.QueryRowContext(ctx, query, paymentID))
}

// GetPaymentByOrderID returns a payment by the merchant's order identifier.
func (s *PostgresStore) GetPaymentByOrderID(ctx context.Context, teamID, orderID string) (payment.Payment, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE team_id = $1 AND order_id = $2`, paymentColumns, s.paymentsTable)
	return scanPayment(s.db.QueryRowContext(ctx, query, teamID, orderID))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (payment.Payment, error) {
	var p payment.Payment
	var payType, status string
	var expiresAt sql.NullTime
	var data []byte

	err := row.Scan(
		&p.ID, &p.TeamID, &p.OrderID, &p.Amount, &p.Currency, &payType,
		&p.Description, &p.CustomerKey, &p.Recurrent, &p.Language,
		&p.SuccessURL, &p.FailURL, &p.NotificationURL,
		&p.PaymentExpiry, &p.CreatedAt, &expiresAt,
		&status, &p.ErrorCode, &p.Message,
		&p.AttemptCount, &p.MaxAttempts, &p.RefundedAmount, &data, &p.Version,
	)
	if err == sql.ErrNoRows {
		return payment.Payment{}, ErrNotFound
	}
	if err != nil {
		return payment.Payment{}, fmt.Errorf("query payment: %w", err)
	}

	p.PayType = payment.PayType(payType)
	p.Status = payment.Status(status)
	if expiresAt.Valid {
		p.ExpiresAt = expiresAt.Time
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &p.Data); err != nil {
			return payment.Payment{}, fmt.Errorf("unmarshal payment data: %w", err)
		}
	}
	return p, nil
}

// UpdatePayment saves p and appends tr in one transaction, guarded by the
// version column.
func (s *PostgresStore) UpdatePayment(ctx context.Context, p *payment.Payment, tr payment.Transition) error {
	data, err := json.Marshal(dataOrEmpty(p.Data))
	if err != nil {
		return fmt.Errorf("marshal payment data: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin payment update tx: %w", err)
	}
	defer tx.Rollback()

	update := fmt.Sprintf(`
		UPDATE %s SET
			amount = $3, expires_at = $4, status = $5,
			error_code = $6, message = $7,
			attempt_count = $8, refunded_amount = $9,
			data = $10, version = version + 1
		WHERE id = $1 AND version = $2
	`, s.paymentsTable)

	res, err := tx.ExecContext(ctx, update,
		p.ID, p.Version, p.Amount, nullTime(p.ExpiresAt), string(p.Status),
		p.ErrorCode, p.Message, p.AttemptCount, p.RefundedAmount, data,
	)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update payment rows: %w", err)
	}
	if affected == 0 {
		// Either the row is gone or a concurrent writer bumped the version.
		var exists bool
		check := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, s.paymentsTable)
		if err := tx.QueryRowContext(ctx, check, p.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check payment existence: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrVersionConflict
	}

	insert := fmt.Sprintf(`
		INSERT INTO %s (payment_id, from_status, to_status, ts, actor, reason, error_code, message)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, s.transitionsTable)
	if _, err := tx.ExecContext(ctx, insert,
		tr.PaymentID, string(tr.FromStatus), string(tr.ToStatus), tr.Timestamp,
		tr.Actor, tr.Reason, tr.ErrorCode, tr.Message,
	); err != nil {
		return fmt.Errorf("append transition: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit payment update: %w", err)
	}
	p.Version++
	return nil
}

// ListTransitions returns the payment's history in append order.
func (s *PostgresStore) ListTransitions(ctx context.Context, paymentID string) ([]payment.Transition, error) {
	query := fmt.Sprintf(`
		SELECT payment_id, from_status, to_status, ts, actor, reason, error_code, message
		FROM %s WHERE payment_id = $1 ORDER BY id
	`, s.transitionsTable)

	rows, err := s.db.QueryContext(ctx, query, paymentID)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	var out []payment.Transition
	for rows.Next() {
		var tr payment.Transition
		var from, to string
		if err := rows.Scan(&tr.PaymentID, &from, &to, &tr.Timestamp, &tr.Actor, &tr.Reason, &tr.ErrorCode, &tr.Message); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		tr.FromStatus = payment.Status(from)
		tr.ToStatus = payment.Status(to)
		out = append(out, tr)
	}
	return out, rows.Err()
}

// ArchiveTransitions moves history of terminal payments past the cutoff into
// the archive table.
func (s *PostgresStore) ArchiveTransitions(ctx context.Context, olderThan time.Time) (int64, error) {
	terminal := pq.Array([]string{
		string(payment.StatusCancelled), string(payment.StatusDeadlineExpired),
		string(payment.StatusExpired), string(payment.StatusRejected),
		string(payment.StatusReversed), string(payment.StatusPartialReversed),
		string(payment.StatusRefunded), string(payment.StatusPartialRefunded),
	})

	query := fmt.Sprintf(`
		WITH moved AS (
			DELETE FROM %s t
			USING %s p
			WHERE p.id = t.payment_id
			  AND t.ts < $1
			  AND p.status = ANY ($2)
			RETURNING t.id, t.payment_id, t.from_status, t.to_status, t.ts, t.actor, t.reason, t.error_code, t.message
		)
		INSERT INTO %s (id, payment_id, from_status, to_status, ts, actor, reason, error_code, message)
		SELECT * FROM moved
	`, s.transitionsTable, s.paymentsTable, s.archiveTable)

	res, err := s.db.ExecContext(ctx, query, olderThan, terminal)
	if err != nil {
		return 0, fmt.Errorf("archive transitions: %w", err)
	}
	return res.RowsAffected()
}

// ExpiredCandidates returns payments past their deadline, oldest first.
func (s *PostgresStore) ExpiredCandidates(ctx context.Context, now time.Time, limit int) ([]payment.Payment, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE expires_at IS NOT NULL AND expires_at <= $1
		  AND status IN ('INIT','NEW','FORM_SHOWED')
		ORDER BY expires_at
		LIMIT $2
	`, paymentColumns, s.paymentsTable)

	rows, err := s.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query expired candidates: %w", err)
	}
	defer rows.Close()

	var out []payment.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DailyStats aggregates the team's settled amount and created count.
func (s *PostgresStore) DailyStats(ctx context.Context, teamID string, dayStart, dayEnd time.Time) (int64, int, error) {
	query := fmt.Sprintf(`
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE status IN ('CONFIRMED','REFUNDED','PARTIAL_REFUNDED')), 0),
			COUNT(*)
		FROM %s
		WHERE team_id = $1 AND created_at >= $2 AND created_at < $3
	`, s.paymentsTable)

	var total int64
	var count int
	if err := s.db.QueryRowContext(ctx, query, teamID, dayStart, dayEnd).Scan(&total, &count); err != nil {
		return 0, 0, fmt.Errorf("query daily stats: %w", err)
	}
	return total, count, nil
}

// RecordTransaction appends one bank interaction record.
func (s *PostgresStore) RecordTransaction(ctx context.Context, tx payment.Transaction) error {
	if tx.ID == "" {
		tx.ID = "txn_" + uuid.NewString()
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (id, payment_id, type, status, amount, external_ref, attempt_number, next_retry_at, fraud_score, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, s.transactionsTable)

	_, err := s.db.ExecContext(ctx, query,
		tx.ID, tx.PaymentID, string(tx.Type), tx.Status, tx.Amount,
		tx.ExternalRef, tx.AttemptNumber, nullTime(tx.NextRetryAt), tx.FraudScore, tx.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// ListTransactions returns the payment's bank log in append order.
func (s *PostgresStore) ListTransactions(ctx context.Context, paymentID string) ([]payment.Transaction, error) {
	query := fmt.Sprintf(`
		SELECT id, payment_id, type, status, amount, external_ref, attempt_number, next_retry_at, fraud_score, created_at
		FROM %s WHERE payment_id = $1 ORDER BY created_at
	`, s.transactionsTable)

	rows, err := s.db.QueryContext(ctx, query, paymentID)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var out []payment.Transaction
	for rows.Next() {
		var tx payment.Transaction
		var txType string
		var nextRetry sql.NullTime
		if err := rows.Scan(&tx.ID, &tx.PaymentID, &txType, &tx.Status, &tx.Amount,
			&tx.ExternalRef, &tx.AttemptNumber, &nextRetry, &tx.FraudScore, &tx.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		tx.Type = payment.TransactionType(txType)
		if nextRetry.Valid {
			tx.NextRetryAt = nextRetry.Time
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// EnqueueWebhook adds a webhook to the queue and returns its ID.
func (s *PostgresStore) EnqueueWebhook(ctx context.Context, webhook PendingWebhook) (string, error) {
	if webhook.ID == "" {
		webhook.ID = "wh_" + uuid.NewString()
	}
	if webhook.Status == "" {
		webhook.Status = WebhookStatusPending
	}
	if webhook.CreatedAt.IsZero() {
		webhook.CreatedAt = time.Now().UTC()
	}
	headers, err := json.Marshal(webhook.Headers)
	if err != nil {
		return "", fmt.Errorf("marshal webhook headers: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, payment_id, url, payload, headers, event_type, status, attempts, max_attempts, last_error, next_attempt_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, s.webhooksTable)

	_, err = s.db.ExecContext(ctx, query,
		webhook.ID, webhook.PaymentID, webhook.URL, []byte(webhook.Payload), headers,
		webhook.EventType, string(webhook.Status), webhook.Attempts, webhook.MaxAttempts,
		webhook.LastError, nullTime(webhook.NextAttemptAt), webhook.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("enqueue webhook: %w", err)
	}
	return webhook.ID, nil
}

const webhookColumns = `id, seq, payment_id, url, payload, headers, event_type,
	status, attempts, max_attempts, last_error,
	last_attempt_at, next_attempt_at, created_at, completed_at`

// DequeueWebhooks returns ready webhooks respecting per-payment FIFO: a
// webhook is held back while an earlier webhook of the same payment is still
// pending or processing.
func (s *PostgresStore) DequeueWebhooks(ctx context.Context, limit int) ([]PendingWebhook, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s w
		WHERE w.status = 'pending'
		  AND (w.next_attempt_at IS NULL OR w.next_attempt_at <= now())
		  AND NOT EXISTS (
			SELECT 1 FROM %s earlier
			WHERE earlier.payment_id = w.payment_id
			  AND earlier.seq < w.seq
			  AND earlier.status IN ('pending','processing')
		  )
		ORDER BY w.seq
		LIMIT $1
	`, webhookColumns, s.webhooksTable, s.webhooksTable)

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("dequeue webhooks: %w", err)
	}
	defer rows.Close()

	var out []PendingWebhook
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func scanWebhook(row rowScanner) (PendingWebhook, error) {
	var w PendingWebhook
	var status string
	var payload, headers []byte
	var lastAttempt, nextAttempt, completed sql.NullTime

	err := row.Scan(
		&w.ID, &w.Seq, &w.PaymentID, &w.URL, &payload, &headers, &w.EventType,
		&status, &w.Attempts, &w.MaxAttempts, &w.LastError,
		&lastAttempt, &nextAttempt, &w.CreatedAt, &completed,
	)
	if err == sql.ErrNoRows {
		return PendingWebhook{}, ErrNotFound
	}
	if err != nil {
		return PendingWebhook{}, fmt.Errorf("scan webhook: %w", err)
	}

	w.Status = WebhookStatus(status)
	w.Payload = json.RawMessage(payload)
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &w.Headers); err != nil {
			return PendingWebhook{}, fmt.Errorf("unmarshal webhook headers: %w", err)
		}
	}
	if lastAttempt.Valid {
		w.LastAttemptAt = lastAttempt.Time
	}
	if nextAttempt.Valid {
		w.NextAttemptAt = nextAttempt.Time
	}
	if completed.Valid {
		t := completed.Time
		w.CompletedAt = &t
	}
	return w, nil
}

// MarkWebhookProcessing claims a webhook for delivery. The claim time lets
// ReclaimStaleWebhooks spot abandoned claims.
func (s *PostgresStore) MarkWebhookProcessing(ctx context.Context, webhookID string) error {
	query := fmt.Sprintf(`
		UPDATE %s SET status = 'processing', last_attempt_at = now() WHERE id = $1
	`, s.webhooksTable)
	return s.execWebhook(ctx, query, webhookID)
}

// ReclaimStaleWebhooks returns webhooks stuck in processing since before the
// cutoff to pending. Delivery is at-least-once, so the re-send is safe.
func (s *PostgresStore) ReclaimStaleWebhooks(ctx context.Context, cutoff time.Time) (int64, error) {
	query := fmt.Sprintf(`
		UPDATE %s SET status = 'pending'
		WHERE status = 'processing' AND last_attempt_at < $1
	`, s.webhooksTable)
	res, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reclaim webhooks: %w", err)
	}
	return res.RowsAffected()
}

// MarkWebhookSuccess records a completed delivery.
func (s *PostgresStore) MarkWebhookSuccess(ctx context.Context, webhookID string) error {
	query := fmt.Sprintf(`
		UPDATE %s SET status = 'success', completed_at = now() WHERE id = $1
	`, s.webhooksTable)
	return s.execWebhook(ctx, query, webhookID)
}

// MarkWebhookFailed records a failed attempt; exhausted webhooks go to the DLQ.
func (s *PostgresStore) MarkWebhookFailed(ctx context.Context, webhookID, errorMsg string, nextAttemptAt time.Time) error {
	query := fmt.Sprintf(`
		UPDATE %s SET
			attempts = attempts + 1,
			last_error = $2,
			last_attempt_at = now(),
			status = CASE WHEN attempts + 1 >= max_attempts THEN 'failed' ELSE 'pending' END,
			completed_at = CASE WHEN attempts + 1 >= max_attempts THEN now() ELSE NULL END,
			next_attempt_at = CASE WHEN attempts + 1 >= max_attempts THEN next_attempt_at ELSE $3 END
		WHERE id = $1
	`, s.webhooksTable)
	return s.execWebhook(ctx, query, webhookID, errorMsg, nextAttemptAt)
}

// FailWebhookPermanently parks the webhook in the DLQ immediately.
func (s *PostgresStore) FailWebhookPermanently(ctx context.Context, webhookID, errorMsg string) error {
	query := fmt.Sprintf(`
		UPDATE %s SET
			attempts = attempts + 1,
			last_error = $2,
			last_attempt_at = now(),
			status = 'failed',
			completed_at = now()
		WHERE id = $1
	`, s.webhooksTable)
	return s.execWebhook(ctx, query, webhookID, errorMsg)
}

// GetWebhook returns one webhook by ID.
func (s *PostgresStore) GetWebhook(ctx context.Context, webhookID string) (PendingWebhook, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, webhookColumns, s.webhooksTable)
	return scanWebhook(s.db.QueryRowContext(ctx, query, webhookID))
}

// ListWebhooks lists queue entries, optionally filtered by status.
func (s *PostgresStore) ListWebhooks(ctx context.Context, status WebhookStatus, limit int) ([]PendingWebhook, error) {
	var rows *sql.Rows
	var err error
	if status == "" {
		query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY seq LIMIT $1`, webhookColumns, s.webhooksTable)
		rows, err = s.db.QueryContext(ctx, query, limit)
	} else {
		query := fmt.Sprintf(`SELECT %s FROM %s WHERE status = $1 ORDER BY seq LIMIT $2`, webhookColumns, s.webhooksTable)
		rows, err = s.db.QueryContext(ctx, query, string(status), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	defer rows.Close()

	var out []PendingWebhook
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// RetryWebhook resets a webhook to pending for manual redelivery.
func (s *PostgresStore) RetryWebhook(ctx context.Context, webhookID string) error {
	query := fmt.Sprintf(`
		UPDATE %s SET status = 'pending', attempts = 0, last_error = '',
			next_attempt_at = NULL, completed_at = NULL
		WHERE id = $1
	`, s.webhooksTable)
	return s.execWebhook(ctx, query, webhookID)
}

// DeleteWebhook removes a webhook from the queue.
func (s *PostgresStore) DeleteWebhook(ctx context.Context, webhookID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.webhooksTable)
	return s.execWebhook(ctx, query, webhookID)
}

func (s *PostgresStore) execWebhook(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("webhook update: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("webhook update rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Close releases the pool when this store owns it.
func (s *PostgresStore) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func dataOrEmpty(data map[string]string) map[string]string {
	if data == nil {
		return map[string]string{}
	}
	return data
}
