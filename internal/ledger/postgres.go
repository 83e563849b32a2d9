package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresStore persists the ledger in the schema under migrations/.
type PostgresStore struct {
	pool   *pgxpool.Pool
	policy Policy
}

func NewPostgresStore(pool *pgxpool.Pool, policy Policy) *PostgresStore {
	return &PostgresStore{pool: pool, policy: policy}
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const accountColumns = `user_id, remaining_minutes::text, used_minutes::text, total_purchased_minutes::text,
	is_admin, is_premium, is_unlimited, COALESCE(subscription_type, ''), subscription_expiry, version, created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var (
		acct                   Account
		remaining, used, total string
		expiry                 *time.Time
	)
	if err := row.Scan(&acct.UserID, &remaining, &used, &total, &acct.IsAdmin, &acct.IsPremium, &acct.IsUnlimited,
		&acct.SubscriptionType, &expiry, &acct.Version, &acct.CreatedAt, &acct.UpdatedAt); err != nil {
		return Account{}, err
	}
	var err error
	if acct.RemainingMinutes, err = decimal.NewFromString(remaining); err != nil {
		return Account{}, fmt.Errorf("parse remaining_minutes: %w", err)
	}
	if acct.UsedMinutes, err = decimal.NewFromString(used); err != nil {
		return Account{}, fmt.Errorf("parse used_minutes: %w", err)
	}
	if acct.TotalPurchasedMinutes, err = decimal.NewFromString(total); err != nil {
		return Account{}, fmt.Errorf("parse total_purchased_minutes: %w", err)
	}
	acct.SubscriptionExpiry = expiry
	return acct, nil
}

// lockAccount creates the account if needed and returns it row-locked.
// Transactions that touch both rows lock accounts before translation_requests.
func (s *PostgresStore) lockAccount(ctx context.Context, q querier, userID string) (Account, error) {
	fresh := s.policy.NewAccount(userID)
	if _, err := q.Exec(ctx, `
		INSERT INTO accounts (user_id, remaining_minutes, total_purchased_minutes, is_admin, is_unlimited, subscription_type)
		VALUES ($1, $2::numeric, $3::numeric, $4, $5, $6)
		ON CONFLICT (user_id) DO NOTHING`,
		fresh.UserID, fresh.RemainingMinutes.String(), fresh.TotalPurchasedMinutes.String(),
		fresh.IsAdmin, fresh.IsUnlimited, fresh.SubscriptionType); err != nil {
		return Account{}, fmt.Errorf("insert account: %w", err)
	}
	acct, err := scanAccount(q.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE user_id = $1 FOR UPDATE`, userID))
	if err != nil {
		return Account{}, fmt.Errorf("lock account: %w", err)
	}
	return acct, nil
}

func (s *PostgresStore) saveAccount(ctx context.Context, q querier, acct Account) error {
	_, err := q.Exec(ctx, `
		UPDATE accounts SET
			remaining_minutes = $2::numeric,
			used_minutes = $3::numeric,
			total_purchased_minutes = $4::numeric,
			is_premium = $5,
			is_unlimited = $6,
			subscription_type = NULLIF($7, ''),
			subscription_expiry = $8,
			version = $9,
			updated_at = $10
		WHERE user_id = $1`,
		acct.UserID, acct.RemainingMinutes.String(), acct.UsedMinutes.String(), acct.TotalPurchasedMinutes.String(),
		acct.IsPremium, acct.IsUnlimited, acct.SubscriptionType, acct.SubscriptionExpiry, acct.Version, acct.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	return nil
}

func (s *PostgresStore) EnsureAccount(ctx context.Context, userID string) (Account, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Account{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	acct, err := s.lockAccount(ctx, tx, userID)
	if err != nil {
		return Account{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Account{}, fmt.Errorf("commit tx: %w", err)
	}
	return acct, nil
}

func scanRequest(row pgx.Row) (RequestRecord, error) {
	var (
		rec              RequestRecord
		status           string
		duration, charge string
		errText          *string
	)
	if err := row.Scan(&rec.RequestID, &rec.UserID, &status, &rec.SourceLanguage, &rec.TargetLanguage,
		&duration, &charge, &rec.Response, &errText, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return RequestRecord{}, err
	}
	rec.Status = RequestStatus(status)
	rec.DurationMinutes, _ = decimal.NewFromString(duration)
	rec.CreditsCharged, _ = decimal.NewFromString(charge)
	if errText != nil {
		rec.Error = *errText
	}
	return rec, nil
}

const requestColumns = `request_id, user_id, status, source_language, target_language,
	duration_minutes::text, credits_charged::text, response, error, created_at, updated_at`

func (s *PostgresStore) BeginRequest(ctx context.Context, p BeginParams) (RequestRecord, BeginOutcome, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return RequestRecord{}, 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, outcome, err := s.beginRequest(ctx, tx, p)
	if err != nil || outcome != BeginNew {
		return rec, outcome, err
	}
	if err := tx.Commit(ctx); err != nil {
		return RequestRecord{}, 0, fmt.Errorf("commit tx: %w", err)
	}
	return rec, outcome, nil
}

func (s *PostgresStore) beginRequest(ctx context.Context, tx querier, p BeginParams) (RequestRecord, BeginOutcome, error) {
	if _, err := s.lockAccount(ctx, tx, p.UserID); err != nil {
		return RequestRecord{}, 0, err
	}

	now := s.policy.now()
	rec, err := scanRequest(tx.QueryRow(ctx, `SELECT `+requestColumns+` FROM translation_requests WHERE request_id = $1 FOR UPDATE`, p.RequestID))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		rec = RequestRecord{
			RequestID:       p.RequestID,
			UserID:          p.UserID,
			Status:          StatusInFlight,
			SourceLanguage:  p.SourceLanguage,
			TargetLanguage:  p.TargetLanguage,
			DurationMinutes: p.DurationMinutes,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO translation_requests (request_id, user_id, status, source_language, target_language, duration_minutes, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $7)`,
			rec.RequestID, rec.UserID, string(rec.Status), rec.SourceLanguage, rec.TargetLanguage,
			rec.DurationMinutes.String(), now); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return RequestRecord{}, 0, ErrRequestInFlight
			}
			return RequestRecord{}, 0, fmt.Errorf("insert request: %w", err)
		}
	case err != nil:
		return RequestRecord{}, 0, fmt.Errorf("load request: %w", err)
	default:
		if rec.UserID != p.UserID {
			return RequestRecord{}, 0, ErrRequestConflict
		}
		if rec.Status == StatusCompleted {
			return rec, BeginReplay, nil
		}
		if rec.Status == StatusInFlight && now.Sub(rec.UpdatedAt) < s.policy.InFlightTimeout {
			return rec, 0, ErrRequestInFlight
		}
		rec.Status = StatusInFlight
		rec.Error = ""
		rec.UpdatedAt = now
		if _, err := tx.Exec(ctx, `UPDATE translation_requests SET status = $2, error = NULL, updated_at = $3 WHERE request_id = $1`,
			rec.RequestID, string(rec.Status), now); err != nil {
			return RequestRecord{}, 0, fmt.Errorf("reclaim request: %w", err)
		}
	}
	return rec, BeginNew, nil
}

func (s *PostgresStore) CompleteRequest(ctx context.Context, p CompleteParams) (Account, []byte, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Account{}, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	acct, body, err := s.completeRequest(ctx, tx, p)
	if err != nil {
		return acct, body, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Account{}, nil, fmt.Errorf("commit tx: %w", err)
	}
	return acct, body, nil
}

func (s *PostgresStore) completeRequest(ctx context.Context, tx querier, p CompleteParams) (Account, []byte, error) {
	acct, err := s.lockAccount(ctx, tx, p.UserID)
	if err != nil {
		return Account{}, nil, err
	}
	rec, err := scanRequest(tx.QueryRow(ctx, `SELECT `+requestColumns+` FROM translation_requests WHERE request_id = $1 FOR UPDATE`, p.RequestID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, nil, ErrUnknownRequest
	}
	if err != nil {
		return Account{}, nil, fmt.Errorf("load request: %w", err)
	}
	if rec.UserID != p.UserID {
		return Account{}, nil, ErrRequestConflict
	}
	if rec.Status == StatusCompleted {
		return acct, rec.Response, nil
	}
	if !acct.Covers(p.Charge) {
		return acct, nil, ErrInsufficientCredits
	}

	charged := decimal.Zero
	if acct.Metered() {
		charged = p.Charge
		acct.RemainingMinutes = acct.RemainingMinutes.Sub(p.Charge)
	}
	acct.UsedMinutes = acct.UsedMinutes.Add(p.DurationMinutes)
	acct.Version++
	acct.UpdatedAt = s.policy.now()
	if err := s.saveAccount(ctx, tx, acct); err != nil {
		return Account{}, nil, err
	}

	var body []byte
	if p.Render != nil {
		if body, err = p.Render(acct, charged); err != nil {
			return Account{}, nil, fmt.Errorf("render response: %w", err)
		}
	}
	if _, err := tx.Exec(ctx, `
		UPDATE translation_requests SET status = $2, duration_minutes = $3::numeric, credits_charged = $4::numeric,
			response = $5, updated_at = $6
		WHERE request_id = $1`,
		p.RequestID, string(StatusCompleted), p.DurationMinutes.String(), charged.String(), body, acct.UpdatedAt); err != nil {
		return Account{}, nil, fmt.Errorf("complete request: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO usage_logs (request_id, user_id, source_language, target_language, duration_minutes, credits_charged,
			quality_tier, audio_model, translation_model, created_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7, $8, $9, $10)`,
		p.RequestID, p.UserID, rec.SourceLanguage, rec.TargetLanguage, p.DurationMinutes.String(), charged.String(),
		p.QualityTier, p.AudioModel, p.TranslationModel, acct.UpdatedAt); err != nil {
		return Account{}, nil, fmt.Errorf("insert usage log: %w", err)
	}
	return acct, body, nil
}

func (s *PostgresStore) FailRequest(ctx context.Context, requestID, reason string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE translation_requests SET status = $2, error = $3, updated_at = $4
		WHERE request_id = $1 AND status <> 'completed'`,
		requestID, string(StatusFailed), reason, s.policy.now())
	if err != nil {
		return fmt.Errorf("fail request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM translation_requests WHERE request_id = $1)`, requestID).Scan(&exists); err != nil {
			return fmt.Errorf("lookup request: %w", err)
		}
		if !exists {
			return ErrUnknownRequest
		}
	}
	return nil
}

func (s *PostgresStore) AddCredits(ctx context.Context, p AddCreditsParams) (Account, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Account{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	acct, err := s.lockAccount(ctx, tx, p.UserID)
	if err != nil {
		return Account{}, err
	}

	minutes := p.Minutes
	if p.Unlimited {
		minutes = decimal.NewFromInt(-1)
	}
	tag, err := tx.Exec(ctx, `
		INSERT INTO purchases (transaction_id, user_id, product_id, package_type, minutes)
		VALUES ($1, $2, $3, $4, $5::numeric)
		ON CONFLICT (transaction_id) DO NOTHING`,
		p.TransactionID, p.UserID, p.ProductID, p.PackageType, minutes.String())
	if err != nil {
		return Account{}, fmt.Errorf("record purchase: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var owner string
		if err := tx.QueryRow(ctx, `SELECT user_id FROM purchases WHERE transaction_id = $1`, p.TransactionID).Scan(&owner); err != nil {
			return Account{}, fmt.Errorf("lookup purchase: %w", err)
		}
		if owner != p.UserID {
			return Account{}, ErrRequestConflict
		}
		return acct, ErrDuplicateTransaction
	}

	s.policy.ApplyPurchase(&acct, p)
	if err := s.saveAccount(ctx, tx, acct); err != nil {
		return Account{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Account{}, fmt.Errorf("commit tx: %w", err)
	}
	return acct, nil
}

const usageColumns = `request_id, user_id, source_language, target_language, duration_minutes::text,
	credits_charged::text, quality_tier, audio_model, translation_model, created_at`

func (s *PostgresStore) UsageSince(ctx context.Context, userID string, since time.Time) ([]UsageEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+usageColumns+`
		FROM usage_logs
		WHERE user_id = $1 AND created_at >= $2
		ORDER BY created_at`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("query usage: %w", err)
	}
	return collectUsage(rows)
}

func (s *PostgresStore) RecentUsage(ctx context.Context, since time.Time, limit int) ([]UsageEntry, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+usageColumns+`
		FROM usage_logs
		WHERE created_at >= $1
		ORDER BY created_at DESC, request_id
		LIMIT $2`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent usage: %w", err)
	}
	return collectUsage(rows)
}

func collectUsage(rows pgx.Rows) ([]UsageEntry, error) {
	defer rows.Close()
	var out []UsageEntry
	for rows.Next() {
		var (
			e                UsageEntry
			duration, charge string
		)
		if err := rows.Scan(&e.RequestID, &e.UserID, &e.SourceLanguage, &e.TargetLanguage, &duration, &charge,
			&e.QualityTier, &e.AudioModel, &e.TranslationModel, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		e.DurationMinutes, _ = decimal.NewFromString(duration)
		e.CreditsCharged, _ = decimal.NewFromString(charge)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
