package storage

import (
	"context"
	"embed"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/paywall/libs/db"
	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/entitlements"
	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/outbox"
	"github.com/shopspring/decimal"
)

// Migrations holds the goose migrations for the billing schema, under "migrations".
//
//go:embed migrations/*.sql
var Migrations embed.FS

const MigrationsDir = "migrations"

// Postgres is the pgx-backed Store.
type Postgres struct {
	pool *db.Pool
	q    db.Querier
}

func NewPostgres(pool *db.Pool) *Postgres {
	return &Postgres{pool: pool, q: pool}
}

func (r *Postgres) InTx(ctx context.Context, fn func(Store) error) error {
	if r.pool == nil {
		// already inside a transaction
		return fn(r)
	}
	return r.pool.InTx(ctx, func(tx pgx.Tx) error {
		return fn(&Postgres{q: tx})
	})
}

const subscriptionColumns = `
	id::text, COALESCE(user_id, ''), tier, status, COALESCE(provider_status, ''), COALESCE(price_id, ''),
	COALESCE(billing_cycle, ''), current_period_start, current_period_end,
	COALESCE(external_customer_id, ''), external_subscription_id, auto_renew, cancelled_at,
	created_at, updated_at`

func scanSubscription(row pgx.Row) (Subscription, error) {
	var s Subscription
	var tier, status, cycle string
	err := row.Scan(&s.ID, &s.UserID, &tier, &status, &s.ProviderStatus, &s.PriceID,
		&cycle, &s.CurrentPeriodStart, &s.CurrentPeriodEnd,
		&s.ExternalCustomerID, &s.ExternalSubscriptionID, &s.AutoRenew, &s.CancelledAt,
		&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return Subscription{}, err
	}
	s.Tier = entitlements.Tier(tier)
	s.Status = entitlements.Status(status)
	s.BillingCycle = entitlements.BillingCycle(cycle)
	return s, nil
}

func oneSubscription(row pgx.Row) (Subscription, bool, error) {
	s, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Subscription{}, false, nil
		}
		return Subscription{}, false, err
	}
	return s, true, nil
}

func (r *Postgres) GetSubscription(ctx context.Context, externalSubscriptionID string) (Subscription, bool, error) {
	return oneSubscription(r.q.QueryRow(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE external_subscription_id = $1
	`, externalSubscriptionID))
}

func (r *Postgres) GetSubscriptionForUpdate(ctx context.Context, externalSubscriptionID string) (Subscription, bool, error) {
	return oneSubscription(r.q.QueryRow(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE external_subscription_id = $1
		FOR UPDATE
	`, externalSubscriptionID))
}

func (r *Postgres) LatestSubscriptionForUser(ctx context.Context, userID string) (Subscription, bool, error) {
	return oneSubscription(r.q.QueryRow(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE user_id = $1
		ORDER BY (status IN ('active', 'trial', 'past_due')) DESC, updated_at DESC
		LIMIT 1
	`, userID))
}

// UpsertSubscription implements the same rules as mergeSubscription in SQL so that
// concurrent first deliveries converge on one row.
func (r *Postgres) UpsertSubscription(ctx context.Context, s Subscription) (Subscription, error) {
	return scanSubscription(r.q.QueryRow(ctx, `
		INSERT INTO subscriptions (user_id, tier, status, provider_status, price_id, billing_cycle,
		                           current_period_start, current_period_end, external_customer_id,
		                           external_subscription_id, auto_renew, cancelled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (external_subscription_id)
		DO UPDATE SET user_id = CASE
		                  WHEN subscriptions.user_id IS NULL OR subscriptions.user_id LIKE 'pending:%'
		                  THEN COALESCE(EXCLUDED.user_id, subscriptions.user_id)
		                  ELSE subscriptions.user_id
		              END,
		              tier = EXCLUDED.tier,
		              status = CASE
		                  WHEN subscriptions.status IN ('cancelled', 'expired') THEN subscriptions.status
		                  ELSE EXCLUDED.status
		              END,
		              provider_status = EXCLUDED.provider_status,
		              price_id = EXCLUDED.price_id,
		              billing_cycle = EXCLUDED.billing_cycle,
		              current_period_start = EXCLUDED.current_period_start,
		              current_period_end = EXCLUDED.current_period_end,
		              external_customer_id = COALESCE(EXCLUDED.external_customer_id, subscriptions.external_customer_id),
		              auto_renew = EXCLUDED.auto_renew,
		              cancelled_at = CASE
		                  WHEN subscriptions.status IN ('cancelled', 'expired')
		                      THEN COALESCE(subscriptions.cancelled_at, EXCLUDED.cancelled_at)
		                  ELSE EXCLUDED.cancelled_at
		              END,
		              updated_at = now()
		RETURNING `+subscriptionColumns,
		nullIfEmpty(s.UserID), string(s.Tier), string(s.Status), nullIfEmpty(s.ProviderStatus), nullIfEmpty(s.PriceID),
		nullIfEmpty(string(s.BillingCycle)), s.CurrentPeriodStart, s.CurrentPeriodEnd, nullIfEmpty(s.ExternalCustomerID),
		s.ExternalSubscriptionID, s.AutoRenew, s.CancelledAt,
	))
}

func (r *Postgres) SetSubscriptionStatus(ctx context.Context, externalSubscriptionID string, status entitlements.Status) (bool, error) {
	tag, err := r.q.Exec(ctx, `
		UPDATE subscriptions
		SET status = $2, updated_at = now()
		WHERE external_subscription_id = $1
		  AND status NOT IN ('cancelled', 'expired')
	`, externalSubscriptionID, string(status))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *Postgres) CancelSubscription(ctx context.Context, externalSubscriptionID string, at time.Time) (bool, error) {
	tag, err := r.q.Exec(ctx, `
		UPDATE subscriptions
		SET status = 'cancelled',
		    auto_renew = false,
		    cancelled_at = COALESCE(cancelled_at, $2),
		    updated_at = now()
		WHERE external_subscription_id = $1
	`, externalSubscriptionID, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *Postgres) ListSubscriptionsForReconcile(ctx context.Context, limit int) ([]Subscription, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.q.Query(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE status NOT IN ('cancelled', 'expired')
		ORDER BY updated_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Postgres) InsertPayment(ctx context.Context, p Payment) (bool, error) {
	tag, err := r.q.Exec(ctx, `
		INSERT INTO payments (subscription_id, user_id, amount, currency_code, status,
		                      external_payment_id, external_invoice_id, attempt_count,
		                      description, receipt_url, paid_at)
		VALUES ($1, $2, ($3::text)::numeric, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (external_invoice_id, status, attempt_count) DO NOTHING
	`, p.SubscriptionID, p.UserID, p.Amount.StringFixed(2), p.CurrencyCode, string(p.Status),
		nullIfEmpty(p.ExternalPaymentID), p.ExternalInvoiceID, p.AttemptCount,
		nullIfEmpty(p.Description), nullIfEmpty(p.ReceiptURL), p.PaidAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *Postgres) ListPayments(ctx context.Context, subscriptionID string) ([]Payment, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id::text, subscription_id::text, user_id, amount::text, currency_code, status,
		       COALESCE(external_payment_id, ''), external_invoice_id, attempt_count,
		       COALESCE(description, ''), COALESCE(receipt_url, ''), paid_at, created_at
		FROM payments
		WHERE subscription_id = $1
		ORDER BY created_at, id
	`, subscriptionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Payment
	for rows.Next() {
		var p Payment
		var amount, status string
		if err := rows.Scan(&p.ID, &p.SubscriptionID, &p.UserID, &amount, &p.CurrencyCode, &status,
			&p.ExternalPaymentID, &p.ExternalInvoiceID, &p.AttemptCount,
			&p.Description, &p.ReceiptURL, &p.PaidAt, &p.CreatedAt); err != nil {
			return nil, err
		}
		if p.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		p.Status = PaymentStatus(status)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Postgres) FindVerifiedIdentityByEmail(ctx context.Context, email string) (Identity, bool, error) {
	var id Identity
	err := r.q.QueryRow(ctx, `
		SELECT id::text, email, email_verified
		FROM users
		WHERE lower(email) = $1 AND email_verified
		ORDER BY created_at
		LIMIT 1
	`, NormalizeEmail(email)).Scan(&id.ID, &id.Email, &id.EmailVerified)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Identity{}, false, nil
		}
		return Identity{}, false, err
	}
	return id, true, nil
}

func (r *Postgres) UpsertPendingLinkage(ctx context.Context, l PendingLinkage) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO pending_linkages (placeholder_user_id, email, external_customer_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (placeholder_user_id)
		DO UPDATE SET email = EXCLUDED.email
		WHERE pending_linkages.resolved_at IS NULL
	`, l.PlaceholderUserID, NormalizeEmail(l.Email), l.ExternalCustomerID)
	return err
}

func (r *Postgres) ListPendingLinkages(ctx context.Context, email string, limit int) ([]PendingLinkage, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.q.Query(ctx, `
		SELECT placeholder_user_id, email, external_customer_id, created_at
		FROM pending_linkages
		WHERE resolved_at IS NULL AND ($1 = '' OR email = $1)
		ORDER BY created_at
		LIMIT $2
	`, NormalizeEmail(email), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PendingLinkage
	for rows.Next() {
		var l PendingLinkage
		if err := rows.Scan(&l.PlaceholderUserID, &l.Email, &l.ExternalCustomerID, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Postgres) ReassignUser(ctx context.Context, placeholderUserID, userID string) (int64, error) {
	subs, err := r.q.Exec(ctx, `
		UPDATE subscriptions SET user_id = $2, updated_at = now() WHERE user_id = $1
	`, placeholderUserID, userID)
	if err != nil {
		return 0, err
	}
	pays, err := r.q.Exec(ctx, `
		UPDATE payments SET user_id = $2 WHERE user_id = $1
	`, placeholderUserID, userID)
	if err != nil {
		return 0, err
	}
	return subs.RowsAffected() + pays.RowsAffected(), nil
}

func (r *Postgres) ResolvePendingLinkage(ctx context.Context, placeholderUserID, userID string, at time.Time) error {
	_, err := r.q.Exec(ctx, `
		UPDATE pending_linkages
		SET resolved_user_id = $2, resolved_at = $3
		WHERE placeholder_user_id = $1 AND resolved_at IS NULL
	`, placeholderUserID, userID, at)
	return err
}

func (r *Postgres) InsertOutboxEvent(ctx context.Context, evt outbox.Event) error {
	return outbox.Insert(ctx, r.q, evt)
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
