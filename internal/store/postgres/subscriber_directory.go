package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/polytrax/engine/internal/store"
)

// SubscriberDirectory reads subscribers from the users and wallets tables
// maintained by the account service.
type SubscriberDirectory struct {
	pool *Pool
}

// NewSubscriberDirectory creates a new PostgreSQL subscriber directory.
func NewSubscriberDirectory(pool *Pool) *SubscriberDirectory {
	return &SubscriberDirectory{pool: pool}
}

var _ store.SubscriberDirectory = (*SubscriberDirectory)(nil)

const subscriberColumns = `
	u.id,
	COALESCE(u.email, ''),
	COALESCE(u.phone, ''),
	u.sms_enabled,
	u.email_enabled,
	u.subscription_status,
	u.trial_end_date,
	COALESCE(array_agg(w.address ORDER BY w.created_at, w.address) FILTER (WHERE w.address IS NOT NULL), '{}')
`

// ListSubscribers returns all users with at least one tracked wallet, ordered by ID.
func (d *SubscriberDirectory) ListSubscribers(ctx context.Context) ([]store.Subscriber, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT`+subscriberColumns+`
		FROM users u
		JOIN wallets w ON w.user_id = u.id
		GROUP BY u.id
		ORDER BY u.id
	`)
	if err != nil {
		return nil, fmt.Errorf("query subscribers: %w", err)
	}
	defer rows.Close()

	var subs []store.Subscriber
	for rows.Next() {
		s, err := scanSubscriber(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscribers: %w", err)
	}
	return subs, nil
}

// GetSubscriber retrieves a user and their wallets by ID.
func (d *SubscriberDirectory) GetSubscriber(ctx context.Context, id string) (*store.Subscriber, error) {
	if id == "" {
		return nil, store.ErrInvalidInput
	}

	row := d.pool.QueryRow(ctx, `
		SELECT`+subscriberColumns+`
		FROM users u
		LEFT JOIN wallets w ON w.user_id = u.id
		WHERE u.id = $1
		GROUP BY u.id
	`, id)

	s, err := scanSubscriber(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

func scanSubscriber(row pgx.Row) (store.Subscriber, error) {
	var (
		s       store.Subscriber
		status  string
		trial   *time.Time
		wallets []string
	)
	err := row.Scan(
		&s.ID,
		&s.Email.Address,
		&s.Phone.Address,
		&s.Phone.Enabled,
		&s.Email.Enabled,
		&status,
		&trial,
		&wallets,
	)
	if err != nil {
		return store.Subscriber{}, err
	}

	s.Status = store.SubscriptionStatus(status)
	s.TrialEndsAt = trial
	for _, w := range wallets {
		s.Wallets = append(s.Wallets, store.NormalizeAddress(w))
	}
	return s, nil
}
