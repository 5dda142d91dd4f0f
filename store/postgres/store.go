package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/migrate"

	"github.com/ipflow/relay/audit"
	"github.com/ipflow/relay/credential"
	"github.com/ipflow/relay/delivery"
	"github.com/ipflow/relay/id"
	relaystore "github.com/ipflow/relay/store"
	"github.com/ipflow/relay/subscription"
)

// compile-time interface check
var _ relaystore.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("relay/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("relay/postgres: migration failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Credential Store ====================

func (s *Store) CreateCredential(ctx context.Context, c *credential.Credential) error {
	m := toCredentialModel(c)
	res, err := s.pg.NewInsert(m).
		OnConflict("(key_hash) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return credential.ErrDuplicateHash
	}
	return nil
}

func (s *Store) GetCredential(ctx context.Context, credID id.ID) (*credential.Credential, error) {
	m := new(credentialModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", credID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, credential.ErrNotFound
		}
		return nil, err
	}
	return fromCredentialModel(m)
}

func (s *Store) GetCredentialByHash(ctx context.Context, hash string) (*credential.Credential, error) {
	m := new(credentialModel)
	err := s.pg.NewSelect(m).
		Where("key_hash = $1", hash).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, credential.ErrNotFound
		}
		return nil, err
	}
	return fromCredentialModel(m)
}

func (s *Store) ListCredentials(ctx context.Context, tenantID string, opts credential.ListOpts) ([]*credential.Credential, error) {
	var models []credentialModel
	q := s.pg.NewSelect(&models).Where("tenant_id = $1", tenantID)
	if opts.Active != nil {
		q = q.Where("active = $2", *opts.Active)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at ASC, id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*credential.Credential, len(models))
	for i := range models {
		c, err := fromCredentialModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = c
	}
	return result, nil
}

func (s *Store) RevokeCredential(ctx context.Context, credID id.ID) error {
	res, err := s.pg.NewUpdate((*credentialModel)(nil)).
		Set("active = false").
		Set("updated_at = $1", now()).
		Where("id = $2", credID.String()).
		Exec(ctx)
	return affected(res, err, credential.ErrNotFound)
}

func (s *Store) DeleteCredential(ctx context.Context, credID id.ID) error {
	res, err := s.pg.NewDelete((*credentialModel)(nil)).
		Where("id = $1", credID.String()).
		Exec(ctx)
	return affected(res, err, credential.ErrNotFound)
}

func (s *Store) TouchCredential(ctx context.Context, credID id.ID, at time.Time) error {
	res, err := s.pg.NewUpdate((*credentialModel)(nil)).
		Set("usage_count = usage_count + 1").
		Set("last_used_at = $1", at.UTC()).
		Where("id = $2", credID.String()).
		Exec(ctx)
	return affected(res, err, credential.ErrNotFound)
}

// ==================== Subscription Store ====================

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	_, err := s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetSubscription(ctx context.Context, subID id.ID) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", subID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, subscription.ErrNotFound
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

// UpdateSubscription writes only the configurable columns so a concurrent
// RecordFailure is never overwritten with stale bookkeeping.
func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	var models []subscriptionModel
	err := s.pg.NewRaw(`
		UPDATE relay_subscriptions
		SET url = $1, description = $2, events = $3::text[], updated_at = $4
		WHERE id = $5
		RETURNING *
	`, sub.URL, sub.Description, nonNil(sub.Events), now(), sub.ID.String()).Scan(ctx, &models)
	if err != nil {
		return err
	}
	if len(models) == 0 {
		return subscription.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteSubscription(ctx context.Context, subID id.ID) error {
	res, err := s.pg.NewDelete((*subscriptionModel)(nil)).
		Where("id = $1", subID.String()).
		Exec(ctx)
	return affected(res, err, subscription.ErrNotFound)
}

func (s *Store) ListSubscriptions(ctx context.Context, tenantID string, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	q := s.pg.NewSelect(&models).Where("tenant_id = $1", tenantID)
	if opts.Active != nil {
		q = q.Where("active = $2", *opts.Active)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at ASC, id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromSubscriptionModels(models)
}

func (s *Store) Resolve(ctx context.Context, tenantID, eventName string) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	if err := s.pg.NewSelect(&models).
		Where("tenant_id = $1", tenantID).
		Where("active = true").
		Where("$2 = ANY(events)", eventName).
		OrderExpr("created_at ASC, id ASC").
		Scan(ctx); err != nil {
		return nil, err
	}
	return fromSubscriptionModels(models)
}

func (s *Store) SetActive(ctx context.Context, subID id.ID, active bool) error {
	q := s.pg.NewUpdate((*subscriptionModel)(nil)).
		Set("active = $1", active).
		Set("updated_at = $2", now())
	if active {
		q = q.Set("failure_count = 0").Set("disabled_at = NULL")
	}
	res, err := q.Where("id = $3", subID.String()).Exec(ctx)
	return affected(res, err, subscription.ErrNotFound)
}

func (s *Store) RecordSuccess(ctx context.Context, subID id.ID, at time.Time) (subscription.Health, error) {
	var models []subscriptionModel
	err := s.pg.NewRaw(`
		UPDATE relay_subscriptions
		SET failure_count = 0, last_delivery_at = $1
		WHERE id = $2
		RETURNING *
	`, at.UTC(), subID.String()).Scan(ctx, &models)
	return healthOf(models, err)
}

// RecordFailure increments and evaluates the threshold in one statement,
// so concurrent failures serialize on the row lock.
func (s *Store) RecordFailure(ctx context.Context, subID id.ID, at time.Time, threshold int) (subscription.Health, error) {
	var models []subscriptionModel
	err := s.pg.NewRaw(`
		UPDATE relay_subscriptions
		SET failure_count    = failure_count + 1,
		    last_delivery_at = $1,
		    active           = CASE WHEN active AND failure_count + 1 >= $2 THEN FALSE ELSE active END,
		    disabled_at      = CASE WHEN active AND failure_count + 1 >= $2 THEN $1 ELSE disabled_at END
		WHERE id = $3
		RETURNING *
	`, at.UTC(), threshold, subID.String()).Scan(ctx, &models)
	return healthOf(models, err)
}

// ==================== Delivery Record Store ====================

func (s *Store) CreateRecord(ctx context.Context, rec *delivery.Record) error {
	m := toRecordModel(rec)
	_, err := s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetRecord(ctx context.Context, recID id.ID) (*delivery.Record, error) {
	m := new(recordModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", recID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, delivery.ErrRecordNotFound
		}
		return nil, err
	}
	return fromRecordModel(m)
}

func (s *Store) ListRecords(ctx context.Context, subID id.ID, opts delivery.ListOpts) ([]*delivery.Record, error) {
	var models []recordModel
	q := s.pg.NewSelect(&models).Where("subscription_id = $1", subID.String())
	if opts.Success != nil {
		q = q.Where("success = $2", *opts.Success)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC, id DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*delivery.Record, len(models))
	for i := range models {
		rec, err := fromRecordModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = rec
	}
	return result, nil
}

// ==================== Audit Store ====================

func (s *Store) CreateAuditEntry(ctx context.Context, e *audit.Entry) error {
	m := toAuditModel(e)
	_, err := s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) ListAuditEntries(ctx context.Context, tenantID string, opts audit.ListOpts) ([]*audit.Entry, error) {
	var models []auditModel
	q := s.pg.NewSelect(&models).Where("tenant_id = $1", tenantID)
	if opts.Action != "" {
		q = q.Where("action = $2", string(opts.Action))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC, id DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*audit.Entry, len(models))
	for i := range models {
		e, err := fromAuditModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = e
	}
	return result, nil
}

// ==================== Helpers ====================

func fromSubscriptionModels(models []subscriptionModel) ([]*subscription.Subscription, error) {
	result := make([]*subscription.Subscription, len(models))
	for i := range models {
		sub, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = sub
	}
	return result, nil
}

func healthOf(models []subscriptionModel, err error) (subscription.Health, error) {
	if err != nil {
		return subscription.Health{}, err
	}
	if len(models) == 0 {
		return subscription.Health{}, subscription.ErrNotFound
	}
	m := &models[0]
	return subscription.Health{
		FailureCount: m.FailureCount,
		Active:       m.Active,
		Disabled:     switchedOff(m.Active, m.DisabledAt, m.LastDeliveryAt),
	}, nil
}

type rowsResult interface {
	RowsAffected() (int64, error)
}

// affected maps a zero-row write to notFound.
func affected(res rowsResult, err, notFound error) error {
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return notFound
	}
	return nil
}

func now() time.Time {
	return time.Now().UTC()
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// switchedOff reports whether the failure update that produced a row is the
// one that disabled it. That update writes the same timestamp to
// disabled_at and last_delivery_at; later failures move only the latter,
// and a pause leaves disabled_at NULL.
func switchedOff(active bool, disabledAt, lastDeliveryAt *time.Time) bool {
	return !active && disabledAt != nil && lastDeliveryAt != nil && disabledAt.Equal(*lastDeliveryAt)
}
