package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
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

// Store implements store.Store using SQLite via Grove ORM.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("relay/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("relay/sqlite: migration failed: %w", err)
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
	res, err := s.sdb.NewInsert(m).
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
	return s.credentialWhere(ctx, "id = ?", credID.String())
}

func (s *Store) GetCredentialByHash(ctx context.Context, hash string) (*credential.Credential, error) {
	return s.credentialWhere(ctx, "key_hash = ?", hash)
}

func (s *Store) credentialWhere(ctx context.Context, cond string, arg any) (*credential.Credential, error) {
	m := new(credentialModel)
	err := s.sdb.NewSelect(m).Where(cond, arg).Scan(ctx)
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
	q := s.sdb.NewSelect(&models).Where("tenant_id = ?", tenantID)
	if opts.Active != nil {
		q = q.Where("active = ?", *opts.Active)
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
	res, err := s.sdb.NewUpdate((*credentialModel)(nil)).
		Set("active = 0").
		Set("updated_at = ?", now()).
		Where("id = ?", credID.String()).
		Exec(ctx)
	return affected(res, err, credential.ErrNotFound)
}

func (s *Store) DeleteCredential(ctx context.Context, credID id.ID) error {
	res, err := s.sdb.NewDelete((*credentialModel)(nil)).
		Where("id = ?", credID.String()).
		Exec(ctx)
	return affected(res, err, credential.ErrNotFound)
}

func (s *Store) TouchCredential(ctx context.Context, credID id.ID, at time.Time) error {
	res, err := s.sdb.NewUpdate((*credentialModel)(nil)).
		Set("usage_count = usage_count + 1").
		Set("last_used_at = ?", at.UTC()).
		Where("id = ?", credID.String()).
		Exec(ctx)
	return affected(res, err, credential.ErrNotFound)
}

// ==================== Subscription Store ====================

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	_, err := s.sdb.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetSubscription(ctx context.Context, subID id.ID) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", subID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, subscription.ErrNotFound
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	res, err := s.sdb.NewUpdate((*subscriptionModel)(nil)).
		Set("url = ?", sub.URL).
		Set("description = ?", sub.Description).
		Set("events = ?", encodeList(sub.Events)).
		Set("updated_at = ?", now()).
		Where("id = ?", sub.ID.String()).
		Exec(ctx)
	return affected(res, err, subscription.ErrNotFound)
}

func (s *Store) DeleteSubscription(ctx context.Context, subID id.ID) error {
	res, err := s.sdb.NewDelete((*subscriptionModel)(nil)).
		Where("id = ?", subID.String()).
		Exec(ctx)
	return affected(res, err, subscription.ErrNotFound)
}

func (s *Store) ListSubscriptions(ctx context.Context, tenantID string, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	q := s.sdb.NewSelect(&models).Where("tenant_id = ?", tenantID)
	if opts.Active != nil {
		q = q.Where("active = ?", *opts.Active)
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

// Resolve matches against the JSON events array with json_each.
func (s *Store) Resolve(ctx context.Context, tenantID, eventName string) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	if err := s.sdb.NewSelect(&models).
		Where("tenant_id = ?", tenantID).
		Where("active = 1").
		Where("EXISTS (SELECT 1 FROM json_each(events) WHERE json_each.value = ?)", eventName).
		OrderExpr("created_at ASC, id ASC").
		Scan(ctx); err != nil {
		return nil, err
	}
	return fromSubscriptionModels(models)
}

func (s *Store) SetActive(ctx context.Context, subID id.ID, active bool) error {
	q := s.sdb.NewUpdate((*subscriptionModel)(nil)).
		Set("active = ?", active).
		Set("updated_at = ?", now())
	if active {
		q = q.Set("failure_count = 0").Set("disabled_at = NULL")
	}
	res, err := q.Where("id = ?", subID.String()).Exec(ctx)
	return affected(res, err, subscription.ErrNotFound)
}

func (s *Store) RecordSuccess(ctx context.Context, subID id.ID, at time.Time) (subscription.Health, error) {
	var models []subscriptionModel
	err := s.sdb.NewRaw(`
		UPDATE relay_subscriptions
		SET failure_count = 0, last_delivery_at = ?
		WHERE id = ?
		RETURNING *
	`, at.UTC(), subID.String()).Scan(ctx, &models)
	return healthOf(models, err)
}

// RecordFailure relies on SQLite's single-writer lock for atomicity.
func (s *Store) RecordFailure(ctx context.Context, subID id.ID, at time.Time, threshold int) (subscription.Health, error) {
	at = at.UTC()
	var models []subscriptionModel
	err := s.sdb.NewRaw(`
		UPDATE relay_subscriptions
		SET failure_count    = failure_count + 1,
		    last_delivery_at = ?,
		    active           = CASE WHEN active = 1 AND failure_count + 1 >= ? THEN 0 ELSE active END,
		    disabled_at      = CASE WHEN active = 1 AND failure_count + 1 >= ? THEN ? ELSE disabled_at END
		WHERE id = ?
		RETURNING *
	`, at, threshold, threshold, at, subID.String()).Scan(ctx, &models)
	return healthOf(models, err)
}

// ==================== Delivery Record Store ====================

func (s *Store) CreateRecord(ctx context.Context, rec *delivery.Record) error {
	m := toRecordModel(rec)
	_, err := s.sdb.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetRecord(ctx context.Context, recID id.ID) (*delivery.Record, error) {
	m := new(recordModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", recID.String()).
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
	q := s.sdb.NewSelect(&models).Where("subscription_id = ?", subID.String())
	if opts.Success != nil {
		q = q.Where("success = ?", *opts.Success)
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
	_, err := s.sdb.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) ListAuditEntries(ctx context.Context, tenantID string, opts audit.ListOpts) ([]*audit.Entry, error) {
	var models []auditModel
	q := s.sdb.NewSelect(&models).Where("tenant_id = ?", tenantID)
	if opts.Action != "" {
		q = q.Where("action = ?", string(opts.Action))
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
