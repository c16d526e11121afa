package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"fuelwatch/internal/fuel"
	"fuelwatch/internal/subscription"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

// snapshotKey is the fixed row id for the persisted price snapshot; the
// process keeps exactly one.
const snapshotKey = "fuelprice"

const (
	selectRulesForUpdateSQL = `SELECT chat_id, rules FROM subscriptions WHERE owner = $1 FOR UPDATE;`

	selectRulesSQL = `SELECT rules FROM subscriptions WHERE owner = $1;`

	listOwnersSQL = `SELECT owner, chat_id, rules FROM subscriptions ORDER BY owner;`

	upsertRulesSQL = `INSERT INTO subscriptions (owner, chat_id, rules, updated_at)
    VALUES ($1, $2, $3, now())
    ON CONFLICT (owner) DO UPDATE
    SET chat_id = EXCLUDED.chat_id,
        rules = EXCLUDED.rules,
        updated_at = now();`

	insertNotificationSQL = `INSERT INTO notification_log (
        owner, fuel, condition, threshold, observed, fired_at
    ) VALUES ($1,$2,$3,$4,$5,$6)
    RETURNING id, owner, fuel, condition, threshold::text, observed::text, fired_at, created_at;`

	listRecentNotificationsSQL = `SELECT
        id, owner, fuel, condition, threshold::text, observed::text, fired_at, created_at
    FROM notification_log
    ORDER BY created_at DESC
    LIMIT $1;`

	deleteNotificationsBeforeSQL = `DELETE FROM notification_log WHERE created_at < $1;`

	upsertSnapshotSQL = `INSERT INTO price_snapshots (id, snapshot, fetched_at)
    VALUES ($1, $2, $3)
    ON CONFLICT (id) DO UPDATE
    SET snapshot = EXCLUDED.snapshot,
        fetched_at = EXCLUDED.fetched_at;`

	selectSnapshotSQL = `SELECT snapshot, fetched_at FROM price_snapshots WHERE id = $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// NotificationStore defines operations for the delivered-alert audit log.
type NotificationStore interface {
	InsertNotification(ctx context.Context, rec NotificationRecord) (NotificationRecord, error)
	ListRecentNotifications(ctx context.Context, limit int) ([]NotificationRecord, error)
	DeleteNotificationsBefore(ctx context.Context, olderThan time.Time) error
}

// SnapshotStore persists the price cache entry across restarts.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snapshot fuel.Snapshot, fetchedAt time.Time) error
	LoadSnapshot(ctx context.Context) (fuel.Snapshot, time.Time, bool, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store provides PostgreSQL-backed subscription, notification, and snapshot
// persistence.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// List returns the owner's rules in stored order.
func (s *Store) List(ctx context.Context, owner string) ([]subscription.Subscription, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var raw []byte
	if err := pool.QueryRow(ctx, selectRulesSQL, owner).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return []subscription.Subscription{}, nil
		}
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}

	return decodeRules(raw)
}

// ListAll returns every owner's rules ordered by owner.
func (s *Store) ListAll(ctx context.Context) ([]subscription.OwnerRules, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listOwnersSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list owners: %w", queryErr)
	}
	defer rows.Close()

	owners := make([]subscription.OwnerRules, 0)
	for rows.Next() {
		var (
			owner  string
			chatID string
			raw    []byte
		)
		if err := rows.Scan(&owner, &chatID, &raw); err != nil {
			return nil, err
		}
		rules, decErr := decodeRules(raw)
		if decErr != nil {
			return nil, decErr
		}
		owners = append(owners, subscription.OwnerRules{Owner: owner, ChatID: chatID, Rules: rules})
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return owners, nil
}

// Add appends a rule to the owner's list inside a row-locked transaction so
// concurrent mutations of the same owner cannot lose updates.
func (s *Store) Add(ctx context.Context, owner, chatID string, rule subscription.Subscription) error {
	return s.mutateOwner(ctx, owner, true, func(storedChatID string, rules []subscription.Subscription) (string, []subscription.Subscription, error) {
		if chatID != "" {
			storedChatID = chatID
		}
		return storedChatID, append(rules, rule), nil
	})
}

// Remove deletes the rule at index, preserving the order of the remainder.
func (s *Store) Remove(ctx context.Context, owner string, index int) error {
	return s.mutateOwner(ctx, owner, false, func(chatID string, rules []subscription.Subscription) (string, []subscription.Subscription, error) {
		if index < 0 || index >= len(rules) {
			return "", nil, subscription.ErrNotFound
		}
		return chatID, append(rules[:index], rules[index+1:]...), nil
	})
}

// RecordNotified stamps LastNotifiedAt on one rule. The index is revalidated
// under the row lock; if a concurrent removal shifted it the call fails with
// ErrNotFound rather than stamping the wrong rule.
func (s *Store) RecordNotified(ctx context.Context, owner string, index int, when time.Time) error {
	return s.mutateOwner(ctx, owner, false, func(chatID string, rules []subscription.Subscription) (string, []subscription.Subscription, error) {
		if index < 0 || index >= len(rules) {
			return "", nil, subscription.ErrNotFound
		}
		stamped := when
		rules[index].LastNotifiedAt = &stamped
		return chatID, rules, nil
	})
}

// mutateOwner runs a read-modify-write cycle on one owner's row under
// SELECT ... FOR UPDATE.
func (s *Store) mutateOwner(ctx context.Context, owner string, createIfMissing bool, mutate func(chatID string, rules []subscription.Subscription) (string, []subscription.Subscription, error)) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin subscription tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		chatID string
		raw    []byte
		rules  []subscription.Subscription
	)
	scanErr := tx.QueryRow(ctx, selectRulesForUpdateSQL, owner).Scan(&chatID, &raw)
	switch {
	case scanErr == nil:
		rules, err = decodeRules(raw)
		if err != nil {
			return err
		}
	case errors.Is(scanErr, pgx.ErrNoRows):
		if !createIfMissing {
			return subscription.ErrNotFound
		}
		rules = []subscription.Subscription{}
	default:
		return fmt.Errorf("lock subscription row: %w", scanErr)
	}

	chatID, rules, err = mutate(chatID, rules)
	if err != nil {
		return err
	}

	encoded, err := json.Marshal(rules)
	if err != nil {
		return fmt.Errorf("encode rules: %w", err)
	}

	if _, err := tx.Exec(ctx, upsertRulesSQL, owner, chatID, encoded); err != nil {
		return fmt.Errorf("upsert subscription row: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit subscription tx: %w", err)
	}
	return nil
}

func decodeRules(raw []byte) ([]subscription.Subscription, error) {
	if len(raw) == 0 {
		return []subscription.Subscription{}, nil
	}
	var rules []subscription.Subscription
	if err := json.Unmarshal(raw, &rules); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	if rules == nil {
		rules = []subscription.Subscription{}
	}
	return rules, nil
}

// InsertNotification appends one delivered alert to the audit log.
func (s *Store) InsertNotification(ctx context.Context, rec NotificationRecord) (NotificationRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return NotificationRecord{}, err
	}

	row := pool.QueryRow(ctx, insertNotificationSQL,
		rec.Owner,
		rec.Fuel,
		rec.Condition,
		rec.Threshold.String(),
		rec.Observed.String(),
		rec.FiredAt,
	)

	stored, err := scanNotification(row)
	if err != nil {
		return NotificationRecord{}, fmt.Errorf("insert notification: %w", err)
	}
	return stored, nil
}

// ListRecentNotifications lists the most recently delivered alerts.
func (s *Store) ListRecentNotifications(ctx context.Context, limit int) ([]NotificationRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentNotificationsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list notifications: %w", queryErr)
	}
	defer rows.Close()

	records := make([]NotificationRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanNotification(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// DeleteNotificationsBefore trims the audit log.
func (s *Store) DeleteNotificationsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteNotificationsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete notifications before: %w", execErr)
	}
	return nil
}

// SaveSnapshot persists the latest cache entry wholesale.
func (s *Store) SaveSnapshot(ctx context.Context, snapshot fuel.Snapshot, fetchedAt time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	encoded, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	if _, execErr := pool.Exec(ctx, upsertSnapshotSQL, snapshotKey, encoded, fetchedAt); execErr != nil {
		return fmt.Errorf("save snapshot: %w", execErr)
	}
	return nil
}

// LoadSnapshot reads the persisted cache entry, reporting false when none
// has been stored yet.
func (s *Store) LoadSnapshot(ctx context.Context) (fuel.Snapshot, time.Time, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return fuel.Snapshot{}, time.Time{}, false, err
	}

	var (
		raw       []byte
		fetchedAt time.Time
	)
	if err := pool.QueryRow(ctx, selectSnapshotSQL, snapshotKey).Scan(&raw, &fetchedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fuel.Snapshot{}, time.Time{}, false, nil
		}
		return fuel.Snapshot{}, time.Time{}, false, fmt.Errorf("load snapshot: %w", err)
	}

	var snapshot fuel.Snapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return fuel.Snapshot{}, time.Time{}, false, fmt.Errorf("decode snapshot: %w", err)
	}
	return snapshot, fetchedAt, true, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a
// release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// Best effort: the lock is session scoped and released with the
		// connection anyway.
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func scanNotification(row pgx.Row) (NotificationRecord, error) {
	var (
		rec          NotificationRecord
		thresholdStr string
		observedStr  string
	)
	if err := row.Scan(
		&rec.ID,
		&rec.Owner,
		&rec.Fuel,
		&rec.Condition,
		&thresholdStr,
		&observedStr,
		&rec.FiredAt,
		&rec.CreatedAt,
	); err != nil {
		return NotificationRecord{}, err
	}

	var convErr error
	rec.Threshold, convErr = decimal.NewFromString(thresholdStr)
	if convErr != nil {
		return NotificationRecord{}, fmt.Errorf("parse threshold: %w", convErr)
	}
	rec.Observed, convErr = decimal.NewFromString(observedStr)
	if convErr != nil {
		return NotificationRecord{}, fmt.Errorf("parse observed: %w", convErr)
	}
	return rec, nil
}

var (
	_ subscription.Store = (*Store)(nil)
	_ NotificationStore  = (*Store)(nil)
	_ SnapshotStore      = (*Store)(nil)
	_ AdvisoryLocker     = (*Store)(nil)
)
