package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	checkin "github.com/goliatone/go-checkin"
	"github.com/goliatone/go-checkin/flow"
	"github.com/goliatone/go-checkin/fsm"
	"github.com/goliatone/go-checkin/recon"
)

// Store is the pgx-backed persistence adapter for check-ins, scores,
// bookings, and the reconciliation queue.
type Store struct {
	db     *pgxpool.Pool
	logger fsm.Logger
}

// NewStore wraps a connection pool.
func NewStore(db *pgxpool.Pool, logger fsm.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("connection pool required")
	}
	if logger == nil {
		logger = fsm.NewFmtLogger(nil)
	}
	return &Store{db: db, logger: logger}, nil
}

// HasCheckedIn reports whether the user already holds a check-in for the
// location.
func (s *Store) HasCheckedIn(ctx context.Context, userAddress, locationID string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM checkins WHERE user_address = $1 AND location_id = $2)",
		userAddress, locationID,
	).Scan(&exists)
	if err != nil {
		return false, checkin.CloneError(checkin.ErrPersistenceFailed, "check-in lookup failed", err, nil)
	}
	return exists, nil
}

// CreateCheckIn inserts one confirmed check-in. Writes are idempotent
// keyed by transaction hash: replaying the same hash returns the existing
// record id without a new row. A different transaction for an already
// checked-in (user, location) pair is rejected.
func (s *Store) CreateCheckIn(ctx context.Context, rec checkin.CheckInRecord) (string, error) {
	var id string
	err := s.db.QueryRow(ctx, "SELECT id FROM checkins WHERE tx_hash = $1", rec.TxHash).Scan(&id)
	if err == nil {
		s.logger.Debug("check-in for %s already recorded as %s", rec.TxHash, id)
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", checkin.CloneError(checkin.ErrPersistenceFailed, "check-in lookup failed", err, nil)
	}

	insertQuery := `
		INSERT INTO checkins (id, user_id, user_address, location_id, collectible_id, tx_hash, token_id, contract_address, chain_id, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10)
		ON CONFLICT (user_address, location_id) DO NOTHING
		RETURNING id
	`
	newID := uuid.New().String()
	err = s.db.QueryRow(ctx, insertQuery,
		newID,
		rec.UserID,
		rec.UserAddress,
		rec.LocationID,
		rec.CollectibleID,
		rec.TxHash,
		rec.TokenID,
		rec.ContractAddress,
		rec.ChainID,
		time.Now().UTC(),
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", checkin.CloneError(checkin.ErrPersistenceFailed,
			"duplicate check-in for this location", nil,
			map[string]any{"location_id": rec.LocationID, "user_address": rec.UserAddress})
	}
	if err != nil {
		return "", checkin.CloneError(checkin.ErrPersistenceFailed, "create check-in failed", err, nil)
	}
	return id, nil
}

// IncrementScore adds points to the user's reward score, creating the
// profile row on first use.
func (s *Store) IncrementScore(ctx context.Context, userID string, points int) error {
	query := `
		INSERT INTO profiles (id, score, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			score = profiles.score + EXCLUDED.score,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := s.db.Exec(ctx, query, userID, points, time.Now().UTC()); err != nil {
		return checkin.CloneError(checkin.ErrPersistenceFailed, "score update failed", err,
			map[string]any{"user_id": userID})
	}
	return nil
}

// CreateBooking inserts one settled booking.
func (s *Store) CreateBooking(ctx context.Context, rec checkin.BookingRecord) (string, error) {
	query := `
		INSERT INTO bookings (id, user_id, user_address, tour_id, reward_amount, stable_amount, tx_hash, chain_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`
	var id string
	err := s.db.QueryRow(ctx, query,
		uuid.New().String(),
		rec.UserID,
		rec.UserAddress,
		rec.TourID,
		rec.RewardAmount.String(),
		rec.StableAmount.String(),
		rec.TxHash,
		rec.ChainID,
		time.Now().UTC(),
	).Scan(&id)
	if err != nil {
		return "", checkin.CloneError(checkin.ErrPersistenceFailed, "create booking failed", err, nil)
	}
	return id, nil
}

// Flag queues a confirmed-but-unparseable transaction for manual
// reconciliation.
func (s *Store) Flag(ctx context.Context, flag flow.ReconFlag) error {
	query := `
		INSERT INTO reconciliations (id, tx_hash, location_id, user_address, reason, flagged_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tx_hash) DO NOTHING
	`
	_, err := s.db.Exec(ctx, query,
		uuid.New().String(),
		flag.TxHash,
		flag.LocationID,
		flag.UserAddress,
		flag.Reason,
		time.Now().UTC(),
	)
	if err != nil {
		return checkin.CloneError(checkin.ErrPersistenceFailed, "reconciliation flag failed", err,
			map[string]any{"tx_hash": flag.TxHash})
	}
	return nil
}

// PendingReconciliations lists flagged transactions awaiting manual review.
func (s *Store) PendingReconciliations(ctx context.Context, limit int) ([]recon.Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, tx_hash, location_id, user_address, reason, flagged_at
		FROM reconciliations
		WHERE reviewed_at IS NULL
		ORDER BY flagged_at ASC
		LIMIT $1
	`
	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, checkin.CloneError(checkin.ErrPersistenceFailed, "reconciliation query failed", err, nil)
	}
	defer rows.Close()

	var entries []recon.Entry
	for rows.Next() {
		var e recon.Entry
		if err := rows.Scan(&e.ID, &e.TxHash, &e.LocationID, &e.UserAddress, &e.Reason, &e.FlaggedAt); err != nil {
			return nil, checkin.CloneError(checkin.ErrPersistenceFailed, "reconciliation scan failed", err, nil)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MarkReviewed stamps a reconciliation entry as manually handled.
func (s *Store) MarkReviewed(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx,
		"UPDATE reconciliations SET reviewed_at = $1 WHERE id = $2 AND reviewed_at IS NULL",
		time.Now().UTC(), id,
	)
	if err != nil {
		return checkin.CloneError(checkin.ErrPersistenceFailed, "reconciliation update failed", err, nil)
	}
	if tag.RowsAffected() == 0 {
		return checkin.CloneError(checkin.ErrPersistenceFailed, "reconciliation entry not found", nil,
			map[string]any{"id": id})
	}
	return nil
}
