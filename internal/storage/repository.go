package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	upsertRateSampleSQL = `INSERT INTO rate_samples (
        sample_ts,
        currency,
        lowest_rate,
        window_low,
        window_avg,
        window_high
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    ON CONFLICT (sample_ts, currency) DO UPDATE
    SET
        lowest_rate = EXCLUDED.lowest_rate,
        window_low  = EXCLUDED.window_low,
        window_avg  = EXCLUDED.window_avg,
        window_high = EXCLUDED.window_high;`

	listSamplesBetweenSQL = `SELECT
        sample_ts,
        currency,
        lowest_rate,
        window_low,
        window_avg,
        window_high,
        created_at
    FROM rate_samples
    WHERE currency = $1
      AND sample_ts >= $2
      AND sample_ts < $3
    ORDER BY sample_ts;`

	listRecentSamplesSQL = `SELECT
        sample_ts,
        currency,
        lowest_rate,
        window_low,
        window_avg,
        window_high,
        created_at
    FROM rate_samples
    WHERE currency = $1
    ORDER BY sample_ts DESC
    LIMIT $2;`

	insertPlacedOfferSQL = `INSERT INTO placed_offers (
        currency,
        amount,
        rate,
        duration_days,
        order_id,
        dry_run
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    RETURNING id, created_at;`

	listRecentOffersSQL = `SELECT
        id,
        currency,
        amount,
        rate,
        duration_days,
        order_id,
        dry_run,
        created_at
    FROM placed_offers
    ORDER BY created_at DESC
    LIMIT $1;`
)

// RateSampleStore defines operations for rate sample persistence.
type RateSampleStore interface {
	UpsertRateSample(ctx context.Context, sample RateSample) error
	ListSamplesBetween(ctx context.Context, currency string, from, to time.Time) ([]RateSample, error)
	ListRecentSamples(ctx context.Context, currency string, limit int) ([]RateSample, error)
}

// OfferStore defines operations for placed-offer auditing.
type OfferStore interface {
	InsertPlacedOffer(ctx context.Context, offer PlacedOffer) (PlacedOffer, error)
	ListRecentOffers(ctx context.Context, limit int) ([]PlacedOffer, error)
}

// Store aggregates access to rate samples and placed offers.
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

// UpsertRateSample persists or updates one statistics observation.
func (s *Store) UpsertRateSample(ctx context.Context, sample RateSample) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, upsertRateSampleSQL,
		sample.SampleTS,
		sample.Currency,
		sample.LowestRate.String(),
		sample.WindowLow.String(),
		sample.WindowAvg.String(),
		sample.WindowHigh.String(),
	)
	if execErr != nil {
		return fmt.Errorf("upsert rate sample: %w", execErr)
	}
	return nil
}

// ListSamplesBetween lists one currency's samples within a time window.
func (s *Store) ListSamplesBetween(ctx context.Context, currency string, from, to time.Time) ([]RateSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSamplesBetweenSQL, currency, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list samples between: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]RateSample, 0)
	for rows.Next() {
		sample, scanErr := scanRateSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// ListRecentSamples lists the most recent samples for one currency.
func (s *Store) ListRecentSamples(ctx context.Context, currency string, limit int) ([]RateSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSamplesSQL, currency, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent samples: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]RateSample, 0, limit)
	for rows.Next() {
		sample, scanErr := scanRateSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// InsertPlacedOffer records one submitted offer.
func (s *Store) InsertPlacedOffer(ctx context.Context, offer PlacedOffer) (PlacedOffer, error) {
	pool, err := s.getPool()
	if err != nil {
		return PlacedOffer{}, err
	}

	var orderID interface{}
	if offer.OrderID != nil {
		orderID = *offer.OrderID
	}

	row := pool.QueryRow(ctx, insertPlacedOfferSQL,
		offer.Currency,
		offer.Amount.String(),
		offer.Rate.String(),
		int32(offer.DurationDays),
		orderID,
		offer.DryRun,
	)
	if scanErr := row.Scan(&offer.ID, &offer.CreatedAt); scanErr != nil {
		return PlacedOffer{}, fmt.Errorf("insert placed offer: %w", scanErr)
	}
	return offer, nil
}

// ListRecentOffers lists the most recently placed offers across currencies.
func (s *Store) ListRecentOffers(ctx context.Context, limit int) ([]PlacedOffer, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentOffersSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent offers: %w", queryErr)
	}
	defer rows.Close()

	offers := make([]PlacedOffer, 0, limit)
	for rows.Next() {
		var (
			offer        PlacedOffer
			amountStr    string
			rateStr      string
			durationDays int32
			orderID      sql.NullInt64
		)
		if err := rows.Scan(
			&offer.ID,
			&offer.Currency,
			&amountStr,
			&rateStr,
			&durationDays,
			&orderID,
			&offer.DryRun,
			&offer.CreatedAt,
		); err != nil {
			return nil, err
		}

		var convErr error
		offer.Amount, convErr = decimal.NewFromString(amountStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse offer amount: %w", convErr)
		}
		offer.Rate, convErr = decimal.NewFromString(rateStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse offer rate: %w", convErr)
		}
		offer.DurationDays = uint16(durationDays)
		if orderID.Valid {
			value := orderID.Int64
			offer.OrderID = &value
		}

		offers = append(offers, offer)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return offers, nil
}

func scanRateSample(rows pgx.Rows) (RateSample, error) {
	var (
		sampleTS  time.Time
		currency  string
		lowestStr string
		lowStr    string
		avgStr    string
		highStr   string
		createdAt time.Time
	)

	if err := rows.Scan(
		&sampleTS,
		&currency,
		&lowestStr,
		&lowStr,
		&avgStr,
		&highStr,
		&createdAt,
	); err != nil {
		return RateSample{}, err
	}

	lowest, err := decimal.NewFromString(lowestStr)
	if err != nil {
		return RateSample{}, fmt.Errorf("parse lowest rate: %w", err)
	}
	low, err := decimal.NewFromString(lowStr)
	if err != nil {
		return RateSample{}, fmt.Errorf("parse window low: %w", err)
	}
	avg, err := decimal.NewFromString(avgStr)
	if err != nil {
		return RateSample{}, fmt.Errorf("parse window avg: %w", err)
	}
	high, err := decimal.NewFromString(highStr)
	if err != nil {
		return RateSample{}, fmt.Errorf("parse window high: %w", err)
	}

	return RateSample{
		SampleTS:   sampleTS,
		Currency:   currency,
		LowestRate: lowest,
		WindowLow:  low,
		WindowAvg:  avg,
		WindowHigh: high,
		CreatedAt:  createdAt,
	}, nil
}

var (
	_ RateSampleStore = (*Store)(nil)
	_ OfferStore      = (*Store)(nil)
)
