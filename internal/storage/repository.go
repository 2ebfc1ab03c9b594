package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"spotwatcher/internal/pricing"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	createSchemaSQL = `
    CREATE TABLE IF NOT EXISTS area_snapshots (
        area            TEXT PRIMARY KEY,
        stored_at       TIMESTAMPTZ NOT NULL,
        source          TEXT NOT NULL,
        today           JSONB NOT NULL,
        tomorrow        JSONB NOT NULL,
        current_price   NUMERIC,
        stats_today     JSONB NOT NULL,
        stats_tomorrow  JSONB NOT NULL,
        validity        JSONB NOT NULL
    );
    CREATE TABLE IF NOT EXISTS interval_prices (
        area        TEXT NOT NULL,
        interval_ts TIMESTAMPTZ NOT NULL,
        price       NUMERIC NOT NULL,
        source      TEXT NOT NULL,
        created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
        PRIMARY KEY (area, interval_ts)
    );
    CREATE TABLE IF NOT EXISTS source_health (
        area       TEXT NOT NULL,
        source     TEXT NOT NULL,
        failed_at  TIMESTAMPTZ,
        updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
        PRIMARY KEY (area, source)
    );`

	upsertSnapshotSQL = `INSERT INTO area_snapshots (
        area, stored_at, source, today, tomorrow, current_price,
        stats_today, stats_tomorrow, validity
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
    ON CONFLICT (area) DO UPDATE
    SET
        stored_at      = EXCLUDED.stored_at,
        source         = EXCLUDED.source,
        today          = EXCLUDED.today,
        tomorrow       = EXCLUDED.tomorrow,
        current_price  = EXCLUDED.current_price,
        stats_today    = EXCLUDED.stats_today,
        stats_tomorrow = EXCLUDED.stats_tomorrow,
        validity       = EXCLUDED.validity;`

	getSnapshotSQL = `SELECT
        area, stored_at, source, today, tomorrow, current_price,
        stats_today, stats_tomorrow, validity
    FROM area_snapshots
    WHERE area = $1;`

	listSnapshotsSQL = `SELECT
        area, stored_at, source, today, tomorrow, current_price,
        stats_today, stats_tomorrow, validity
    FROM area_snapshots
    ORDER BY area;`

	upsertIntervalPriceSQL = `INSERT INTO interval_prices (area, interval_ts, price, source)
    VALUES ($1,$2,$3,$4)
    ON CONFLICT (area, interval_ts) DO UPDATE
    SET price = EXCLUDED.price, source = EXCLUDED.source;`

	listIntervalPricesSQL = `SELECT area, interval_ts, price, source, created_at
    FROM interval_prices
    WHERE area = $1
      AND interval_ts >= $2
      AND interval_ts < $3
    ORDER BY interval_ts;`

	upsertSourceHealthSQL = `INSERT INTO source_health (area, source, failed_at, updated_at)
    VALUES ($1,$2,$3,now())
    ON CONFLICT (area, source) DO UPDATE
    SET failed_at = EXCLUDED.failed_at, updated_at = now();`

	listSourceHealthSQL = `SELECT source, failed_at
    FROM source_health
    WHERE area = $1;`
)

// SnapshotStore persists the per-area cache entry shape.
type SnapshotStore interface {
	UpsertSnapshot(ctx context.Context, snap Snapshot) error
	GetSnapshot(ctx context.Context, area string) (*Snapshot, error)
	ListSnapshots(ctx context.Context) ([]Snapshot, error)
}

// IntervalPriceStore persists the interval price history used by export.
type IntervalPriceStore interface {
	UpsertIntervalPrices(ctx context.Context, points []IntervalPrice) error
	ListIntervalPrices(ctx context.Context, area string, from, to time.Time) ([]IntervalPrice, error)
}

// SourceHealthStore persists failure stamps so fallback priority survives
// restarts.
type SourceHealthStore interface {
	UpsertSourceHealth(ctx context.Context, area, source string, failedAt *time.Time) error
	ListSourceHealth(ctx context.Context, area string) (map[string]time.Time, error)
}

// Store implements the persistence interfaces over pgx.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps a connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// EnsureSchema creates the tables when they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, createSchemaSQL); execErr != nil {
		return fmt.Errorf("ensure schema: %w", execErr)
	}
	return nil
}

// UpsertSnapshot writes the latest snapshot for an area.
func (s *Store) UpsertSnapshot(ctx context.Context, snap Snapshot) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	today, err := marshalPrices(snap.Today)
	if err != nil {
		return err
	}
	tomorrow, err := marshalPrices(snap.Tomorrow)
	if err != nil {
		return err
	}
	statsToday, err := json.Marshal(snap.StatsToday)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	statsTomorrow, err := json.Marshal(snap.StatsTomorrow)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	validity, err := json.Marshal(snap.Validity)
	if err != nil {
		return fmt.Errorf("marshal validity: %w", err)
	}

	var current *string
	if snap.CurrentPrice != nil {
		v := snap.CurrentPrice.String()
		current = &v
	}

	if _, execErr := pool.Exec(ctx, upsertSnapshotSQL,
		snap.Area, snap.StoredAt, snap.Source, today, tomorrow, current,
		statsToday, statsTomorrow, validity,
	); execErr != nil {
		return fmt.Errorf("upsert snapshot: %w", execErr)
	}
	return nil
}

// GetSnapshot loads one area's snapshot, or nil when absent.
func (s *Store) GetSnapshot(ctx context.Context, area string) (*Snapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	row := pool.QueryRow(ctx, getSnapshotSQL, area)
	snap, scanErr := scanSnapshot(row)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, scanErr
	}
	return &snap, nil
}

// ListSnapshots loads every stored snapshot.
func (s *Store) ListSnapshots(ctx context.Context) ([]Snapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSnapshotsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list snapshots: %w", queryErr)
	}
	defer rows.Close()

	snaps := make([]Snapshot, 0)
	for rows.Next() {
		snap, scanErr := scanSnapshot(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		snaps = append(snaps, snap)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return snaps, nil
}

// UpsertIntervalPrices writes interval history rows.
func (s *Store) UpsertIntervalPrices(ctx context.Context, points []IntervalPrice) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	for _, p := range points {
		if _, execErr := pool.Exec(ctx, upsertIntervalPriceSQL, p.Area, p.Start, p.Price.String(), p.Source); execErr != nil {
			return fmt.Errorf("upsert interval price: %w", execErr)
		}
	}
	return nil
}

// ListIntervalPrices loads history for one area within [from, to).
func (s *Store) ListIntervalPrices(ctx context.Context, area string, from, to time.Time) ([]IntervalPrice, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listIntervalPricesSQL, area, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list interval prices: %w", queryErr)
	}
	defer rows.Close()

	points := make([]IntervalPrice, 0)
	for rows.Next() {
		var (
			p        IntervalPrice
			priceStr string
		)
		if err := rows.Scan(&p.Area, &p.Start, &priceStr, &p.Source, &p.CreatedAt); err != nil {
			return nil, err
		}
		price, convErr := decimal.NewFromString(priceStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse interval price: %w", convErr)
		}
		p.Price = price
		points = append(points, p)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return points, nil
}

// UpsertSourceHealth records a failure stamp, or clears it with nil.
func (s *Store) UpsertSourceHealth(ctx context.Context, area, source string, failedAt *time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, upsertSourceHealthSQL, area, source, failedAt); execErr != nil {
		return fmt.Errorf("upsert source health: %w", execErr)
	}
	return nil
}

// ListSourceHealth loads the failure stamps for one area. Healthy sources
// are absent from the returned map.
func (s *Store) ListSourceHealth(ctx context.Context, area string) (map[string]time.Time, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSourceHealthSQL, area)
	if queryErr != nil {
		return nil, fmt.Errorf("list source health: %w", queryErr)
	}
	defer rows.Close()

	health := make(map[string]time.Time)
	for rows.Next() {
		var (
			source   string
			failedAt sql.NullTime
		)
		if err := rows.Scan(&source, &failedAt); err != nil {
			return nil, err
		}
		if failedAt.Valid {
			health[source] = failedAt.Time
		}
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return health, nil
}

func marshalPrices(m map[string]decimal.Decimal) ([]byte, error) {
	if m == nil {
		m = map[string]decimal.Decimal{}
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal price map: %w", err)
	}
	return payload, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (Snapshot, error) {
	var (
		snap          Snapshot
		today         []byte
		tomorrow      []byte
		current       sql.NullString
		statsToday    []byte
		statsTomorrow []byte
		validity      []byte
	)

	if err := row.Scan(
		&snap.Area,
		&snap.StoredAt,
		&snap.Source,
		&today,
		&tomorrow,
		&current,
		&statsToday,
		&statsTomorrow,
		&validity,
	); err != nil {
		return Snapshot{}, err
	}

	if err := json.Unmarshal(today, &snap.Today); err != nil {
		return Snapshot{}, fmt.Errorf("parse today map: %w", err)
	}
	if err := json.Unmarshal(tomorrow, &snap.Tomorrow); err != nil {
		return Snapshot{}, fmt.Errorf("parse tomorrow map: %w", err)
	}
	if err := json.Unmarshal(statsToday, &snap.StatsToday); err != nil {
		return Snapshot{}, fmt.Errorf("parse stats: %w", err)
	}
	if err := json.Unmarshal(statsTomorrow, &snap.StatsTomorrow); err != nil {
		return Snapshot{}, fmt.Errorf("parse stats: %w", err)
	}
	if err := json.Unmarshal(validity, &snap.Validity); err != nil {
		return Snapshot{}, fmt.Errorf("parse validity: %w", err)
	}

	if current.Valid {
		price, convErr := decimal.NewFromString(current.String)
		if convErr != nil {
			return Snapshot{}, fmt.Errorf("parse current price: %w", convErr)
		}
		snap.CurrentPrice = &price
	}

	return snap, nil
}

// IntervalPointsFromResult flattens a processed result into history rows.
func IntervalPointsFromResult(area string, r *pricing.ProcessedResult, loc *time.Location) []IntervalPrice {
	points := make([]IntervalPrice, 0, len(r.Today)+len(r.Tomorrow))
	ref := r.GeneratedAt.In(loc)
	appendDay := func(day time.Time, m pricing.PriceMap) {
		for key, price := range m {
			start, ok := pricing.KeyTime(key, day, loc)
			if !ok {
				continue
			}
			points = append(points, IntervalPrice{Area: area, Start: start, Price: price, Source: r.Source})
		}
	}
	appendDay(ref, r.Today)
	appendDay(ref.AddDate(0, 0, 1), r.Tomorrow)
	return points
}

var (
	_ SnapshotStore      = (*Store)(nil)
	_ IntervalPriceStore = (*Store)(nil)
	_ SourceHealthStore  = (*Store)(nil)
)
