package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
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
	opportunityColumns = `
        id,
        report_id,
        asset,
        cheapest_source,
        cheapest_price::text,
        priciest_source,
        priciest_price::text,
        spread::text,
        spread_pct::text,
        threshold_pct::text,
        sources,
        channels,
        detected_at,
        created_at`

	insertOpportunitySQL = `INSERT INTO opportunities (
        report_id,
        asset,
        cheapest_source,
        cheapest_price,
        priciest_source,
        priciest_price,
        spread,
        spread_pct,
        threshold_pct,
        sources,
        channels,
        detected_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
    )
    ON CONFLICT (report_id) DO NOTHING
    RETURNING` + opportunityColumns + `;`

	listRecentOpportunitiesSQL = `SELECT` + opportunityColumns + `
    FROM opportunities
    ORDER BY detected_at DESC
    LIMIT $1;`

	listRecentOpportunitiesByAssetSQL = `SELECT` + opportunityColumns + `
    FROM opportunities
    WHERE asset = $2
    ORDER BY detected_at DESC
    LIMIT $1;`

	listOpportunitiesBetweenSQL = `SELECT` + opportunityColumns + `
    FROM opportunities
    WHERE detected_at >= $1
      AND detected_at < $2
    ORDER BY detected_at;`

	countOpportunitiesSQL = `SELECT COUNT(*) FROM opportunities;`

	deleteOpportunitiesBeforeSQL = `DELETE FROM opportunities WHERE detected_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// OpportunityStore defines operations for the opportunity audit log.
type OpportunityStore interface {
	InsertOpportunity(ctx context.Context, rec OpportunityRecord) (OpportunityRecord, error)
	ListRecentOpportunities(ctx context.Context, asset string, limit int) ([]OpportunityRecord, error)
	ListOpportunitiesBetween(ctx context.Context, from, to time.Time) ([]OpportunityRecord, error)
	CountOpportunities(ctx context.Context) (int64, error)
	DeleteOpportunitiesBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store wraps a pgx pool.
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

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
// The lock lives on a dedicated connection until unlock is called.
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
		// best effort; the session ending releases it anyway
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// ApplyMigrations executes every *.sql file in dir in lexical order.
// Statements must be idempotent.
func (s *Store) ApplyMigrations(ctx context.Context, dir string) (int, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return 0, fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(files)

	for _, file := range files {
		body, readErr := os.ReadFile(file)
		if readErr != nil {
			return 0, fmt.Errorf("read migration %s: %w", filepath.Base(file), readErr)
		}
		if _, execErr := pool.Exec(ctx, string(body)); execErr != nil {
			return 0, fmt.Errorf("apply migration %s: %w", filepath.Base(file), execErr)
		}
	}
	return len(files), nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertOpportunity persists an opportunity. Re-inserting the same report id
// returns the stored row unchanged.
func (s *Store) InsertOpportunity(ctx context.Context, rec OpportunityRecord) (OpportunityRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return OpportunityRecord{}, err
	}

	channels := rec.Channels
	if channels == nil {
		channels = []string{}
	}

	rows, queryErr := pool.Query(ctx, insertOpportunitySQL,
		rec.ReportID,
		rec.Asset,
		rec.CheapestSource,
		rec.CheapestPrice.String(),
		rec.PriciestSource,
		rec.PriciestPrice.String(),
		rec.Spread.String(),
		rec.SpreadPct.String(),
		rec.ThresholdPct.String(),
		rec.Sources,
		channels,
		rec.DetectedAt,
	)
	if queryErr != nil {
		return OpportunityRecord{}, fmt.Errorf("insert opportunity: %w", queryErr)
	}
	defer rows.Close()

	if !rows.Next() {
		if rows.Err() != nil {
			return OpportunityRecord{}, fmt.Errorf("insert opportunity: %w", rows.Err())
		}
		// conflict on report_id: already recorded
		return rec, nil
	}
	stored, scanErr := scanOpportunity(rows)
	if scanErr != nil {
		return OpportunityRecord{}, fmt.Errorf("insert opportunity: %w", scanErr)
	}
	return stored, nil
}

// ListRecentOpportunities lists the newest opportunities, optionally for one asset.
func (s *Store) ListRecentOpportunities(ctx context.Context, asset string, limit int) ([]OpportunityRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var rows pgx.Rows
	var queryErr error
	if asset == "" {
		rows, queryErr = pool.Query(ctx, listRecentOpportunitiesSQL, limit)
	} else {
		rows, queryErr = pool.Query(ctx, listRecentOpportunitiesByAssetSQL, limit, asset)
	}
	if queryErr != nil {
		return nil, fmt.Errorf("list recent opportunities: %w", queryErr)
	}
	defer rows.Close()

	return collectOpportunities(rows, limit)
}

// ListOpportunitiesBetween lists opportunities detected within [from, to).
func (s *Store) ListOpportunitiesBetween(ctx context.Context, from, to time.Time) ([]OpportunityRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listOpportunitiesBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list opportunities between: %w", queryErr)
	}
	defer rows.Close()

	return collectOpportunities(rows, 0)
}

// CountOpportunities returns the number of stored opportunities.
func (s *Store) CountOpportunities(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	var count int64
	if scanErr := pool.QueryRow(ctx, countOpportunitiesSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count opportunities: %w", scanErr)
	}
	return count, nil
}

// DeleteOpportunitiesBefore prunes the audit log.
func (s *Store) DeleteOpportunitiesBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, deleteOpportunitiesBeforeSQL, olderThan)
	if execErr != nil {
		return 0, fmt.Errorf("delete opportunities before: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

func collectOpportunities(rows pgx.Rows, capacity int) ([]OpportunityRecord, error) {
	records := make([]OpportunityRecord, 0, capacity)
	for rows.Next() {
		rec, err := scanOpportunity(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func scanOpportunity(rows pgx.Rows) (OpportunityRecord, error) {
	var (
		rec                                 OpportunityRecord
		cheapStr, priceyStr                 string
		spreadStr, spreadPctStr, thresholdS string
	)

	if err := rows.Scan(
		&rec.ID,
		&rec.ReportID,
		&rec.Asset,
		&rec.CheapestSource,
		&cheapStr,
		&rec.PriciestSource,
		&priceyStr,
		&spreadStr,
		&spreadPctStr,
		&thresholdS,
		&rec.Sources,
		&rec.Channels,
		&rec.DetectedAt,
		&rec.CreatedAt,
	); err != nil {
		return OpportunityRecord{}, err
	}

	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"cheapest price", cheapStr, &rec.CheapestPrice},
		{"priciest price", priceyStr, &rec.PriciestPrice},
		{"spread", spreadStr, &rec.Spread},
		{"spread pct", spreadPctStr, &rec.SpreadPct},
		{"threshold pct", thresholdS, &rec.ThresholdPct},
	}
	for _, f := range fields {
		v, err := decimal.NewFromString(f.raw)
		if err != nil {
			return OpportunityRecord{}, fmt.Errorf("parse %s: %w", f.name, err)
		}
		*f.dst = v
	}

	return rec, nil
}

var (
	_ OpportunityStore = (*Store)(nil)
	_ AdvisoryLocker   = (*Store)(nil)
)
