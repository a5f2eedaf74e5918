package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/politicai/apportion/pkg/models"
)

// PostgresSink upserts results into PostgreSQL, one transaction per batch
type PostgresSink struct {
	pool  *pgxpool.Pool
	table string
	geo   *geoIndex
}

// OpenPostgres connects with dsn, creates the tables if needed and indexes the
// stored constituencies
func OpenPostgres(ctx context.Context, dsn, table string) (*PostgresSink, error) {
	if err := validIdent(table); err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	s := &PostgresSink{pool: pool, table: table, geo: newGeoIndex()}
	if _, err := pool.Exec(ctx, postgresSchema(table)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	rows, err := pool.Query(ctx, selectConstituenciesSQL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to list constituencies: %w", err)
	}
	err = s.geo.load(rows)
	rows.Close()
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func postgresSchema(table string) string {
	return fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS geo_units (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		code TEXT NOT NULL,
		level TEXT NOT NULL,
		number INTEGER,
		parent_id BIGINT REFERENCES geo_units(id),
		UNIQUE (code, level)
	);

	CREATE TABLE IF NOT EXISTS elections (
		year INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS %[1]s (
		geo_unit_id BIGINT NOT NULL REFERENCES geo_units(id),
		constituency_name TEXT NOT NULL,
		year INTEGER NOT NULL,
		category TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		amount DOUBLE PRECISION NOT NULL,
		percent DOUBLE PRECISION NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (geo_unit_id, year, category)
	);
	`, quoteIdent(table))
}

// upsertResultSQL is the per-row statement queued into a batch
func upsertResultSQL(table string) string {
	return fmt.Sprintf(`INSERT INTO %s (geo_unit_id, constituency_name, year, category, source, amount, percent, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (geo_unit_id, year, category) DO UPDATE SET
	constituency_name = EXCLUDED.constituency_name,
	source = EXCLUDED.source,
	amount = EXCLUDED.amount,
	percent = EXCLUDED.percent,
	updated_at = EXCLUDED.updated_at`, quoteIdent(table))
}

const upsertGeoUnitSQL = `INSERT INTO geo_units (name, code, level, number, parent_id)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (code, level) DO UPDATE SET code = EXCLUDED.code
RETURNING id`

// resultBatch queues one upsert per row, each keyed by its linked geo unit
func resultBatch(table string, rows []models.AggregateResult, geo *geoIndex, now time.Time) (*pgx.Batch, error) {
	ids, err := geo.link(rows)
	if err != nil {
		return nil, err
	}
	query := upsertResultSQL(table)
	batch := &pgx.Batch{}
	for i, r := range rows {
		batch.Queue(query, ids[i], r.Constituency, r.Year, r.Category, r.Source, r.Amount, r.Percent, now)
	}
	return batch, nil
}

func (s *PostgresSink) Name() string { return "postgres" }

// Linked reports whether constituency names one stored constituency unit
func (s *PostgresSink) Linked(constituency string) bool {
	_, ok := s.geo.resolve(constituency)
	return ok
}

// Upsert sends rows as one pipelined batch inside a transaction
func (s *PostgresSink) Upsert(ctx context.Context, rows []models.AggregateResult) error {
	batch, err := resultBatch(s.table, rows, s.geo, time.Now().UTC())
	if err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		br := tx.SendBatch(ctx, batch)
		for _, r := range rows {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("failed to upsert %s: %w", r.Key(), err)
			}
		}
		return br.Close()
	})
}

// SaveGeoUnits inserts missing units by (code, level) in one transaction
func (s *PostgresSink) SaveGeoUnits(ctx context.Context, units []*models.GeoUnit) (map[string]int64, error) {
	ids := make(map[string]int64, len(units))
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, u := range units {
			parentID, err := parentOf(u, ids)
			if err != nil {
				return err
			}
			var id int64
			if err := tx.QueryRow(ctx, upsertGeoUnitSQL, u.Name, u.Code, string(u.Level), nullableNumber(u.Number), parentID).Scan(&id); err != nil {
				return fmt.Errorf("failed to save geo unit %s: %w", GeoUnitID(u), err)
			}
			ids[GeoUnitID(u)] = id
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.geo.addUnits(units, ids)
	return ids, nil
}

// SaveElectionYears records each election year once
func (s *PostgresSink) SaveElectionYears(ctx context.Context, years []int) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, y := range years {
			batch.Queue(`INSERT INTO elections (year) VALUES ($1) ON CONFLICT (year) DO NOTHING`, y)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

func (s *PostgresSink) Close() error {
	s.pool.Close()
	return nil
}
