package sink

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/politicai/apportion/pkg/models"
	"github.com/politicai/apportion/pkg/sqlitedb"
)

// SQLiteSink upserts results into a local SQLite database
type SQLiteSink struct {
	db    *sql.DB
	table string
	geo   *geoIndex
}

// OpenSQLite opens the database at path, creates the results and geo-unit
// tables and indexes the stored constituencies
func OpenSQLite(path, table string) (*SQLiteSink, error) {
	if err := validIdent(table); err != nil {
		return nil, err
	}
	db, err := sqlitedb.Open(path)
	if err != nil {
		return nil, err
	}
	s := &SQLiteSink{db: db, table: table, geo: newGeoIndex()}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := s.loadGeoIndex(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteSink) loadGeoIndex() error {
	rows, err := s.db.Query(selectConstituenciesSQL)
	if err != nil {
		return fmt.Errorf("failed to list constituencies: %w", err)
	}
	defer rows.Close()
	return s.geo.load(rows)
}

func (s *SQLiteSink) initSchema() error {
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS geo_units (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		code TEXT NOT NULL,
		level TEXT NOT NULL,
		number INTEGER,
		parent_id INTEGER REFERENCES geo_units(id),
		UNIQUE(code, level)
	);

	CREATE INDEX IF NOT EXISTS idx_geo_units_parent_id ON geo_units(parent_id);

	CREATE TABLE IF NOT EXISTS elections (
		year INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS %[1]s (
		geo_unit_id INTEGER NOT NULL REFERENCES geo_units(id),
		constituency_name TEXT NOT NULL,
		year INTEGER NOT NULL,
		category TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		amount REAL NOT NULL,
		percent REAL NOT NULL,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (geo_unit_id, year, category)
	);
	`, quoteIdent(s.table))
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteSink) Name() string { return "sqlite" }

// Linked reports whether constituency names one stored constituency unit
func (s *SQLiteSink) Linked(constituency string) bool {
	_, ok := s.geo.resolve(constituency)
	return ok
}

// Upsert writes rows in one transaction. Every row must link to a stored
// constituency unit.
func (s *SQLiteSink) Upsert(ctx context.Context, rows []models.AggregateResult) error {
	ids, err := s.geo.link(rows)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (geo_unit_id, constituency_name, year, category, source, amount, percent, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(geo_unit_id, year, category) DO UPDATE SET
			constituency_name = excluded.constituency_name,
			source = excluded.source,
			amount = excluded.amount,
			percent = excluded.percent,
			updated_at = excluded.updated_at
	`, quoteIdent(s.table))

	now := time.Now().UTC()
	return sqlitedb.RetryOnBusy(func() error {
		return s.inTx(ctx, func(tx *sql.Tx) error {
			stmt, err := tx.PrepareContext(ctx, query)
			if err != nil {
				return err
			}
			defer stmt.Close()
			for i, r := range rows {
				if _, err := stmt.ExecContext(ctx, ids[i], r.Constituency, r.Year, r.Category, r.Source, r.Amount, r.Percent, now); err != nil {
					return fmt.Errorf("failed to upsert %s: %w", r.Key(), err)
				}
			}
			return nil
		})
	}, 5)
}

// Results reads back every stored row ordered by key
func (s *SQLiteSink) Results(ctx context.Context) ([]models.AggregateResult, error) {
	query := fmt.Sprintf(`SELECT constituency_name, year, source, category, amount, percent FROM %s ORDER BY constituency_name, year, category`, quoteIdent(s.table))
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	defer rows.Close()

	results := make([]models.AggregateResult, 0)
	for rows.Next() {
		var r models.AggregateResult
		if err := rows.Scan(&r.Constituency, &r.Year, &r.Source, &r.Category, &r.Amount, &r.Percent); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// SaveGeoUnits inserts missing units by (code, level) in one transaction
func (s *SQLiteSink) SaveGeoUnits(ctx context.Context, units []*models.GeoUnit) (map[string]int64, error) {
	const query = `
		INSERT INTO geo_units (name, code, level, number, parent_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(code, level) DO UPDATE SET code = excluded.code
		RETURNING id
	`
	ids := make(map[string]int64, len(units))
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, u := range units {
			parentID, err := parentOf(u, ids)
			if err != nil {
				return err
			}
			var id int64
			if err := tx.QueryRowContext(ctx, query, u.Name, u.Code, string(u.Level), nullableNumber(u.Number), parentID).Scan(&id); err != nil {
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
func (s *SQLiteSink) SaveElectionYears(ctx context.Context, years []int) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, y := range years {
			if _, err := tx.ExecContext(ctx, `INSERT INTO elections (year) VALUES (?) ON CONFLICT(year) DO NOTHING`, y); err != nil {
				return fmt.Errorf("failed to save election %d: %w", y, err)
			}
		}
		return nil
	})
}

func (s *SQLiteSink) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

// parentOf resolves the stored id of u's parent, nil for roots
func parentOf(u *models.GeoUnit, ids map[string]int64) (interface{}, error) {
	if u.Parent == nil {
		return nil, nil
	}
	id, ok := ids[GeoUnitID(u.Parent)]
	if !ok {
		return nil, fmt.Errorf("geo unit %s saved before its parent %s", GeoUnitID(u), GeoUnitID(u.Parent))
	}
	return id, nil
}

func nullableNumber(n int) interface{} {
	if n == 0 {
		return nil
	}
	return n
}
