// Package store is the SQLite persistence layer for tick and candle
// history. Tick-level rows and OHLC candles live in separate database
// files so the aggregator's fold-and-prune cycle and the read API never
// contend on the same writer.
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// TickRow is one row of prices_<asset_id>_<flat_pair>.
type TickRow struct {
	Pair      string
	Price     float64
	Timestamp int64
	Source    string
}

// CandleRow is one row of historical_prices_<asset_id>_<flat_pair>.
type CandleRow struct {
	Timestamp int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
}

// Store owns the tick database and the historical (candle) database.
type Store struct {
	ticks      *sql.DB
	historical *sql.DB
}

// Open opens both SQLite files (created if absent). WAL with NORMAL
// synchronous suits the single-writer, many-reader workload.
func Open(ticksPath, historicalPath string) (*Store, error) {
	ticks, err := sql.Open("sqlite3", ticksPath+"?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=1000")
	if err != nil {
		return nil, fmt.Errorf("open tick db: %w", err)
	}
	historical, err := sql.Open("sqlite3", historicalPath+"?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=1000")
	if err != nil {
		_ = ticks.Close()
		return nil, fmt.Errorf("open historical db: %w", err)
	}
	return &Store{ticks: ticks, historical: historical}, nil
}

// Close releases both database handles.
func (s *Store) Close() error {
	err1 := s.ticks.Close()
	err2 := s.historical.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// EnsureTickTable creates table if absent. Idempotent.
func (s *Store) EnsureTickTable(table string) error {
	_, err := s.ticks.Exec(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			pair TEXT NOT NULL,
			price REAL NOT NULL,
			timestamp INTEGER NOT NULL,
			source TEXT NOT NULL
		)`, table))
	if err != nil {
		return fmt.Errorf("ensure tick table %s: %w", table, err)
	}
	_, err = s.ticks.Exec(fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_ts ON %s (timestamp)`, table, table))
	if err != nil {
		return fmt.Errorf("ensure tick index %s: %w", table, err)
	}
	return nil
}

// EnsureHistoricalTable creates table if absent. Idempotent.
func (s *Store) EnsureHistoricalTable(table string) error {
	_, err := s.historical.Exec(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			timestamp INTEGER NOT NULL UNIQUE,
			open REAL NOT NULL,
			high REAL NOT NULL,
			low REAL NOT NULL,
			close REAL NOT NULL
		)`, table))
	if err != nil {
		return fmt.Errorf("ensure historical table %s: %w", table, err)
	}
	_, err = s.historical.Exec(fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_ts ON %s (timestamp)`, table, table))
	if err != nil {
		return fmt.Errorf("ensure historical index %s: %w", table, err)
	}
	return nil
}

// TickWrite is one pending tick row destined for a specific table.
type TickWrite struct {
	Table     string
	Pair      string
	Price     float64
	Timestamp int64
	Source    string
}

// InsertTicks writes all rows in one transaction, so every pair affected
// by a single upstream account update lands atomically or not at all.
func (s *Store) InsertTicks(writes []TickWrite) error {
	if len(writes) == 0 {
		return nil
	}
	tx, err := s.ticks.Begin()
	if err != nil {
		return fmt.Errorf("begin tick transaction: %w", err)
	}
	for _, w := range writes {
		_, err := tx.Exec(fmt.Sprintf(`INSERT INTO %s (pair, price, timestamp, source) VALUES (?, ?, ?, ?)`, w.Table),
			w.Pair, w.Price, w.Timestamp, w.Source)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert tick into %s: %w", w.Table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ticks: %w", err)
	}
	return nil
}

// InsertTick appends a single tick row.
func (s *Store) InsertTick(table, pair string, price float64, timestampMs int64, source string) error {
	return s.InsertTicks([]TickWrite{{Table: table, Pair: pair, Price: price, Timestamp: timestampMs, Source: source}})
}

// TickTables returns the name of every tick-level table in the tick
// database, including tables whose descriptor has since been dropped from
// the registry — those still need draining and aggregation.
func (s *Store) TickTables() ([]string, error) {
	rows, err := s.ticks.Query(`SELECT name FROM sqlite_master WHERE type = 'table' AND name LIKE 'prices\_%' ESCAPE '\' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("enumerate tick tables: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan tick table name: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// SelectTicksBefore returns rows with timestamp < cutoffMs, oldest first.
func (s *Store) SelectTicksBefore(table string, cutoffMs int64) ([]TickRow, error) {
	rows, err := s.ticks.Query(fmt.Sprintf(`SELECT pair, price, timestamp, source FROM %s WHERE timestamp < ? ORDER BY timestamp ASC`, table), cutoffMs)
	if err != nil {
		return nil, fmt.Errorf("select ticks before cutoff from %s: %w", table, err)
	}
	defer rows.Close()
	return scanTicks(rows)
}

// SelectTicksInRange returns rows with timestamp in [fromMs, toMs).
func (s *Store) SelectTicksInRange(table string, fromMs, toMs int64) ([]TickRow, error) {
	rows, err := s.ticks.Query(fmt.Sprintf(`SELECT pair, price, timestamp, source FROM %s WHERE timestamp >= ? AND timestamp < ? ORDER BY timestamp ASC`, table), fromMs, toMs)
	if err != nil {
		return nil, fmt.Errorf("select ticks in range from %s: %w", table, err)
	}
	defer rows.Close()
	return scanTicks(rows)
}

// AllTicksDesc returns every row, newest first, for the /prices endpoint.
func (s *Store) AllTicksDesc(table string) ([]TickRow, error) {
	rows, err := s.ticks.Query(fmt.Sprintf(`SELECT pair, price, timestamp, source FROM %s ORDER BY timestamp DESC`, table))
	if err != nil {
		return nil, fmt.Errorf("select all ticks from %s: %w", table, err)
	}
	defer rows.Close()
	return scanTicks(rows)
}

// LatestTick returns the most recent row, if any, for the /metadata
// endpoint.
func (s *Store) LatestTick(table string) (TickRow, bool, error) {
	row := s.ticks.QueryRow(fmt.Sprintf(`SELECT pair, price, timestamp, source FROM %s ORDER BY timestamp DESC LIMIT 1`, table))
	var t TickRow
	if err := row.Scan(&t.Pair, &t.Price, &t.Timestamp, &t.Source); err != nil {
		if err == sql.ErrNoRows {
			return TickRow{}, false, nil
		}
		return TickRow{}, false, fmt.Errorf("latest tick from %s: %w", table, err)
	}
	return t, true, nil
}

// DeleteTicksBefore removes rows with timestamp < cutoffMs.
func (s *Store) DeleteTicksBefore(table string, cutoffMs int64) error {
	_, err := s.ticks.Exec(fmt.Sprintf(`DELETE FROM %s WHERE timestamp < ?`, table), cutoffMs)
	if err != nil {
		return fmt.Errorf("delete ticks before cutoff from %s: %w", table, err)
	}
	return nil
}

// UpsertCandle merges one OHLC bucket into table: insert if absent, else
// keep the existing open, take the new close, and widen high/low. The
// merge rule makes re-aggregation of the same ticks idempotent.
func (s *Store) UpsertCandle(table string, c CandleRow) error {
	existing, found, err := s.selectCandle(table, c.Timestamp)
	if err != nil {
		return err
	}
	if !found {
		_, err := s.historical.Exec(fmt.Sprintf(`INSERT INTO %s (timestamp, open, high, low, close) VALUES (?, ?, ?, ?, ?)`, table),
			c.Timestamp, c.Open, c.High, c.Low, c.Close)
		if err != nil {
			return fmt.Errorf("insert candle into %s: %w", table, err)
		}
		return nil
	}

	merged := CandleRow{
		Timestamp: c.Timestamp,
		Open:      existing.Open,
		Close:     c.Close,
		High:      maxf(existing.High, c.High),
		Low:       minf(existing.Low, c.Low),
	}
	_, err = s.historical.Exec(fmt.Sprintf(`UPDATE %s SET open = ?, high = ?, low = ?, close = ? WHERE timestamp = ?`, table),
		merged.Open, merged.High, merged.Low, merged.Close, merged.Timestamp)
	if err != nil {
		return fmt.Errorf("update candle in %s: %w", table, err)
	}
	return nil
}

func (s *Store) selectCandle(table string, timestamp int64) (CandleRow, bool, error) {
	row := s.historical.QueryRow(fmt.Sprintf(`SELECT timestamp, open, high, low, close FROM %s WHERE timestamp = ?`, table), timestamp)
	var c CandleRow
	if err := row.Scan(&c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close); err != nil {
		if err == sql.ErrNoRows {
			return CandleRow{}, false, nil
		}
		return CandleRow{}, false, fmt.Errorf("select candle from %s: %w", table, err)
	}
	return c, true, nil
}

// SelectCandles returns candles with bucket_start_ms in [fromMs, toMs),
// oldest first, for the /historical_prices endpoint.
func (s *Store) SelectCandles(table string, fromMs, toMs int64) ([]CandleRow, error) {
	rows, err := s.historical.Query(fmt.Sprintf(`SELECT timestamp, open, high, low, close FROM %s WHERE timestamp >= ? AND timestamp < ? ORDER BY timestamp ASC`, table), fromMs, toMs)
	if err != nil {
		return nil, fmt.Errorf("select candles from %s: %w", table, err)
	}
	defer rows.Close()

	var out []CandleRow
	for rows.Next() {
		var c CandleRow
		if err := rows.Scan(&c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close); err != nil {
			return nil, fmt.Errorf("scan candle from %s: %w", table, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanTicks(rows *sql.Rows) ([]TickRow, error) {
	var out []TickRow
	for rows.Next() {
		var t TickRow
		if err := rows.Scan(&t.Pair, &t.Price, &t.Timestamp, &t.Source); err != nil {
			return nil, fmt.Errorf("scan tick row: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
