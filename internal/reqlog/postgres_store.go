package reqlog

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/AgentCommerce/ucp/internal/config"
	"github.com/AgentCommerce/ucp/internal/metrics"
)

// PostgresStore persists request logs in two tables, one per kind.
type PostgresStore struct {
	db       *sql.DB
	ownsDB   bool
	ucpTable string
	ap2Table string
	metrics  *metrics.Metrics
}

const (
	defaultUCPTable = "ucp_request_logs"
	defaultAP2Table = "ap2_request_logs"

	insertTimeout = 5 * time.Second
	listTimeout   = 10 * time.Second
)

var validLogTableName = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// Column order shared by insert, select, and scan.
const logColumns = `id, recorded_at, endpoint, method, path, query_string, status,
	request_body, response_body, client_ip, user_agent, duration_ms,
	message_type, mandate_id, request_signature, response_signature, payment_status`

// NewPostgresStore opens a connection pool and ensures the log tables
// exist. Empty table names fall back to the defaults.
func NewPostgresStore(connectionString, ucpTable, ap2Table string, poolConfig config.PostgresPoolConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	config.ApplyPostgresPoolSettings(db, poolConfig)

	store, err := newPostgresStore(db, ucpTable, ap2Table)
	if err != nil {
		db.Close()
		return nil, err
	}
	store.ownsDB = true
	return store, nil
}

// NewPostgresStoreWithDB reuses an existing connection pool.
func NewPostgresStoreWithDB(db *sql.DB, ucpTable, ap2Table string) (*PostgresStore, error) {
	return newPostgresStore(db, ucpTable, ap2Table)
}

func newPostgresStore(db *sql.DB, ucpTable, ap2Table string) (*PostgresStore, error) {
	if ucpTable == "" {
		ucpTable = defaultUCPTable
	}
	if ap2Table == "" {
		ap2Table = defaultAP2Table
	}
	for _, name := range []string{ucpTable, ap2Table} {
		if !validLogTableName.MatchString(name) {
			return nil, fmt.Errorf("invalid log table name %q", name)
		}
	}

	store := &PostgresStore{db: db, ucpTable: ucpTable, ap2Table: ap2Table}
	if err := store.createTables(); err != nil {
		return nil, err
	}
	return store, nil
}

// WithMetrics adds query instrumentation.
func (s *PostgresStore) WithMetrics(m *metrics.Metrics) *PostgresStore {
	s.metrics = m
	return s
}

func (s *PostgresStore) createTables() error {
	for _, table := range []string{s.ucpTable, s.ap2Table} {
		ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			recorded_at TIMESTAMPTZ NOT NULL,
			endpoint TEXT NOT NULL,
			method TEXT NOT NULL,
			path TEXT NOT NULL,
			query_string TEXT NOT NULL DEFAULT '',
			status INTEGER NOT NULL,
			request_body TEXT NOT NULL DEFAULT '',
			response_body TEXT NOT NULL DEFAULT '',
			client_ip TEXT NOT NULL DEFAULT '',
			user_agent TEXT NOT NULL DEFAULT '',
			duration_ms BIGINT NOT NULL DEFAULT 0,
			message_type TEXT NOT NULL DEFAULT '',
			mandate_id TEXT NOT NULL DEFAULT '',
			request_signature TEXT NOT NULL DEFAULT '',
			response_signature TEXT NOT NULL DEFAULT '',
			payment_status TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_%s_recorded_at ON %s(recorded_at DESC);
		CREATE INDEX IF NOT EXISTS idx_%s_mandate ON %s(mandate_id) WHERE mandate_id <> '';
		`, pq.QuoteIdentifier(table), table, pq.QuoteIdentifier(table), table, pq.QuoteIdentifier(table))

		if _, err := s.db.Exec(ddl); err != nil {
			return fmt.Errorf("create log table %s: %w", table, err)
		}
	}
	return nil
}

func (s *PostgresStore) tableFor(kind Kind) string {
	if kind == KindAP2 {
		return s.ap2Table
	}
	return s.ucpTable
}

// Insert implements Store.
func (s *PostgresStore) Insert(ctx context.Context, entry Entry) error {
	defer metrics.MeasureDBQuery(s.metrics, "reqlog_insert", "postgres")()

	ctx, cancel := context.WithTimeout(ctx, insertTimeout)
	defer cancel()

	if entry.ID == "" {
		entry.ID = NewEntryID()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	query := fmt.Sprintf(`INSERT INTO %s (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		pq.QuoteIdentifier(s.tableFor(entry.Kind)), logColumns)

	_, err := s.db.ExecContext(ctx, query,
		entry.ID,
		entry.Timestamp,
		entry.Endpoint,
		entry.Method,
		entry.Path,
		entry.Query,
		entry.Status,
		entry.RequestBody,
		entry.ResponseBody,
		entry.ClientIP,
		entry.UserAgent,
		entry.DurationMS,
		entry.MessageType,
		entry.MandateID,
		entry.RequestSignature,
		entry.ResponseSignature,
		entry.PaymentStatus,
	)
	if err != nil {
		return fmt.Errorf("insert log entry: %w", err)
	}
	return nil
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context, q Query) ([]Entry, int64, error) {
	defer metrics.MeasureDBQuery(s.metrics, "reqlog_list", "postgres")()

	q = q.Normalized()
	ctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	where, args := buildLogFilter(q)

	var source string
	switch q.Kind {
	case KindUCP, KindAP2:
		source = fmt.Sprintf(`SELECT '%s' AS kind, %s FROM %s %s`,
			q.Kind, logColumns, pq.QuoteIdentifier(s.tableFor(q.Kind)), where)
	default:
		// One statement over both tables; the placeholders bind the same
		// argument list in each branch.
		source = fmt.Sprintf(`SELECT '%s' AS kind, %s FROM %s %s UNION ALL SELECT '%s' AS kind, %s FROM %s %s`,
			KindUCP, logColumns, pq.QuoteIdentifier(s.ucpTable), where,
			KindAP2, logColumns, pq.QuoteIdentifier(s.ap2Table), where)
	}

	var total int64
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM (%s) matches`, source)
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count log entries: %w", err)
	}

	pageQuery := fmt.Sprintf(`%s ORDER BY recorded_at DESC LIMIT %d OFFSET %d`, source, q.Limit, q.Offset)
	rows, err := s.db.QueryContext(ctx, pageQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query log entries: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, q.Limit)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(
			&e.Kind,
			&e.ID,
			&e.Timestamp,
			&e.Endpoint,
			&e.Method,
			&e.Path,
			&e.Query,
			&e.Status,
			&e.RequestBody,
			&e.ResponseBody,
			&e.ClientIP,
			&e.UserAgent,
			&e.DurationMS,
			&e.MessageType,
			&e.MandateID,
			&e.RequestSignature,
			&e.ResponseSignature,
			&e.PaymentStatus,
		); err != nil {
			return nil, 0, fmt.Errorf("scan log entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate log entries: %w", err)
	}
	return entries, total, nil
}

// buildLogFilter renders the WHERE clause for the non-kind filters.
func buildLogFilter(q Query) (string, []any) {
	var clauses []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.Endpoint != "" {
		clauses = append(clauses, "position("+arg(q.Endpoint)+" in endpoint) > 0")
	}
	if q.Method != "" {
		clauses = append(clauses, "method = "+arg(q.Method))
	}
	if q.Status != 0 {
		clauses = append(clauses, "status = "+arg(q.Status))
	}
	if q.MessageType != "" {
		clauses = append(clauses, "message_type = "+arg(q.MessageType))
	}
	if q.MandateID != "" {
		clauses = append(clauses, "mandate_id = "+arg(q.MandateID))
	}
	if !q.Since.IsZero() {
		clauses = append(clauses, "recorded_at >= "+arg(q.Since))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

// Stats implements Store.
func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	defer metrics.MeasureDBQuery(s.metrics, "reqlog_stats", "postgres")()

	ctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	stats := Stats{
		ByEndpoint: make(map[string]int64),
		ByStatus:   make(map[string]int64),
	}

	var totalDuration float64
	var totalCount int64
	var oldest, newest sql.NullTime

	for _, t := range []struct {
		table string
		total *int64
	}{
		{s.ucpTable, &stats.TotalUCP},
		{s.ap2Table, &stats.TotalAP2},
	} {
		agg := fmt.Sprintf(`SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN status >= 400 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(duration_ms), 0), MIN(recorded_at), MAX(recorded_at)
			FROM %s`, pq.QuoteIdentifier(t.table))

		var count, errors, duration int64
		var tMin, tMax sql.NullTime
		if err := s.db.QueryRowContext(ctx, agg).Scan(&count, &errors, &duration, &tMin, &tMax); err != nil {
			return Stats{}, fmt.Errorf("aggregate %s: %w", t.table, err)
		}
		*t.total = count
		stats.ErrorCount += errors
		totalDuration += float64(duration)
		totalCount += count
		if tMin.Valid && (!oldest.Valid || tMin.Time.Before(oldest.Time)) {
			oldest = tMin
		}
		if tMax.Valid && (!newest.Valid || tMax.Time.After(newest.Time)) {
			newest = tMax
		}

		groups := fmt.Sprintf(`SELECT endpoint, status, COUNT(*) FROM %s GROUP BY endpoint, status`,
			pq.QuoteIdentifier(t.table))
		rows, err := s.db.QueryContext(ctx, groups)
		if err != nil {
			return Stats{}, fmt.Errorf("group %s: %w", t.table, err)
		}
		for rows.Next() {
			var endpoint string
			var status int
			var count int64
			if err := rows.Scan(&endpoint, &status, &count); err != nil {
				rows.Close()
				return Stats{}, fmt.Errorf("scan group row: %w", err)
			}
			stats.ByEndpoint[endpoint] += count
			stats.ByStatus[strconv.Itoa(status)] += count
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return Stats{}, fmt.Errorf("iterate group rows: %w", err)
		}
		rows.Close()
	}

	successQuery := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE payment_status = 'SUCCESS'`,
		pq.QuoteIdentifier(s.ap2Table))
	if err := s.db.QueryRowContext(ctx, successQuery).Scan(&stats.SuccessfulPayments); err != nil {
		return Stats{}, fmt.Errorf("count successful payments: %w", err)
	}

	if totalCount > 0 {
		stats.AvgDurationMS = totalDuration / float64(totalCount)
	}
	if oldest.Valid {
		stats.OldestEntry = &oldest.Time
	}
	if newest.Valid {
		stats.NewestEntry = &newest.Time
	}
	return stats, nil
}

// Clear implements Store.
func (s *PostgresStore) Clear(ctx context.Context, kind Kind) (int64, error) {
	defer metrics.MeasureDBQuery(s.metrics, "reqlog_clear", "postgres")()

	ctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	var tables []string
	switch kind {
	case KindUCP:
		tables = []string{s.ucpTable}
	case KindAP2:
		tables = []string{s.ap2Table}
	default:
		tables = []string{s.ucpTable, s.ap2Table}
	}

	var removed int64
	for _, table := range tables {
		result, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, pq.QuoteIdentifier(table)))
		if err != nil {
			return removed, fmt.Errorf("clear %s: %w", table, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return removed, fmt.Errorf("rows affected for %s: %w", table, err)
		}
		removed += n
	}
	return removed, nil
}

// Close implements Store. The pool is closed only if this store opened it.
func (s *PostgresStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}
