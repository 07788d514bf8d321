// Package tsdb writes telemetry points to InfluxDB 3 and answers structured
// and raw SQL queries against it.
package tsdb

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/InfluxCommunity/influxdb3-go/v2/influxdb3"
	"go.uber.org/zap"
)

// Tag columns written by the ingestion pipeline.
var knownTags = map[string]bool{
	"location":        true,
	"machine":         true,
	"lot_code":        true,
	"local_timestamp": true,
}

type Settings struct {
	Host     string
	Token    string
	Database string
}

// Store is safe for concurrent use.
type Store struct {
	client   *influxdb3.Client
	database string
	logger   *zap.SugaredLogger
	now      func() time.Time
}

func NewStore(s Settings, logger *zap.SugaredLogger) (*Store, error) {
	if s.Host == "" || s.Database == "" {
		return nil, fmt.Errorf("influx host and database are required")
	}
	client, err := influxdb3.New(influxdb3.ClientConfig{
		Host:     s.Host,
		Token:    s.Token,
		Database: s.Database,
	})
	if err != nil {
		return nil, fmt.Errorf("create influx client: %w", err)
	}
	return &Store{
		client:   client,
		database: s.Database,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// WritePoints writes the batch in a single request. An empty batch is a no-op.
func (s *Store) WritePoints(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	now := s.now()
	batch := make([]*influxdb3.Point, 0, len(points))
	for _, p := range points {
		ip, err := toInfluxPoint(p, now)
		if err != nil {
			return err
		}
		batch = append(batch, ip)
	}

	if err := s.client.WritePoints(ctx, batch); err != nil {
		s.logger.Errorw("failed to write points", "count", len(batch), "error", err)
		return fmt.Errorf("write %d points: %w", len(batch), err)
	}
	s.logger.Debugw("points written", "count", len(batch))
	return nil
}

// Query runs a structured request.
func (s *Store) Query(ctx context.Context, req QueryRequest) ([]Row, error) {
	q, err := buildSQL(req, s.database)
	if err != nil {
		return nil, err
	}

	it, err := s.client.QueryWithParameters(ctx, q.Text, influxdb3.QueryParameters(q.Params))
	if err != nil {
		s.logger.Errorw("query failed", "sql", q.Text, "error", err)
		return nil, fmt.Errorf("query %q: %w", req.Measurement, err)
	}

	measurement := req.Measurement
	if measurement == "" {
		measurement = "unknown"
	}
	tagCols := make(map[string]bool, len(req.Tags))
	for k := range req.Tags {
		tagCols[k] = true
	}
	return collectRows(it, measurement, tagCols)
}

// QueryRaw passes sql through unchanged. Meant for diagnostics.
func (s *Store) QueryRaw(ctx context.Context, sql string) ([]Row, error) {
	it, err := s.client.Query(ctx, sql)
	if err != nil {
		s.logger.Errorw("raw query failed", "sql", sql, "error", err)
		return nil, fmt.Errorf("raw query: %w", err)
	}
	return collectRows(it, "raw", nil)
}

// HealthCheck reports whether the backend answers a trivial query.
func (s *Store) HealthCheck(ctx context.Context) bool {
	rows, err := s.QueryRaw(ctx, "SELECT 1 AS health_check")
	if err != nil {
		s.logger.Warnw("influx health check failed", "error", err)
		return false
	}
	return len(rows) > 0
}

func (s *Store) Close() error {
	return s.client.Close()
}

type rowIterator interface {
	Next() bool
	Value() map[string]any
}

func collectRows(it rowIterator, measurement string, tagCols map[string]bool) ([]Row, error) {
	var rows []Row
	for it.Next() {
		rows = append(rows, toRow(it.Value(), measurement, tagCols))
	}
	if e, ok := it.(interface{ Err() error }); ok {
		if err := e.Err(); err != nil {
			return rows, fmt.Errorf("read rows: %w", err)
		}
	}
	return rows, nil
}

func toRow(values map[string]any, measurement string, tagCols map[string]bool) Row {
	row := Row{
		Measurement: measurement,
		Tags:        make(map[string]any),
		Fields:      make(map[string]any),
	}
	for k, v := range values {
		switch {
		case strings.EqualFold(k, "time"):
			row.Time = parseTime(v)
		case k == "iox::measurement":
			if m, ok := v.(string); ok {
				row.Measurement = m
			}
		case knownTags[k] || tagCols[k]:
			row.Tags[k] = v
		default:
			row.Fields[k] = v
		}
	}
	return row
}

func parseTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case int64:
		return time.Unix(0, t).UTC()
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed.UTC()
		}
		if ns, err := strconv.ParseInt(t, 10, 64); err == nil {
			return time.Unix(0, ns).UTC()
		}
	}
	return time.Time{}
}
