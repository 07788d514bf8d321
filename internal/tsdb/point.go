package tsdb

import (
	"fmt"
	"time"

	"github.com/InfluxCommunity/influxdb3-go/v2/influxdb3"
)

// Point is one time-series observation. A zero Time means ingestion time.
type Point struct {
	Measurement string
	Tags        map[string]string
	Fields      map[string]any
	Time        time.Time
}

// Row is one result row of a query.
type Row struct {
	Measurement string         `json:"measurement"`
	Tags        map[string]any `json:"tags"`
	Fields      map[string]any `json:"fields"`
	Time        time.Time      `json:"timestamp"`
}

// toInfluxPoint converts p, keeping numeric and boolean field types so the
// backend can aggregate over them.
func toInfluxPoint(p Point, now time.Time) (*influxdb3.Point, error) {
	if p.Measurement == "" {
		return nil, fmt.Errorf("point has no measurement")
	}
	if len(p.Fields) == 0 {
		return nil, fmt.Errorf("point %q has no fields", p.Measurement)
	}

	ts := p.Time
	if ts.IsZero() {
		ts = now
	}

	ip := influxdb3.NewPointWithMeasurement(p.Measurement).SetTimestamp(ts)
	for k, v := range p.Tags {
		ip.SetTag(k, v)
	}
	for k, v := range p.Fields {
		ip.SetField(k, fieldValue(v))
	}
	return ip, nil
}

// fieldValue normalises v to one of the four line protocol field types.
func fieldValue(v any) any {
	switch val := v.(type) {
	case float64, int64, bool, string:
		return val
	case float32:
		return float64(val)
	case int:
		return int64(val)
	case int32:
		return int64(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return val.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(val)
	}
}
