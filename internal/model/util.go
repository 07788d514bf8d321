package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type StringFloat64 float64

// UnmarshalJSON allows StringFloat64 to accept both string and float in JSON
func (s *StringFloat64) UnmarshalJSON(b []byte) error {
	// try number
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		*s = StringFloat64(f)
		return nil
	}

	// try string
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return fmt.Errorf("StringFloat64: cannot unmarshal %s", string(b))
	}

	f, err := strconv.ParseFloat(strings.TrimSpace(str), 64)
	if err != nil {
		return fmt.Errorf("StringFloat64: cannot parse %q to float64", str)
	}
	*s = StringFloat64(f)
	return nil
}

// Timestamp accepts RFC 3339 and zone-less ISO 8601 values. Zone-less values
// are read as UTC.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return fmt.Errorf("Timestamp: cannot unmarshal %s", string(b))
	}
	if str == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, str); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("Timestamp: cannot parse %q", str)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// assemblyKnownFields lists the keys that are not free-form assembly readings
var assemblyKnownFields = map[string]bool{
	"local_timestamp":                        true,
	"utc_timestamp":                          true,
	"site":                                   true,
	"lot_code":                               true,
	"machine_id":                             true,
	"status":                                 true,
	"completed_pieces_from_last_maintenance": true,
	"error":                                  true,
	"average_station_time":                   true,
	"defect_rate":                            true,
	"operators_count":                        true,
	"quality_check_passed":                   true,
}

// assemblyKnownNames holds the camelCase form of every known key, so
// "averageStationTime" and "average_station_time" are the same reading.
var assemblyKnownNames = func() map[string]bool {
	out := make(map[string]bool, len(assemblyKnownFields))
	for k := range assemblyKnownFields {
		out[SnakeToCamel(k)] = true
	}
	return out
}()

// UnmarshalJSON decodes the declared fields and collects every other numeric
// or boolean key into Extra
func (m *AssemblyMessage) UnmarshalJSON(b []byte) error {
	type plain AssemblyMessage
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}

	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	p.Extra = make(map[string]any)
	for k, v := range raw {
		if assemblyKnownNames[SnakeToCamel(k)] {
			continue
		}
		switch val := v.(type) {
		case float64, bool:
			p.Extra[k] = val
		}
	}

	*m = AssemblyMessage(p)
	return nil
}

// SnakeToCamel turns "cycle_time" into "cycleTime".
func SnakeToCamel(s string) string {
	parts := strings.Split(s, "_")
	var b strings.Builder
	b.Grow(len(s))
	for i, p := range parts {
		if p == "" {
			continue
		}
		if i == 0 || b.Len() == 0 {
			b.WriteString(p)
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}
