package service

import (
	"fmt"
	"sort"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"mokametrics-ingest/internal/model"
	"mokametrics-ingest/internal/tsdb"
)

// jsonOut encodes with full float precision.
var jsonOut = jsoniter.ConfigCompatibleWithStandardLibrary

// field maps one declared telemetry field to the measurement it is written as.
type field[T any] struct {
	measurement string
	value       func(*T) any
}

var cncFields = []field[model.CncMessage]{
	{"cycleTime", func(m *model.CncMessage) any { return float64(m.CycleTime) }},
	{"cuttingDepth", func(m *model.CncMessage) any { return float64(m.CuttingDepth) }},
	{"vibration", func(m *model.CncMessage) any { return float64(m.Vibration) }},
	{"alarm", func(m *model.CncMessage) any { return m.Alarm }},
}

var latheFields = []field[model.LatheMessage]{
	{"rotationSpeed", func(m *model.LatheMessage) any { return float64(m.RotationSpeed) }},
	{"spindleTemperature", func(m *model.LatheMessage) any { return float64(m.SpindleTemperature) }},
}

var assemblyFields = []field[model.AssemblyMessage]{
	{"averageStationTime", func(m *model.AssemblyMessage) any { return float64(m.AverageStationTime) }},
	{"defectRate", func(m *model.AssemblyMessage) any { return float64(m.DefectRate) }},
	{"operatorsCount", func(m *model.AssemblyMessage) any { return int64(m.OperatorsCount) }},
	{"qualityCheckPassed", func(m *model.AssemblyMessage) any { return m.QualityCheckPassed }},
}

var testingFields = []field[model.TestingMessage]{
	{"functionalTestResults", func(m *model.TestingMessage) any { return m.FunctionalTestResults }},
	{"boilerPressure", func(m *model.TestingMessage) any { return float64(m.BoilerPressure) }},
	{"boilerTemperature", func(m *model.TestingMessage) any { return float64(m.BoilerTemperature) }},
	{"energyConsumption", func(m *model.TestingMessage) any { return float64(m.EnergyConsumption) }},
}

type reading struct {
	measurement string
	value       any
}

func readings[T any](fields []field[T], msg *T) []reading {
	out := make([]reading, 0, len(fields))
	for _, f := range fields {
		out = append(out, reading{f.measurement, f.value(msg)})
	}
	return out
}

// telemetryReadings lists the measurements a telemetry message carries, in
// declaration order. Assembly extras follow the declared fields, sorted.
func telemetryReadings(msg model.Telemetry) ([]reading, error) {
	switch m := msg.(type) {
	case *model.CncMessage:
		return readings(cncFields, m), nil
	case *model.LatheMessage:
		return readings(latheFields, m), nil
	case *model.TestingMessage:
		return readings(testingFields, m), nil
	case *model.AssemblyMessage:
		out := readings(assemblyFields, m)
		keys := make([]string, 0, len(m.Extra))
		for k := range m.Extra {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out = append(out, reading{model.SnakeToCamel(k), m.Extra[k]})
		}
		return out, nil
	default:
		return nil, fmt.Errorf("no measurement table for %T", msg)
	}
}

// pointValue converts a reading to a value the time-series store accepts.
// Maps are stored as their JSON text.
func pointValue(v any) (any, error) {
	switch val := v.(type) {
	case map[string]bool, map[string]any:
		b, err := jsonOut.Marshal(val)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	default:
		return v, nil
	}
}

func machineTags(m *model.MachineMessage) map[string]string {
	return map[string]string{
		"location": strings.ToLower(m.Site),
		"machine":  m.MachineID,
		"lot_code": m.LotCode,
	}
}

func observedAt(ts *model.Timestamp, now time.Time) time.Time {
	if ts == nil || ts.IsZero() {
		return now
	}
	return ts.UTC()
}

// telemetryPoints expands msg into one point per measurement.
func telemetryPoints(msg model.Telemetry, now time.Time) ([]tsdb.Point, error) {
	rs, err := telemetryReadings(msg)
	if err != nil {
		return nil, err
	}
	m := msg.Machine()
	at := observedAt(m.UtcTimestamp, now)
	local := now.Format(time.RFC3339Nano)
	if m.LocalTimestamp != nil && !m.LocalTimestamp.IsZero() {
		local = m.LocalTimestamp.Format(time.RFC3339Nano)
	}

	points := make([]tsdb.Point, 0, len(rs)+1)
	for _, r := range rs {
		v, err := pointValue(r.value)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", r.measurement, err)
		}
		tags := machineTags(m)
		tags["local_timestamp"] = local
		points = append(points, tsdb.Point{
			Measurement: r.measurement,
			Tags:        tags,
			Fields:      map[string]any{"value": v},
			Time:        at,
		})
	}
	return points, nil
}

// deriveStatus maps the reported error text to a machine status. An absent,
// empty or "None" error means the machine is healthy.
func deriveStatus(errText *string) (model.MachineStatus, string) {
	if errText == nil {
		return model.MachineOperational, ""
	}
	text := strings.TrimSpace(*errText)
	if text == "" || text == "None" {
		return model.MachineOperational, ""
	}
	return model.MachineAlarm, text
}

func statusPoint(m *model.MachineMessage, status model.MachineStatus, errText string, now time.Time) tsdb.Point {
	fields := map[string]any{"value": status.String()}
	if errText != "" {
		fields["error_message"] = errText
	}
	return tsdb.Point{
		Measurement: "status",
		Tags:        machineTags(m),
		Fields:      fields,
		Time:        observedAt(m.UtcTimestamp, now),
	}
}
