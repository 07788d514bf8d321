package tsdb

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// QueryRequest is the structured query accepted by Query. Tag filters are
// equality matches combined with AND. Aggregate applies only when Window is
// set as well.
type QueryRequest struct {
	Measurement string
	Tags        map[string]string
	Start       *time.Time
	End         *time.Time
	Fields      []string
	Aggregate   string
	Window      time.Duration
	Limit       int
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var aggregates = map[string]bool{
	"mean":   true,
	"avg":    true,
	"sum":    true,
	"count":  true,
	"min":    true,
	"max":    true,
	"median": true,
}

// builtSQL is a query text plus the named parameters it references.
type builtSQL struct {
	Text   string
	Params map[string]any
}

func quoteIdent(name string) (string, error) {
	if !identRe.MatchString(name) {
		return "", fmt.Errorf("invalid identifier %q", name)
	}
	return `"` + name + `"`, nil
}

func quoteIdents(names []string) ([]string, error) {
	out := make([]string, len(names))
	for i, n := range names {
		q, err := quoteIdent(n)
		if err != nil {
			return nil, err
		}
		out[i] = q
	}
	return out, nil
}

// buildSQL turns req into an InfluxDB 3 SQL statement. Tag values travel as
// named parameters; identifiers are validated and quoted. Results are always
// ordered by time descending with the limit applied last.
func buildSQL(req QueryRequest, defaultTable string) (builtSQL, error) {
	table := req.Measurement
	if table == "" {
		table = defaultTable
	}
	from, err := quoteIdent(table)
	if err != nil {
		return builtSQL{}, fmt.Errorf("measurement: %w", err)
	}

	tagKeys := make([]string, 0, len(req.Tags))
	for k := range req.Tags {
		tagKeys = append(tagKeys, k)
	}
	sort.Strings(tagKeys)
	tagCols, err := quoteIdents(tagKeys)
	if err != nil {
		return builtSQL{}, fmt.Errorf("tag: %w", err)
	}
	fieldCols, err := quoteIdents(req.Fields)
	if err != nil {
		return builtSQL{}, fmt.Errorf("field: %w", err)
	}

	params := make(map[string]any, len(tagKeys))
	var where []string
	if req.Start != nil {
		where = append(where, "time >= "+timeLiteral(*req.Start))
	}
	if req.End != nil {
		where = append(where, "time <= "+timeLiteral(*req.End))
	}
	for i, k := range tagKeys {
		name := "p" + strconv.Itoa(i)
		where = append(where, fmt.Sprintf("%s = $%s", tagCols[i], name))
		params[name] = req.Tags[k]
	}

	var sb strings.Builder
	aggregate := strings.ToLower(req.Aggregate)
	if aggregate != "" {
		if req.Window <= 0 {
			return builtSQL{}, fmt.Errorf("aggregate %q requires a window", req.Aggregate)
		}
		if !aggregates[aggregate] {
			return builtSQL{}, fmt.Errorf("unsupported aggregate function %q", req.Aggregate)
		}
		if len(fieldCols) == 0 {
			fieldCols = []string{`"value"`}
		}
		cols := []string{fmt.Sprintf("date_bin(%s, time) AS time", intervalLiteral(req.Window))}
		cols = append(cols, tagCols...)
		for _, f := range fieldCols {
			cols = append(cols, fmt.Sprintf("%s(%s) AS %s", aggregate, f, f))
		}
		sb.WriteString("SELECT " + strings.Join(cols, ", "))
		sb.WriteString(" FROM " + from)
		writeWhere(&sb, where)
		group := []string{"1"}
		for i := range tagCols {
			group = append(group, strconv.Itoa(i+2))
		}
		sb.WriteString(" GROUP BY " + strings.Join(group, ", "))
	} else {
		if len(fieldCols) == 0 {
			sb.WriteString("SELECT *")
		} else {
			cols := append([]string{"time"}, tagCols...)
			cols = append(cols, fieldCols...)
			sb.WriteString("SELECT " + strings.Join(cols, ", "))
		}
		sb.WriteString(" FROM " + from)
		writeWhere(&sb, where)
	}

	sb.WriteString(" ORDER BY time DESC")
	if req.Limit > 0 {
		sb.WriteString(" LIMIT " + strconv.Itoa(req.Limit))
	}

	return builtSQL{Text: sb.String(), Params: params}, nil
}

func writeWhere(sb *strings.Builder, where []string) {
	if len(where) > 0 {
		sb.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
}

// timeLiteral is only ever fed time.Time values, never caller text.
func timeLiteral(t time.Time) string {
	return "'" + t.UTC().Format(time.RFC3339Nano) + "'"
}

func intervalLiteral(d time.Duration) string {
	switch {
	case d >= 24*time.Hour && d%(24*time.Hour) == 0:
		return fmt.Sprintf("INTERVAL '%d days'", int64(d/(24*time.Hour)))
	case d >= time.Hour && d%time.Hour == 0:
		return fmt.Sprintf("INTERVAL '%d hours'", int64(d/time.Hour))
	case d >= time.Minute && d%time.Minute == 0:
		return fmt.Sprintf("INTERVAL '%d minutes'", int64(d/time.Minute))
	case d >= time.Second:
		return fmt.Sprintf("INTERVAL '%d seconds'", int64(d/time.Second))
	default:
		return fmt.Sprintf("INTERVAL '%d milliseconds'", d.Milliseconds())
	}
}
