package query

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/rileyhilliard/chdig/internal/transport"
)

// RowKey identifies a row cluster-wide. Native ids (query_id, part name, ...)
// are only unique per host, so the host id is part of the key.
type RowKey struct {
	HostID   string
	NativeID string
}

// String renders the key as host/native.
func (k RowKey) String() string {
	return k.HostID + "/" + k.NativeID
}

// Compare orders keys by host then native id.
func (k RowKey) Compare(o RowKey) int {
	if c := strings.Compare(k.HostID, o.HostID); c != 0 {
		return c
	}
	return strings.Compare(k.NativeID, o.NativeID)
}

// Row is one decoded result row, tagged with the template that produced it.
type Row struct {
	Template string
	Key      RowKey
	Labels   map[string]string
	Metrics  map[string]float64
	// Addrs or Frames holds the KindFrames column in server order.
	Addrs  []uint64
	Frames []string
}

// Label returns the named label, or "".
func (r *Row) Label(name string) string {
	return r.Labels[name]
}

// Metric returns the named metric and whether the row has it.
func (r *Row) Metric(name string) (float64, bool) {
	v, ok := r.Metrics[name]
	return v, ok
}

// Decode turns a host's result set into rows according to t's columns.
// A declared column missing from the result, or a metric that is not
// numeric, is an error: the template and the server disagree. An empty
// answer without a header decodes to no rows.
func Decode(t *Template, hostID string, res *transport.Result) ([]Row, error) {
	if res == nil || (len(res.Rows) == 0 && len(res.Columns) == 0) {
		return nil, nil
	}

	idx := make([]int, len(t.columns))
	var keys []int
	for i, c := range t.columns {
		pos := res.ColumnIndex(c.Name)
		if pos < 0 {
			return nil, fmt.Errorf("%s: result has no column %q", t.name, c.Name)
		}
		idx[i] = pos
		if c.Kind == KindKey {
			keys = append(keys, i)
		}
	}

	rows := make([]Row, 0, len(res.Rows))
	for n, raw := range res.Rows {
		row := Row{
			Template: t.name,
			Labels:   make(map[string]string),
			Metrics:  make(map[string]float64),
		}
		for i, c := range t.columns {
			if idx[i] >= len(raw) {
				return nil, fmt.Errorf("%s: row %d is shorter than its header", t.name, n)
			}
			v := raw[idx[i]]
			switch c.Kind {
			case KindKey, KindLabel:
				row.Labels[c.Name] = FormatValue(v)
			case KindMetric:
				f, ok := ToFloat(v)
				if !ok {
					return nil, fmt.Errorf("%s: column %q row %d: %T is not numeric", t.name, c.Name, n, v)
				}
				row.Metrics[c.Name] = f
			case KindFrames:
				addrs, names, err := toFrames(v)
				if err != nil {
					return nil, fmt.Errorf("%s: column %q row %d: %w", t.name, c.Name, n, err)
				}
				row.Addrs, row.Frames = addrs, names
			}
		}

		native := "#" + strconv.Itoa(n)
		if len(keys) > 0 {
			parts := make([]string, len(keys))
			for j, i := range keys {
				parts[j] = row.Labels[t.columns[i].Name]
			}
			native = strings.Join(parts, "/")
		}
		row.Key = RowKey{HostID: hostID, NativeID: native}
		rows = append(rows, row)
	}
	return rows, nil
}

// ToFloat converts driver numeric values to float64. Booleans count as 0/1
// and nil as 0 (Nullable columns arrive dereferenced or nil).
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case nil:
		return 0, true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case *big.Int:
		f, _ := new(big.Float).SetInt(n).Float64()
		return f, !math.IsInf(f, 0)
	case big.Int:
		return ToFloat(&n)
	case time.Duration:
		return n.Seconds(), true
	case time.Time:
		// DateTime metrics are rendered as ages by the UI.
		return float64(n.Unix()), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// FormatValue renders a driver value as label text.
func FormatValue(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	case time.Time:
		if s.IsZero() {
			return ""
		}
		return s.Format("2006-01-02 15:04:05")
	case []string:
		return strings.Join(s, ", ")
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprint(v)
	}
}

func toFrames(v any) ([]uint64, []string, error) {
	switch s := v.(type) {
	case nil:
		return nil, nil, nil
	case []uint64:
		return append([]uint64(nil), s...), nil, nil
	case []string:
		return nil, append([]string(nil), s...), nil
	case string:
		// arrayStringConcat(..., ';') output
		if s == "" {
			return nil, nil, nil
		}
		return nil, strings.Split(s, ";"), nil
	default:
		return nil, nil, fmt.Errorf("%T is not a stack", v)
	}
}
