package stats

import (
	"fmt"
	"io"
	"math"
	"text/tabwriter"

	"colf/pkg/colf_file"
)

type ColumnStats struct {
	Name  string               `json:"name"`
	Type  colf_file.ColumnType `json:"type"`
	Rows  int                  `json:"rows"`
	Nulls int                  `json:"nulls"`

	// numeric columns, over finite non-NULL values
	Min  *float64 `json:"min,omitempty"`
	Max  *float64 `json:"max,omitempty"`
	Mean *float64 `json:"mean,omitempty"`
	// NaN and ±Inf rows, left out of Min, Max and Mean
	NonFinite int `json:"non_finite,omitempty"`

	// utf8 columns
	TotalBytes int `json:"total_bytes,omitempty"`
	ASCIIBytes int `json:"ascii_bytes,omitempty"`
	MaxLength  int `json:"max_length,omitempty"`
}

func Calculate(table *colf_file.ColumnarTable) []ColumnStats {
	out := make([]ColumnStats, 0, len(table.Columns))
	for _, col := range table.Columns {
		out = append(out, calculateColumn(col))
	}
	return out
}

func calculateColumn(col colf_file.AnyColumn) ColumnStats {
	s := ColumnStats{
		Name: col.GetName(),
		Type: col.GetType(),
		Rows: col.GetNumRows(),
	}

	switch c := col.(type) {
	case *colf_file.Int32Column:
		acc := newNumericAcc()
		for i, v := range c.Values {
			if c.IsNull(i) {
				s.Nulls++
				continue
			}
			acc.add(float64(v))
		}
		acc.fill(&s)
	case *colf_file.Float64Column:
		acc := newNumericAcc()
		for i, v := range c.Values {
			if c.IsNull(i) {
				s.Nulls++
				continue
			}
			acc.add(v)
		}
		acc.fill(&s)
	case *colf_file.Utf8Column:
		for i := 0; i < c.GetNumRows(); i++ {
			if c.IsNull(i) {
				s.Nulls++
				continue
			}
			b := c.Bytes(i)
			s.TotalBytes += len(b)
			if len(b) > s.MaxLength {
				s.MaxLength = len(b)
			}
			for _, ch := range b {
				if ch < 128 {
					s.ASCIIBytes++
				}
			}
		}
	default:
		for i := 0; i < col.GetNumRows(); i++ {
			if col.IsNull(i) {
				s.Nulls++
			}
		}
	}
	return s
}

type numericAcc struct {
	min, max, mean float64
	n, nonFinite   int
}

func newNumericAcc() *numericAcc {
	return &numericAcc{min: math.Inf(1), max: math.Inf(-1)}
}

func (a *numericAcc) add(v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		a.nonFinite++
		return
	}
	a.min = math.Min(a.min, v)
	a.max = math.Max(a.max, v)
	a.n++
	// running mean; a plain sum of large finite values can overflow to Inf
	if d := v - a.mean; !math.IsInf(d, 0) {
		a.mean += d / float64(a.n)
	} else {
		a.mean += v/float64(a.n) - a.mean/float64(a.n)
	}
}

func (a *numericAcc) fill(s *ColumnStats) {
	s.NonFinite = a.nonFinite
	if a.n == 0 {
		return
	}
	s.Min, s.Max, s.Mean = &a.min, &a.max, &a.mean
}

// Print writes one aligned line per column.
func Print(w io.Writer, stats []ColumnStats) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COLUMN\tTYPE\tROWS\tNULLS\tMIN\tMAX\tMEAN\tBYTES\tASCII\tMAX_LEN")
	for _, s := range stats {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			s.Name, s.Type, s.Rows, s.Nulls,
			optFloat(s.Min), optFloat(s.Max), optFloat(s.Mean),
			optInt(s.Type, s.TotalBytes), optInt(s.Type, s.ASCIIBytes), optInt(s.Type, s.MaxLength))
	}
	return tw.Flush()
}

func optFloat(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.4f", *v)
}

func optInt(t colf_file.ColumnType, v int) string {
	if t != colf_file.TypeUtf8 {
		return "-"
	}
	return fmt.Sprintf("%d", v)
}
