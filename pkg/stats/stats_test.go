package stats

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"colf/pkg/colf_file"
)

func TestCalculate(t *testing.T) {
	table := &colf_file.ColumnarTable{
		NumRows: 4,
		Columns: []colf_file.AnyColumn{
			colf_file.NewInt32Column("id", false, []int32{4, -2, 10, 0}, nil),
			colf_file.NewFloat64Column("price", true, []float64{1.5, 0, 2.5, 0}, []bool{false, true, false, true}),
			colf_file.NewUtf8Column("name", true, []string{"ab", "", "żółw", "xyz"}, []bool{false, true, false, false}),
			colf_file.NewFloat64Column("empty", true, []float64{0, 0, 0, 0}, []bool{true, true, true, true}),
		},
	}

	got := Calculate(table)
	require.Len(t, got, 4)

	id := got[0]
	assert.Equal(t, "id", id.Name)
	assert.Equal(t, 4, id.Rows)
	assert.Zero(t, id.Nulls)
	require.NotNil(t, id.Min)
	assert.Equal(t, -2.0, *id.Min)
	assert.Equal(t, 10.0, *id.Max)
	assert.Equal(t, 3.0, *id.Mean)

	price := got[1]
	assert.Equal(t, 2, price.Nulls)
	assert.Equal(t, 1.5, *price.Min)
	assert.Equal(t, 2.5, *price.Max)
	assert.Equal(t, 2.0, *price.Mean)

	name := got[2]
	assert.Equal(t, colf_file.TypeUtf8, name.Type)
	assert.Equal(t, 1, name.Nulls)
	assert.Equal(t, 2+len("żółw")+3, name.TotalBytes)
	assert.Equal(t, 2+1+3, name.ASCIIBytes)
	assert.Equal(t, len("żółw"), name.MaxLength)
	assert.Nil(t, name.Min)

	empty := got[3]
	assert.Equal(t, 4, empty.Nulls)
	assert.Nil(t, empty.Mean)
}

func TestCalculateSkipsNonFinite(t *testing.T) {
	tests := []struct {
		name          string
		values        []float64
		wantNonFinite int
		wantMean      *float64
	}{
		{"mixed", []float64{1.5, math.Inf(1), math.NaN(), 2.5, math.Inf(-1)}, 3, ptr(2.0)},
		{"only non-finite", []float64{math.NaN(), math.Inf(1)}, 2, nil},
		{"huge finite", []float64{math.MaxFloat64, math.MaxFloat64}, 0, ptr(math.MaxFloat64)},
		{"huge opposite signs", []float64{math.MaxFloat64, -math.MaxFloat64}, 0, ptr(0.0)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			table := &colf_file.ColumnarTable{
				NumRows: uint64(len(tc.values)),
				Columns: []colf_file.AnyColumn{colf_file.NewFloat64Column("v", false, tc.values, nil)},
			}
			got := Calculate(table)
			require.Len(t, got, 1)
			assert.Equal(t, tc.wantNonFinite, got[0].NonFinite)
			assert.Equal(t, tc.wantMean, got[0].Mean)

			_, err := json.Marshal(got)
			require.NoError(t, err)
		})
	}
}

func ptr(v float64) *float64 { return &v }

func TestPrint(t *testing.T) {
	table := &colf_file.ColumnarTable{
		NumRows: 2,
		Columns: []colf_file.AnyColumn{
			colf_file.NewInt32Column("id", false, []int32{1, 2}, nil),
			colf_file.NewUtf8Column("s", false, []string{"a", "bc"}, nil),
		},
	}

	var buf bytes.Buffer
	require.NoError(t, Print(&buf, Calculate(table)))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "COLUMN"))
	assert.Equal(t, []string{"id", "int32", "2", "0", "1.0000", "2.0000", "1.5000", "-", "-", "-"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"s", "utf8", "2", "0", "-", "-", "-", "3", "3", "2"}, strings.Fields(lines[2]))
}
