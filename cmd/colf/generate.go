package main

import (
	"fmt"
	"math/rand"
	"os"

	"colf/pkg/colf_file"
	"colf/pkg/stats"
)

var (
	hosts  = []string{"192.168.1.1", "10.0.0.1", "localhost", "db-server", "app-node-01"}
	levels = []string{"INFO", "WARN", "ERROR", "DEBUG"}
)

func generate(o cliOptions, args []string) error {
	if o.rows < 0 {
		return fmt.Errorf("rows must not be negative, got %d", o.rows)
	}
	fmt.Printf("Generating %d rows of data...\n", o.rows)
	table := generateTable(o.rows, o.seed)

	if err := stats.Print(os.Stdout, stats.Calculate(table)); err != nil {
		return err
	}

	if err := table.Serialize(args[0], colf_file.WithCompressor(o.compressor)); err != nil {
		return err
	}
	fi, err := os.Stat(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("File generated successfully. Size: %.2f MB\n", float64(fi.Size())/1024.0/1024.0)
	return nil
}

// generateTable builds a log-like table: one row per second, a latency that
// is NULL for roughly one row in twenty, a host and a level.
func generateTable(rows int, seed int64) *colf_file.ColumnarTable {
	rnd := rand.New(rand.NewSource(seed))

	seconds := make([]int32, rows)
	latency := make([]float64, rows)
	latencyNulls := make([]bool, rows)
	host := make([]string, rows)
	level := make([]string, rows)

	for i := 0; i < rows; i++ {
		seconds[i] = int32(i)
		if rnd.Intn(20) == 0 {
			latencyNulls[i] = true
		} else {
			latency[i] = rnd.ExpFloat64() * 25
		}
		host[i] = hosts[rnd.Intn(len(hosts))]
		level[i] = levels[rnd.Intn(len(levels))]
	}

	return &colf_file.ColumnarTable{
		NumRows: uint64(rows),
		Columns: []colf_file.AnyColumn{
			colf_file.NewInt32Column("second", false, seconds, nil),
			colf_file.NewFloat64Column("latency_ms", true, latency, latencyNulls),
			colf_file.NewUtf8Column("host", false, host, nil),
			colf_file.NewUtf8Column("log_level", false, level, nil),
		},
	}
}
