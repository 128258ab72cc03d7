package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"colf/pkg/colf_file"
	"colf/pkg/csvio"
	"colf/pkg/stats"
)

const usage = `usage: colf <command> [flags] args...

commands:
  csv-to-colf  in.csv out.colf     convert a CSV with a header row
  colf-to-csv  in.colf out.csv     convert back to CSV
  read-columns in.colf [a,b,...]   print selected columns as CSV
  stats        in.colf [a,b,...]   print per-column statistics
  header       in.colf             print the schema and column directory
  generate     out.colf            write a synthetic log table
`

type cliOptions struct {
	compressor colf_file.Compressor
	batchSize  int
	rows       int
	seed       int64
}

type command struct {
	nargs int // required positional args
	run   func(o cliOptions, args []string) error
}

var commands = map[string]command{
	"csv-to-colf":  {nargs: 2, run: csvToColf},
	"colf-to-csv":  {nargs: 2, run: colfToCsv},
	"read-columns": {nargs: 1, run: readColumns},
	"stats":        {nargs: 1, run: printStats},
	"header":       {nargs: 1, run: printHeader},
	"generate":     {nargs: 1, run: generate},
}

func main() {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	name := os.Args[1]
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", name, usage)
		os.Exit(2)
	}

	fs := flag.NewFlagSet(name, flag.ExitOnError)
	compression := fs.String("compression", colf_file.DefaultCompression,
		fmt.Sprintf("column block compression (%s)", strings.Join(colf_file.CompressorNames(), ", ")))
	batchSize := fs.Int("batch-size", 4096, "rows per batch when streaming columns")
	rows := fs.Int("rows", 100000, "rows to generate")
	seed := fs.Int64("seed", 1, "random seed for generate")
	fs.Parse(os.Args[2:])

	if fs.NArg() < cmd.nargs {
		fmt.Fprintf(os.Stderr, "%s: expected %d argument(s), got %d\n\n%s", name, cmd.nargs, fs.NArg(), usage)
		os.Exit(2)
	}

	compressor, err := colf_file.CompressorByName(*compression)
	if err != nil {
		level.Error(logger).Log("msg", "invalid compression", "err", err)
		os.Exit(2)
	}

	opts := cliOptions{compressor: compressor, batchSize: *batchSize, rows: *rows, seed: *seed}
	if err := cmd.run(opts, fs.Args()); err != nil {
		level.Error(logger).Log("msg", name+" failed", "err", err)
		os.Exit(1)
	}
}

// columnList parses an optional comma-separated column list. Absent means
// every column.
func columnList(args []string, pos int) []string {
	if len(args) <= pos {
		return nil
	}
	names := []string{}
	for _, n := range strings.Split(args[pos], ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	return names
}

func csvToColf(o cliOptions, args []string) error {
	in, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("can't open CSV file: %w", err)
	}
	defer in.Close()

	table, err := csvio.ReadTable(in)
	if err != nil {
		return err
	}
	if err := table.Serialize(args[1], colf_file.WithCompressor(o.compressor)); err != nil {
		return err
	}
	fmt.Printf("wrote %d rows, %d columns to %s\n", table.NumRows, len(table.Columns), args[1])
	return nil
}

func colfToCsv(o cliOptions, args []string) error {
	table, err := colf_file.Deserialize(args[0], colf_file.WithCompressor(o.compressor))
	if err != nil {
		return err
	}

	out, err := os.Create(args[1])
	if err != nil {
		return fmt.Errorf("can't create CSV file: %w", err)
	}
	if err := csvio.WriteTable(out, table); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// readColumns streams the selection to stdout batch by batch.
func readColumns(o cliOptions, args []string) error {
	names := columnList(args, 1)

	header, err := colf_file.ReadFileHeader(args[0])
	if err != nil {
		return err
	}

	// batches come back in schema order
	present := make(map[string]bool, len(header.Entries))
	for _, e := range header.Entries {
		present[e.Schema.Name] = true
	}
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		if !present[n] {
			return fmt.Errorf("%w: %q", colf_file.ErrUnknownColumn, n)
		}
		wanted[n] = true
	}
	headerNames := []string{}
	for _, e := range header.Entries {
		if names == nil || wanted[e.Schema.Name] {
			headerNames = append(headerNames, e.Schema.Name)
			delete(wanted, e.Schema.Name)
		}
	}

	reader := colf_file.NewBatchReader([]string{args[0]}, names, colf_file.WithCompressor(o.compressor))
	defer reader.Close()

	if err := csvio.WriteHeader(os.Stdout, headerNames); err != nil {
		return err
	}
	for {
		batch, err := reader.GetNextBatch(o.batchSize)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := csvio.WriteRows(os.Stdout, batch); err != nil {
			return err
		}
	}
}

func printStats(o cliOptions, args []string) error {
	table, err := colf_file.DeserializeColumns(args[0], columnList(args, 1), colf_file.WithCompressor(o.compressor))
	if err != nil {
		return err
	}
	fmt.Printf("%d rows\n", table.NumRows)
	return stats.Print(os.Stdout, stats.Calculate(table))
}

func printHeader(_ cliOptions, args []string) error {
	header, err := colf_file.ReadFileHeader(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("version=%d endianness=%d header_size=%d num_rows=%d columns=%d\n",
		header.Version, header.Endianness, header.HeaderSize, header.NumRows, len(header.Entries))
	for i, e := range header.Entries {
		fmt.Printf("%3d  %-20s %-8s nullable=%-5t offset=%-8d compressed=%-8d uncompressed=%-8d has_nulls=%t\n",
			i, e.Schema.Name, e.Schema.Type, e.Schema.Nullable,
			e.Meta.Offset, e.Meta.CompressedSize, e.Meta.UncompressedSize, e.Meta.HasNulls)
	}
	return nil
}
