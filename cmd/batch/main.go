// Command batch scores every row of a CSV of site conditions and writes the
// rows back out with the recommended species and confidence.
package main

import (
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"florapredict/config"
	"florapredict/db"
	"florapredict/logger"
	"florapredict/ml"
	"florapredict/pipeline"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to config.yaml")
	modelPath := flag.String("model", "", "model artifact (overrides config)")
	encodersPath := flag.String("encoders", "", "encoder artifact (overrides config)")
	inPath := flag.String("in", "", "input CSV with one column per field")
	outPath := flag.String("out", "", "output CSV (default stdout)")
	logPath := flag.String("log", "", "append scored rows to this prediction CSV log")
	dbPath := flag.String("db", "", "append scored rows to this SQLite prediction log")
	flag.Parse()

	if *inPath == "" {
		fmt.Fprintln(os.Stderr, "-in is required")
		os.Exit(2)
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *modelPath != "" {
		cfg.Artifacts.ModelPath = *modelPath
	}
	if *encodersPath != "" {
		cfg.Artifacts.EncodersPath = *encodersPath
	}

	log := logger.Must(cfg.Log)
	defer log.Sync()

	schema := ml.PlantSchema()
	p, err := pipeline.Load(schema, cfg.Artifacts.ModelType, cfg.Artifacts.ModelPath, cfg.Artifacts.EncodersPath)
	if err != nil {
		log.Fatal("failed to load artifacts", zap.Error(err))
	}

	opts := []pipeline.Option{}
	if *logPath != "" {
		opts = append(opts, pipeline.WithSink(pipeline.NewCSVSink(*logPath, schema)))
	}
	if *dbPath != "" {
		store, err := db.NewStore(*dbPath, schema)
		if err != nil {
			log.Fatal("failed to open database", zap.Error(err))
		}
		defer store.Close()
		opts = append(opts, pipeline.WithSink(store))
	}
	svc := pipeline.NewService(pipeline.NewHolder(p), log, opts...)

	in, err := os.Open(*inPath)
	if err != nil {
		log.Fatal("failed to open input", zap.Error(err))
	}
	defer in.Close()

	var out io.Writer = os.Stdout
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			log.Fatal("failed to create output", zap.Error(err))
		}
		defer f.Close()
		out = f
	}

	stats, err := runBatch(in, out, os.Stderr, schema, svc)
	if err != nil {
		log.Fatal("batch failed", zap.Error(err))
	}
	log.Info("batch complete",
		zap.Int("scored", stats.Scored),
		zap.Int("skipped", stats.Skipped),
		zap.Int("warnings", stats.Warnings),
	)
	fmt.Fprintf(os.Stderr, "scored %d rows, skipped %d\n", stats.Scored, stats.Skipped)
}

type batchStats struct {
	Scored   int
	Skipped  int
	Warnings int
}

// runBatch reads rows by header name, so column order and extra columns in
// the input do not matter. Rows that fail validation are reported on errOut
// with their 1-based data row number and left out of the output.
func runBatch(in io.Reader, out io.Writer, errOut io.Writer, schema *ml.Schema, svc *pipeline.Service) (batchStats, error) {
	var stats batchStats
	reader := csv.NewReader(in)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return stats, fmt.Errorf("read header: %w", err)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.TrimSpace(name)] = i
	}
	for _, name := range schema.Names() {
		if _, ok := columns[name]; !ok {
			return stats, fmt.Errorf("input has no %s column", name)
		}
	}

	writer := csv.NewWriter(out)
	defer writer.Flush()
	if err := writer.Write(append(schema.Names(), ml.LabelField, "confidence")); err != nil {
		return stats, err
	}

	for row := 1; ; row++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if !errors.As(err, &parseErr) {
				return stats, fmt.Errorf("read row %d: %w", row, err)
			}
			fmt.Fprintf(errOut, "row %d: %v\n", row, err)
			stats.Skipped++
			continue
		}

		raw := make(ml.RawInput, schema.Len())
		for _, name := range schema.Names() {
			if idx := columns[name]; idx < len(record) {
				raw[name] = record[idx]
			}
		}
		outcome, err := svc.Predict(pipeline.Normalize(schema, raw))
		if err != nil {
			fmt.Fprintf(errOut, "row %d: %v\n", row, err)
			stats.Skipped++
			continue
		}
		if outcome.Warning != nil {
			fmt.Fprintf(errOut, "row %d: logged with warning: %v\n", row, outcome.Warning)
			stats.Warnings++
		}

		line := make([]string, 0, schema.Len()+2)
		for _, v := range outcome.Entry.Input.Values() {
			if v.Kind == ml.Numeric {
				line = append(line, pipeline.FormatFloat(v.Number))
			} else {
				line = append(line, v.Token)
			}
		}
		line = append(line, outcome.Result.Species, pipeline.FormatFloat(outcome.Result.Confidence))
		if err := writer.Write(line); err != nil {
			return stats, err
		}
		stats.Scored++
	}
	writer.Flush()
	return stats, writer.Error()
}
