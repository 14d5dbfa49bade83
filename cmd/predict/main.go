// Command predict asks for one set of site conditions on the terminal and
// prints the recommended species.
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"florapredict/config"
	"florapredict/logger"
	"florapredict/ml"
	"florapredict/pipeline"
	"florapredict/report"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to config.yaml")
	modelPath := flag.String("model", "", "model artifact (overrides config)")
	encodersPath := flag.String("encoders", "", "encoder artifact (overrides config)")
	logPath := flag.String("log", "", "prediction CSV log (overrides config)")
	writeReport := flag.Bool("report", false, "write a report file for the prediction")
	reportFormat := flag.String("report_format", "pdf", "report format: pdf or text")
	reportDir := flag.String("report_dir", "", "report output directory (overrides config)")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	override(&cfg.Artifacts.ModelPath, *modelPath)
	override(&cfg.Artifacts.EncodersPath, *encodersPath)
	override(&cfg.PredictionLog.CSVPath, *logPath)
	override(&cfg.Report.Dir, *reportDir)

	log := logger.Must(cfg.Log)
	defer log.Sync()

	schema := ml.PlantSchema()
	p, err := pipeline.Load(schema, cfg.Artifacts.ModelType, cfg.Artifacts.ModelPath, cfg.Artifacts.EncodersPath)
	if err != nil {
		log.Error("failed to load artifacts", zap.Error(err))
		fmt.Fprintf(os.Stderr, "cannot load model: %v\nrun train_model first\n", err)
		os.Exit(1)
	}

	opts := []pipeline.Option{}
	if cfg.PredictionLog.CSVPath != "" {
		opts = append(opts, pipeline.WithSink(pipeline.NewCSVSink(cfg.PredictionLog.CSVPath, schema)))
	}
	if *writeReport {
		renderer, err := rendererFor(*reportFormat)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		opts = append(opts, pipeline.WithReporter(report.NewFileReporter(cfg.Report.Dir, renderer)))
	}
	svc := pipeline.NewService(pipeline.NewHolder(p), log, opts...)

	if err := runSession(os.Stdin, os.Stdout, schema, svc); err != nil {
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(os.Stdout, "\ninput closed, no prediction made")
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "prediction failed: %v\n", err)
		os.Exit(1)
	}
}

func rendererFor(format string) (report.Renderer, error) {
	switch strings.ToLower(format) {
	case "pdf":
		return report.PDFRenderer{}, nil
	case "text", "txt":
		return report.TextRenderer{}, nil
	default:
		return nil, fmt.Errorf("unknown report format %q", format)
	}
}

func override(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

// runSession prompts for every field in schema order, asking again for a
// single field until it validates, then predicts once.
func runSession(in io.Reader, out io.Writer, schema *ml.Schema, svc *pipeline.Service) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprintf(out, "\nFloraPredictAI — Plant Survival Prediction\n\n")

	raw := make(ml.RawInput, schema.Len())
	for _, f := range schema.Fields() {
		for {
			fmt.Fprint(out, promptFor(f))
			if !scanner.Scan() {
				if err := scanner.Err(); err != nil {
					return err
				}
				return io.EOF
			}
			value := pipeline.Normalize(schema, ml.RawInput{f.Name: scanner.Text()})[f.Name]
			if _, err := schema.ValidateField(f.Name, value); err != nil {
				fmt.Fprintf(out, "  invalid input: %v\n", err)
				continue
			}
			raw[f.Name] = value
			break
		}
	}

	outcome, err := svc.Predict(raw)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "\nRecommended Plant Species: %s\n", outcome.Result.Species)
	fmt.Fprintf(out, "Confidence: %s%%\n", pipeline.FormatFloat(outcome.Result.Confidence))
	if outcome.ReportPath != "" {
		fmt.Fprintf(out, "Report saved to %s\n", outcome.ReportPath)
	}
	if outcome.Warning != nil {
		fmt.Fprintf(out, "warning: %v\n", outcome.Warning)
	}
	fmt.Fprintf(out, "\nPrediction complete!\n\n")
	return nil
}

func promptFor(f ml.Field) string {
	label := report.Label(f.Name)
	if f.Kind == ml.Categorical {
		return fmt.Sprintf("%s (%s): ", label, strings.Join(f.Values, " / "))
	}
	return fmt.Sprintf("%s [%g to %g]: ", label, f.Min, f.Max)
}
