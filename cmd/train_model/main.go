package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"florapredict/config"
	"florapredict/db"
	"florapredict/logger"
	"florapredict/ml"
)

type trainConfig struct {
	DatasetPath  string
	ModelPath    string
	EncodersPath string
	MaxDepth     int
	TestRatio    float64
	Seed         int64
}

type trainResult struct {
	Fingerprint string
	Accuracy    float64
	TrainRows   int
	TestRows    int
	ClassCount  int
	NodeCount   int
	TrainedAt   time.Time
}

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to config.yaml")
	dataset := flag.String("dataset", "data/dataset.csv", "training CSV")
	modelPath := flag.String("model_path", "", "model output path (overrides config)")
	encodersPath := flag.String("encoders_path", "", "encoder output path (overrides config)")
	maxDepth := flag.Int("max_depth", 0, "max tree depth, 0 grows until pure")
	testRatio := flag.Float64("test_ratio", 0.2, "test ratio")
	seed := flag.Int64("seed", time.Now().UnixNano(), "train/test split seed")
	dbPath := flag.String("db", "", "record the run in this SQLite training log")
	flag.Parse()

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
	result, err := train(schema, trainConfig{
		DatasetPath:  *dataset,
		ModelPath:    cfg.Artifacts.ModelPath,
		EncodersPath: cfg.Artifacts.EncodersPath,
		MaxDepth:     *maxDepth,
		TestRatio:    *testRatio,
		Seed:         *seed,
	})
	if err != nil {
		log.Fatal("failed to train model", zap.Error(err))
	}

	log.Info("model trained",
		zap.String("fingerprint", result.Fingerprint),
		zap.Float64("accuracy", result.Accuracy),
		zap.Int("train_rows", result.TrainRows),
		zap.Int("test_rows", result.TestRows),
		zap.Int("nodes", result.NodeCount),
	)

	if *dbPath != "" {
		if err := recordRun(*dbPath, schema, result); err != nil {
			log.Warn("failed to record training run", zap.Error(err))
		}
	}

	fmt.Printf("Model trained successfully!\n")
	fmt.Printf("Accuracy: %.2f %%\n", result.Accuracy*100)
	fmt.Printf("%s and %s saved (fingerprint %s)\n", cfg.Artifacts.ModelPath, cfg.Artifacts.EncodersPath, result.Fingerprint)
}

// train fits codecs and a tree on the dataset and writes both artifacts
// under one fresh fingerprint.
func train(schema *ml.Schema, cfg trainConfig) (trainResult, error) {
	f, err := os.Open(cfg.DatasetPath)
	if err != nil {
		return trainResult{}, err
	}
	defer f.Close()

	ds, err := ml.LoadDataset(schema, f)
	if err != nil {
		return trainResult{}, fmt.Errorf("load dataset: %w", err)
	}

	result := trainResult{Fingerprint: uuid.NewString(), TrainedAt: time.Now().UTC()}
	codecs, err := ml.FitCodecs(schema, ds, result.Fingerprint, result.TrainedAt)
	if err != nil {
		return trainResult{}, err
	}
	features, labels, err := ml.EncodeDataset(codecs, ds)
	if err != nil {
		return trainResult{}, err
	}
	trainX, trainY, testX, testY := ml.SplitDataset(features, labels, cfg.TestRatio, cfg.Seed)

	species, _ := codecs.Codec(ml.LabelField)
	model := ml.NewDecisionTree(cfg.MaxDepth)
	model.SetFeatureNames(schema.Names())
	model.SetFingerprint(result.Fingerprint)
	if err := model.Train(trainX, trainY, species.Len()); err != nil {
		return trainResult{}, err
	}

	for _, path := range []string{cfg.ModelPath, cfg.EncodersPath} {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return trainResult{}, err
		}
	}
	// encoders first: a watcher reloading between the two writes sees a
	// fingerprint mismatch and keeps the previous pair
	if err := codecs.Save(cfg.EncodersPath); err != nil {
		return trainResult{}, err
	}
	if err := model.Save(cfg.ModelPath); err != nil {
		return trainResult{}, err
	}

	result.Accuracy = ml.Accuracy(model, testX, testY)
	result.TrainRows = len(trainX)
	result.TestRows = len(testX)
	result.ClassCount = species.Len()
	result.NodeCount = model.NodeCount()
	return result, nil
}

func recordRun(path string, schema *ml.Schema, result trainResult) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	store, err := db.NewStore(path, schema)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.SaveTrainingLog(db.TrainingLog{
		ModelName:   ml.DecisionTreeType,
		Fingerprint: result.Fingerprint,
		Accuracy:    result.Accuracy,
		TrainedAt:   result.TrainedAt,
		DataPoints:  result.TrainRows + result.TestRows,
		ClassCount:  result.ClassCount,
	})
}
