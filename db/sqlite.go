package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"florapredict/ml"
	"florapredict/pipeline"
)

// Store keeps the prediction log and the training log in SQLite.
type Store struct {
	db     *sql.DB
	schema *ml.Schema
}

// NewStore opens (or creates) the database at path. ":memory:" is accepted
// for tests.
func NewStore(path string, schema *ml.Schema) (*Store, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}
	dsn := path
	if path != ":memory:" {
		dsn += "?_journal_mode=WAL&_busy_timeout=5000"
	}
	database, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database failed: %w", err)
	}
	if path == ":memory:" {
		database.SetMaxOpenConns(1)
	}

	s := &Store{db: database, schema: schema}
	if err := s.createTables(); err != nil {
		database.Close()
		return nil, fmt.Errorf("create tables failed: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) createTables() error {
	columns := make([]string, 0, s.schema.Len())
	for _, f := range s.schema.Fields() {
		kind := "TEXT"
		if f.Kind == ml.Numeric {
			kind = "REAL"
		}
		columns = append(columns, fmt.Sprintf("        %s %s NOT NULL,", f.Name, kind))
	}

	query := `
    CREATE TABLE IF NOT EXISTS predictions (
        seq INTEGER PRIMARY KEY AUTOINCREMENT,
        id TEXT NOT NULL UNIQUE,
        timestamp TEXT NOT NULL,
` + strings.Join(columns, "\n") + `
        species TEXT NOT NULL,
        confidence REAL NOT NULL,
        fingerprint TEXT
    );
    CREATE TABLE IF NOT EXISTS training_log (
        id INTEGER PRIMARY KEY,
        model_name VARCHAR(50),
        fingerprint TEXT,
        accuracy REAL,
        trained_at DATETIME,
        data_points INTEGER,
        class_count INTEGER
    );
    `
	_, err := s.db.Exec(query)
	return err
}

// Append inserts one prediction in a single statement, so a record is
// either fully stored or absent.
func (s *Store) Append(entry pipeline.LogEntry) error {
	names := s.schema.Names()
	cols := append([]string{"id", "timestamp"}, names...)
	cols = append(cols, "species", "confidence", "fingerprint")

	args := make([]interface{}, 0, len(cols))
	args = append(args, entry.ID, entry.Timestamp.UTC().Format(time.RFC3339Nano))
	for _, name := range names {
		v, ok := entry.Input.Get(name)
		if !ok {
			return fmt.Errorf("entry has no value for %s", name)
		}
		if v.Kind == ml.Numeric {
			args = append(args, v.Number)
		} else {
			args = append(args, v.Token)
		}
	}
	args = append(args, entry.Species, entry.Confidence, entry.Fingerprint)

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	_, err := s.db.Exec(
		fmt.Sprintf("INSERT INTO predictions (%s) VALUES (%s)", strings.Join(cols, ", "), placeholders),
		args...,
	)
	if err != nil {
		return fmt.Errorf("insert prediction: %w", err)
	}
	return nil
}

type PredictionRecord struct {
	ID          string                 `json:"id"`
	Timestamp   time.Time              `json:"timestamp"`
	Input       map[string]interface{} `json:"input"`
	Species     string                 `json:"species"`
	Confidence  float64                `json:"confidence"`
	Fingerprint string                 `json:"fingerprint,omitempty"`
}

func (s *Store) CountPredictions() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM predictions`).Scan(&n)
	return n, err
}

// RecentPredictions returns up to limit entries, newest first.
func (s *Store) RecentPredictions(limit int) ([]PredictionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	fields := s.schema.Fields()
	names := s.schema.Names()
	rows, err := s.db.Query(fmt.Sprintf(`
        SELECT id, timestamp, %s, species, confidence, fingerprint
        FROM predictions
        ORDER BY seq DESC
        LIMIT ?`, strings.Join(names, ", ")), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]PredictionRecord, 0)
	for rows.Next() {
		var (
			rec         PredictionRecord
			ts          string
			fingerprint sql.NullString
		)
		tokens := make([]sql.NullString, len(fields))
		numbers := make([]sql.NullFloat64, len(fields))
		dest := []interface{}{&rec.ID, &ts}
		for i, f := range fields {
			if f.Kind == ml.Numeric {
				dest = append(dest, &numbers[i])
			} else {
				dest = append(dest, &tokens[i])
			}
		}
		dest = append(dest, &rec.Species, &rec.Confidence, &fingerprint)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}

		rec.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("prediction %s: %w", rec.ID, err)
		}
		rec.Input = make(map[string]interface{}, len(fields))
		for i, f := range fields {
			if f.Kind == ml.Numeric {
				rec.Input[f.Name] = numbers[i].Float64
			} else {
				rec.Input[f.Name] = tokens[i].String
			}
		}
		rec.Fingerprint = fingerprint.String
		records = append(records, rec)
	}
	return records, rows.Err()
}

type TrainingLog struct {
	ModelName   string    `json:"model_name"`
	Fingerprint string    `json:"fingerprint"`
	Accuracy    float64   `json:"accuracy"`
	TrainedAt   time.Time `json:"trained_at"`
	DataPoints  int       `json:"data_points"`
	ClassCount  int       `json:"class_count"`
}

func (s *Store) SaveTrainingLog(log TrainingLog) error {
	_, err := s.db.Exec(`
        INSERT INTO training_log (model_name, fingerprint, accuracy, trained_at, data_points, class_count)
        VALUES (?, ?, ?, ?, ?, ?)`,
		log.ModelName, log.Fingerprint, log.Accuracy, log.TrainedAt.UTC(), log.DataPoints, log.ClassCount)
	return err
}

func (s *Store) LoadTrainingLog() ([]TrainingLog, error) {
	rows, err := s.db.Query(`
        SELECT model_name, fingerprint, accuracy, trained_at, data_points, class_count
        FROM training_log
        ORDER BY trained_at DESC
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]TrainingLog, 0)
	for rows.Next() {
		var log TrainingLog
		if err := rows.Scan(&log.ModelName, &log.Fingerprint, &log.Accuracy, &log.TrainedAt, &log.DataPoints, &log.ClassCount); err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}
