package pipeline

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"florapredict/ml"
)

// LogEntry is one successful inference as written to the prediction log.
type LogEntry struct {
	ID          string
	Timestamp   time.Time
	Input       ml.ValidatedInput
	Species     string
	Confidence  float64
	Fingerprint string
}

// Sink appends log entries. Each Append is all-or-nothing.
type Sink interface {
	Append(entry LogEntry) error
}

// Reporter renders one entry into a document and returns where it went.
type Reporter interface {
	Report(entry LogEntry) (string, error)
}

// Observer receives inference outcomes, e.g. for metrics.
type Observer interface {
	ObserveInference(species string, elapsed time.Duration, err error)
	ObserveWarning(stage string)
}

// Outcome carries the prediction and any secondary failures. Warning never
// invalidates Result.
type Outcome struct {
	Result     Result
	Entry      LogEntry
	ReportPath string
	Warning    error
}

// Service is the logging caller shared by every entry point: it runs the
// pipeline, then hands the result to the sinks and the reporter.
type Service struct {
	holder   *Holder
	logger   *zap.Logger
	sinks    []Sink
	reporter Reporter
	observer Observer
	cache    *ResultCache
	now      func() time.Time
}

type Option func(*Service)

func WithSink(sink Sink) Option {
	return func(s *Service) {
		if sink != nil {
			s.sinks = append(s.sinks, sink)
		}
	}
}

func WithReporter(r Reporter) Option {
	return func(s *Service) { s.reporter = r }
}

func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

// WithCache memoizes results per artifact fingerprint. Cached predictions
// are still logged.
func WithCache(c *ResultCache) Option {
	return func(s *Service) { s.cache = c }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(holder *Holder, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{holder: holder, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Pipeline() *Pipeline { return s.holder.Current() }

// Predict validates raw, checks numeric ranges, infers, and logs the
// result. Only validation and inference failures are returned as errors.
func (s *Service) Predict(raw ml.RawInput) (Outcome, error) {
	start := s.now()
	p := s.holder.Current()
	if p == nil {
		s.observe("", start, ErrNotReady)
		return Outcome{}, ErrNotReady
	}

	in, err := p.Schema().Validate(raw)
	if err == nil {
		err = p.Schema().CheckRanges(in)
	}
	if err != nil {
		s.observe("", start, err)
		return Outcome{}, err
	}

	result, err := s.infer(p, in)
	s.observe(result.Species, start, err)
	if err != nil {
		s.logger.Error("inference failed", zap.String("input", in.Key()), zap.Error(err))
		return Outcome{}, err
	}

	entry := LogEntry{
		ID:          uuid.NewString(),
		Timestamp:   s.now(),
		Input:       in,
		Species:     result.Species,
		Confidence:  result.Confidence,
		Fingerprint: p.Fingerprint(),
	}
	out := Outcome{Result: result, Entry: entry}

	for _, sink := range s.sinks {
		if err := sink.Append(entry); err != nil {
			s.warn("sink", entry, err)
			out.Warning = multierr.Append(out.Warning, err)
		}
	}
	if s.reporter != nil {
		path, err := s.reporter.Report(entry)
		if err != nil {
			s.warn("report", entry, err)
			out.Warning = multierr.Append(out.Warning, err)
		} else {
			out.ReportPath = path
		}
	}

	s.logger.Debug("prediction",
		zap.String("id", entry.ID),
		zap.String("input", in.Key()),
		zap.String("species", result.Species),
		zap.Float64("confidence", result.Confidence),
	)
	return out, nil
}

func (s *Service) infer(p *Pipeline, in ml.ValidatedInput) (Result, error) {
	if s.cache == nil {
		return p.InferValidated(in)
	}
	if result, ok := s.cache.Get(p.Fingerprint(), in); ok {
		return result, nil
	}
	result, err := p.InferValidated(in)
	if err == nil {
		s.cache.Add(p.Fingerprint(), in, result)
	}
	return result, err
}

func (s *Service) observe(species string, start time.Time, err error) {
	if s.observer != nil {
		s.observer.ObserveInference(species, s.now().Sub(start), err)
	}
}

func (s *Service) warn(stage string, entry LogEntry, err error) {
	s.logger.Warn(stage+" failed after successful prediction",
		zap.String("id", entry.ID),
		zap.String("species", entry.Species),
		zap.Error(err),
	)
	if s.observer != nil {
		s.observer.ObserveWarning(stage)
	}
}
