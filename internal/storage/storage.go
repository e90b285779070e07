// Package storage implements the gateway's persistence consumer: a
// single-threaded worker that drains readings from a buffer and writes
// them to a SQLite-backed table, with a bounded local retry queue that
// absorbs transient database outages.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dantte-lp/sensorgw/internal/buffer"
	"github.com/dantte-lp/sensorgw/internal/gwmetrics"
	"github.com/dantte-lp/sensorgw/internal/logging"
	"github.com/dantte-lp/sensorgw/internal/sensordata"
)

// Config holds the tunables the original storage manager exposed as
// compile-time macros.
type Config struct {
	DSN                  string
	TableName            string
	ConnectRetryAttempts int
	ConnectRetryDelay    time.Duration
	RetryQueueCapacity   int
}

// ErrExhaustedRetries is returned by Run once the configured number of
// (re)connect attempts has been exhausted. The caller is expected to
// treat this as fatal to the whole gateway, matching the reference
// implementation's SIGTERM-to-parent behavior.
var ErrExhaustedRetries = errors.New("storage: exhausted database connect retries")

// Shutdown is called once Run decides the entire gateway must stop
// (database unreachable after all retries). Typically this is the
// orchestrator's context-cancel function.
type Shutdown func()

// Store is the persistence consumer.
type Store struct {
	cfg      Config
	source   *buffer.Buffer[sensordata.Reading]
	logger   *logging.Logger
	metrics  *gwmetrics.Collector
	shutdown Shutdown

	db    *sql.DB
	retry []sensordata.Reading
}

// New constructs a Store. shutdown is invoked at most once, only if the
// database becomes permanently unreachable. metrics may be nil.
func New(cfg Config, source *buffer.Buffer[sensordata.Reading], logger *logging.Logger, metrics *gwmetrics.Collector, shutdown Shutdown) *Store {
	if cfg.RetryQueueCapacity <= 0 {
		cfg.RetryQueueCapacity = 20
	}
	return &Store{cfg: cfg, source: source, logger: logger, metrics: metrics, shutdown: shutdown}
}

// Run connects to the database, creates the table if absent, and drains
// the source buffer until ctx is cancelled or the source signals
// shutdown. It returns ErrExhaustedRetries if the database could not be
// (re)established within the configured retry budget.
func (s *Store) Run(ctx context.Context) error {
	s.logger.Log(logging.Info, "storage manager thread started.")
	defer s.logger.Log(logging.Info, "storage manager finished cleanup.")

	if err := s.connect(ctx, "connect"); err != nil {
		return err
	}
	defer s.close()

	// A blocked Remove does not observe ctx, so cancellation shuts the
	// source buffer down to wake it.
	runDone := make(chan struct{})
	defer close(runDone)
	go func() {
		select {
		case <-ctx.Done():
			s.source.SignalShutdown()
		case <-runDone:
		}
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}

		if s.db == nil {
			s.logger.Log(logging.Info, "database connection lost previously. attempting to reconnect...")
			if err := s.connect(ctx, "reconnect"); err != nil {
				return err
			}
		}

		fromRetry := false
		var reading sensordata.Reading

		if len(s.retry) > 0 {
			reading = s.retry[0]
			fromRetry = true
		} else {
			r, err := s.source.Remove()
			if err != nil {
				if errors.Is(err, buffer.ErrShutdown) {
					s.logger.Log(logging.Info, "storage manager received shutdown signal from buffer. exiting loop.")
					return nil
				}
				s.logger.Log(logging.Error, "storage manager failed to remove data from buffer: %v", err)
				if !s.interruptibleSleep(ctx, time.Second) {
					return nil
				}
				continue
			}
			reading = r
		}

		if err := s.insert(ctx, reading); err != nil {
			s.logger.Log(logging.Error, "failed to insert sensor %d reading into database: %v", reading.SensorID, err)
			s.logger.Log(logging.Warning, "assuming database connection lost due to insert error.")
			s.close()

			if !fromRetry {
				s.enqueueRetry(reading)
			} else {
				s.logger.Log(logging.Warning, "retry insert failed for sensor ID %d. item remains in queue.", reading.SensorID)
			}
			continue
		}

		if fromRetry {
			s.retry = s.retry[1:]
			s.logger.Log(logging.Debug, "dequeued sensor ID %d from retry queue.", reading.SensorID)
			s.metrics.SetRetryQueueDepth(len(s.retry))
		}
	}
}

func (s *Store) enqueueRetry(r sensordata.Reading) {
	if len(s.retry) >= s.cfg.RetryQueueCapacity {
		dropped := s.retry[0]
		s.retry = s.retry[1:]
		s.logger.Log(logging.Warning, "retry queue full (capacity %d). dropping oldest item (sensor %d) to make space.",
			s.cfg.RetryQueueCapacity, dropped.SensorID)
	}
	s.retry = append(s.retry, r)
	s.metrics.SetRetryQueueDepth(len(s.retry))
	s.logger.Log(logging.Debug, "enqueued sensor ID %d to retry queue (count: %d)", r.SensorID, len(s.retry))
}

// connect attempts to open and ping the database up to
// ConnectRetryAttempts times, sleeping ConnectRetryDelay (interruptibly)
// between attempts. On exhaustion it invokes Shutdown and returns
// ErrExhaustedRetries.
func (s *Store) connect(ctx context.Context, verb string) error {
	for attempt := 1; attempt <= s.cfg.ConnectRetryAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil
		}

		if ok := s.tryConnect(ctx); ok {
			s.logger.Log(logging.Info, "connection to SQL server %s established.", s.cfg.DSN)
			return nil
		}

		s.logger.Log(logging.Warning, "failed to %s to SQL server (attempt %d/%d). retrying in %s...",
			verb, attempt, s.cfg.ConnectRetryAttempts, s.cfg.ConnectRetryDelay)

		if attempt < s.cfg.ConnectRetryAttempts {
			if !s.interruptibleSleep(ctx, s.cfg.ConnectRetryDelay) {
				return nil
			}
		}
	}

	s.logger.Log(logging.Fatal, "unable to %s to SQL server %s after %d attempts. signaling gateway to exit.",
		verb, s.cfg.DSN, s.cfg.ConnectRetryAttempts)

	if s.shutdown != nil {
		s.shutdown()
	}
	return fmt.Errorf("%s to %s: %w", verb, s.cfg.DSN, ErrExhaustedRetries)
}

// tryConnect attempts a single open+ping+ensure-table cycle. On any
// failure it cleans up and returns false; on success it installs s.db.
func (s *Store) tryConnect(ctx context.Context) bool {
	db, err := sql.Open("sqlite", s.cfg.DSN)
	if err != nil {
		return false
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return false
	}

	if err := s.ensureTable(ctx, db); err != nil {
		_ = db.Close()
		return false
	}

	s.db = db
	s.metrics.SetDatabaseConnected(true)
	return true
}

func (s *Store) ensureTable(ctx context.Context, db *sql.DB) error {
	stmt := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (
			RecordID INTEGER PRIMARY KEY AUTOINCREMENT,
			SensorID INTEGER NOT NULL,
			Timestamp INTEGER NOT NULL,
			Value REAL NOT NULL
		)`, s.cfg.TableName)

	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create table %s: %w", s.cfg.TableName, err)
	}
	return nil
}

func (s *Store) insert(ctx context.Context, r sensordata.Reading) error {
	stmt := fmt.Sprintf(`INSERT INTO %s (SensorID, Timestamp, Value) VALUES (?, ?, ?)`, s.cfg.TableName)
	_, err := s.db.ExecContext(ctx, stmt, r.SensorID, r.Ts.Unix(), r.Value)
	if err != nil {
		return fmt.Errorf("insert sensor %d: %w", r.SensorID, err)
	}
	return nil
}

func (s *Store) close() {
	if s.db != nil {
		_ = s.db.Close()
		s.db = nil
		s.metrics.SetDatabaseConnected(false)
	}
}

// interruptibleSleep sleeps for d or until ctx is cancelled, whichever
// comes first. It returns false if ctx was cancelled first.
func (s *Store) interruptibleSleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
