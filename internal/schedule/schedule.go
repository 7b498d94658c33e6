package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

// Job defines a periodic task.
// Schedule supports only the form "@every <duration>" (e.g., "@every 1h").
// Non-overlap: if the previous run of the same job is still running, the tick
// is skipped unless AllowOverlap is set.
//
// Name must be unique across jobs inside the same Scheduler.
type Job struct {
	Name         string
	Schedule     string
	AllowOverlap bool // permit a new run while the previous one is still active
	Run          func(ctx context.Context) error

	// internal (guarded via atomic)
	running atomic.Bool
}

// parseEvery parses schedules of the form "@every <duration>".
func parseEvery(expr string) (time.Duration, error) {
	expr = strings.TrimSpace(expr)
	if !strings.HasPrefix(expr, "@every ") {
		return 0, fmt.Errorf("unsupported schedule: %s (only @every <duration> supported)", expr)
	}
	durStr := strings.TrimSpace(strings.TrimPrefix(expr, "@every "))
	d, err := time.ParseDuration(durStr)
	if err != nil {
		return 0, fmt.Errorf("invalid @every duration: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("@every duration must be > 0")
	}
	return d, nil
}

func (j *Job) validate() error {
	if j.Name == "" {
		return errors.New("scheduled job requires a name")
	}
	if j.Schedule == "" {
		return errors.New("scheduled job requires a schedule")
	}
	if j.Run == nil {
		return errors.New("scheduled job requires a run function")
	}
	return nil
}

// Scheduler drives the periodic analysis jobs. Use Start to launch the
// background tickers, and Stop to cancel them.
type Scheduler struct {
	logger *slog.Logger
	jobs   []*Job
	quit   chan struct{}
}

func NewScheduler(logger *slog.Logger) *Scheduler {
	return &Scheduler{logger: logger}
}

func (s *Scheduler) Add(job *Job) error {
	if err := job.validate(); err != nil {
		return err
	}
	if _, err := parseEvery(job.Schedule); err != nil {
		return fmt.Errorf("job %s: %w", job.Name, err)
	}
	for _, j := range s.jobs {
		if j.Name == job.Name {
			return fmt.Errorf("job %s already registered", job.Name)
		}
	}
	s.jobs = append(s.jobs, job)
	return nil
}

// Start launches all job loops. The context cancels every running job; Stop
// halts the tickers.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.quit != nil {
		return errors.New("scheduler already started")
	}
	s.quit = make(chan struct{})
	for _, j := range s.jobs {
		d, _ := parseEvery(j.Schedule)
		go s.runJob(ctx, j, d)
	}
	return nil
}

func (s *Scheduler) runJob(ctx context.Context, j *Job, period time.Duration) {
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.quit:
			return
		case <-t.C:
			if j.AllowOverlap {
				j.running.Store(true)
			} else if !j.running.CompareAndSwap(false, true) {
				// previous run still active, skip this tick
				s.logger.Debug("skipping overlapping run", "job", j.Name)
				continue
			}
			// run off the ticker goroutine so a slow job cannot delay shutdown
			go func(j *Job) {
				defer j.running.Store(false)
				if err := j.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					s.logger.Error("scheduled job failed", "job", j.Name, "error", err)
				}
			}(j)
		}
	}
}

// Stop cancels all job loops.
func (s *Scheduler) Stop() {
	if s.quit == nil {
		return
	}
	select {
	case <-s.quit:
	default:
		close(s.quit)
	}
}
