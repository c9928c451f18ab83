// Package scheduler runs recurring jobs, such as the automation scan pass, on cron expressions.
package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"whatsapp-automation/internal/logging"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
	log  *logrus.Entry
}

// New creates and starts a scheduler using the standard 5-field parser.
// Panicking jobs are recovered and overlapping runs of the same job are skipped.
func New() *Scheduler {
	log := logging.Component("scheduler")
	logger := cronLogger{log}
	c := cron.New(
		cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor)),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		cron.WithLogger(logger),
	)
	c.Start()
	return &Scheduler{cron: c, log: log}
}

// AddJob schedules task under expr. It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// ScanFunc is one scan pass; Scanner.Scan satisfies it through a closure
type ScanFunc func(ctx context.Context) error

// AddScan schedules fn with a per-run timeout derived from ctx
func (s *Scheduler) AddScan(ctx context.Context, expr string, timeout time.Duration, fn ScanFunc) error {
	var runs atomic.Int64
	return s.AddJob(expr, func() {
		if ctx.Err() != nil {
			return
		}
		runCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		n := runs.Add(1)
		start := time.Now()
		if err := fn(runCtx); err != nil {
			s.log.WithError(err).WithField("run", n).Error("Scheduled scan failed")
			logging.CaptureError(err, map[string]string{"job": "scan"})
			return
		}
		s.log.WithFields(logrus.Fields{"run": n, "took": time.Since(start).String()}).Debug("Scheduled scan finished")
	})
}

// Entries reports how many jobs are scheduled
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// cronLogger adapts logrus to cron.Logger
type cronLogger struct {
	entry *logrus.Entry
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(fields(keysAndValues)).WithError(err).Error(msg)
}

func fields(kv []interface{}) logrus.Fields {
	f := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			f[k] = kv[i+1]
		}
	}
	return f
}
