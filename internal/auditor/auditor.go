// Package auditor periodically re-verifies the stored chain and keeps the
// most recent finding for the API to report.
package auditor

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jmerrifield20/hashledger/internal/ledger"
	"github.com/jmerrifield20/hashledger/internal/verifier"
	"github.com/jmerrifield20/hashledger/internal/webhooks"
)

// Config holds audit configuration.
type Config struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Reader is the part of ledger.Store the auditor needs.
type Reader interface {
	ReadAll(ctx context.Context) ([]*ledger.Entry, error)
	Hasher() ledger.Hasher
}

// MetricsRecordFunc is an optional callback invoked after every run.
type MetricsRecordFunc func(res verifier.Result, length int)

// Alerter receives state changes; *webhooks.Notifier implements it.
type Alerter interface {
	Dispatch(ctx context.Context, eventType string, payload map[string]string)
}

// Report is the outcome of the latest audit run.
type Report struct {
	verifier.Result
	Root      string    `json:"root,omitempty"`
	Length    int       `json:"length"`
	CheckedAt time.Time `json:"checkedAt"`
	Error     string    `json:"error,omitempty"`
}

// Auditor runs periodic chain verification.
type Auditor struct {
	reader    Reader
	cfg       Config
	onMetrics MetricsRecordFunc
	alerter   Alerter
	logger    *zap.Logger

	mu   sync.RWMutex
	last *Report
}

// New creates an Auditor.
func New(reader Reader, cfg Config, logger *zap.Logger) *Auditor {
	if cfg.Interval == 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Auditor{reader: reader, cfg: cfg, logger: logger}
}

// SetMetricsRecord configures the metrics recording callback.
func (a *Auditor) SetMetricsRecord(fn MetricsRecordFunc) {
	a.onMetrics = fn
}

// SetAlerter configures where state changes are sent.
func (a *Auditor) SetAlerter(al Alerter) {
	a.alerter = al
}

// Start runs the audit loop until ctx is cancelled.
func (a *Auditor) Start(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
			a.RunOnce(runCtx)
			cancel()
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce reads the whole chain, verifies it and records the report.
func (a *Auditor) RunOnce(ctx context.Context) *Report {
	report := &Report{CheckedAt: time.Now().UTC()}

	entries, err := a.reader.ReadAll(ctx)
	if err != nil {
		a.logger.Error("audit: read ledger", zap.Error(err))
		report.Error = err.Error()
		a.alert(ctx, a.store(report), report)
		return report
	}

	report.Result = verifier.Verify(entries, verifier.WithHasher(a.reader.Hasher()))
	report.Length = len(entries)
	if n := len(entries); n > 0 {
		report.Root = entries[n-1].Hash
	}

	if a.onMetrics != nil {
		a.onMetrics(report.Result, report.Length)
	}

	if report.Verified {
		a.logger.Debug("audit: ledger verified",
			zap.Int("entries", report.Length),
			zap.String("root", report.Root),
		)
	} else {
		a.logger.Error("audit: LEDGER INTEGRITY VIOLATION",
			zap.Int64("failed_at_index", *report.FailedAtIndex),
			zap.String("reason", string(report.Reason)),
			zap.Int("entries", report.Length),
		)
	}

	a.alert(ctx, a.store(report), report)
	return report
}

func (r *Report) healthy() bool { return r.Error == "" && r.Verified }

// alert dispatches only when the audit outcome changes, so a broken chain
// produces one violation event rather than one per tick.
func (a *Auditor) alert(ctx context.Context, prev, cur *Report) {
	if a.alerter == nil {
		return
	}
	payload := map[string]string{
		"entries":    strconv.Itoa(cur.Length),
		"checked_at": cur.CheckedAt.Format(time.RFC3339),
	}
	switch {
	case cur.Error != "":
		if prev != nil && prev.Error != "" {
			return
		}
		payload["error"] = cur.Error
		a.alerter.Dispatch(ctx, webhooks.EventAuditFailed, payload)
	case !cur.Verified:
		if prev != nil && prev.Error == "" && !prev.Verified && *prev.FailedAtIndex == *cur.FailedAtIndex {
			return
		}
		payload["failed_at_index"] = strconv.FormatInt(*cur.FailedAtIndex, 10)
		payload["reason"] = string(cur.Reason)
		a.alerter.Dispatch(ctx, webhooks.EventIntegrityViolation, payload)
	case prev != nil && !prev.healthy():
		payload["root"] = cur.Root
		a.alerter.Dispatch(ctx, webhooks.EventAuditRecovered, payload)
	}
}

// Last returns the most recent report, or nil before the first run.
func (a *Auditor) Last() *Report {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.last == nil {
		return nil
	}
	r := *a.last
	return &r
}

// store records r and returns the report it replaced.
func (a *Auditor) store(r *Report) *Report {
	a.mu.Lock()
	prev := a.last
	a.last = r
	a.mu.Unlock()
	return prev
}
