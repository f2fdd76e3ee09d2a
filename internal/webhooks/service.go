package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MetricsRecorder is an optional callback for recording delivery outcomes.
type MetricsRecorder func(d Delivery)

// Notifier posts signed ledger events to the configured subscriptions.
type Notifier struct {
	subs       []Subscription
	httpClient *http.Client
	delays     []time.Duration
	onMetrics  MetricsRecorder
	logger     *zap.Logger
	wg         sync.WaitGroup
}

// NewNotifier returns nil when there are no subscriptions; a nil Notifier
// drops every event.
func NewNotifier(subs []Subscription, logger *zap.Logger) *Notifier {
	if len(subs) == 0 {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		subs:       subs,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		// Backoff before attempts 2 and 3.
		delays: []time.Duration{1 * time.Second, 5 * time.Second},
		logger: logger,
	}
}

// SetMetricsRecorder configures the metrics callback.
func (n *Notifier) SetMetricsRecorder(fn MetricsRecorder) {
	if n != nil {
		n.onMetrics = fn
	}
}

// SetRetryDelays overrides the backoff between attempts.
func (n *Notifier) SetRetryDelays(d ...time.Duration) {
	if n != nil {
		n.delays = d
	}
}

// Dispatch fans the event out to every matching subscription. Deliveries
// run in the background; use Wait to block until they finish.
func (n *Notifier) Dispatch(ctx context.Context, eventType string, payload map[string]string) {
	if n == nil {
		return
	}
	event := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
	body, err := json.Marshal(event)
	if err != nil {
		n.logger.Error("webhook: marshal event", zap.Error(err))
		return
	}

	// Deliveries outlive the caller's deadline.
	ctx = context.WithoutCancel(ctx)
	for _, sub := range n.subs {
		if !sub.wants(eventType) {
			continue
		}
		n.wg.Add(1)
		go func(sub Subscription) {
			defer n.wg.Done()
			n.deliver(ctx, sub, eventType, body)
		}(sub)
	}
}

// Wait blocks until in-flight deliveries finish.
func (n *Notifier) Wait() {
	if n != nil {
		n.wg.Wait()
	}
}

func (n *Notifier) deliver(ctx context.Context, sub Subscription, eventType string, body []byte) {
	signature := ""
	if sub.Secret != "" {
		signature = Sign(body, sub.Secret)
	}

	attempts := len(n.delays) + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(n.delays[attempt-2]):
			case <-ctx.Done():
				return
			}
		}

		d := n.doDelivery(ctx, sub.URL, body, signature)
		d.EventType = eventType
		d.Attempt = attempt
		if n.onMetrics != nil {
			n.onMetrics(d)
		}
		if d.Success {
			return
		}

		n.logger.Warn("webhook: delivery failed",
			zap.String("url", sub.URL),
			zap.String("event", eventType),
			zap.Int("attempt", attempt),
			zap.String("error", d.Error),
		)
	}
}

func (n *Notifier) doDelivery(ctx context.Context, url string, body []byte, signature string) Delivery {
	d := Delivery{URL: url}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		d.Error = err.Error()
		return d
	}
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		d.Error = err.Error()
		return d
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024)) //nolint:errcheck

	d.StatusCode = resp.StatusCode
	d.Success = resp.StatusCode >= 200 && resp.StatusCode < 300
	if !d.Success {
		d.Error = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return d
}

// Sign computes the value of SignatureHeader for body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches body under secret.
func Verify(body []byte, secret, signature string) bool {
	return hmac.Equal([]byte(Sign(body, secret)), []byte(signature))
}
