package webhooks

import "time"

// Event types dispatched by the ledger.
const (
	EventIntegrityViolation = "ledger.integrity_violation"
	EventAuditFailed        = "ledger.audit_failed"
	EventAuditRecovered     = "ledger.audit_recovered"
)

// SignatureHeader carries the HMAC-SHA256 of the request body.
const SignatureHeader = "X-Hashledger-Signature"

// Subscription is one configured receiver. An empty Events list receives
// every event.
type Subscription struct {
	URL    string   `mapstructure:"url"    json:"url"`
	Events []string `mapstructure:"events" json:"events"`
	Secret string   `mapstructure:"secret" json:"-"`
}

func (s Subscription) wants(eventType string) bool {
	if len(s.Events) == 0 {
		return true
	}
	for _, e := range s.Events {
		if e == eventType {
			return true
		}
	}
	return false
}

// Event is the JSON body posted to subscribers.
type Event struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   map[string]string `json:"payload"`
}

// Delivery records the outcome of a single delivery attempt.
type Delivery struct {
	URL        string
	EventType  string
	StatusCode int
	Attempt    int
	Success    bool
	Error      string
}
