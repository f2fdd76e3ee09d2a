// Package verifier checks the integrity of a hash-chained entry sequence.
//
// Verify is pure: it reads the slice it is given and nothing else, so the
// same function serves the server, the background auditor and offline
// verification of an exported file.
package verifier

import (
	"fmt"

	"github.com/jmerrifield20/hashledger/internal/ledger"
)

// Reason names the kind of integrity failure.
type Reason string

const (
	// ReasonHashMismatch means an entry's stored hash does not match the
	// digest recomputed from its fields.
	ReasonHashMismatch Reason = "hash-mismatch"

	// ReasonLinkMismatch means an entry does not follow its predecessor:
	// its previousHash differs from the predecessor's hash, or its index is
	// not the predecessor's index plus one.
	ReasonLinkMismatch Reason = "link-mismatch"
)

// Result is the outcome of a verification run.
type Result struct {
	Verified      bool   `json:"verified"`
	FailedAtIndex *int64 `json:"failedAtIndex,omitempty"`
	Reason        Reason `json:"reason,omitempty"`
	Checked       int    `json:"checked"`
}

// Err returns nil for a verified result and an *IntegrityViolation otherwise.
func (r Result) Err() error {
	if r.Verified {
		return nil
	}
	v := &IntegrityViolation{Reason: r.Reason}
	if r.FailedAtIndex != nil {
		v.Index = *r.FailedAtIndex
	}
	return v
}

// IntegrityViolation is a detected break in the chain. It is a finding to
// report; the ledger stays usable.
type IntegrityViolation struct {
	Index  int64
	Reason Reason
}

func (v *IntegrityViolation) Error() string {
	return fmt.Sprintf("ledger integrity violation at index %d: %s", v.Index, v.Reason)
}

// Option configures Verify.
type Option func(*config)

type config struct {
	hasher    ledger.Hasher
	anchored  bool
	anchorIdx int64
	anchor    string
}

// WithHasher selects the digest algorithm. Defaults to SHA-256.
func WithHasher(h ledger.Hasher) Option {
	return func(c *config) {
		if h != nil {
			c.hasher = h
		}
	}
}

// WithAnchor names the entry preceding the first one in the input, so a
// slice starting past index 0 can be checked. Without an anchor the input
// must start at the genesis entry.
func WithAnchor(index int64, hash string) Option {
	return func(c *config) {
		c.anchored = true
		c.anchorIdx = index
		c.anchor = hash
	}
}

// Verify walks entries in order and stops at the first failure. At each
// entry the link to the predecessor is checked before the entry's own hash.
// A failure is reported at the index the entry should hold, which differs
// from its stored index when the index itself was altered. An empty slice
// verifies.
func Verify(entries []*ledger.Entry, opts ...Option) Result {
	cfg := config{hasher: ledger.SHA256}
	for _, fn := range opts {
		fn(&cfg)
	}

	want, prevHash := int64(0), ledger.ZeroHash
	if cfg.anchored {
		want, prevHash = cfg.anchorIdx+1, cfg.anchor
	}
	for i, e := range entries {
		if e == nil || e.Index != want || e.PreviousHash != prevHash {
			return failed(want, ReasonLinkMismatch, i)
		}
		h, err := ledger.ComputeHash(cfg.hasher, e)
		if err != nil || h != e.Hash {
			return failed(want, ReasonHashMismatch, i)
		}
		want, prevHash = e.Index+1, e.Hash
	}
	return Result{Verified: true, Checked: len(entries)}
}

func failed(index int64, reason Reason, checked int) Result {
	return Result{
		FailedAtIndex: &index,
		Reason:        reason,
		Checked:       checked,
	}
}
