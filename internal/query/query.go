// Package query provides the read-side filters used by presentation layers.
// Nothing here mutates its input.
package query

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	"github.com/jmerrifield20/hashledger/internal/ledger"
)

// Criteria narrows a list of entries. Empty fields match everything; set
// fields are ANDed.
type Criteria struct {
	Operation string `json:"operation,omitempty" form:"operation"`
	TextQuery string `json:"textQuery,omitempty" form:"textQuery"`
}

// Filter returns the entries matching c in their original order.
// Operation is an exact match. TextQuery is a case-insensitive substring
// match against the operation or the canonical JSON of the data.
func Filter(entries []*ledger.Entry, c Criteria) []*ledger.Entry {
	needle := strings.ToLower(c.TextQuery)
	out := make([]*ledger.Entry, 0, len(entries))
	for _, e := range entries {
		if c.Operation != "" && e.Operation != c.Operation {
			continue
		}
		if needle != "" && !containsText(e, needle) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func containsText(e *ledger.Entry, needle string) bool {
	if strings.Contains(strings.ToLower(e.Operation), needle) {
		return true
	}
	data, err := searchText(e.Data)
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(data), needle)
}

// searchText renders data as JSON with sorted keys and without HTML
// escaping, so "&", "<" and ">" stay literal. It is not the hashed form.
func searchText(data map[string]any) (string, error) {
	if len(data) == 0 {
		return "{}", nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(data); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// ListOperations returns the distinct operations present, sorted.
func ListOperations(entries []*ledger.Entry) []string {
	seen := make(map[string]struct{})
	for _, e := range entries {
		seen[e.Operation] = struct{}{}
	}
	ops := make([]string, 0, len(seen))
	for op := range seen {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

// Stats summarises a listing for dashboards.
type Stats struct {
	Total       int   `json:"total"`
	Filtered    int   `json:"filtered"`
	ChainLength int64 `json:"chainLength"`
	Operations  int   `json:"operations"`
}

// Summarize reports counts for all and filtered entries. ChainLength is the
// tail index plus one, which equals Total for a complete listing.
func Summarize(all, filtered []*ledger.Entry) Stats {
	st := Stats{
		Total:      len(all),
		Filtered:   len(filtered),
		Operations: len(ListOperations(all)),
	}
	if n := len(all); n > 0 {
		st.ChainLength = all[n-1].Index + 1
	}
	return st
}
