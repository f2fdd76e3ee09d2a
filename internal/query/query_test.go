package query_test

import (
	"reflect"
	"testing"

	"github.com/jmerrifield20/hashledger/internal/ledger"
	"github.com/jmerrifield20/hashledger/internal/query"
)

func sample() []*ledger.Entry {
	return []*ledger.Entry{
		{Index: 0, Operation: "genesis", Data: map[string]any{"note": "Ledger initialized"}},
		{Index: 1, Operation: "consent_requested", Data: map[string]any{"user_id": "u1", "token_id": "TOK_ABC123"}},
		{Index: 2, Operation: "operation_start", Data: map[string]any{"op": "transfer"}},
		{Index: 3, Operation: "consent_requested", Data: map[string]any{"user_id": "u2", "token_id": "tok_zzz"}},
		{Index: 4, Operation: "operation_complete", Data: nil},
	}
}

func indices(entries []*ledger.Entry) []int64 {
	out := []int64{}
	for _, e := range entries {
		out = append(out, e.Index)
	}
	return out
}

func TestFilter(t *testing.T) {
	tests := []struct {
		name string
		c    query.Criteria
		want []int64
	}{
		{"no criteria", query.Criteria{}, []int64{0, 1, 2, 3, 4}},
		{"operation exact", query.Criteria{Operation: "consent_requested"}, []int64{1, 3}},
		{"operation is not a prefix match", query.Criteria{Operation: "consent"}, []int64{}},
		{"text in data, case-insensitive", query.Criteria{TextQuery: "tok_abc123"}, []int64{1}},
		{"text in operation", query.Criteria{TextQuery: "OPERATION_"}, []int64{2, 4}},
		{"both ANDed", query.Criteria{Operation: "consent_requested", TextQuery: "u2"}, []int64{3}},
		{"no match", query.Criteria{TextQuery: "nothing-here"}, []int64{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := indices(query.Filter(sample(), tc.c))
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestFilter_doesNotMutateInput(t *testing.T) {
	in := sample()
	_ = query.Filter(in, query.Criteria{Operation: "genesis"})
	if len(in) != 5 || in[0].Index != 0 || in[4].Index != 4 {
		t.Errorf("input modified: %v", indices(in))
	}
}

func TestListOperations(t *testing.T) {
	got := query.ListOperations(sample())
	want := []string{"consent_requested", "genesis", "operation_complete", "operation_start"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if ops := query.ListOperations(nil); len(ops) != 0 {
		t.Errorf("empty input: got %v", ops)
	}
}

func TestSummarize(t *testing.T) {
	all := sample()
	filtered := query.Filter(all, query.Criteria{Operation: "consent_requested"})
	st := query.Summarize(all, filtered)

	want := query.Stats{Total: 5, Filtered: 2, ChainLength: 5, Operations: 4}
	if st != want {
		t.Errorf("got %+v, want %+v", st, want)
	}
}

func TestFilter_textWithHTMLCharacters(t *testing.T) {
	entries := []*ledger.Entry{
		{Index: 0, Operation: "genesis", Data: map[string]any{"note": "init"}},
		{Index: 1, Operation: "budget_approved", Data: map[string]any{"memo": "R&D <budget>"}},
	}
	for _, q := range []string{"R&D", "<budget>", "r&d <BUDGET>"} {
		got := indices(query.Filter(entries, query.Criteria{TextQuery: q}))
		if !reflect.DeepEqual(got, []int64{1}) {
			t.Errorf("textQuery %q: got %v, want [1]", q, got)
		}
	}
}
