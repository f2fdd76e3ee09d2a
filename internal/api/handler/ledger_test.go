package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/hashledger/internal/api/handler"
	"github.com/jmerrifield20/hashledger/internal/auditor"
	"github.com/jmerrifield20/hashledger/internal/auth"
	"github.com/jmerrifield20/hashledger/internal/ledger"
	"github.com/jmerrifield20/hashledger/internal/verifier"
)

// brokenStore fails every durable operation.
type brokenStore struct{ *ledger.MemoryStore }

var errDisk = &ledger.StorageError{Op: "test", Index: -1, Err: errors.New("disk unavailable")}

func (brokenStore) Append(context.Context, string, map[string]any) (*ledger.Entry, error) {
	return nil, errDisk
}
func (brokenStore) ReadAll(context.Context) ([]*ledger.Entry, error) { return nil, errDisk }

// tamperedStore serves its entries with entry 0's hash flipped.
type tamperedStore struct{ *ledger.MemoryStore }

func (s tamperedStore) ReadAll(ctx context.Context) ([]*ledger.Entry, error) {
	all, err := s.MemoryStore.ReadAll(ctx)
	if err == nil && len(all) > 0 {
		h := []byte(all[0].Hash)
		if h[0] == 'f' {
			h[0] = 'e'
		} else {
			h[0] = 'f'
		}
		all[0].Hash = string(h)
	}
	return all, err
}

type stubAudit struct{ r *auditor.Report }

func (s stubAudit) Last() *auditor.Report { return s.r }

func setupRouter(t *testing.T, store ledger.Store, writeAuth gin.HandlerFunc) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(handler.RequestID())
	h := handler.NewLedgerHandler(store, time.Second, zap.NewNop())
	h.SetAuditSource(stubAudit{})
	if writeAuth == nil {
		writeAuth = auth.RequireCaller(nil)
	}
	h.Register(r.Group("/api/v1"), writeAuth)
	return r
}

func seedStore(t *testing.T) *ledger.MemoryStore {
	t.Helper()
	s := ledger.NewMemory()
	ctx := context.Background()
	must := func(op string, data map[string]any) {
		if _, err := s.Append(ctx, op, data); err != nil {
			t.Fatal(err)
		}
	}
	must("genesis", map[string]any{"note": "Ledger initialized"})
	must("consent_requested", map[string]any{"user_id": "u1", "token_id": "tok_abc123"})
	must("operation_start", map[string]any{"op": "transfer"})
	must("consent_requested", map[string]any{"user_id": "u2", "token_id": "tok_zzz"})
	return s
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func TestAppend_201(t *testing.T) {
	router := setupRouter(t, ledger.NewMemory(), nil)

	w := do(router, http.MethodPost, "/api/v1/ledger/entries",
		`{"operation":"genesis","data":{"note":"init","big":9007199254740993}}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var e ledger.Entry
	decode(t, w, &e)
	if e.Index != 0 || e.PreviousHash != ledger.ZeroHash {
		t.Errorf("unexpected entry: %+v", e)
	}
	if got, _ := ledger.ComputeHash(ledger.SHA256, &e); got != e.Hash {
		t.Errorf("returned entry does not recompute: %q vs %q", got, e.Hash)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte(`"previousHash"`)) {
		t.Errorf("missing previousHash wire name: %s", w.Body.String())
	}
}

func TestAppend_400_emptyOperation(t *testing.T) {
	router := setupRouter(t, ledger.NewMemory(), nil)

	w := do(router, http.MethodPost, "/api/v1/ledger/entries", `{"operation":"  ","data":{}}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	var resp map[string]any
	decode(t, w, &resp)
	if resp["request_id"] == "" || resp["error"] == nil {
		t.Errorf("error body missing fields: %v", resp)
	}
}

func TestAppend_400_malformedBody(t *testing.T) {
	router := setupRouter(t, ledger.NewMemory(), nil)
	w := do(router, http.MethodPost, "/api/v1/ledger/entries", `{"operation":`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestAppend_401_withoutToken(t *testing.T) {
	iss := auth.NewIssuer("s3cret", "hashledger", time.Hour)
	router := setupRouter(t, ledger.NewMemory(), auth.RequireCaller(iss))

	w := do(router, http.MethodPost, "/api/v1/ledger/entries", `{"operation":"x"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	var body map[string]any
	decode(t, w, &body)
	if body["request_id"] == nil || body["request_id"] == "" || body["request_id"] != w.Header().Get(handler.RequestIDHeader) {
		t.Errorf("401 body should carry the request id: %v", body)
	}

	tok, _ := iss.Issue("dashboard")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ledger/entries", strings.NewReader(`{"operation":"x"}`))
	req.Header.Set("Authorization", "Bearer "+tok)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201 with token, got %d: %s", w.Code, w.Body.String())
	}
}

func TestAppend_503_storageFailure(t *testing.T) {
	router := setupRouter(t, brokenStore{ledger.NewMemory()}, nil)
	w := do(router, http.MethodPost, "/api/v1/ledger/entries", `{"operation":"x"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestList_filters(t *testing.T) {
	router := setupRouter(t, seedStore(t), nil)

	tests := []struct {
		query string
		want  []int64
	}{
		{"", []int64{0, 1, 2, 3}},
		{"?operation=consent_requested", []int64{1, 3}},
		{"?textQuery=TOK_ABC123", []int64{1}},
		{"?fromIndex=1&toIndexInclusive=2", []int64{1, 2}},
		{"?fromIndex=2&operation=consent_requested", []int64{3}},
	}
	for _, tc := range tests {
		w := do(router, http.MethodGet, "/api/v1/ledger/entries"+tc.query, "")
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", tc.query, w.Code)
		}
		var resp handler.ListResponse
		decode(t, w, &resp)
		if resp.Count != len(tc.want) {
			t.Errorf("%s: count %d, want %d", tc.query, resp.Count, len(tc.want))
			continue
		}
		for i, e := range resp.Entries {
			if e.Index != tc.want[i] {
				t.Errorf("%s: entry %d has index %d, want %d", tc.query, i, e.Index, tc.want[i])
			}
		}
		if resp.Stats.ChainLength != 4 {
			t.Errorf("%s: chainLength %d, want 4", tc.query, resp.Stats.ChainLength)
		}
	}
}

func TestList_400_invalidRange(t *testing.T) {
	router := setupRouter(t, seedStore(t), nil)
	for _, q := range []string{"?fromIndex=3&toIndexInclusive=1", "?fromIndex=-1", "?fromIndex=abc"} {
		w := do(router, http.MethodGet, "/api/v1/ledger/entries"+q, "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, w.Code)
		}
	}
}

func TestGetEntry(t *testing.T) {
	router := setupRouter(t, seedStore(t), nil)

	if w := do(router, http.MethodGet, "/api/v1/ledger/entries/0", ""); w.Code != http.StatusOK {
		t.Errorf("entry 0: expected 200, got %d", w.Code)
	}
	if w := do(router, http.MethodGet, "/api/v1/ledger/entries/999", ""); w.Code != http.StatusNotFound {
		t.Errorf("entry 999: expected 404, got %d", w.Code)
	}
	if w := do(router, http.MethodGet, "/api/v1/ledger/entries/abc", ""); w.Code != http.StatusBadRequest {
		t.Errorf("entry abc: expected 400, got %d", w.Code)
	}
}

func TestTail(t *testing.T) {
	if w := do(setupRouter(t, ledger.NewMemory(), nil), http.MethodGet, "/api/v1/ledger/tail", ""); w.Code != http.StatusNotFound {
		t.Errorf("empty ledger: expected 404, got %d", w.Code)
	}

	w := do(setupRouter(t, seedStore(t), nil), http.MethodGet, "/api/v1/ledger/tail", "")
	var e ledger.Entry
	decode(t, w, &e)
	if e.Index != 3 {
		t.Errorf("tail index: got %d, want 3", e.Index)
	}
}

func TestVerify_valid(t *testing.T) {
	router := setupRouter(t, seedStore(t), nil)

	for _, q := range []string{"", "?fromIndex=2", "?fromIndex=1&toIndexInclusive=2"} {
		w := do(router, http.MethodGet, "/api/v1/ledger/verify"+q, "")
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", q, w.Code)
		}
		var res verifier.Result
		decode(t, w, &res)
		if !res.Verified || res.FailedAtIndex != nil {
			t.Errorf("%s: expected verified, got %+v", q, res)
		}
	}
}

func TestVerify_reportsTampering(t *testing.T) {
	router := setupRouter(t, tamperedStore{seedStore(t)}, nil)

	w := do(router, http.MethodGet, "/api/v1/ledger/verify", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp map[string]any
	decode(t, w, &resp)
	if resp["verified"] != false || resp["failedAtIndex"] != float64(0) || resp["reason"] != "hash-mismatch" {
		t.Errorf("unexpected verify body: %v", resp)
	}
}

func TestOperations(t *testing.T) {
	router := setupRouter(t, seedStore(t), nil)
	w := do(router, http.MethodGet, "/api/v1/ledger/operations", "")

	var resp struct {
		Operations []string `json:"operations"`
	}
	decode(t, w, &resp)
	want := []string{"consent_requested", "genesis", "operation_start"}
	if strings.Join(resp.Operations, ",") != strings.Join(want, ",") {
		t.Errorf("got %v, want %v", resp.Operations, want)
	}
}

func TestOverview(t *testing.T) {
	store := seedStore(t)
	router := setupRouter(t, store, nil)
	w := do(router, http.MethodGet, "/api/v1/ledger", "")

	var resp map[string]any
	decode(t, w, &resp)
	tail, _ := store.Tail(context.Background())
	if resp["entries"] != float64(4) || resp["root"] != tail.Hash || resp["hash_algorithm"] != "sha256" {
		t.Errorf("unexpected overview: %v", resp)
	}
}

func TestAudit_404_beforeFirstRun(t *testing.T) {
	router := setupRouter(t, seedStore(t), nil)
	if w := do(router, http.MethodGet, "/api/v1/ledger/audit", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestRequestID_echoed(t *testing.T) {
	router := setupRouter(t, seedStore(t), nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/ledger/entries/999", nil)
	req.Header.Set(handler.RequestIDHeader, "req_fixed")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get(handler.RequestIDHeader); got != "req_fixed" {
		t.Errorf("header: got %q", got)
	}
	var resp map[string]any
	decode(t, w, &resp)
	if resp["request_id"] != "req_fixed" {
		t.Errorf("body request_id: got %v", resp["request_id"])
	}
}
