package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ZeroHash is the published previousHash of the genesis entry (index 0).
// Independent verifiers anchor the chain on this constant.
const ZeroHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Entry is a single record in the ledger.
type Entry struct {
	Index        int64          `json:"index"`
	Timestamp    int64          `json:"timestamp"` // milliseconds since epoch
	Operation    string         `json:"operation"`
	Data         map[string]any `json:"data"`
	Hash         string         `json:"hash"`
	PreviousHash string         `json:"previousHash"`
}

// Clone returns a deep copy of e so callers can never reach stored state.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	c := *e
	c.Data = cloneMap(e.Data)
	return &c
}

// ComputeHash returns the hex digest of e's canonical serialization using h.
// The stored Hash field is not part of the input.
func ComputeHash(h Hasher, e *Entry) (string, error) {
	data, err := CanonicalData(e.Data)
	if err != nil {
		return "", err
	}
	return h.Sum(canonicalBytes(e.Index, e.Timestamp, e.Operation, data, e.PreviousHash)), nil
}

// canonicalBytes lays the hashed fields out as
// index|timestamp|"operation"|data|previousHash.
func canonicalBytes(index, ts int64, operation string, data []byte, prevHash string) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%d|%d|%s|", index, ts, strconv.Quote(operation))
	b.Write(data)
	b.WriteByte('|')
	b.WriteString(prevHash)
	return b.Bytes()
}

// CanonicalData encodes a payload deterministically: sorted keys, numbers kept
// as their JSON literal, and "{}" for a nil payload.
func CanonicalData(data map[string]any) ([]byte, error) {
	if data == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return b, nil
}

// normalizeData round-trips a caller payload through JSON so that the stored
// map holds only json.Number, string, bool, nil, []any and map[string]any.
// Hashing the normalized map and hashing it again after a storage round trip
// yield the same bytes.
func normalizeData(data map[string]any) (map[string]any, []byte, error) {
	raw, err := CanonicalData(data)
	if err != nil {
		return nil, nil, err
	}
	out, err := decodeData(raw)
	if err != nil {
		return nil, nil, err
	}
	canon, err := CanonicalData(out)
	if err != nil {
		return nil, nil, err
	}
	return out, canon, nil
}

// decodeData parses canonical JSON bytes back into a payload map.
func decodeData(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	out := map[string]any{}
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return out, nil
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = cloneValue(x)
		}
		return out
	default:
		return v
	}
}

// UnmarshalJSON decodes an entry, keeping numeric payload values as
// json.Number so the recomputed hash matches the one taken at append time.
func (e *Entry) UnmarshalJSON(b []byte) error {
	type plain Entry
	var raw struct {
		plain
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*e = Entry(raw.plain)
	e.Data = nil
	if len(raw.Data) > 0 && !bytes.Equal(raw.Data, []byte("null")) {
		data, err := decodeData(raw.Data)
		if err != nil {
			return err
		}
		e.Data = data
	}
	return nil
}
