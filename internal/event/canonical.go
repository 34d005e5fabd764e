package event

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Canonicalise produces the RFC 8785 (JCS) canonical JSON bytes for e,
// excluding the Hash field — hash is computed over this output, never the
// other way around. Key ordering is byte-wise ascending UTF-16 code unit
// order (equivalent to Go's default string less-than for the BMP subset we
// ever produce), strings are NFC-normalised, and no insignificant
// whitespace is emitted.
//
// This mirrors the hash-over-payload idea in a flat append-only log (see
// storelog.LogRecord.ComputeHash in the retrieval pack) but canonicalises
// the full structured record, not just a single payload field, and adds
// prev_hash into the hashed content per SPEC_FULL.md §4.1.
func Canonicalise(e *Event) ([]byte, error) {
	obj := map[string]any{
		"id":        string(e.ID),
		"type":      string(e.Type),
		"timestamp": e.Timestamp.UTC().Format("2006-01-02T15:04:05.000000000Z07:00"),
		"run_id":    nilableString(e.RunID),
		"task_id":   nilableString(e.TaskID),
		"actor":     e.Actor,
		"payload":   payloadToMap(e.Payload),
		"parents":   idsToAny(e.Parents),
		"prev_hash": nilableString(e.PrevHash),
	}
	var b strings.Builder
	if err := writeJCS(&b, obj); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}

func nilableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func idsToAny(ids []ID) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func payloadToMap(p Payload) map[string]any {
	if p == nil {
		return map[string]any{}
	}
	return deepConvert(p.fields())
}

// deepConvert normalises nested maps/slices produced by a Payload's fields()
// so writeJCS only ever has to deal with the primitive JSON value set.
func deepConvert(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = convertValue(v)
	}
	return out
}

func convertValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepConvert(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = convertValue(e)
		}
		return out
	default:
		return v
	}
}

// hashHex computes the lowercase hex SHA-256 digest of b.
func hashHex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// writeJCS serialises v in RFC 8785 canonical form into b.
func writeJCS(b *strings.Builder, v any) error {
	switch t := v.(type) {
	case nil:
		b.WriteString("null")
	case bool:
		if t {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case string:
		writeJCSString(b, t)
	case int:
		b.WriteString(strconv.Itoa(t))
	case int64:
		b.WriteString(strconv.FormatInt(t, 10))
	case float64:
		writeJCSNumber(b, t)
	case map[string]any:
		return writeJCSObject(b, t)
	case []any:
		return writeJCSArray(b, t)
	default:
		return fmt.Errorf("event: canonicalise: unsupported value type %T", v)
	}
	return nil
}

func writeJCSObject(b *strings.Builder, m map[string]any) error {
	b.WriteByte('{')
	keys := sortedKeys(m)
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		writeJCSString(b, k)
		b.WriteByte(':')
		if err := writeJCS(b, m[k]); err != nil {
			return err
		}
	}
	b.WriteByte('}')
	return nil
}

func writeJCSArray(b *strings.Builder, arr []any) error {
	b.WriteByte('[')
	for i, v := range arr {
		if i > 0 {
			b.WriteByte(',')
		}
		if err := writeJCS(b, v); err != nil {
			return err
		}
	}
	b.WriteByte(']')
	return nil
}

// writeJCSString emits s NFC-normalised and JSON-escaped per RFC 8785 §3.2.2.3.
func writeJCSString(b *strings.Builder, s string) {
	s = norm.NFC.String(s)
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		default:
			if unicode.IsControl(r) {
				fmt.Fprintf(b, `\u%04x`, r)
			} else {
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('"')
}

// writeJCSNumber renders a float64 per RFC 8785 §3.2.2.2 (ECMA-262
// Number-to-String), which for the integral values every payload in this
// system actually uses collapses to the shortest round-trippable decimal
// with no trailing ".0" for whole numbers.
func writeJCSNumber(b *strings.Builder, f float64) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		b.WriteString("null")
		return
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		b.WriteString(strconv.FormatInt(int64(f), 10))
		return
	}
	b.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
}

// UnmarshalEventJSON is a convenience used by Akashic Record replay to turn
// a persisted JSONL line back into an *Event, preserving unknown types as
// OpaquePayload per the forward-compatibility rule in §4.1.
func UnmarshalEventJSON(line []byte) (*Event, error) {
	var raw struct {
		ID        string          `json:"id"`
		Type      string          `json:"type"`
		Timestamp string          `json:"timestamp"`
		RunID     *string         `json:"run_id"`
		TaskID    *string         `json:"task_id"`
		Actor     string          `json:"actor"`
		Payload   json.RawMessage `json:"payload"`
		Parents   []string        `json:"parents"`
		PrevHash  *string         `json:"prev_hash"`
		Hash      string          `json:"hash"`
	}
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, fmt.Errorf("event: unmarshal: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, raw.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("event: unmarshal: timestamp: %w", err)
	}
	var payloadMap map[string]any
	if len(raw.Payload) > 0 {
		if err := json.Unmarshal(raw.Payload, &payloadMap); err != nil {
			return nil, fmt.Errorf("event: unmarshal: payload: %w", err)
		}
	}
	parents := make([]ID, len(raw.Parents))
	for i, p := range raw.Parents {
		parents[i] = ID(p)
	}
	return &Event{
		ID:        ID(raw.ID),
		Type:      Type(raw.Type),
		Timestamp: ts,
		RunID:     raw.RunID,
		TaskID:    raw.TaskID,
		Actor:     raw.Actor,
		Payload:   OpaquePayload(payloadMap),
		Parents:   parents,
		PrevHash:  raw.PrevHash,
		Hash:      raw.Hash,
	}, nil
}

