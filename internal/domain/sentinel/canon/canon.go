// Package canon provides canonical JSON serialization and argument redaction
// over the dynamic value shapes produced by JSON decoding (nil, bool,
// float64, string, []interface{}, map[string]interface{}).
//
// Both functions are pure: they never mutate the value passed in and never
// touch the network or disk. They are the single source of truth for the
// byte sequences that feed the audit hash chain and the argument_pattern
// regex match, so any drift between callers here would make independently
// recomputed hashes diverge.
package canon

import (
	"bytes"
	"encoding/json"
	"regexp"
	"sort"
)

// sensitiveNamePattern matches argument key names that must be redacted
// before persistence or hashing. Matching is case-insensitive and by
// substring, per the field-name rules in the external interface spec.
var sensitiveNamePattern = regexp.MustCompile(`(?i)password|passwd|secret|token|api[_-]?key|access[_-]?key|private[_-]?key|credential|auth|bearer|jwt`)

// Redacted is the literal replacement value for a sensitive field.
const Redacted = "[REDACTED]"

// Redact returns a copy of v with any object field whose name matches
// sensitiveNamePattern replaced by Redacted. Arrays and nested objects are
// recursed into. nil is preserved. v is not mutated.
func Redact(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			if sensitiveNamePattern.MatchString(k) {
				out[k] = Redacted
				continue
			}
			out[k] = Redact(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = Redact(val)
		}
		return out
	default:
		return v
	}
}

// Serialize produces the canonical JSON encoding of v: object keys sorted
// lexicographically at every nesting level, no extraneous whitespace. This
// exact byte sequence is what the audit hash and the argument_pattern
// regex operate on, so it must be reproducible byte-for-byte across
// implementations.
func Serialize(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := encode(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encode(buf *bytes.Buffer, v interface{}) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := encode(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case []interface{}:
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	default:
		// bool, string, float64/json.Number and anything else json can encode natively.
		b, err := json.Marshal(t)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	}
}

// SerializeRedacted redacts then serializes v in one call, the form
// persisted to the audit log. argument_pattern matching must NOT use this:
// it runs against the unredacted canonical form so a rule can still match
// on the value being redacted.
func SerializeRedacted(v interface{}) ([]byte, error) {
	return Serialize(Redact(v))
}
