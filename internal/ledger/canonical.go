package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/milelog/milelog/internal/trip"
)

// Canonicalize encodes v as canonical JSON: object keys sorted, numbers kept
// in their original decimal form, no HTML escaping, no insignificant
// whitespace. Hashing and report signing both go through this function so a
// digest computed here can be reproduced by any runtime that follows the
// same rules.
func Canonicalize(v any) ([]byte, error) {
	decoded, err := roundTrip(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := writeCanonical(&buf, decoded); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// roundTrip reduces v to the generic JSON forms (map, slice, json.Number,
// string, bool, nil) so struct field order and Go types cannot leak into the
// canonical output.
func roundTrip(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	return out, nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Errorf("canonicalize string: %w", err)
		}
		buf.Write(b)
	case json.Number:
		buf.WriteString(val.String())
	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
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
				return fmt.Errorf("canonicalize key: %w", err)
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("canonicalize: unsupported type %T", v)
	}
	return nil
}

// DiffFields returns the sorted set of field names whose canonical values
// differ between prev and curr. An amend whose diff comes back empty is a
// no-op edit and is rejected before it reaches the store.
func DiffFields(prev, curr trip.Record) ([]string, error) {
	prevMap, err := toFieldMap(prev)
	if err != nil {
		return nil, err
	}
	currMap, err := toFieldMap(curr)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(prevMap))
	for k := range prevMap {
		seen[k] = true
	}
	for k := range currMap {
		seen[k] = true
	}

	var changed []string
	for k := range seen {
		pb, err := Canonicalize(prevMap[k])
		if err != nil {
			return nil, err
		}
		cb, err := Canonicalize(currMap[k])
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(pb, cb) {
			changed = append(changed, k)
		}
	}
	sort.Strings(changed)
	return changed, nil
}

func toFieldMap(r trip.Record) (map[string]any, error) {
	decoded, err := roundTrip(r)
	if err != nil {
		return nil, err
	}
	m, ok := decoded.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("trip record did not decode to an object")
	}
	return m, nil
}
