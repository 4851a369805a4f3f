package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// splitExtra decodes data as an object and returns every key that is not in
// known. Returns nil when nothing is left over.
func splitExtra(data []byte, known ...string) (map[string]json.RawMessage, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	for _, k := range known {
		delete(raw, k)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	return raw, nil
}

// appendFields appends key/value pairs to an already encoded JSON object.
// Keys are written in the order given.
func appendFields(object []byte, keys []string, values map[string]json.RawMessage) ([]byte, error) {
	object = bytes.TrimSpace(object)
	if len(object) < 2 || object[len(object)-1] != '}' {
		return nil, fmt.Errorf("cannot extend non-object JSON %q", object)
	}
	if len(keys) == 0 {
		return object, nil
	}

	var buf bytes.Buffer
	buf.Grow(len(object) + 64*len(keys))
	buf.Write(object[:len(object)-1])
	empty := len(bytes.TrimSpace(object[1:len(object)-1])) == 0

	for _, k := range keys {
		if !empty {
			buf.WriteByte(',')
		}
		empty = false
		name, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(values[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// appendExtra appends pass-through fields in sorted key order so output is
// stable across runs.
func appendExtra(object []byte, extra map[string]json.RawMessage) ([]byte, error) {
	if len(extra) == 0 {
		return object, nil
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return appendFields(object, keys, extra)
}

func cloneExtra(extra map[string]json.RawMessage) map[string]json.RawMessage {
	if extra == nil {
		return nil
	}
	out := make(map[string]json.RawMessage, len(extra))
	for k, v := range extra {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}
