package types

import (
	"encoding/json"
	"fmt"
)

// DecodeRequest decodes an inbound frame into a Request. Field names are
// matched exactly, so "Type" or "TYPE" never select a handler. The frame
// must be a JSON object; a present field with the wrong JSON type is an error.
func DecodeRequest(frame []byte) (*Request, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(frame, &fields); err != nil {
		return nil, err
	}

	req := &Request{}
	for _, f := range []struct {
		key string
		dst interface{}
	}{
		{"type", &req.Type},
		{"content", &req.Content},
		{"security_level", &req.SecurityLevel},
		{"message", &req.Message},
		{"document_content", &req.DocumentContent},
		{"history", &req.History},
	} {
		raw, ok := fields[f.key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, f.dst); err != nil {
			return nil, fmt.Errorf("field %q: %w", f.key, err)
		}
	}
	return req, nil
}
