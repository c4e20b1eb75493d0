package machine

import (
	"encoding/json"
	"fmt"
)

// Decode parses a machine envelope of the form {"type": "desktop", ...}.
func Decode(data []byte) (Machine, error) {
	var head struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode machine: %w", err)
	}

	var m Machine
	switch head.Type {
	case KindDesktop:
		m = &Desktop{}
	case KindServer:
		m = &Server{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, head.Type)
	}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", head.Type, err)
	}
	return m, nil
}

// Encode is the inverse of Decode.
func Encode(m Machine) ([]byte, error) {
	switch v := m.(type) {
	case *Desktop:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			*Desktop
		}{KindDesktop, v})
	case *Server:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			*Server
		}{KindServer, v})
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKind, m)
	}
}
