package persistence

import (
	"encoding/json"
	"fmt"
)

// MarshalPublication serializes a Publication to JSON bytes.
func MarshalPublication(p *Publication) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("cannot marshal nil Publication")
	}
	if p.Pool.IsZero() {
		return nil, fmt.Errorf("cannot marshal Publication without pool")
	}

	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal Publication to JSON: %w", err)
	}
	return data, nil
}

// UnmarshalPublication deserializes a Publication from JSON bytes.
func UnmarshalPublication(data []byte) (*Publication, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}

	var p Publication
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to Publication: %w", err)
	}
	return &p, nil
}

// ClonePublication returns a deep copy of p.
func ClonePublication(p *Publication) *Publication {
	if p == nil {
		return nil
	}
	out := *p
	return &out
}
