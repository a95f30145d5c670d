package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Corrupt builds an error wrapping ErrCorruptRecord.
func Corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorruptRecord, fmt.Sprintf(format, args...))
}

// MarshalRecord serializes a session into its persisted record form.
func MarshalRecord(s *Session) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("marshal record: nil session")
	}
	// Clone so nil slices encode as [] rather than null.
	return json.Marshal(s.Clone())
}

// UnmarshalRecord decodes and validates a persisted record.
// Unknown fields, type mismatches and broken invariants all yield ErrCorruptRecord.
func UnmarshalRecord(data []byte) (*Session, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var s Session
	if err := dec.Decode(&s); err != nil {
		return nil, Corrupt("decode: %v", err)
	}
	if dec.More() {
		return nil, Corrupt("trailing data after record")
	}

	out := s.Clone()
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}
