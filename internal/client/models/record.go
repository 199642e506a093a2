// Package models defines the client-side record types shared by the local
// store, the snapshot codec and the merge engine.
package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotObject is returned when a record payload is not a JSON object.
var ErrNotObject = errors.New("record is not a JSON object")

// Record is a business object as stored locally. The sync engine only looks
// at ID and UpdatedAt; everything else stays inside Raw untouched.
type Record struct {
	// ID is the identity value (the collection's key field).
	ID string

	// UpdatedAt is the ISO-8601 modification time, empty when the stored
	// object carries none.
	UpdatedAt string

	// Raw is the full stored object in compact JSON form.
	Raw json.RawMessage
}

// MarshalJSON emits the stored object verbatim.
func (r Record) MarshalJSON() ([]byte, error) {
	if len(r.Raw) == 0 {
		return []byte("{}"), nil
	}
	return r.Raw, nil
}

// DecodeRecord builds a Record from a JSON object, reading the identity from
// keyField. Non-string identity or timestamp values are treated as absent.
func DecodeRecord(keyField string, raw []byte) (Record, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return Record{}, fmt.Errorf("compact record: %w", err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(buf.Bytes(), &fields); err != nil || fields == nil {
		return Record{}, ErrNotObject
	}

	return Record{
		ID:        stringField(fields, keyField),
		UpdatedAt: stringField(fields, "updatedAt"),
		Raw:       json.RawMessage(buf.Bytes()),
	}, nil
}

// Stamp returns a copy of raw with keyField set to id and updatedAt set to
// the given timestamp. It is used on every local write.
func Stamp(keyField string, raw []byte, id, updatedAt string) (Record, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return Record{}, ErrNotObject
	}

	idJSON, err := Marshal(id)
	if err != nil {
		return Record{}, err
	}
	tsJSON, err := Marshal(updatedAt)
	if err != nil {
		return Record{}, err
	}
	fields[keyField] = idJSON
	fields["updatedAt"] = tsJSON

	out, err := Marshal(fields)
	if err != nil {
		return Record{}, fmt.Errorf("encode record: %w", err)
	}
	return Record{ID: id, UpdatedAt: updatedAt, Raw: out}, nil
}

// Marshal encodes v like json.Marshal but leaves <, > and & unescaped, so
// stored records keep the bytes the user wrote.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Field decodes a single top-level field of the record into v. It reports
// false when the field is absent.
func (r Record) Field(name string, v any) (bool, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(r.Raw, &fields); err != nil {
		return false, ErrNotObject
	}
	f, ok := fields[name]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(f, v); err != nil {
		return true, fmt.Errorf("decode field %q: %w", name, err)
	}
	return true, nil
}

func stringField(fields map[string]json.RawMessage, name string) string {
	v, ok := fields[name]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return ""
	}
	return s
}
