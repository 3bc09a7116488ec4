package flash

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// ErrUnencodable is returned when a flash value cannot be persisted.
var ErrUnencodable = errors.New("flash: value cannot be encoded")

// Encode serializes the store for persistence in a session. Values must be
// representable as protobuf struct values: nil, bools, numbers, strings,
// []any and map[string]any.
func Encode(s *Store) ([]byte, error) {
	values := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(s.entries))}
	used := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(s.entries))}
	for k, e := range s.entries {
		v, err := structpb.NewValue(e.value)
		if err != nil {
			return nil, fmt.Errorf("%w: key %q: %v", ErrUnencodable, k, err)
		}
		values.Fields[k] = v
		used.Fields[k] = structpb.NewBoolValue(e.used)
	}
	doc := &structpb.Struct{Fields: map[string]*structpb.Value{
		"values": structpb.NewStructValue(values),
		"used":   structpb.NewStructValue(used),
	}}
	data, err := proto.MarshalOptions{Deterministic: true}.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("flash: marshal: %w", err)
	}
	return data, nil
}

// Decode restores a store from data produced by Encode. The returned store
// starts a new cycle.
func Decode(data []byte) (*Store, error) {
	var doc structpb.Struct
	if err := proto.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("flash: unmarshal: %w", err)
	}
	values := doc.GetFields()["values"].GetStructValue()
	used := doc.GetFields()["used"].GetStructValue()

	s := New()
	for k, v := range values.GetFields() {
		s.entries[k] = &entry{
			value: v.AsInterface(),
			used:  used.GetFields()[k].GetBoolValue(),
		}
	}
	return s, nil
}

// dropUnencodable deletes entries Encode would reject and returns their keys
// in sorted order.
func (s *Store) dropUnencodable() []string {
	var dropped []string
	for _, k := range s.Keys() {
		if _, err := structpb.NewValue(s.entries[k].value); err != nil {
			delete(s.entries, k)
			dropped = append(dropped, k)
		}
	}
	return dropped
}
