package flash

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEncodeDecodePreservesState(t *testing.T) {
	s := New()
	s.Set("notice", "Created")
	s.Set("count", 3)
	s.Set("tags", []any{"a", "b"})
	s.Set("meta", map[string]any{"ok": true})
	s.Set("nothing", nil)
	s.Discard("count")

	data, err := Encode(s)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}

	want := map[string]any{
		"notice":  "Created",
		"count":   float64(3), // numbers decode as float64
		"tags":    []any{"a", "b"},
		"meta":    map[string]any{"ok": true},
		"nothing": nil,
	}
	if diff := cmp.Diff(want, got.Values()); diff != "" {
		t.Errorf("values mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(s.States(), got.States()); diff != "" {
		t.Errorf("states mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeDeterministic(t *testing.T) {
	s := New()
	for _, k := range []string{"z", "a", "m", "q"} {
		s.Set(k, k)
	}
	first, err := Encode(s)
	if err != nil {
		t.Fatal(err)
	}
	for range 5 {
		again, _ := Encode(s)
		if string(again) != string(first) {
			t.Fatal("Encode is not deterministic")
		}
	}
}

func TestDecodedStoreStartsNewCycle(t *testing.T) {
	s := New()
	s.Set("k", "v")
	s.Sweep()

	data, err := Encode(s)
	if err != nil {
		t.Fatal(err)
	}
	next, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if _, dropped := next.Sweep(); dropped != 1 {
		t.Errorf("Sweep() on decoded store dropped %d, want 1", dropped)
	}
}

func TestEncodeRejectsUnsupportedValues(t *testing.T) {
	s := New()
	s.Set("ch", make(chan int))
	_, err := Encode(s)
	if !errors.Is(err, ErrUnencodable) {
		t.Errorf("Encode() error = %v, want ErrUnencodable", err)
	}
}

func TestDecodeGarbage(t *testing.T) {
	if _, err := Decode([]byte{0xff, 0xff, 0xff}); err == nil {
		t.Error("Decode(garbage) = nil error")
	}
}

func TestDecodeEmpty(t *testing.T) {
	s, err := Decode(nil)
	if err != nil {
		t.Fatal(err)
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}
}
