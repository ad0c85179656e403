package codec

import (
	"strings"
	"testing"
)

type payload struct {
	ID   int    `json:"id" msgpack:"id" cbor:"id"`
	Name string `json:"name" msgpack:"name" cbor:"name"`
}

func TestLimitRejectsOversizedPayloads(t *testing.T) {
	c := Limit[string]{Inner: String{}, MaxDecode: 8}

	raw, err := c.Encode("short")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if v, err := c.Decode(raw); err != nil || v != "short" {
		t.Fatalf("Decode small: v=%q err=%v", v, err)
	}

	big := []byte(strings.Repeat("x", 9))
	if _, err := c.Decode(big); err == nil {
		t.Fatal("expected error for payload over MaxDecode")
	}

	// MaxDecode <= 0 disables the limit.
	open := Limit[string]{Inner: String{}}
	if v, err := open.Decode(big); err != nil || v != string(big) {
		t.Fatalf("unlimited Decode: v=%q err=%v", v, err)
	}
}

func TestBytesIsIdentity(t *testing.T) {
	in := []byte{0x00, 0xff, 0x10}
	enc, err := Bytes{}.Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := Bytes{}.Decode(enc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if string(out) != string(in) {
		t.Fatalf("round trip changed bytes: %v -> %v", in, out)
	}
}

func TestJSONDecodeRejectsGarbage(t *testing.T) {
	c := JSON[payload]{}
	raw, err := c.Encode(payload{ID: 7, Name: "a"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	v, err := c.Decode(raw)
	if err != nil || v.ID != 7 || v.Name != "a" {
		t.Fatalf("Decode: v=%+v err=%v", v, err)
	}
	if _, err := c.Decode([]byte("{nope")); err == nil {
		t.Fatal("expected decode error for malformed JSON")
	}
}

func TestMsgpackRoundTrip(t *testing.T) {
	c := Msgpack[payload]{}
	raw, err := c.Encode(payload{ID: 3, Name: "m"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	v, err := c.Decode(raw)
	if err != nil || v.ID != 3 || v.Name != "m" {
		t.Fatalf("Decode: v=%+v err=%v", v, err)
	}
}

func TestCBORRoundTrip(t *testing.T) {
	c := MustCBOR[payload](true)
	raw, err := c.Encode(payload{ID: 5, Name: "c"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	v, err := c.Decode(raw)
	if err != nil || v.ID != 5 || v.Name != "c" {
		t.Fatalf("Decode: v=%+v err=%v", v, err)
	}
}
