package codec

import "testing"

type sample struct {
	A string
	B int
	C []string
}

func TestJSONRoundtrip(t *testing.T) {
	c := JSON()
	in := sample{A: "x", B: 2, C: []string{"p", "q"}}
	data, err := c.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out sample
	if err := c.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.A != in.A || out.B != in.B || len(out.C) != len(in.C) {
		t.Fatalf("got %+v, want %+v", out, in)
	}
}

func TestCBORRoundtrip(t *testing.T) {
	c, err := CBOR()
	if err != nil {
		t.Fatalf("CBOR: %v", err)
	}
	in := sample{A: "y", B: 7, C: []string{"z"}}
	data, err := c.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out sample
	if err := c.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.A != in.A || out.B != in.B || len(out.C) != 1 || out.C[0] != "z" {
		t.Fatalf("got %+v, want %+v", out, in)
	}
}

func TestCBORIsDeterministic(t *testing.T) {
	c, _ := CBOR()
	in := sample{A: "det", B: 1, C: []string{"a", "b"}}
	d1, _ := c.Marshal(in)
	d2, _ := c.Marshal(in)
	if string(d1) != string(d2) {
		t.Fatal("two marshals of the same value produced different bytes")
	}
}

func TestRegistryGetByContentType(t *testing.T) {
	r := NewRegistry()
	if r.Get("application/json") == nil {
		t.Fatal("expected json codec registered")
	}
	if r.Get(DefaultContentType) == nil {
		t.Fatal("expected default cbor codec registered")
	}
	if r.Get("application/nonsense") != nil {
		t.Fatal("expected nil for unregistered content type")
	}
}
