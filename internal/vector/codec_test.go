package vector

import "testing"

func TestDecodeVector_BadLength(t *testing.T) {
	if _, err := DecodeVector([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for truncated input")
	}
	v, err := DecodeVector(EncodeVector([]float32{0.5, -2}))
	if err != nil {
		t.Fatal(err)
	}
	if len(v) != 2 || v[0] != 0.5 || v[1] != -2 {
		t.Errorf("decoded %v", v)
	}
}
