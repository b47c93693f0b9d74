package value

import "testing"

func TestScalarAccessors(t *testing.T) {
	if b, ok := Bool(true).Bool(); !ok || !b {
		t.Fatalf("Bool(true).Bool() = %v, %v", b, ok)
	}
	if i, ok := I64(42).I64(); !ok || i != 42 {
		t.Fatalf("I64(42).I64() = %v, %v", i, ok)
	}
	if f, ok := F64(1.5).F64(); !ok || f != 1.5 {
		t.Fatalf("F64(1.5).F64() = %v, %v", f, ok)
	}
	if _, ok := Null().Bool(); ok {
		t.Fatal("Null().Bool() should fail")
	}
}

func TestEqualDeep(t *testing.T) {
	a := Map([]Pair{
		{Key: []byte("a"), Value: I64(1)},
		{Key: []byte("b"), Value: List([]Value{Bool(true), Buf([]byte("x"))})},
	})
	b := Map([]Pair{
		{Key: []byte("a"), Value: I64(1)},
		{Key: []byte("b"), Value: List([]Value{Bool(true), Buf([]byte("x"))})},
	})
	if !Equal(a, b) {
		t.Fatal("expected structurally identical values to be equal")
	}

	c := Map([]Pair{
		{Key: []byte("b"), Value: List([]Value{Bool(true), Buf([]byte("x"))})},
		{Key: []byte("a"), Value: I64(1)},
	})
	if Equal(a, c) {
		t.Fatal("Equal should be order-sensitive on raw (non-canonicalized) maps")
	}
}

func TestMapGetFirstOccurrence(t *testing.T) {
	m := []Pair{
		{Key: []byte("k"), Value: I64(1)},
		{Key: []byte("k"), Value: I64(2)},
	}
	v, ok := MapGet(m, []byte("k"))
	if !ok {
		t.Fatal("expected MapGet to find key")
	}
	i, _ := v.I64()
	if i != 1 {
		t.Fatalf("MapGet returned %d, want 1 (first occurrence)", i)
	}
}
