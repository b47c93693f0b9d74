package value

import "testing"

func TestCanonicalizeMapShallowDedupLastWins(t *testing.T) {
	pairs := []Pair{
		{Key: []byte("c"), Value: Bool(false)},
		{Key: []byte("a"), Value: I64(1)},
		{Key: []byte("c"), Value: I64(2)},
		{Key: []byte("b"), Value: I64(3)},
	}

	out := CanonicalizeMapShallow(pairs)

	if len(out) != 3 {
		t.Fatalf("len(out) = %d, want 3", len(out))
	}
	for i, k := range []string{"a", "b", "c"} {
		if string(out[i].Key) != k {
			t.Fatalf("out[%d].Key = %q, want %q", i, out[i].Key, k)
		}
	}
	cVal, _ := MapGet(out, []byte("c"))
	i, _ := cVal.I64()
	if i != 2 {
		t.Fatalf("duplicate key c resolved to %d, want 2 (last write wins)", i)
	}
}

func TestIsCanonicalMap(t *testing.T) {
	if !IsCanonicalMap([]Pair{{Key: []byte("a")}, {Key: []byte("b")}}) {
		t.Fatal("strictly increasing keys should be canonical")
	}
	if IsCanonicalMap([]Pair{{Key: []byte("b")}, {Key: []byte("a")}}) {
		t.Fatal("out-of-order keys should not be canonical")
	}
	if IsCanonicalMap([]Pair{{Key: []byte("a")}, {Key: []byte("a")}}) {
		t.Fatal("duplicate keys should not be canonical")
	}
}

func TestCanonicalizeIsIdempotent(t *testing.T) {
	v := Map([]Pair{
		{Key: []byte("z"), Value: Map([]Pair{
			{Key: []byte("y"), Value: I64(1)},
			{Key: []byte("x"), Value: I64(2)},
		})},
		{Key: []byte("a"), Value: List([]Value{I64(3), I64(2)})},
	})

	once := Canonicalize(v)
	twice := Canonicalize(once)

	if !Equal(once, twice) {
		t.Fatal("canonicalize(canonicalize(v)) should equal canonicalize(v)")
	}
	if !IsCanonical(once) {
		t.Fatal("canonicalize(v) should be canonical")
	}
}

func TestCanonicalizeRecursesIntoNestedMaps(t *testing.T) {
	v := Map([]Pair{
		{Key: []byte("outer"), Value: Map([]Pair{
			{Key: []byte("b"), Value: I64(1)},
			{Key: []byte("a"), Value: I64(2)},
		})},
	})

	out := Canonicalize(v)
	pairs, _ := out.Map()
	inner, _ := pairs[0].Value.Map()
	if string(inner[0].Key) != "a" || string(inner[1].Key) != "b" {
		t.Fatalf("nested map not canonicalized: %+v", inner)
	}
}
