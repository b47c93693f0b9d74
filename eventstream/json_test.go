package eventstream

import (
	"testing"

	"github.com/aws-greengrass/ggipc-go/arena"
	"github.com/aws-greengrass/ggipc-go/value"
)

func TestEncodeJSONScalars(t *testing.T) {
	cases := []struct {
		v    value.Value
		want string
	}{
		{value.Null(), "null"},
		{value.Bool(true), "true"},
		{value.Bool(false), "false"},
		{value.I64(-123), "-123"},
		{value.Buf([]byte(`say "hi"` + "\n")), `"say \"hi\"\n"`},
	}
	for _, c := range cases {
		got, err := EncodeJSON(c.v)
		if err != nil {
			t.Fatalf("EncodeJSON(%v): %v", c.v, err)
		}
		if string(got) != c.want {
			t.Fatalf("EncodeJSON(%v) = %q, want %q", c.v, got, c.want)
		}
	}
}

func TestEncodeJSONMapPreservesOrder(t *testing.T) {
	v := value.Map([]value.Pair{
		{Key: []byte("b"), Value: value.I64(2)},
		{Key: []byte("a"), Value: value.I64(1)},
	})
	got, err := EncodeJSON(v)
	if err != nil {
		t.Fatalf("EncodeJSON: %v", err)
	}
	want := `{"b":2,"a":1}`
	if string(got) != want {
		t.Fatalf("EncodeJSON = %q, want %q", got, want)
	}
}

func TestDecodeJSONNestedMap(t *testing.T) {
	a := arena.New(make([]byte, 4096))
	data := []byte(`{"value":{"key":"Hello World!"},"componentName":"MyComponent"}`)

	v, err := DecodeJSON(data, a)
	if err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}

	pairs, ok := v.Map()
	if !ok || len(pairs) != 2 {
		t.Fatalf("decoded value = %+v", v)
	}

	inner, ok := value.MapGet(pairs, []byte("value"))
	if !ok {
		t.Fatal("missing value key")
	}
	innerPairs, ok := inner.Map()
	if !ok || len(innerPairs) != 1 {
		t.Fatalf("inner value = %+v", inner)
	}
	keyVal, ok := value.MapGet(innerPairs, []byte("key"))
	if !ok {
		t.Fatal("missing key")
	}
	buf, ok := keyVal.Buffer()
	if !ok || string(buf) != "Hello World!" {
		t.Fatalf("key value = %q", buf)
	}
}

func TestDecodeJSONUnescapesStrings(t *testing.T) {
	a := arena.New(make([]byte, 4096))
	data := []byte(`"line1\nline2\tA"`)

	v, err := DecodeJSON(data, a)
	if err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	buf, ok := v.Buffer()
	if !ok {
		t.Fatalf("decoded value = %+v, want buffer", v)
	}
	if string(buf) != "line1\nline2\tA" {
		t.Fatalf("unescaped = %q", buf)
	}
}

func TestDecodeJSONNumbers(t *testing.T) {
	a := arena.New(make([]byte, 4096))

	v, err := DecodeJSON([]byte("123456789"), a)
	if err != nil {
		t.Fatalf("DecodeJSON int: %v", err)
	}
	i, ok := v.I64()
	if !ok || i != 123456789 {
		t.Fatalf("I64() = %d, %v", i, ok)
	}

	v, err = DecodeJSON([]byte("123.456"), a)
	if err != nil {
		t.Fatalf("DecodeJSON float: %v", err)
	}
	f, ok := v.F64()
	if !ok {
		t.Fatal("expected float value")
	}
	if diff := f - 123.456; diff > 1e-4 || diff < -1e-4 {
		t.Fatalf("F64() = %v, want ~123.456", f)
	}
}

func TestDecodeJSONList(t *testing.T) {
	a := arena.New(make([]byte, 4096))
	v, err := DecodeJSON([]byte(`[1,2,3]`), a)
	if err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	items, ok := v.List()
	if !ok || len(items) != 3 {
		t.Fatalf("decoded list = %+v", v)
	}
}

func TestDecodeJSONRejectsTooDeep(t *testing.T) {
	a := arena.New(make([]byte, 4096))
	nested := ""
	for i := 0; i < value.MaxObjectDepth+2; i++ {
		nested += "["
	}
	for i := 0; i < value.MaxObjectDepth+2; i++ {
		nested += "]"
	}
	if _, err := DecodeJSON([]byte(nested), a); err == nil {
		t.Fatal("expected max-depth violation to be rejected")
	}
}

func TestEncodeDecodeValueRoundTrip(t *testing.T) {
	original := value.Map([]value.Pair{
		{Key: []byte("name"), Value: value.Buf([]byte("widget"))},
		{Key: []byte("count"), Value: value.I64(7)},
		{Key: []byte("active"), Value: value.Bool(true)},
		{Key: []byte("tags"), Value: value.List([]value.Value{value.Buf([]byte("a")), value.Buf([]byte("b"))})},
	})

	encoded, err := EncodeJSON(original)
	if err != nil {
		t.Fatalf("EncodeJSON: %v", err)
	}

	a := arena.New(make([]byte, 4096))
	decoded, err := DecodeJSON(encoded, a)
	if err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}

	if !value.Equal(value.Canonicalize(original), value.Canonicalize(decoded)) {
		t.Fatalf("round trip mismatch: original=%+v decoded=%+v", original, decoded)
	}
}
