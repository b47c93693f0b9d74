package ipc

import (
	"testing"

	"github.com/aws-greengrass/ggipc-go/value"
)

func TestUnwrapConfigValueFiresOnSingleKeyMatch(t *testing.T) {
	v := value.Map([]value.Pair{
		{Key: []byte("key"), Value: value.Buf([]byte("Hello World!"))},
	})
	got := unwrapConfigValue(v, []string{"config", "key"})
	buf, ok := got.Buffer()
	if !ok || string(buf) != "Hello World!" {
		t.Fatalf("unwrapConfigValue = %+v, want buffer Hello World!", got)
	}
}

func TestUnwrapConfigValueSkippedOnEmptyPath(t *testing.T) {
	v := value.Map([]value.Pair{
		{Key: []byte("key"), Value: value.Buf([]byte("Hello World!"))},
	})
	got := unwrapConfigValue(v, nil)
	if _, ok := got.Map(); !ok {
		t.Fatalf("unwrapConfigValue with empty path should return the map verbatim, got %+v", got)
	}
}

func TestUnwrapConfigValueSkippedOnKeyMismatch(t *testing.T) {
	v := value.Map([]value.Pair{
		{Key: []byte("other"), Value: value.Buf([]byte("x"))},
	})
	got := unwrapConfigValue(v, []string{"config", "key"})
	if _, ok := got.Map(); !ok {
		t.Fatal("unwrapConfigValue should not fire when the sole key doesn't match the path's last element")
	}
}

func TestUnwrapConfigValueSkippedWhenInnerIsMap(t *testing.T) {
	v := value.Map([]value.Pair{
		{Key: []byte("key"), Value: value.Map([]value.Pair{{Key: []byte("nested"), Value: value.I64(1)}})},
	})
	got := unwrapConfigValue(v, []string{"key"})
	if _, ok := got.Map(); !ok {
		t.Fatal("unwrapConfigValue should not unwrap when the inner value is itself a map")
	}
}

func TestUnwrapConfigValueSkippedOnMultiKeyMap(t *testing.T) {
	v := value.Map([]value.Pair{
		{Key: []byte("key"), Value: value.Buf([]byte("a"))},
		{Key: []byte("other"), Value: value.Buf([]byte("b"))},
	})
	got := unwrapConfigValue(v, []string{"key"})
	pairs, ok := got.Map()
	if !ok || len(pairs) != 2 {
		t.Fatalf("unwrapConfigValue on a multi-key map should return it verbatim, got %+v", got)
	}
}

func TestErrOrRemoteWrapsAndAsRemoteErrorUnwraps(t *testing.T) {
	base := NewError(Remote, "missing")
	remote := &RemoteError{WireCode: "ResourceNotFoundError", Code: RemoteResourceNotFound, Message: "missing"}

	wrapped := errOrRemote(base, remote)
	if wrapped == nil {
		t.Fatal("errOrRemote returned nil")
	}

	got, ok := AsRemoteError(wrapped)
	if !ok || got != remote {
		t.Fatalf("AsRemoteError = %+v, %v, want %+v, true", got, ok, remote)
	}

	if _, ok := AsRemoteError(base); ok {
		t.Fatal("AsRemoteError should not fire on a bare *Error")
	}
}

func TestStringListRoundTrip(t *testing.T) {
	v := stringList([]string{"a", "b", "c"})
	items, ok := v.List()
	if !ok || len(items) != 3 {
		t.Fatalf("stringList = %+v", v)
	}
	for i, want := range []string{"a", "b", "c"} {
		buf, ok := items[i].Buffer()
		if !ok || string(buf) != want {
			t.Fatalf("stringList[%d] = %+v, want %q", i, items[i], want)
		}
	}
}
