package arena

import "testing"

func TestAllocWithinCapacity(t *testing.T) {
	a := New(make([]byte, 16))

	b := a.Alloc(10, 1)
	if b == nil {
		t.Fatal("expected allocation to succeed")
	}
	if len(b) != 10 {
		t.Fatalf("len = %d, want 10", len(b))
	}
	if a.Used() != 10 {
		t.Fatalf("used = %d, want 10", a.Used())
	}
	if a.Remaining() != 6 {
		t.Fatalf("remaining = %d, want 6", a.Remaining())
	}
}

func TestAllocExhausted(t *testing.T) {
	a := New(make([]byte, 4))

	if b := a.Alloc(5, 1); b != nil {
		t.Fatal("expected allocation exceeding capacity to fail")
	}
	if b := a.Alloc(4, 1); b == nil {
		t.Fatal("expected allocation at exact capacity to succeed")
	}
	if b := a.Alloc(1, 1); b != nil {
		t.Fatal("expected further allocation after exhaustion to fail")
	}
}

func TestAllocAlignment(t *testing.T) {
	a := New(make([]byte, 16))

	a.Alloc(1, 1) // misalign the bump index
	b := a.Alloc(4, 4)
	if b == nil {
		t.Fatal("expected aligned allocation to succeed")
	}
	if a.Used() != 8 {
		t.Fatalf("used = %d, want 8 (1 byte + 3 padding + 4 byte alloc)", a.Used())
	}
}

func TestOwns(t *testing.T) {
	a := New(make([]byte, 16))
	owned := a.Alloc(4, 1)
	foreign := make([]byte, 4)

	if !a.Owns(owned) {
		t.Fatal("expected arena to own its own allocation")
	}
	if a.Owns(foreign) {
		t.Fatal("expected arena not to own an unrelated slice")
	}
}

func TestClaimBufferCopiesForeignBytes(t *testing.T) {
	a := New(make([]byte, 16))
	src := []byte("hello")

	claimed, err := a.ClaimBuffer(src)
	if err != nil {
		t.Fatalf("ClaimBuffer: %v", err)
	}
	if string(claimed) != "hello" {
		t.Fatalf("claimed = %q, want %q", claimed, "hello")
	}
	if !a.Owns(claimed) {
		t.Fatal("expected claimed buffer to be owned by the arena")
	}

	src[0] = 'H'
	if claimed[0] == 'H' {
		t.Fatal("claimed buffer should not alias the source after claiming")
	}
}

func TestClaimBufferNoopWhenAlreadyOwned(t *testing.T) {
	a := New(make([]byte, 16))
	owned := a.Alloc(5, 1)
	copy(owned, "abcde")

	claimed, err := a.ClaimBuffer(owned)
	if err != nil {
		t.Fatalf("ClaimBuffer: %v", err)
	}
	if &claimed[0] != &owned[0] {
		t.Fatal("expected ClaimBuffer to return the same backing array when already owned")
	}
}

func TestClaimBufferInsufficientSpace(t *testing.T) {
	a := New(make([]byte, 4))
	_, err := a.ClaimBuffer([]byte("too long"))
	if err != ErrNoMem {
		t.Fatalf("err = %v, want ErrNoMem", err)
	}
}
