package arena

import "github.com/pkg/errors"

// ErrNoMem is returned by ClaimBuffer when the arena has insufficient space.
var ErrNoMem = errors.New("arena: insufficient space")

// ClaimBuffer copies buf's bytes into the arena and returns the new,
// arena-owned slice. If buf is already owned by the arena it is returned
// unchanged, matching ggl_arena_claim_buf's no-op fast path.
func (a *Arena) ClaimBuffer(buf []byte) ([]byte, error) {
	if a.Owns(buf) {
		return buf, nil
	}
	dst := a.Alloc(len(buf), 1)
	if dst == nil && len(buf) > 0 {
		return nil, ErrNoMem
	}
	copy(dst, buf)
	return dst, nil
}
