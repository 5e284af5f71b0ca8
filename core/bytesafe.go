package core

// EqualConstantTime reports whether a and b hold identical bytes. For inputs
// of equal length it always walks every byte so that the number of
// comparisons does not leak where two unequal inputs first diverge; only the
// up-front length check is allowed to short-circuit, since block and MAC
// lengths are fixed by configuration and are not themselves secret.
func EqualConstantTime(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := range a {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}

// XORConstantTime XORs a and b byte-for-byte. Both slices must share the
// same length; otherwise it fails with ErrLengthMismatch. The loop performs
// the same operation on every byte regardless of content, so it carries no
// data-dependent branches.
func XORConstantTime(a, b []byte) ([]byte, error) {
	if len(a) != len(b) {
		return nil, NewError(ErrLengthMismatch, "", nil)
	}
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out, nil
}

// XORMany XORs an ordered sequence of equal-length byte slices together.
// XOR is commutative and associative, so the result is independent of
// chunk order; callers that need reversibility (whitening) must still track
// the tuple's positions for determinism. At least one chunk is required.
func XORMany(chunks ...[]byte) ([]byte, error) {
	if len(chunks) == 0 {
		return nil, NewError(ErrLengthMismatch, "", nil)
	}
	size := len(chunks[0])
	out := make([]byte, size)
	copy(out, chunks[0])
	for _, c := range chunks[1:] {
		if len(c) != size {
			return nil, NewError(ErrLengthMismatch, "", nil)
		}
		for i := range out {
			out[i] ^= c[i]
		}
	}
	return out, nil
}
