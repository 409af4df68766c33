package one

// INT_LIST values are delta-encoded against the previous element, then
// truncated to the narrowest common byte width across the whole list,
// with the number of stripped leading bytes stashed in the top byte of
// the list's length field.

// int64ToBytes renders v as 8 big-endian two's-complement bytes.
func int64ToBytes(v int64) [8]byte {
	var b [8]byte
	u := uint64(v)
	for i := 7; i >= 0; i-- {
		b[i] = byte(u)
		u >>= 8
	}
	return b
}

func bytesToInt64(b [8]byte) int64 {
	var u uint64
	for i := 0; i < 8; i++ {
		u = (u << 8) | uint64(b[i])
	}
	return int64(u)
}

// leadingRedundantBytes counts the leading bytes of b that carry no
// information: for a non-negative value, leading 0x00 bytes whose
// following byte also has its sign bit clear; for a negative value,
// leading 0xff bytes whose following byte also has its sign bit set.
// At most 7 bytes are ever reported redundant, so every value keeps at
// least one byte.
func leadingRedundantBytes(b [8]byte) int {
	if b[0]&0x80 == 0 {
		n := 0
		for n < 7 && b[n] == 0x00 && b[n+1]&0x80 == 0 {
			n++
		}
		return n
	}
	n := 0
	for n < 7 && b[n] == 0xff && b[n+1]&0x80 != 0 {
		n++
	}
	return n
}

// CompactIntList delta-encodes values (each element minus its
// predecessor, the first against zero) and strips the widest common
// prefix of redundant bytes from the resulting 8-byte deltas. It returns
// the packed payload and the number of bytes stripped per element (0-7).
func CompactIntList(values []int64) (packed []byte, stripBytes int) {
	if len(values) == 0 {
		return nil, 0
	}
	diffs := make([][8]byte, len(values))
	strip := 7
	prev := int64(0)
	for i, v := range values {
		d := v - prev
		prev = v
		diffs[i] = int64ToBytes(d)
		if n := leadingRedundantBytes(diffs[i]); n < strip {
			strip = n
		}
	}
	width := 8 - strip
	out := make([]byte, 0, len(diffs)*width)
	for _, b := range diffs {
		out = append(out, b[strip:]...)
	}
	return out, strip
}

// DecompactIntList reverses CompactIntList, reconstructing n values from
// a packed buffer whose elements were each truncated to 8-stripBytes
// bytes.
func DecompactIntList(packed []byte, n int, stripBytes int) ([]int64, error) {
	width := 8 - stripBytes
	if width <= 0 || width > 8 {
		return nil, newErr(KindBinary, 0, "invalid int-list strip count %d", stripBytes)
	}
	if len(packed) < n*width {
		return nil, newErr(KindBinary, 0, "truncated int-list payload")
	}
	out := make([]int64, n)
	prev := int64(0)
	for i := 0; i < n; i++ {
		chunk := packed[i*width : (i+1)*width]
		var b [8]byte
		if chunk[0]&0x80 != 0 {
			for j := 0; j < stripBytes; j++ {
				b[j] = 0xff
			}
		}
		copy(b[stripBytes:], chunk)
		prev += bytesToInt64(b)
		out[i] = prev
	}
	return out, nil
}

// listLengthStripShift is the bit position, within a list's serialized
// 64-bit length field, where the INT_LIST strip-byte count is stashed.
// Real list lengths never approach 2^56 elements, leaving the top byte
// free.
const listLengthStripShift = 56

// PackListLength combines an element count with an INT_LIST strip-byte
// count into one 64-bit field for binary serialization.
func PackListLength(n int64, stripBytes int) uint64 {
	return uint64(n) | (uint64(stripBytes) << listLengthStripShift)
}

// UnpackListLength splits a serialized list-length field back into its
// element count and strip-byte count.
func UnpackListLength(packed uint64) (n int64, stripBytes int) {
	return int64(packed & (1<<listLengthStripShift - 1)), int(packed >> listLengthStripShift)
}
