package one

// dnaEncodeTable maps any byte to a 2-bit code, folding everything other
// than A/C/G/T (in either case) to the code for 'A'.
var dnaEncodeTable = func() [256]byte {
	var t [256]byte
	set := func(c byte, v byte) { t[c] = v }
	set('a', 0)
	set('c', 1)
	set('g', 2)
	set('t', 3)
	set('A', 0)
	set('C', 1)
	set('G', 2)
	set('T', 3)
	return t
}()

var dnaDecodeTable = [4]byte{'a', 'c', 'g', 't'}

// EncodeDNA packs a base-per-byte sequence into 2 bits per base, 4 bases
// per output byte, most-significant pair first. Any byte that isn't
// A/C/G/T in either case is silently folded to A's code.
func EncodeDNA(seq []byte) []byte {
	out := make([]byte, (len(seq)+3)/4)
	for i, b := range seq {
		code := dnaEncodeTable[b]
		out[i/4] |= code << uint(6-2*(i%4))
	}
	return out
}

// DecodeDNA unpacks n bases from a 2-bit packed buffer produced by
// EncodeDNA. Decoded bases are always lowercase, since the 2-bit
// representation cannot recover the original case.
func DecodeDNA(packed []byte, n int) []byte {
	return DecodeDNAInto(make([]byte, n), packed, n)
}

// DecodeDNAInto is DecodeDNA decoding into a caller-supplied buffer,
// which must hold at least n bytes. It returns dst[:n].
func DecodeDNAInto(dst, packed []byte, n int) []byte {
	dst = dst[:n]
	for i := 0; i < n; i++ {
		b := packed[i/4]
		code := (b >> uint(6-2*(i%4))) & 3
		dst[i] = dnaDecodeTable[code]
	}
	return dst
}
