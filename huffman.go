package one

import (
	"encoding/binary"
	"log/slog"
	"sort"
	"sync"
)

// huffState models the Huffman codec's forward-only state machine: EMPTY ->
// FILLED -> CODED_WITH_HISTOGRAM during training, or straight to CODED_READ
// when deserialized from a footer.
type huffState int

const (
	huffEmpty huffState = iota
	huffFilled
	huffCoded
	huffCodedRead
)

// huffCutoff bounds canonical code length at 12 bits; it must never exceed
// 16 because the decoding lookup table is indexed by a 16-bit prefix.
const huffCutoff = 12

// defaultTrainingThreshold is the per-line-type byte threshold at which a
// serial writer locks its codec and switches to compressed output.
const defaultTrainingThreshold = 100000

// HuffmanCodec is the length-limited Huffman encoder/decoder, built with
// the Larmore-Hirschberg coin-collector algorithm. Decoding uses a flat
// table indexed by a 16-bit prefix of the input, filled by replicating
// each code's payload across every slot whose top bits match it.
type HuffmanCodec struct {
	state  huffState
	hist   [256]uint64
	lens   [256]uint8
	bits   [256]uint16
	lookup [1 << 16]uint8 // 16-bit code prefix -> decoded byte

	escCode int // -1 if no escape code
	escLen  int

	bigEndian bool // recorded for serialization only

	// mu guards training (Accumulate/Build) when a codec is shared across
	// a ThreadGroup's peer writers. Encode/Decode read the post-Build tables without locking: Ready
	// acquiring mu after a Build's Unlock establishes the happens-before
	// edge that makes those tables safe to read afterward.
	mu sync.Mutex
}

// Ready reports whether vc has finished training and is safe to Encode
// or Decode with.
func (vc *HuffmanCodec) Ready() bool {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	return vc.state >= huffCoded
}

// ObserveAndMaybeBuild folds data into vc's training histogram and, once
// the combined histogram crosses threshold, builds the final codec. Safe
// to call concurrently from multiple peers sharing the same codec.
func (vc *HuffmanCodec) ObserveAndMaybeBuild(data []byte, threshold uint64) error {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	if vc.state >= huffCoded {
		return nil
	}
	vc.Accumulate(data)
	if vc.Trained(threshold) {
		return vc.Build(true)
	}
	return nil
}

// logBuild is called by Writer after a codec it owns crosses the training
// threshold, so the "one:"-tagged diagnostic channel reports when a line
// type's encoding switches from raw to compressed.
func (vc *HuffmanCodec) logBuild(log *slog.Logger, sym byte, kind string) {
	if log == nil || vc.state < huffCoded {
		return
	}
	log.Debug("one: huffman codec trained", "line_type", string(sym), "kind", kind)
}

// DNACodec is the sentinel value identifying the special 2-bit DNA
// compressor: any DNA-typed list always uses it, and it is never trained
// or serialized.
var DNACodec = &HuffmanCodec{state: huffCodedRead}

// NewHuffmanCodec returns a codec in the EMPTY state.
func NewHuffmanCodec(bigEndian bool) *HuffmanCodec {
	return &HuffmanCodec{state: huffEmpty, escCode: -1, bigEndian: bigEndian}
}

// IsDNA reports whether vc is the shared DNA codec sentinel.
func (vc *HuffmanCodec) IsDNA() bool { return vc == DNACodec }

// Accumulate folds len(data) bytes into the training histogram,
// transitioning EMPTY -> FILLED on first use.
func (vc *HuffmanCodec) Accumulate(data []byte) {
	if vc.IsDNA() {
		return
	}
	for _, b := range data {
		vc.hist[b]++
	}
	if vc.state == huffEmpty {
		vc.state = huffFilled
	}
}

// Trained reports whether enough bytes have accumulated to cross the
// training threshold.
func (vc *HuffmanCodec) Trained(threshold uint64) bool {
	var total uint64
	for _, h := range vc.hist {
		total += h
	}
	return total >= threshold
}

// AddHistogram merges another codec's training histogram into vc, for the
// parallel-writer merge step.
func (vc *HuffmanCodec) AddHistogram(other *HuffmanCodec) {
	for i := range vc.hist {
		vc.hist[i] += other.hist[i]
	}
	vc.state = huffFilled
}

// Build constructs canonical length-limited codes from the training
// histogram (Larmore-Hirschberg coin-collector). If partial is true and
// at least one byte was never observed during training, an
// escape code is reserved so unknown bytes can still be spelled out.
func (vc *HuffmanCodec) Build(partial bool) error {
	if vc.state >= huffCoded {
		return newErr(KindBinary, 0, "huffman codec already built")
	}
	if vc.state == huffEmpty {
		return newErr(KindBinary, 0, "huffman codec has no training data")
	}

	var code [257]int // byte values participating, sorted by ascending histogram count
	ncode := 0
	ecode := -1
	if partial {
		ecode = -2 // sentinel: "want an escape, none chosen yet"
	}
	for i := 0; i < 256; i++ {
		if vc.hist[i] > 0 {
			code[ncode] = i
			ncode++
		} else if ecode == -2 {
			ecode = i
			code[ncode] = i
			ncode++
		}
	}
	if ecode == -2 {
		ecode = -1 // every byte value occurred; no room for an escape
	}

	sort.Slice(code[:ncode], func(i, j int) bool { return vc.hist[code[i]] < vc.hist[code[j]] })

	leng := buildLengthLimitedLengths(vc.hist[:], code[:ncode])

	// assign canonical codes in the same (ascending-histogram) order as code[]
	var bitsOut [257]uint16
	if ncode == 1 {
		leng[0] = 1
		bitsOut[0] = 1
	} else {
		llen := leng[0]
		lbits := uint16(1)<<uint(llen) - 1
		bitsOut[0] = lbits
		for n := 1; n < ncode; n++ {
			for lbits&1 == 0 {
				lbits >>= 1
				llen--
			}
			lbits--
			for llen < leng[n] {
				lbits = (lbits << 1) | 1
				llen++
			}
			bitsOut[n] = lbits
		}
	}

	for i := range vc.lens {
		vc.lens[i] = 0
		vc.bits[i] = 0
	}
	for i := 0; i < ncode; i++ {
		vc.lens[code[i]] = uint8(leng[i])
		vc.bits[code[i]] = bitsOut[i]
	}

	for i := 0; i < 256; i++ {
		if vc.lens[i] == 0 {
			continue
		}
		base := vc.bits[i] << (16 - vc.lens[i])
		span := 1 << (16 - vc.lens[i])
		for j := 0; j < span; j++ {
			vc.lookup[int(base)+j] = byte(i)
		}
	}

	if ecode >= 0 {
		vc.escCode = ecode
		vc.escLen = int(vc.lens[ecode])
		vc.lens[ecode] = 0 // lens[esc]=0 signals "encode via escape path"
	} else {
		vc.escCode = -1
	}
	vc.state = huffCoded
	return nil
}

// buildLengthLimitedLengths runs the Larmore-Hirschberg coin-collector
// package-merge construction and returns, for each entry of code (already
// sorted ascending by histogram weight), its canonical code length bounded
// by huffCutoff.
func buildLengthLimitedLengths(hist []uint64, code []int) []int {
	ncode := len(code)
	leng := make([]int, ncode)
	if ncode <= 1 {
		return leng
	}

	const sentinel = uint64(1) << 62
	dcode := 2 * ncode

	countb := make([]uint64, ncode)
	for n := 0; n < ncode; n++ {
		countb[n] = hist[code[n]]
	}

	count1 := make([]uint64, dcode)
	count2 := make([]uint64, dcode)
	for i := range count1 {
		count1[i] = sentinel
		count2[i] = sentinel
	}
	for n := 0; n < ncode; n++ {
		count1[n] = countb[n]
	}

	matrix := make([][]byte, huffCutoff)
	for l := range matrix {
		matrix[l] = make([]byte, dcode)
	}

	lcnt, ccnt := count1, count2
	llen := ncode - 1
	for L := huffCutoff - 1; L > 0; L-- {
		j, k, n := 0, 0, 0
		for j < ncode || k < llen {
			if k >= llen || (j < ncode && countb[j] <= lcnt[k]+lcnt[k+1]) {
				ccnt[n] = countb[j]
				matrix[L][n] = 1
				j++
			} else {
				ccnt[n] = lcnt[k] + lcnt[k+1]
				matrix[L][n] = 0
				k += 2
			}
			n++
		}
		llen = n - 1
		lcnt, ccnt = ccnt, lcnt
	}

	span := 2 * (ncode - 1)
	for L := 1; L < huffCutoff; L++ {
		j := 0
		for n := 0; n < span; n++ {
			if matrix[L][n] != 0 {
				leng[j]++
				j++
			}
		}
		span = 2 * (span - j)
	}
	for n := 0; n < span && n < ncode; n++ {
		leng[n]++
	}
	return leng
}

// MaxSerialSize returns the largest number of bytes Serialize can produce:
// 1 endian byte + 2 ints (escape code, escape length) + 256 one-byte
// lengths + up to 256 two-byte codes.
func (vc *HuffmanCodec) MaxSerialSize() int {
	return 257 + 2*4 + 256*2
}

// Serialize encodes the codec's code-length and code-bits tables (never
// the histogram) to a byte slice. Multi-byte fields are written in the
// codec's own byte order, which the leading endian byte records. The DNA
// codec serializes to an empty slice, since it is never trained or
// transmitted.
func (vc *HuffmanCodec) Serialize() []byte {
	if vc.IsDNA() {
		return nil
	}
	out := make([]byte, 0, vc.MaxSerialSize())
	bo := binary.ByteOrder(binary.LittleEndian)
	if vc.bigEndian {
		bo = binary.BigEndian
		out = append(out, 1)
	} else {
		out = append(out, 0)
	}
	var tmp [4]byte
	bo.PutUint32(tmp[:], uint32(int32(vc.escCode)))
	out = append(out, tmp[:]...)
	bo.PutUint32(tmp[:], uint32(int32(vc.escLen)))
	out = append(out, tmp[:]...)
	for i := 0; i < 256; i++ {
		out = append(out, vc.lens[i])
		if vc.lens[i] > 0 || i == vc.escCode {
			var b [2]byte
			bo.PutUint16(b[:], vc.bits[i])
			out = append(out, b[:]...)
		}
	}
	return out
}

// DeserializeHuffman reconstructs a codec from a Serialize blob. The
// result starts in CODED_READ: it has no histogram, only a usable codec.
// Multi-byte fields (the escape fields and the codes) are read in
// hostBigEndian's byte order, and byte-flipped on the way in when the
// serialized endian byte doesn't match it.
func DeserializeHuffman(in []byte, hostBigEndian bool) (*HuffmanCodec, error) {
	if len(in) < 9 {
		return nil, newErr(KindBinary, 0, "truncated huffman codec blob")
	}
	vc := &HuffmanCodec{state: huffCodedRead, escCode: -1}
	srcBig := in[0] != 0
	flip := srcBig != hostBigEndian
	host := binary.ByteOrder(binary.LittleEndian)
	if hostBigEndian {
		host = binary.BigEndian
	}
	p := 1

	readI32 := func() int32 {
		b := in[p : p+4]
		if flip {
			b = []byte{b[3], b[2], b[1], b[0]}
		}
		v := int32(host.Uint32(b))
		p += 4
		return v
	}
	vc.escCode = int(readI32())
	vc.escLen = int(readI32())
	for i := 0; i < 256; i++ {
		if p >= len(in) {
			return nil, newErr(KindBinary, 0, "truncated huffman codec blob")
		}
		vc.lens[i] = in[p]
		p++
		if vc.lens[i] > 0 || i == vc.escCode {
			if p+2 > len(in) {
				return nil, newErr(KindBinary, 0, "truncated huffman codec blob")
			}
			b := in[p : p+2]
			if flip {
				b = []byte{b[1], b[0]}
			}
			vc.bits[i] = host.Uint16(b)
			p += 2
		}
	}
	if vc.escCode >= 0 {
		vc.lens[vc.escCode] = uint8(vc.escLen)
	}
	for i := 0; i < 256; i++ {
		if vc.lens[i] == 0 {
			continue
		}
		base := vc.bits[i] << (16 - vc.lens[i])
		span := 1 << (16 - vc.lens[i])
		for j := 0; j < span; j++ {
			vc.lookup[int(base)+j] = byte(i)
		}
	}
	if vc.escCode >= 0 {
		vc.lens[vc.escCode] = 0
	}
	vc.bigEndian = hostBigEndian
	return vc, nil
}

// bitWriter is a simple MSB-first bit packer shared by Encode.
type bitWriter struct {
	buf  []byte
	cur  byte
	nbit uint
}

func (w *bitWriter) writeBits(v uint16, n int) {
	for i := n - 1; i >= 0; i-- {
		bit := (v >> uint(i)) & 1
		w.cur = (w.cur << 1) | byte(bit)
		w.nbit++
		if w.nbit == 8 {
			w.buf = append(w.buf, w.cur)
			w.cur = 0
			w.nbit = 0
		}
	}
}

func (w *bitWriter) total() int { return len(w.buf)*8 + int(w.nbit) }

func (w *bitWriter) bytes() []byte {
	if w.nbit > 0 {
		w.buf = append(w.buf, w.cur<<(8-w.nbit))
	}
	return w.buf
}

// Encode compresses src and returns the packed bits plus the number of
// bits written. A byte with no assigned code is spelled through the
// escape code when one exists; with no escape code Encode returns an
// error. Encode itself never falls back to a raw literal: it returns the
// coded form even when that is no shorter than src, and the binary-line
// writer compares nbits against len(src)*8 and, when coding does not
// help, writes src raw with the Huffman flag clear.
func (vc *HuffmanCodec) Encode(src []byte) (dst []byte, nbits int, err error) {
	if vc.IsDNA() {
		return nil, 0, newErr(KindBinary, 0, "DNA codec does not support generic Encode")
	}
	if vc.state < huffCoded {
		return nil, 0, newErr(KindBinary, 0, "huffman codec has no code tables")
	}
	w := &bitWriter{}
	for _, b := range src {
		n := vc.lens[b]
		if n == 0 {
			if vc.escCode < 0 {
				return nil, 0, newErr(KindBinary, 0, "no code for byte %d and no escape code", b)
			}
			w.writeBits(vc.bits[vc.escCode], vc.escLen)
			w.writeBits(uint16(b), 8)
			continue
		}
		w.writeBits(vc.bits[b], int(n))
	}
	total := w.total()
	data := w.bytes()
	if total >= len(src)*8 {
		// Falling back to a raw literal is cheaper; let the caller decide,
		// but still return the compressed form so callers that don't care
		// about the fallback (e.g. tests) can use it directly.
		return data, total, nil
	}
	return data, total, nil
}

// Decode reverses Encode: src holds nbits of packed code, and outLen is
// the number of decoded bytes expected.
func (vc *HuffmanCodec) Decode(src []byte, nbits int, outLen int) ([]byte, error) {
	if vc.IsDNA() {
		return nil, newErr(KindBinary, 0, "DNA codec does not support generic Decode")
	}
	out := make([]byte, 0, outLen)
	pos := 0
	peek := func(n int) uint16 {
		var v uint16
		for i := 0; i < n; i++ {
			bitIdx := pos + i
			byteIdx := bitIdx / 8
			var bit uint16
			if byteIdx < len(src) {
				bit = uint16((src[byteIdx] >> uint(7-bitIdx%8)) & 1)
			}
			v = (v << 1) | bit
		}
		return v
	}
	for len(out) < outLen {
		if pos >= nbits {
			return nil, newErr(KindBinary, 0, "huffman decode ran out of bits")
		}
		prefix := peek(16)
		sym := vc.lookup[prefix]
		n := int(vc.lens[sym])
		if vc.escCode >= 0 && sym == byte(vc.escCode) && n == 0 {
			n = vc.escLen
		}
		if n == 0 {
			return nil, newErr(KindBinary, 0, "huffman decode found unknown code prefix")
		}
		if vc.escCode >= 0 && int(sym) == vc.escCode && int(vc.lens[sym]) == 0 {
			pos += n
			lit := peek(8)
			pos += 8
			out = append(out, byte(lit))
			continue
		}
		pos += n
		out = append(out, sym)
	}
	return out, nil
}
