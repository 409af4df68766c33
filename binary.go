package one

import (
	"encoding/binary"
	"math"
)

// Binary line framing: a tag byte with its high bit set,
// bits 6-2 holding a 5-bit binary symbol (A-Z -> 0-25, the file type's
// group symbol -> 26, and 27-31 reserved for the list codec, field codec,
// object index, group index and comment line types), bit 1 flagging
// Huffman-coded list payload, and bit 0 flagging a Huffman-coded field
// tuple.
const (
	binTagHighBit  = 0x80
	binSymShift    = 2
	binListHuffBit = 0x02
	binFieldHuff   = 0x01

	// commentBinarySymbol is the 5-bit tag symbol of the "/" comment line.
	// The "." line has no packed form: the blank separator that ends a
	// binary data region is written as a plain ASCII "." line.
	commentBinarySymbol = 31
)

func byteOrder(fs *FileState) binary.ByteOrder {
	if fs.BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// fixedFieldWidth returns the schema-known fixed byte width of a non-list
// field type, or -1 for STRING, whose length varies per line and which
// therefore can't participate in field-tuple Huffman coding.
func fixedFieldWidth(ft FieldType) int {
	switch ft {
	case Int, Real:
		return 8
	case Char:
		return 1
	default:
		return -1
	}
}

// lineFixedWidth returns the total schema-known fixed byte width of
// spec's non-list fields, or -1 if any of them is variable-length.
func lineFixedWidth(spec *LineSpec) int {
	total := 0
	for i, ft := range spec.Fields {
		if i == spec.ListField {
			continue
		}
		w := fixedFieldWidth(ft)
		if w < 0 {
			return -1
		}
		total += w
	}
	return total
}

func encodeFixedFields(bo binary.ByteOrder, spec *LineSpec, ln *Line) []byte {
	var buf []byte
	for i, ft := range spec.Fields {
		if i == spec.ListField {
			continue
		}
		fv := ln.Fields[i]
		switch ft {
		case Int:
			var b [8]byte
			bo.PutUint64(b[:], uint64(fv.Int))
			buf = append(buf, b[:]...)
		case Real:
			var b [8]byte
			bo.PutUint64(b[:], math.Float64bits(fv.Real))
			buf = append(buf, b[:]...)
		case Char:
			buf = append(buf, fv.Char)
		case String:
			var b [8]byte
			bo.PutUint64(b[:], uint64(len(fv.Str)))
			buf = append(buf, b[:]...)
			buf = append(buf, []byte(fv.Str)...)
		}
	}
	return buf
}

func decodeFixedFields(bo binary.ByteOrder, spec *LineSpec, buf []byte) ([]FieldValue, error) {
	out := make([]FieldValue, len(spec.Fields))
	p := 0
	need := func(n int) error {
		if p+n > len(buf) {
			return newErr(KindBinary, 0, "truncated fixed field block")
		}
		return nil
	}
	for i, ft := range spec.Fields {
		if i == spec.ListField {
			continue
		}
		switch ft {
		case Int:
			if err := need(8); err != nil {
				return nil, err
			}
			out[i].Int = int64(bo.Uint64(buf[p : p+8]))
			p += 8
		case Real:
			if err := need(8); err != nil {
				return nil, err
			}
			out[i].Real = math.Float64frombits(bo.Uint64(buf[p : p+8]))
			p += 8
		case Char:
			if err := need(1); err != nil {
				return nil, err
			}
			out[i].Char = buf[p]
			p++
		case String:
			if err := need(8); err != nil {
				return nil, err
			}
			n := int(bo.Uint64(buf[p : p+8]))
			p += 8
			if err := need(n); err != nil {
				return nil, err
			}
			out[i].Str = string(buf[p : p+n])
			p += n
		}
	}
	return out, nil
}

// binWriter is a small append-only byte writer used to assemble one
// binary line before it is flushed through the threading layer.
type binWriter struct{ buf []byte }

func (w *binWriter) byte(b byte)     { w.buf = append(w.buf, b) }
func (w *binWriter) bytes(b []byte)  { w.buf = append(w.buf, b...) }
func (w *binWriter) uint64(bo binary.ByteOrder, v uint64) {
	var b [8]byte
	bo.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// binReader walks a byte slice with bounds checking.
type binReader struct {
	buf []byte
	pos int
}

func (r *binReader) byte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, newErr(KindBinary, 0, "unexpected end of binary line")
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *binReader) take(n int) ([]byte, error) {
	if r.pos+n > len(r.buf) {
		return nil, newErr(KindBinary, 0, "unexpected end of binary line")
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *binReader) uint64(bo binary.ByteOrder) (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return bo.Uint64(b), nil
}

// encodeBinaryLine renders ln as a binary data line's byte payload
// (everything after the tag byte, which the caller writes itself once it
// knows whether compression actually helped). li carries this line
// type's trained codecs, if any.
func encodeBinaryLine(fs *FileState, li *lineInfo, spec *LineSpec, ln *Line) (payload []byte, listLen int64, useFieldHuff, useListHuff bool, err error) {
	bo := byteOrder(fs)
	w := &binWriter{}

	fixed := encodeFixedFields(bo, spec, ln)
	if spec.Compressed && li.fieldCodec != nil && li.fieldCodec.Ready() && lineFixedWidth(spec) >= 0 && len(fixed) > 0 {
		enc, nbits, herr := li.fieldCodec.Encode(fixed)
		if herr == nil && nbits < len(fixed)*8 {
			useFieldHuff = true
			w.uint64(bo, uint64(nbits))
			w.bytes(enc)
		}
	}
	if !useFieldHuff {
		w.bytes(fixed)
	}

	if spec.HasList() {
		listLen, err = encodeListField(w, bo, li, spec, ln, &useListHuff)
		if err != nil {
			return nil, 0, false, false, err
		}
	}
	return w.buf, listLen, useFieldHuff, useListHuff, nil
}

// encodeListField appends the list field's payload to w and reports the
// element count and whether Huffman coding was used.
func encodeListField(w *binWriter, bo binary.ByteOrder, li *lineInfo, spec *LineSpec, ln *Line, useListHuff *bool) (int64, error) {
	fv := ln.Fields[spec.ListField]
	switch spec.ListType() {
	case IntList:
		packed, strip := CompactIntList(fv.IntList)
		w.uint64(bo, PackListLength(int64(len(fv.IntList)), strip))
		appendListBytes(w, bo, li, packed, useListHuff)
		return int64(len(fv.IntList)), nil
	case RealList:
		raw := make([]byte, 8*len(fv.RealList))
		for i, v := range fv.RealList {
			bo.PutUint64(raw[i*8:i*8+8], math.Float64bits(v))
		}
		w.uint64(bo, PackListLength(int64(len(fv.RealList)), 0))
		appendListBytes(w, bo, li, raw, useListHuff)
		return int64(len(fv.RealList)), nil
	case String:
		raw := []byte(fv.Str)
		w.uint64(bo, PackListLength(int64(len(raw)), 0))
		appendListBytes(w, bo, li, raw, useListHuff)
		return int64(len(raw)), nil
	case DNA:
		w.uint64(bo, PackListLength(int64(len(fv.DNA)), 0))
		w.bytes(EncodeDNA(fv.DNA))
		return int64(len(fv.DNA)), nil
	case StringList:
		// Never Huffman-coded: each element keeps its own 64-bit length
		// prefix so decoding doesn't need a separate index.
		w.uint64(bo, PackListLength(int64(len(fv.StrList)), 0))
		for _, s := range fv.StrList {
			w.uint64(bo, uint64(len(s)))
			w.bytes([]byte(s))
		}
		return int64(len(fv.StrList)), nil
	default:
		return 0, newErr(KindBinary, 0, "line type %c has no recognized list field type", spec.Symbol)
	}
}

func appendListBytes(w *binWriter, bo binary.ByteOrder, li *lineInfo, raw []byte, useListHuff *bool) {
	if li.listCodec != nil && !li.listCodec.IsDNA() && li.listCodec.Ready() && len(raw) > 0 {
		enc, nbits, err := li.listCodec.Encode(raw)
		if err == nil && nbits < len(raw)*8 {
			*useListHuff = true
			w.uint64(bo, uint64(nbits))
			w.bytes(enc)
			return
		}
	}
	w.bytes(raw)
}

// decodeBinaryLine reverses encodeBinaryLine given the tag byte's
// decompression flags.
func decodeBinaryLine(fs *FileState, li *lineInfo, spec *LineSpec, payload []byte, fieldHuff, listHuff bool) (*Line, error) {
	bo := byteOrder(fs)
	r := &binReader{buf: payload}

	var fixedBuf []byte
	if fieldHuff {
		nbits, err := r.uint64(bo)
		if err != nil {
			return nil, err
		}
		width := lineFixedWidth(spec)
		if width < 0 {
			return nil, newErr(KindBinary, 0, "line type %c has a variable-width field tuple and cannot be field-Huffman coded", spec.Symbol)
		}
		nbytes := (int(nbits) + 7) / 8
		enc, err := r.take(nbytes)
		if err != nil {
			return nil, err
		}
		if li.fieldCodec == nil {
			return nil, newErr(KindBinary, 0, "line type %c: field-Huffman flag set but no codec available", spec.Symbol)
		}
		fixedBuf, err = li.fieldCodec.Decode(enc, int(nbits), width)
		if err != nil {
			return nil, err
		}
	} else {
		width := lineFixedWidth(spec)
		if width < 0 {
			width = fixedFieldScanWidth(bo, spec, r.buf[r.pos:])
		}
		b, err := r.take(width)
		if err != nil {
			return nil, err
		}
		fixedBuf = b
	}

	fields, err := decodeFixedFields(bo, spec, fixedBuf)
	if err != nil {
		return nil, err
	}

	if spec.HasList() {
		if err := decodeListField(r, bo, li, spec, fields, listHuff); err != nil {
			return nil, err
		}
	}
	return &Line{Symbol: spec.Symbol, Fields: fields}, nil
}

// fixedFieldScanWidth computes, for a line type with a variable-length
// STRING field, the actual byte width of one encoded fixed-field block by
// reading its embedded length prefixes directly out of buf.
func fixedFieldScanWidth(bo binary.ByteOrder, spec *LineSpec, buf []byte) int {
	p := 0
	for i, ft := range spec.Fields {
		if i == spec.ListField {
			continue
		}
		switch ft {
		case Int, Real:
			p += 8
		case Char:
			p++
		case String:
			if p+8 > len(buf) {
				return p
			}
			n := int(bo.Uint64(buf[p : p+8]))
			p += 8 + n
		}
	}
	return p
}

func decodeListField(r *binReader, bo binary.ByteOrder, li *lineInfo, spec *LineSpec, fields []FieldValue, listHuff bool) error {
	packedLen, err := r.uint64(bo)
	if err != nil {
		return err
	}
	n, strip := UnpackListLength(packedLen)

	readRaw := func(width int) ([]byte, error) {
		if listHuff {
			nbits, err := r.uint64(bo)
			if err != nil {
				return nil, err
			}
			enc, err := r.take((int(nbits) + 7) / 8)
			if err != nil {
				return nil, err
			}
			if li.listCodec == nil {
				return nil, newErr(KindBinary, 0, "line type %c: list-Huffman flag set but no codec available", spec.Symbol)
			}
			return li.listCodec.Decode(enc, int(nbits), width)
		}
		return r.take(width)
	}

	switch spec.ListType() {
	case IntList:
		width := int(n) * (8 - strip)
		raw, err := readRaw(width)
		if err != nil {
			return err
		}
		vals, err := DecompactIntList(raw, int(n), strip)
		if err != nil {
			return err
		}
		fields[spec.ListField].IntList = vals
	case RealList:
		raw, err := readRaw(int(n) * 8)
		if err != nil {
			return err
		}
		out := make([]float64, n)
		for i := range out {
			out[i] = math.Float64frombits(bo.Uint64(raw[i*8 : i*8+8]))
		}
		fields[spec.ListField].RealList = out
	case String:
		raw, err := readRaw(int(n))
		if err != nil {
			return err
		}
		fields[spec.ListField].Str = string(raw)
	case DNA:
		raw, err := r.take((int(n) + 3) / 4)
		if err != nil {
			return err
		}
		if li.userOwned && cap(li.buf) >= int(n) {
			fields[spec.ListField].DNA = DecodeDNAInto(li.buf[:cap(li.buf)], raw, int(n))
		} else {
			fields[spec.ListField].DNA = DecodeDNA(raw, int(n))
		}
	case StringList:
		out := make([]string, n)
		for i := range out {
			slen, err := r.uint64(bo)
			if err != nil {
				return err
			}
			b, err := r.take(int(slen))
			if err != nil {
				return err
			}
			out[i] = string(b)
		}
		fields[spec.ListField].StrList = out
	default:
		return newErr(KindBinary, 0, "line type %c has no recognized list field type", spec.Symbol)
	}
	return nil
}

// binarySymbolFor resolves a 5-bit tag symbol back to a LineSpec, given
// the active file type (for A-Z/group symbols) and the schema's builtin
// table (for the reserved 27-31 symbols).
func binarySymbolFor(fs *FileState, symCode byte) *LineSpec {
	if symCode <= 25 {
		sym := byte('A') + symCode
		if fs.FileType != nil {
			if ls, ok := fs.FileType.Lines[sym]; ok {
				return ls
			}
		}
		return nil
	}
	if symCode == 26 {
		if fs.FileType != nil && fs.FileType.GroupType != 0 {
			return fs.FileType.Lines[fs.FileType.GroupType]
		}
		return nil
	}
	for _, ls := range fs.Schema.Builtin {
		if ls.BinarySymbol == symCode {
			return ls
		}
	}
	return nil
}

func tagByte(ls *LineSpec, fieldHuff, listHuff bool) byte {
	tag := byte(binTagHighBit) | (ls.BinarySymbol << binSymShift)
	if listHuff {
		tag |= binListHuffBit
	}
	if fieldHuff {
		tag |= binFieldHuff
	}
	return tag
}
