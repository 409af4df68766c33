package one

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// countingWriter tracks how many bytes have passed through it, so the
// object index can record byte offsets without requiring a seekable
// output stream.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// Writer serializes Lines to an underlying stream in either ASCII or
// binary form, tracking per-line-type counts, codecs and index entries
// as it goes.
type Writer struct {
	fs  *FileState
	out *countingWriter

	headerWritten bool
	finalized     bool
	cancelled     bool

	trainingThreshold uint64

	// codecHub is non-nil only for a Writer that is one peer of a
	// ThreadGroup: it routes codec training through a trainer shared by
	// every peer so that all peers write under one identical codec once
	// training completes, instead of each peer building (and writing
	// under) its own.
	codecHub *sharedTrainer
}

// NewWriter opens a fresh output stream for a file of the given primary
// type. binaryMode selects the packed binary encoding; bigEndian selects
// its byte order (ignored in ASCII mode).
func NewWriter(w io.Writer, schema *Schema, primary string, binaryMode, bigEndian bool) (*Writer, error) {
	ft := schema.Lookup(primary)
	if ft == nil {
		return nil, newErr(KindSchema, 0, "schema has no file type %q", primary)
	}
	fs := newFileState(schema, ft)
	fs.IsBinary = binaryMode
	fs.BigEndian = bigEndian
	fs.MajorVers = MajorVersion
	fs.MinorVers = MinorVersion
	return &Writer{fs: fs, out: &countingWriter{w: w}, trainingThreshold: defaultTrainingThreshold}, nil
}

// NewWriterFrom opens a fresh output stream that inherits schema,
// subtype, provenance/reference history, and declared counts from an
// already-open Reader, the way pipeline stages chain one file into the
// next.
func NewWriterFrom(w io.Writer, src *Reader, binaryMode bool) (*Writer, error) {
	wr, err := NewWriter(w, src.fs.Schema, src.fs.FileType.Primary, binaryMode, src.fs.BigEndian)
	if err != nil {
		return nil, err
	}
	wr.fs.Subtype = src.fs.Subtype
	wr.fs.Provenance = append([]Provenance{}, src.fs.Provenance...)
	wr.fs.References = append([]Reference{}, src.fs.References...)
	wr.fs.Deferred = append([]Deferred{}, src.fs.Deferred...)
	// The source's counts (declared if its footer was loaded, else
	// whatever it accumulated so far) become this writer's declared
	// counts, emitted as header count lines.
	for sym, sli := range src.fs.lines {
		wli := wr.fs.lineInfoFor(sym)
		if wli == nil {
			continue
		}
		wli.givenCount = sli.givenCount
		wli.givenMax = sli.givenMax
		wli.givenTotal = sli.givenTotal
		if wli.givenCount == 0 && sli.count > 0 {
			wli.givenCount = sli.count
			wli.givenMax = sli.max
			wli.givenTotal = sli.total
		}
	}
	return wr, nil
}

// SetTrainingThreshold overrides the default per-line-type byte count at
// which a codec locks and the writer switches that line type to
// compressed output.
func (wr *Writer) SetTrainingThreshold(n uint64) { wr.trainingThreshold = n }

// AddProvenance appends one provenance record to the pending header.
// Header metadata can only be added before WriteHeader emits it.
func (wr *Writer) AddProvenance(p Provenance) error {
	if wr.headerWritten {
		return newErr(KindProtocol, 0, "cannot add provenance after the header is written")
	}
	wr.fs.Provenance = append(wr.fs.Provenance, p)
	return nil
}

// AddReference appends one reference record to the pending header.
func (wr *Writer) AddReference(r Reference) error {
	if wr.headerWritten {
		return newErr(KindProtocol, 0, "cannot add a reference after the header is written")
	}
	wr.fs.References = append(wr.fs.References, r)
	return nil
}

// AddDeferred appends one deferred-file record to the pending header.
func (wr *Writer) AddDeferred(d Deferred) error {
	if wr.headerWritten {
		return newErr(KindProtocol, 0, "cannot add a deferred file after the header is written")
	}
	wr.fs.Deferred = append(wr.fs.Deferred, d)
	return nil
}

// WriteHeader emits the ASCII header block: version, optional subtype,
// provenance, references, deferred files, the embedded schema, and (in
// binary mode) the "$" endian-flag line that switches the stream into
// packed binary data lines.
// WriteHeader is idempotent within a write session: calling it again
// after the header went out is a no-op.
func (wr *Writer) WriteHeader() error {
	if wr.headerWritten {
		return nil
	}
	fs := wr.fs
	if _, err := fmt.Fprintf(wr.out, "%c %d %s %d %d\n", symVersion, len(fs.FileType.Primary), fs.FileType.Primary, fs.MajorVers, fs.MinorVers); err != nil {
		return err
	}
	if fs.Subtype != "" {
		if _, err := fmt.Fprintf(wr.out, "%c %d %s\n", symSubType, len(fs.Subtype), fs.Subtype); err != nil {
			return err
		}
	}
	for _, p := range fs.Provenance {
		vals := []string{p.Program, p.Version, p.Command, p.Date}
		if _, err := fmt.Fprintf(wr.out, "%c 4", symProvenance); err != nil {
			return err
		}
		for _, v := range vals {
			if _, err := fmt.Fprintf(wr.out, " %d %s", len(v), v); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprint(wr.out, "\n"); err != nil {
			return err
		}
	}
	for _, r := range fs.References {
		if _, err := fmt.Fprintf(wr.out, "%c %d %s %d\n", symReference, len(r.Filename), r.Filename, r.Count); err != nil {
			return err
		}
	}
	for _, d := range fs.Deferred {
		if _, err := fmt.Fprintf(wr.out, "%c %d %s\n", symDeferred, len(d.Filename), d.Filename); err != nil {
			return err
		}
	}
	if err := writeEmbeddedSchema(wr.out, fs.FileType); err != nil {
		return err
	}
	for sym, li := range fs.lines {
		if li.givenCount == 0 {
			continue
		}
		if _, err := fmt.Fprintf(wr.out, "%c %c %d\n", symCount, sym, li.givenCount); err != nil {
			return err
		}
		if li.spec.HasList() {
			if _, err := fmt.Fprintf(wr.out, "%c %c %d\n", symMax, sym, li.givenMax); err != nil {
				return err
			}
			if _, err := fmt.Fprintf(wr.out, "%c %c %d\n", symTotal, sym, li.givenTotal); err != nil {
				return err
			}
		}
	}
	if fs.IsBinary {
		flag := 0
		if fs.BigEndian {
			flag = 1
		}
		if _, err := fmt.Fprintf(wr.out, "%c %d\n", symBinaryFlag, flag); err != nil {
			return err
		}
	}
	wr.headerWritten = true
	return nil
}

// writeEmbeddedSchema emits one "~" line per line-type definition of ft,
// so that a reader opening the file with no schema of its own can
// reconstruct one dynamically.
func writeEmbeddedSchema(w io.Writer, ft *FileTypeNode) error {
	for sym, ls := range ft.Lines {
		kind := byte('D')
		if ls.Compressed {
			kind = 'C'
		}
		toks := make([]string, 0, len(ls.Fields))
		for _, f := range ls.Fields {
			toks = append(toks, f.String())
		}
		if _, err := fmt.Fprintf(w, "%c %c %c %d", symSchema, kind, sym, len(toks)); err != nil {
			return err
		}
		for _, t := range toks {
			if _, err := fmt.Fprintf(w, " %d %s", len(t), t); err != nil {
				return err
			}
		}
		if ls.Comment != "" {
			if _, err := fmt.Fprintf(w, " %s", ls.Comment); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprint(w, "\n"); err != nil {
			return err
		}
	}
	return nil
}

// WriteComment attaches a trailing comment to the line written most
// recently: in ASCII mode it becomes a standalone "/" line that readers
// fold back into the preceding line, in binary mode a packed "/" line
// immediately after the data line it amends.
func (wr *Writer) WriteComment(text string) error {
	if !wr.headerWritten {
		return newErr(KindProtocol, 0, "cannot write a comment before WriteHeader")
	}
	if wr.fs.IsBinary {
		return wr.writeBinaryComment(text)
	}
	_, err := fmt.Fprintf(wr.out, "%c %d %s\n", symComment, len(text), text)
	return err
}

// writeBinaryComment emits one packed "/" line carrying text. The "/"
// line type's single STRING field is its list field, so the payload is
// the list encoding: a packed length word followed by the raw bytes.
func (wr *Writer) writeBinaryComment(text string) error {
	fs := wr.fs
	spec := fs.Schema.Builtin[symComment]
	w := &binWriter{}
	w.uint64(byteOrder(fs), PackListLength(int64(len(text)), 0))
	w.bytes([]byte(text))
	payload := w.buf
	if _, err := wr.out.Write([]byte{tagByte(spec, false, false)}); err != nil {
		return err
	}
	var lenBuf [8]byte
	byteOrder(fs).PutUint64(lenBuf[:], uint64(len(payload)))
	if _, err := wr.out.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := wr.out.Write(payload)
	return err
}

// WriteLine appends one data line. The wire representation (ASCII or
// binary) follows the mode the stream was opened in.
func (wr *Writer) WriteLine(ln *Line) error {
	if !wr.headerWritten {
		return newErr(KindProtocol, 0, "cannot write a data line before WriteHeader")
	}
	fs := wr.fs
	spec := fs.FileType.Lines[ln.Symbol]
	if spec == nil {
		return newErr(KindSchema, fs.lineNumber, "line type %c is not defined in this file's schema", ln.Symbol)
	}
	fs.lineNumber++

	if fs.IsObject(ln.Symbol) {
		fs.recordObjectStart(wr.out.n)
		fs.currentObject = ln.Symbol
	}
	if fs.IsGroup(ln.Symbol) {
		fs.updateGroupCounts(true)
		fs.recordGroupStart(fs.objectCount)
		fs.currentGroup = ln.Symbol
	}

	li := fs.lineInfoFor(ln.Symbol)
	listLen := int64(0)
	if spec.HasList() {
		listLen = listFieldLength(spec, ln)
	}

	if fs.IsBinary {
		return wr.writeBinaryData(li, spec, ln, listLen)
	}
	li.recordLine(listLen)
	_, err := fmt.Fprintf(wr.out, "%c%s\n", ln.Symbol, formatASCIIFields(spec, ln))
	return err
}

func listFieldLength(spec *LineSpec, ln *Line) int64 {
	fv := ln.Fields[spec.ListField]
	switch spec.ListType() {
	case IntList:
		return int64(len(fv.IntList))
	case RealList:
		return int64(len(fv.RealList))
	case String:
		return int64(len(fv.Str))
	case StringList:
		return int64(len(fv.StrList))
	case DNA:
		return int64(len(fv.DNA))
	default:
		return 0
	}
}

func (wr *Writer) writeBinaryData(li *lineInfo, spec *LineSpec, ln *Line, listLen int64) error {
	fs := wr.fs

	// Train codecs on raw (uncompressed) bytes until the line type
	// crosses its training threshold, then lock and start compressing.
	if wr.codecHub != nil {
		if err := wr.trainViaHub(li, spec, ln); err != nil {
			return err
		}
	} else {
		if spec.Compressed && li.fieldCodec == nil {
			li.fieldCodec = NewHuffmanCodec(fs.BigEndian)
		}
		if spec.HasList() && spec.ListType() != DNA && li.listCodec == nil {
			li.listCodec = NewHuffmanCodec(fs.BigEndian)
		}
		if li.fieldCodec != nil && !li.fieldCodec.Ready() {
			bo := byteOrder(fs)
			if err := li.fieldCodec.ObserveAndMaybeBuild(encodeFixedFields(bo, spec, ln), wr.trainingThreshold); err != nil {
				return err
			}
			li.fieldCodec.logBuild(fs.Log, spec.Symbol, "field")
		}
		if li.listCodec != nil && !li.listCodec.IsDNA() && !li.listCodec.Ready() {
			if raw, ok := rawListBytesForTraining(byteOrder(fs), spec, ln); ok {
				if err := li.listCodec.ObserveAndMaybeBuild(raw, wr.trainingThreshold); err != nil {
					return err
				}
				li.listCodec.logBuild(fs.Log, spec.Symbol, "list")
			}
		}
	}

	payload, _, fieldHuff, listHuff, err := encodeBinaryLine(fs, li, spec, ln)
	if err != nil {
		return err
	}
	li.recordLine(listLen)
	tag := tagByte(spec, fieldHuff, listHuff)
	if _, err := wr.out.Write([]byte{tag}); err != nil {
		return err
	}
	// A uint64 payload length precedes the payload itself, so a line's
	// bytes can be read in one shot from a plain io.Reader and decoded
	// from an in-memory slice.
	var lenBuf [8]byte
	byteOrder(fs).PutUint64(lenBuf[:], uint64(len(payload)))
	if _, err := wr.out.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := wr.out.Write(payload); err != nil {
		return err
	}
	if ln.Comment != "" {
		return wr.writeBinaryComment(ln.Comment)
	}
	return nil
}

// trainViaHub routes this line's field tuple and list payload through the
// ThreadGroup's shared trainer, adopting the shared codec instance into
// li once training completes so every subsequent line on this peer (and
// every peer already holding the same pointer) encodes under it.
func (wr *Writer) trainViaHub(li *lineInfo, spec *LineSpec, ln *Line) error {
	fs := wr.fs
	if spec.Compressed && li.fieldCodec == nil {
		vc, err := wr.codecHub.trainField(spec.Symbol, encodeFixedFields(byteOrder(fs), spec, ln))
		if err != nil {
			return err
		}
		if vc != nil {
			li.fieldCodec = vc
		}
	}
	if spec.HasList() && spec.ListType() != DNA && li.listCodec == nil {
		if raw, ok := rawListBytesForTraining(byteOrder(fs), spec, ln); ok {
			vc, err := wr.codecHub.trainList(spec.Symbol, raw)
			if err != nil {
				return err
			}
			if vc != nil {
				li.listCodec = vc
			}
		}
	}
	return nil
}

// rawListBytesForTraining returns the uncompressed byte form of a list
// field's payload, used only to accumulate a codec's training histogram
// (never written directly once compression is active).
func rawListBytesForTraining(bo binary.ByteOrder, spec *LineSpec, ln *Line) ([]byte, bool) {
	w := &binWriter{}
	fv := ln.Fields[spec.ListField]
	switch spec.ListType() {
	case IntList:
		packed, _ := CompactIntList(fv.IntList)
		return packed, len(packed) > 0
	case RealList:
		for _, v := range fv.RealList {
			var b [8]byte
			bo.PutUint64(b[:], math.Float64bits(v))
			w.bytes(b[:])
		}
		return w.buf, len(w.buf) > 0
	case String:
		return []byte(fv.Str), len(fv.Str) > 0
	default:
		return nil, false
	}
}

// Finalize writes the blank separator line and the footer (binary mode
// only), then the trailing 8-byte footer offset. Close calls it when it
// has not been called yet; a second call is a no-op.
func (wr *Writer) Finalize() error {
	if wr.finalized {
		return nil
	}
	wr.fs.updateGroupCounts(false)
	if !wr.fs.IsBinary {
		wr.finalized = true
		return nil
	}
	if _, err := fmt.Fprintf(wr.out, "%c\n", symBlank); err != nil {
		return err
	}
	footerStart := wr.out.n
	if _, err := writeFooter(wr.out, wr.fs); err != nil {
		return err
	}
	if err := writeFooterOffset(wr.out, wr.fs, footerStart); err != nil {
		return err
	}
	wr.finalized = true
	return nil
}

// Close finalizes (if not already done) and releases the writer. It is
// safe to call Close without an explicit Finalize in either mode.
func (wr *Writer) Close() error {
	if wr.cancelled {
		return nil
	}
	return wr.Finalize()
}

// Cancel abandons the stream: no footer is written, and subsequent Close
// calls are no-ops. Use this when an in-progress write must be aborted.
func (wr *Writer) Cancel() error {
	wr.cancelled = true
	wr.finalized = true
	return ErrStreamCancel
}
