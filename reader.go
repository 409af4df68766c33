package one

import (
	"bufio"
	"io"
	"strings"
)

// Reader parses Lines out of an ASCII or binary stream, dispatching on
// the line-type symbol and (in binary mode) the packed tag byte. It
// follows an explicit-construction reader style: callers get a fully
// initialized value back from OpenReader rather than a zero value they
// must separately configure.
type Reader struct {
	fs *FileState
	br *bufio.Reader
	rs io.ReadSeeker // non-nil if the underlying stream supports random access

	dynamic     bool // schema was synthesized from the file's own embedded "~" lines
	lastLine    *Line
	prevLine    *Line // most recently returned line, for late comment attachment
	lastComment string
	dataStart   int64 // byte offset of the first data line (binary mode)
	seeked      bool  // a GotoObject/GotoGroup has moved the stream
}

// OpenReader parses the header of r and returns a Reader positioned at
// the first data line. If schema is nil, a schema is synthesized
// dynamically from the embedded "~" lines in the file's own header;
// schema.Lookup must otherwise already know the file's primary type.
func OpenReader(r io.Reader, schema *Schema) (*Reader, error) {
	rd := &Reader{br: bufio.NewReaderSize(r, 64*1024)}
	if rs, ok := r.(io.ReadSeeker); ok {
		rd.rs = rs
	}
	if err := rd.readHeader(schema); err != nil {
		return nil, err
	}
	if rd.fs.IsBinary && rd.rs != nil {
		// loadFooter seeks rd.rs around to read the trailing footer; it
		// must leave the stream positioned exactly where header parsing
		// left off (the first data line) so the sequential ReadLine path
		// below can resume from rd.br as if the footer load never
		// happened. The physical seek position overshoots that point by
		// whatever bufio.Reader has already buffered ahead, so the
		// logical data-start offset is the physical offset minus the
		// buffered byte count.
		dataStart, err := rd.rs.Seek(0, io.SeekCurrent)
		if err != nil {
			return nil, newErr(KindResource, 0, "locating data region start: %v", err)
		}
		dataStart -= int64(rd.br.Buffered())
		rd.dataStart = dataStart
		if err := rd.loadFooter(); err != nil {
			return nil, err
		}
		if _, err := rd.rs.Seek(dataStart, io.SeekStart); err != nil {
			return nil, newErr(KindResource, 0, "restoring data region start: %v", err)
		}
		rd.br.Reset(rd.rs)
	}
	return rd, nil
}

// OpenReaderType is OpenReader plus a check that the file announces the
// expected type: its primary name, one of its secondary aliases, or its
// subtype must equal want.
func OpenReaderType(r io.Reader, schema *Schema, want string) (*Reader, error) {
	rd, err := OpenReader(r, schema)
	if err != nil {
		return nil, err
	}
	if !rd.fs.FileType.Matches(want) && rd.fs.Subtype != want {
		return nil, newErr(KindProtocol, 0, "file is of type %s, not %s", rd.fs.FileType.Primary, want)
	}
	return rd, nil
}

func (rd *Reader) readHeader(schema *Schema) error {
	// header lines read in checked mode: their strings are bounded by
	// the declared length and must not run past the end of their line
	st := &asciiStream{br: rd.br, checked: true}

	sym, err := rd.br.ReadByte()
	if err != nil || sym != symVersion {
		return newErr(KindParse, 1, "file does not begin with a version line")
	}
	primary, err := st.fixedString()
	if err != nil {
		return err
	}
	major, err := st.int64()
	if err != nil {
		return err
	}
	minor, err := st.int64()
	if err != nil {
		return err
	}
	if _, err := st.restOfLine(); err != nil {
		return err
	}

	if schema == nil {
		schema = SchemaCreateDynamic(primary)
		rd.dynamic = true
	}
	ft := schema.Lookup(primary)
	if ft == nil {
		return newErr(KindSchema, 1, "schema has no file type %q", primary)
	}
	if major != MajorVersion {
		return newErr(KindParse, 1, "file major version %d, library supports %d", major, MajorVersion)
	}
	if minor > MinorVersion {
		return newErr(KindParse, 1, "file minor version %d is newer than the library's %d", minor, MinorVersion)
	}
	fs := newFileState(schema, ft)
	fs.MajorVers = int(major)
	fs.MinorVers = int(minor)
	rd.fs = fs

	lineNo := int64(1)
	for {
		sym, err := rd.br.ReadByte()
		if err != nil {
			return newErr(KindParse, lineNo, "unexpected end of file in header")
		}
		lineNo++
		if sym == '\n' {
			continue
		}
		switch sym {
		case symSubType:
			if fs.Subtype, err = st.fixedString(); err != nil {
				return err
			}
		case symProvenance:
			if _, err := st.int64(); err != nil { // field count, always 4
				return err
			}
			p := Provenance{}
			if p.Program, err = st.fixedString(); err != nil {
				return err
			}
			if p.Version, err = st.fixedString(); err != nil {
				return err
			}
			if p.Command, err = st.fixedString(); err != nil {
				return err
			}
			if p.Date, err = st.fixedString(); err != nil {
				return err
			}
			fs.Provenance = append(fs.Provenance, p)
		case symReference:
			ref := Reference{}
			if ref.Filename, err = st.fixedString(); err != nil {
				return err
			}
			if ref.Count, err = st.int64(); err != nil {
				return err
			}
			fs.References = append(fs.References, ref)
		case symDeferred:
			dfd := Deferred{}
			if dfd.Filename, err = st.fixedString(); err != nil {
				return err
			}
			fs.Deferred = append(fs.Deferred, dfd)
		case symSchema:
			if err := rd.adoptEmbeddedSchemaLine(st); err != nil {
				return err
			}
			continue // the schema line's trailing comment is already consumed
		case symCount, symMax, symTotal, symGroupCount:
			// ASCII files carry their declared counts in the header rather
			// than a footer; the line grammar is identical either way.
			if err := rd.applyHeaderCountLine(sym, st); err != nil {
				return err
			}
		case symBlank, symComment:
			// spacer / free-text header line, carries no state
		case symBinaryFlag:
			flag, err := st.int64()
			if err != nil {
				return err
			}
			if _, err := st.restOfLine(); err != nil {
				return err
			}
			fs.IsBinary = true
			fs.BigEndian = flag != 0
			return nil // header complete; data region starts next
		default:
			// first non-header symbol: ASCII data begins here. Its type tag
			// is already consumed, so parse the rest of the line now and
			// hand it to the caller via lastLine for ReadLine to pick up.
			spec, ok := fs.FileType.Lines[sym]
			if !ok {
				return newErr(KindParse, lineNo, "undefined line type %c", sym)
			}
			ln, perr := readASCIIFields(&asciiStream{br: rd.br}, spec)
			if perr != nil {
				return newErr(KindParse, lineNo, "%v", perr)
			}
			rd.applyUserBuffer(spec, ln)
			rd.lastLine = ln
			return nil
		}
		if _, err := st.restOfLine(); err != nil {
			return err
		}
	}
}

// applyHeaderCountLine parses one header count line ("#", "@", "+" or
// "%") into the matching declared counter. Unknown line-type symbols are
// skipped rather than rejected, the same as in the footer.
func (rd *Reader) applyHeaderCountLine(sym byte, st *asciiStream) error {
	fs := rd.fs
	if sym == symGroupCount {
		if _, err := st.char(); err != nil { // group-type symbol, implied by the schema
			return err
		}
		kind, err := st.char()
		if err != nil {
			return err
		}
		lt, err := st.char()
		if err != nil {
			return err
		}
		n, err := st.int64()
		if err != nil {
			return err
		}
		if li := fs.lineInfoFor(lt); li != nil {
			if kind == '#' {
				li.givenGroupCount = n
			} else {
				li.givenGroupTotal = n
			}
		}
		return nil
	}
	lt, err := st.char()
	if err != nil {
		return err
	}
	n, err := st.int64()
	if err != nil {
		return err
	}
	if li := fs.lineInfoFor(lt); li != nil {
		switch sym {
		case symCount:
			li.givenCount = n
		case symMax:
			li.givenMax = n
		case symTotal:
			li.givenTotal = n
		}
	}
	return nil
}

// adoptEmbeddedSchemaLine parses one "~ <D|C> <linetype> <fields...> [comment]"
// header line and adds it to the active file type, used both to confirm
// a statically-supplied schema and to grow a dynamically synthesized one.
func (rd *Reader) adoptEmbeddedSchemaLine(st *asciiStream) error {
	kind, err := st.char()
	if err != nil {
		return err
	}
	sym, err := st.char()
	if err != nil {
		return err
	}
	n, err := st.int64()
	if err != nil {
		return err
	}
	fields := make([]FieldType, n)
	for i := range fields {
		name, err := st.fixedString()
		if err != nil {
			return err
		}
		ft, ok := ParseFieldType(name)
		if !ok {
			return newErr(KindSchema, 0, "embedded schema: unknown field type %q", name)
		}
		fields[i] = ft
	}
	comment, err := st.restOfLine()
	if err != nil {
		return err
	}
	if _, exists := rd.fs.FileType.Lines[sym]; exists {
		return nil // already known (statically-supplied schema agrees)
	}
	ls, err := newLineSpec(sym, fields, kind == 'C')
	if err != nil {
		return err
	}
	ls.Comment = comment
	return rd.fs.adoptDynamicLine(ls)
}

// applyUserBuffer copies a DNA payload into the caller-owned buffer
// registered for this line type, when one is set and large enough.
func (rd *Reader) applyUserBuffer(spec *LineSpec, ln *Line) {
	if !spec.HasList() || spec.ListType() != DNA {
		return
	}
	li := rd.fs.lineInfoFor(spec.Symbol)
	if li == nil || !li.userOwned || cap(li.buf) < len(ln.Fields[spec.ListField].DNA) {
		return
	}
	n := copy(li.buf[:cap(li.buf)], ln.Fields[spec.ListField].DNA)
	ln.Fields[spec.ListField].DNA = li.buf[:n]
}

// ReadLine returns the next data line, or io.EOF once the data region (or
// the whole ASCII stream) is exhausted.
func (rd *Reader) ReadLine() (*Line, error) {
	var ln *Line
	var err error
	if rd.lastLine != nil {
		ln = rd.lastLine
		rd.lastLine = nil
		rd.recordRead(ln)
	} else if rd.fs.IsBinary {
		ln, err = rd.readBinaryLine()
	} else {
		ln, err = rd.readASCIILine()
	}
	if err != nil {
		return nil, err
	}
	rd.prevLine = ln
	rd.lastComment = ln.Comment
	return ln, nil
}

// ReadComment returns the trailing comment attached to the most recently
// read line, or "" if it had none. A comment written as a separate "/"
// line after its data line is attached here (and to the returned Line)
// once it is encountered.
func (rd *Reader) ReadComment() string { return rd.lastComment }

func (rd *Reader) readASCIILine() (*Line, error) {
	for {
		sym, err := rd.br.ReadByte()
		if err != nil {
			return nil, io.EOF
		}
		if sym == '\n' {
			return nil, io.EOF // blank line: the data region is over
		}
		rd.fs.lineNumber++
		st := &asciiStream{br: rd.br}
		switch sym {
		case symBlank:
			if _, err := st.restOfLine(); err != nil {
				return nil, err
			}
			continue
		case symComment:
			text, perr := st.fixedString()
			if perr != nil {
				return nil, newErr(KindParse, rd.fs.lineNumber, "%v", perr)
			}
			if _, err := st.restOfLine(); err != nil {
				return nil, err
			}
			// a standalone comment line amends the line before it
			rd.lastComment = text
			if rd.prevLine != nil {
				rd.prevLine.Comment = text
			}
			continue
		}
		spec, ok := rd.fs.FileType.Lines[sym]
		if !ok {
			return nil, newErr(KindParse, rd.fs.lineNumber, "undefined line type %c", sym)
		}
		ln, err := readASCIIFields(st, spec)
		if err != nil {
			return nil, newErr(KindParse, rd.fs.lineNumber, "%v", err)
		}
		rd.applyUserBuffer(spec, ln)
		rd.recordRead(ln)
		return ln, nil
	}
}

func (rd *Reader) readBinaryLine() (*Line, error) {
	tagByte, err := rd.br.ReadByte()
	if err != nil {
		return nil, io.EOF
	}
	if tagByte == symBlank {
		return nil, io.EOF // blank separator: data region is over
	}
	if tagByte&binTagHighBit == 0 {
		return nil, newErr(KindBinary, rd.fs.lineNumber, "expected packed tag byte, got %#x", tagByte)
	}
	symCode := (tagByte >> binSymShift) & 0x1f
	fieldHuff := tagByte&binFieldHuff != 0
	listHuff := tagByte&binListHuffBit != 0

	spec := binarySymbolFor(rd.fs, symCode)
	if spec == nil {
		return nil, newErr(KindBinary, rd.fs.lineNumber, "unrecognized binary symbol code %d", symCode)
	}

	var lenBuf [8]byte
	if _, err := io.ReadFull(rd.br, lenBuf[:]); err != nil {
		return nil, newErr(KindBinary, rd.fs.lineNumber, "reading line length: %v", err)
	}
	payloadLen := byteOrder(rd.fs).Uint64(lenBuf[:])
	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(rd.br, payload); err != nil {
		return nil, newErr(KindBinary, rd.fs.lineNumber, "reading line payload: %v", err)
	}

	rd.fs.lineNumber++
	li := rd.fs.lineInfoFor(spec.Symbol)
	ln, err := decodeBinaryLine(rd.fs, li, spec, payload, fieldHuff, listHuff)
	if err != nil {
		return nil, err
	}
	if comment, ok, err := rd.peekBinaryComment(); err != nil {
		return nil, err
	} else if ok {
		ln.Comment = comment
	}
	rd.recordRead(ln)
	return ln, nil
}

// peekBinaryComment checks whether the next tag byte is a "/" comment
// line and, if so, consumes it and returns its text: a binary data line
// may be followed by one comment line that amends it. A tag with the
// comment's 5-bit symbol but the field-compression bit set is not taken
// for a comment and is not consumed here.
func (rd *Reader) peekBinaryComment() (string, bool, error) {
	b, err := rd.br.Peek(1)
	if err != nil {
		return "", false, nil // EOF or short stream: no comment follows
	}
	tag := b[0]
	if tag&binTagHighBit == 0 || (tag>>binSymShift)&0x1f != commentBinarySymbol || tag&binFieldHuff != 0 {
		return "", false, nil
	}
	if _, err := rd.br.ReadByte(); err != nil {
		return "", false, newErr(KindBinary, rd.fs.lineNumber, "reading comment tag: %v", err)
	}
	var lenBuf [8]byte
	if _, err := io.ReadFull(rd.br, lenBuf[:]); err != nil {
		return "", false, newErr(KindBinary, rd.fs.lineNumber, "reading comment length: %v", err)
	}
	payload := make([]byte, byteOrder(rd.fs).Uint64(lenBuf[:]))
	if _, err := io.ReadFull(rd.br, payload); err != nil {
		return "", false, newErr(KindBinary, rd.fs.lineNumber, "reading comment payload: %v", err)
	}
	pr := &binReader{buf: payload}
	packed, err := pr.uint64(byteOrder(rd.fs))
	if err != nil {
		return "", false, err
	}
	n, _ := UnpackListLength(packed)
	text, err := pr.take(int(n))
	if err != nil {
		return "", false, err
	}
	rd.fs.lineNumber++
	return string(text), true, nil
}

func (rd *Reader) recordRead(ln *Line) {
	fs := rd.fs
	spec := fs.FileType.Lines[ln.Symbol]
	if spec == nil {
		return
	}
	if fs.IsObject(ln.Symbol) {
		fs.objectCount++
		fs.currentObject = ln.Symbol
	}
	if fs.IsGroup(ln.Symbol) {
		fs.updateGroupCounts(true)
		fs.groupCount++
		fs.currentGroup = ln.Symbol
	}
	listLen := int64(0)
	if spec.HasList() {
		listLen = listFieldLength(spec, ln)
	}
	if li := fs.lineInfoFor(ln.Symbol); li != nil {
		li.recordLine(listLen)
	}
}

// loadFooter reads the trailing footer offset and the footer itself,
// populating fs's counts, codecs, and object/group indices, which
// GotoObject/GotoGroup then rely on.
func (rd *Reader) loadFooter() error {
	offset, err := readFooterOffset(rd.rs, rd.fs)
	if err != nil {
		return err
	}
	return readFooter(rd.rs, rd.fs, offset)
}

// GotoObject seeks directly to object number n and positions the reader
// to read it next via ReadLine. Requires the stream to have been opened
// over an io.ReadSeeker and to be in binary mode with a loaded footer.
func (rd *Reader) GotoObject(n int64) error {
	if rd.rs == nil {
		return newErr(KindProtocol, 0, "GotoObject requires a seekable stream")
	}
	off, err := rd.fs.ObjectOffset(n)
	if err != nil {
		return err
	}
	if _, err := rd.rs.Seek(off, io.SeekStart); err != nil {
		return newErr(KindResource, 0, "seeking to object %d: %v", n, err)
	}
	rd.br.Reset(rd.rs)
	rd.lastLine = nil
	rd.prevLine = nil
	rd.seeked = true
	return nil
}

// GotoGroup seeks directly to the first object of group number n and
// returns the number of objects that belong to it, or zero if the seek
// itself failed.
func (rd *Reader) GotoGroup(n int64) (int64, error) {
	objNum, err := rd.fs.GroupObjectStart(n)
	if err != nil {
		return 0, err
	}
	size, err := rd.fs.GroupSize(n)
	if err != nil {
		return 0, err
	}
	if err := rd.GotoObject(objNum); err != nil {
		return 0, err
	}
	return size, nil
}

// Counts returns the number of lines seen so far for every line type.
func (rd *Reader) Counts() map[byte]int64 { return rd.fs.Counts() }

// Schema returns the schema in use (static or dynamically synthesized).
func (rd *Reader) Schema() *Schema { return rd.fs.Schema }

// FileState exposes the reader's underlying FileState, whose exported
// fields (FileType, Subtype, Provenance, References, ...) carry the
// header metadata a read-only consumer like cmd/oneview needs without
// widening Reader's own method set for every field.
func (rd *Reader) FileState() *FileState { return rd.fs }

// IsDynamicSchema reports whether the reader's schema was synthesized
// from the file's own embedded "~" lines rather than supplied by the
// caller.
func (rd *Reader) IsDynamicSchema() bool { return rd.dynamic }

// NewPeer returns a second Reader over r sharing this reader's schema,
// declared counts, trained codecs and object/group indices, but owning
// its own stream position and accumulators, positioned at the start of
// the data region. Peers serve parallel reads: each goroutine drives its
// own peer through GotoObject/GotoGroup and ReadLine with no locking,
// since every peer owns its own file position. r must be a fresh handle
// on the same underlying file. Only binary streams opened over an
// io.ReadSeeker support peers.
func (rd *Reader) NewPeer(r io.ReadSeeker) (*Reader, error) {
	if rd.rs == nil || !rd.fs.IsBinary {
		return nil, newErr(KindProtocol, 0, "peer readers require a seekable binary stream")
	}
	src := rd.fs
	fs := newFileState(src.Schema, src.FileType)
	fs.Subtype = src.Subtype
	fs.MajorVers = src.MajorVers
	fs.MinorVers = src.MinorVers
	fs.IsBinary = true
	fs.BigEndian = src.BigEndian
	fs.Provenance = src.Provenance
	fs.References = src.References
	fs.Deferred = src.Deferred
	fs.objectIndex = src.objectIndex
	fs.groupIndex = src.groupIndex
	fs.Log = src.Log
	for sym, sli := range src.lines {
		pli := fs.lines[sym]
		if pli == nil {
			continue
		}
		pli.fieldCodec = sli.fieldCodec
		pli.listCodec = sli.listCodec
		pli.givenCount = sli.givenCount
		pli.givenMax = sli.givenMax
		pli.givenTotal = sli.givenTotal
		pli.givenGroupCount = sli.givenGroupCount
		pli.givenGroupTotal = sli.givenGroupTotal
	}
	if _, err := r.Seek(rd.dataStart, io.SeekStart); err != nil {
		return nil, newErr(KindResource, 0, "positioning peer at data region: %v", err)
	}
	peer := &Reader{fs: fs, rs: r, br: bufio.NewReaderSize(r, 64*1024), dynamic: rd.dynamic, seeked: true}
	return peer, nil
}

// Close verifies the accumulated counters against the counts the file
// itself declared, once the stream has been read to its end. The check
// is skipped after any GotoObject/GotoGroup, since random access
// legitimately leaves the accumulators partial. Mismatches are reported
// through the FileState's diagnostic logger and returned as one parse
// error.
func (rd *Reader) Close() error {
	if rd.seeked {
		return nil
	}
	ms := rd.fs.mismatchedCounts()
	if len(ms) == 0 {
		return nil
	}
	for _, m := range ms {
		rd.fs.Log.Warn("one: count mismatch", "detail", m)
	}
	return newErr(KindParse, rd.fs.lineNumber, "counts do not match the file's declared totals: %s", strings.Join(ms, "; "))
}
