package one

import (
	"bytes"
	"strings"
	"testing"
)

// TestTrailingComments checks that a comment attached to a line survives
// both encodings, whether it was set on the Line itself or added with
// WriteComment after the line went out.
func TestTrailingComments(t *testing.T) {
	for _, binaryMode := range []bool{false, true} {
		schema, err := SchemaCreateFromText(seqSchemaText)
		if err != nil {
			t.Fatalf("SchemaCreateFromText: %v", err)
		}
		var buf bytes.Buffer
		wr, err := NewWriter(&buf, schema, "seq", binaryMode, false)
		if err != nil {
			t.Fatalf("NewWriter: %v", err)
		}
		if err := wr.WriteHeader(); err != nil {
			t.Fatalf("WriteHeader: %v", err)
		}
		if err := wr.WriteLine(&Line{Symbol: 'S', Fields: []FieldValue{{DNA: []byte("acgt")}}, Comment: "inline note"}); err != nil {
			t.Fatalf("WriteLine: %v", err)
		}
		if err := wr.WriteLine(&Line{Symbol: 'S', Fields: []FieldValue{{DNA: []byte("ggta")}}}); err != nil {
			t.Fatalf("WriteLine: %v", err)
		}
		if err := wr.WriteComment("late note"); err != nil {
			t.Fatalf("WriteComment: %v", err)
		}
		if err := wr.Finalize(); err != nil {
			t.Fatalf("Finalize: %v", err)
		}

		schema2, _ := SchemaCreateFromText(seqSchemaText)
		rd, err := OpenReader(bytes.NewReader(buf.Bytes()), schema2)
		if err != nil {
			t.Fatalf("OpenReader(binary=%v): %v", binaryMode, err)
		}
		ln1, err := rd.ReadLine()
		if err != nil {
			t.Fatalf("ReadLine 1: %v", err)
		}
		if ln1.Comment != "inline note" {
			t.Fatalf("binary=%v: line 1 comment = %q, want %q", binaryMode, ln1.Comment, "inline note")
		}
		if rd.ReadComment() != "inline note" {
			t.Fatalf("binary=%v: ReadComment = %q after line 1", binaryMode, rd.ReadComment())
		}
		ln2, err := rd.ReadLine()
		if err != nil {
			t.Fatalf("ReadLine 2: %v", err)
		}
		if binaryMode {
			// a binary comment line directly follows its data line, so it is
			// already attached when ReadLine returns
			if ln2.Comment != "late note" {
				t.Fatalf("line 2 comment = %q, want %q", ln2.Comment, "late note")
			}
		} else {
			// an ASCII "/" line is only seen while scanning for the next data
			// line; reading past the end folds it into the line it amends
			readAllLines(t, rd)
			if ln2.Comment != "late note" {
				t.Fatalf("line 2 comment = %q, want %q", ln2.Comment, "late note")
			}
		}
	}
}

// TestASCIIEmbeddedNewline checks that a STRING payload containing a raw
// newline byte survives an ASCII round trip: data-line strings are read
// by their declared length off the stream, not up to the next newline.
func TestASCIIEmbeddedNewline(t *testing.T) {
	schema, err := SchemaCreateFromText(seqSchemaText)
	if err != nil {
		t.Fatalf("SchemaCreateFromText: %v", err)
	}
	var buf bytes.Buffer
	wr, err := NewWriter(&buf, schema, "seq", false, false)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := wr.WriteHeader(); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	want := "li\nne"
	if err := wr.WriteLine(&Line{Symbol: 'Q', Fields: []FieldValue{{Str: want}}}); err != nil {
		t.Fatalf("WriteLine: %v", err)
	}
	if err := wr.WriteLine(&Line{Symbol: 'S', Fields: []FieldValue{{DNA: []byte("acgt")}}}); err != nil {
		t.Fatalf("WriteLine: %v", err)
	}
	if err := wr.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	schema2, _ := SchemaCreateFromText(seqSchemaText)
	rd, err := OpenReader(bytes.NewReader(buf.Bytes()), schema2)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	ln1, err := rd.ReadLine()
	if err != nil {
		t.Fatalf("ReadLine 1: %v", err)
	}
	if ln1.Symbol != 'Q' || ln1.Fields[0].Str != want {
		t.Fatalf("line 1 = %+v, want Q %q", ln1, want)
	}
	// line framing must recover after the embedded newline
	ln2, err := rd.ReadLine()
	if err != nil {
		t.Fatalf("ReadLine 2: %v", err)
	}
	if ln2.Symbol != 'S' || string(ln2.Fields[0].DNA) != "acgt" {
		t.Fatalf("line 2 = %+v, want S acgt", ln2)
	}
}

// TestOpenReaderType accepts the primary name and rejects a name the file
// doesn't answer to.
func TestOpenReaderType(t *testing.T) {
	data := writeSeqFile(t, false, false)
	schema, _ := SchemaCreateFromText(seqSchemaText)
	if _, err := OpenReaderType(bytes.NewReader(data), schema, "seq"); err != nil {
		t.Fatalf("OpenReaderType(seq): %v", err)
	}
	schema2, _ := SchemaCreateFromText(seqSchemaText)
	if _, err := OpenReaderType(bytes.NewReader(data), schema2, "aln"); err == nil {
		t.Fatal("OpenReaderType(aln) should fail for a seq file")
	}
}

// TestVersionPolicy rejects a differing major version and a forward minor
// version, and accepts the library's own.
func TestVersionPolicy(t *testing.T) {
	schema, _ := SchemaCreateFromText(seqSchemaText)
	for _, tc := range []struct {
		header string
		ok     bool
	}{
		{"1 3 seq 1 0\nS 4 acgt\n", true},
		{"1 3 seq 2 0\nS 4 acgt\n", false},
		{"1 3 seq 1 9\nS 4 acgt\n", false},
	} {
		_, err := OpenReader(strings.NewReader(tc.header), schema)
		if tc.ok && err != nil {
			t.Fatalf("header %q: %v", tc.header, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("header %q: expected version rejection", tc.header)
		}
	}
}

// TestReaderCloseCountCheck verifies the declared-vs-accumulated count
// comparison on Close: matching counts pass, a file declaring the wrong
// count fails.
func TestReaderCloseCountCheck(t *testing.T) {
	schema, _ := SchemaCreateFromText(seqSchemaText)
	good := "1 3 seq 1 0\n# S 1\nS 4 acgt\n"
	rd, err := OpenReader(strings.NewReader(good), schema)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	readAllLines(t, rd)
	if err := rd.Close(); err != nil {
		t.Fatalf("Close on matching counts: %v", err)
	}

	bad := "1 3 seq 1 0\n# S 5\nS 4 acgt\n"
	rd2, err := OpenReader(strings.NewReader(bad), schema)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	readAllLines(t, rd2)
	if err := rd2.Close(); err == nil {
		t.Fatal("Close should report the declared-count mismatch")
	}
}

// TestWriterFromInheritsCounts checks that NewWriterFrom carries the
// source's provenance and that the new header declares the source's
// counts, which a reader then loads as given values.
func TestWriterFromInheritsCounts(t *testing.T) {
	data := writeSeqFile(t, true, false)
	schema, _ := SchemaCreateFromText(seqSchemaText)
	src, err := OpenReader(bytes.NewReader(data), schema)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}

	var buf bytes.Buffer
	wr, err := NewWriterFrom(&buf, src, false)
	if err != nil {
		t.Fatalf("NewWriterFrom: %v", err)
	}
	if err := wr.WriteHeader(); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	header := buf.String()
	if !strings.Contains(header, "# S 2") {
		t.Fatalf("inherited header should declare the source's S count, got:\n%s", header)
	}
	if !strings.Contains(header, "+ S 8") {
		t.Fatalf("inherited header should declare the source's S total, got:\n%s", header)
	}
}

// TestReaderPeers drives two peer readers over one binary file: each owns
// its own position, shares the master's index, and GotoObject works on a
// peer independently of the master.
func TestReaderPeers(t *testing.T) {
	data := writeSeqFile(t, true, false)
	schema, _ := SchemaCreateFromText(seqSchemaText)
	master, err := OpenReader(bytes.NewReader(data), schema)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	p1, err := master.NewPeer(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("NewPeer: %v", err)
	}
	p2, err := master.NewPeer(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("NewPeer: %v", err)
	}

	if err := p2.GotoObject(1); err != nil {
		t.Fatalf("peer GotoObject(1): %v", err)
	}
	ln2, err := p2.ReadLine()
	if err != nil {
		t.Fatalf("peer 2 ReadLine: %v", err)
	}
	if string(ln2.Fields[0].DNA) != "ggta" {
		t.Fatalf("peer 2 read %q, want the second object", ln2.Fields[0].DNA)
	}

	// peer 1's position is untouched by peer 2's seek
	ln1, err := p1.ReadLine()
	if err != nil {
		t.Fatalf("peer 1 ReadLine: %v", err)
	}
	if string(ln1.Fields[0].DNA) != "acgt" {
		t.Fatalf("peer 1 read %q, want the first object", ln1.Fields[0].DNA)
	}
}

// TestSetListBuffer hands a caller-owned buffer to the S line type and
// checks DNA payloads decode into it rather than fresh allocations.
func TestSetListBuffer(t *testing.T) {
	data := writeSeqFile(t, true, false)
	schema, _ := SchemaCreateFromText(seqSchemaText)
	rd, err := OpenReader(bytes.NewReader(data), schema)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	buf := make([]byte, 64)
	rd.FileState().SetListBuffer('S', buf)
	ln, err := rd.ReadLine()
	if err != nil {
		t.Fatalf("ReadLine: %v", err)
	}
	if string(ln.Fields[0].DNA) != "acgt" {
		t.Fatalf("DNA = %q, want acgt", ln.Fields[0].DNA)
	}
	if &ln.Fields[0].DNA[0] != &buf[0] {
		t.Fatal("DNA payload should decode into the caller-owned buffer")
	}

	rd.FileState().RestoreListBuffer('S')
	if _, err := rd.ReadLine(); err != nil { // the Q line between the two S objects
		t.Fatalf("ReadLine: %v", err)
	}
	ln2, err := rd.ReadLine()
	if err != nil {
		t.Fatalf("ReadLine: %v", err)
	}
	if string(ln2.Fields[0].DNA) != "ggta" {
		t.Fatalf("DNA = %q, want ggta", ln2.Fields[0].DNA)
	}
	if &ln2.Fields[0].DNA[0] == &buf[0] {
		t.Fatal("after RestoreListBuffer the library should allocate its own payload")
	}
}
