package one

import (
	"bytes"
	"io"
	"reflect"
	"testing"
)

const seqSchemaText = `P 3 seq
D S 1 3 DNA
D Q 1 6 STRING
`

func seqLines() []*Line {
	return []*Line{
		{Symbol: 'S', Fields: []FieldValue{{DNA: []byte("acgt")}}},
		{Symbol: 'Q', Fields: []FieldValue{{Str: "!!!!"}}},
		{Symbol: 'S', Fields: []FieldValue{{DNA: []byte("ggta")}}},
		{Symbol: 'Q', Fields: []FieldValue{{Str: "####"}}},
	}
}

func writeSeqFile(t *testing.T, binaryMode, bigEndian bool) []byte {
	t.Helper()
	schema, err := SchemaCreateFromText(seqSchemaText)
	if err != nil {
		t.Fatalf("SchemaCreateFromText: %v", err)
	}
	var buf bytes.Buffer
	wr, err := NewWriter(&buf, schema, "seq", binaryMode, bigEndian)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := wr.WriteHeader(); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	for _, ln := range seqLines() {
		if err := wr.WriteLine(ln); err != nil {
			t.Fatalf("WriteLine %c: %v", ln.Symbol, err)
		}
	}
	if err := wr.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	return buf.Bytes()
}

func readAllLines(t *testing.T, rd *Reader) []*Line {
	t.Helper()
	var out []*Line
	for {
		ln, err := rd.ReadLine()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("ReadLine: %v", err)
		}
		out = append(out, ln)
	}
	return out
}

// TestASCIIRoundTrip checks that writing and reading back an ASCII file
// reproduces every line exactly.
func TestASCIIRoundTrip(t *testing.T) {
	data := writeSeqFile(t, false, false)

	schema, err := SchemaCreateFromText(seqSchemaText)
	if err != nil {
		t.Fatalf("SchemaCreateFromText: %v", err)
	}
	rd, err := OpenReader(bytes.NewReader(data), schema)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	got := readAllLines(t, rd)
	want := seqLines()
	if len(got) != len(want) {
		t.Fatalf("got %d lines, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Symbol != want[i].Symbol || !reflect.DeepEqual(got[i].Fields, want[i].Fields) {
			t.Fatalf("line %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

// TestBinaryEquivalence checks that the binary encoding of the same
// lines decodes to identical values, and that per-type counts match the
// ASCII encoding's.
func TestBinaryEquivalence(t *testing.T) {
	asciiData := writeSeqFile(t, false, false)
	binaryData := writeSeqFile(t, true, false)

	schemaA, _ := SchemaCreateFromText(seqSchemaText)
	rdA, err := OpenReader(bytes.NewReader(asciiData), schemaA)
	if err != nil {
		t.Fatalf("OpenReader(ascii): %v", err)
	}
	wantLines := readAllLines(t, rdA)

	schemaB, _ := SchemaCreateFromText(seqSchemaText)
	rdB, err := OpenReader(bytes.NewReader(binaryData), schemaB)
	if err != nil {
		t.Fatalf("OpenReader(binary): %v", err)
	}
	gotLines := readAllLines(t, rdB)

	if len(gotLines) != len(wantLines) {
		t.Fatalf("got %d lines, want %d", len(gotLines), len(wantLines))
	}
	for i := range wantLines {
		if gotLines[i].Symbol != wantLines[i].Symbol || !reflect.DeepEqual(gotLines[i].Fields, wantLines[i].Fields) {
			t.Fatalf("line %d: got %+v, want %+v", i, gotLines[i], wantLines[i])
		}
	}

	wantCounts := rdA.Counts()
	gotCounts := rdB.Counts()
	if !reflect.DeepEqual(gotCounts, wantCounts) {
		t.Fatalf("counts mismatch: got %v, want %v", gotCounts, wantCounts)
	}
}

// TestGotoObject checks that seeking directly to object number n
// positions the reader to read that object next.
func TestGotoObject(t *testing.T) {
	data := writeSeqFile(t, true, false)
	schema, _ := SchemaCreateFromText(seqSchemaText)
	rd, err := OpenReader(bytes.NewReader(data), schema)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	// seqLines has two S objects, at index 0 and 2 (Q lines are not
	// objects, since S is the declared object type for seq).
	if err := rd.GotoObject(1); err != nil {
		t.Fatalf("GotoObject(1): %v", err)
	}
	ln, err := rd.ReadLine()
	if err != nil {
		t.Fatalf("ReadLine after GotoObject: %v", err)
	}
	if ln.Symbol != 'S' || string(ln.Fields[0].DNA) != "ggta" {
		t.Fatalf("GotoObject(1) landed on %+v, want the second S object", ln)
	}
}

const grpSchemaText = `P 3 grp
D R 1 6 STRING
D g 1 6 STRING
`

// TestGroupCounts checks that a group index of [0, 3] over 5 objects
// yields GroupSize(0)==3 and GroupSize(1)==2, and that GotoGroup(1)
// seeks to object 3 and reports size 2.
func TestGroupCounts(t *testing.T) {
	schema, err := SchemaCreateFromText(grpSchemaText)
	if err != nil {
		t.Fatalf("SchemaCreateFromText: %v", err)
	}
	var buf bytes.Buffer
	wr, err := NewWriter(&buf, schema, "grp", true, false)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := wr.WriteHeader(); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	lines := []*Line{
		{Symbol: 'g', Fields: []FieldValue{{Str: "A"}}},
		{Symbol: 'R', Fields: []FieldValue{{Str: "r0"}}},
		{Symbol: 'R', Fields: []FieldValue{{Str: "r1"}}},
		{Symbol: 'R', Fields: []FieldValue{{Str: "r2"}}},
		{Symbol: 'g', Fields: []FieldValue{{Str: "B"}}},
		{Symbol: 'R', Fields: []FieldValue{{Str: "r3"}}},
		{Symbol: 'R', Fields: []FieldValue{{Str: "r4"}}},
	}
	for _, ln := range lines {
		if err := wr.WriteLine(ln); err != nil {
			t.Fatalf("WriteLine %c: %v", ln.Symbol, err)
		}
	}
	if err := wr.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	// the largest per-group R count is the first group's 3, not the last
	// group's 2
	if got := wr.fs.lines['R'].groupCountMax; got != 3 {
		t.Fatalf("per-group max count for R = %d, want 3", got)
	}

	schema2, _ := SchemaCreateFromText(grpSchemaText)
	rd, err := OpenReader(bytes.NewReader(buf.Bytes()), schema2)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}

	if got := rd.fs.lines['R'].givenGroupCount; got != 3 {
		t.Fatalf("declared per-group max count for R = %d, want 3", got)
	}

	size0, err := rd.fs.GroupSize(0)
	if err != nil {
		t.Fatalf("GroupSize(0): %v", err)
	}
	if size0 != 3 {
		t.Fatalf("GroupSize(0) = %d, want 3", size0)
	}
	size1, err := rd.fs.GroupSize(1)
	if err != nil {
		t.Fatalf("GroupSize(1): %v", err)
	}
	if size1 != 2 {
		t.Fatalf("GroupSize(1) = %d, want 2", size1)
	}

	size, err := rd.GotoGroup(1)
	if err != nil {
		t.Fatalf("GotoGroup(1): %v", err)
	}
	if size != 2 {
		t.Fatalf("GotoGroup(1) size = %d, want 2", size)
	}
	ln, err := rd.ReadLine()
	if err != nil {
		t.Fatalf("ReadLine after GotoGroup: %v", err)
	}
	if ln.Symbol != 'R' || ln.Fields[0].Str != "r3" {
		t.Fatalf("GotoGroup(1) landed on %+v, want the first object of group 1 (r3)", ln)
	}
}
