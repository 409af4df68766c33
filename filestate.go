package one

import (
	"fmt"
	"log/slog"
)

// lineInfo is the runtime counterpart to a LineSpec: the live counters and
// codecs accumulated while reading or writing lines of one type.
type lineInfo struct {
	spec *LineSpec

	count int64 // lines of this type read or written so far
	max   int64 // largest list length seen for this type
	total int64 // sum of list lengths seen for this type

	// given* hold the counts the file itself declares (header count lines
	// on an ASCII file, footer count lines on a binary one, or counts
	// inherited from a source FileState). They are compared against the
	// accumulated counters above at finalize.
	givenCount      int64
	givenMax        int64
	givenTotal      int64
	givenGroupCount int64
	givenGroupTotal int64

	// groupBaseCount/groupBaseTotal snapshot count/total as of the last
	// group boundary; groupCountMax/groupTotalMax are the largest
	// per-group count/total seen across every group closed so far.
	groupBaseCount int64
	groupBaseTotal int64
	groupCountMax  int64
	groupTotalMax  int64

	// buf is a reusable list-payload buffer. When userOwned is true it was
	// handed over by the caller via SetListBuffer and the library decodes
	// DNA payloads into it instead of allocating per line.
	buf       []byte
	userOwned bool

	fieldCodec *HuffmanCodec // trained over each line's fixed field tuple
	listCodec  *HuffmanCodec // trained over list payload bytes (DNA lists always hold the DNACodec sentinel)
}

func newLineInfo(spec *LineSpec) *lineInfo {
	li := &lineInfo{spec: spec}
	if spec.HasList() && spec.ListType() == DNA {
		li.listCodec = DNACodec
	}
	return li
}

// recordLine folds one line's observed list length into this type's
// running totals.
func (li *lineInfo) recordLine(listLen int64) {
	li.count++
	if listLen > li.max {
		li.max = listLen
	}
	li.total += listLen
}

// FileState is the shared runtime object behind both Reader and Writer: it
// holds the active schema, file-type node, per-line-type counters and
// codecs, and header metadata.
type FileState struct {
	Schema     *Schema
	FileType   *FileTypeNode
	Subtype    string
	MajorVers  int
	MinorVers  int
	IsBinary   bool
	BigEndian  bool

	Provenance []Provenance
	References []Reference
	Deferred   []Deferred

	lines map[byte]*lineInfo

	objectCount int64
	groupCount  int64
	lineNumber  int64

	objectIndex []int64 // byte offset of the start of each object
	groupIndex  []int64 // object number at the start of each group

	currentObject byte // the object-type symbol of the most recently started object
	currentGroup  byte // the group-type symbol of the most recently started group
	inGroup       bool // whether a group line has been seen yet

	// Log receives diagnostic text prefixed with the "one:" tag (footer
	// checksum verification, count mismatches found by Reader.Close, codec
	// training completion); it defaults to
	// slog.Default() and is never used for routine control flow.
	Log *slog.Logger
}

func newFileState(schema *Schema, ft *FileTypeNode) *FileState {
	fs := &FileState{
		Schema:   schema,
		FileType: ft,
		lines:    make(map[byte]*lineInfo),
		Log:      slog.Default(),
	}
	for sym, ls := range schema.Builtin {
		fs.lines[sym] = newLineInfo(ls)
	}
	if ft != nil {
		for sym, ls := range ft.Lines {
			fs.lines[sym] = newLineInfo(ls)
		}
	}
	return fs
}

func (fs *FileState) lineInfoFor(sym byte) *lineInfo {
	li, ok := fs.lines[sym]
	if !ok {
		return nil
	}
	return li
}

// Counts returns the number of lines read or written so far for every
// line type.
func (fs *FileState) Counts() map[byte]int64 {
	out := make(map[byte]int64, len(fs.lines))
	for sym, li := range fs.lines {
		if li.count > 0 {
			out[sym] = li.count
		}
	}
	return out
}

// LineTypeCount pairs one line type's accumulated counters with the
// counts the file itself declared, so a stats consumer can compare them
// without reaching into the library's internals.
type LineTypeCount struct {
	Symbol     byte
	Count      int64
	Max        int64
	Total      int64
	GivenCount int64
	GivenMax   int64
	GivenTotal int64
}

// LineCounts returns accumulated-vs-declared counters for every line
// type that has either been seen or declared.
func (fs *FileState) LineCounts() []LineTypeCount {
	out := make([]LineTypeCount, 0, len(fs.lines))
	for sym, li := range fs.lines {
		if li.count == 0 && li.givenCount == 0 {
			continue
		}
		out = append(out, LineTypeCount{
			Symbol: sym, Count: li.count, Max: li.max, Total: li.total,
			GivenCount: li.givenCount, GivenMax: li.givenMax, GivenTotal: li.givenTotal,
		})
	}
	return out
}

// SetListBuffer hands a caller-owned buffer to line type sym: DNA list
// payloads of that type decode into it (when it is large enough) instead
// of a fresh allocation per line. The buffer is left untouched on close.
func (fs *FileState) SetListBuffer(sym byte, buf []byte) {
	if li := fs.lineInfoFor(sym); li != nil {
		li.buf = buf
		li.userOwned = true
	}
}

// RestoreListBuffer returns line type sym to library-owned allocation,
// undoing a previous SetListBuffer.
func (fs *FileState) RestoreListBuffer(sym byte) {
	if li := fs.lineInfoFor(sym); li != nil {
		li.buf = nil
		li.userOwned = false
	}
}

// ObjectCount reports how many object-type lines have been read or
// written so far.
func (fs *FileState) ObjectCount() int64 { return fs.objectCount }

// GroupCount reports how many group-type lines have been read or written
// so far.
func (fs *FileState) GroupCount() int64 { return fs.groupCount }

// updateGroupCounts folds the delta accumulated since the last group
// boundary into every object-capable line type's running per-group
// maximum, then rebases the baseline to the current totals. Called both
// when a new group line begins (closingGroupLine true) and once more at
// Finalize to close out whatever group was still open (closingGroupLine
// false). The very first call for a line type only establishes the
// baseline: there is no preceding group yet to have a count.
func (fs *FileState) updateGroupCounts(closingGroupLine bool) {
	for sym, li := range fs.lines {
		if !IsObjectSymbol(sym) {
			continue
		}
		if fs.inGroup {
			if d := li.count - li.groupBaseCount; d > li.groupCountMax {
				li.groupCountMax = d
			}
			if d := li.total - li.groupBaseTotal; d > li.groupTotalMax {
				li.groupTotalMax = d
			}
		}
		li.groupBaseCount = li.count
		li.groupBaseTotal = li.total
	}
	if closingGroupLine {
		fs.inGroup = true
	}
}

// mismatchedCounts compares the accumulated counters against the counts
// the file itself declared and returns one description per line type
// that disagrees. Line types the file never declared are not checked.
func (fs *FileState) mismatchedCounts() []string {
	var out []string
	for sym, li := range fs.lines {
		if li.givenCount == 0 {
			continue
		}
		if li.count != li.givenCount {
			out = append(out, fmt.Sprintf("line type %c: %d lines, file declares %d", sym, li.count, li.givenCount))
		}
		if li.spec.HasList() {
			if li.givenMax != 0 && li.max != li.givenMax {
				out = append(out, fmt.Sprintf("line type %c: max list length %d, file declares %d", sym, li.max, li.givenMax))
			}
			if li.givenTotal != 0 && li.total != li.givenTotal {
				out = append(out, fmt.Sprintf("line type %c: total list length %d, file declares %d", sym, li.total, li.givenTotal))
			}
		}
	}
	return out
}

// adoptDynamicLine adds a line-type definition discovered from a binary
// file's own embedded "~" schema line to a dynamically-created schema's
// file-type node.
func (fs *FileState) adoptDynamicLine(ls *LineSpec) error {
	if fs.FileType == nil {
		return newErr(KindProtocol, fs.lineNumber, "no active file type to adopt dynamic line into")
	}
	if err := fs.FileType.addLine(ls); err != nil {
		return err
	}
	fs.lines[ls.Symbol] = newLineInfo(ls)
	return nil
}
