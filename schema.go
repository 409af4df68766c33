package one

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// LineSpec is a line-type definition: its field tuple, at most one list
// field, an optional attached comment, and whether its field tuple should
// be Huffman-compressed in the binary encoding.
type LineSpec struct {
	Symbol       byte
	Fields       []FieldType
	ListField    int // index into Fields, -1 if this line type carries no list
	Comment      string
	Compressed   bool // field-tuple Huffman compression requested (schema "C" form)
	BinarySymbol byte // 5-bit packed-tag symbol, assigned when added to a schema
}

func newLineSpec(symbol byte, fields []FieldType, compressed bool) (*LineSpec, error) {
	if len(fields) > 16 {
		return nil, newErr(KindSchema, 0, "line type %c: too many fields (%d > 16)", symbol, len(fields))
	}
	ls := &LineSpec{Symbol: symbol, Fields: fields, ListField: -1, Compressed: compressed}
	for i, f := range fields {
		if f.IsList() {
			if ls.ListField >= 0 {
				return nil, newErr(KindSchema, 0, "line type %c: multiple list fields", symbol)
			}
			ls.ListField = i
		}
	}
	return ls, nil
}

// HasList reports whether this line type carries a list field.
func (ls *LineSpec) HasList() bool { return ls.ListField >= 0 }

// ListType returns the list field's element type, or fieldNone if there is
// no list field.
func (ls *LineSpec) ListType() FieldType {
	if ls.ListField < 0 {
		return fieldNone
	}
	return ls.Fields[ls.ListField]
}

// FileTypeNode is one primary file type within a schema: its three-letter
// primary name, zero or more secondary aliases, and the line-type
// definitions it carries.
type FileTypeNode struct {
	Primary    string
	Secondary  []string
	Lines      map[byte]*LineSpec
	NFieldMax  int
	ObjectType byte
	GroupType  byte
	Next       *FileTypeNode
}

func newFileTypeNode(primary string) *FileTypeNode {
	return &FileTypeNode{Primary: primary, Lines: make(map[byte]*LineSpec), NFieldMax: 4}
}

// Matches reports whether name equals this node's primary name or one of
// its secondary aliases.
func (n *FileTypeNode) Matches(name string) bool {
	if n.Primary == name {
		return true
	}
	for _, s := range n.Secondary {
		if s == name {
			return true
		}
	}
	return false
}

func (n *FileTypeNode) addLine(ls *LineSpec) error {
	if _, exists := n.Lines[ls.Symbol]; exists {
		return newErr(KindSchema, 0, "duplicate line-type definition %c in file type %s", ls.Symbol, n.Primary)
	}
	if isReservedSymbol(ls.Symbol) {
		return newErr(KindSchema, 0, "line type %c is reserved and cannot be user-defined", ls.Symbol)
	}
	if IsGroupSymbol(ls.Symbol) {
		if n.GroupType != 0 {
			return newErr(KindSchema, 0, "second group type %c in file type %s", ls.Symbol, n.Primary)
		}
		n.GroupType = ls.Symbol
	} else if IsObjectSymbol(ls.Symbol) {
		if n.ObjectType == 0 {
			n.ObjectType = ls.Symbol
		}
	} else {
		return newErr(KindSchema, 0, "non-alphabetic line type %c in file type %s", ls.Symbol, n.Primary)
	}
	if len(ls.Fields) > n.NFieldMax {
		n.NFieldMax = len(ls.Fields)
	}
	n.Lines[ls.Symbol] = ls
	return nil
}

// Schema is a linked list of file-type nodes: the built-in universal
// header/footer line types plus every user-declared primary file type.
type Schema struct {
	Builtin map[byte]*LineSpec
	Types   *FileTypeNode // head of the linked list of user file types
}

func builtinLineSpecs() map[byte]*LineSpec {
	mustSpec := func(sym byte, fields ...FieldType) *LineSpec {
		ls, err := newLineSpec(sym, fields, false)
		if err != nil {
			panic(err) // built-in table is a compile-time invariant
		}
		return ls
	}
	m := map[byte]*LineSpec{
		symVersion:    mustSpec(symVersion, String, Int, Int),
		symSubType:    mustSpec(symSubType, String),
		symCount:      mustSpec(symCount, Char, Int),
		symMax:        mustSpec(symMax, Char, Int),
		symTotal:      mustSpec(symTotal, Char, Int),
		symGroupCount: mustSpec(symGroupCount, Char, Char, Char, Int),
		symProvenance: mustSpec(symProvenance, StringList),
		symReference:  mustSpec(symReference, String, Int),
		symDeferred:   mustSpec(symDeferred, String),
		symSchema:     mustSpec(symSchema, Char, Char, StringList),
		symBlank:      mustSpec(symBlank),
		symBinaryFlag: mustSpec(symBinaryFlag, Int),
		symFooterEnd:  mustSpec(symFooterEnd),
		symFooterOff:  mustSpec(symFooterOff, Int),
		symObjIndex:   mustSpec(symObjIndex, IntList),
		symGrpIndex:   mustSpec(symGrpIndex, IntList),
		symFieldCodec: mustSpec(symFieldCodec, String),
		symListCodec:  mustSpec(symListCodec, String),
		symComment:    mustSpec(symComment, String),
		symChecksum:   mustSpec(symChecksum, String),
	}
	// assign binary symbols for the reserved punctuation line types that
	// participate in the binary framing.
	m[symListCodec].BinarySymbol = 27
	m[symFieldCodec].BinarySymbol = 28
	m[symObjIndex].BinarySymbol = 29
	m[symGrpIndex].BinarySymbol = 30
	m[symComment].BinarySymbol = 31
	return m
}

// NewSchema returns an empty schema carrying only the built-in universal
// header/footer line types.
func NewSchema() *Schema {
	return &Schema{Builtin: builtinLineSpecs()}
}

// Lookup returns the FileTypeNode whose primary or secondary name matches
// name, or nil.
func (s *Schema) Lookup(name string) *FileTypeNode {
	for n := s.Types; n != nil; n = n.Next {
		if n.Matches(name) {
			return n
		}
	}
	return nil
}

func (s *Schema) appendType(n *FileTypeNode) {
	if s.Types == nil {
		s.Types = n
		return
	}
	last := s.Types
	for last.Next != nil {
		last = last.Next
	}
	last.Next = n
}

// Destroy releases a schema. Provided for API parity with callers used to
// an explicit lifecycle; in Go the garbage collector reclaims the linked
// list once it is unreferenced.
func (s *Schema) Destroy() {
	s.Types = nil
	s.Builtin = nil
}

// SchemaCreateFromText parses a schema DSL document held in memory,
// without round-tripping it through a temp file.
func SchemaCreateFromText(text string) (*Schema, error) {
	text = strings.ReplaceAll(text, `\n`, "\n")
	return parseSchema(strings.NewReader(text))
}

// SchemaCreateFromFile parses a schema DSL document from a file on disk.
func SchemaCreateFromFile(path string) (*Schema, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, newErr(KindResource, 0, "cannot open schema file %s: %v", path, err)
	}
	defer f.Close()
	return parseSchema(f)
}

// SchemaCreateDynamic synthesizes a schema containing only the primary and
// optional secondary names; line-type definitions are added later as '~'
// lines are read out of a binary file's own header (see FileState.adoptDynamicLine).
func SchemaCreateDynamic(primary string, secondary ...string) *Schema {
	s := NewSchema()
	n := newFileTypeNode(primary)
	n.Secondary = append(n.Secondary, secondary...)
	s.appendType(n)
	return s
}

func parseSchema(r io.Reader) (*Schema, error) {
	s := NewSchema()
	var cur *FileTypeNode
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	lineNo := int64(0)
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if line == "" {
			continue
		}
		toks := splitSchemaLine(line)
		if len(toks) == 0 {
			continue
		}
		switch toks[0] {
		case "P":
			if len(toks) < 3 {
				return nil, newErr(KindSchema, lineNo, "malformed P line")
			}
			name := toks[2]
			if len(name) != 3 {
				return nil, newErr(KindSchema, lineNo, "primary name %q is not three letters", name)
			}
			if cur != nil && cur.ObjectType == 0 {
				return nil, newErr(KindSchema, lineNo, "file type %s declared no object type", cur.Primary)
			}
			cur = newFileTypeNode(name)
			s.appendType(cur)
		case "S":
			if cur == nil || len(toks) < 3 {
				return nil, newErr(KindSchema, lineNo, "malformed S line")
			}
			name := toks[2]
			if len(name) != 3 {
				return nil, newErr(KindSchema, lineNo, "secondary name %q is not three letters", name)
			}
			cur.Secondary = append(cur.Secondary, name)
		case "D", "C":
			if cur == nil || len(toks) < 3 {
				return nil, newErr(KindSchema, lineNo, "malformed %s line", toks[0])
			}
			ls, err := parseLineDef(toks[1], toks[2:])
			if err != nil {
				return nil, err
			}
			ls.Compressed = toks[0] == "C"
			if err := cur.addLine(ls); err != nil {
				return nil, err
			}
		case ".":
			// comment / blank spacer, ignored
		default:
			return nil, newErr(KindSchema, lineNo, "unrecognized schema line starting with %q", toks[0])
		}
	}
	if err := sc.Err(); err != nil {
		return nil, newErr(KindResource, lineNo, "reading schema: %v", err)
	}
	if cur != nil && cur.ObjectType == 0 {
		return nil, newErr(KindSchema, lineNo, "file type %s declared no object type", cur.Primary)
	}
	assignBinarySymbols(s)
	return s, nil
}

// parseLineDef parses "<c> <nfields> <n1> <typename1> ... [comment]" where
// toks is the tokens after the D/C keyword, i.e. starting at <c>.
func parseLineDef(symTok string, rest []string) (*LineSpec, error) {
	if len(symTok) != 1 {
		return nil, newErr(KindSchema, 0, "line-type symbol %q is not a single character", symTok)
	}
	symbol := symTok[0]
	if len(rest) < 1 {
		return nil, newErr(KindSchema, 0, "line type %c: missing field count", symbol)
	}
	n, err := strconv.Atoi(rest[0])
	if err != nil {
		return nil, newErr(KindSchema, 0, "line type %c: bad field count %q", symbol, rest[0])
	}
	rest = rest[1:]
	fields := make([]FieldType, 0, n)
	for i := 0; i < n; i++ {
		if len(rest) < 2 {
			return nil, newErr(KindSchema, 0, "line type %c: expected %d fields, ran out of tokens", symbol, n)
		}
		// rest[0] is the declared length of the type-name token; it is
		// not checked (keeps the parser forgiving of hand edits).
		typeName := rest[1]
		ft, ok := ParseFieldType(typeName)
		if !ok {
			return nil, newErr(KindSchema, 0, "line type %c: unknown field type %q", symbol, typeName)
		}
		fields = append(fields, ft)
		rest = rest[2:]
	}
	ls, err := newLineSpec(symbol, fields, false)
	if err != nil {
		return nil, err
	}
	if len(rest) > 0 {
		ls.Comment = strings.Join(rest, " ")
	}
	return ls, nil
}

func splitSchemaLine(line string) []string {
	return strings.Fields(line)
}

// assignBinarySymbols fills in BinarySymbol for every user line type across
// every file-type node in the schema: A-Z maps to 0..25, a group type
// (lower-case) maps to 26.
func assignBinarySymbols(s *Schema) {
	for n := s.Types; n != nil; n = n.Next {
		for sym, ls := range n.Lines {
			if IsObjectSymbol(sym) {
				ls.BinarySymbol = sym - 'A'
			} else if sym == n.GroupType {
				ls.BinarySymbol = 26
			}
		}
	}
}

// Compatible reports whether other's definitions are a subset of s's:
// every file type of other must exist in s, and each of its line types
// must exist there with the same field types. It never aborts;
// mismatches are returned as human-readable descriptions instead.
func (s *Schema) Compatible(other *Schema) (bool, []string) {
	var problems []string
	for on := other.Types; on != nil; on = on.Next {
		sn := s.Lookup(on.Primary)
		if sn == nil {
			problems = append(problems, fmt.Sprintf("file type %s not present in target schema", on.Primary))
			continue
		}
		for sym, ols := range on.Lines {
			sls, ok := sn.Lines[sym]
			if !ok {
				problems = append(problems, fmt.Sprintf("%s: line type %c missing", on.Primary, sym))
				continue
			}
			if !fieldsEqual(sls.Fields, ols.Fields) {
				problems = append(problems, fmt.Sprintf("%s: line type %c field types differ", on.Primary, sym))
			}
		}
	}
	return len(problems) == 0, problems
}

func fieldsEqual(a, b []FieldType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
