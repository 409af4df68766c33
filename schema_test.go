package one

import "testing"

func TestSchemaParseBasic(t *testing.T) {
	s, err := SchemaCreateFromText(`P 3 seq
D S 1 3 DNA
D Q 1 6 STRING
`)
	if err != nil {
		t.Fatalf("SchemaCreateFromText: %v", err)
	}
	n := s.Lookup("seq")
	if n == nil {
		t.Fatal("file type seq not found")
	}
	sLine, ok := n.Lines['S']
	if !ok {
		t.Fatal("line type S not found")
	}
	if len(sLine.Fields) != 1 || sLine.Fields[0] != DNA {
		t.Fatalf("S fields = %v, want [DNA]", sLine.Fields)
	}
	if !sLine.HasList() || sLine.ListType() != DNA {
		t.Fatalf("S should carry a DNA list field")
	}
	if n.ObjectType != 'S' {
		t.Fatalf("object type = %c, want S", n.ObjectType)
	}
}

func TestSchemaParseSecondaryAndGroup(t *testing.T) {
	s, err := SchemaCreateFromText(`P 3 rdx
S 3 rdy
D R 1 6 STRING
D g 1 6 STRING
`)
	if err != nil {
		t.Fatalf("SchemaCreateFromText: %v", err)
	}
	n := s.Lookup("rdy")
	if n == nil {
		t.Fatal("secondary name rdy should resolve to the rdx node")
	}
	if n.Primary != "rdx" {
		t.Fatalf("Lookup(rdy).Primary = %q, want rdx", n.Primary)
	}
	if n.GroupType != 'g' {
		t.Fatalf("group type = %c, want g", n.GroupType)
	}
	if n.ObjectType != 'R' {
		t.Fatalf("object type = %c, want R", n.ObjectType)
	}
}

func TestSchemaCompressedLineType(t *testing.T) {
	s, err := SchemaCreateFromText(`P 3 seq
D S 1 3 DNA
C Q 2 6 STRING 3 INT
`)
	if err != nil {
		t.Fatalf("SchemaCreateFromText: %v", err)
	}
	n := s.Lookup("seq")
	q := n.Lines['Q']
	if !q.Compressed {
		t.Fatal("C-declared line type should have Compressed == true")
	}
	if len(q.Fields) != 2 || q.Fields[0] != String || q.Fields[1] != Int {
		t.Fatalf("Q fields = %v, want [STRING INT]", q.Fields)
	}
}

func TestSchemaRejectsDuplicateLineType(t *testing.T) {
	_, err := SchemaCreateFromText(`P 3 seq
D S 1 3 DNA
D S 1 6 STRING
`)
	if err == nil {
		t.Fatal("expected error for duplicate line-type symbol")
	}
}

func TestSchemaRejectsMissingObjectType(t *testing.T) {
	_, err := SchemaCreateFromText(`P 3 seq
`)
	if err == nil {
		t.Fatal("expected error for a file type with no object-capable line type")
	}
}

func TestSchemaCompatible(t *testing.T) {
	full, err := SchemaCreateFromText(`P 3 seq
D S 1 3 DNA
D Q 1 6 STRING
D X 1 3 INT
`)
	if err != nil {
		t.Fatalf("full schema: %v", err)
	}
	subset, err := SchemaCreateFromText(`P 3 seq
D S 1 3 DNA
D Q 1 6 STRING
`)
	if err != nil {
		t.Fatalf("subset schema: %v", err)
	}
	ok, problems := full.Compatible(subset)
	if !ok {
		t.Fatalf("full should be compatible with subset, problems: %v", problems)
	}

	mismatched, err := SchemaCreateFromText(`P 3 seq
D S 1 6 STRING
`)
	if err != nil {
		t.Fatalf("mismatched schema: %v", err)
	}
	ok, problems = full.Compatible(mismatched)
	if ok {
		t.Fatal("expected incompatibility: S is DNA in full, STRING in mismatched")
	}
	if len(problems) == 0 {
		t.Fatal("expected at least one reported problem")
	}

	unknownType, err := SchemaCreateFromText(`P 3 xyz
D S 1 3 DNA
`)
	if err != nil {
		t.Fatalf("unknownType schema: %v", err)
	}
	ok, problems = full.Compatible(unknownType)
	if ok {
		t.Fatal("expected incompatibility: xyz is absent from full")
	}
	if len(problems) == 0 {
		t.Fatal("expected at least one reported problem")
	}
}

func TestSchemaDynamic(t *testing.T) {
	s := SchemaCreateDynamic("seq", "sqc")
	n := s.Lookup("seq")
	if n == nil || n.Primary != "seq" {
		t.Fatal("dynamic schema should register its primary name")
	}
	if s.Lookup("sqc") != n {
		t.Fatal("dynamic schema should register its secondary name against the same node")
	}
	if len(n.Lines) != 0 {
		t.Fatalf("dynamic schema should start with no line-type definitions, got %d", len(n.Lines))
	}
}
