package one

import "testing"

// TestDNARoundTrip checks that decoding an encoded sequence yields the
// lowercased canonical form, where any non-ACGT character folds to 'a'.
func TestDNARoundTrip(t *testing.T) {
	cases := []struct{ in, want string }{
		{"acgt", "acgt"},
		{"ACGT", "acgt"},
		{"AcGt", "acgt"},
		{"acgtn", "acgta"},
		{"NNNN", "aaaa"},
		{"", ""},
		{"a", "a"},
		{"acgtacgtacg", "acgtacgtacg"},
	}
	for _, c := range cases {
		enc := EncodeDNA([]byte(c.in))
		dec := DecodeDNA(enc, len(c.in))
		if string(dec) != c.want {
			t.Fatalf("DecodeDNA(EncodeDNA(%q)) = %q, want %q", c.in, dec, c.want)
		}
	}
}

func TestDNAPackedSize(t *testing.T) {
	enc := EncodeDNA([]byte("acgtacgta"))
	if len(enc) != 3 {
		t.Fatalf("expected 9 bases to pack into 3 bytes, got %d", len(enc))
	}
}
