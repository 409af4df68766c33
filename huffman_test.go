package one

import (
	"bytes"
	"math/rand"
	"testing"
)

func trainedDNACodec(t *testing.T, bigEndian bool) *HuffmanCodec {
	t.Helper()
	vc := NewHuffmanCodec(bigEndian)
	training := bytes.Repeat([]byte("ACGT"), 250) // 1000 bytes
	training = append(training, 'N')
	vc.Accumulate(training)
	if err := vc.Build(true); err != nil {
		t.Fatalf("Build: %v", err)
	}
	return vc
}

// TestHuffmanEscapeCode trains a codec on a DNA alphabet (plus a single
// rare 'N') and round-trips a message through it, both directly and
// after a serialize/deserialize cycle.
func TestHuffmanEscapeCode(t *testing.T) {
	vc := trainedDNACodec(t, false)
	msg := []byte("ACGTN")

	enc, nbits, err := vc.Encode(msg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	dec, err := vc.Decode(enc, nbits, len(msg))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if string(dec) != string(msg) {
		t.Fatalf("Decode(Encode(%q)) = %q", msg, dec)
	}

	blob := vc.Serialize()
	vc2, err := DeserializeHuffman(blob, false)
	if err != nil {
		t.Fatalf("DeserializeHuffman: %v", err)
	}
	dec2, err := vc2.Decode(enc, nbits, len(msg))
	if err != nil {
		t.Fatalf("Decode after round trip: %v", err)
	}
	if string(dec2) != string(msg) {
		t.Fatalf("Decode(Encode(%q)) after serialize round trip = %q", msg, dec2)
	}

	// a byte never seen during training must spell itself through the
	// escape code, on both the trained and the deserialized codec
	unseen := []byte("ACGTZ")
	encU, nbitsU, err := vc.Encode(unseen)
	if err != nil {
		t.Fatalf("Encode with unseen byte: %v", err)
	}
	for _, c := range []*HuffmanCodec{vc, vc2} {
		decU, err := c.Decode(encU, nbitsU, len(unseen))
		if err != nil {
			t.Fatalf("Decode with unseen byte: %v", err)
		}
		if string(decU) != string(unseen) {
			t.Fatalf("escape round trip = %q, want %q", decU, unseen)
		}
	}
}

// TestHuffmanRoundTripLaw checks that decode(encode(s)) == s for every byte
// string whose characters are all in the training histogram's support.
func TestHuffmanRoundTripLaw(t *testing.T) {
	vc := NewHuffmanCodec(false)
	hist := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog. "), 2000)
	vc.Accumulate(hist)
	if err := vc.Build(false); err != nil {
		t.Fatalf("Build: %v", err)
	}

	rng := rand.New(rand.NewSource(1))
	alphabet := []byte("the quickbrownfxjmpsavlzydog.")
	for trial := 0; trial < 50; trial++ {
		n := rng.Intn(200) + 1
		msg := make([]byte, n)
		for i := range msg {
			msg[i] = alphabet[rng.Intn(len(alphabet))]
		}
		enc, nbits, err := vc.Encode(msg)
		if err != nil {
			t.Fatalf("Encode(%q): %v", msg, err)
		}
		dec, err := vc.Decode(enc, nbits, len(msg))
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if !bytes.Equal(dec, msg) {
			t.Fatalf("round trip mismatch: want %q, got %q", msg, dec)
		}
	}
}

// TestHuffmanSerializeDeserializeEndianness checks that a codec serialized
// and deserialized, on either declared endianness, produces an encoder
// whose output bits are identical for identical input.
func TestHuffmanSerializeDeserializeEndianness(t *testing.T) {
	for _, bigEndian := range []bool{false, true} {
		vc := trainedDNACodec(t, bigEndian)
		msg := []byte("ACGTACGTN")
		wantEnc, wantBits, err := vc.Encode(msg)
		if err != nil {
			t.Fatal(err)
		}

		blob := vc.Serialize()
		for _, hostBigEndian := range []bool{false, true} {
			vc2, err := DeserializeHuffman(blob, hostBigEndian)
			if err != nil {
				t.Fatalf("DeserializeHuffman(bigEndian=%v->%v): %v", bigEndian, hostBigEndian, err)
			}
			gotEnc, gotBits, err := vc2.Encode(msg)
			if err != nil {
				t.Fatalf("Encode after deserialize: %v", err)
			}
			if gotBits != wantBits || !bytes.Equal(gotEnc, wantEnc) {
				t.Fatalf("encode mismatch after serialize(%v)/deserialize(%v): want %d bits %x, got %d bits %x",
					bigEndian, hostBigEndian, wantBits, wantEnc, gotBits, gotEnc)
			}
		}
	}
}

func TestHuffmanNoEscapeRejectsUnknownByte(t *testing.T) {
	vc := NewHuffmanCodec(false)
	vc.Accumulate([]byte("aaaabbbbcccc"))
	if err := vc.Build(false); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, _, err := vc.Encode([]byte("z")); err == nil {
		t.Fatal("expected error encoding a byte absent from training with no escape code")
	}
}

func TestHuffmanSingleSymbolAlphabet(t *testing.T) {
	vc := NewHuffmanCodec(false)
	vc.Accumulate(bytes.Repeat([]byte{'x'}, 500))
	if err := vc.Build(false); err != nil {
		t.Fatalf("Build: %v", err)
	}
	msg := bytes.Repeat([]byte{'x'}, 10)
	enc, nbits, err := vc.Encode(msg)
	if err != nil {
		t.Fatal(err)
	}
	dec, err := vc.Decode(enc, nbits, len(msg))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(dec, msg) {
		t.Fatalf("got %q, want %q", dec, msg)
	}
}
