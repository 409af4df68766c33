package one

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
)

// The binary footer is written as a run of ordinary ASCII lines (count
// lines, serialized codecs, the object and group indices, a checksum
// line, and a "^" terminator) followed by one trailing 8-byte offset so
// a reader can seek(-8, io.SeekEnd) to find where the footer begins
// without scanning the whole file.
const footerOffsetSize = 8

// writeFooter emits the footer for fs to w and returns the number of
// bytes written, not including the trailing 8-byte offset field itself.
func writeFooter(w io.Writer, fs *FileState) (int64, error) {
	var buf bytes.Buffer

	groupType := byte(0)
	if fs.FileType != nil {
		groupType = fs.FileType.GroupType
	}
	for sym, li := range fs.lines {
		if li.count == 0 {
			continue
		}
		fmt.Fprintf(&buf, "%c %c %d\n", symCount, sym, li.count)
		if li.spec.HasList() {
			fmt.Fprintf(&buf, "%c %c %d\n", symMax, sym, li.max)
			fmt.Fprintf(&buf, "%c %c %d\n", symTotal, sym, li.total)
		}
		if groupType != 0 && sym != groupType && fs.groupCount > 0 {
			fmt.Fprintf(&buf, "%c %c %c %c %d\n", symGroupCount, groupType, '#', sym, li.groupCountMax)
			if li.spec.HasList() {
				fmt.Fprintf(&buf, "%c %c %c %c %d\n", symGroupCount, groupType, '+', sym, li.groupTotalMax)
			}
		}
	}

	// Codec blobs are arbitrary bytes and may contain a raw 0x0A; the
	// footer itself is read back line-by-line (readFooter's bufio.Scanner),
	// so each blob is hex-encoded before being embedded as a fixedString -
	// keeping every footer line's byte content ASCII-safe regardless of
	// what the trained codec's tables happen to contain.
	for sym, li := range fs.lines {
		if li.fieldCodec != nil && li.fieldCodec.state >= huffCoded {
			blob := hex.EncodeToString(li.fieldCodec.Serialize())
			fmt.Fprintf(&buf, "%c %c %d %s\n", symFieldCodec, sym, len(blob), blob)
		}
		if li.listCodec != nil && !li.listCodec.IsDNA() && li.listCodec.state >= huffCoded {
			blob := hex.EncodeToString(li.listCodec.Serialize())
			fmt.Fprintf(&buf, "%c %c %d %s\n", symListCodec, sym, len(blob), blob)
		}
	}

	if len(fs.objectIndex) > 0 {
		buf.WriteString(formatIntListLine(symObjIndex, fs.objectIndex))
	}
	if len(fs.groupIndex) > 0 {
		buf.WriteString(formatIntListLine(symGrpIndex, fs.groupIndex))
	}

	sum := xxhash.Sum64(buf.Bytes())
	fmt.Fprintf(&buf, "%c %d %016x\n", symChecksum, 16, sum)
	fmt.Fprintf(&buf, "%c\n", symFooterEnd)

	n, err := w.Write(buf.Bytes())
	return int64(n), err
}

func formatIntListLine(sym byte, vals []int64) string {
	s := fmt.Sprintf("%c %d", sym, len(vals))
	for _, v := range vals {
		s += fmt.Sprintf(" %d", v)
	}
	return s + "\n"
}

// writeFooterOffset appends the trailing 8-byte absolute footer offset,
// in fs's declared byte order.
func writeFooterOffset(w io.Writer, fs *FileState, offset int64) error {
	var b [footerOffsetSize]byte
	byteOrder(fs).PutUint64(b[:], uint64(offset))
	_, err := w.Write(b[:])
	return err
}

// readFooterOffset reads the trailing 8-byte footer offset from the last
// footerOffsetSize bytes of the file.
func readFooterOffset(r io.ReadSeeker, fs *FileState) (int64, error) {
	if _, err := r.Seek(-footerOffsetSize, io.SeekEnd); err != nil {
		return 0, newErr(KindResource, 0, "seeking to footer offset: %v", err)
	}
	var b [footerOffsetSize]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, newErr(KindBinary, 0, "reading footer offset: %v", err)
	}
	return int64(byteOrder(fs).Uint64(b[:])), nil
}

// readFooter seeks to offset and parses the footer's ASCII lines back
// into fs: counts, codecs, and the object/group indices. It verifies the
// additive xxhash checksum line over the footer bytes that preceded it
// and reports ErrBinary on mismatch.
func readFooter(r io.ReadSeeker, fs *FileState, offset int64) error {
	if _, err := r.Seek(offset, io.SeekStart); err != nil {
		return newErr(KindResource, 0, "seeking to footer: %v", err)
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 64<<20)

	var content bytes.Buffer
	var sawChecksum string
	for sc.Scan() {
		line := sc.Text()
		if len(line) == 0 {
			continue
		}
		if line[0] == symFooterEnd {
			break
		}
		if line[0] == symChecksum {
			sc2 := &asciiScanner{s: line[1:]}
			s, err := sc2.fixedString()
			if err != nil {
				return err
			}
			sawChecksum = s
			continue
		}
		content.WriteString(line)
		content.WriteByte('\n')
		if err := applyFooterLine(fs, line); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return newErr(KindResource, 0, "reading footer: %v", err)
	}
	if sawChecksum != "" {
		want := fmt.Sprintf("%016x", xxhash.Sum64(content.Bytes()))
		if want != sawChecksum {
			return newErr(KindBinary, 0, "footer checksum mismatch: file may be corrupt")
		}
		if fs.Log != nil {
			fs.Log.Debug("one: footer checksum verified", "checksum", sawChecksum)
		}
	}
	return nil
}

func applyFooterLine(fs *FileState, line string) error {
	sym := line[0]
	sc2 := &asciiScanner{s: line[1:]}
	switch sym {
	case symCount:
		lt, err := sc2.char()
		if err != nil {
			return err
		}
		n, err := sc2.int64()
		if err != nil {
			return err
		}
		if li := fs.lineInfoFor(lt); li != nil {
			li.givenCount = n
		}
	case symMax:
		lt, err := sc2.char()
		if err != nil {
			return err
		}
		n, err := sc2.int64()
		if err != nil {
			return err
		}
		if li := fs.lineInfoFor(lt); li != nil {
			li.givenMax = n
		}
	case symTotal:
		lt, err := sc2.char()
		if err != nil {
			return err
		}
		n, err := sc2.int64()
		if err != nil {
			return err
		}
		if li := fs.lineInfoFor(lt); li != nil {
			li.givenTotal = n
		}
	case symGroupCount:
		if _, err := sc2.char(); err != nil { // group-type symbol, implied by the schema
			return err
		}
		kind, err := sc2.char()
		if err != nil {
			return err
		}
		lt, err := sc2.char()
		if err != nil {
			return err
		}
		n, err := sc2.int64()
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
	case symFieldCodec:
		lt, err := sc2.char()
		if err != nil {
			return err
		}
		hexBlob, err := sc2.fixedString()
		if err != nil {
			return err
		}
		blob, err := hex.DecodeString(hexBlob)
		if err != nil {
			return newErr(KindBinary, 0, "malformed field codec blob for line type %c: %v", lt, err)
		}
		vc, err := DeserializeHuffman(blob, fs.BigEndian)
		if err != nil {
			return err
		}
		if li := fs.lineInfoFor(lt); li != nil {
			li.fieldCodec = vc
		}
	case symListCodec:
		lt, err := sc2.char()
		if err != nil {
			return err
		}
		hexBlob, err := sc2.fixedString()
		if err != nil {
			return err
		}
		blob, err := hex.DecodeString(hexBlob)
		if err != nil {
			return newErr(KindBinary, 0, "malformed list codec blob for line type %c: %v", lt, err)
		}
		vc, err := DeserializeHuffman(blob, fs.BigEndian)
		if err != nil {
			return err
		}
		if li := fs.lineInfoFor(lt); li != nil {
			li.listCodec = vc
		}
	case symObjIndex:
		vals, err := sc2.intList()
		if err != nil {
			return err
		}
		fs.objectIndex = vals
	case symGrpIndex:
		vals, err := sc2.intList()
		if err != nil {
			return err
		}
		fs.groupIndex = vals
	}
	return nil
}
