package one

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

// asciiScanner walks a single in-memory ASCII line's byte content,
// honoring the format's length-prefixed strings (which may contain
// embedded spaces) rather than naive whitespace splitting. Footer lines
// are parsed this way; header and data lines are read straight off the
// byte stream by asciiStream below.
type asciiScanner struct {
	s   string
	pos int
}

func (a *asciiScanner) skipSpace() {
	for a.pos < len(a.s) && a.s[a.pos] == ' ' {
		a.pos++
	}
}

// token reads characters up to the next space or end of line.
func (a *asciiScanner) token() (string, error) {
	a.skipSpace()
	start := a.pos
	for a.pos < len(a.s) && a.s[a.pos] != ' ' {
		a.pos++
	}
	if start == a.pos {
		return "", newErr(KindParse, 0, "expected token, found end of line")
	}
	return a.s[start:a.pos], nil
}

func (a *asciiScanner) int64() (int64, error) {
	tok, err := a.token()
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(tok, 10, 64)
	if err != nil {
		return 0, newErr(KindParse, 0, "expected integer, got %q", tok)
	}
	return n, nil
}

func (a *asciiScanner) char() (byte, error) {
	tok, err := a.token()
	if err != nil {
		return 0, err
	}
	if len(tok) != 1 {
		return 0, newErr(KindParse, 0, "expected single character, got %q", tok)
	}
	return tok[0], nil
}

// fixedString reads a length-prefixed string: "<len> <exactly len bytes>".
func (a *asciiScanner) fixedString() (string, error) {
	n, err := a.int64()
	if err != nil {
		return "", err
	}
	a.skipSpace()
	if a.pos+int(n) > len(a.s) {
		return "", newErr(KindParse, 0, "string declared length %d overruns line", n)
	}
	out := a.s[a.pos : a.pos+int(n)]
	a.pos += int(n)
	return out, nil
}

func (a *asciiScanner) intList() ([]int64, error) {
	n, err := a.int64()
	if err != nil {
		return nil, err
	}
	out := make([]int64, n)
	for i := range out {
		v, err := a.int64()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// asciiStream reads ASCII-encoded fields directly off the byte stream
// rather than off a pre-split line. Strings are length-delimited, in one
// of two modes: checked (header lines) scans byte-by-byte up to the
// declared length and fails if the line ends first, while unchecked
// (data lines) block-reads exactly the declared length, so a payload may
// contain any byte, a raw newline included.
type asciiStream struct {
	br      *bufio.Reader
	checked bool
}

func (a *asciiStream) skipSpace() {
	for {
		b, err := a.br.ReadByte()
		if err != nil {
			return
		}
		if b != ' ' {
			a.br.UnreadByte()
			return
		}
	}
}

// token reads characters up to the next space or newline, leaving the
// terminator unconsumed.
func (a *asciiStream) token() (string, error) {
	a.skipSpace()
	var tok []byte
	for {
		b, err := a.br.ReadByte()
		if err != nil {
			break
		}
		if b == ' ' || b == '\n' {
			a.br.UnreadByte()
			break
		}
		tok = append(tok, b)
	}
	if len(tok) == 0 {
		return "", newErr(KindParse, 0, "expected token, found end of line")
	}
	return string(tok), nil
}

func (a *asciiStream) int64() (int64, error) {
	tok, err := a.token()
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(tok, 10, 64)
	if err != nil {
		return 0, newErr(KindParse, 0, "expected integer, got %q", tok)
	}
	return n, nil
}

func (a *asciiStream) float64() (float64, error) {
	tok, err := a.token()
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return 0, newErr(KindParse, 0, "expected real number, got %q", tok)
	}
	return f, nil
}

func (a *asciiStream) char() (byte, error) {
	tok, err := a.token()
	if err != nil {
		return 0, err
	}
	if len(tok) != 1 {
		return 0, newErr(KindParse, 0, "expected single character, got %q", tok)
	}
	return tok[0], nil
}

// fixedString reads a length-prefixed string "<len> <exactly len bytes>"
// off the stream. In checked mode the payload must not run past the end
// of its line; in unchecked mode exactly len bytes are taken no matter
// what they contain.
func (a *asciiStream) fixedString() (string, error) {
	n, err := a.int64()
	if err != nil {
		return "", err
	}
	if n < 0 {
		return "", newErr(KindParse, 0, "negative string length %d", n)
	}
	sep, err := a.br.ReadByte()
	if err != nil || sep != ' ' {
		return "", newErr(KindParse, 0, "malformed string: missing separator after length %d", n)
	}
	if a.checked {
		buf := make([]byte, 0, n)
		for int64(len(buf)) < n {
			c, err := a.br.ReadByte()
			if err != nil || c == '\n' {
				return "", newErr(KindParse, 0, "string ends %d bytes short of its declared length %d", n-int64(len(buf)), n)
			}
			buf = append(buf, c)
		}
		return string(buf), nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(a.br, buf); err != nil {
		return "", newErr(KindParse, 0, "string payload truncated: %v", err)
	}
	return string(buf), nil
}

func (a *asciiStream) intList() ([]int64, error) {
	n, err := a.int64()
	if err != nil {
		return nil, err
	}
	out := make([]int64, n)
	for i := range out {
		v, err := a.int64()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (a *asciiStream) realList() ([]float64, error) {
	n, err := a.int64()
	if err != nil {
		return nil, err
	}
	out := make([]float64, n)
	for i := range out {
		v, err := a.float64()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (a *asciiStream) stringList() ([]string, error) {
	n, err := a.int64()
	if err != nil {
		return nil, err
	}
	out := make([]string, n)
	for i := range out {
		v, err := a.fixedString()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (a *asciiStream) dna() ([]byte, error) {
	s, err := a.fixedString()
	if err != nil {
		return nil, err
	}
	return []byte(s), nil
}

// restOfLine consumes everything through the next newline (or end of
// stream) and returns it with the leading space trimmed; it is used for
// trailing comments and for discarding the tail of a line.
func (a *asciiStream) restOfLine() (string, error) {
	s, err := a.br.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", newErr(KindResource, 0, "reading line: %v", err)
	}
	return strings.TrimLeft(strings.TrimRight(s, "\n"), " "), nil
}

// readASCIIFields decodes the field tuple (and optional trailing
// comment) of one ASCII line whose type tag has already been consumed,
// leaving the stream positioned after the line's newline.
func readASCIIFields(st *asciiStream, spec *LineSpec) (*Line, error) {
	ln := &Line{Symbol: spec.Symbol, Fields: make([]FieldValue, len(spec.Fields))}
	for i, ft := range spec.Fields {
		var fv FieldValue
		var err error
		switch ft {
		case Int:
			fv.Int, err = st.int64()
		case Real:
			fv.Real, err = st.float64()
		case Char:
			fv.Char, err = st.char()
		case String:
			fv.Str, err = st.fixedString()
		case IntList:
			fv.IntList, err = st.intList()
		case RealList:
			fv.RealList, err = st.realList()
		case StringList:
			fv.StrList, err = st.stringList()
		case DNA:
			fv.DNA, err = st.dna()
		}
		if err != nil {
			return nil, err
		}
		ln.Fields[i] = fv
	}
	comment, err := st.restOfLine()
	if err != nil {
		return nil, err
	}
	ln.Comment = comment
	return ln, nil
}

// formatASCIIFields renders ln's field tuple (and comment, if any) back
// to its ASCII wire form, not including the leading "<symbol> " token.
func formatASCIIFields(spec *LineSpec, ln *Line) string {
	var b strings.Builder
	for i, ft := range spec.Fields {
		b.WriteByte(' ')
		fv := ln.Fields[i]
		switch ft {
		case Int:
			b.WriteString(strconv.FormatInt(fv.Int, 10))
		case Real:
			b.WriteString(strconv.FormatFloat(fv.Real, 'g', -1, 64))
		case Char:
			b.WriteByte(fv.Char)
		case String:
			writeFixedString(&b, fv.Str)
		case IntList:
			b.WriteString(strconv.Itoa(len(fv.IntList)))
			for _, v := range fv.IntList {
				b.WriteByte(' ')
				b.WriteString(strconv.FormatInt(v, 10))
			}
		case RealList:
			b.WriteString(strconv.Itoa(len(fv.RealList)))
			for _, v := range fv.RealList {
				b.WriteByte(' ')
				b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
			}
		case StringList:
			b.WriteString(strconv.Itoa(len(fv.StrList)))
			for _, s := range fv.StrList {
				b.WriteByte(' ')
				writeFixedString(&b, s)
			}
		case DNA:
			writeFixedString(&b, string(fv.DNA))
		}
	}
	if ln.Comment != "" {
		b.WriteByte(' ')
		b.WriteString(ln.Comment)
	}
	return b.String()
}

func writeFixedString(b *strings.Builder, s string) {
	b.WriteString(strconv.Itoa(len(s)))
	b.WriteByte(' ')
	b.WriteString(s)
}
