// Command oneview is a minimal, read-only dumper for ONE-format files: it
// opens a file, prints its header metadata and per-line-type counts, and
// optionally the first N lines of each type. It exercises only the one
// package's public surface (open/read-line/close) and is not itself part
// of that surface - in the spirit of ONEstat.c/VGPview.c, whose command
// line this borrows the shape of, and follows a flag-parsing-then-
// log.Fatal style throughout.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"

	"github.com/onelib-go/one"
)

func main() {
	schemaPath := flag.String("schema", "", "schema DSL file (required if the file has no embedded schema)")
	showLines := flag.Int("lines", 0, "print up to N lines of each type after the summary")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: oneview [-schema file] [-lines N] <onefile>")
		os.Exit(2)
	}

	if err := run(flag.Arg(0), *schemaPath, *showLines); err != nil {
		log.Fatalf("oneview: %v", err)
	}
}

func run(path, schemaPath string, showLines int) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var schema *one.Schema
	if schemaPath != "" {
		schema, err = one.SchemaCreateFromFile(schemaPath)
		if err != nil {
			return err
		}
	}

	rd, err := one.OpenReader(f, schema)
	if err != nil {
		return err
	}

	fs := rd.FileState()
	fmt.Printf("type: %s", fs.FileType.Primary)
	if fs.Subtype != "" {
		fmt.Printf(" (%s)", fs.Subtype)
	}
	fmt.Println()
	if rd.IsDynamicSchema() {
		fmt.Println("schema: synthesized from embedded \"~\" lines")
	}
	for _, p := range fs.Provenance {
		fmt.Printf("provenance: %s %s %q %s\n", p.Program, p.Version, p.Command, p.Date)
	}

	lineCount := make(map[byte]int)
	printed := make(map[byte]int)
	for {
		ln, err := rd.ReadLine()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		lineCount[ln.Symbol]++
		if printed[ln.Symbol] < showLines {
			fmt.Printf("%c %v\n", ln.Symbol, ln.Fields)
			printed[ln.Symbol]++
		}
	}

	fmt.Println("counts:")
	syms := make([]byte, 0, len(lineCount))
	for sym := range lineCount {
		syms = append(syms, sym)
	}
	sort.Slice(syms, func(i, j int) bool { return syms[i] < syms[j] })
	for _, sym := range syms {
		fmt.Printf("  %c: %d\n", sym, lineCount[sym])
	}

	if fs.FileType.GroupType != 0 {
		fmt.Printf("objects: %d, groups: %d\n", fs.ObjectCount(), fs.GroupCount())
	} else {
		fmt.Printf("objects: %d\n", fs.ObjectCount())
	}
	// the whole stream was read sequentially, so Close checks the
	// accumulated counts against the ones the file declares
	return rd.Close()
}
