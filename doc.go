// Package one implements the ONE record-container format: a schema-driven,
// self-describing file format for bioinformatics pipelines (reads,
// restriction maps, alignments, joins, lists, hits) that exists in two
// equivalent encodings, ASCII and binary.
//
// A file carries a primary three-letter type (e.g. "seq", "aln"), an
// optional three-letter sub-type, a header of provenance/reference/count
// metadata, and a body of typed records called lines. The binary encoding
// additionally carries per-line-type Huffman codecs, an object index and a
// group index, so that a binary file round-trips losslessly to ASCII and
// supports random access by object number or group number.
//
// # Grammar (ASCII)
//
//	1 <len> <primary> <major> <minor>
//	2 <len> <subtype>                  (optional)
//	! 4 <len> <prog> <len> <ver> <len> <cmd> <len> <date>   (0..N)
//	< <len> <file> <count>             (0..N references)
//	> <len> <file>                     (0..N deferred)
//	~ <D|C> <linetype> <fields…> <comment>                  (schema)
//	.                                  (blank spacer)
//	# <linetype> <count>
//	@ <linetype> <max>
//	+ <linetype> <total>
//	% <grp-linetype> <#|+> <linetype> <value>
//	<linetype> <fields…> [optional comment]
//	…
//
// # Grammar (binary)
//
// Same header in ASCII, terminated by a "$ <endian-flag>" line, then data
// lines using the high-bit-set packed tag byte, then an ASCII blank line,
// then a footer holding the same count lines, serialized codecs on ":"/";",
// the object index on "&", the group index on "*", a "^" terminator, and
// an 8-byte footer offset at end of file.
//
// # Schema DSL
//
//	P <n> <primary>                    (opens new file-type)
//	S <n> <secondary>                  (alias)
//	D <c> <nfields> <n1> <typename1> <n2> <typename2> … [comment]
//	C <c> <nfields> …                  (compressed field tuple)
//
// Type names are INT, REAL, CHAR, STRING, INT_LIST, REAL_LIST, STRING_LIST,
// DNA. Lines beginning with "." are ignored.
package one
