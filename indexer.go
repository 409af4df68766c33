package one

// Object and group random-access indices. The writer appends one byte
// offset per object line and
// one object number per group line; the reader's GotoObject/GotoGroup
// walk these to seek directly to a record instead of scanning from the
// start of the file.

// recordObjectStart appends the byte offset at which an object-type line
// begins, numbering objects from zero.
func (fs *FileState) recordObjectStart(offset int64) {
	fs.objectIndex = append(fs.objectIndex, offset)
	fs.objectCount++
}

// recordGroupStart appends the object number at which a new group begins,
// numbering groups from zero. Every group line records an entry here,
// including the first, so groupIndex is a plain direct-indexed array with
// no implicit special case for group 0.
func (fs *FileState) recordGroupStart(objNum int64) {
	fs.groupIndex = append(fs.groupIndex, objNum)
	fs.groupCount++
}

// ObjectOffset returns the byte offset of object number n, as recorded by
// the writer's object index.
func (fs *FileState) ObjectOffset(n int64) (int64, error) {
	if n < 0 || n >= int64(len(fs.objectIndex)) {
		return 0, newErr(KindProtocol, 0, "object index %d out of range (have %d objects)", n, len(fs.objectIndex))
	}
	return fs.objectIndex[n], nil
}

// GroupObjectStart returns the object number at which group n starts.
// fs.groupIndex holds one entry per group, recorded as each group line
// is written. Group 0's entry is the number of objects written before the
// first group line (0 when no object precedes it), recorded the same as
// every other group rather than treated as an implicit special case.
func (fs *FileState) GroupObjectStart(n int64) (int64, error) {
	if n < 0 || n >= int64(len(fs.groupIndex)) {
		return 0, newErr(KindProtocol, 0, "group index %d out of range (have %d groups)", n, len(fs.groupIndex))
	}
	return fs.groupIndex[n], nil
}

// GroupSize returns the number of objects belonging to group n: the
// difference between the object number at which group n+1 begins (or the
// total object count, for the final group) and the object number at which
// group n begins.
func (fs *FileState) GroupSize(n int64) (int64, error) {
	start, err := fs.GroupObjectStart(n)
	if err != nil {
		return 0, err
	}
	total := int64(len(fs.objectIndex))
	if total == 0 {
		total = fs.objectCount
	}
	end := total
	if n+1 < int64(len(fs.groupIndex)) {
		end = fs.groupIndex[n+1]
	}
	return end - start, nil
}
