// Package mmap provides read-only memory-mapped file access.
//
// The local object store serves reads straight from mapped pages instead of
// copying file contents through buffers. Mappings are safe for concurrent
// readers; Close is idempotent, but callers must not touch Bytes after
// Close returns.
//
//	m, err := mmap.Open("objects/report.txt")
//	if err != nil { ... }
//	defer m.Close()
//
//	_ = m.Advise(mmap.AccessSequential)
//	r := io.NewSectionReader(m, 0, int64(m.Size()))
//
// Unix platforms use mmap(2) with madvise(2) hints; Windows uses
// CreateFileMapping/MapViewOfFile, where the hints are no-ops.
package mmap
