// Package fileiface is the per-workload sandboxed file interface: a
// rooted path resolver with traversal defense, plus the read/write/
// delete/rename/list/compress operations the control session's
// file_operation dispatch exposes to the backend.
package fileiface
