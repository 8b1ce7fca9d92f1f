// Package fileasset implements the File Repository (component C): dual-
// index persistence of Downloaded-File metadata, keyed by token and by
// owning job id, with the 60-second grace window spec §4.3 requires so
// a recently-expired token can still be told apart from one that never
// existed.
package fileasset
