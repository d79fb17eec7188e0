// Package storage writes final artifacts and raw components.
//
// Writer owns the processed directory. Work happens in hidden staging files
// that are renamed into place only once complete, so a crash never leaves a
// partial artifact under a final name. Commit consults the ledger and the
// directory before the rename and never replaces an existing artifact.
//
// Naming:
//
//	<ID>-processed.<ext>              archive-derived artifacts
//	YYYYMMDD_HHMMSS_<type>.<ext>      direct downloads
//	memory_NNNN_<type>.<ext>          direct downloads without a date
//
// RawStore keeps the unmodified archive members in a gocloud blob bucket,
// by default a fileblob bucket rooted at the raw directory.
package storage
