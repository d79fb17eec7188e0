// Package ledger records which memories already have a final artifact so a
// rerun skips them.
//
// The done set is built once when the ledger is opened, from two sources:
//
//   - files named <ID>-processed.<ext> in the processed directory
//   - rows of a SQLite index whose final path still exists
//
// The index covers direct downloads, whose timestamped names do not carry
// the entry ID. Record adds to both the set and the index.
package ledger
