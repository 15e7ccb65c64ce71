// Package audit persists consensus results as Apache Arrow record batches.
//
// This package implements:
//   - ResultSchema: Arrow schema for consensus outcomes
//   - Converter: consensus-result to record-batch conversion
//   - IPC serialization of record batches
//   - Log: buffered audit log flushing IPC files to a directory
package audit
