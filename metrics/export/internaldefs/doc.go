// Package internaldefs holds the exported metric names and bucket bounds shared
// by exporter implementations.
//
// # What this package must NOT do
//
//   - Import an exporter package.
//   - Perform I/O.
package internaldefs
