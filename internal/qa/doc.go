// Package qa holds the records, interfaces, and run results shared by the
// question collector, the answer joiner, and their storage and transport
// adapters.
package qa
