// Package state provides pref.Store implementations.
//
//   - MemoryStore keeps values in process and echoes every mutation to its
//     observers synchronously.
//   - LayeredStore resolves keys across named domains ordered by priority
//     (argument, application, registration) and reports provenance through
//     Trace.
//   - Ref gives shared backends (redisstore, natsstore, sqlitestore) a
//     canonical key prefix per suite and owner scope. filestore keeps one
//     suite per file.
//
// Data flow:
//
//	Binding -> LayeredStore -> write domain store
//	domain store change -> LayeredStore (effective value) -> Binding
package state
