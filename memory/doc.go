// Package memory provides in-process implementations of the eventfully
// store, semaphore, and transport contracts. They are intended for tests
// and local development; nothing survives a restart.
//
// Dispatch transactions are serialized on a single mutex, so the store is
// a true single-writer system. Claims taken by FetchDue are marker based
// and released on Commit or Rollback.
package memory
