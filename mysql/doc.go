// Package mysql provides the MySQL 8.0+ durable store for eventfully: the
// outbox table, the semaphore lease table, and the saga state table.
//
// The outbox consumer uses:
//   - READ COMMITTED isolation (to avoid gap locks)
//   - SELECT ... FOR UPDATE SKIP LOCKED, so a row is claimed by at most one
//     relay worker at a time
//   - ORDER BY priority_at ASC (oldest-due first)
//   - LIMIT for batching
//
// Semaphore operations serialize through a per-name GET_LOCK mutex; saga
// state saves use an optimistic concurrency token. See Schema,
// SemaphoreSchema, and SagaSchema for the DDL.
package mysql
