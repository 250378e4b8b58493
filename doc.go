// Package eventfully is a reliable-messaging core built around the
// transactional outbox pattern.
//
// Applications stage outbound messages in the same local transaction as the
// domain change that produced them. A Relay then polls the durable outbox,
// resolves each message's destination endpoint, runs the endpoint's outbound
// filter chain, and hands the bytes to a Transport, retrying transient
// failures with exponential backoff. Relay and consumer workers across a
// fleet are bounded by a distributed counting Semaphore backed by the same
// durable store.
//
// The inbound side mirrors the same guarantees: the Dispatcher receives raw
// bytes from a Transport, runs the inbound filter chain, resolves the message
// type against the Registry, and invokes either a plain handler or a
// correlated saga, all within one local transaction that may itself stage
// further outbound messages.
//
// Storage backends live in subpackages: mysql (production, polling with
// SKIP LOCKED) and memory (tests and local development). Transport adapters
// follow the same layout, see redisstream.
package eventfully
