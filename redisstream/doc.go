// Package redisstream provides a Redis Streams transport for eventfully.
//
// Each endpoint address maps to one stream. Sends use XADD with the payload
// and headers flattened into entry fields; subscriptions consume through a
// consumer group with XREADGROUP. Ack maps to XACK. Nack either forwards the
// entry to a dead-letter stream and acks the original, or leaves it pending
// for the group's redelivery.
package redisstream
