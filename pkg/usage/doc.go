// Package usage is the append-only ledger of metered actions.
//
// Each confirmed gated action is written once as an Event. Events are never
// updated or deleted; corrections are new events. Counting events for a user
// and class since a point in time is the only aggregate the ledger offers,
// and the quota package builds monthly windows on top of it.
//
// Writes go through a Recorder, which makes retries safe: a request carrying
// an idempotency key that was already recorded for the same user returns the
// stored event instead of writing a second one. Stores enforce uniqueness of
// (user, idempotency key) themselves so concurrent retries also collapse.
//
// Stores that can count and insert inside one critical section implement
// ConditionalStore, which enables a hard per-user cap. Without it the ledger
// offers soft-limit semantics only.
package usage
