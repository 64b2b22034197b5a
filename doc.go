// Package outbox implements a transactional domain-event outbox with
// per-subscriber redelivery.
//
// A use case opens a unit of work, mutates business state and enqueues events
// through the Outbox facade; the event rows commit in the same database
// transaction as the mutation. A Crawler, run by a Supervisor-managed worker,
// continuously claims due events, fans each one out to every subscriber
// registered for its topic, and records one publication attempt per cycle
// with the failures observed.
//
// Delivery is at-least-once: an event that failed for some subscribers is
// redelivered to all of them, so subscribers must tolerate redelivery. An
// event's delivery status is derived from its publication history and is
// never set independently. Topics declared quarantine-eligible park an event
// permanently on its first failed attempt instead of returning it to the
// retry pool.
package outbox
