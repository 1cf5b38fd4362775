// Package routing holds the priority-ordered table that maps outbound
// requests to pooled clients.
//
// # Ordering
//
// Entries are evaluated by rank, highest first. Entries of equal rank keep
// the order in which they were inserted; re-inserting an id counts as a new
// insertion. The default client is not part of the ordering: it is returned
// only when no entry matches.
//
// # Concurrency
//
// Lookups read an immutable snapshot through an atomic pointer and never
// take a lock, so they complete in bounded time while an administrative
// Insert or Remove is running. Writers are serialized by a mutex, build a
// new snapshot and publish it with a single store. A reader therefore sees
// the table either before or after a mutation, never in between.
//
// # Lifecycle
//
// A table is Active from construction until Close, which happens exactly
// once and hands every client, the default included, back to the caller for
// closing. A closed table rejects inserts and lookups with ErrTableClosed.
//
//	table := routing.NewTable(defaultClient)
//	old, replaced, err := table.Insert("partner", 10, partnerClient)
//	client, err := table.Resolve("api.partner.example", "", "/orders", false)
package routing
