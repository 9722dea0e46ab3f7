// Package schema defines the synchronized record types for Leitner storage.
//
// # Overview
//
// Every synchronized entity (Deck, Card, Media) carries a client-generated
// 128-bit identifier assigned at creation and never reused. Records are flat
// and last-write-wins friendly: each column can travel independently through
// the mutation log, and modified_at timestamps (stamped by the remote on
// write) drive conflict detection.
//
// # Rows
//
// The Row type is the boundary representation of a record: a flat
// column-to-value map. Typed structs convert to and from Rows so that the
// mutation log, the remote client, and the conflict resolver can handle any
// table uniformly while deck/card merge rules still see typed fields.
//
// # Tables
//
// The local database and the remote mirror share three logical tables:
//
//	decks   study decks, self-referential parent_id tree
//	cards   flashcards with FSRS memory state and review counters
//	media   content-addressed media references
//
// # Mutation Log
//
// PendingOp is one durable mutation-log entry: the record identity, target
// table, operation kind (put, patch, delete), an opaque changed-field payload,
// and a stable queue position that fixes drain order.
package schema
