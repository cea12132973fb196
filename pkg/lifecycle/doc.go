// Package lifecycle defines the core model of the retention engine.
//
// # Overview
//
// Every governed record belongs to a category. The category's retention rule,
// published in a versioned policy catalog, decides when the record leaves the
// Active state and what happens next:
//
//   - Expired, anonymizable records move to Anonymizing and are folded into
//     k-anonymous aggregates by the anonymization pipeline.
//   - Expired records (or consent-based records whose consent was withdrawn
//     longer ago than the grace period) move to PendingDeletion and are erased
//     from every store by the deletion executor.
//   - Records covered by an unreleased legal hold move to Held and stay there
//     until every hold covering them is released.
//
// # State Machine
//
//	Active ──► PendingReview ──► PendingDeletion ──► Deleted
//	  │  ▲          │                  │
//	  │  └──────────┘                  ▼
//	  ├──────────────► Held ◄──── Anonymizing ──► Anonymized
//	  └────────────────────────────────▲
//
// Deleted and Anonymized are terminal. Every transition is committed together
// with exactly one audit entry.
//
// # Subpackages
//
//   - catalog: versioned, hash-chained retention rules
//   - ledger: record registration, candidate selection, transitions
//   - hold: legal hold placement and release
//   - executor: verified multi-store deletion
//   - erasure: store adapters used by the executor
//   - anonymize: progressive k-anonymous aggregation
//   - audit: append-only hash-chained audit log
//   - anomaly: operator-facing anomaly reports
//   - lease: time-bounded shard leases
//   - scheduler: daily, weekly and monthly jobs
//   - storage: SQLite and in-memory persistence
package lifecycle
