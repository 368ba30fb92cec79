package storage

// Package storage persists task outcomes so operators can inspect what
// ran after the fact.
//
// It currently supports:
//   - Append-only history records (one per settled task)
//   - Bounded retention (oldest records pruned first)
