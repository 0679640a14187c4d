// Package entity defines the persisted reading-state entities and the
// contracts through which the rest of lectern reads and mutates them.
//
// This package contains types and interfaces only. The SQLite
// implementation lives in internal/store; entity imports nothing internal so
// every other package can depend on it without cycles.
//
// Key design constraints:
//   - Entities are never mutated directly. Every change goes through an
//     intent method on Repository, and each intent is one atomic UPDATE.
//   - A Book's Progress always equals Page/TotalPages (0 when TotalPages is 0).
//   - A Section is created at most once per (book, href).
//   - TextElement indexes are unique per section and define translation order.
//   - All JSON tags use snake_case.
package entity
