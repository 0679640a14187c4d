// Package store provides SQLite-backed durable storage for lectern's
// reading-state entities.
//
// The store implements the entity.Repository contract:
//   - Books: one row per opened document, mutated only by intent methods
//   - Sections: UNIQUE(book_id, href), created at most once per href
//   - Text elements: PRIMARY KEY(section_id, idx), cascaded from sections
//
// # Critical Patterns
//
// Idempotent ingestion
//   - AddSection uses INSERT ... ON CONFLICT(book_id, href) DO NOTHING and
//     only writes elements when the section row was actually inserted
//   - Re-reported subdivisions never duplicate elements
//
// One intent, one UPDATE
//   - Every Change* method is a single UPDATE statement
//   - Page and progress are always written together
//   - CHECK(page >= 0 AND page <= total_pages) backs the page invariant
//
// Committed-state observation
//   - Observers are notified after the UPDATE returns, with the Book
//     re-read from the database, never with the caller's in-memory copy
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce cascade from sections to text elements
package store
