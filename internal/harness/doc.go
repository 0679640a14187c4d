// Package harness runs reading-session scenarios as executable contract
// tests.
//
// A scenario seeds a Book (and optionally ingested sections), drives a
// session with scripted renderer messages and reader actions, and asserts
// on the commands the session sent and on the final stored state.
//
// # Scenario Format
//
//	name: repagination
//	description: "Larger font keeps the reader on the same share of the book"
//	book:
//	  uri: file:///books/dune.epub
//	  page: 40
//	  total_pages: 100
//	  cfi: "epubcfi(/6/8!/4/2)"
//	  initial_locations: ["epubcfi(/6/2!/4/2)"]
//	  sections_percentages: [0.5, 0.5]
//	translator:
//	  prefix: "DE:"
//	steps:
//	  - message: {type: locationChange, result: {totalLocations: 100, start: {cfi: "x", location: 0}}}
//	  - settings: {fontSize: 20, theme: light, lineHeight: 1.5}
//	  - turn: next
//	  - advance: 300ms
//	assertions:
//	  - type: phase
//	    phase: loaded
//	  - type: command_count
//	    command: goToLocation
//	    count: 1
//	  - type: final_state
//	    table: books
//	    expect: {page: 48}
//
// # Assertion Types
//
//   - phase: the reconciler phase after the last step
//   - command_contains: a command (optionally a script kind) with matching args
//   - command_order: commands appear in the given order
//   - command_count: a command (optionally a script kind) appears exactly N times
//   - final_state: one row of books, sections or text_elements matches
//
// # Determinism
//
// Every scenario runs against a fresh in-memory store with fixed IDs, a
// manual clock for translation staggering and the mock translator, so
// traces are identical across runs and can be compared to golden files.
package harness
