// Package session reconciles one open document between the renderer and the
// persisted Book.
//
// A Session owns a single-writer event loop. Renderer messages and host
// intents (settings changes, page turns, seeks) are queued as events and
// handled one at a time on the Run goroutine, so the reconciler state needs
// no locks. Handlers:
//
//   - ingest section text units the first time a subdivision is seen,
//   - drive the Paginating / Loaded / Repaginating machine that decides when
//     the renderer's location and pagination may be persisted,
//   - start a translation run when the renderer reports the first visible
//     text unit.
//
// Out-of-phase and malformed input is logged and dropped. A handler error is
// logged with the event that caused it and the loop carries on.
package session
