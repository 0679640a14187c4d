// Package bridge implements the message channel between the host and the
// sandboxed rendering surface.
//
// The bridge performs no business logic. It turns renderer-originated JSON
// objects ({"type": ..., "result": ...}) into a closed set of typed Message
// values, and host intents into Command values that are written to the
// renderer in call order.
//
// The renderer is untrusted. Every inbound payload is validated against an
// embedded JSON Schema before it is decoded; anything malformed becomes a
// *ProtocolError, and any unrecognized type becomes Unknown. Callers log and
// drop both, never crash on them.
//
// Commands are fire-and-forget: the only acknowledgement is whatever typed
// message the renderer chooses to emit later, in whatever order it likes.
package bridge
