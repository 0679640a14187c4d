// Package translate runs machine translation over the text units of one
// section and writes the results back.
//
// A Pipeline groups elements into chunks bounded by a character budget,
// issues one Translator request per chunk on a staggered schedule, and for
// each successful chunk overwrites element content and tells the renderer to
// replace the visible text. At most one Run is active: starting a new run
// cancels the previous one, and once Run.Cancel returns no chunk applies
// anything further.
//
// Failures are isolated per chunk. A failed chunk is logged and recorded in
// the run's Result; the other chunks carry on and the run still resolves.
package translate
