// Package agent runs one natural-language command through the pipeline:
// classification, address resolution and dispatch, confirmation tracking for
// transfers, documentation search and general chat. It turns every outcome,
// including failures, into exactly one summary line and records it in the
// command journal.
package agent
