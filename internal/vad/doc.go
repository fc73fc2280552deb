// Package vad decides whether a clip contains speech before it is sent for
// transcription. It scores half-overlapping windows by RMS energy and by the
// share of their spectrum inside the speech band, and calls a clip voiced
// when enough windows pass both checks.
package vad
