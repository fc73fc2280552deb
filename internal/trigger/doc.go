// Package trigger implements the wake/end-phrase state machine that turns a
// stream of transcript increments into delimited voice commands.
package trigger
