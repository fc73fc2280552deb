// Package protocol implements the framing used between the supervisor and its
// transcription worker processes. Each frame is a 5-byte header (type and
// payload length) followed by a gob-encoded Job or Result.
package protocol
