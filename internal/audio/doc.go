// Package audio holds the frame aggregator that sits behind the listening gate.
// It buffers fixed-duration PCM frames in a bounded queue, applies the configured
// backpressure policy when the queue is full, and concatenates queued frames into
// clips for transcription. It also encodes and decodes WAV through go-audio and
// records raw capture to disk.
package audio
