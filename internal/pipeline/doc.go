// Package pipeline coordinates one voice session: frames pass the listening
// gate, drained clips are transcribed by the scheduler, transcripts feed the
// trigger machine and captured commands go to the dispatch queue.
package pipeline
