// Package worker runs transcription jobs in isolated workers. Serve is the
// loop executed inside a worker process; Handle is the supervisor's view of a
// worker, with a single-slot inbox, a result channel and forced termination.
package worker
