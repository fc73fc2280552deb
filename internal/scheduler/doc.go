// Package scheduler supervises the two transcription workers. Exactly one job
// is in flight at a time; a job the active worker fails to answer within the
// primary timeout is handed to the warm backup while the active worker is
// killed and respawned, and the roles swap.
package scheduler
