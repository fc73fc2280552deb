// Package source defines where audio frames come from. The WAV replay and
// network capture sources live here; the microphone source is in the mic
// subpackage because it needs cgo and PortAudio.
//
// The network source accepts UDP datagrams of a big-endian uint32 sequence
// number followed by little-endian PCM-16 samples, restores packet order and
// regroups the samples into fixed-duration frames.
package source
