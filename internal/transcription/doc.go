// Package transcription defines the Engine used inside worker processes and
// implements the HTTP engine. The HTTP engine uploads clips as multipart WAV
// to an OpenAI-compatible endpoint and retries with exponential backoff.
package transcription
