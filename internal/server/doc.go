// Package server implements the HTTP API: health and status reporting, the
// listening toggle, Prometheus metrics and a websocket feed of pipeline events.
package server
