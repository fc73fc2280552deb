// Package dispatch hands captured commands to the conversation engine through
// a single-slot queue and re-opens the listening gate once the engine is done.
package dispatch
