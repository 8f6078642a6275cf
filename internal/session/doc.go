// Package session drives one peer connection from handshake to exit.
//
// A Session owns its channel for its whole lifetime: it retries the
// handshake with backoff, hands the channel to the chat engine, and closes it
// when the engine stops or the context ends.
package session
