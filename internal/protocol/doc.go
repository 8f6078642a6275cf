// Package protocol owns the peer chat wire contract.
//
// Ownership boundary:
// - error taxonomy shared by every protocol layer
// - the byte-stream channel contract a session owns
// - frame codec (frame), connection handshake (handshake)
package protocol
