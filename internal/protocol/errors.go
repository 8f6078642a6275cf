package protocol

import "errors"

var (
	ErrHandshakeFailed   = errors.New("protocol: handshake failed")
	ErrFrameCorrupted    = errors.New("protocol: frame corrupted")
	ErrUnrecognizedFrame = errors.New("protocol: unrecognized frame")
	ErrChannelClosed     = errors.New("protocol: channel closed")
	ErrTruncatedSource   = errors.New("protocol: source shorter than declared size")
	ErrPayloadTooLarge   = errors.New("protocol: payload too large")
	ErrInvalidPayload    = errors.New("protocol: invalid payload")
	ErrFileOpenFailed    = errors.New("protocol: file open failed")
	ErrTimeout           = errors.New("protocol: timeout")
	ErrPeerRejected      = errors.New("protocol: peer rejected last frame")
	ErrTransferTooLarge  = errors.New("protocol: transfer too large")
)

// IsFatal reports whether err ends the session rather than a single round.
func IsFatal(err error) bool {
	return errors.Is(err, ErrChannelClosed) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrTransferTooLarge)
}
