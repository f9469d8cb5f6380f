package exception

import "github.com/yanun0323/errors"

// WS errors
var (
	ErrWebSocketConnectionClose = errors.New("websocket: connection closed")
	ErrWebSocketProtocol        = errors.New("websocket: protocol error")
	ErrNotAuthenticated         = errors.New("websocket: not authenticated")
	ErrAuthenticationFailed     = errors.New("websocket: authentication failed")
	ErrSubmissionInFlight       = errors.New("websocket: another order submission is in flight")
	ErrSubmissionFailed         = errors.New("websocket: order submission failed")
)
