package exception

import "github.com/yanun0323/errors"

var (
	ErrOrderNotFound   = errors.New("order: not found")
	ErrOrderDuplicated = errors.New("order: already exists")
	ErrOrderRejected   = errors.New("order: rejected by risk engine")
	ErrOrderQueueFull  = errors.New("order: queue full")
	ErrOrderQueueClose = errors.New("order: queue closed")
)
