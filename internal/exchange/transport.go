package exchange

import (
	"context"
	"sync"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/pkg/ws"
)

// Transport is one venue connection.
type Transport interface {
	// Request sends req and blocks until the reply with the same ID arrives.
	Request(ctx context.Context, req Request) (Envelope, error)
	// Inbound streams every message received. The channel closes when the
	// connection drops.
	Inbound() (<-chan Envelope, func())
	Close()
}

// Dialer opens a Transport.
type Dialer func(ctx context.Context, url string) (Transport, error)

type wsTransport struct {
	wss *ws.WebSocket
}

// DialWebSocket opens a websocket transport.
func DialWebSocket(ctx context.Context, url string) (Transport, error) {
	wss := ws.New(ctx, url)
	if err := wss.Start(ctx); err != nil {
		return nil, errors.Wrap(err, "start wss")
	}
	return &wsTransport{wss: wss}, nil
}

func (t *wsTransport) Request(ctx context.Context, req Request) (Envelope, error) {
	var reply Envelope
	if err := t.wss.SendAndWait(ctx, ws.Sidecar{
		Sender: func(ctx context.Context, client *ws.WebSocket) error {
			if err := client.WriteJSON(req); err != nil {
				return errors.Wrapf(err, "write %s payload", req.Op)
			}
			return nil
		},
		Waiter: func(ctx context.Context, m ws.Message) (bool, error) {
			var env Envelope
			if err := m.Unmarshal(&env); err != nil || env.ID != req.ID {
				return false, nil
			}
			reply = env
			return true, nil
		},
	}, false); err != nil {
		return Envelope{}, errors.Wrap(err, "send and wait")
	}
	return reply, nil
}

func (t *wsTransport) Inbound() (<-chan Envelope, func()) {
	ch, cancel := t.wss.Subscribe()
	out := make(chan Envelope, 64)
	done := make(chan struct{})
	go func() {
		defer close(out)
		for {
			select {
			case <-done:
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				var env Envelope
				if err := m.Unmarshal(&env); err != nil {
					continue
				}
				select {
				case out <- env:
				case <-done:
					return
				}
			}
		}
	}()

	var once sync.Once
	return out, func() {
		once.Do(func() {
			close(done)
			cancel()
		})
	}
}

func (t *wsTransport) Close() {
	t.wss.Close()
}
