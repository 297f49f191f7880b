package feed

import (
	"context"
	"strconv"

	"github.com/yanun0323/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
	"github.com/yanun0323/pkg/ws"
)

// WSFeed streams ticks over a broker websocket. Reconnects are handled
// inside the ws layer; subscriptions registered through SendAndWait are
// replayed on reconnect.
type WSFeed struct {
	wss *ws.WebSocket
}

var _ Source = (*WSFeed)(nil)

// NewWSFeed creates a feed against the given websocket endpoint.
func NewWSFeed(ctx context.Context, url string) *WSFeed {
	return &WSFeed{wss: ws.New(ctx, url)}
}

// Start opens the websocket.
func (f *WSFeed) Start(ctx context.Context) error {
	if err := f.wss.Start(ctx); err != nil {
		return errors.Wrap(err, "start wss")
	}
	return nil
}

// Close tears the websocket down.
func (f *WSFeed) Close() {
	f.wss.Close()
}

type subscribeRequest struct {
	Method string   `json:"method"`
	Tokens []uint32 `json:"tokens"`
	ID     int64    `json:"id"`
}

type subscribeResponse struct {
	ID     int64 `json:"id"`
	Result any   `json:"result"`
}

// Subscribe registers the feed tokens and waits for the acknowledgment.
func (f *WSFeed) Subscribe(ctx context.Context, tokens []uint32) error {
	appendIntoRegister := true
	if err := f.wss.SendAndWait(ctx, ws.Sidecar{
		Sender: func(ctx context.Context, ws *ws.WebSocket) error {
			payload := subscribeRequest{
				Method: "subscribe",
				Tokens: tokens,
				ID:     1,
			}
			if err := ws.WriteJSON(payload); err != nil {
				return errors.Wrap(err, "write subscribe payload").With("tokens", len(tokens))
			}
			return nil
		},
		Waiter: func(ctx context.Context, m ws.Message) (bool, error) {
			var resp subscribeResponse
			if err := m.Unmarshal(&resp); err != nil || resp.ID != 1 {
				return false, nil
			}
			if resp.Result != nil {
				return false, errors.Errorf("subscribe rejected, err: %+v", resp.Result)
			}
			return true, nil
		},
	}, appendIntoRegister); err != nil {
		return errors.Wrap(err, "send and wait")
	}

	return nil
}

type tickMessage struct {
	Method string `json:"method"`
	Ticks  []struct {
		Token     uint32          `json:"token"`
		LastPrice decimal.Decimal `json:"last_price"`
	} `json:"ticks"`
}

// ObserveTicks delivers decoded tick batches to the handler until the
// context ends or the subscription is cancelled.
func (f *WSFeed) ObserveTicks(ctx context.Context, handler func(ticks []Tick)) (unsubscribe func()) {
	ch, cancel := f.wss.Subscribe()

	go func() {
		defer cancel()
		for {
			select {
			case <-sys.Shutdown():
				return
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}

				msg, ok := ws.ReadMessage[tickMessage](m)
				if !ok || msg.Method != "ticks" {
					continue
				}

				ticks := make([]Tick, 0, len(msg.Ticks))
				for _, t := range msg.Ticks {
					price, err := strconv.ParseFloat(t.LastPrice.String(), 64)
					if err != nil {
						logs.Errorf("parse tick price %s, err: %+v", t.LastPrice.String(), err)
						continue
					}
					ticks = append(ticks, Tick{Token: t.Token, LastPrice: price})
				}
				if len(ticks) > 0 {
					handler(ticks)
				}
			}
		}
	}()

	return cancel
}
