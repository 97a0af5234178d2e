package blocks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/websocket"
)

// WSSource emits heights from an eth_subscribe newHeads websocket subscription.
type WSSource struct {
	URL    string
	Dialer *websocket.Dialer
	Logger *slog.Logger
}

type wsMessage struct {
	ID     *uint64         `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
	Params *struct {
		Subscription string `json:"subscription"`
		Result       struct {
			Number string `json:"number"`
		} `json:"result"`
	} `json:"params,omitempty"`
}

// Stream implements Source. It returns when the connection fails or ctx is done.
func (w *WSSource) Stream(ctx context.Context, out chan<- uint64) error {
	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dialer := w.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, _, err := dialer.DialContext(ctx, w.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", w.URL, err)
	}
	defer conn.Close()

	// Unblock ReadJSON when ctx is cancelled.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	subscribeMsg := map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "eth_subscribe",
		"params":  []string{"newHeads"},
		"id":      1,
	}
	if err := conn.WriteJSON(subscribeMsg); err != nil {
		return fmt.Errorf("subscribe newHeads: %w", err)
	}
	logger.Info("Subscribed to newHeads", slog.String("url", w.URL))

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}

		if msg.Error != nil {
			return fmt.Errorf("newHeads subscription rejected: %d %s", msg.Error.Code, msg.Error.Message)
		}
		if msg.Method != "eth_subscription" || msg.Params == nil {
			continue
		}

		h, err := hexutil.DecodeUint64(msg.Params.Result.Number)
		if err != nil {
			logger.Debug("Ignoring head with bad number",
				slog.String("number", msg.Params.Result.Number),
				slog.String("error", err.Error()),
			)
			continue
		}
		select {
		case out <- h:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
