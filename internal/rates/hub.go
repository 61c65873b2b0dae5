package rates

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/eramirez/carbid/internal/metrics"
)

const defaultBase = "USD"

// Hub upgrades viewer connections and streams exchange rates. Every viewer
// owns its connection and its ticker; both are torn down when the viewer
// disconnects, never left running in the background.
type Hub struct {
	upgrader websocket.Upgrader
	provider Provider
	interval time.Duration
	logger   *slog.Logger
}

func NewHub(provider Provider, interval time.Duration, allowOrigin func(r *http.Request) bool, logger *slog.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{CheckOrigin: allowOrigin},
		provider: provider,
		interval: interval,
		logger:   logger,
	}
}

type clientMessage struct {
	Type     string `json:"type"`
	Currency string `json:"currency,omitempty"`
}

type ratesMessage struct {
	Type string                     `json:"type"`
	Base string                     `json:"base"`
	Date string                     `json:"date"`
	Data map[string]decimal.Decimal `json:"data"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ServeHTTP handles one viewer for the lifetime of its connection. It
// returns only after the viewer's read loop has exited and its ticker is
// stopped.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	h.serveViewer(r.Context(), conn)
}

func (h *Hub) serveViewer(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	metrics.RateViewers.Inc()
	defer metrics.RateViewers.Dec()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Read loop: its only jobs are relaying base-currency switches and
	// cancelling the viewer on disconnect. The serve loop below is the sole
	// writer on the connection.
	changes := make(chan string, 1)
	go func() {
		defer cancel()
		for {
			var msg clientMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Type == "change_base" && msg.Currency != "" {
				select {
				case changes <- msg.Currency:
				default:
				}
			}
		}
	}()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	base := defaultBase
	h.push(ctx, conn, base)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.push(ctx, conn, base)
		case base = <-changes:
			h.push(ctx, conn, base)
		}
	}
}

// push fetches and sends one snapshot. Provider failures become an error
// frame; the connection stays up and the next tick retries.
func (h *Hub) push(ctx context.Context, conn *websocket.Conn, base string) {
	snap, err := h.provider.Rates(ctx, base)
	if err != nil {
		h.logger.Error("failed to fetch exchange rates", "base", base, "error", err)
		_ = conn.WriteJSON(errorMessage{Type: "error", Message: "failed to fetch exchange rates"})
		return
	}
	_ = conn.WriteJSON(ratesMessage{
		Type: "exchange_rates",
		Base: snap.Base,
		Date: snap.Date,
		Data: snap.Rates,
	})
}
