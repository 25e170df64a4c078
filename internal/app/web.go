package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/position_estimator/internal/config"
	"github.com/relabs-tech/position_estimator/internal/estimator"
	"github.com/relabs-tech/position_estimator/internal/monitoring"
)

const (
	wsWriteWait  = 5 * time.Second
	wsSendBuffer = 16
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// EstimateHub keeps the latest estimate and fans it out to websocket
// clients. Slow clients miss intermediate estimates.
type EstimateHub struct {
	mu      sync.RWMutex
	latest  []byte
	clients map[*wsClient]struct{}
}

func NewEstimateHub() *EstimateHub {
	return &EstimateHub{clients: make(map[*wsClient]struct{})}
}

// Update stores s and pushes it to every connected client.
func (h *EstimateHub) Update(s estimator.Snapshot) {
	payload, err := json.Marshal(s)
	if err != nil {
		monitoring.Warnf("web: json marshal error: %v", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.latest = payload
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
		}
	}
}

func (h *EstimateHub) register(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	if h.latest != nil {
		c.send <- h.latest
	}
}

func (h *EstimateHub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Clients returns the number of connected websocket clients.
func (h *EstimateHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *EstimateHub) handleLatest(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	payload := h.latest
	h.mu.RUnlock()

	if payload == nil {
		http.Error(w, "no data yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(payload); err != nil {
		monitoring.Debugf("web: write error: %v", err)
	}
}

func (h *EstimateHub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Warnf("web: websocket upgrade error: %v", err)
		return
	}
	c := &wsClient{conn: conn, send: make(chan []byte, wsSendBuffer)}
	h.register(c)
	monitoring.Debugf("web: websocket client %s connected", r.RemoteAddr)

	go func() {
		defer conn.Close()
		for msg := range c.send {
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
	}()

	// Incoming messages are ignored; reading detects the client going away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.unregister(c)
	monitoring.Debugf("web: websocket client %s disconnected", r.RemoteAddr)
}

// Handler serves the estimate API, the live stream and static files.
func (h *EstimateHub) Handler(staticDir string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/estimate", h.handleLatest)
	mux.HandleFunc("/ws/estimate", h.handleWS)
	if staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(staticDir)))
	}
	return mux
}

// RunWeb serves the latest estimate from the broker until ctx is done.
func RunWeb(ctx context.Context) error {
	cfg := config.Get()
	hub := NewEstimateHub()

	client, err := subscribeEstimates(cfg, cfg.MQTTClientIDWeb, "web", hub.Update)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.WebServerPort),
		Handler: hub.Handler("web"),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	monitoring.Infof("web server listening on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
