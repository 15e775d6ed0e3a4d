package services

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"drivewatch/models"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingPeriod   = (wsPongWait * 9) / 10
	wsClientBuffer = 16
)

// SessionReader exposes the read side of a telemetry session
type SessionReader interface {
	State() models.SessionState
	History() []models.HistoryEntry
}

// DashboardServer serves the session snapshot over HTTP and streams
// session events to websocket clients
type DashboardServer struct {
	session  SessionReader
	logger   *zap.Logger
	server   *http.Server
	upgrader websocket.Upgrader
	events   chan models.SessionEvent

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewDashboardServer creates a dashboard bound to addr
func NewDashboardServer(addr string, session SessionReader, logger *zap.Logger) *DashboardServer {
	d := &DashboardServer{
		session: session,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		events:  make(chan models.SessionEvent, 64),
		clients: make(map[*wsClient]struct{}),
	}
	d.server = &http.Server{
		Addr:              addr,
		Handler:           d.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return d
}

// Listener returns the session listener feeding websocket clients
func (d *DashboardServer) Listener() Listener {
	return ForwardEvents("dashboard", d.events)
}

// Handler builds the dashboard routes
func (d *DashboardServer) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", d.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/session", d.handleSession).Methods(http.MethodGet)
	r.HandleFunc("/api/history", d.handleHistory).Methods(http.MethodGet)
	r.HandleFunc("/ws", d.handleWebsocket)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Run serves until ctx is done, then shuts the server down
func (d *DashboardServer) Run(ctx context.Context) error {
	d.logger.Info("Starting dashboard server", zap.String("addr", d.server.Addr))

	go d.broadcast(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := d.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		d.closeClients()
		return d.server.Shutdown(shutdownCtx)
	}
}

func (d *DashboardServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := d.session.State()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"session_id": state.SessionID,
		"channel":    state.Status,
	})
}

func (d *DashboardServer) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, d.session.State())
}

func (d *DashboardServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	history := d.session.History()
	if history == nil {
		history = []models.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, history)
}

func (d *DashboardServer) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		d.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, wsClientBuffer)}

	// New clients start from the current snapshot
	snapshot, err := json.Marshal(models.SessionEvent{Type: models.EventStatus, State: d.session.State()})
	if err == nil {
		client.send <- snapshot
	}

	d.mu.Lock()
	d.clients[client] = struct{}{}
	d.mu.Unlock()

	d.logger.Debug("Websocket client connected", zap.String("remote", r.RemoteAddr))

	go d.writePump(client)
	d.readPump(client)
}

// readPump discards inbound frames and unregisters the client on close
func (d *DashboardServer) readPump(client *wsClient) {
	defer d.unregister(client)

	client.conn.SetReadLimit(512)
	_ = client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (d *DashboardServer) writePump(client *wsClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (d *DashboardServer) broadcast(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-d.events:
			// History snapshots are large; clients rebuild them from history events
			event.State.History = nil
			msg, err := json.Marshal(event)
			if err != nil {
				d.logger.Error("Failed to encode session event", zap.Error(err))
				continue
			}

			d.mu.Lock()
			for client := range d.clients {
				select {
				case client.send <- msg:
				default:
					EventsDroppedTotal.WithLabelValues("websocket").Inc()
				}
			}
			d.mu.Unlock()
		}
	}
}

func (d *DashboardServer) unregister(client *wsClient) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.clients[client]; ok {
		delete(d.clients, client)
		close(client.send)
	}
}

func (d *DashboardServer) closeClients() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for client := range d.clients {
		delete(d.clients, client)
		close(client.send)
	}
}

// ClientCount returns the number of connected websocket clients
func (d *DashboardServer) ClientCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.clients)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
