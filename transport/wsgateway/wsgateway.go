// Package wsgateway is the WebSocket transport for work-order event
// subscriptions. It generalizes the teacher's MetricsHub (ws_hub.go) from
// "one fixed per-tenant metrics broadcast on a shared ticker" to "per-client
// work-order subscription set with an optional filter", reusing the same
// register/unregister channel pattern and connection cap; the ping/pong
// keep-alive loop is carried over from api_stream.go unchanged.
package wsgateway

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/workbenchhq/controlplane/auth"
	"github.com/workbenchhq/controlplane/internal/events"
	"github.com/workbenchhq/controlplane/internal/telemetry"
	"github.com/workbenchhq/controlplane/internal/workorder"
)

// maxConnections caps concurrent gateway clients, matching ws_hub.go's
// fixed connection ceiling.
const maxConnections = 200

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// clientMessage is the shape of all inbound WebSocket frames.
type clientMessage struct {
	Type        string                `json:"type"`
	WorkOrderID string                `json:"workOrderId"`
	Filters     *workorder.EventFilter `json:"filters,omitempty"`
}

// subscription tracks one client's interest in one work order; cancel stops
// the forwarding goroutine reading the broadcaster channel.
type subscription struct {
	subID  string
	cancel context.CancelFunc
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	mu   sync.Mutex
	subs map[string]subscription // workOrderID -> subscription
}

func (c *client) writeJSON(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		log.Printf("wsgateway: marshal: %v", err)
		return
	}
	select {
	case c.send <- payload:
	default:
		log.Printf("wsgateway: client %s send buffer full, dropping frame", c.id)
	}
}

// Gateway manages registered clients and enforces the connection cap,
// the direct generalization of MetricsHub's register/unregister channels.
type Gateway struct {
	broadcast      *events.Broadcaster
	requireAuth    bool
	register       chan *client
	unregister     chan *client
	mu             sync.RWMutex
	clients        map[string]*client
}

// New constructs a Gateway publishing from broadcast. requireAuth gates
// whether a query-string bearer token is mandatory to connect.
func New(broadcast *events.Broadcaster, requireAuth bool) *Gateway {
	g := &Gateway{
		broadcast:   broadcast,
		requireAuth: requireAuth,
		register:    make(chan *client),
		unregister:  make(chan *client),
		clients:     make(map[string]*client),
	}
	return g
}

// Run drives the register/unregister loop until ctx is canceled, mirroring
// MetricsHub.Run's shape.
func (g *Gateway) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			g.shutdown()
			return
		case c := <-g.register:
			g.mu.Lock()
			if len(g.clients) >= maxConnections {
				g.mu.Unlock()
				c.conn.Close()
				log.Printf("wsgateway: connection rejected: max connections (%d) reached", maxConnections)
				continue
			}
			g.clients[c.id] = c
			telemetry.WSConnections.Inc()
			g.mu.Unlock()
		case c := <-g.unregister:
			g.mu.Lock()
			if _, ok := g.clients[c.id]; ok {
				delete(g.clients, c.id)
				telemetry.WSConnections.Dec()
			}
			g.mu.Unlock()
			c.closeAllSubs()
			close(c.send)
		}
	}
}

func (g *Gateway) shutdown() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range g.clients {
		c.conn.Close()
	}
	g.clients = make(map[string]*client)
}

// ServeHTTP upgrades the request and runs the connection's read/write
// pumps until it disconnects.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if g.requireAuth {
		token := r.URL.Query().Get("token")
		if token == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}
		if _, err := auth.ValidateToken(token); err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("wsgateway: upgrade failed: %v", err)
		return
	}

	c := &client{
		id:   randomID(),
		conn: conn,
		send: make(chan []byte, 64),
		subs: make(map[string]subscription),
	}
	g.register <- c

	done := make(chan struct{})
	go g.writePump(c, done)
	g.readPump(c, done)
}

func (g *Gateway) writePump(c *client, done <-chan struct{}) {
	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-done:
			return
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (g *Gateway) readPump(c *client, done chan struct{}) {
	defer close(done)
	defer func() { g.unregister <- c }()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("wsgateway: read error: %v", err)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.writeJSON(map[string]string{"type": "error", "message": "invalid message"})
			continue
		}

		switch msg.Type {
		case "subscribe":
			g.subscribe(c, msg.WorkOrderID, msg.Filters)
		case "unsubscribe":
			c.unsubscribe(msg.WorkOrderID)
			c.writeJSON(map[string]string{"type": "unsubscription_confirmed", "workOrderId": msg.WorkOrderID})
		case "ping":
			c.writeJSON(map[string]string{"type": "pong"})
		default:
			c.writeJSON(map[string]string{"type": "error", "message": "unknown message type"})
		}
	}
}

// subscribe opens a broadcaster subscription for workOrderID and starts a
// goroutine forwarding events to the client until unsubscribed or the
// connection closes. The broadcaster is keyed per (client, work order)
// since Broadcaster.Subscribe only tracks one subscription per clientID.
func (g *Gateway) subscribe(c *client, workOrderID string, filter *workorder.EventFilter) {
	c.unsubscribe(workOrderID) // replace any prior subscription to the same work order

	subID := c.id + ":" + workOrderID
	ctx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.subs[workOrderID] = subscription{subID: subID, cancel: cancel}
	c.mu.Unlock()

	ch := g.broadcast.Subscribe(subID, workOrderID, filter)
	go func() {
		defer g.broadcast.Unsubscribe(subID)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				c.writeJSON(ev)
			}
		}
	}()
}

func (c *client) unsubscribe(workOrderID string) {
	c.mu.Lock()
	sub, ok := c.subs[workOrderID]
	if ok {
		delete(c.subs, workOrderID)
	}
	c.mu.Unlock()
	if ok {
		sub.cancel()
	}
}

func (c *client) closeAllSubs() {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[string]subscription)
	c.mu.Unlock()
	for _, s := range subs {
		s.cancel()
	}
}

func randomID() string {
	return time.Now().Format("20060102150405.000000000")
}
