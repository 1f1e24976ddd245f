package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/colorfulnotion/commitchain/chain"
	"github.com/colorfulnotion/commitchain/common"
	"github.com/colorfulnotion/commitchain/log"
	"github.com/colorfulnotion/commitchain/types"
	"github.com/gorilla/websocket"
)

const (
	SubEvents   = "subscribeEvents"
	UnsubEvents = "unsubscribeEvents"
	feedSender  = "commitchain"
	debugWeb    = log.RPCMonitoring
)

// SubscriptionRequest is a websocket client message. Params may name
// "kinds" (event kinds to receive) and "account" (only events of that
// account); both default to everything.
type SubscriptionRequest struct {
	Method string `json:"method"`
	Params struct {
		Kinds   []types.EventKind `json:"kinds,omitempty"`
		Account *common.Address   `json:"account,omitempty"`
	} `json:"params"`
}

type filter struct {
	kinds   map[types.EventKind]bool
	account *common.Address
}

func (f *filter) match(ev types.Event) bool {
	if len(f.kinds) > 0 && !f.kinds[ev.Kind] {
		return false
	}
	return f.account == nil || *f.account == ev.Account
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub fans chain events out to websocket clients, each event wrapped in a
// StructuredLog envelope.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	events     chan types.Event
	chain      *chain.Chain
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

func NewHub(ctx context.Context, c *chain.Chain) *Hub {
	cctx, cancel := context.WithCancel(ctx)
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		events:     make(chan types.Event, 256),
		chain:      c,
		ctx:        cctx,
		cancel:     cancel,
	}
}

// Run blocks until the hub's context is cancelled.
func (h *Hub) Run() {
	sub := h.chain.SubscribeEvents(h.events)
	defer sub.Unsubscribe()
	for {
		select {
		case <-h.ctx.Done():
			for client := range h.clients {
				close(client.send)
			}
			h.clients = map[*Client]bool{}
			return

		case client := <-h.register:
			h.clients[client] = true

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}

		case ev := <-h.events:
			h.broadcast(ev)
		}
	}
}

func (h *Hub) broadcast(ev types.Event) {
	var data []byte
	for client := range h.clients {
		if !client.wants(ev) {
			continue
		}
		if data == nil {
			sl, err := log.NewStructuredLog(feedSender, string(ev.Kind), ev, "seq", ev.ID)
			if err != nil {
				log.Warn(debugWeb, "event envelope", "id", ev.ID, "err", err)
				return
			}
			if data, err = json.Marshal(sl); err != nil {
				log.Warn(debugWeb, "event envelope", "id", ev.ID, "err", err)
				return
			}
		}
		select {
		case client.send <- data:
		default:
			close(client.send)
			delete(h.clients, client)
		}
	}
}

// Close stops the hub and waits for client pumps to exit.
func (h *Hub) Close() {
	h.cancel()
	h.wg.Wait()
}

type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	filter *filter
}

func (c *Client) wants(ev types.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filter != nil && c.filter.match(ev)
}

func (c *Client) subscribe(req *SubscriptionRequest) {
	f := &filter{account: req.Params.Account}
	if len(req.Params.Kinds) > 0 {
		f.kinds = make(map[types.EventKind]bool, len(req.Params.Kinds))
		for _, k := range req.Params.Kinds {
			f.kinds[k] = true
		}
	}
	c.mu.Lock()
	c.filter = f
	c.mu.Unlock()
}

func (c *Client) readPump() {
	defer c.hub.wg.Done()
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Trace(debugWeb, "websocket closed", "err", err)
			}
			return
		}
		var req SubscriptionRequest
		if err := json.Unmarshal(message, &req); err != nil {
			log.Warn(debugWeb, "invalid subscription message", "err", err)
			continue
		}
		switch req.Method {
		case SubEvents:
			c.subscribe(&req)
		case UnsubEvents:
			c.mu.Lock()
			c.filter = nil
			c.mu.Unlock()
		default:
			log.Warn(debugWeb, "unknown subscription method", "method", req.Method)
			continue
		}
		log.Debug(debugWeb, "subscription", "method", req.Method, "kinds", req.Params.Kinds)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.hub.wg.Done()
	}()

	for {
		select {
		case <-c.hub.ctx.Done():
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// one envelope per frame
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWS upgrades the request and attaches the client to the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error(debugWeb, "websocket upgrade", "err", err)
		return
	}
	client := &Client{hub: h, conn: conn, send: make(chan []byte, 256)}
	// counted before registering so Close cannot return ahead of the pumps
	h.wg.Add(2)
	select {
	case h.register <- client:
	case <-h.ctx.Done():
		h.wg.Add(-2)
		conn.Close()
		return
	}
	go client.writePump()
	go client.readPump()
}
