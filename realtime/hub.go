// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package realtime distributes change events to websocket subscribers.

The Hub is the server side: it implements the store notifier interface and
fans mutations out to connected websocket clients, filtered per subscription.
The Manager is the client side: it dials the events route, multiplexes any
number of callback subscriptions over one connection and reconnects with
backoff when the channel fails.
*/
package realtime

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/roomops/roomops/core/access"
	"github.com/roomops/roomops/core/logger"
	"github.com/roomops/roomops/store"
)

// wildcard subscribes to all tables or all event types
const Wildcard = "*"

// Spec selects which events a subscription receives. An empty or wildcard
// Table/Event matches everything; Filter is an optional "column=value"
// equality check against the new (or, for deletes, old) record.
type Spec struct {
	Table  string `json:"table"`
	Event  string `json:"event"`
	Filter string `json:"filter,omitempty"`
}

func (s Spec) matches(event store.Event) bool {
	if s.Table != "" && s.Table != Wildcard && s.Table != event.Table {
		return false
	}
	if s.Event != "" && s.Event != Wildcard && s.Event != string(event.EventType) {
		return false
	}
	if s.Filter == "" {
		return true
	}
	column, value, found := strings.Cut(s.Filter, "=")
	if !found {
		return false
	}
	record := event.New
	if record == nil {
		record = event.Old
	}
	fields := map[string]interface{}{}
	j, err := json.Marshal(record)
	if err != nil || json.Unmarshal(j, &fields) != nil {
		return false
	}
	current, ok := fields[column]
	return ok && fmt.Sprint(current) == value
}

// client wire protocol
type clientRequest struct {
	Action string `json:"action"` // "subscribe" or "unsubscribe"
	ID     string `json:"id"`
	Spec
}

type serverMessage struct {
	SubscriptionID string      `json:"subscription_id,omitempty"`
	Ack            string      `json:"ack,omitempty"`
	Event          *store.Event `json:"event,omitempty"`
}

type connection struct {
	ws   *websocket.Conn
	send chan serverMessage

	mutex sync.Mutex
	specs map[string]Spec
	// dropped guards send: once set, the channel is closed and no further
	// message may be queued
	dropped bool
}

// trySend queues a message without blocking. It reports false when the
// connection was dropped or its buffer is full.
func (c *connection) trySend(message serverMessage) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.dropped {
		return false
	}
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

// Hub fans change events out to websocket subscribers. It implements the
// store notifier interface; Notify never blocks, slow consumers are
// disconnected instead.
type Hub struct {
	mutex       sync.Mutex
	connections map[*connection]bool
	upgrader    websocket.Upgrader
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		connections: make(map[*connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// HandleRoutes registers the websocket events route. The route requires an
// authorized request; any role is sufficient.
func (h *Hub) HandleRoutes(router *mux.Router) {
	logger.Default().Debugln("  handle events route: /roomops/events GET")
	router.HandleFunc("/roomops/events", h.serveWebsocket).Methods(http.MethodGet)
}

func (h *Hub) serveWebsocket(w http.ResponseWriter, r *http.Request) {
	rlog := logger.FromContext(r.Context())
	auth := access.AuthorizationFromContext(r.Context())
	if auth == nil || len(auth.Roles) == 0 {
		http.Error(w, "not authorized", http.StatusUnauthorized)
		return
	}
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		rlog.WithError(err).Errorln("websocket upgrade failed")
		return
	}
	c := &connection{
		ws:    ws,
		send:  make(chan serverMessage, 64),
		specs: make(map[string]Spec),
	}
	h.mutex.Lock()
	h.connections[c] = true
	h.mutex.Unlock()

	go h.writeLoop(c)
	h.readLoop(c, rlog)
}

func (h *Hub) readLoop(c *connection, rlog *logrus.Entry) {
	defer h.drop(c)
	for {
		var request clientRequest
		if err := c.ws.ReadJSON(&request); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				rlog.WithError(err).Debugln("websocket closed")
			}
			return
		}
		switch request.Action {
		case "subscribe":
			if request.ID == "" {
				continue
			}
			c.mutex.Lock()
			c.specs[request.ID] = request.Spec
			c.mutex.Unlock()
			if !c.trySend(serverMessage{Ack: request.ID}) {
				return
			}
		case "unsubscribe":
			c.mutex.Lock()
			delete(c.specs, request.ID)
			c.mutex.Unlock()
			if !c.trySend(serverMessage{Ack: request.ID}) {
				return
			}
		}
	}
}

func (h *Hub) writeLoop(c *connection) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case message, more := <-c.send:
			if !more {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.ws.WriteJSON(message); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) drop(c *connection) {
	h.mutex.Lock()
	delete(h.connections, c)
	h.mutex.Unlock()

	c.mutex.Lock()
	if !c.dropped {
		c.dropped = true
		close(c.send)
	}
	c.mutex.Unlock()
	c.ws.Close()
}

// Notify fans the event out to all matching subscriptions. Connections with a
// full send buffer are dropped rather than blocking the caller.
func (h *Hub) Notify(event store.Event) {
	h.mutex.Lock()
	connections := make([]*connection, 0, len(h.connections))
	for c := range h.connections {
		connections = append(connections, c)
	}
	h.mutex.Unlock()

	for _, c := range connections {
		c.mutex.Lock()
		var matching []string
		for id, spec := range c.specs {
			if spec.matches(event) {
				matching = append(matching, id)
			}
		}
		c.mutex.Unlock()

		for _, id := range matching {
			if !c.trySend(serverMessage{SubscriptionID: id, Event: &event}) {
				logger.Default().Warningln("dropping slow event subscriber")
				h.drop(c)
				break
			}
		}
	}
}

// ConnectionCount returns the number of connected subscribers.
func (h *Hub) ConnectionCount() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.connections)
}

// MultiNotifier forwards every event to all wrapped notifiers.
type MultiNotifier []store.Notifier

// Notify implements the store notifier interface.
func (m MultiNotifier) Notify(event store.Event) {
	for _, notifier := range m {
		notifier.Notify(event)
	}
}
