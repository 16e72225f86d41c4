// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package realtime

import (
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/roomops/roomops/core/logger"
	"github.com/roomops/roomops/store"
)

// State is the lifecycle state of a subscription
type State string

// all subscription states
const (
	StateCreated      State = "CREATED"
	StateSubscribed   State = "SUBSCRIBED"
	StateChannelError State = "CHANNEL_ERROR"
	StateTimedOut     State = "TIMED_OUT"
	StateClosed       State = "CLOSED"
)

// Callback receives normalized change events for one subscription
type Callback func(event store.Event)

// maximum reconnect attempts before a broken channel is abandoned
const maxReconnectAttempts = 5

// ackTimeout is how long a subscription may wait for the server's ack before
// it is considered timed out.
const ackTimeout = 10 * time.Second

type subscription struct {
	id       string
	spec     Spec
	callback Callback
	state    State
	acked    chan struct{}
}

// Manager multiplexes callback subscriptions over a single websocket
// connection to the events route. Subscriptions survive reconnects: after a
// channel error the manager redials with exponential backoff and restores
// every active subscription, up to a capped number of attempts.
type Manager struct {
	url    string
	token  string
	dialer *websocket.Dialer
	rlog   *logrus.Entry

	mutex         sync.Mutex
	ws            *websocket.Conn
	subscriptions map[string]*subscription
	reconnects    int
	abandoned     bool
	closed        bool
}

// NewManager creates a manager for the given websocket url, for example
// "ws://localhost:3000/roomops/events". The token is sent as bearer
// authorization when dialing.
func NewManager(url string, token string) *Manager {
	return &Manager{
		url:           url,
		token:         token,
		dialer:        &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		rlog:          logger.Default(),
		subscriptions: make(map[string]*subscription),
	}
}

// Subscribe registers a callback for all events matching the spec and returns
// the subscription identifier. The connection is established lazily on the
// first subscription.
func (m *Manager) Subscribe(spec Spec, callback Callback) (string, error) {
	m.mutex.Lock()
	if m.closed {
		m.mutex.Unlock()
		return "", errors.New("manager is closed")
	}
	sub := &subscription{
		id:       uuid.New().String(),
		spec:     spec,
		callback: callback,
		state:    StateCreated,
		acked:    make(chan struct{}),
	}
	m.subscriptions[sub.id] = sub

	if m.ws == nil {
		if err := m.connectLocked(); err != nil {
			delete(m.subscriptions, sub.id)
			m.mutex.Unlock()
			return "", err
		}
	}
	ws := m.ws
	m.mutex.Unlock()

	if err := ws.WriteJSON(clientRequest{Action: "subscribe", ID: sub.id, Spec: spec}); err != nil {
		m.channelError(err)
		return sub.id, err
	}

	select {
	case <-sub.acked:
	case <-time.After(ackTimeout):
		m.mutex.Lock()
		sub.state = StateTimedOut
		m.mutex.Unlock()
		m.rlog.Warningf("subscription %s timed out waiting for ack", sub.id)
	}
	return sub.id, nil
}

// Unsubscribe cancels a subscription. It returns false if the identifier is
// unknown or the subscription was already closed.
func (m *Manager) Unsubscribe(id string) bool {
	m.mutex.Lock()
	sub, ok := m.subscriptions[id]
	if !ok || sub.state == StateClosed {
		m.mutex.Unlock()
		return false
	}
	sub.state = StateClosed
	delete(m.subscriptions, id)
	ws := m.ws
	m.mutex.Unlock()

	if ws != nil {
		ws.WriteJSON(clientRequest{Action: "unsubscribe", ID: id})
	}
	return true
}

// State returns the current state of a subscription, or CLOSED for unknown ids.
func (m *Manager) State(id string) State {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if sub, ok := m.subscriptions[id]; ok {
		return sub.state
	}
	return StateClosed
}

// Close tears down the connection and closes all subscriptions.
func (m *Manager) Close() {
	m.mutex.Lock()
	m.closed = true
	for id, sub := range m.subscriptions {
		sub.state = StateClosed
		delete(m.subscriptions, id)
	}
	ws := m.ws
	m.ws = nil
	m.mutex.Unlock()
	if ws != nil {
		ws.Close()
	}
}

// connectLocked dials the events route. Callers must hold the mutex.
func (m *Manager) connectLocked() error {
	header := map[string][]string{}
	if m.token != "" {
		header["Authorization"] = []string{"Bearer " + m.token}
	}
	ws, _, err := m.dialer.Dial(m.url, header)
	if err != nil {
		return err
	}
	m.ws = ws
	go m.readLoop(ws)
	return nil
}

func (m *Manager) readLoop(ws *websocket.Conn) {
	for {
		var message serverMessage
		if err := ws.ReadJSON(&message); err != nil {
			m.channelError(err)
			return
		}
		m.dispatch(message)
	}
}

func (m *Manager) dispatch(message serverMessage) {
	m.mutex.Lock()
	if message.Ack != "" {
		if sub, ok := m.subscriptions[message.Ack]; ok && sub.state != StateClosed {
			if sub.state == StateCreated {
				close(sub.acked)
			}
			sub.state = StateSubscribed
		}
		m.mutex.Unlock()
		return
	}
	var callback Callback
	if sub, ok := m.subscriptions[message.SubscriptionID]; ok && sub.state == StateSubscribed {
		callback = sub.callback
	}
	m.mutex.Unlock()

	if callback != nil && message.Event != nil {
		callback(*message.Event)
	}
}

// channelError marks all live subscriptions broken and starts the reconnect
// loop, unless the channel was already abandoned or closed.
func (m *Manager) channelError(err error) {
	m.mutex.Lock()
	if m.closed || m.abandoned {
		m.mutex.Unlock()
		return
	}
	if m.ws != nil {
		m.ws.Close()
		m.ws = nil
	}
	for _, sub := range m.subscriptions {
		if sub.state == StateSubscribed || sub.state == StateCreated {
			sub.state = StateChannelError
		}
	}
	m.mutex.Unlock()

	m.rlog.WithError(err).Warningln("event channel error, reconnecting")
	go m.reconnect()
}

func (m *Manager) reconnect() {
	schedule := backoff.NewExponentialBackOff()
	schedule.InitialInterval = time.Second
	schedule.Multiplier = 2
	schedule.MaxElapsedTime = 0

	for {
		m.mutex.Lock()
		if m.closed {
			m.mutex.Unlock()
			return
		}
		if m.reconnects >= maxReconnectAttempts {
			m.abandoned = true
			for _, sub := range m.subscriptions {
				if sub.state == StateChannelError {
					sub.state = StateTimedOut
				}
			}
			m.mutex.Unlock()
			m.rlog.Errorf("event channel abandoned after %d reconnect attempts", maxReconnectAttempts)
			return
		}
		m.reconnects++
		err := m.connectLocked()
		if err == nil {
			ws := m.ws
			var restore []*subscription
			for _, sub := range m.subscriptions {
				if sub.state == StateChannelError {
					restore = append(restore, sub)
				}
			}
			m.mutex.Unlock()

			failed := false
			for _, sub := range restore {
				if err := ws.WriteJSON(clientRequest{Action: "subscribe", ID: sub.id, Spec: sub.spec}); err != nil {
					failed = true
					break
				}
			}
			if !failed {
				m.mutex.Lock()
				m.reconnects = 0
				m.mutex.Unlock()
				return
			}
		} else {
			m.mutex.Unlock()
		}
		time.Sleep(schedule.NextBackOff())
	}
}
