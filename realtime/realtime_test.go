package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/roomops/roomops/core/access"
	"github.com/roomops/roomops/store"
)

func TestSpecMatches(t *testing.T) {
	event := store.Event{
		EventType: store.EventInsert,
		Table:     "rooms",
		New:       store.Room{RoomID: "RM-1", BuildingID: "BLD-1", Status: store.RoomAvailable},
		Timestamp: time.Now().UTC(),
	}
	cases := []struct {
		spec Spec
		want bool
	}{
		{Spec{}, true},
		{Spec{Table: Wildcard, Event: Wildcard}, true},
		{Spec{Table: "rooms"}, true},
		{Spec{Table: "buildings"}, false},
		{Spec{Table: "rooms", Event: "INSERT"}, true},
		{Spec{Table: "rooms", Event: "DELETE"}, false},
		{Spec{Table: "rooms", Filter: "building_id=BLD-1"}, true},
		{Spec{Table: "rooms", Filter: "building_id=BLD-2"}, false},
		{Spec{Table: "rooms", Filter: "status=AVAILABLE"}, true},
		{Spec{Table: "rooms", Filter: "nonsense"}, false},
	}
	for _, c := range cases {
		if got := c.spec.matches(event); got != c.want {
			t.Errorf("spec %+v: expected %v, got %v", c.spec, c.want, got)
		}
	}
}

func TestSpecMatchesDeleteUsesOldRecord(t *testing.T) {
	event := store.Event{
		EventType: store.EventDelete,
		Table:     "rooms",
		Old:       map[string]interface{}{"room_id": "RM-1"},
		Timestamp: time.Now().UTC(),
	}
	spec := Spec{Table: "rooms", Event: "DELETE", Filter: "room_id=RM-1"}
	if !spec.matches(event) {
		t.Fatal("delete events must match against the old record")
	}
}

func newTestServer(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub()
	router := mux.NewRouter()
	router.Use(access.NewBackdoorMiddleware(&access.BackdoorMiddlewareBuilder{
		Backdoors: map[string]access.Authorization{
			"please": {Roles: []string{"admin"}},
		},
	}))
	hub.HandleRoutes(router)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return hub, server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/roomops/events"
}

func TestSubscribeReceivesMatchingEvents(t *testing.T) {
	hub, server := newTestServer(t)
	manager := NewManager(wsURL(server), "please")
	defer manager.Close()

	received := make(chan store.Event, 4)
	id, err := manager.Subscribe(Spec{Table: "buildings", Event: "INSERT"}, func(event store.Event) {
		received <- event
	})
	if err != nil {
		t.Fatalf("no error expected when subscribing, got %v", err)
	}
	if state := manager.State(id); state != StateSubscribed {
		t.Fatalf("expected SUBSCRIBED after ack, got %s", state)
	}

	hub.Notify(store.Event{
		EventType: store.EventInsert,
		Table:     "buildings",
		New:       store.Building{BuildingID: "BLD-1", BuildingName: "Sunset Commons"},
		Timestamp: time.Now().UTC(),
	})
	hub.Notify(store.Event{
		EventType: store.EventInsert,
		Table:     "rooms",
		New:       store.Room{RoomID: "RM-1"},
		Timestamp: time.Now().UTC(),
	})

	select {
	case event := <-received:
		if event.Table != "buildings" || event.EventType != store.EventInsert {
			t.Fatalf("unexpected event: %+v", event)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the building event")
	}
	select {
	case event := <-received:
		t.Fatalf("the rooms event must not reach a buildings subscription, got %+v", event)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	hub, server := newTestServer(t)
	manager := NewManager(wsURL(server), "please")
	defer manager.Close()

	received := make(chan store.Event, 4)
	id, err := manager.Subscribe(Spec{Table: Wildcard, Event: Wildcard}, func(event store.Event) {
		received <- event
	})
	if err != nil {
		t.Fatalf("no error expected when subscribing, got %v", err)
	}

	if !manager.Unsubscribe(id) {
		t.Fatal("unsubscribe of a live subscription must succeed")
	}
	if manager.Unsubscribe(id) {
		t.Fatal("double unsubscribe must report false")
	}
	if state := manager.State(id); state != StateClosed {
		t.Fatalf("expected CLOSED, got %s", state)
	}

	// give the server a moment to process the unsubscribe
	time.Sleep(100 * time.Millisecond)
	hub.Notify(store.Event{
		EventType: store.EventUpdate,
		Table:     "buildings",
		New:       store.Building{BuildingID: "BLD-1"},
		Timestamp: time.Now().UTC(),
	})
	select {
	case event := <-received:
		t.Fatalf("no event expected after unsubscribe, got %+v", event)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestUnauthorizedConnectionIsRejected(t *testing.T) {
	_, server := newTestServer(t)
	manager := NewManager(wsURL(server), "wrong token")
	defer manager.Close()

	_, err := manager.Subscribe(Spec{}, func(event store.Event) {})
	if err == nil {
		t.Fatal("expected the dial to fail without authorization")
	}
}

func TestNotifyDropsSlowSubscriber(t *testing.T) {
	hub, server := newTestServer(t)

	header := http.Header{"Authorization": []string{"Bearer please"}}
	ws, _, err := websocket.DefaultDialer.Dial(wsURL(server), header)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer ws.Close()

	// a stalled consumer: tiny buffer, nothing draining it, and several
	// subscriptions matching the same event
	c := &connection{
		ws:   ws,
		send: make(chan serverMessage, 1),
		specs: map[string]Spec{
			"one":   {Table: Wildcard, Event: Wildcard},
			"two":   {Table: Wildcard, Event: Wildcard},
			"three": {Table: Wildcard, Event: Wildcard},
		},
	}
	hub.mutex.Lock()
	hub.connections[c] = true
	hub.mutex.Unlock()

	event := store.Event{
		EventType: store.EventInsert,
		Table:     "buildings",
		New:       store.Building{BuildingID: "BLD-1"},
		Timestamp: time.Now().UTC(),
	}
	hub.Notify(event)

	hub.mutex.Lock()
	_, present := hub.connections[c]
	hub.mutex.Unlock()
	if present {
		t.Fatal("the stalled connection must be dropped")
	}

	// delivering again must not reach the closed channel
	hub.Notify(event)
	if c.trySend(serverMessage{Ack: "one"}) {
		t.Fatal("no message may be queued on a dropped connection")
	}
}

func TestMultiNotifierFansOut(t *testing.T) {
	countA, countB := 0, 0
	notifier := MultiNotifier{
		notifierFunc(func(event store.Event) { countA++ }),
		notifierFunc(func(event store.Event) { countB++ }),
	}
	notifier.Notify(store.Event{EventType: store.EventInsert, Table: "leads"})
	if countA != 1 || countB != 1 {
		t.Fatalf("expected both notifiers to fire, got %d and %d", countA, countB)
	}
}

type notifierFunc func(event store.Event)

func (f notifierFunc) Notify(event store.Event) { f(event) }
