package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"qr-dine/internal/auth"
	"qr-dine/internal/ports"
	"qr-dine/internal/shared/broker"
	"qr-dine/internal/shared/contracts"
	"qr-dine/internal/shared/logger"
)

func newSessionDeps(bus ports.Broker, orderStore *fakeOrderStore, store *fakeNotificationStore) SessionDeps {
	return SessionDeps{
		Broker:        bus,
		Orders:        orderStore,
		Notifications: store,
		Tokens: &fakeTokens{Principals: map[string]auth.Principal{
			"vendor7-token": {VendorID: 7},
		}},
		Logger: logger.NewLogger("test"),
	}
}

func decodeWrite(t *testing.T, conn *fakeConn) map[string]any {
	t.Helper()
	select {
	case raw := <-conn.Writes:
		var out map[string]any
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("bad frame %s: %v", raw, err)
		}
		return out
	case <-time.After(2 * time.Second):
		t.Fatal("no frame written")
		return nil
	}
}

func TestConnectVendor(t *testing.T) {
	ctx := context.Background()

	t.Run("valid token opens the session", func(t *testing.T) {
		bus := broker.NewMemory()
		conn := newFakeConn()

		sess, err := Connect(ctx, conn, SessionParams{Kind: KindVendor, VendorID: 7, Token: "vendor7-token"},
			newSessionDeps(bus, newFakeOrderStore(), newFakeNotificationStore()))
		if err != nil {
			t.Fatalf("connect failed: %v", err)
		}
		defer sess.Close(ctx)

		if bus.MemberCount("vendor:7") != 1 {
			t.Error("session not joined to vendor topic")
		}
		frame := decodeWrite(t, conn)
		if frame["type"] != "connection_established" || frame["vendor_id"] != "7" {
			t.Errorf("frame = %v", frame)
		}
	})

	t.Run("missing token refused unauthenticated", func(t *testing.T) {
		bus := broker.NewMemory()
		conn := newFakeConn()

		_, err := Connect(ctx, conn, SessionParams{Kind: KindVendor, VendorID: 7},
			newSessionDeps(bus, newFakeOrderStore(), newFakeNotificationStore()))
		if err == nil {
			t.Fatal("expected refusal")
		}
		if conn.CloseCode() != CloseUnauthenticated {
			t.Errorf("close code = %d, want %d", conn.CloseCode(), CloseUnauthenticated)
		}
		if bus.MemberCount("vendor:7") != 0 {
			t.Error("refused session joined a topic")
		}
	})

	t.Run("token for another vendor refused forbidden", func(t *testing.T) {
		bus := broker.NewMemory()
		conn := newFakeConn()

		_, err := Connect(ctx, conn, SessionParams{Kind: KindVendor, VendorID: 8, Token: "vendor7-token"},
			newSessionDeps(bus, newFakeOrderStore(), newFakeNotificationStore()))
		if err == nil {
			t.Fatal("expected refusal")
		}
		if conn.CloseCode() != CloseForbidden {
			t.Errorf("close code = %d, want %d", conn.CloseCode(), CloseForbidden)
		}
		if bus.MemberCount("vendor:8") != 0 {
			t.Error("refused session joined a topic")
		}
	})

	t.Run("anonymous observer joins without a token", func(t *testing.T) {
		bus := broker.NewMemory()
		conn := newFakeConn()

		sess, err := Connect(ctx, conn, SessionParams{Kind: KindVendorObserver, VendorID: 7},
			newSessionDeps(bus, newFakeOrderStore(), newFakeNotificationStore()))
		if err != nil {
			t.Fatalf("connect failed: %v", err)
		}
		defer sess.Close(ctx)

		if bus.MemberCount("vendor:7") != 1 {
			t.Error("observer not joined to vendor topic")
		}
	})
}

func TestConnectOrderTracker(t *testing.T) {
	ctx := context.Background()

	t.Run("joins order, vendor and table topics", func(t *testing.T) {
		bus := broker.NewMemory()
		orderStore := newFakeOrderStore()
		order := testOrder()
		orderStore.Orders[42] = order
		conn := newFakeConn()

		sess, err := Connect(ctx, conn, SessionParams{Kind: KindOrderTracker, OrderID: 42},
			newSessionDeps(bus, orderStore, newFakeNotificationStore()))
		if err != nil {
			t.Fatalf("connect failed: %v", err)
		}
		defer sess.Close(ctx)

		for _, topic := range []string{"order:42", "vendor:7", "table:7:T3"} {
			if bus.MemberCount(topic) != 1 {
				t.Errorf("not joined to %s", topic)
			}
		}
	})

	t.Run("missing order degrades to order topic only", func(t *testing.T) {
		bus := broker.NewMemory()
		conn := newFakeConn()

		sess, err := Connect(ctx, conn, SessionParams{Kind: KindOrderTracker, OrderID: 42},
			newSessionDeps(bus, newFakeOrderStore(), newFakeNotificationStore()))
		if err != nil {
			t.Fatalf("connect failed despite missing order: %v", err)
		}
		defer sess.Close(ctx)

		if bus.MemberCount("order:42") != 1 {
			t.Error("not joined to order topic")
		}
		if len(sess.joined) != 1 {
			t.Errorf("joined = %v, want the order topic only", sess.joined)
		}
	})
}

func TestConnectTableTracker(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid identifier refused", func(t *testing.T) {
		conn := newFakeConn()
		_, err := Connect(ctx, conn, SessionParams{Kind: KindTableTracker, VendorID: 0, TableIdentifier: "T3"},
			newSessionDeps(broker.NewMemory(), newFakeOrderStore(), newFakeNotificationStore()))
		if err == nil {
			t.Fatal("expected refusal")
		}
		if conn.CloseCode() != CloseInvalidIdentifier {
			t.Errorf("close code = %d, want %d", conn.CloseCode(), CloseInvalidIdentifier)
		}
	})

	t.Run("order lookup failure degrades to table topics", func(t *testing.T) {
		bus := broker.NewMemory()
		orderStore := newFakeOrderStore()
		orderStore.ListErr = errMockStorage
		conn := newFakeConn()

		sess, err := Connect(ctx, conn, SessionParams{Kind: KindTableTracker, VendorID: 7, TableIdentifier: "T3"},
			newSessionDeps(bus, orderStore, newFakeNotificationStore()))
		if err != nil {
			t.Fatalf("connect failed: %v", err)
		}
		defer sess.Close(ctx)

		if bus.MemberCount("vendor:7") != 1 || bus.MemberCount("table:7:T3") != 1 {
			t.Error("primary topics not joined")
		}
	})
}

// A table session joins the topic of each order already open at its table,
// so a publish addressed to the order topic alone still reaches it.
func TestTableSessionReceivesOrderTopicPublish(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := broker.NewMemory()
	orderStore := newFakeOrderStore()
	order := testOrder()
	order.SetTotalAmount()
	orderStore.Orders[42] = order
	orderStore.TableOrders[tableKey(7, "T3")] = []int64{42}
	conn := newFakeConn()

	sess, err := Connect(ctx, conn, SessionParams{Kind: KindTableTracker, VendorID: 7, TableIdentifier: "T3"},
		newSessionDeps(bus, orderStore, newFakeNotificationStore()))
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if frame := decodeWrite(t, conn); frame["type"] != "connection_established" {
		t.Fatalf("first frame = %v", frame)
	}

	done := make(chan struct{})
	go func() {
		sess.Run(ctx)
		close(done)
	}()

	event := BuildOrderEvent(order, "Patio 3")
	if err := bus.Publish(ctx, "order:42", contracts.BrokerMessage{Kind: contracts.KindOrderStatusUpdate, Event: &event}); err != nil {
		t.Fatal(err)
	}

	frame := decodeWrite(t, conn)
	if frame["type"] != "order_status_update" {
		t.Errorf("frame type = %v", frame["type"])
	}
	data, _ := frame["data"].(map[string]any)
	if data["id"] != "42" {
		t.Errorf("event id = %v", data["id"])
	}

	// closing leaves exactly the joined set
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop")
	}
	for _, topic := range []string{"vendor:7", "table:7:T3", "order:42"} {
		if bus.MemberCount(topic) != 0 {
			t.Errorf("membership leaked on %s", topic)
		}
	}
}

func TestHandleClientMessage(t *testing.T) {
	ctx := context.Background()

	connect := func(t *testing.T, kind SessionKind, store *fakeNotificationStore) (*Session, *fakeConn) {
		t.Helper()
		conn := newFakeConn()
		params := SessionParams{Kind: kind, VendorID: 7}
		if kind == KindVendor {
			params.Token = "vendor7-token"
		}
		sess, err := Connect(ctx, conn, params, newSessionDeps(broker.NewMemory(), newFakeOrderStore(), store))
		if err != nil {
			t.Fatalf("connect failed: %v", err)
		}
		<-conn.Writes // drop connection_established
		return sess, conn
	}

	t.Run("ping echoes timestamp", func(t *testing.T) {
		sess, conn := connect(t, KindVendor, newFakeNotificationStore())
		defer sess.Close(ctx)

		if err := sess.handleClientMessage(ctx, []byte(`{"type":"ping","timestamp":1234}`)); err != nil {
			t.Fatal(err)
		}
		frame := decodeWrite(t, conn)
		if frame["type"] != "pong" || frame["timestamp"] != float64(1234) {
			t.Errorf("frame = %v", frame)
		}
		if frame["server_timestamp"] == nil {
			t.Error("pong missing server timestamp")
		}
	})

	t.Run("vendor marks notification read", func(t *testing.T) {
		store := newFakeNotificationStore()
		sess, conn := connect(t, KindVendor, store)
		defer sess.Close(ctx)

		if err := sess.handleClientMessage(ctx, []byte(`{"type":"mark_notification_read","notification_id":9}`)); err != nil {
			t.Fatal(err)
		}
		frame := decodeWrite(t, conn)
		if frame["type"] != "notification_marked_read" || frame["success"] != true {
			t.Errorf("frame = %v", frame)
		}
		if len(store.Marked) != 1 || store.Marked[0] != 9 {
			t.Errorf("marked = %v", store.Marked)
		}
	})

	t.Run("observer may not mark notifications read", func(t *testing.T) {
		store := newFakeNotificationStore()
		sess, conn := connect(t, KindVendorObserver, store)
		defer sess.Close(ctx)

		if err := sess.handleClientMessage(ctx, []byte(`{"type":"mark_notification_read","notification_id":9}`)); err != nil {
			t.Fatal(err)
		}
		frame := decodeWrite(t, conn)
		if frame["type"] != "error" {
			t.Errorf("frame = %v, want error echo", frame)
		}
		if len(store.Marked) != 0 {
			t.Errorf("store touched by observer: %v", store.Marked)
		}
	})

	t.Run("unknown type stays open with error echo", func(t *testing.T) {
		sess, conn := connect(t, KindVendor, newFakeNotificationStore())
		defer sess.Close(ctx)

		if err := sess.handleClientMessage(ctx, []byte(`{"type":"unsubscribe"}`)); err != nil {
			t.Fatal(err)
		}
		if frame := decodeWrite(t, conn); frame["type"] != "error" {
			t.Errorf("frame = %v", frame)
		}
	})

	t.Run("malformed payload yields error echo", func(t *testing.T) {
		sess, conn := connect(t, KindVendor, newFakeNotificationStore())
		defer sess.Close(ctx)

		if err := sess.handleClientMessage(ctx, []byte(`not json`)); err != nil {
			t.Fatal(err)
		}
		if frame := decodeWrite(t, conn); frame["type"] != "error" {
			t.Errorf("frame = %v", frame)
		}
	})
}

func TestRenderBrokerMessage(t *testing.T) {
	event42 := &contracts.OrderEvent{ID: "42", VendorID: "7", Status: "confirmed"}
	event99 := &contracts.OrderEvent{ID: "99", VendorID: "7", Status: "pending"}

	tracker := &Session{kind: KindOrderTracker, orderID: 42}
	vendor := &Session{kind: KindVendor}
	table := &Session{kind: KindTableTracker}

	t.Run("tracker forwards only its own order", func(t *testing.T) {
		if _, ok := tracker.renderBrokerMessage(contracts.BrokerMessage{Kind: contracts.KindOrderStatus, Event: event99}); ok {
			t.Error("foreign order event passed the filter")
		}
		payload, ok := tracker.renderBrokerMessage(contracts.BrokerMessage{Kind: contracts.KindOrderStatus, Event: event42})
		if !ok || payload["type"] != "order_update" {
			t.Errorf("payload = %v", payload)
		}
	})

	t.Run("vendor collapses both event kinds to order_status", func(t *testing.T) {
		for _, kind := range []string{contracts.KindOrderStatus, contracts.KindOrderStatusUpdate} {
			payload, ok := vendor.renderBrokerMessage(contracts.BrokerMessage{Kind: kind, Event: event42})
			if !ok || payload["type"] != "order_status" {
				t.Errorf("kind %q payload = %v", kind, payload)
			}
		}
	})

	t.Run("table sessions render order_status_update", func(t *testing.T) {
		payload, ok := table.renderBrokerMessage(contracts.BrokerMessage{Kind: contracts.KindOrderStatus, Event: event42})
		if !ok || payload["type"] != "order_status_update" {
			t.Errorf("payload = %v", payload)
		}
	})

	t.Run("notifications reach vendors but not tables", func(t *testing.T) {
		note := &contracts.VendorNotification{ID: 1, Title: "New Order Received", Data: map[string]any{"order_id": "42"}}

		payload, ok := vendor.renderBrokerMessage(contracts.BrokerMessage{Kind: contracts.KindVendorNotification, Notification: note})
		if !ok || payload["type"] != "vendor_notification" {
			t.Errorf("payload = %v", payload)
		}
		if _, ok := table.renderBrokerMessage(contracts.BrokerMessage{Kind: contracts.KindVendorNotification, Notification: note}); ok {
			t.Error("table session rendered a vendor notification")
		}

		// a notification about the tracked order doubles as an update
		payload, ok = tracker.renderBrokerMessage(contracts.BrokerMessage{Kind: contracts.KindVendorNotification, Notification: note})
		if !ok || payload["type"] != "order_update" {
			t.Errorf("payload = %v", payload)
		}
	})

	t.Run("unknown kinds dropped", func(t *testing.T) {
		if _, ok := vendor.renderBrokerMessage(contracts.BrokerMessage{Kind: "worker_heartbeat"}); ok {
			t.Error("unknown kind rendered")
		}
	})
}

// Deliver must never block, even against a full inbox.
func TestDeliverNonBlocking(t *testing.T) {
	sess := &Session{inbox: make(chan contracts.BrokerMessage), done: make(chan struct{})}

	done := make(chan struct{})
	go func() {
		sess.Deliver(contracts.BrokerMessage{Kind: contracts.KindOrderStatus})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Deliver blocked on a full inbox")
	}
}
