package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"qr-dine/internal/ports"
	"qr-dine/internal/shared/contracts"
	"qr-dine/internal/shared/logger"

	"github.com/gorilla/websocket"
)

// SessionKind selects the membership and rendering rules of a connection.
type SessionKind string

const (
	// KindVendor is the authenticated vendor dashboard.
	KindVendor SessionKind = "vendor"
	// KindVendorObserver is the anonymous read-only view of a vendor's
	// stream; privileged inbound messages are rejected.
	KindVendorObserver SessionKind = "vendor-observer"
	// KindOrderTracker follows a single order.
	KindOrderTracker SessionKind = "order-tracker"
	// KindTableTracker follows every order at one table.
	KindTableTracker SessionKind = "table-tracker"
	// KindCombined is the legacy single-segment table route. Membership is
	// identical to the table tracker; only the path shape differs.
	KindCombined SessionKind = "table-tracker-legacy"
)

// WebSocket close codes in the application range.
const (
	CloseUnauthenticated   = 4001
	CloseInternalError     = 4002
	CloseForbidden         = 4003
	CloseInvalidIdentifier = 4004
)

// clientConn is the slice of *websocket.Conn the session uses.
type clientConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// SessionParams carries the identity extracted from the route.
type SessionParams struct {
	Kind            SessionKind
	VendorID        int64
	OrderID         int64
	TableIdentifier string
	Token           string
}

// SessionDeps are the collaborators a session consumes.
type SessionDeps struct {
	Broker        ports.Broker
	Orders        ports.OrderStore
	Notifications ports.NotificationStore
	Tokens        ports.TokenResolver
	Logger        *logger.Logger
}

// Session is one WebSocket connection: a goroutine-per-connection state
// machine that joins its topic set on connect and leaves exactly that
// recorded set on close.
type Session struct {
	conn clientConn
	deps SessionDeps

	kind            SessionKind
	vendorID        int64
	orderID         int64
	tableIdentifier string

	// joined is the recorded membership set. Close leaves these topics
	// and only these, never a recomputed set.
	joined []Topic

	inbox chan contracts.BrokerMessage

	closeOnce sync.Once
	done      chan struct{}
}

// inboxSize bounds per-session buffering; a session that cannot keep up
// drops messages rather than stalling the fanout.
const inboxSize = 64

// Connect authenticates and validates per the session kind, performs the
// joins, and sends connection_established. On refusal it writes the close
// frame, closes the connection and returns the error.
func Connect(ctx context.Context, conn clientConn, params SessionParams, deps SessionDeps) (*Session, error) {
	s := &Session{
		conn:            conn,
		deps:            deps,
		kind:            params.Kind,
		vendorID:        params.VendorID,
		orderID:         params.OrderID,
		tableIdentifier: params.TableIdentifier,
		inbox:           make(chan contracts.BrokerMessage, inboxSize),
		done:            make(chan struct{}),
	}

	var err error
	switch params.Kind {
	case KindVendor:
		err = s.connectVendor(ctx, params)
	case KindVendorObserver:
		err = s.connectObserver(ctx)
	case KindOrderTracker:
		err = s.connectOrderTracker(ctx)
	case KindTableTracker, KindCombined:
		err = s.connectTableTracker(ctx)
	default:
		s.refuse(CloseInternalError, "unknown session kind")
		err = fmt.Errorf("session: unknown kind %q", params.Kind)
	}
	if err != nil {
		// leaves any topics joined before the failure
		s.Close(ctx)
		return nil, err
	}
	return s, nil
}

func (s *Session) connectVendor(ctx context.Context, params SessionParams) error {
	principal, err := s.deps.Tokens.Resolve(params.Token)
	if err != nil || principal.Anonymous {
		s.deps.Logger.Warn(ctx, "connection_refused", "Vendor session rejected: unauthenticated", map[string]any{"vendor_id": s.vendorID})
		s.refuse(CloseUnauthenticated, "authentication required")
		return fmt.Errorf("session: unauthenticated vendor connection: %w", err)
	}
	if principal.VendorID != s.vendorID {
		s.deps.Logger.Warn(ctx, "connection_refused", "Vendor session rejected: identity mismatch", map[string]any{
			"vendor_id": s.vendorID, "token_vendor_id": principal.VendorID,
		})
		s.refuse(CloseForbidden, "identity mismatch")
		return fmt.Errorf("session: token vendor %d != path vendor %d", principal.VendorID, s.vendorID)
	}

	if err := s.joinPrimary(ctx, VendorTopic(s.vendorID)); err != nil {
		return err
	}

	return s.established(map[string]any{"vendor_id": strconv.FormatInt(s.vendorID, 10)},
		fmt.Sprintf("Connected to vendor %d notifications", s.vendorID))
}

func (s *Session) connectObserver(ctx context.Context) error {
	if err := s.joinPrimary(ctx, VendorTopic(s.vendorID)); err != nil {
		return err
	}
	return s.established(map[string]any{"vendor_id": strconv.FormatInt(s.vendorID, 10), "anonymous": true},
		fmt.Sprintf("Observing vendor %d notifications", s.vendorID))
}

func (s *Session) connectOrderTracker(ctx context.Context) error {
	if err := s.joinPrimary(ctx, OrderTopic(s.orderID)); err != nil {
		return err
	}

	// Secondary memberships come from the order row. A lookup failure or a
	// missing order degrades to order-topic-only tracking; the order may be
	// created moments after the customer opens the page.
	order, err := s.deps.Orders.GetOrder(ctx, s.orderID)
	if err != nil {
		s.deps.Logger.Warn(ctx, "secondary_join_skipped", "Order lookup failed, tracking order topic only", map[string]any{
			"order_id": s.orderID, "error": err.Error(),
		})
	} else {
		s.vendorID = order.VendorID
		s.joinSecondary(ctx, VendorTopic(order.VendorID))
		if order.TableIdentifier != nil && *order.TableIdentifier != "" {
			s.joinSecondary(ctx, TableTopic(order.VendorID, *order.TableIdentifier))
		}
	}

	return s.established(map[string]any{"order_id": strconv.FormatInt(s.orderID, 10)},
		fmt.Sprintf("Tracking order %d", s.orderID))
}

func (s *Session) connectTableTracker(ctx context.Context) error {
	topics, err := TopicsForTable(s.vendorID, s.tableIdentifier)
	if err != nil || s.tableIdentifier == "" {
		s.refuse(CloseInvalidIdentifier, "invalid table identifier")
		return fmt.Errorf("session: invalid table route vendor=%d ident=%q", s.vendorID, s.tableIdentifier)
	}
	for _, topic := range topics {
		if err := s.joinPrimary(ctx, topic); err != nil {
			return err
		}
	}

	// Join the topic of every order already open at this table so a publish
	// addressed to the order topic alone still reaches this session.
	ids, err := s.deps.Orders.ListOrderIDsForTable(ctx, s.vendorID, s.tableIdentifier)
	if err != nil {
		s.deps.Logger.Warn(ctx, "secondary_join_skipped", "Table order lookup failed, continuing without order topics", map[string]any{
			"vendor_id": s.vendorID, "table_identifier": s.tableIdentifier, "error": err.Error(),
		})
	}
	for _, id := range ids {
		s.joinSecondary(ctx, OrderTopic(id))
	}

	return s.established(map[string]any{
		"vendor_id":        strconv.FormatInt(s.vendorID, 10),
		"table_identifier": s.tableIdentifier,
	}, fmt.Sprintf("Tracking table %s", s.tableIdentifier))
}

// joinPrimary joins a topic the session cannot live without; failure
// refuses the connection with an internal-error close.
func (s *Session) joinPrimary(ctx context.Context, topic Topic) error {
	if err := s.deps.Broker.Join(ctx, string(topic), s); err != nil {
		s.deps.Logger.Error(ctx, "join_failed", "Primary topic join failed", err)
		s.refuse(CloseInternalError, "subscription failed")
		return fmt.Errorf("session: join %s: %w", topic, err)
	}
	s.joined = append(s.joined, topic)
	return nil
}

// joinSecondary joins an optional topic; failure is logged and tolerated.
func (s *Session) joinSecondary(ctx context.Context, topic Topic) {
	if err := s.deps.Broker.Join(ctx, string(topic), s); err != nil {
		s.deps.Logger.Warn(ctx, "secondary_join_skipped", "Secondary topic join failed", map[string]any{
			"topic": string(topic), "error": err.Error(),
		})
		return
	}
	s.joined = append(s.joined, topic)
}

func (s *Session) established(identity map[string]any, message string) error {
	payload := map[string]any{
		"type":      "connection_established",
		"message":   message,
		"timestamp": time.Now().UnixMilli(),
	}
	for k, v := range identity {
		payload[k] = v
	}
	return s.send(payload)
}

// Run drives the session until the client disconnects, a send fails, or
// ctx is cancelled. It owns all writes to the connection.
func (s *Session) Run(ctx context.Context) {
	defer s.Close(ctx)

	readCh := make(chan []byte, 1)
	readErr := make(chan error, 1)
	go s.readPump(readCh, readErr)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-readErr:
			return
		case raw := <-readCh:
			if err := s.handleClientMessage(ctx, raw); err != nil {
				return
			}
		case msg := <-s.inbox:
			payload, ok := s.renderBrokerMessage(msg)
			if !ok {
				continue
			}
			if err := s.send(payload); err != nil {
				s.deps.Logger.Warn(ctx, "send_failed", "Dropping session after write failure", map[string]any{"error": err.Error()})
				return
			}
		}
	}
}

// Deliver implements ports.Subscriber. It never blocks: when the inbox is
// full the message is dropped, keeping one slow client from backing up
// the broker.
func (s *Session) Deliver(msg contracts.BrokerMessage) {
	select {
	case s.inbox <- msg:
	case <-s.done:
	default:
	}
}

// Close leaves exactly the topics recorded at join time and closes the
// connection. Safe to call more than once.
func (s *Session) Close(ctx context.Context) {
	s.closeOnce.Do(func() {
		close(s.done)
		for _, topic := range s.joined {
			if err := s.deps.Broker.Leave(ctx, string(topic), s); err != nil {
				s.deps.Logger.Warn(ctx, "leave_failed", "Failed to leave topic on close", map[string]any{
					"topic": string(topic), "error": err.Error(),
				})
			}
		}
		_ = s.conn.Close()
	})
}

func (s *Session) readPump(readCh chan<- []byte, readErr chan<- error) {
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			readErr <- err
			return
		}
		select {
		case readCh <- raw:
		case <-s.done:
			return
		}
	}
}

func (s *Session) handleClientMessage(ctx context.Context, raw []byte) error {
	var msg contracts.ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return s.sendError("invalid message format")
	}

	switch msg.Type {
	case "ping":
		var echoed int64
		if msg.Timestamp != nil {
			echoed = *msg.Timestamp
		}
		return s.send(map[string]any{
			"type":             "pong",
			"timestamp":        echoed,
			"server_timestamp": time.Now().UnixMilli(),
		})

	case "mark_notification_read":
		if s.kind != KindVendor {
			return s.sendError("not permitted")
		}
		if msg.NotificationID == nil {
			return s.sendError("notification_id is required")
		}
		found, err := s.deps.Notifications.MarkRead(ctx, *msg.NotificationID, s.vendorID)
		if err != nil {
			s.deps.Logger.Error(ctx, "mark_read_failed", "Failed to mark notification read", err)
			return s.sendError("failed to mark notification read")
		}
		return s.send(map[string]any{
			"type":            "notification_marked_read",
			"notification_id": *msg.NotificationID,
			"success":         found,
		})

	default:
		return s.sendError("unknown message type: " + msg.Type)
	}
}

// renderBrokerMessage collapses internal broker discriminators into the
// stable client-facing message set for this session kind.
func (s *Session) renderBrokerMessage(msg contracts.BrokerMessage) (map[string]any, bool) {
	switch msg.Kind {
	case contracts.KindOrderStatusUpdate, contracts.KindOrderStatus:
		if msg.Event == nil {
			return nil, false
		}
		switch s.kind {
		case KindOrderTracker:
			// Events arriving via the vendor or table topic may concern a
			// different order; only this session's order passes through.
			if msg.Event.ID != strconv.FormatInt(s.orderID, 10) {
				return nil, false
			}
			return map[string]any{"type": "order_update", "data": msg.Event}, true
		case KindVendor, KindVendorObserver:
			return map[string]any{"type": "order_status", "data": msg.Event}, true
		default:
			return map[string]any{"type": "order_status_update", "data": msg.Event}, true
		}

	case contracts.KindVendorNotification:
		if msg.Notification == nil {
			return nil, false
		}
		switch s.kind {
		case KindVendor, KindVendorObserver:
			return map[string]any{"type": "vendor_notification", "data": msg.Notification}, true
		case KindOrderTracker:
			// A vendor notification about this session's order doubles as an
			// order update for the tracking page.
			if id, ok := msg.Notification.Data["order_id"]; ok && fmt.Sprint(id) == strconv.FormatInt(s.orderID, 10) {
				return map[string]any{"type": "order_update", "data": msg.Notification.Data}, true
			}
			return nil, false
		default:
			return nil, false
		}

	default:
		return nil, false
	}
}

func (s *Session) send(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Session) sendError(message string) error {
	return s.send(map[string]any{
		"type":      "error",
		"message":   message,
		"timestamp": time.Now().UnixMilli(),
	})
}

// refuse writes an application close frame and closes the connection.
func (s *Session) refuse(code int, reason string) {
	_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	_ = s.conn.Close()
}
