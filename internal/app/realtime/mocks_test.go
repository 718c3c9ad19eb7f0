package realtime

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"sync"

	"qr-dine/internal/auth"
	"qr-dine/internal/domain/notifications"
	"qr-dine/internal/domain/orders"
	"qr-dine/internal/ports"
	"qr-dine/internal/shared/contracts"

	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5"
)

var errMockStorage = errors.New("mock storage error")

// --- broker fake ---

type publishRec struct {
	Topic string
	Msg   contracts.BrokerMessage
}

// fakeBroker records joins, leaves and publishes; individual topics can be
// made to fail.
type fakeBroker struct {
	mu        sync.Mutex
	Joined    map[string]int
	Left      map[string]int
	Published []publishRec

	JoinErr    map[string]error
	PublishErr map[string]error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		Joined:     make(map[string]int),
		Left:       make(map[string]int),
		JoinErr:    make(map[string]error),
		PublishErr: make(map[string]error),
	}
}

func (b *fakeBroker) Join(_ context.Context, topic string, _ ports.Subscriber) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.JoinErr[topic]; err != nil {
		return err
	}
	b.Joined[topic]++
	return nil
}

func (b *fakeBroker) Leave(_ context.Context, topic string, _ ports.Subscriber) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Left[topic]++
	return nil
}

func (b *fakeBroker) Publish(_ context.Context, topic string, msg contracts.BrokerMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.PublishErr[topic]; err != nil {
		return err
	}
	msg.Topic = topic
	b.Published = append(b.Published, publishRec{Topic: topic, Msg: msg})
	return nil
}

func (b *fakeBroker) topics() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.Published))
	for _, rec := range b.Published {
		out = append(out, rec.Topic)
	}
	return out
}

// --- store fakes ---

type fakeOrderStore struct {
	mu          sync.Mutex
	Orders      map[int64]*orders.Order
	TableOrders map[string][]int64 // "vendor/ident" -> order ids

	GetErr    error
	ListErr   error
	Relinks   []int64
	RelinkErr error
	GetCalls  int
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{
		Orders:      make(map[int64]*orders.Order),
		TableOrders: make(map[string][]int64),
	}
}

func (s *fakeOrderStore) GetOrder(_ context.Context, id int64) (*orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.GetCalls++
	if s.GetErr != nil {
		return nil, s.GetErr
	}
	order, ok := s.Orders[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *order
	return &cp, nil
}

func (s *fakeOrderStore) ListOrderIDsForTable(_ context.Context, vendorID int64, ident string) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	return s.TableOrders[tableKey(vendorID, ident)], nil
}

func (s *fakeOrderStore) ListActiveOrdersForTable(_ context.Context, vendorID int64, ident string) ([]orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	var out []orders.Order
	for _, id := range s.TableOrders[tableKey(vendorID, ident)] {
		if o, ok := s.Orders[id]; ok {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (s *fakeOrderStore) UpdateTableLink(_ context.Context, orderID, tableID int64, ident string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RelinkErr != nil {
		return s.RelinkErr
	}
	s.Relinks = append(s.Relinks, orderID)
	if o, ok := s.Orders[orderID]; ok {
		o.TableID = &tableID
		o.TableIdentifier = &ident
	}
	return nil
}

func tableKey(vendorID int64, ident string) string {
	return string(TableTopic(vendorID, ident))
}

type fakeTableStore struct {
	mu      sync.Mutex
	Tables  map[int64]*orders.Table
	ByIdent map[string]*orders.Table // "vendor/ident"

	GetErr  error
	FindErr error
}

func newFakeTableStore() *fakeTableStore {
	return &fakeTableStore{
		Tables:  make(map[int64]*orders.Table),
		ByIdent: make(map[string]*orders.Table),
	}
}

func (s *fakeTableStore) GetTable(_ context.Context, id int64) (*orders.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.GetErr != nil {
		return nil, s.GetErr
	}
	t, ok := s.Tables[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *t
	return &cp, nil
}

func (s *fakeTableStore) FindTableByIdentifier(_ context.Context, vendorID int64, ident string) (*orders.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FindErr != nil {
		return nil, s.FindErr
	}
	t, ok := s.ByIdent[tableKey(vendorID, ident)]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *t
	return &cp, nil
}

type fakeNotificationStore struct {
	mu      sync.Mutex
	Created []notifications.Notification
	Marked  []int64

	CreateErr error
	MarkErr   error
	MarkFound bool
	Unread    int
	nextID    int64
}

func newFakeNotificationStore() *fakeNotificationStore {
	return &fakeNotificationStore{MarkFound: true}
}

func (s *fakeNotificationStore) Create(_ context.Context, n *notifications.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CreateErr != nil {
		return s.CreateErr
	}
	s.nextID++
	n.ID = s.nextID
	s.Created = append(s.Created, *n)
	return nil
}

func (s *fakeNotificationStore) MarkRead(_ context.Context, id, _ int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.MarkErr != nil {
		return false, s.MarkErr
	}
	s.Marked = append(s.Marked, id)
	return s.MarkFound, nil
}

func (s *fakeNotificationStore) ListForVendor(_ context.Context, _ int64, _ int) ([]notifications.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notifications.Notification(nil), s.Created...), nil
}

func (s *fakeNotificationStore) CountUnread(_ context.Context, _ int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Unread, nil
}

// --- token resolver fake ---

type fakeTokens struct {
	Principals map[string]auth.Principal
}

func (f *fakeTokens) Resolve(token string) (auth.Principal, error) {
	if p, ok := f.Principals[token]; ok {
		return p, nil
	}
	return auth.AnonymousPrincipal, auth.ErrInvalidToken
}

// --- connection fake ---

// fakeConn scripts inbound frames through a channel and records outbound
// text frames on another, so tests can drive Run without a network.
type fakeConn struct {
	inbound chan []byte

	mu        sync.Mutex
	closed    bool
	closeCode int

	Writes chan []byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 8),
		Writes:  make(chan []byte, 32),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	raw, ok := <-c.inbound
	if !ok {
		return 0, nil, io.EOF
	}
	return websocket.TextMessage, raw, nil
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("write on closed connection")
	}
	if messageType == websocket.CloseMessage {
		if len(data) >= 2 {
			c.closeCode = int(binary.BigEndian.Uint16(data[:2]))
		}
		return nil
	}
	select {
	case c.Writes <- data:
	default:
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.inbound)
	}
	return nil
}

func (c *fakeConn) CloseCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode
}

func (c *fakeConn) clientSend(raw []byte) {
	c.inbound <- raw
}
