package realtime

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"qr-dine/internal/ports"
	"qr-dine/internal/shared/contracts"
	"qr-dine/internal/shared/logger"

	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5"
)

// RealtimeHTTPHandler mounts the WebSocket routes, the internal publish
// trigger and the vendor REST reads.
type RealtimeHTTPHandler struct {
	logger    *logger.Logger
	deps      SessionDeps
	publisher ports.EventPublisher
	resolver  *TableNameResolver
	upgrader  websocket.Upgrader
}

// NewHandler wires the HTTP surface of the realtime service.
func NewHandler(log *logger.Logger, deps SessionDeps, publisher ports.EventPublisher, resolver *TableNameResolver) *RealtimeHTTPHandler {
	return &RealtimeHTTPHandler{
		logger:    log,
		deps:      deps,
		publisher: publisher,
		resolver:  resolver,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The QR pages are served from vendor-specific origins; the
			// bearer token, not the origin, is the access control.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Register mounts all routes on the provided mux.
func (handler *RealtimeHTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/notifications/{vendor_id}", handler.wsVendor)
	mux.HandleFunc("GET /ws/track-order/{order_id}", handler.wsTrackOrder)
	mux.HandleFunc("GET /ws/table/{vendor_id}/{table_identifier}", handler.wsTable)
	mux.HandleFunc("GET /ws/order/{combined}", handler.wsCombined)

	mux.HandleFunc("POST /internal/orders/{order_id}/publish", handler.publishOrder)

	mux.HandleFunc("GET /vendors/{vendor_id}/notifications", handler.listNotifications)
	mux.HandleFunc("GET /vendors/{vendor_id}/notifications/unread-count", handler.unreadCount)
	mux.HandleFunc("GET /vendors/{vendor_id}/active-orders", handler.activeOrders)
}

// --- WebSocket routes ---

// wsVendor handles GET /ws/notifications/{vendor_id}. With ?anonymous=true
// the session is a read-only observer; otherwise a bearer token matching
// the path vendor is required.
func (handler *RealtimeHTTPHandler) wsVendor(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)

	vendorID, err := strconv.ParseInt(r.PathValue("vendor_id"), 10, 64)
	if err != nil || vendorID <= 0 {
		handler.writeErr(w, http.StatusBadRequest, "invalid vendor id")
		return
	}

	kind := KindVendor
	if r.URL.Query().Get("anonymous") == "true" {
		kind = KindVendorObserver
	}

	handler.serveSession(ctx, w, r, SessionParams{
		Kind:     kind,
		VendorID: vendorID,
		Token:    bearerToken(r),
	})
}

// wsTrackOrder handles GET /ws/track-order/{order_id}.
func (handler *RealtimeHTTPHandler) wsTrackOrder(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)

	orderID, err := strconv.ParseInt(r.PathValue("order_id"), 10, 64)
	if err != nil || orderID <= 0 {
		handler.writeErr(w, http.StatusBadRequest, "invalid order id")
		return
	}

	handler.serveSession(ctx, w, r, SessionParams{Kind: KindOrderTracker, OrderID: orderID})
}

// wsTable handles GET /ws/table/{vendor_id}/{table_identifier}.
func (handler *RealtimeHTTPHandler) wsTable(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)

	vendorID, _ := strconv.ParseInt(r.PathValue("vendor_id"), 10, 64)
	handler.serveSession(ctx, w, r, SessionParams{
		Kind:            KindTableTracker,
		VendorID:        vendorID,
		TableIdentifier: r.PathValue("table_identifier"),
	})
}

// wsCombined handles the legacy GET /ws/order/{vendor_id}_{table_identifier}
// route. Identifier validation happens after the upgrade so the client
// receives a proper close code rather than a failed handshake.
func (handler *RealtimeHTTPHandler) wsCombined(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)

	var vendorID int64
	var ident string
	if vid, rest, ok := strings.Cut(r.PathValue("combined"), "_"); ok {
		vendorID, _ = strconv.ParseInt(vid, 10, 64)
		ident = rest
	}

	handler.serveSession(ctx, w, r, SessionParams{
		Kind:            KindCombined,
		VendorID:        vendorID,
		TableIdentifier: ident,
	})
}

// serveSession upgrades, connects and runs the session to completion.
func (handler *RealtimeHTTPHandler) serveSession(ctx context.Context, w http.ResponseWriter, r *http.Request, params SessionParams) {
	conn, err := handler.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error.
		handler.logger.Warn(ctx, "upgrade_failed", "WebSocket upgrade failed", map[string]any{"error": err.Error()})
		return
	}

	sess, err := Connect(ctx, conn, params, handler.deps)
	if err != nil {
		handler.logger.Debug(ctx, "connection_refused", "Session refused", map[string]any{"kind": string(params.Kind), "error": err.Error()})
		return
	}

	handler.logger.Info(ctx, "session_opened", "WebSocket session opened", map[string]any{"kind": string(params.Kind)})
	sess.Run(ctx)
	handler.logger.Info(ctx, "session_closed", "WebSocket session closed", map[string]any{"kind": string(params.Kind)})
}

// --- Internal publish trigger ---

// publishOrder handles POST /internal/orders/{order_id}/publish, the hook
// order-mutating workflows call after their storage commit. The optional
// body carries a prebuilt event payload.
func (handler *RealtimeHTTPHandler) publishOrder(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)

	orderID, err := strconv.ParseInt(r.PathValue("order_id"), 10, 64)
	if err != nil || orderID <= 0 {
		handler.writeErr(w, http.StatusBadRequest, "invalid order id")
		return
	}
	handler.logger.Debug(ctx, "request_received", "POST /internal/orders/{order_id}/publish", map[string]any{"order_id": orderID})

	var prebuilt *contracts.OrderEvent
	body, _ := io.ReadAll(r.Body)
	if len(body) > 0 {
		var event contracts.OrderEvent
		if err := json.Unmarshal(body, &event); err != nil {
			handler.writeErr(w, http.StatusBadRequest, "invalid event payload")
			return
		}
		prebuilt = &event
	}

	published := handler.publisher.PublishWithRetry(ctx, orderID, prebuilt)
	handler.writeJSON(w, http.StatusOK, map[string]any{"published": published})
}

// --- Vendor REST reads ---

// listNotifications handles GET /vendors/{vendor_id}/notifications?limit=.
func (handler *RealtimeHTTPHandler) listNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)

	vendorID, ok := handler.authVendor(w, r)
	if !ok {
		return
	}
	handler.logger.Debug(ctx, "request_received", "GET /vendors/{vendor_id}/notifications", map[string]any{"vendor_id": vendorID})

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}

	rows, err := handler.deps.Notifications.ListForVendor(ctx, vendorID, limit)
	if err != nil {
		handler.logger.Error(ctx, "db_query_failed", "Database query failed", err)
		handler.writeErr(w, http.StatusInternalServerError, "internal server error")
		return
	}

	out := make([]map[string]any, 0, len(rows))
	for i := range rows {
		out = append(out, map[string]any{
			"id":        rows[i].ID,
			"title":     rows[i].Title,
			"message":   rows[i].Message,
			"type":      rows[i].Type,
			"read":      rows[i].Read,
			"timestamp": rows[i].CreatedAt,
			"data":      rows[i].Data,
		})
	}
	handler.writeJSON(w, http.StatusOK, out)
}

// unreadCount handles GET /vendors/{vendor_id}/notifications/unread-count.
func (handler *RealtimeHTTPHandler) unreadCount(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)

	vendorID, ok := handler.authVendor(w, r)
	if !ok {
		return
	}

	count, err := handler.deps.Notifications.CountUnread(ctx, vendorID)
	if err != nil {
		handler.logger.Error(ctx, "db_query_failed", "Database query failed", err)
		handler.writeErr(w, http.StatusInternalServerError, "internal server error")
		return
	}
	handler.writeJSON(w, http.StatusOK, map[string]any{"unread_count": count})
}

// activeOrders handles GET /vendors/{vendor_id}/active-orders?table_identifier=.
// It is the customer table page's projection; access is scoped by knowing
// the table identifier, the same capability the QR code grants.
func (handler *RealtimeHTTPHandler) activeOrders(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)

	vendorID, err := strconv.ParseInt(r.PathValue("vendor_id"), 10, 64)
	if err != nil || vendorID <= 0 {
		handler.writeErr(w, http.StatusBadRequest, "invalid vendor id")
		return
	}
	ident := r.URL.Query().Get("table_identifier")
	if ident == "" {
		handler.writeErr(w, http.StatusBadRequest, "table_identifier is required")
		return
	}
	handler.logger.Debug(ctx, "request_received", "GET /vendors/{vendor_id}/active-orders", map[string]any{
		"vendor_id": vendorID, "table_identifier": ident,
	})

	list, err := handler.deps.Orders.ListActiveOrdersForTable(ctx, vendorID, ident)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			handler.writeJSON(w, http.StatusOK, []any{})
			return
		}
		handler.logger.Error(ctx, "db_query_failed", "Database query failed", err)
		handler.writeErr(w, http.StatusInternalServerError, "internal server error")
		return
	}

	out := make([]contracts.OrderEvent, 0, len(list))
	for i := range list {
		name := handler.resolver.Resolve(ctx, &list[i])
		out = append(out, BuildOrderEvent(&list[i], name))
	}
	handler.writeJSON(w, http.StatusOK, out)
}

// --- Helpers ---

// authVendor resolves the bearer token and checks it against the path
// vendor id. It writes the error response itself on failure.
func (handler *RealtimeHTTPHandler) authVendor(w http.ResponseWriter, r *http.Request) (int64, bool) {
	vendorID, err := strconv.ParseInt(r.PathValue("vendor_id"), 10, 64)
	if err != nil || vendorID <= 0 {
		handler.writeErr(w, http.StatusBadRequest, "invalid vendor id")
		return 0, false
	}

	principal, err := handler.deps.Tokens.Resolve(bearerToken(r))
	if err != nil || principal.Anonymous {
		handler.writeErr(w, http.StatusUnauthorized, "authentication required")
		return 0, false
	}
	if principal.VendorID != vendorID {
		handler.writeErr(w, http.StatusForbidden, "forbidden")
		return 0, false
	}
	return vendorID, true
}

// bearerToken pulls the credential from the Authorization header or the
// token query parameter (browsers cannot set headers on WebSocket dials).
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func (handler *RealtimeHTTPHandler) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (handler *RealtimeHTTPHandler) writeErr(w http.ResponseWriter, code int, msg string) {
	handler.writeJSON(w, code, map[string]any{"error": msg})
}

// withReqID extracts or generates a request ID and adds it to the context.
func (handler *RealtimeHTTPHandler) withReqID(ctx context.Context, r *http.Request) context.Context {
	reqID := r.Header.Get("X-Request-ID")
	if reqID == "" {
		reqID = randID()
	}
	return handler.logger.WithRequestID(ctx, reqID)
}

// randID generates a random 24-char hex string suitable for request IDs.
func randID() string {
	var b [12]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
