package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/tokokita/api/internal/kafka"
	"github.com/tokokita/api/internal/orders"
	"github.com/tokokita/api/internal/redisx"
)

// OrdersHandler wires the order service to the REST surface. The identity
// collaborator terminates auth upstream and forwards the resolved principal in
// X-User-Id; this layer never inspects cookies or tokens, only that header and
// the admin bearer token.
type OrdersHandler struct {
	Svc   *orders.Service
	Redis *redis.Client
	Log   *zap.Logger

	// One producer per lifecycle topic, feeding downstream consumers
	// (notifications, analytics). Nil producers are skipped so the handler
	// also runs without Kafka in local setups.
	Placed        *kafkax.Producer
	Cancelled     *kafkax.Producer
	StatusChanged *kafkax.Producer

	Service    string // producer name stamped on event envelopes
	AdminToken string
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Post("/orders", h.placeOrder)
	r.Get("/orders/track", h.trackOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Post("/orders/{id}/cancel", h.cancelOrder)

	r.Route("/admin/orders", func(ar chi.Router) {
		ar.Use(h.requireAdmin)
		ar.Patch("/{id}/status", h.setOrderStatus)
		ar.Patch("/{id}/payment", h.setPaymentStatus)
	})
}

type cartLineReq struct {
	VariantID string `json:"variant_id"`
	Qty       int    `json:"qty"`
	Name      string `json:"name,omitempty"`
}

type placeOrderReq struct {
	Items         []cartLineReq `json:"items"`
	Name          string        `json:"name"`
	Email         string        `json:"email"`
	Phone         string        `json:"phone"`
	Address       string        `json:"address"`
	Note          string        `json:"note"`
	PaymentMethod string        `json:"payment_method"`
}

type placeOrderResp struct {
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
	TotalCents  int64  `json:"total_cents"`
}

func (h *OrdersHandler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errBody("invalid json"))
		return
	}

	lines := make([]orders.CartLine, 0, len(req.Items))
	for _, it := range req.Items {
		lines = append(lines, orders.CartLine{VariantID: it.VariantID, Quantity: it.Qty, Name: it.Name})
	}

	cmd := orders.PlaceOrderCmd{
		Lines: lines,
		Shipping: orders.ShippingInfo{
			Name:    req.Name,
			Email:   req.Email,
			Phone:   req.Phone,
			Address: req.Address,
			Note:    req.Note,
		},
		Payment: orders.PaymentMethod(req.PaymentMethod),
		UserID:  principal(r),
	}

	order, items, err := h.Svc.PlaceOrder(r.Context(), cmd)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.emit(h.Placed, orders.EventOrderPlaced, order.ID, r, orders.OrderPlacedPayload{
		OrderID:     order.ID,
		OrderNumber: order.Number,
		UserID:      derefOr(order.UserID, ""),
		Items:       itemQtys(items),
		TotalCents:  order.TotalCents,
	})

	writeJSON(w, http.StatusCreated, placeOrderResp{OrderID: order.ID, OrderNumber: order.Number, TotalCents: order.TotalCents})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Summary cache in front of the read path; the database stays the source
	// of truth and every status write deletes the key.
	key := fmt.Sprintf(redisx.KeyOrderSummary, id)
	if h.Redis != nil {
		if s, err := h.Redis.Get(r.Context(), key).Result(); err == nil && s != "" {
			writeRawJSON(w, http.StatusOK, []byte(s))
			return
		}
	}

	order, items, err := h.Svc.GetOrder(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	view := newOrderView(order, items)
	if h.Redis != nil {
		if b, err := json.Marshal(view); err == nil {
			_ = h.Redis.Set(r.Context(), key, b, redisx.TTLSummaryCache).Err()
		}
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	userID := principal(r)
	if userID == nil {
		writeJSON(w, http.StatusUnauthorized, errBody("sign in to cancel an order"))
		return
	}
	id := chi.URLParam(r, "id")

	order, items, err := h.Svc.CancelOwnOrder(r.Context(), id, *userID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.invalidate(r, order)
	h.emit(h.Cancelled, orders.EventOrderCancelled, order.ID, r, orders.OrderCancelledPayload{
		OrderID:   order.ID,
		Restocked: itemQtys(items),
	})
	writeJSON(w, http.StatusOK, newOrderView(order, items))
}

type setStatusReq struct {
	Status       string `json:"status"`
	Carrier      string `json:"carrier,omitempty"`
	TrackingCode string `json:"tracking_code,omitempty"`
}

func (h *OrdersHandler) setOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req setStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errBody("invalid json"))
		return
	}
	id := chi.URLParam(r, "id")

	order, items, from, err := h.Svc.SetOrderStatus(r.Context(), id, orders.Status(req.Status), req.Carrier, req.TrackingCode)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.invalidate(r, order)
	if order.Status == orders.StatusCancelled {
		h.emit(h.Cancelled, orders.EventOrderCancelled, order.ID, r, orders.OrderCancelledPayload{
			OrderID:   order.ID,
			Restocked: itemQtys(items),
			ByAdmin:   true,
		})
	} else {
		h.emit(h.StatusChanged, orders.EventOrderStatusChanged, order.ID, r, orders.OrderStatusChangedPayload{
			OrderID: order.ID,
			From:    from,
			To:      order.Status,
		})
	}
	writeJSON(w, http.StatusOK, newOrderView(order, items))
}

type setPaymentReq struct {
	PaymentStatus string `json:"payment_status"`
}

func (h *OrdersHandler) setPaymentStatus(w http.ResponseWriter, r *http.Request) {
	var req setPaymentReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errBody("invalid json"))
		return
	}
	id := chi.URLParam(r, "id")

	order, err := h.Svc.SetPaymentStatus(r.Context(), id, orders.PaymentStatus(req.PaymentStatus))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.invalidate(r, order)
	writeJSON(w, http.StatusOK, map[string]string{
		"order_id":       order.ID,
		"payment_status": string(order.PaymentStatus),
	})
}

func (h *OrdersHandler) trackOrder(w http.ResponseWriter, r *http.Request) {
	number := r.URL.Query().Get("number")
	email := r.URL.Query().Get("email")

	order, items, err := h.Svc.TrackOrder(r.Context(), number, email)
	if err != nil {
		h.writeError(w, err)
		return
	}
	// The public view deliberately omits contact and address data; the caller
	// proved knowledge of the number+email pair, nothing more. Not cached: a
	// cache keyed by number alone would serve later callers without the email
	// check.
	writeJSON(w, http.StatusOK, newTrackView(order, items))
}

func (h *OrdersHandler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if h.AdminToken == "" || token != h.AdminToken {
			writeJSON(w, http.StatusForbidden, errBody("forbidden"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *OrdersHandler) writeError(w http.ResponseWriter, err error) {
	if se, ok := orders.IsStockError(err); ok {
		writeJSON(w, http.StatusConflict, map[string]string{"error": se.Error(), "code": string(se.Kind)})
		return
	}
	switch {
	case errors.Is(err, orders.ErrEmptyCart), errors.Is(err, orders.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errBody(err.Error()))
	case errors.Is(err, orders.ErrNotFound), errors.Is(err, orders.ErrVariantNotFound):
		writeJSON(w, http.StatusNotFound, errBody("not found"))
	case errors.Is(err, orders.ErrForbidden):
		writeJSON(w, http.StatusForbidden, errBody("forbidden"))
	case errors.Is(err, orders.ErrInvalidState), errors.Is(err, orders.ErrTerminalState), errors.Is(err, orders.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, errBody(err.Error()))
	default:
		if h.Log != nil {
			h.Log.Error("request failed", zap.Error(err))
		}
		writeJSON(w, http.StatusInternalServerError, errBody("internal error, safe to retry"))
	}
}

// invalidate drops the read caches touched by a mutation.
func (h *OrdersHandler) invalidate(r *http.Request, order orders.Order) {
	if h.Redis == nil {
		return
	}
	_ = h.Redis.Del(r.Context(), fmt.Sprintf(redisx.KeyOrderSummary, order.ID)).Err()
}

func (h *OrdersHandler) emit(p *kafkax.Producer, eventType, orderID string, r *http.Request, payload any) {
	if p == nil {
		return
	}
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      h.Service,
		TraceID:       r.Header.Get("X-Request-Id"),
		CorrelationID: orderID,
		Payload:       kafkax.MustMarshal(payload),
	}
	p.Publish(orders.PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

// principal returns the resolved user id forwarded by the gateway, nil for
// guests.
func principal(r *http.Request) *string {
	v := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if v == "" {
		return nil
	}
	return &v
}

type orderItemView struct {
	VariantID          string `json:"variant_id"`
	Name               string `json:"name"`
	Qty                int    `json:"qty"`
	PriceCents         int64  `json:"price_cents"`
	OriginalPriceCents int64  `json:"original_price_cents"`
}

type orderView struct {
	OrderID       string          `json:"order_id"`
	OrderNumber   string          `json:"order_number"`
	Status        string          `json:"status"`
	PaymentMethod string          `json:"payment_method"`
	PaymentStatus string          `json:"payment_status"`
	SubtotalCents int64           `json:"subtotal_cents"`
	ShippingCents int64           `json:"shipping_cents"`
	DiscountCents int64           `json:"discount_cents"`
	TotalCents    int64           `json:"total_cents"`
	Address       string          `json:"address"`
	Note          string          `json:"note,omitempty"`
	Carrier       string          `json:"carrier,omitempty"`
	TrackingCode  string          `json:"tracking_code,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	Items         []orderItemView `json:"items"`
}

func newOrderView(o orders.Order, items []orders.OrderItem) orderView {
	return orderView{
		OrderID:       o.ID,
		OrderNumber:   o.Number,
		Status:        string(o.Status),
		PaymentMethod: string(o.PaymentMethod),
		PaymentStatus: string(o.PaymentStatus),
		SubtotalCents: o.SubtotalCents,
		ShippingCents: o.ShippingCents,
		DiscountCents: o.DiscountCents,
		TotalCents:    o.TotalCents,
		Address:       o.ShipAddress,
		Note:          o.Note,
		Carrier:       o.Carrier,
		TrackingCode:  o.TrackingCode,
		CreatedAt:     o.CreatedAt,
		Items:         itemViews(items),
	}
}

type trackView struct {
	OrderNumber   string          `json:"order_number"`
	Status        string          `json:"status"`
	PaymentStatus string          `json:"payment_status"`
	TotalCents    int64           `json:"total_cents"`
	Carrier       string          `json:"carrier,omitempty"`
	TrackingCode  string          `json:"tracking_code,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	Items         []orderItemView `json:"items"`
}

func newTrackView(o orders.Order, items []orders.OrderItem) trackView {
	return trackView{
		OrderNumber:   o.Number,
		Status:        string(o.Status),
		PaymentStatus: string(o.PaymentStatus),
		TotalCents:    o.TotalCents,
		Carrier:       o.Carrier,
		TrackingCode:  o.TrackingCode,
		CreatedAt:     o.CreatedAt,
		Items:         itemViews(items),
	}
}

func itemViews(items []orders.OrderItem) []orderItemView {
	out := make([]orderItemView, 0, len(items))
	for _, it := range items {
		out = append(out, orderItemView{
			VariantID:          it.VariantID,
			Name:               it.Name,
			Qty:                it.Quantity,
			PriceCents:         it.PriceCents,
			OriginalPriceCents: it.OriginalPriceCents,
		})
	}
	return out
}

func itemQtys(items []orders.OrderItem) []orders.ItemQty {
	out := make([]orders.ItemQty, 0, len(items))
	for _, it := range items {
		out = append(out, orders.ItemQty{VariantID: it.VariantID, Qty: it.Quantity})
	}
	return out
}

func derefOr(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}

func errBody(msg string) map[string]string { return map[string]string{"error": msg} }

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeRawJSON(w http.ResponseWriter, code int, b []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(b)
}
