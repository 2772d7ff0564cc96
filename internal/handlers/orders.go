package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stagelink/billing/internal/domain"
	"github.com/stagelink/billing/internal/platform/httpx"
	"github.com/stagelink/billing/internal/services"
)

const maxOrderRequestBody = 8 * 1024

var (
	errEmptyBody    = errors.New("request body is required")
	errBodyTooLarge = errors.New("request body too large")
)

// OrderHandlers exposes order creation, lookup, and payment confirmation.
type OrderHandlers struct {
	orders     services.OrderService
	settlement services.SettlementService
}

// NewOrderHandlers constructs the order endpoints.
func NewOrderHandlers(orders services.OrderService, settlement services.SettlementService) *OrderHandlers {
	return &OrderHandlers{orders: orders, settlement: settlement}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createOrder)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}/confirm", h.confirmPayment)
}

type createOrderRequest struct {
	FeatureKind string `json:"featureKind"`
	SubjectID   string `json:"subjectId"`
	PayerID     string `json:"payerId"`
	BuyerState  string `json:"buyerState"`
}

type taxLinePayload struct {
	Label string `json:"label"`
	Value int64  `json:"value"`
}

type amountPayload struct {
	Base     int64            `json:"base"`
	TaxLines []taxLinePayload `json:"taxLines"`
	Total    int64            `json:"total"`
}

type orderPayload struct {
	ID                 string        `json:"id"`
	FeatureKind        string        `json:"featureKind"`
	SubjectID          string        `json:"subjectId"`
	PayerID            string        `json:"payerId"`
	Amount             amountPayload `json:"amount"`
	Status             string        `json:"status"`
	ExternalOrderRef   string        `json:"externalOrderRef"`
	ExternalPaymentRef string        `json:"externalPaymentRef,omitempty"`
	InvoiceNumber      string        `json:"invoiceNumber,omitempty"`
	FailureReason      string        `json:"failureReason,omitempty"`
	InvoiceDocumentURL string        `json:"invoiceDocumentUrl,omitempty"`
	CreatedAt          string        `json:"createdAt"`
	PaidAt             string        `json:"paidAt,omitempty"`
}

type confirmPaymentRequest struct {
	ExternalOrderRef   string `json:"externalOrderRef"`
	ExternalPaymentRef string `json:"externalPaymentRef"`
	Signature          string `json:"signature"`
}

type confirmPaymentResponse struct {
	Order       orderPayload `json:"order"`
	AlreadyPaid bool         `json:"alreadyPaid"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := readLimitedBody(r, maxOrderRequestBody)
	if err != nil {
		writeBodyError(w, r, err)
		return
	}
	var req createOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	result, err := h.orders.CreateOrder(ctx, services.CreateOrderCommand{
		FeatureKind: domain.FeatureKind(strings.TrimSpace(req.FeatureKind)),
		Subject: domain.SubjectRef{
			SubjectID: strings.TrimSpace(req.SubjectID),
			PayerID:   strings.TrimSpace(req.PayerID),
		},
		BuyerState: strings.TrimSpace(req.BuyerState),
	})
	if err != nil {
		writeOrderError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toOrderPayload(result.Order))
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID := chi.URLParam(r, "orderID")

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toOrderPayload(order))
}

func (h *OrderHandlers) confirmPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID := chi.URLParam(r, "orderID")

	body, err := readLimitedBody(r, maxOrderRequestBody)
	if err != nil {
		writeBodyError(w, r, err)
		return
	}
	var req confirmPaymentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	result, err := h.settlement.ConfirmPayment(ctx, services.ConfirmPaymentCommand{
		OrderID:            orderID,
		ExternalOrderRef:   strings.TrimSpace(req.ExternalOrderRef),
		ExternalPaymentRef: strings.TrimSpace(req.ExternalPaymentRef),
		Signature:          strings.TrimSpace(req.Signature),
	})
	if err != nil {
		writeSettlementError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, confirmPaymentResponse{
		Order:       toOrderPayload(result.Order),
		AlreadyPaid: result.AlreadyPaid,
	})
}

func toOrderPayload(order domain.Order) orderPayload {
	payload := orderPayload{
		ID:          order.ID,
		FeatureKind: string(order.FeatureKind),
		SubjectID:   order.Subject.SubjectID,
		PayerID:     order.Subject.PayerID,
		Amount: amountPayload{
			Base:  order.Amount.Base,
			Total: order.Amount.Total,
		},
		Status:           string(order.Status),
		ExternalOrderRef: order.ExternalOrderRef,
		CreatedAt:        order.CreatedAt.UTC().Format(time.RFC3339),
	}
	for _, line := range order.Amount.TaxLines {
		payload.Amount.TaxLines = append(payload.Amount.TaxLines, taxLinePayload{Label: line.Label, Value: line.Value})
	}
	if order.ExternalPaymentRef != nil {
		payload.ExternalPaymentRef = *order.ExternalPaymentRef
	}
	if order.InvoiceNumber != nil {
		payload.InvoiceNumber = *order.InvoiceNumber
	}
	if order.FailureReason != nil {
		payload.FailureReason = *order.FailureReason
	}
	if order.InvoiceDocumentURL != nil {
		payload.InvoiceDocumentURL = *order.InvoiceDocumentURL
	}
	if order.PaidAt != nil {
		payload.PaidAt = order.PaidAt.UTC().Format(time.RFC3339)
	}
	return payload
}

func writeOrderError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderPrecondition):
		httpx.WriteError(ctx, w, httpx.NewError("entitlement_already_held", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderGatewayUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("gateway_unavailable", "payment gateway unavailable", http.StatusBadGateway))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "internal error", http.StatusInternalServerError))
	}
}

func writeSettlementError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, services.ErrSettlementInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrSettlementUnauthorized):
		httpx.WriteError(ctx, w, httpx.NewError("signature_rejected", "payment signature does not verify", http.StatusUnauthorized))
	case errors.Is(err, services.ErrSettlementNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrSettlementInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_order_state", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "internal error", http.StatusInternalServerError))
	}
}

func writeBodyError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusBadRequest
	if errors.Is(err, errBodyTooLarge) {
		status = http.StatusRequestEntityTooLarge
	}
	httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", err.Error(), status))
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = maxOrderRequestBody
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}
