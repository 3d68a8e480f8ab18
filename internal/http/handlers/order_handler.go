// README: Order handlers for checkout, status transitions and order queries.
package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"quickcart/internal/modules/order"
	"quickcart/internal/types"
)

const idempotencyHeader = "Idempotency-Key"

type OrderHandler struct {
	order *order.Service
}

func NewOrderHandler(svc *order.Service) *OrderHandler {
	return &OrderHandler{order: svc}
}

type createItemReq struct {
	ProductID string       `json:"productId"`
	Quantity  int          `json:"quantity"`
	Name      string       `json:"name"`
	UnitPrice *types.Money `json:"unitPrice"`
}

type createOrderReq struct {
	UserID          string          `json:"userId"`
	Items           []createItemReq `json:"items"`
	DeliveryAddress types.Address   `json:"deliveryAddress"`
}

// actorReq identifies who issued a transition. Both fields are optional.
type actorReq struct {
	ActorType string `json:"actorType"`
	ActorID   string `json:"actorId"`
}

type rejectReq struct {
	actorReq
	Reason string `json:"reason"`
}

// statusReq accepts the current "status" field and the older "order_status" one.
type statusReq struct {
	actorReq
	Status      string `json:"status"`
	OrderStatus string `json:"order_status"`
	Reason      string `json:"reason"`
}

func (h *OrderHandler) Create(c *gin.Context) {
	var req createOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, codeBadRequest, "invalid json")
		return
	}
	lines := make([]order.LineInput, 0, len(req.Items))
	for _, it := range req.Items {
		lines = append(lines, order.LineInput{
			ProductID: types.ID(it.ProductID),
			Quantity:  it.Quantity,
			Name:      it.Name,
			UnitPrice: it.UnitPrice,
		})
	}
	o, err := h.order.Create(c.Request.Context(), order.CreateCommand{
		UserID:          types.ID(req.UserID),
		Items:           lines,
		DeliveryAddress: req.DeliveryAddress,
		IdempotencyKey:  c.GetHeader(idempotencyHeader),
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, o)
}

func (h *OrderHandler) Get(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	o, err := h.order.Get(c.Request.Context(), types.ID(id))
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, o)
}

func (h *OrderHandler) Status(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	s, err := h.order.GetStatus(c.Request.Context(), types.ID(id))
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, s)
}

func (h *OrderHandler) Events(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	events, err := h.order.Events(c.Request.Context(), types.ID(id))
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"orderId": id, "events": events})
}

func (h *OrderHandler) Accept(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	var req actorReq
	if !bindOptional(c, &req) {
		return
	}
	h.transition(c, order.TransitionCommand{OrderID: types.ID(id), Status: order.StatusAdminAccepted}, req, order.ActorAdmin)
}

func (h *OrderHandler) Reject(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	var req rejectReq
	if !bindOptional(c, &req) {
		return
	}
	if strings.TrimSpace(req.Reason) == "" {
		writeError(c, http.StatusBadRequest, codeBadRequest, "reason is required")
		return
	}
	h.transition(c, order.TransitionCommand{
		OrderID: types.ID(id),
		Status:  order.StatusRejectedByAdmin,
		Reason:  req.Reason,
	}, req.actorReq, order.ActorAdmin)
}

func (h *OrderHandler) Cancel(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	var req actorReq
	if !bindOptional(c, &req) {
		return
	}
	h.transition(c, order.TransitionCommand{OrderID: types.ID(id), Status: order.StatusCancelled}, req, order.ActorCustomer)
}

func (h *OrderHandler) UpdateStatus(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	var req statusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, codeBadRequest, "invalid json")
		return
	}
	raw := req.Status
	if raw == "" {
		raw = req.OrderStatus
	}
	status, valid := order.ParseStatus(raw)
	if !valid {
		writeError(c, http.StatusBadRequest, codeBadRequest, "unknown status "+strconv.Quote(raw))
		return
	}
	h.transition(c, order.TransitionCommand{
		OrderID: types.ID(id),
		Status:  status,
		Reason:  req.Reason,
	}, req.actorReq, order.ActorAdmin)
}

func (h *OrderHandler) transition(c *gin.Context, cmd order.TransitionCommand, actor actorReq, def order.ActorType) {
	cmd.ActorType = def
	if actor.ActorType != "" {
		switch at := order.ActorType(strings.ToLower(actor.ActorType)); at {
		case order.ActorAdmin, order.ActorRider, order.ActorCustomer, order.ActorSystem:
			cmd.ActorType = at
		default:
			writeError(c, http.StatusBadRequest, codeBadRequest, "unknown actorType "+strconv.Quote(actor.ActorType))
			return
		}
	}
	if actor.ActorID != "" {
		aid := types.ID(actor.ActorID)
		cmd.ActorID = &aid
	}
	o, err := h.order.ApplyTransition(c.Request.Context(), cmd)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, o)
}

func (h *OrderHandler) ListByUser(c *gin.Context) {
	userID := c.Param("id")
	if !isValidID(userID) {
		writeError(c, http.StatusBadRequest, codeBadRequest, "invalid user id")
		return
	}
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	orders, err := h.order.ListByUser(c.Request.Context(), types.ID(userID), limit)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"orders": orders})
}

func (h *OrderHandler) ListActive(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	orders, err := h.order.ListActive(c.Request.Context(), limit)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"orders": orders})
}

// bindOptional decodes a JSON body when one was sent.
func bindOptional(c *gin.Context, dst any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(c, http.StatusBadRequest, codeBadRequest, "invalid json")
		return false
	}
	return true
}

func queryLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(c, http.StatusBadRequest, codeBadRequest, "limit must be a non-negative integer")
		return 0, false
	}
	return n, true
}
