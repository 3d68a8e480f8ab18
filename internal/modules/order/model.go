// README: Order aggregate, status definitions and the transition table.
package order

import (
	"strings"
	"time"

	"quickcart/internal/types"
)

type Status string

const (
	StatusPendingAdminDecision Status = "PENDING_ADMIN_DECISION"
	StatusAdminAccepted        Status = "ADMIN_ACCEPTED"
	StatusPreparing            Status = "PREPARING"
	StatusReadyForDelivery     Status = "READY_FOR_DELIVERY"
	StatusOutForDelivery       Status = "OUT_FOR_DELIVERY"
	StatusDelivered            Status = "DELIVERED"
	StatusRejectedByAdmin      Status = "REJECTED_BY_ADMIN"
	StatusCancelled            Status = "CANCELLED"

	// StatusNone is only used as the from-status of the creation event.
	StatusNone Status = "NONE"
)

// statusPendingLegacy is the deprecated name of StatusPendingAdminDecision. Accepted on input, never written.
const statusPendingLegacy = "PENDING"

var allStatuses = []Status{
	StatusPendingAdminDecision,
	StatusAdminAccepted,
	StatusPreparing,
	StatusReadyForDelivery,
	StatusOutForDelivery,
	StatusDelivered,
	StatusRejectedByAdmin,
	StatusCancelled,
}

// AllowedTransitions represents the order state flow (diagram) as code.
var AllowedTransitions = map[Status][]Status{
	StatusPendingAdminDecision: {StatusAdminAccepted, StatusRejectedByAdmin, StatusCancelled},
	StatusAdminAccepted:        {StatusPreparing, StatusCancelled},
	StatusPreparing:            {StatusReadyForDelivery, StatusCancelled},
	StatusReadyForDelivery:     {StatusOutForDelivery, StatusCancelled},
	StatusOutForDelivery:       {StatusDelivered},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

// Statuses returns the closed set of order statuses.
func Statuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

func (s Status) Valid() bool {
	for _, v := range allStatuses {
		if v == s {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	switch s {
	case StatusDelivered, StatusRejectedByAdmin, StatusCancelled:
		return true
	}
	return false
}

func (s Status) String() string { return string(s) }

// ParseStatus normalises loosely formatted status names ("preparing", "out-for-delivery",
// the legacy "PENDING") into the canonical closed set.
func ParseStatus(raw string) (Status, bool) {
	v := strings.ToUpper(strings.TrimSpace(raw))
	v = strings.NewReplacer("-", "_", " ", "_").Replace(v)
	if v == statusPendingLegacy {
		return StatusPendingAdminDecision, true
	}
	s := Status(v)
	return s, s.Valid()
}

type Item struct {
	ProductID types.ID    `json:"productId"`
	Name      string      `json:"name"`
	Quantity  int         `json:"quantity"`
	UnitPrice types.Money `json:"unitPrice"`
}

func (i Item) LineTotal() types.Money {
	return i.UnitPrice.Times(i.Quantity)
}

type Order struct {
	ID              types.ID      `json:"id"`
	OrderNumber     string        `json:"orderNumber"`
	UserID          types.ID      `json:"userId"`
	Items           []Item        `json:"items"`
	TotalAmount     types.Money   `json:"totalAmount"`
	Status          Status        `json:"status"`
	StatusVersion   int           `json:"statusVersion"`
	RejectionReason *string       `json:"rejectionReason"`
	DeliveryAddress types.Address `json:"deliveryAddress"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

// Clone returns a deep copy so callers never share item slices or reason pointers with the store.
func (o *Order) Clone() *Order {
	cp := *o
	cp.Items = append([]Item(nil), o.Items...)
	if o.RejectionReason != nil {
		r := *o.RejectionReason
		cp.RejectionReason = &r
	}
	return &cp
}

type ActorType string

const (
	ActorAdmin    ActorType = "admin"
	ActorRider    ActorType = "rider"
	ActorCustomer ActorType = "customer"
	ActorSystem   ActorType = "system"
)

type Event struct {
	ID         int64     `json:"id"`
	OrderID    types.ID  `json:"orderId"`
	FromStatus Status    `json:"fromStatus"`
	ToStatus   Status    `json:"toStatus"`
	Reason     *string   `json:"reason,omitempty"`
	ActorType  ActorType `json:"actorType"`
	ActorID    *types.ID `json:"actorId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// StatusChange is what the notifier receives after a transition commits.
type StatusChange struct {
	OrderID       types.ID
	UserID        types.ID
	OrderNumber   string
	From          Status
	Status        Status
	StatusVersion int
	Reason        *string
	At            time.Time
}
