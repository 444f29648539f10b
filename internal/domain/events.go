package domain

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Типы событий transactional outbox.
const (
	EventOrderPlaced        = "order.placed"
	EventOrderStatusChanged = "order.status_changed"
	EventOrderCancelled     = "order.cancelled"
	EventInventoryLowStock  = "inventory.low_stock"
)

// Типы агрегатов.
const (
	AggregateOrder   = "order"
	AggregateProduct = "product"
)

type OrderPlacedPayload struct {
	OrderID     string          `json:"order_id"`
	OrderCode   string          `json:"order_code"`
	RetailerID  string          `json:"retailer_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Items       []EventItem     `json:"items"`
}

type EventItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type OrderStatusChangedPayload struct {
	OrderID   string      `json:"order_id"`
	OrderCode string      `json:"order_code"`
	From      OrderStatus `json:"from"`
	To        OrderStatus `json:"to"`
	Note      string      `json:"note,omitempty"`
}

type OrderCancelledPayload struct {
	OrderID    string      `json:"order_id"`
	OrderCode  string      `json:"order_code"`
	RetailerID string      `json:"retailer_id"`
	Restored   []EventItem `json:"restored"`
}

type LowStockPayload struct {
	ProductID string `json:"product_id"`
	Stock     int    `json:"stock"`
	MinStock  int    `json:"min_stock"`
}

// NewOutboxMessage сериализует payload в сообщение outbox.
func NewOutboxMessage(aggregateType, aggregateID, eventType string, payload any) (OutboxMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return OutboxMessage{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return OutboxMessage{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       raw,
	}, nil
}

// OrderPlacedEvent формирует событие оформления заказа.
func OrderPlacedEvent(order Order) (OutboxMessage, error) {
	items := make([]EventItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, EventItem{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return NewOutboxMessage(AggregateOrder, order.ID, EventOrderPlaced, OrderPlacedPayload{
		OrderID:     order.ID,
		OrderCode:   order.Code,
		RetailerID:  order.RetailerID,
		TotalAmount: order.TotalAmount,
		Items:       items,
	})
}

// LowStockEvent формирует событие о достижении порога дозаказа.
func LowStockEvent(p Product) (OutboxMessage, error) {
	return NewOutboxMessage(AggregateProduct, p.ID, EventInventoryLowStock, LowStockPayload{
		ProductID: p.ID,
		Stock:     p.Stock,
		MinStock:  p.MinStock,
	})
}
