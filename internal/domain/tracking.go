package domain

import "time"

// DeliveryWindow — статическая политика оценки срока доставки.
const DeliveryWindow = 72 * time.Hour

var locations = map[OrderStatus]string{
	OrderStatusPending:    "Processing at warehouse",
	OrderStatusConfirmed:  "Confirmed and ready for shipping",
	OrderStatusProcessing: "Being prepared for dispatch",
	OrderStatusShipped:    "In transit to delivery hub",
	OrderStatusDelivered:  "Delivered successfully",
	OrderStatusCancelled:  "Order cancelled",
}

// LocationFor возвращает текущее местоположение заказа по его статусу.
func LocationFor(status OrderStatus) string {
	if loc, ok := locations[status]; ok {
		return loc
	}
	return "Status unknown"
}

// TrackingView — данные для отслеживания заказа.
type TrackingView struct {
	OrderID           string
	OrderCode         string
	TrackingNumber    string
	Status            OrderStatus
	CurrentLocation   string
	EstimatedDelivery time.Time
	StatusHistory     []StatusChange
}

// Track строит представление отслеживания для заказа.
func Track(order Order) TrackingView {
	return TrackingView{
		OrderID:           order.ID,
		OrderCode:         order.Code,
		TrackingNumber:    order.TrackingNumber,
		Status:            order.Status,
		CurrentLocation:   LocationFor(order.Status),
		EstimatedDelivery: order.CreatedAt.Add(DeliveryWindow),
		StatusHistory:     append([]StatusChange(nil), order.StatusHistory...),
	}
}
