package rest

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// Money сериализуется JSON-числом с двумя знаками после запятой.
type Money decimal.Decimal

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(decimal.Decimal(m).StringFixed(2)), nil
}

type addCartItemRequest struct {
	ProductID string `json:"product_id" binding:"required,max=128"`
	Quantity  int    `json:"quantity" binding:"required,gte=1"`
}

type setQuantityRequest struct {
	Quantity *int `json:"quantity" binding:"required"`
}

type checkoutRequest struct {
	DeliveryAddress string `json:"delivery_address" binding:"max=500"`
	PaymentMethod   string `json:"payment_method" binding:"max=32"`
}

type cancelRequest struct {
	Note string `json:"note" binding:"max=500"`
}

type transitionRequest struct {
	Status string `json:"status" binding:"required,order_status"`
	Note   string `json:"note" binding:"max=500"`
}

type productRequest struct {
	Name          string          `json:"name" binding:"required,max=200"`
	ImageURL      string          `json:"image_url" binding:"omitempty,url"`
	Price         decimal.Decimal `json:"price"`
	Stock         *int            `json:"stock" binding:"required,gte=0"`
	MinStock      *int            `json:"min_stock" binding:"omitempty,gte=0"`
	IsActive      *bool           `json:"is_active"`
	DistributorID string          `json:"distributor_id" binding:"max=128"`
}

func (r productRequest) toDomain(id string) domain.Product {
	p := domain.Product{
		ID:            id,
		Name:          r.Name,
		ImageURL:      r.ImageURL,
		Price:         r.Price,
		Stock:         *r.Stock,
		MinStock:      domain.DefaultMinStock,
		IsActive:      true,
		DistributorID: r.DistributorID,
	}
	if r.MinStock != nil {
		p.MinStock = *r.MinStock
	}
	if r.IsActive != nil {
		p.IsActive = *r.IsActive
	}
	return p
}

type productSnapshotResponse struct {
	Name     string `json:"name"`
	Price    Money  `json:"price"`
	Stock    int    `json:"stock"`
	ImageURL string `json:"image_url,omitempty"`
	IsActive bool   `json:"is_active"`
}

type cartItemResponse struct {
	ProductID string                   `json:"product_id"`
	Quantity  int                      `json:"quantity"`
	AddedAt   time.Time                `json:"added_at"`
	UpdatedAt time.Time                `json:"updated_at"`
	LineTotal Money                    `json:"line_total"`
	Product   *productSnapshotResponse `json:"product"`
}

type cartResponse struct {
	RetailerID  string             `json:"retailer_id"`
	Items       []cartItemResponse `json:"items"`
	TotalItems  int                `json:"total_items"`
	TotalAmount Money              `json:"total_amount"`
}

func newCartResponse(view domain.CartView) cartResponse {
	resp := cartResponse{
		RetailerID:  view.RetailerID,
		Items:       make([]cartItemResponse, 0, len(view.Items)),
		TotalItems:  view.TotalItems,
		TotalAmount: Money(view.TotalAmount),
	}
	for _, item := range view.Items {
		row := cartItemResponse{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			AddedAt:   item.AddedAt,
			UpdatedAt: item.UpdatedAt,
			LineTotal: Money(item.LineTotal()),
		}
		if item.Product != nil {
			row.Product = &productSnapshotResponse{
				Name:     item.Product.Name,
				Price:    Money(item.Product.Price),
				Stock:    item.Product.Stock,
				ImageURL: item.Product.ImageURL,
				IsActive: item.Product.IsActive,
			}
		}
		resp.Items = append(resp.Items, row)
	}
	return resp
}

type cartEntryResponse struct {
	RetailerID string    `json:"retailer_id"`
	ProductID  string    `json:"product_id"`
	Quantity   int       `json:"quantity"`
	AddedAt    time.Time `json:"added_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func newCartEntryResponse(e domain.CartEntry) cartEntryResponse {
	return cartEntryResponse{
		RetailerID: e.RetailerID,
		ProductID:  e.ProductID,
		Quantity:   e.Quantity,
		AddedAt:    e.AddedAt,
		UpdatedAt:  e.UpdatedAt,
	}
}

type orderItemResponse struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	UnitPrice   Money  `json:"unit_price"`
	Total       Money  `json:"total"`
}

type statusChangeResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Note      string    `json:"note,omitempty"`
}

type orderResponse struct {
	ID              string                 `json:"id"`
	OrderCode       string                 `json:"order_code"`
	RetailerID      string                 `json:"retailer_id"`
	Items           []orderItemResponse    `json:"items"`
	TotalAmount     Money                  `json:"total_amount"`
	Status          string                 `json:"status"`
	StatusHistory   []statusChangeResponse `json:"status_history"`
	TrackingNumber  string                 `json:"tracking_number"`
	PaymentStatus   string                 `json:"payment_status"`
	PaymentMethod   string                 `json:"payment_method"`
	DeliveryAddress string                 `json:"delivery_address"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

func newHistoryResponse(history []domain.StatusChange) []statusChangeResponse {
	out := make([]statusChangeResponse, 0, len(history))
	for _, h := range history {
		out = append(out, statusChangeResponse{Status: string(h.Status), Timestamp: h.Timestamp, Note: h.Note})
	}
	return out
}

func newOrderResponse(o domain.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, orderItemResponse{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   Money(item.UnitPrice),
			Total:       Money(item.Total),
		})
	}
	return orderResponse{
		ID:              o.ID,
		OrderCode:       o.Code,
		RetailerID:      o.RetailerID,
		Items:           items,
		TotalAmount:     Money(o.TotalAmount),
		Status:          string(o.Status),
		StatusHistory:   newHistoryResponse(o.StatusHistory),
		TrackingNumber:  o.TrackingNumber,
		PaymentStatus:   o.PaymentStatus,
		PaymentMethod:   o.PaymentMethod,
		DeliveryAddress: o.DeliveryAddress,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}

type paginationResponse struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

type orderPageResponse struct {
	Orders     []orderResponse    `json:"orders"`
	Pagination paginationResponse `json:"pagination"`
}

func newOrderPageResponse(page domain.OrderPage) orderPageResponse {
	orders := make([]orderResponse, 0, len(page.Orders))
	for _, o := range page.Orders {
		orders = append(orders, newOrderResponse(o))
	}
	return orderPageResponse{
		Orders: orders,
		Pagination: paginationResponse{
			Page:  page.Pagination.Page,
			Limit: page.Pagination.Limit,
			Total: page.Pagination.Total,
			Pages: page.Pagination.Pages,
		},
	}
}

type trackingResponse struct {
	OrderID           string                 `json:"order_id"`
	OrderCode         string                 `json:"order_code"`
	TrackingNumber    string                 `json:"tracking_number"`
	Status            string                 `json:"status"`
	CurrentLocation   string                 `json:"current_location"`
	EstimatedDelivery time.Time              `json:"estimated_delivery"`
	StatusHistory     []statusChangeResponse `json:"status_history"`
}

func newTrackingResponse(v domain.TrackingView) trackingResponse {
	return trackingResponse{
		OrderID:           v.OrderID,
		OrderCode:         v.OrderCode,
		TrackingNumber:    v.TrackingNumber,
		Status:            string(v.Status),
		CurrentLocation:   v.CurrentLocation,
		EstimatedDelivery: v.EstimatedDelivery,
		StatusHistory:     newHistoryResponse(v.StatusHistory),
	}
}

type stockAlertResponse struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	Stock     int     `json:"stock"`
	MinStock  int     `json:"min_stock"`
	StockPct  float64 `json:"stock_pct"`
}

type stockAlertsResponse struct {
	Critical     []stockAlertResponse `json:"critical"`
	Warning      []stockAlertResponse `json:"warning"`
	TotalAlerts  int                  `json:"total_alerts"`
	ThresholdPct int                  `json:"threshold_pct"`
	GeneratedAt  time.Time            `json:"generated_at"`
}

func newAlertRows(alerts []domain.StockAlert) []stockAlertResponse {
	out := make([]stockAlertResponse, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, stockAlertResponse{
			ProductID: a.ProductID,
			Name:      a.Name,
			Stock:     a.Stock,
			MinStock:  a.MinStock,
			StockPct:  a.StockPct,
		})
	}
	return out
}

func newStockAlertsResponse(a domain.StockAlerts) stockAlertsResponse {
	return stockAlertsResponse{
		Critical:     newAlertRows(a.Critical),
		Warning:      newAlertRows(a.Warning),
		TotalAlerts:  a.TotalAlerts(),
		ThresholdPct: a.ThresholdPct,
		GeneratedAt:  a.GeneratedAt,
	}
}

type productResponse struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	ImageURL      string    `json:"image_url,omitempty"`
	Price         Money     `json:"price"`
	Stock         int       `json:"stock"`
	MinStock      int       `json:"min_stock"`
	IsActive      bool      `json:"is_active"`
	DistributorID string    `json:"distributor_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func newProductResponse(p domain.Product) productResponse {
	return productResponse{
		ID:            p.ID,
		Name:          p.Name,
		ImageURL:      p.ImageURL,
		Price:         Money(p.Price),
		Stock:         p.Stock,
		MinStock:      p.MinStock,
		IsActive:      p.IsActive,
		DistributorID: p.DistributorID,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}
