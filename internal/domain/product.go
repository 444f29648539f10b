package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultMinStock — порог дозаказа для товаров, у которых он не задан.
const DefaultMinStock = 10

// Product — складская единица, которой владеет внешний каталог товаров.
// Ядро меняет только Stock.
type Product struct {
	ID       string
	Name     string
	ImageURL string
	Price    decimal.Decimal
	Stock    int
	MinStock int
	IsActive bool
	// DistributorID — владелец карточки товара, ядро его не интерпретирует.
	DistributorID string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Purchasable сообщает, можно ли добавлять товар в корзину и заказ.
func (p Product) Purchasable() bool {
	return p.IsActive
}

// LowStock сообщает, что остаток опустился до порога дозаказа.
func (p Product) LowStock() bool {
	return p.Stock <= p.MinStock
}

// Snapshot возвращает данные товара, которые показываются в корзине.
func (p Product) Snapshot() ProductSnapshot {
	return ProductSnapshot{
		Name:     p.Name,
		Price:    p.Price,
		Stock:    p.Stock,
		ImageURL: p.ImageURL,
		IsActive: p.IsActive,
	}
}

// ProductSnapshot — текущие данные товара на момент чтения корзины.
type ProductSnapshot struct {
	Name     string
	Price    decimal.Decimal
	Stock    int
	ImageURL string
	IsActive bool
}
