package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CartEntry — позиция корзины ритейлера. Ключ: (RetailerID, ProductID).
type CartEntry struct {
	RetailerID string
	ProductID  string
	Quantity   int
	AddedAt    time.Time
	UpdatedAt  time.Time
}

// CartItemView — позиция корзины вместе с актуальными данными товара.
// Product равен nil, если товар удалён из каталога.
type CartItemView struct {
	ProductID string
	Quantity  int
	AddedAt   time.Time
	UpdatedAt time.Time
	Product   *ProductSnapshot
}

// LineTotal возвращает стоимость позиции по текущей цене или ноль без товара.
func (i CartItemView) LineTotal() decimal.Decimal {
	if i.Product == nil {
		return decimal.Zero
	}
	return i.Product.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// CartView — содержимое корзины с агрегатами.
type CartView struct {
	RetailerID  string
	Items       []CartItemView
	TotalItems  int
	TotalAmount decimal.Decimal
}
