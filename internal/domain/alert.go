package domain

import "time"

// DefaultCriticalThresholdPct — порог критичности по умолчанию.
const DefaultCriticalThresholdPct = 50

// AlertLevel — уровень складского предупреждения.
type AlertLevel string

const (
	AlertLevelCritical AlertLevel = "critical"
	AlertLevelWarning  AlertLevel = "warning"
)

// StockAlert — товар, остаток которого опустился до порога дозаказа.
type StockAlert struct {
	ProductID string
	Name      string
	Stock     int
	MinStock  int
	// StockPct — остаток в процентах от MinStock; 100 при MinStock == 0.
	StockPct float64
	Level    AlertLevel
}

// StockAlerts — результат оценки складских остатков.
type StockAlerts struct {
	Critical     []StockAlert
	Warning      []StockAlert
	ThresholdPct int
	GeneratedAt  time.Time
}

// TotalAlerts возвращает общее число предупреждений.
func (a StockAlerts) TotalAlerts() int {
	return len(a.Critical) + len(a.Warning)
}

// ClassifyStock относит товар с низким остатком к critical или warning.
// Сравнение ведётся в целых числах: stock*100 <= pct*min_stock.
// При min_stock == 0 товар никогда не считается критичным.
func ClassifyStock(p Product, thresholdPct int) StockAlert {
	alert := StockAlert{
		ProductID: p.ID,
		Name:      p.Name,
		Stock:     p.Stock,
		MinStock:  p.MinStock,
		StockPct:  100,
		Level:     AlertLevelWarning,
	}
	if p.MinStock <= 0 {
		return alert
	}

	alert.StockPct = float64(p.Stock) * 100 / float64(p.MinStock)
	if p.Stock*100 <= thresholdPct*p.MinStock {
		alert.Level = AlertLevelCritical
	}
	return alert
}
