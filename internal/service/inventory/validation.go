package inventory

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// productFields описывает ограничения карточки товара при приёме.
type productFields struct {
	ID       string          `json:"id" validate:"required,max=64"`
	Name     string          `json:"name" validate:"required,max=255"`
	ImageURL string          `json:"image_url" validate:"omitempty,max=2048"`
	Price    decimal.Decimal `json:"price" validate:"gte=0"`
	Stock    int             `json:"stock" validate:"gte=0"`
	MinStock int             `json:"min_stock" validate:"gte=0"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func productValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New()
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
			if name == "" || name == "-" {
				return fld.Name
			}
			return name
		})
		// decimal сравнивается как float64: точности хватает для проверки знака.
		v.RegisterCustomTypeFunc(func(field reflect.Value) any {
			if d, ok := field.Interface().(decimal.Decimal); ok {
				f, _ := d.Float64()
				return f
			}
			return nil
		}, decimal.Decimal{})
		validate = v
	})
	return validate
}

// validateProduct проверяет карточку и возвращает первую нарушенную
// проверку как ErrValidation.
func validateProduct(p domain.Product) error {
	err := productValidator().Struct(productFields{
		ID:       p.ID,
		Name:     p.Name,
		ImageURL: p.ImageURL,
		Price:    p.Price,
		Stock:    p.Stock,
		MinStock: p.MinStock,
	})
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return domain.Validationf("%v", err)
	}
	return domain.Validationf("%s", fieldMessage(verrs[0]))
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "product " + fe.Field() + " is required"
	case "gte":
		return fe.Field() + " must be non-negative"
	case "max":
		return fe.Field() + " must be at most " + fe.Param() + " characters"
	default:
		return fe.Field() + " is invalid"
	}
}
