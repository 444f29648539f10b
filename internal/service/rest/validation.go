package rest

import (
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

var registerValidators sync.Once

// registerOrderStatusValidator добавляет тег order_status в валидатор gin.
func registerOrderStatusValidator() {
	registerValidators.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("order_status", func(fl validator.FieldLevel) bool {
			return domain.OrderStatus(fl.Field().String()).Valid()
		})
	})
}

// bindJSON разбирает тело и отвечает 400, если оно некорректно.
// Неизвестный статус заказа получает отдельный код invalid_status.
func (h *Handler) bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				if fe.Tag() == "order_status" {
					c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{
						Code:    "invalid_status",
						Message: fmt.Sprintf("%s: %v", domain.ErrInvalidStatus, fe.Value()),
					})
					return false
				}
			}
		}
		h.writeBindError(c, err)
		return false
	}
	return true
}
