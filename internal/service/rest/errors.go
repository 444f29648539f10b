package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	ProductID string `json:"product_id,omitempty"`
	Requested *int   `json:"requested,omitempty"`
	Available *int   `json:"available,omitempty"`
}

// mapError переводит ошибку ядра в HTTP-статус и стабильный код ответа.
func mapError(err error) (int, errorBody) {
	var stockErr *domain.StockError
	switch {
	case errors.As(err, &stockErr):
		requested, available := stockErr.Requested, stockErr.Available
		return http.StatusConflict, errorBody{
			Code:      "insufficient_stock",
			Message:   err.Error(),
			ProductID: stockErr.ProductID,
			Requested: &requested,
			Available: &available,
		}
	case errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusConflict, errorBody{Code: "insufficient_stock", Message: err.Error()}
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, errorBody{Code: "not_found", Message: err.Error()}
	case errors.Is(err, domain.ErrEmptyCart):
		return http.StatusBadRequest, errorBody{Code: "empty_cart", Message: err.Error()}
	case errors.Is(err, domain.ErrInvalidStatus):
		return http.StatusBadRequest, errorBody{Code: "invalid_status", Message: err.Error()}
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict, errorBody{Code: "invalid_transition", Message: err.Error()}
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, errorBody{Code: "validation_error", Message: err.Error()}
	case errors.Is(err, domain.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, errorBody{Code: "storage_unavailable", Message: "storage is temporarily unavailable"}
	default:
		return http.StatusInternalServerError, errorBody{Code: "internal", Message: "internal error"}
	}
}

// writeError отвечает клиенту и пишет в лог только серверные ошибки.
func (h *Handler) writeError(c *gin.Context, err error) {
	status, body := mapError(err)
	entry := h.logger.WithError(err).WithField("path", c.FullPath())
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Debug("request rejected")
	}
	c.AbortWithStatusJSON(status, body)
}

func (h *Handler) writeBindError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{Code: "validation_error", Message: err.Error()})
}
