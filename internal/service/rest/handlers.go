package rest

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/service/checkout"
)

func (h *Handler) viewCart(c *gin.Context) {
	view, err := h.svc.Cart.View(c.Request.Context(), principalFrom(c).UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newCartResponse(view))
}

func (h *Handler) addCartItem(c *gin.Context) {
	var req addCartItemRequest
	if !h.bindJSON(c, &req) {
		return
	}
	entry, err := h.svc.Cart.Add(c.Request.Context(), principalFrom(c).UserID, req.ProductID, req.Quantity)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newCartEntryResponse(entry))
}

func (h *Handler) setCartQuantity(c *gin.Context) {
	var req setQuantityRequest
	if !h.bindJSON(c, &req) {
		return
	}
	entry, kept, err := h.svc.Cart.SetQuantity(c.Request.Context(), principalFrom(c).UserID, c.Param("product_id"), *req.Quantity)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if !kept {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, newCartEntryResponse(entry))
}

func (h *Handler) removeCartItem(c *gin.Context) {
	if err := h.svc.Cart.Remove(c.Request.Context(), principalFrom(c).UserID, c.Param("product_id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) checkout(c *gin.Context) {
	var req checkoutRequest
	if !h.bindJSON(c, &req) {
		return
	}
	order, err := h.svc.Checkout.Checkout(c.Request.Context(), checkout.Request{
		RetailerID:      principalFrom(c).UserID,
		DeliveryAddress: req.DeliveryAddress,
		PaymentMethod:   req.PaymentMethod,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newOrderResponse(order))
}

func (h *Handler) listOrders(c *gin.Context) {
	// нечисловые page/limit заменяются значениями по умолчанию
	page, _ := strconv.Atoi(c.Query("page"))
	limit, _ := strconv.Atoi(c.Query("limit"))

	result, err := h.svc.Orders.List(c.Request.Context(), principalFrom(c).UserID, page, limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderPageResponse(result))
}

// loadOrder читает заказ с учётом роли: ритейлер видит только свои заказы.
func (h *Handler) loadOrder(c *gin.Context) (domain.Order, error) {
	principal := principalFrom(c)
	if principal.Role == RoleRetailer {
		return h.svc.Orders.GetForRetailer(c.Request.Context(), principal.UserID, c.Param("ref"))
	}
	return h.svc.Orders.Get(c.Request.Context(), c.Param("ref"))
}

func (h *Handler) getOrder(c *gin.Context) {
	order, err := h.loadOrder(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderResponse(order))
}

func (h *Handler) trackOrder(c *gin.Context) {
	order, err := h.loadOrder(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newTrackingResponse(domain.Track(order)))
}

func (h *Handler) cancelOrder(c *gin.Context) {
	var req cancelRequest
	if c.Request.ContentLength != 0 && !h.bindJSON(c, &req) {
		return
	}
	order, err := h.svc.Orders.CancelByRetailer(c.Request.Context(), principalFrom(c).UserID, c.Param("ref"), req.Note)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderResponse(order))
}

func (h *Handler) transitionOrder(c *gin.Context) {
	var req transitionRequest
	if !h.bindJSON(c, &req) {
		return
	}
	note := req.Note
	if note == "" {
		note = "Status changed by " + principalFrom(c).Role
	}
	order, err := h.svc.Orders.Transition(c.Request.Context(), c.Param("ref"), req.Status, note)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderResponse(order))
}

func (h *Handler) stockAlerts(c *gin.Context) {
	threshold := domain.DefaultCriticalThresholdPct
	if raw := strings.TrimSpace(c.Query("threshold_pct")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(c, domain.Validationf("threshold_pct must be an integer"))
			return
		}
		threshold = v
	}

	alerts, err := h.svc.Alerts.Evaluate(c.Request.Context(), threshold)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newStockAlertsResponse(alerts))
}

func (h *Handler) getProduct(c *gin.Context) {
	product, err := h.svc.Products.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newProductResponse(product))
}

func (h *Handler) upsertProduct(c *gin.Context) {
	var req productRequest
	if !h.bindJSON(c, &req) {
		return
	}
	product, err := h.svc.Products.Upsert(c.Request.Context(), req.toDomain(c.Param("id")))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newProductResponse(product))
}
