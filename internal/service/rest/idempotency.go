package rest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"
	maxIdempotencyKey = 128
)

// bodyRecorder копирует ответ, чтобы сохранить его под ключом идемпотентности.
type bodyRecorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *bodyRecorder) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *bodyRecorder) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// idempotent повторяет сохранённый ответ для того же ключа и тела запроса.
// Ключ действует в пределах пользователя. Ответы 2xx и 4xx сохраняются,
// после 5xx ключ освобождается.
func (h *Handler) idempotent() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(idempotencyHeader))
		if key == "" || h.idempotency == nil {
			c.Next()
			return
		}
		if len(key) > maxIdempotencyKey {
			h.writeError(c, domain.Validationf("%s must be at most %d characters", idempotencyHeader, maxIdempotencyKey))
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			h.writeError(c, domain.Validationf("read request body: %v", err))
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		principal := principalFrom(c)
		storeKey := principal.UserID + ":" + key
		ctx := c.Request.Context()

		record, err := h.idempotency.CreateProcessing(ctx, storeKey, requestHash(principal.UserID, body), h.now().Add(h.idempotencyTTL))
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrIdempotencyHashMismatch):
			c.AbortWithStatusJSON(http.StatusUnprocessableEntity, errorBody{
				Code:    "idempotency_key_reused",
				Message: domain.ErrIdempotencyHashMismatch.Error(),
			})
			return
		case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
			if record.Replayable() {
				h.logger.WithField("idempotency_key", key).Debug("replaying stored response")
				c.Header(replayedHeader, "true")
				c.Data(record.HTTPStatus, "application/json; charset=utf-8", record.ResponseBody)
				c.Abort()
				return
			}
			c.AbortWithStatusJSON(http.StatusConflict, errorBody{
				Code:    "idempotency_in_progress",
				Message: "request with this idempotency key is still processing",
			})
			return
		default:
			h.writeError(c, err)
			return
		}

		recorder := &bodyRecorder{ResponseWriter: c.Writer}
		c.Writer = recorder
		c.Next()

		// ответ уже отправлен, запись должна сохраниться даже после отмены запроса
		saveCtx := context.WithoutCancel(ctx)
		status := recorder.Status()
		switch {
		case status < http.StatusBadRequest:
			err = h.idempotency.MarkDone(saveCtx, storeKey, recorder.body.Bytes(), status)
		case status < http.StatusInternalServerError:
			err = h.idempotency.MarkFailed(saveCtx, storeKey, recorder.body.Bytes(), status)
		default:
			// сбой сервера не окончателен: повтор с тем же ключом выполняется заново
			err = h.idempotency.Release(saveCtx, storeKey)
		}
		if err != nil {
			h.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotent response")
		}
	}
}

func requestHash(userID string, body []byte) string {
	sum := sha256.New()
	sum.Write([]byte(userID))
	sum.Write([]byte{0})
	sum.Write(body)
	return hex.EncodeToString(sum.Sum(nil))
}
