package checkout

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// CodeGenerator выдаёт код заказа и трек-номер. Уникальность проверяет
// хранилище: при коллизии оформление повторяется с новыми кодами.
type CodeGenerator interface {
	OrderCode(now time.Time) string
	TrackingNumber() string
}

// UUIDCodes строит коды из случайных UUID.
type UUIDCodes struct{}

// OrderCode возвращает ORD-YYYYMMDD-XXXXXXXX.
func (UUIDCodes) OrderCode(now time.Time) string {
	return "ORD-" + now.UTC().Format("20060102") + "-" + strings.ToUpper(uuid.NewString()[:8])
}

// TrackingNumber возвращает TRK- и 12 шестнадцатеричных символов.
func (UUIDCodes) TrackingNumber() string {
	return "TRK-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}
