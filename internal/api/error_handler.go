package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/sanosuguru/go-train-seat-reservation/internal/domain/catalog"
	"github.com/sanosuguru/go-train-seat-reservation/internal/domain/idempotency"
	"github.com/sanosuguru/go-train-seat-reservation/internal/domain/inventory"
	"github.com/sanosuguru/go-train-seat-reservation/internal/domain/journey"
	"github.com/sanosuguru/go-train-seat-reservation/internal/domain/payment"
	"github.com/sanosuguru/go-train-seat-reservation/internal/domain/seatlock"
	"github.com/sanosuguru/go-train-seat-reservation/internal/pkg/logger"
)

// ErrorResponse はエラーレスポンスの統一フォーマット
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// HTTPStatus はドメインエラーをHTTPステータスコードに対応付ける
// ハンドラーはドメインエラーをそのまま返してよい
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, journey.ErrJourneyNotFound),
		errors.Is(err, catalog.ErrTrainNotFound),
		errors.Is(err, catalog.ErrCoachNotFound),
		errors.Is(err, seatlock.ErrLockNotFound),
		errors.Is(err, payment.ErrTransactionNotFound),
		errors.Is(err, inventory.ErrCounterNotFound):
		return http.StatusNotFound

	case errors.Is(err, seatlock.ErrSeatUnavailable),
		errors.Is(err, journey.ErrInvalidState),
		errors.Is(err, journey.ErrConcurrentModification),
		errors.Is(err, payment.ErrPendingTransactionExist),
		errors.Is(err, payment.ErrDuplicateTransactionID),
		errors.Is(err, catalog.ErrTrainNotBookable),
		errors.Is(err, idempotency.ErrKeyConflict),
		errors.Is(err, idempotency.ErrRequestInProgress):
		return http.StatusConflict

	case errors.Is(err, seatlock.ErrLockNotOwned):
		return http.StatusForbidden

	case errors.Is(err, journey.ErrBlockExpired),
		errors.Is(err, seatlock.ErrLockExpired),
		errors.Is(err, seatlock.ErrLockNotActive):
		return http.StatusGone

	case errors.Is(err, journey.ErrFareMismatch),
		errors.Is(err, journey.ErrNoSeatsRequested),
		errors.Is(err, journey.ErrTooManySeats),
		errors.Is(err, journey.ErrDuplicateSeats),
		errors.Is(err, journey.ErrTicketNotBlocked),
		errors.Is(err, payment.ErrRefundNotAllowed):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// CustomHTTPErrorHandler はカスタムエラーハンドラー
// echo.HTTPError はそのまま、ドメインエラーは HTTPStatus の対応表で返す
func CustomHTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var (
		code    int
		message string
	)

	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			message = m
		} else {
			message = http.StatusText(code)
		}
	} else {
		code = HTTPStatus(err)
		if code == http.StatusInternalServerError {
			message = "内部サーバーエラー"
		} else {
			message = err.Error()
		}
	}

	// 5xx エラーのみサーバーログに残す
	if code >= 500 {
		logger.Error("サーバーエラー",
			zap.Int("status", code),
			zap.String("path", c.Request().URL.Path),
			zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			zap.Error(err),
		)
	}

	if err := c.JSON(code, ErrorResponse{
		Error: message,
		Code:  code,
	}); err != nil {
		logger.Error("エラーレスポンス送信失敗", zap.Error(err))
	}
}
