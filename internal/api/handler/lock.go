package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/sanosuguru/go-train-seat-reservation/internal/domain/idempotency"
	"github.com/sanosuguru/go-train-seat-reservation/internal/domain/seatlock"
)

// HeaderIdempotencyKey は冪等性キーのリクエストヘッダー名
const HeaderIdempotencyKey = "X-Idempotency-Key"

type LockHandler struct {
	service    LockServiceInterface
	runner     IdempotencyRunnerInterface
	defaultTTL time.Duration
	maxTTL     time.Duration
}

func NewLockHandler(s LockServiceInterface, r IdempotencyRunnerInterface, defaultTTL, maxTTL time.Duration) *LockHandler {
	return &LockHandler{service: s, runner: r, defaultTTL: defaultTTL, maxTTL: maxTTL}
}

type SeatRef struct {
	CoachNumber string `json:"coach_number" validate:"required" example:"A1"`
	SeatNumber  string `json:"seat_number" validate:"required" example:"21"`
}

type AcquireLockRequest struct {
	TrainNumber string    `json:"train_number" validate:"required" example:"12345"`
	JourneyDate string    `json:"journey_date" validate:"required,journeydate" example:"2026-09-15"`
	Seats       []SeatRef `json:"seats" validate:"required,min=1,max=6,dive"`
	TTLSeconds  int       `json:"ttl_seconds" validate:"omitempty,min=1" example:"180"`
}

type AcquireLockResponse struct {
	LockID    string    `json:"lock_id" example:"550e8400-e29b-41d4-a716-446655440000"`
	Granted   []string  `json:"granted" example:"A1-21,A1-22"`
	Denied    []string  `json:"denied,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

type ExtendLockRequest struct {
	TTLSeconds int `json:"ttl_seconds" validate:"omitempty,min=1" example:"180"`
}

type ExtendLockResponse struct {
	LockID    string    `json:"lock_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Acquire godoc
// @Summary 座席ロックを取得
// @Description 指定座席の短期排他ホールドを取得します。キーごとに独立に評価されます
// @Tags seats
// @Accept json
// @Produce json
// @Param X-Idempotency-Key header string false "冪等性キー"
// @Param request body AcquireLockRequest true "ロック対象の座席"
// @Success 200 {object} AcquireLockResponse
// @Failure 400 {object} api.ErrorResponse
// @Failure 409 {object} api.ErrorResponse "全座席がロックできない"
// @Router /seats/lock [put]
func (h *LockHandler) Acquire(c echo.Context) error {
	var req AcquireLockRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "無効なリクエスト")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	ttl := h.clampTTL(req.TTLSeconds)

	run := func(ctx context.Context) ([]byte, string, error) {
		lockID := uuid.New().String()
		result, err := h.service.Acquire(ctx, seatKeys(req.TrainNumber, req.JourneyDate, req.Seats), lockID, ttl)
		if err != nil {
			return nil, "", err
		}
		if len(result.Granted) == 0 {
			return nil, "", fmt.Errorf("%w: %s",
				seatlock.ErrSeatUnavailable, strings.Join(labels(result.Denied), ", "))
		}
		body, err := json.Marshal(AcquireLockResponse{
			LockID:    lockID,
			Granted:   labels(result.Granted),
			Denied:    labels(result.Denied),
			ExpiresAt: result.ExpiresAt,
		})
		if err != nil {
			return nil, "", err
		}
		return body, lockID, nil
	}

	key := c.Request().Header.Get(HeaderIdempotencyKey)
	if key == "" {
		// 冪等性キーなしは都度実行
		body, _, err := run(c.Request().Context())
		if err != nil {
			return err
		}
		return c.JSONBlob(http.StatusOK, body)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	result, err := h.runner.Run(c.Request().Context(), key, idempotency.OpAcquireLock, payload, run)
	if err != nil {
		return err
	}
	return c.JSONBlob(http.StatusOK, result.Response)
}

// Release godoc
// @Summary 座席ロックを解放
// @Description ロックIDが保持するロックをすべて解放し、在庫を戻します
// @Tags seats
// @Produce json
// @Param lockId path string true "ロックID"
// @Success 204 "解放済み（冪等）"
// @Failure 403 {object} api.ErrorResponse
// @Router /seats/lock/{lockId} [delete]
func (h *LockHandler) Release(c echo.Context) error {
	lockID := c.Param("lockId")
	if err := h.service.ReleaseHolder(c.Request().Context(), lockID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// Extend godoc
// @Summary 座席ロックを延長
// @Description ロックIDが保持する全ロックの期限を延長します
// @Tags seats
// @Accept json
// @Produce json
// @Param lockId path string true "ロックID"
// @Param request body ExtendLockRequest true "延長TTL"
// @Success 200 {object} ExtendLockResponse
// @Failure 404 {object} api.ErrorResponse
// @Failure 410 {object} api.ErrorResponse "期限切れ"
// @Router /seats/lock/{lockId}/extend [put]
func (h *LockHandler) Extend(c echo.Context) error {
	lockID := c.Param("lockId")
	var req ExtendLockRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "無効なリクエスト")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	expiresAt, err := h.service.ExtendHolder(c.Request().Context(), lockID, h.clampTTL(req.TTLSeconds))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ExtendLockResponse{LockID: lockID, ExpiresAt: expiresAt})
}

// clampTTL はリクエストのTTLを [既定値, 上限] に収める
func (h *LockHandler) clampTTL(seconds int) time.Duration {
	if seconds <= 0 {
		return h.defaultTTL
	}
	ttl := time.Duration(seconds) * time.Second
	if ttl > h.maxTTL {
		return h.maxTTL
	}
	return ttl
}

func seatKeys(trainNumber, journeyDate string, seats []SeatRef) []seatlock.SeatKey {
	keys := make([]seatlock.SeatKey, len(seats))
	for i, s := range seats {
		keys[i] = seatlock.SeatKey{
			TrainNumber: trainNumber,
			JourneyDate: journeyDate,
			CoachNumber: s.CoachNumber,
			SeatNumber:  s.SeatNumber,
		}
	}
	return keys
}

func labels(keys []seatlock.SeatKey) []string {
	if len(keys) == 0 {
		return nil
	}
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.CoachNumber + "-" + k.SeatNumber
	}
	return out
}
