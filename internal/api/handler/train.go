package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sanosuguru/go-train-seat-reservation/internal/application"
	"github.com/sanosuguru/go-train-seat-reservation/internal/domain/catalog"
)

type TrainHandler struct {
	service AvailabilityServiceInterface
}

func NewTrainHandler(s AvailabilityServiceInterface) *TrainHandler {
	return &TrainHandler{service: s}
}

type CoachResponse struct {
	CoachNumber string `json:"coach_number" example:"A1"`
	CoachClass  string `json:"coach_class" example:"2A"`
	TotalSeats  int    `json:"total_seats" example:"48"`
	BaseFare    int64  `json:"base_fare" example:"125000"`
}

type TrainResponse struct {
	TrainNumber   string          `json:"train_number" example:"12345"`
	TrainName     string          `json:"train_name" example:"ラジダニ急行"`
	SourceStation string          `json:"source_station" example:"NDLS"`
	DestStation   string          `json:"dest_station" example:"BCT"`
	DepartureTime string          `json:"departure_time" example:"16:25"`
	ArrivalTime   string          `json:"arrival_time" example:"08:15"`
	OperatingDays string          `json:"operating_days" example:"MON,WED,FRI"`
	IsActive      bool            `json:"is_active"`
	Coaches       []CoachResponse `json:"coaches"`
}

type CoachAvailabilityResponse struct {
	CoachNumber    string `json:"coach_number" example:"A1"`
	CoachClass     string `json:"coach_class" example:"2A"`
	TotalSeats     int    `json:"total_seats" example:"48"`
	AvailableSeats int    `json:"available_seats" example:"12"`
	BaseFare       int64  `json:"base_fare" example:"125000"`
}

type AvailabilityResponse struct {
	TrainNumber string                      `json:"train_number"`
	TrainName   string                      `json:"train_name"`
	JourneyDate string                      `json:"journey_date" example:"2026-09-15"`
	Coaches     []CoachAvailabilityResponse `json:"coaches"`
}

// GetByNumber godoc
// @Summary 列車を取得
// @Description 列車番号から列車情報と号車一覧を取得します
// @Tags trains
// @Produce json
// @Param trainNumber path string true "列車番号"
// @Success 200 {object} TrainResponse
// @Failure 404 {object} api.ErrorResponse
// @Router /trains/{trainNumber} [get]
func (h *TrainHandler) GetByNumber(c echo.Context) error {
	train, coaches, err := h.service.GetTrain(c.Request().Context(), c.Param("trainNumber"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toTrainResponse(train, coaches))
}

// Availability godoc
// @Summary 空席状況を取得
// @Description 列車・乗車日の号車ごとの空席数を返します
// @Tags trains
// @Produce json
// @Param trainNumber path string true "列車番号"
// @Param date query string true "乗車日 (YYYY-MM-DD)"
// @Param coachClass query string false "号車クラス (1A/2A/3A/SL/CC)"
// @Success 200 {object} AvailabilityResponse
// @Failure 400 {object} api.ErrorResponse
// @Failure 404 {object} api.ErrorResponse
// @Router /trains/{trainNumber}/availability [get]
func (h *TrainHandler) Availability(c echo.Context) error {
	date := c.QueryParam("date")
	if date == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "乗車日が必要です")
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "乗車日は YYYY-MM-DD 形式で指定してください")
	}

	availability, err := h.service.CheckAvailability(c.Request().Context(), c.Param("trainNumber"), date, c.QueryParam("coachClass"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toAvailabilityResponse(availability))
}

func toTrainResponse(t *catalog.Train, coaches []*catalog.Coach) TrainResponse {
	resp := TrainResponse{
		TrainNumber:   t.TrainNumber,
		TrainName:     t.TrainName,
		SourceStation: t.SourceStation,
		DestStation:   t.DestStation,
		DepartureTime: t.DepartureTime,
		ArrivalTime:   t.ArrivalTime,
		OperatingDays: t.OperatingDays,
		IsActive:      t.IsActive,
		Coaches:       make([]CoachResponse, len(coaches)),
	}
	for i, coach := range coaches {
		resp.Coaches[i] = CoachResponse{
			CoachNumber: coach.CoachNumber,
			CoachClass:  coach.CoachClass,
			TotalSeats:  coach.TotalSeats,
			BaseFare:    coach.BaseFare,
		}
	}
	return resp
}

func toAvailabilityResponse(a *application.TrainAvailability) AvailabilityResponse {
	resp := AvailabilityResponse{
		TrainNumber: a.TrainNumber,
		TrainName:   a.TrainName,
		JourneyDate: a.JourneyDate,
		Coaches:     make([]CoachAvailabilityResponse, len(a.Coaches)),
	}
	for i, coach := range a.Coaches {
		resp.Coaches[i] = CoachAvailabilityResponse{
			CoachNumber:    coach.CoachNumber,
			CoachClass:     coach.CoachClass,
			TotalSeats:     coach.TotalSeats,
			AvailableSeats: coach.AvailableSeats,
			BaseFare:       coach.BaseFare,
		}
	}
	return resp
}
