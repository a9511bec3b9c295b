package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sanosuguru/go-train-seat-reservation/internal/domain/catalog"
)

type trainRow struct {
	ID            string    `db:"id"`
	TrainNumber   string    `db:"train_number"`
	TrainName     string    `db:"train_name"`
	SourceStation string    `db:"source_station"`
	DestStation   string    `db:"destination_station"`
	DepartureTime string    `db:"departure_time"`
	ArrivalTime   string    `db:"arrival_time"`
	OperatingDays string    `db:"operating_days"`
	IsActive      bool      `db:"is_active"`
	CreatedAt     time.Time `db:"created_at"`
}

type coachRow struct {
	ID          string `db:"id"`
	TrainNumber string `db:"train_number"`
	CoachNumber string `db:"coach_number"`
	CoachClass  string `db:"coach_class"`
	TotalSeats  int    `db:"total_seats"`
	BaseFare    int64  `db:"base_fare"`
}

func (r *trainRow) toEntity() *catalog.Train {
	return &catalog.Train{
		ID:            r.ID,
		TrainNumber:   r.TrainNumber,
		TrainName:     r.TrainName,
		SourceStation: r.SourceStation,
		DestStation:   r.DestStation,
		DepartureTime: r.DepartureTime,
		ArrivalTime:   r.ArrivalTime,
		OperatingDays: r.OperatingDays,
		IsActive:      r.IsActive,
		CreatedAt:     r.CreatedAt,
	}
}

func (r *coachRow) toEntity() *catalog.Coach {
	return &catalog.Coach{
		ID:          r.ID,
		TrainNumber: r.TrainNumber,
		CoachNumber: r.CoachNumber,
		CoachClass:  r.CoachClass,
		TotalSeats:  r.TotalSeats,
		BaseFare:    r.BaseFare,
	}
}

type CatalogRepository struct{ db *sqlx.DB }

func NewCatalogRepository(db *sqlx.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

func (r *CatalogRepository) GetTrain(ctx context.Context, trainNumber string) (*catalog.Train, error) {
	var row trainRow
	query := `SELECT id, train_number, train_name, source_station, destination_station, departure_time, arrival_time, operating_days, is_active, created_at
		FROM trains WHERE train_number = $1`
	if err := r.db.GetContext(ctx, &row, query, trainNumber); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, catalog.ErrTrainNotFound
		}
		return nil, fmt.Errorf("列車取得に失敗: %w", err)
	}
	return row.toEntity(), nil
}

func (r *CatalogRepository) GetCoaches(ctx context.Context, trainNumber string) ([]*catalog.Coach, error) {
	var rows []coachRow
	query := `SELECT id, train_number, coach_number, coach_class, total_seats, base_fare
		FROM coaches WHERE train_number = $1 ORDER BY coach_number`
	if err := r.db.SelectContext(ctx, &rows, query, trainNumber); err != nil {
		return nil, fmt.Errorf("号車一覧取得に失敗: %w", err)
	}
	coaches := make([]*catalog.Coach, len(rows))
	for i, row := range rows {
		coaches[i] = row.toEntity()
	}
	return coaches, nil
}

func (r *CatalogRepository) GetCoach(ctx context.Context, trainNumber, coachNumber string) (*catalog.Coach, error) {
	var row coachRow
	query := `SELECT id, train_number, coach_number, coach_class, total_seats, base_fare
		FROM coaches WHERE train_number = $1 AND coach_number = $2`
	if err := r.db.GetContext(ctx, &row, query, trainNumber, coachNumber); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, catalog.ErrCoachNotFound
		}
		return nil, fmt.Errorf("号車取得に失敗: %w", err)
	}
	return row.toEntity(), nil
}

func (r *CatalogRepository) GetCoachesByClass(ctx context.Context, trainNumber, coachClass string) ([]*catalog.Coach, error) {
	var rows []coachRow
	query := `SELECT id, train_number, coach_number, coach_class, total_seats, base_fare
		FROM coaches WHERE train_number = $1 AND coach_class = $2 ORDER BY coach_number`
	if err := r.db.SelectContext(ctx, &rows, query, trainNumber, coachClass); err != nil {
		return nil, fmt.Errorf("号車一覧取得に失敗: %w", err)
	}
	coaches := make([]*catalog.Coach, len(rows))
	for i, row := range rows {
		coaches[i] = row.toEntity()
	}
	return coaches, nil
}

var _ catalog.Repository = (*CatalogRepository)(nil)
