package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/sanosuguru/go-train-seat-reservation/internal/domain/inventory"
	"github.com/sanosuguru/go-train-seat-reservation/internal/domain/transaction"
)

type counterRow struct {
	TrainNumber string `db:"train_number"`
	JourneyDate string `db:"journey_date"`
	CoachNumber string `db:"coach_number"`
	CoachClass  string `db:"coach_class"`
	TotalSeats  int    `db:"total_seats"`
	Available   int    `db:"available_seats"`
}

func (r *counterRow) toEntity() *inventory.Counter {
	return &inventory.Counter{
		Key: inventory.CounterKey{
			TrainNumber: r.TrainNumber,
			JourneyDate: r.JourneyDate,
			CoachNumber: r.CoachNumber,
		},
		CoachClass: r.CoachClass,
		TotalSeats: r.TotalSeats,
		Available:  r.Available,
	}
}

type InventoryRepository struct{ db *sqlx.DB }

func NewInventoryRepository(db *sqlx.DB) *InventoryRepository {
	return &InventoryRepository{db: db}
}

func (r *InventoryRepository) Create(ctx context.Context, c *inventory.Counter) error {
	query := `INSERT INTO inventory_counters (train_number, journey_date, coach_number, coach_class, total_seats, available_seats)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (train_number, journey_date, coach_number) DO NOTHING`
	_, err := r.db.ExecContext(ctx, query,
		c.Key.TrainNumber, c.Key.JourneyDate, c.Key.CoachNumber,
		c.CoachClass, c.TotalSeats, c.Available)
	if err != nil {
		return fmt.Errorf("在庫カウンタ作成に失敗: %w", err)
	}
	return nil
}

func (r *InventoryRepository) Get(ctx context.Context, key inventory.CounterKey) (*inventory.Counter, error) {
	var row counterRow
	query := `SELECT train_number, journey_date, coach_number, coach_class, total_seats, available_seats
		FROM inventory_counters WHERE train_number = $1 AND journey_date = $2 AND coach_number = $3`
	if err := r.db.GetContext(ctx, &row, query, key.TrainNumber, key.JourneyDate, key.CoachNumber); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, inventory.ErrCounterNotFound
		}
		return nil, fmt.Errorf("在庫カウンタ取得に失敗: %w", err)
	}
	return row.toEntity(), nil
}

func (r *InventoryRepository) GetByTrainDate(ctx context.Context, trainNumber, journeyDate string) ([]*inventory.Counter, error) {
	var rows []counterRow
	query := `SELECT train_number, journey_date, coach_number, coach_class, total_seats, available_seats
		FROM inventory_counters WHERE train_number = $1 AND journey_date = $2 ORDER BY coach_number`
	if err := r.db.SelectContext(ctx, &rows, query, trainNumber, journeyDate); err != nil {
		return nil, fmt.Errorf("在庫カウンタ一覧取得に失敗: %w", err)
	}
	counters := make([]*inventory.Counter, len(rows))
	for i, row := range rows {
		counters[i] = row.toEntity()
	}
	return counters, nil
}

// TryDecrement は条件付きUPDATEで空席数を減らす
// available > 0 の行のみが対象なので 0 未満には決してならない
func (r *InventoryRepository) TryDecrement(ctx context.Context, tx transaction.Tx, key inventory.CounterKey) (bool, error) {
	query := `UPDATE inventory_counters SET available_seats = available_seats - 1
		WHERE train_number = $1 AND journey_date = $2 AND coach_number = $3 AND available_seats > 0`
	result, err := UnwrapTx(tx).ExecContext(ctx, query, key.TrainNumber, key.JourneyDate, key.CoachNumber)
	if err != nil {
		return false, fmt.Errorf("在庫減算に失敗: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows == 1, nil
}

// Increment は total を超えない範囲で空席数を増やす
func (r *InventoryRepository) Increment(ctx context.Context, tx transaction.Tx, key inventory.CounterKey) error {
	query := `UPDATE inventory_counters SET available_seats = available_seats + 1
		WHERE train_number = $1 AND journey_date = $2 AND coach_number = $3 AND available_seats < total_seats`
	if _, err := UnwrapTx(tx).ExecContext(ctx, query, key.TrainNumber, key.JourneyDate, key.CoachNumber); err != nil {
		return fmt.Errorf("在庫加算に失敗: %w", err)
	}
	return nil
}

var _ inventory.Repository = (*InventoryRepository)(nil)
