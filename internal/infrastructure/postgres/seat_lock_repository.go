package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sanosuguru/go-train-seat-reservation/internal/domain/seatlock"
	"github.com/sanosuguru/go-train-seat-reservation/internal/domain/transaction"
)

type seatLockRow struct {
	ID          string    `db:"id"`
	LockKey     string    `db:"lock_key"`
	TrainNumber string    `db:"train_number"`
	JourneyDate string    `db:"journey_date"`
	CoachNumber string    `db:"coach_number"`
	SeatNumber  string    `db:"seat_number"`
	Holder      string    `db:"holder"`
	LockedAt    time.Time `db:"locked_at"`
	ExpiresAt   time.Time `db:"expires_at"`
	Status      string    `db:"status"`
}

func (r *seatLockRow) toEntity() *seatlock.SeatLock {
	return &seatlock.SeatLock{
		ID: r.ID,
		Key: seatlock.SeatKey{
			TrainNumber: r.TrainNumber,
			JourneyDate: r.JourneyDate,
			CoachNumber: r.CoachNumber,
			SeatNumber:  r.SeatNumber,
		},
		Holder:    r.Holder,
		LockedAt:  r.LockedAt,
		ExpiresAt: r.ExpiresAt,
		Status:    seatlock.Status(r.Status),
	}
}

const seatLockColumns = `id, lock_key, train_number, journey_date, coach_number, seat_number, holder, locked_at, expires_at, status`

type SeatLockRepository struct{ db *sqlx.DB }

func NewSeatLockRepository(db *sqlx.DB) *SeatLockRepository {
	return &SeatLockRepository{db: db}
}

func (r *SeatLockRepository) CreateActive(ctx context.Context, tx transaction.Tx, lock *seatlock.SeatLock) error {
	query := `INSERT INTO seat_locks (lock_key, train_number, journey_date, coach_number, seat_number, holder, locked_at, expires_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'active') RETURNING id`
	err := UnwrapTx(tx).QueryRowContext(ctx, query,
		lock.Key.String(), lock.Key.TrainNumber, lock.Key.JourneyDate,
		lock.Key.CoachNumber, lock.Key.SeatNumber,
		lock.Holder, lock.LockedAt, lock.ExpiresAt,
	).Scan(&lock.ID)
	if err != nil {
		// アクティブロックの部分ユニークインデックス違反 = 既にロック済み
		if pgErr, ok := err.(*pq.Error); ok && pgErr.Code == "23505" {
			return seatlock.ErrSeatUnavailable
		}
		return fmt.Errorf("ロック作成に失敗: %w", err)
	}
	return nil
}

func (r *SeatLockRepository) GetActiveByKey(ctx context.Context, key seatlock.SeatKey) (*seatlock.SeatLock, error) {
	var row seatLockRow
	query := `SELECT ` + seatLockColumns + ` FROM seat_locks WHERE lock_key = $1 AND status = 'active'`
	if err := r.db.GetContext(ctx, &row, query, key.String()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, seatlock.ErrLockNotFound
		}
		return nil, fmt.Errorf("ロック取得に失敗: %w", err)
	}
	return row.toEntity(), nil
}

func (r *SeatLockRepository) GetActiveByHolder(ctx context.Context, holder string) ([]*seatlock.SeatLock, error) {
	var rows []seatLockRow
	query := `SELECT ` + seatLockColumns + ` FROM seat_locks WHERE holder = $1 AND status = 'active' ORDER BY lock_key`
	if err := r.db.SelectContext(ctx, &rows, query, holder); err != nil {
		return nil, fmt.Errorf("ロック一覧取得に失敗: %w", err)
	}
	locks := make([]*seatlock.SeatLock, len(rows))
	for i, row := range rows {
		locks[i] = row.toEntity()
	}
	return locks, nil
}

func (r *SeatLockRepository) Release(ctx context.Context, tx transaction.Tx, key seatlock.SeatKey, holder string) (bool, error) {
	query := `UPDATE seat_locks SET status = 'released' WHERE lock_key = $1 AND holder = $2 AND status = 'active'`
	result, err := UnwrapTx(tx).ExecContext(ctx, query, key.String(), holder)
	if err != nil {
		return false, fmt.Errorf("ロック解放に失敗: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows == 1, nil
}

func (r *SeatLockRepository) MarkExpired(ctx context.Context, tx transaction.Tx, id string) (bool, error) {
	query := `UPDATE seat_locks SET status = 'expired' WHERE id = $1 AND status = 'active' AND expires_at < NOW()`
	result, err := UnwrapTx(tx).ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("ロック失効に失敗: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows == 1, nil
}

func (r *SeatLockRepository) ExtendExpiry(ctx context.Context, key seatlock.SeatKey, holder string, expiresAt time.Time) (bool, error) {
	query := `UPDATE seat_locks SET expires_at = $1 WHERE lock_key = $2 AND holder = $3 AND status = 'active' AND expires_at > NOW()`
	result, err := r.db.ExecContext(ctx, query, expiresAt, key.String(), holder)
	if err != nil {
		return false, fmt.Errorf("ロック延長に失敗: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows == 1, nil
}

func (r *SeatLockRepository) GetExpiredActive(ctx context.Context, limit int) ([]*seatlock.SeatLock, error) {
	var rows []seatLockRow
	query := `SELECT ` + seatLockColumns + ` FROM seat_locks WHERE status = 'active' AND expires_at < NOW() ORDER BY expires_at LIMIT $1`
	if err := r.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("期限切れロック取得に失敗: %w", err)
	}
	locks := make([]*seatlock.SeatLock, len(rows))
	for i, row := range rows {
		locks[i] = row.toEntity()
	}
	return locks, nil
}

// ReleaseByHolder は保持者のアクティブロックをまとめて解放し、解放したキーを返す
// 予約確定・キャンセル時の一括処理に使う
func (r *SeatLockRepository) ReleaseByHolder(ctx context.Context, tx transaction.Tx, holder string, keys []string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	var released []string
	query := `UPDATE seat_locks SET status = 'released' WHERE holder = $1 AND lock_key = ANY($2) AND status = 'active' RETURNING lock_key`
	if err := UnwrapTx(tx).SelectContext(ctx, &released, query, holder, pq.Array(keys)); err != nil {
		return nil, fmt.Errorf("ロック一括解放に失敗: %w", err)
	}
	return released, nil
}

var _ seatlock.Repository = (*SeatLockRepository)(nil)
