package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sanosuguru/go-train-seat-reservation/internal/domain/idempotency"
)

type idempotencyRow struct {
	ID            string    `db:"id"`
	Key           string    `db:"idempotency_key"`
	RequestHash   string    `db:"request_hash"`
	Response      []byte    `db:"response_body"`
	Status        string    `db:"status"`
	OperationType string    `db:"operation_type"`
	EntityID      string    `db:"entity_id"`
	ErrorMessage  string    `db:"error_message"`
	CreatedAt     time.Time `db:"created_at"`
	ExpiresAt     time.Time `db:"expires_at"`
	Version       int       `db:"version"`
}

func (r *idempotencyRow) toEntity() *idempotency.Record {
	return &idempotency.Record{
		ID:            r.ID,
		Key:           r.Key,
		RequestHash:   r.RequestHash,
		Response:      r.Response,
		Status:        idempotency.Status(r.Status),
		OperationType: idempotency.OperationType(r.OperationType),
		EntityID:      r.EntityID,
		ErrorMessage:  r.ErrorMessage,
		CreatedAt:     r.CreatedAt,
		ExpiresAt:     r.ExpiresAt,
		Version:       r.Version,
	}
}

const idempotencyColumns = `id, idempotency_key, request_hash, response_body, status, operation_type, entity_id, error_message, created_at, expires_at, version`

type IdempotencyRepository struct{ db *sqlx.DB }

func NewIdempotencyRepository(db *sqlx.DB) *IdempotencyRepository {
	return &IdempotencyRepository{db: db}
}

// TryInsert は ON CONFLICT DO NOTHING で挿入を試みる
// RETURNING が空なら既存レコードあり
func (r *IdempotencyRepository) TryInsert(ctx context.Context, rec *idempotency.Record) (bool, error) {
	query := `INSERT INTO idempotency_records (idempotency_key, request_hash, status, operation_type, entity_id, error_message, created_at, expires_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (idempotency_key) DO NOTHING RETURNING id`
	err := r.db.QueryRowContext(ctx, query,
		rec.Key, rec.RequestHash, string(rec.Status), string(rec.OperationType),
		rec.EntityID, rec.ErrorMessage, rec.CreatedAt, rec.ExpiresAt, rec.Version,
	).Scan(&rec.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("冪等性レコード挿入に失敗: %w", err)
	}
	return true, nil
}

func (r *IdempotencyRepository) GetByKey(ctx context.Context, key string) (*idempotency.Record, error) {
	var row idempotencyRow
	query := `SELECT ` + idempotencyColumns + ` FROM idempotency_records WHERE idempotency_key = $1`
	if err := r.db.GetContext(ctx, &row, query, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, idempotency.ErrRecordNotFound
		}
		return nil, fmt.Errorf("冪等性レコード取得に失敗: %w", err)
	}
	return row.toEntity(), nil
}

func (r *IdempotencyRepository) Update(ctx context.Context, rec *idempotency.Record) error {
	query := `UPDATE idempotency_records SET response_body = $1, status = $2, entity_id = $3, error_message = $4, version = version + 1
		WHERE id = $5 AND version = $6`
	result, err := r.db.ExecContext(ctx, query,
		rec.Response, string(rec.Status), rec.EntityID, rec.ErrorMessage, rec.ID, rec.Version)
	if err != nil {
		return fmt.Errorf("冪等性レコード更新に失敗: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return idempotency.ErrRecordNotFound
	}
	rec.Version++
	return nil
}

// TakeOver は放棄された処理中・失敗済みレコードをバージョン確認付きで引き継ぐ
func (r *IdempotencyRepository) TakeOver(ctx context.Context, rec *idempotency.Record, newHash string) (bool, error) {
	query := `UPDATE idempotency_records SET request_hash = $1, status = 'processing', created_at = NOW(), version = version + 1
		WHERE id = $2 AND version = $3 AND status IN ('processing', 'failed')`
	result, err := r.db.ExecContext(ctx, query, newHash, rec.ID, rec.Version)
	if err != nil {
		return false, fmt.Errorf("冪等性レコード引き継ぎに失敗: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return false, nil
	}
	rec.Version++
	rec.RequestHash = newHash
	rec.Status = idempotency.StatusProcessing
	return true, nil
}

func (r *IdempotencyRepository) PurgeExpired(ctx context.Context) (int, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM idempotency_records WHERE expires_at < NOW()`)
	if err != nil {
		return 0, fmt.Errorf("冪等性レコード削除に失敗: %w", err)
	}
	rows, _ := result.RowsAffected()
	return int(rows), nil
}

var _ idempotency.Repository = (*IdempotencyRepository)(nil)
