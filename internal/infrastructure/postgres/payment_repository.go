package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sanosuguru/go-train-seat-reservation/internal/domain/payment"
	"github.com/sanosuguru/go-train-seat-reservation/internal/domain/transaction"
)

type transactionRow struct {
	ID            string     `db:"id"`
	TransactionID string     `db:"transaction_id"`
	JourneyID     string     `db:"journey_id"`
	Amount        int64      `db:"amount"`
	Currency      string     `db:"currency"`
	Status        string     `db:"status"`
	FailureReason string     `db:"failure_reason"`
	CreatedAt     time.Time  `db:"created_at"`
	CompletedAt   *time.Time `db:"completed_at"`
	ExpiresAt     time.Time  `db:"expires_at"`
	Version       int        `db:"version"`
}

func (r *transactionRow) toEntity() *payment.Transaction {
	return &payment.Transaction{
		ID:            r.ID,
		TransactionID: r.TransactionID,
		JourneyID:     r.JourneyID,
		Amount:        r.Amount,
		Currency:      r.Currency,
		Status:        payment.Status(r.Status),
		FailureReason: r.FailureReason,
		CreatedAt:     r.CreatedAt,
		CompletedAt:   r.CompletedAt,
		ExpiresAt:     r.ExpiresAt,
		Version:       r.Version,
	}
}

const transactionColumns = `id, transaction_id, journey_id, amount, currency, status, failure_reason, created_at, completed_at, expires_at, version`

type PaymentRepository struct{ db *sqlx.DB }

func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, tx transaction.Tx, t *payment.Transaction) error {
	query := `INSERT INTO payment_transactions (transaction_id, journey_id, amount, currency, status, failure_reason, created_at, expires_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`
	if err := UnwrapTx(tx).QueryRowContext(ctx, query,
		t.TransactionID, t.JourneyID, t.Amount, t.Currency,
		string(t.Status), t.FailureReason, t.CreatedAt, t.ExpiresAt, t.Version,
	).Scan(&t.ID); err != nil {
		if pgErr, ok := err.(*pq.Error); ok && pgErr.Code == "23505" {
			return uniqueViolationError(pgErr)
		}
		return fmt.Errorf("決済トランザクション作成に失敗: %w", err)
	}
	return nil
}

// uniqueViolationError は 23505 をドメインエラーに対応付ける
// ゲートウェイIDの重複と非終端トランザクションの重複はどちらも
// ユニーク違反で返るため、制約名で区別する
func uniqueViolationError(pgErr *pq.Error) error {
	if pgErr.Constraint == "payment_transactions_transaction_id_key" {
		return payment.ErrDuplicateTransactionID
	}
	return payment.ErrPendingTransactionExist
}

func (r *PaymentRepository) GetByTransactionID(ctx context.Context, transactionID string) (*payment.Transaction, error) {
	var row transactionRow
	query := `SELECT ` + transactionColumns + ` FROM payment_transactions WHERE transaction_id = $1`
	if err := r.db.GetContext(ctx, &row, query, transactionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, payment.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("決済トランザクション取得に失敗: %w", err)
	}
	return row.toEntity(), nil
}

func (r *PaymentRepository) GetByJourneyID(ctx context.Context, journeyID string) ([]*payment.Transaction, error) {
	var rows []transactionRow
	query := `SELECT ` + transactionColumns + ` FROM payment_transactions WHERE journey_id = $1 ORDER BY created_at DESC`
	if err := r.db.SelectContext(ctx, &rows, query, journeyID); err != nil {
		return nil, fmt.Errorf("決済履歴取得に失敗: %w", err)
	}
	txns := make([]*payment.Transaction, len(rows))
	for i, row := range rows {
		txns[i] = row.toEntity()
	}
	return txns, nil
}

func (r *PaymentRepository) Update(ctx context.Context, tx transaction.Tx, t *payment.Transaction) error {
	query := `UPDATE payment_transactions SET status = $1, failure_reason = $2, completed_at = $3, version = version + 1
		WHERE id = $4 AND version = $5`
	result, err := UnwrapTx(tx).ExecContext(ctx, query,
		string(t.Status), t.FailureReason, t.CompletedAt, t.ID, t.Version)
	if err != nil {
		return fmt.Errorf("決済トランザクション更新に失敗: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return payment.ErrTransactionTerminal
	}
	t.Version++
	return nil
}

func (r *PaymentRepository) GetExpiredPending(ctx context.Context, limit int) ([]*payment.Transaction, error) {
	var rows []transactionRow
	query := `SELECT ` + transactionColumns + ` FROM payment_transactions
		WHERE status IN ('initiated', 'processing') AND expires_at < NOW() ORDER BY expires_at LIMIT $1`
	if err := r.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("期限切れ決済取得に失敗: %w", err)
	}
	txns := make([]*payment.Transaction, len(rows))
	for i, row := range rows {
		txns[i] = row.toEntity()
	}
	return txns, nil
}

var _ payment.Repository = (*PaymentRepository)(nil)
