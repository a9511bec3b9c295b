package payment

import "time"

// Status は決済トランザクションの状態を表す
type Status string

const (
	StatusInitiated     Status = "initiated"
	StatusProcessing    Status = "processing"
	StatusSuccess       Status = "success"
	StatusFailed        Status = "failed"
	StatusExpired       Status = "expired"
	StatusRefundPending Status = "refund_pending"
	StatusRefunded      Status = "refunded"
)

// IsTerminal は終端状態かを返す
// ジャーニーごとに非終端のトランザクションは同時に最大1件
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusExpired, StatusRefunded:
		return true
	}
	return false
}

// PaymentExpiration は決済の有効期限（デフォルト4分）
const PaymentExpiration = 4 * time.Minute

// Transaction はジャーニーに紐づく1回の決済試行を表す
type Transaction struct {
	ID            string
	TransactionID string // 決済ゲートウェイ側のID
	JourneyID     string
	Amount        int64
	Currency      string
	Status        Status
	FailureReason string
	CreatedAt     time.Time
	CompletedAt   *time.Time
	ExpiresAt     time.Time
	Version       int // 楽観的ロック用
}

// NewTransaction は新しい決済トランザクションを作成する
func NewTransaction(transactionID, journeyID string, amount int64) *Transaction {
	now := time.Now()
	return &Transaction{
		TransactionID: transactionID,
		JourneyID:     journeyID,
		Amount:        amount,
		Currency:      "INR",
		Status:        StatusInitiated,
		CreatedAt:     now,
		ExpiresAt:     now.Add(PaymentExpiration),
	}
}

// Succeed は決済成功を記録する
func (t *Transaction) Succeed() error {
	if t.Status.IsTerminal() {
		return ErrTransactionTerminal
	}
	now := time.Now()
	t.Status = StatusSuccess
	t.CompletedAt = &now
	return nil
}

// Fail は決済失敗を記録する
func (t *Transaction) Fail(reason string) error {
	if t.Status.IsTerminal() {
		return ErrTransactionTerminal
	}
	now := time.Now()
	t.Status = StatusFailed
	t.FailureReason = reason
	t.CompletedAt = &now
	return nil
}

// Expire は期限切れを記録する
func (t *Transaction) Expire() error {
	if t.Status.IsTerminal() {
		return ErrTransactionTerminal
	}
	if time.Now().Before(t.ExpiresAt) {
		return ErrTransactionNotExpired
	}
	t.Status = StatusExpired
	return nil
}

// RequestRefund は返金待ちへ遷移する（確定後キャンセル時）
func (t *Transaction) RequestRefund() error {
	if t.Status != StatusSuccess {
		return ErrRefundNotAllowed
	}
	t.Status = StatusRefundPending
	return nil
}

// Validate はトランザクションの検証を行う
func (t *Transaction) Validate() error {
	if t.TransactionID == "" {
		return ErrTransactionIDRequired
	}
	if t.JourneyID == "" {
		return ErrJourneyIDRequired
	}
	if t.Amount <= 0 {
		return ErrInvalidAmount
	}
	return nil
}
