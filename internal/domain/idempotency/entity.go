package idempotency

import "time"

// Status は冪等性レコードの状態を表す
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// OperationType は冪等に扱う操作の種別
type OperationType string

const (
	OpAcquireLock     OperationType = "ACQUIRE_LOCK"
	OpBlockSeats      OperationType = "BLOCK_SEATS"
	OpInitiatePayment OperationType = "INITIATE_PAYMENT"
	OpConfirmBooking  OperationType = "CONFIRM_BOOKING"
	OpCancelBooking   OperationType = "CANCEL_BOOKING"
)

// RecordExpiration はレコードのTTL（デフォルト24時間）
const RecordExpiration = 24 * time.Hour

// Record はクライアント提供キーによる重複リクエストの排除レコード
// 同じキーで異なるペイロードハッシュはリプレイではなく競合として扱う
type Record struct {
	ID            string
	Key           string // クライアント提供の冪等性キー
	RequestHash   string // リクエストボディのSHA-256
	Response      []byte // キャッシュされたレスポンス（バイト単位で再送する）
	Status        Status
	OperationType OperationType
	EntityID      string // 関連する bookingReference / lockId
	ErrorMessage  string
	CreatedAt     time.Time
	ExpiresAt     time.Time
	Version       int // PROCESSING の奪取を直列化するための楽観的ロック
}

// NewRecord は新しい処理中レコードを作成する
func NewRecord(key, requestHash string, op OperationType) *Record {
	now := time.Now()
	return &Record{
		Key:           key,
		RequestHash:   requestHash,
		Status:        StatusProcessing,
		OperationType: op,
		CreatedAt:     now,
		ExpiresAt:     now.Add(RecordExpiration),
	}
}

// IsExpired はレコードのTTLが切れているかを返す
func (r *Record) IsExpired() bool {
	return time.Now().After(r.ExpiresAt)
}

// IsAbandoned は処理中のまま処理タイムアウトを超過しているかを返す
// 超過したレコードは放棄されたとみなし、リトライによる奪取を許す
func (r *Record) IsAbandoned(processingTimeout time.Duration) bool {
	return r.Status == StatusProcessing && time.Since(r.CreatedAt) > processingTimeout
}

// Matches は同じリクエストの再送かを返す
func (r *Record) Matches(requestHash string) bool {
	return r.RequestHash == requestHash
}

// Complete はレスポンスをキャッシュして完了にする
func (r *Record) Complete(response []byte, entityID string) error {
	if r.Status != StatusProcessing {
		return ErrRecordNotProcessing
	}
	r.Status = StatusCompleted
	r.Response = response
	r.EntityID = entityID
	return nil
}

// Fail は失敗として記録する
func (r *Record) Fail(errMsg string) error {
	if r.Status != StatusProcessing {
		return ErrRecordNotProcessing
	}
	r.Status = StatusFailed
	r.ErrorMessage = errMsg
	return nil
}

// Validate はレコードの検証を行う
func (r *Record) Validate() error {
	if r.Key == "" {
		return ErrKeyRequired
	}
	if r.RequestHash == "" {
		return ErrRequestHashRequired
	}
	if r.OperationType == "" {
		return ErrOperationTypeRequired
	}
	return nil
}
