package application

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"go.uber.org/zap"

	"github.com/sanosuguru/go-train-seat-reservation/internal/domain/idempotency"
	"github.com/sanosuguru/go-train-seat-reservation/internal/pkg/logger"
)

// IdempotentFunc は冪等に実行される本体処理
// 成功時はキャッシュされるレスポンスと関連エンティティIDを返す
type IdempotentFunc func(ctx context.Context) (response []byte, entityID string, err error)

// RunResult は冪等実行の結果
type RunResult struct {
	Response []byte
	Replayed bool // キャッシュからの再送か
}

// IdempotencyRunner はクライアント提供キーによる重複排除を行う実行器
// 初回はレコードを挿入して本体処理を実行し、再送には
// キャッシュ済みレスポンスをバイト単位でそのまま返す
type IdempotencyRunner struct {
	repo              idempotency.Repository
	processingTimeout time.Duration
}

func NewIdempotencyRunner(repo idempotency.Repository, processingTimeout time.Duration) *IdempotencyRunner {
	return &IdempotencyRunner{repo: repo, processingTimeout: processingTimeout}
}

// HashPayload はリクエストボディのSHA-256を16進文字列で返す
func HashPayload(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Run は冪等性キーのもとで fn を高々1回実行する
//   - 初回リクエスト: fn を実行し、結果をレコードにキャッシュする
//   - 同一リクエストの再送: キャッシュ済みレスポンスを返す（fn は呼ばない）
//   - 同一キーで異なるペイロード: ErrKeyConflict
//   - 処理中の再送: ErrRequestInProgress（放棄判定を超えた場合のみ奪取して再実行）
//   - 失敗済みレコードへの再送: 奪取してリトライを許す
func (r *IdempotencyRunner) Run(ctx context.Context, key string, op idempotency.OperationType, payload []byte, fn IdempotentFunc) (*RunResult, error) {
	hash := HashPayload(payload)
	rec := idempotency.NewRecord(key, hash, op)
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	inserted, err := r.repo.TryInsert(ctx, rec)
	if err != nil {
		return nil, err
	}
	if inserted {
		return r.execute(ctx, rec, fn)
	}

	existing, err := r.repo.GetByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if !existing.Matches(hash) {
		return nil, idempotency.ErrKeyConflict
	}

	switch existing.Status {
	case idempotency.StatusCompleted:
		return &RunResult{Response: existing.Response, Replayed: true}, nil

	case idempotency.StatusFailed:
		// 失敗はキャッシュしない。レコードを引き継いでリトライする
		return r.takeOverAndRun(ctx, existing, hash, fn)

	case idempotency.StatusProcessing:
		if !existing.IsAbandoned(r.processingTimeout) {
			return nil, idempotency.ErrRequestInProgress
		}
		return r.takeOverAndRun(ctx, existing, hash, fn)

	default:
		return nil, idempotency.ErrRecordNotFound
	}
}

func (r *IdempotencyRunner) takeOverAndRun(ctx context.Context, rec *idempotency.Record, hash string, fn IdempotentFunc) (*RunResult, error) {
	taken, err := r.repo.TakeOver(ctx, rec, hash)
	if err != nil {
		return nil, err
	}
	if !taken {
		// 別のリトライが先に引き継いだ
		return nil, idempotency.ErrRequestInProgress
	}
	return r.execute(ctx, rec, fn)
}

func (r *IdempotencyRunner) execute(ctx context.Context, rec *idempotency.Record, fn IdempotentFunc) (*RunResult, error) {
	response, entityID, err := fn(ctx)
	if err != nil {
		if failErr := rec.Fail(err.Error()); failErr == nil {
			if updErr := r.repo.Update(ctx, rec); updErr != nil {
				logger.Error("冪等性レコードの失敗記録に失敗",
					zap.String("key", rec.Key), zap.Error(updErr))
			}
		}
		return nil, err
	}

	if cmpErr := rec.Complete(response, entityID); cmpErr != nil {
		return nil, cmpErr
	}
	if err := r.repo.Update(ctx, rec); err != nil {
		// 本体処理は成功している。キャッシュ失敗はログのみで結果を返す
		logger.Error("冪等性レコードの完了記録に失敗",
			zap.String("key", rec.Key), zap.Error(err))
	}
	return &RunResult{Response: response}, nil
}
