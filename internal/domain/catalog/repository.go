package catalog

import "context"

// Repository は列車カタログリポジトリのインターフェース
// 予約コアからは読み取り専用で参照する
type Repository interface {
	// GetTrain は列車番号から列車情報を取得する
	GetTrain(ctx context.Context, trainNumber string) (*Train, error)

	// GetCoaches は列車の号車一覧を取得する
	GetCoaches(ctx context.Context, trainNumber string) ([]*Coach, error)

	// GetCoach は列車番号と号車番号から号車を取得する
	GetCoach(ctx context.Context, trainNumber, coachNumber string) (*Coach, error)

	// GetCoachesByClass は号車クラスで絞り込んだ号車一覧を取得する
	GetCoachesByClass(ctx context.Context, trainNumber, coachClass string) ([]*Coach, error)
}
