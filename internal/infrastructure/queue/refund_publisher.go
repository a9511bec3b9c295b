// Package queue は返金要求イベントをRabbitMQへ発行する
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/sanosuguru/go-train-seat-reservation/internal/config"
	"github.com/sanosuguru/go-train-seat-reservation/internal/pkg/logger"
)

// RefundRequestedEvent は確定済み予約のキャンセル時に発行されるイベント
// 下流の返金処理がゲートウェイへの返金を行う
type RefundRequestedEvent struct {
	CancellationID   string `json:"cancellation_id"`
	BookingReference string `json:"booking_reference"`
	JourneyID        string `json:"journey_id"`
	TransactionID    string `json:"transaction_id"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	Reason           string `json:"reason"`
	RequestedAt      string `json:"requested_at"`
}

// RefundPublisher は返金要求イベントの発行を担う
type RefundPublisher struct {
	conn      *amqp.Connection
	queueName string
}

// NewRefundPublisher はRabbitMQへ接続し、耐久キューを宣言する
func NewRefundPublisher(cfg *config.QueueConfig) (*RefundPublisher, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("RabbitMQ接続に失敗しました: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("チャネル作成に失敗しました: %w", err)
	}
	defer ch.Close()

	// キューを宣言（冪等）。耐久化してブローカー再起動に耐える
	if _, err := ch.QueueDeclare(cfg.RefundQueueName, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("キュー宣言に失敗しました: %w", err)
	}

	return &RefundPublisher{conn: conn, queueName: cfg.RefundQueueName}, nil
}

// Publish は返金要求イベントを発行する
// 発行失敗は呼び出し側でログのみに留め、キャンセル自体は成立させる
func (p *RefundPublisher) Publish(ctx context.Context, event RefundRequestedEvent) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("チャネル作成に失敗: %w", err)
	}
	defer ch.Close()

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("イベントのシリアライズに失敗: %w", err)
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}

	if err := ch.PublishWithContext(ctx, "", p.queueName, false, false, pub); err != nil {
		return fmt.Errorf("イベント発行に失敗: %w", err)
	}

	logger.Debug("返金要求イベントを発行",
		zap.String("booking_reference", event.BookingReference),
		zap.String("transaction_id", event.TransactionID),
	)
	return nil
}

// Close は接続を閉じる
func (p *RefundPublisher) Close() error {
	return p.conn.Close()
}
