package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sanosuguru/go-train-seat-reservation/internal/domain/journey"
	"github.com/sanosuguru/go-train-seat-reservation/internal/domain/transaction"
)

type journeyRow struct {
	ID                 string     `db:"id"`
	BookingReference   string     `db:"booking_reference"`
	UserID             string     `db:"user_id"`
	TrainNumber        string     `db:"train_number"`
	SourceStation      string     `db:"source_station"`
	DestinationStation string     `db:"destination_station"`
	JourneyDate        string     `db:"journey_date"`
	Status             string     `db:"status"`
	TotalFare          int64      `db:"total_fare"`
	CreatedAt          time.Time  `db:"created_at"`
	ConfirmedAt        *time.Time `db:"confirmed_at"`
	CancelledAt        *time.Time `db:"cancelled_at"`
	UpdatedAt          time.Time  `db:"updated_at"`
	Version            int        `db:"version"`
}

type ticketRow struct {
	ID             string     `db:"id"`
	JourneyID      string     `db:"journey_id"`
	PNR            *string    `db:"pnr"`
	CoachNumber    string     `db:"coach_number"`
	SeatNumber     string     `db:"seat_number"`
	PassengerName  string     `db:"passenger_name"`
	PassengerAge   int        `db:"passenger_age"`
	Gender         string     `db:"passenger_gender"`
	Fare           int64      `db:"fare"`
	Status         string     `db:"status"`
	BlockedAt      *time.Time `db:"blocked_at"`
	BlockExpiresAt *time.Time `db:"block_expires_at"`
	ConfirmedAt    *time.Time `db:"confirmed_at"`
	Version        int        `db:"version"`
}

func (r *journeyRow) toEntity(tickets []*journey.Ticket) *journey.Journey {
	return &journey.Journey{
		ID:                 r.ID,
		BookingReference:   r.BookingReference,
		UserID:             r.UserID,
		TrainNumber:        r.TrainNumber,
		SourceStation:      r.SourceStation,
		DestinationStation: r.DestinationStation,
		JourneyDate:        r.JourneyDate,
		Status:             journey.Status(r.Status),
		TotalFare:          r.TotalFare,
		Tickets:            tickets,
		CreatedAt:          r.CreatedAt,
		ConfirmedAt:        r.ConfirmedAt,
		CancelledAt:        r.CancelledAt,
		UpdatedAt:          r.UpdatedAt,
		Version:            r.Version,
	}
}

func (r *ticketRow) toEntity() *journey.Ticket {
	pnr := ""
	if r.PNR != nil {
		pnr = *r.PNR
	}
	return &journey.Ticket{
		ID:          r.ID,
		JourneyID:   r.JourneyID,
		PNR:         pnr,
		CoachNumber: r.CoachNumber,
		SeatNumber:  r.SeatNumber,
		Passenger: journey.Passenger{
			Name:   r.PassengerName,
			Age:    r.PassengerAge,
			Gender: journey.Gender(r.Gender),
		},
		Fare:           r.Fare,
		Status:         journey.TicketStatus(r.Status),
		BlockedAt:      r.BlockedAt,
		BlockExpiresAt: r.BlockExpiresAt,
		ConfirmedAt:    r.ConfirmedAt,
		Version:        r.Version,
	}
}

const journeyColumns = `id, booking_reference, user_id, train_number, source_station, destination_station, journey_date, status, total_fare, created_at, confirmed_at, cancelled_at, updated_at, version`
const ticketColumns = `id, journey_id, pnr, coach_number, seat_number, passenger_name, passenger_age, passenger_gender, fare, status, blocked_at, block_expires_at, confirmed_at, version`

type JourneyRepository struct{ db *sqlx.DB }

func NewJourneyRepository(db *sqlx.DB) *JourneyRepository {
	return &JourneyRepository{db: db}
}

func (r *JourneyRepository) Create(ctx context.Context, tx transaction.Tx, j *journey.Journey) error {
	sqlxTx := UnwrapTx(tx)
	query := `INSERT INTO journeys (booking_reference, user_id, train_number, source_station, destination_station, journey_date, status, total_fare, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING id`
	if err := sqlxTx.QueryRowContext(ctx, query,
		j.BookingReference, j.UserID, j.TrainNumber, j.SourceStation, j.DestinationStation,
		j.JourneyDate, string(j.Status), j.TotalFare, j.CreatedAt, j.UpdatedAt, j.Version,
	).Scan(&j.ID); err != nil {
		return fmt.Errorf("ジャーニー作成に失敗: %w", err)
	}
	for _, t := range j.Tickets {
		t.JourneyID = j.ID
		if err := r.insertTicket(ctx, sqlxTx, t); err != nil {
			return err
		}
	}
	return nil
}

func (r *JourneyRepository) insertTicket(ctx context.Context, tx *sqlx.Tx, t *journey.Ticket) error {
	var pnr *string
	if t.PNR != "" {
		pnr = &t.PNR
	}
	query := `INSERT INTO tickets (journey_id, pnr, coach_number, seat_number, passenger_name, passenger_age, passenger_gender, fare, status, blocked_at, block_expires_at, confirmed_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13) RETURNING id`
	if err := tx.QueryRowContext(ctx, query,
		t.JourneyID, pnr, t.CoachNumber, t.SeatNumber,
		t.Passenger.Name, t.Passenger.Age, string(t.Passenger.Gender),
		t.Fare, string(t.Status), t.BlockedAt, t.BlockExpiresAt, t.ConfirmedAt, t.Version,
	).Scan(&t.ID); err != nil {
		return fmt.Errorf("チケット作成に失敗: %w", err)
	}
	return nil
}

func (r *JourneyRepository) GetByBookingReference(ctx context.Context, ref string) (*journey.Journey, error) {
	var row journeyRow
	query := `SELECT ` + journeyColumns + ` FROM journeys WHERE booking_reference = $1`
	if err := r.db.GetContext(ctx, &row, query, ref); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, journey.ErrJourneyNotFound
		}
		return nil, fmt.Errorf("ジャーニー取得に失敗: %w", err)
	}
	tickets, err := r.getTickets(ctx, row.ID)
	if err != nil {
		return nil, err
	}
	return row.toEntity(tickets), nil
}

func (r *JourneyRepository) GetByID(ctx context.Context, id string) (*journey.Journey, error) {
	var row journeyRow
	query := `SELECT ` + journeyColumns + ` FROM journeys WHERE id = $1`
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, journey.ErrJourneyNotFound
		}
		return nil, fmt.Errorf("ジャーニー取得に失敗: %w", err)
	}
	tickets, err := r.getTickets(ctx, id)
	if err != nil {
		return nil, err
	}
	return row.toEntity(tickets), nil
}

// Update はバージョン確認付きUPDATE
// 行が更新されなければ他の書き込みに追い越されている
func (r *JourneyRepository) Update(ctx context.Context, tx transaction.Tx, j *journey.Journey) error {
	query := `UPDATE journeys SET status = $1, total_fare = $2, confirmed_at = $3, cancelled_at = $4, updated_at = $5, version = version + 1
		WHERE id = $6 AND version = $7`
	result, err := UnwrapTx(tx).ExecContext(ctx, query,
		string(j.Status), j.TotalFare, j.ConfirmedAt, j.CancelledAt, j.UpdatedAt, j.ID, j.Version)
	if err != nil {
		return fmt.Errorf("ジャーニー更新に失敗: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return journey.ErrConcurrentModification
	}
	j.Version++
	return nil
}

func (r *JourneyRepository) UpdateTicket(ctx context.Context, tx transaction.Tx, t *journey.Ticket) error {
	var pnr *string
	if t.PNR != "" {
		pnr = &t.PNR
	}
	query := `UPDATE tickets SET pnr = $1, status = $2, blocked_at = $3, block_expires_at = $4, confirmed_at = $5, version = version + 1
		WHERE id = $6 AND version = $7`
	result, err := UnwrapTx(tx).ExecContext(ctx, query,
		pnr, string(t.Status), t.BlockedAt, t.BlockExpiresAt, t.ConfirmedAt, t.ID, t.Version)
	if err != nil {
		return fmt.Errorf("チケット更新に失敗: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return journey.ErrConcurrentModification
	}
	t.Version++
	return nil
}

// GetExpiredBlocked はブロック期限切れチケットを持つ非終端ジャーニーを取得する
func (r *JourneyRepository) GetExpiredBlocked(ctx context.Context, limit int) ([]*journey.Journey, error) {
	var ids []string
	query := `SELECT DISTINCT j.id FROM journeys j
		JOIN tickets t ON t.journey_id = j.id
		WHERE j.status IN ('seats_blocked', 'payment_pending', 'payment_failed')
		AND t.status = 'blocked' AND t.block_expires_at < NOW()
		LIMIT $1`
	if err := r.db.SelectContext(ctx, &ids, query, limit); err != nil {
		return nil, fmt.Errorf("期限切れジャーニー取得に失敗: %w", err)
	}
	journeys := make([]*journey.Journey, 0, len(ids))
	for _, id := range ids {
		j, err := r.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, journey.ErrJourneyNotFound) {
				continue
			}
			return nil, err
		}
		journeys = append(journeys, j)
	}
	return journeys, nil
}

func (r *JourneyRepository) getTickets(ctx context.Context, journeyID string) ([]*journey.Ticket, error) {
	var rows []ticketRow
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE journey_id = $1 ORDER BY coach_number, seat_number`
	if err := r.db.SelectContext(ctx, &rows, query, journeyID); err != nil {
		return nil, fmt.Errorf("チケット取得に失敗: %w", err)
	}
	tickets := make([]*journey.Ticket, len(rows))
	for i, row := range rows {
		tickets[i] = row.toEntity()
	}
	return tickets, nil
}

// CountByStatus は状態ごとのチケット件数を返す（メトリクス用）
func (r *JourneyRepository) CountByStatus(ctx context.Context, status journey.TicketStatus) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM tickets WHERE status = $1`, string(status))
	return count, err
}

var _ journey.Repository = (*JourneyRepository)(nil)
