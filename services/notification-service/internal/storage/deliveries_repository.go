package storage

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/SamuelAtedla/heartcare/libs/db"
)

const (
	DeliverySent   = "sent"
	DeliveryFailed = "failed"
)

type Delivery struct {
	AppointmentID string
	PatientID     string
	Kind          string
	Channel       string
	Recipient     string
	Payload       map[string]any
	Status        string
	Error         string
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// Insert records the delivery attempt in the caller's transaction so the
// record and the sent event commit together.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, d Delivery) error {
	payload, err := json.Marshal(d.Payload)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO deliveries (appointment_id, patient_id, kind, channel, recipient, payload, status, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''))
	`, d.AppointmentID, d.PatientID, d.Kind, d.Channel, d.Recipient, payload, d.Status, d.Error)
	return err
}
