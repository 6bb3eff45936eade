package model

import "time"

const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

type Appointment struct {
	ID           string     `json:"id"`
	PatientID    string     `json:"patientId"`
	DoctorID     string     `json:"doctorId"`
	PatientName  string     `json:"patientName"`
	PatientEmail string     `json:"patientEmail"`
	PatientPhone string     `json:"patientPhone,omitempty"`
	ScheduledAt  time.Time  `json:"scheduledAt"`
	DurationMins int        `json:"durationMins"`
	FeeCents     int64      `json:"feeCents"`
	Reason       string     `json:"reason,omitempty"`
	Status       string     `json:"status"`
	CancelReason string     `json:"cancelReason,omitempty"`
	CancelledAt  *time.Time `json:"cancelledAt,omitempty"`
	ConfirmedAt  *time.Time `json:"confirmedAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}
