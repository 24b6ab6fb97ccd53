package appointment

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusConfirmed Status = "confirmed"
	StatusArrived   Status = "arrived"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no_show"
)

type Appointment struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	CreatedAt time.Time  `gorm:"autoCreateTime;index"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime"`
	DeletedAt *time.Time `gorm:"index"`

	PatientID uuid.UUID `gorm:"column:patient_id;type:uuid;not null;index"`
	DoctorID  uuid.UUID `gorm:"column:doctor_id;type:uuid;not null;index"`

	ScheduledAt  time.Time `gorm:"column:scheduled_at;not null;index"`
	DurationMins int       `gorm:"column:duration_mins;not null;default:30"`
	Status       Status    `gorm:"column:status;type:varchar(30);not null;default:'scheduled';index"`

	// VisitID links back to the visit spawned from this appointment.
	VisitID *string `gorm:"column:visit_id;type:varchar(20);index"`

	CompletedAt *time.Time `gorm:"column:completed_at"`

	CreatedBy uuid.UUID `gorm:"column:created_by;type:uuid;not null"`
}

func (Appointment) TableName() string {
	return "clinical.appointments"
}

func (a *Appointment) IsCompleted() bool {
	return a.Status == StatusCompleted
}

// MarkCompleted stamps the appointment completed, returning the previous
// status so a failed saga can revert it.
func (a *Appointment) MarkCompleted() Status {
	prev := a.Status
	now := time.Now().UTC()
	a.Status = StatusCompleted
	a.CompletedAt = &now
	return prev
}

// Revert restores a previous status after a rollback.
func (a *Appointment) Revert(prev Status) {
	a.Status = prev
	if prev != StatusCompleted {
		a.CompletedAt = nil
	}
}
