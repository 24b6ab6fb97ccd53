package visit

import (
	"time"

	"github.com/google/uuid"
)

type CreateVisitCommand struct {
	PatientID     uuid.UUID
	AppointmentID *uuid.UUID
	ProviderID    uuid.UUID
	Type          VisitType
	Date          time.Time
	Coverage      *CoverageSnapshot
	CreatedBy     uuid.UUID
}

// UpdateClinicalCommand carries partial edits to the visit's clinical
// content. Nil slices leave the corresponding field untouched.
type UpdateClinicalCommand struct {
	Acts           *[]ClinicalAct
	DeviceExams    *[]DeviceExam
	Orders         *[]CareOrder
	MedicationPlan *[]PlannedMedication
	UpdatedBy      uuid.UUID
}
