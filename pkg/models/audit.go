package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	DenialReasonRateLimited       = "RATE_LIMITED"
	DenialReasonQuotaExceeded     = "QUOTA_EXCEEDED"
	DenialReasonTooManyActiveJobs = "TOO_MANY_ACTIVE_JOBS"
)

// AdmissionAudit records a denied request at the admission gate. LicenseID is
// nil when the caller was identified by IP only.
type AdmissionAudit struct {
	ID         uuid.UUID  `db:"id"         json:"id"`
	LicenseID  *uuid.UUID `db:"license_id" json:"license_id,omitempty"`
	Identifier string     `db:"identifier" json:"identifier"`
	Endpoint   string     `db:"endpoint"   json:"endpoint"`
	Reason     string     `db:"reason"     json:"reason"`
	Detail     string     `db:"detail"     json:"detail,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}
