package domain

import "time"

// ProgramCertificate configures certificate issuance on program completion.
// Expiry reuses the schedule grammar, resolved against the completion time.
type ProgramCertificate struct {
	ProgramID  int64
	TemplateID int64
	Expiry     ScheduleSpec
}

type CertificateIssue struct {
	ID            int64
	ProgramID     int64
	AllocationID  int64
	UserID        int64
	IssueID       int64
	TimeCompleted time.Time
	TimeCreated   time.Time
}
