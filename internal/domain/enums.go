package domain

import "time"

// ResetType is the course reset tier applied when an allocation is reset.
type ResetType int

const (
	ResetNone ResetType = iota
	ResetDeallocate
	ResetStandard
	ResetFull
)

func (r ResetType) String() string {
	switch r {
	case ResetNone:
		return "none"
	case ResetDeallocate:
		return "deallocate"
	case ResetStandard:
		return "standard"
	case ResetFull:
		return "full"
	default:
		return "unknown"
	}
}

// ParseResetType maps a tier name to its ResetType.
func ParseResetType(s string) (ResetType, bool) {
	switch s {
	case "none":
		return ResetNone, true
	case "deallocate":
		return ResetDeallocate, true
	case "standard":
		return ResetStandard, true
	case "full":
		return ResetFull, true
	}
	return ResetNone, false
}

type NotificationType string

const (
	NotifyAllocation   NotificationType = "allocation"
	NotifyDeallocation NotificationType = "deallocation"
	NotifyCompletion   NotificationType = "completion"
	NotifyReset        NotificationType = "reset"
	NotifyStart        NotificationType = "start"
	NotifyDueSoon      NotificationType = "duesoon"
	NotifyDue          NotificationType = "due"
	NotifyEndSoon      NotificationType = "endsoon"
	NotifyEndCompleted NotificationType = "endcompleted"
	NotifyEndFailed    NotificationType = "endfailed"
)

// ImmediateNotifications are sent when the triggering change happens.
var ImmediateNotifications = []NotificationType{NotifyAllocation, NotifyDeallocation, NotifyCompletion, NotifyReset}

// ScheduledNotifications are sent by the cron sweep, at most once per allocation.
var ScheduledNotifications = []NotificationType{NotifyStart, NotifyDueSoon, NotifyDue, NotifyEndSoon, NotifyEndCompleted, NotifyEndFailed}

func IsNotificationType(t NotificationType) bool {
	for _, n := range ImmediateNotifications {
		if n == t {
			return true
		}
	}
	for _, n := range ScheduledNotifications {
		if n == t {
			return true
		}
	}
	return false
}

type EventName string

const (
	EventProgramCreated        EventName = "program_created"
	EventProgramUpdated        EventName = "program_updated"
	EventProgramArchived       EventName = "program_archived"
	EventProgramRestored       EventName = "program_restored"
	EventProgramDeleted        EventName = "program_deleted"
	EventAllocationCreated     EventName = "allocation_created"
	EventAllocationUpdated     EventName = "allocation_updated"
	EventAllocationDeleted     EventName = "allocation_deleted"
	EventAllocationCompleted   EventName = "allocation_completed"
	EventAllocationReset       EventName = "allocation_reset"
	EventItemCompletionUpdated EventName = "item_completion_updated"
	EventEvidenceUpdated       EventName = "evidence_updated"
	EventRequestCreated        EventName = "request_created"
	EventRequestRejected       EventName = "request_rejected"
	EventRequestDeleted        EventName = "request_deleted"
	EventCertificateIssued     EventName = "certificate_issued"
)

// Event is a recorded domain event.
type Event struct {
	ID            int64
	Name          EventName
	ProgramID     *int64
	AllocationID  *int64
	UserID        *int64
	CorrelationID string
	Payload       string
	TimeCreated   time.Time
}
