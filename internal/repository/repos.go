package repository

import "github.com/alexanderramin/programs/internal/db"

// Repos bundles the repositories bound to one DBTX, so a unit of work can
// hand every collaborator the same transaction.
type Repos struct {
	Programs      ProgramRepo
	Items         ItemRepo
	Sources       SourceRepo
	Allocations   AllocationRepo
	Completions   CompletionRepo
	Requests      RequestRepo
	Events        EventRepo
	Certificates  CertificateRepo
	Notifications NotificationRepo
}

// NewRepos binds all SQLite repositories to q.
func NewRepos(q db.DBTX) *Repos {
	return &Repos{
		Programs:      NewSQLiteProgramRepo(q),
		Items:         NewSQLiteItemRepo(q),
		Sources:       NewSQLiteSourceRepo(q),
		Allocations:   NewSQLiteAllocationRepo(q),
		Completions:   NewSQLiteCompletionRepo(q),
		Requests:      NewSQLiteRequestRepo(q),
		Events:        NewSQLiteEventRepo(q),
		Certificates:  NewSQLiteCertificateRepo(q),
		Notifications: NewSQLiteNotificationRepo(q),
	}
}
