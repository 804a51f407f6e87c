package core

import (
	"context"
	"time"
)

// StatusFlag is the account status carried by an import row.
type StatusFlag int

const (
	// StatusUnspecified marks a row whose status cell was not exactly "1" or "0".
	StatusUnspecified StatusFlag = iota
	StatusBlocked
	StatusActive
)

// Valid reports whether the flag came from a literal "1" or "0".
func (s StatusFlag) Valid() bool {
	return s == StatusActive || s == StatusBlocked
}

// OrBlocked returns s when valid, otherwise StatusBlocked.
func (s StatusFlag) OrBlocked() StatusFlag {
	if s.Valid() {
		return s
	}
	return StatusBlocked
}

func (s StatusFlag) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusBlocked:
		return "blocked"
	default:
		return "unspecified"
	}
}

// ImportRecord is one decoded data row.
type ImportRecord struct {
	Email        string // all whitespace removed
	Status       StatusFlag
	Password     string // whitespace removed, may be empty
	FirstName    string // trimmed, empty means "no value supplied"
	LastName     string
	Organization string
	Locale       string // whitespace removed, validity decided by the reconciler
	Timezone     string
}

// Account is an identity as held by the store.
type Account struct {
	ID                   string
	Username             string
	Email                string
	Init                 string
	Status               StatusFlag
	Locale               string
	PreferredLocale      string
	PreferredAdminLocale string
	Timezone             string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// NewAccount carries the fields for CreateAccount. Password is plaintext and
// is hashed by the store; an empty password leaves the account without one.
type NewAccount struct {
	Username             string
	Email                string
	Init                 string
	Status               StatusFlag
	Password             string
	Locale               string
	PreferredLocale      string
	PreferredAdminLocale string
	Timezone             string
}

// Profile holds the display attributes attached 1:1 to an account.
type Profile struct {
	AccountID    string
	FirstName    string
	LastName     string
	Organization string
}

// IdentityStore is the persistence surface the reconciler needs.
//
// Lookups return (nil, nil) when nothing matches; errors are reserved for
// store failures. AddGroupMember must be idempotent.
type IdentityStore interface {
	FindAccountByEmail(ctx context.Context, email string) (*Account, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	CreateAccount(ctx context.Context, acct NewAccount) (*Account, error)
	UpdateAccount(ctx context.Context, acct *Account) error
	LoadProfile(ctx context.Context, accountID string) (*Profile, error)
	SaveProfile(ctx context.Context, p *Profile) error
	AddGroupMember(ctx context.Context, groupID, accountID string) error
}

// AccessStore answers the role and permission questions used to gate
// group-scoped imports.
type AccessStore interface {
	GroupExists(ctx context.Context, groupID string) (bool, error)
	IsGroupMember(ctx context.Context, groupID, accountID string) (bool, error)
	HasGroupPermission(ctx context.Context, groupID, accountID, permission string) (bool, error)
	HasRole(ctx context.Context, accountID, role string) (bool, error)
}

// JobPhase indicates the current stage of a running import.
type JobPhase string

const (
	PhaseStarting  JobPhase = "starting"
	PhaseImporting JobPhase = "importing"
	PhaseComplete  JobPhase = "complete"
	PhaseFailed    JobPhase = "failed"
	PhaseCancelled JobPhase = "cancelled"
)

// Terminal reports whether no further progress will follow.
func (p JobPhase) Terminal() bool {
	return p == PhaseComplete || p == PhaseFailed || p == PhaseCancelled
}

// JobProgress is the snapshot published to progress listeners.
type JobProgress struct {
	JobID      string   `json:"job_id"`
	Phase      JobPhase `json:"phase"`
	FileName   string   `json:"file_name"`
	GroupID    string   `json:"group_id,omitempty"`
	CurrentRow int      `json:"current_row"`
	Created    int      `json:"created"`
	Updated    int      `json:"updated"`
	Failed     int      `json:"failed"`
	Message    string   `json:"message,omitempty"`
	Error      string   `json:"error,omitempty"`
	BytesRead  int64    `json:"bytes_read"`
	BytesTotal int64    `json:"bytes_total"`
}

// Percent returns byte-based progress (0-100). Returns 0 if the total is unknown.
func (p JobProgress) Percent() int {
	if p.BytesTotal > 0 {
		pct := int((p.BytesRead * 100) / p.BytesTotal)
		if pct > 100 {
			pct = 100
		}
		return pct
	}
	return 0
}

// FailedRow is a row that could not be applied, kept verbatim.
type FailedRow struct {
	LineNumber int      `json:"line_number"`
	Reason     string   `json:"reason"`
	Data       []string `json:"data"`
}

// JobSummary is the durable record of a finished job.
type JobSummary struct {
	ID            string        `json:"id"`
	SourceFile    string        `json:"source_file"`
	GroupID       string        `json:"group_id,omitempty"`
	Phase         JobPhase      `json:"phase"`
	RowsProcessed int           `json:"rows_processed"`
	Created       int           `json:"created"`
	Updated       int           `json:"updated"`
	Failed        int           `json:"failed"`
	ReportFile    string        `json:"report_file,omitempty"`
	Message       string        `json:"message"`
	Duration      time.Duration `json:"duration"`
	StartedAt     time.Time     `json:"started_at"`
	FinishedAt    time.Time     `json:"finished_at"`
}

// JobHistory persists summaries of finished jobs.
type JobHistory interface {
	RecordJob(ctx context.Context, s JobSummary) error
	GetJob(ctx context.Context, id string) (*JobSummary, error)
	ListJobs(ctx context.Context, limit int) ([]JobSummary, error)
	PurgeJobsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
