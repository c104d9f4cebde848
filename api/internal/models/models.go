package models // domain models

import ( // imports
	"time" // timestamps

	"github.com/google/uuid" // run ids
)

type Role struct { // staff role
	ID          int64     // role id
	Name        string    // unique name
	Permissions []string  // granted permissions
	CreatedAt   time.Time // created at
}

type User struct { // staff user
	ID           int64      // user id
	Name         string     // display name
	Email        string     // unique login
	PasswordHash string     // bcrypt hash, never serialized
	RoleID       *int64     // role, nil when unassigned
	Role         string     // role name
	Permissions  []string   // role permissions
	CreatedAt    time.Time  // created at
	LastLoginAt  *time.Time // last successful login
}

type ZoomCredential struct { // upstream credential record
	ID           int64     // credential id
	AccountID    string    // unique account id
	ClientID     string    // oauth client id
	ClientSecret string    // oauth client secret, never returned over HTTP
	IsPrimary    bool      // at most one is primary
	TimeZone     string    // IANA zone or fixed offset
	CreatedAt    time.Time // created at
	UpdatedAt    time.Time // updated at
}

type CredentialPatch struct { // partial credential update
	AccountID    *string // new account id
	ClientID     *string // new client id
	ClientSecret *string // new secret
	TimeZone     *string // new zone
	Primary      *bool   // true runs the set-primary transaction
}

type Timecard struct { // stored agent_timecard row
	ID            int64     // row id
	WorkSessionID string    // upstream session id
	StartTime     time.Time // UTC start
	EndTime       time.Time // UTC end
	UserID        string    // agent id
	UserName      string    // agent name
	Status        string    // user_status
	SubStatus     string    // user_sub_status
	DurationMS    int64     // duration in ms, >= 0
}

type Agent struct { // agent directory entry
	UserID   string // unique agent id
	UserName string // display name
}

type RefreshRun struct { // one refresh execution
	RunID       uuid.UUID  // run id
	Kind        string     // timecards or agents
	Trigger     string     // request, manual, schedule or task
	RangeFrom   *time.Time // window start, nil for agents
	RangeTo     *time.Time // window end, nil for agents
	Status      string     // workflow run status
	Pages       int        // pages fetched
	Fetched     int        // items fetched
	Inserted    int64      // rows inserted
	Skipped     int        // items that failed normalization
	FailedPages int        // pages whose insert failed
	Deleted     int64      // rows removed by window replace
	StopReason  string     // why the page loop ended
	Error       string     // terminal error
	StartedAt   time.Time  // started at
	FinishedAt  *time.Time // finished at
}

type AuditLog struct { // audit log entry
	AuditID      int64     // audit id
	OccurredAt   time.Time // occurred at
	ActorUserID  *int64    // acting user
	Action       string    // action
	ResourceType *string   // resource type
	ResourceID   *string   // resource id
	RequestID    string    // request id
	Method       string    // HTTP method
	Path         string    // request path
	StatusCode   int       // status code
	DurationMS   int64     // duration in ms
	ClientIP     string    // client ip
	UserAgent    string    // user agent
	Details      []byte    // JSON details
}
