package zoom

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrCredentialMissing means no credential record is configured. Operators fix it by
	// adding one; retrying does not help.
	ErrCredentialMissing = errors.New("zoom credential missing")
	// ErrUpstreamUnavailable covers transport failures and non-2xx responses from either
	// the OAuth endpoint or the data API.
	ErrUpstreamUnavailable = errors.New("zoom upstream unavailable")
	// ErrMalformedPage is returned when a page body does not carry a users array.
	ErrMalformedPage = errors.New("zoom malformed page")
)

// PageSize is the fixed page size requested from every paginated endpoint.
const PageSize = 300

type Resource string

const (
	ResourceTimecards Resource = "timecards"
	ResourceAgents    Resource = "agents"
)

func (r Resource) path() string {
	switch r {
	case ResourceTimecards:
		return "/contact_center/analytics/dataset/historical/agent_timecard"
	case ResourceAgents:
		return "/contact_center/users"
	default:
		return ""
	}
}

type Credential struct {
	AccountID    string
	ClientID     string
	ClientSecret string
}

// CredentialSource selects the credential used for token exchange: the primary record,
// else the lowest id. It returns ErrCredentialMissing when there is none.
type CredentialSource interface {
	Credential(ctx context.Context) (Credential, error)
}

type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// TimecardEvent is one normalized agent_timecard item.
type TimecardEvent struct {
	WorkSessionID string
	StartTime     time.Time
	EndTime       time.Time
	UserID        string
	UserName      string
	Status        string
	SubStatus     string
	DurationMS    int64
}

type Agent struct {
	UserID   string
	UserName string
}

type TimecardPage struct {
	Events        []TimecardEvent
	NextPageToken string
	// Skipped counts items that could not be normalized (undecodable or no start time).
	Skipped int
}

type AgentPage struct {
	Agents        []Agent
	NextPageToken string
	Skipped       int
}
