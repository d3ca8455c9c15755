package domain

// AgentStatus enumerates the availability states of an agent.
type AgentStatus string

const (
	AgentStatusAvailable AgentStatus = "available"
	AgentStatusBusy      AgentStatus = "busy"
)

// Valid reports whether the status is a known availability state.
func (s AgentStatus) Valid() bool {
	return s == AgentStatusAvailable || s == AgentStatusBusy
}

// Agent is a live softphone agent as seen by the router.
type Agent struct {
	ID         string
	Identity   string
	Status     AgentStatus
	Conference string
}

// AgentProfile is the persisted roster entry for an agent.
type AgentProfile struct {
	ID                int64  `db:"id" json:"id"`
	AgentID           string `db:"agent_id" json:"agent_id"`
	Name              string `db:"name" json:"name"`
	PhoneNumber       string `db:"phone_number" json:"phone_number"`
	Responsibility    string `db:"responsibility" json:"responsibility"`
	SoftphoneIdentity string `db:"softphone_identity" json:"softphone_identity,omitempty"`
}

// Identity returns the softphone identity used to ring the agent.
func (p AgentProfile) Identity() string {
	if p.SoftphoneIdentity != "" {
		return p.SoftphoneIdentity
	}
	return p.AgentID
}
