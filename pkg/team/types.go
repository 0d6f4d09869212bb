// Package team maintains the session↔member↔team mapping, the per-agent
// status machine, and its persistence in teams.json.
package team

import (
	"errors"
	"time"

	"github.com/agentmux/agentmux/pkg/runtime"
)

// TeamsFile is the relative path of the persisted team state.
const TeamsFile = "teams.json"

// OrchestratorRole is the distinguished role coordinating all other agents.
const OrchestratorRole = "orchestrator"

// AgentStatus is the lifecycle state of an agent.
type AgentStatus string

const (
	AgentInactive  AgentStatus = "inactive"
	AgentStarting  AgentStatus = "starting"
	AgentActive    AgentStatus = "active"
	AgentSuspended AgentStatus = "suspended"
)

// WorkingStatus is the activity state of an agent.
type WorkingStatus string

const (
	WorkingIdle       WorkingStatus = "idle"
	WorkingInProgress WorkingStatus = "in_progress"
)

// Sentinel errors for registry operations.
var (
	// ErrMemberNotFound indicates no member matches the lookup.
	ErrMemberNotFound = errors.New("team member not found")

	// ErrTeamNotFound indicates no team matches the id.
	ErrTeamNotFound = errors.New("team not found")
)

// Member is one agent slot in a team.
type Member struct {
	ID            string        `json:"id"`
	Name          string        `json:"name,omitempty"`
	Role          string        `json:"role"`
	RuntimeType   runtime.Type  `json:"runtime_type"`
	SessionName   string        `json:"session_name,omitempty"`
	AgentStatus   AgentStatus   `json:"agent_status"`
	WorkingStatus WorkingStatus `json:"working_status"`

	// ResumeToken is the runtime-specific session id used to rehydrate
	// a suspended agent into a fresh PTY.
	ResumeToken string `json:"resume_token,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Team groups members working on one project.
type Team struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Members   []Member  `json:"members"`
	CreatedAt time.Time `json:"created_at"`
}

// MemberStatusPayload is broadcast to subscribed clients on every agent
// status transition.
type MemberStatusPayload struct {
	TeamID        string        `json:"team_id"`
	MemberID      string        `json:"member_id"`
	Role          string        `json:"role"`
	SessionName   string        `json:"session_name,omitempty"`
	AgentStatus   AgentStatus   `json:"agent_status"`
	WorkingStatus WorkingStatus `json:"working_status"`
	Timestamp     string        `json:"timestamp"`
}

// Broadcaster publishes member status transitions. Nil-safe at the call
// sites: a nil broadcaster disables broadcasting.
type Broadcaster interface {
	BroadcastTeamMemberStatus(payload MemberStatusPayload)
}
