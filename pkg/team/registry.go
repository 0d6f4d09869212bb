package team

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentmux/agentmux/pkg/runtime"
	"github.com/agentmux/agentmux/pkg/store"
)

// CreateAgentParams describes an agent session creation request.
type CreateAgentParams struct {
	TeamID      string
	MemberID    string
	Role        string
	RuntimeType runtime.Type
	SessionName string
	Cwd         string
	ResumeToken string
}

// Registry is the agent registry: it owns teams.json and drives agent
// status transitions, delegating process work to the runtime adapters.
type Registry struct {
	store    *store.Store
	runtimes *runtime.Registry

	broadcaster Broadcaster

	// watchers receive every agent status transition for a session name.
	// Used by the rehydrate coordinator to await "active" without polling.
	watchMu  sync.Mutex
	watchers map[string][]chan AgentStatus

	logger *slog.Logger
}

// NewRegistry creates the agent registry. broadcaster may be nil.
func NewRegistry(st *store.Store, runtimes *runtime.Registry, broadcaster Broadcaster) *Registry {
	return &Registry{
		store:       st,
		runtimes:    runtimes,
		broadcaster: broadcaster,
		watchers:    make(map[string][]chan AgentStatus),
		logger:      slog.Default().With("component", "team-registry"),
	}
}

// SetBroadcaster installs the status broadcaster after construction. Used
// by the composition root to break the registry↔gateway ordering cycle.
func (r *Registry) SetBroadcaster(b Broadcaster) { r.broadcaster = b }

// Teams returns all persisted teams.
func (r *Registry) Teams() ([]Team, error) {
	return store.ReadJSON(r.store, TeamsFile, []Team{})
}

// EnsureTeam creates the team record if it does not exist.
func (r *Registry) EnsureTeam(id, name string) error {
	_, err := store.ModifyJSON(r.store, TeamsFile, []Team{}, func(teams *[]Team) error {
		for _, t := range *teams {
			if t.ID == id {
				return nil
			}
		}
		*teams = append(*teams, Team{ID: id, Name: name, CreatedAt: time.Now()})
		return nil
	})
	return err
}

// FindMemberBySessionName resolves the team and member bound to a session.
func (r *Registry) FindMemberBySessionName(session string) (Team, Member, error) {
	teams, err := r.Teams()
	if err != nil {
		return Team{}, Member{}, err
	}
	for _, t := range teams {
		for _, m := range t.Members {
			if m.SessionName == session {
				return t, m, nil
			}
		}
	}
	return Team{}, Member{}, fmt.Errorf("session %q: %w", session, ErrMemberNotFound)
}

// FindMember resolves a member by team and member id.
func (r *Registry) FindMember(teamID, memberID string) (Team, Member, error) {
	teams, err := r.Teams()
	if err != nil {
		return Team{}, Member{}, err
	}
	for _, t := range teams {
		if t.ID != teamID {
			continue
		}
		for _, m := range t.Members {
			if m.ID == memberID {
				return t, m, nil
			}
		}
		return t, Member{}, fmt.Errorf("member %q in team %q: %w", memberID, teamID, ErrMemberNotFound)
	}
	return Team{}, Member{}, fmt.Errorf("team %q: %w", teamID, ErrTeamNotFound)
}

// CreateAgentSession drives inactive→starting→active for one agent:
// upserts the member record, starts the runtime, and records the outcome.
// On runtime failure the member returns to inactive and the error is
// returned.
func (r *Registry) CreateAgentSession(ctx context.Context, params CreateAgentParams) error {
	adapter, err := r.runtimes.ForType(params.RuntimeType)
	if err != nil {
		return err
	}

	if err := r.upsertMember(params, AgentStarting); err != nil {
		return err
	}
	r.notifyStatus(params, AgentStarting)

	startCfg := runtime.StartConfig{
		SessionName:    params.SessionName,
		Cwd:            params.Cwd,
		ResumeToken:    params.ResumeToken,
		IsOrchestrator: params.Role == OrchestratorRole,
		Env: map[string]string{
			"AGENTMUX_TEAM":   params.TeamID,
			"AGENTMUX_MEMBER": params.MemberID,
			"AGENTMUX_ROLE":   params.Role,
		},
	}
	if err := adapter.Start(ctx, startCfg); err != nil {
		if uerr := r.setStatusBySession(params.SessionName, AgentInactive); uerr != nil {
			r.logger.Error("Failed to record start failure", "session", params.SessionName, "error", uerr)
		}
		r.notifyStatus(params, AgentInactive)
		return fmt.Errorf("start %s agent %q: %w", params.RuntimeType, params.SessionName, err)
	}

	if err := r.setStatusBySession(params.SessionName, AgentActive); err != nil {
		return err
	}
	r.notifyStatus(params, AgentActive)
	r.logger.Info("Agent session active",
		"session", params.SessionName, "team", params.TeamID, "member", params.MemberID)
	return nil
}

// UpdateAgentStatus transitions the agent bound to session and broadcasts
// the change.
func (r *Registry) UpdateAgentStatus(session string, status AgentStatus) error {
	if err := r.setStatusBySession(session, status); err != nil {
		return err
	}
	t, m, err := r.FindMemberBySessionName(session)
	if err == nil {
		r.broadcast(t, m)
	}
	r.notifyWatchers(session, status)
	return nil
}

// UpdateWorkingStatus records whether the agent is idle or mid-task.
func (r *Registry) UpdateWorkingStatus(session string, status WorkingStatus) error {
	_, err := store.ModifyJSON(r.store, TeamsFile, []Team{}, func(teams *[]Team) error {
		m := findBySession(teams, session)
		if m == nil {
			return fmt.Errorf("session %q: %w", session, ErrMemberNotFound)
		}
		m.WorkingStatus = status
		m.UpdatedAt = time.Now()
		return nil
	})
	return err
}

// SetResumeToken stores the runtime session id used for rehydration.
func (r *Registry) SetResumeToken(session, token string) error {
	_, err := store.ModifyJSON(r.store, TeamsFile, []Team{}, func(teams *[]Team) error {
		m := findBySession(teams, session)
		if m == nil {
			return fmt.Errorf("session %q: %w", session, ErrMemberNotFound)
		}
		m.ResumeToken = token
		m.UpdatedAt = time.Now()
		return nil
	})
	return err
}

// WatchStatus registers a watcher for status transitions of session. The
// returned cancel removes the watcher.
func (r *Registry) WatchStatus(session string) (<-chan AgentStatus, func()) {
	ch := make(chan AgentStatus, 8)
	r.watchMu.Lock()
	r.watchers[session] = append(r.watchers[session], ch)
	r.watchMu.Unlock()

	cancel := func() {
		r.watchMu.Lock()
		defer r.watchMu.Unlock()
		list := r.watchers[session]
		for i, c := range list {
			if c == ch {
				r.watchers[session] = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(r.watchers[session]) == 0 {
			delete(r.watchers, session)
		}
	}
	return ch, cancel
}

// BroadcastTeamMemberStatus re-broadcasts a payload through the configured
// broadcaster. Exposed for collaborators that compose their own payloads.
func (r *Registry) BroadcastTeamMemberStatus(payload MemberStatusPayload) {
	if r.broadcaster != nil {
		r.broadcaster.BroadcastTeamMemberStatus(payload)
	}
}

func (r *Registry) upsertMember(params CreateAgentParams, status AgentStatus) error {
	_, err := store.ModifyJSON(r.store, TeamsFile, []Team{}, func(teams *[]Team) error {
		now := time.Now()
		for ti := range *teams {
			t := &(*teams)[ti]
			if t.ID != params.TeamID {
				continue
			}
			for mi := range t.Members {
				m := &t.Members[mi]
				if m.ID == params.MemberID {
					m.Role = params.Role
					m.RuntimeType = params.RuntimeType
					m.SessionName = params.SessionName
					m.AgentStatus = status
					m.UpdatedAt = now
					return nil
				}
			}
			t.Members = append(t.Members, Member{
				ID:            params.MemberID,
				Role:          params.Role,
				RuntimeType:   params.RuntimeType,
				SessionName:   params.SessionName,
				AgentStatus:   status,
				WorkingStatus: WorkingIdle,
				UpdatedAt:     now,
			})
			return nil
		}
		*teams = append(*teams, Team{
			ID:        params.TeamID,
			Name:      params.TeamID,
			CreatedAt: now,
			Members: []Member{{
				ID:            params.MemberID,
				Role:          params.Role,
				RuntimeType:   params.RuntimeType,
				SessionName:   params.SessionName,
				AgentStatus:   status,
				WorkingStatus: WorkingIdle,
				UpdatedAt:     now,
			}},
		})
		return nil
	})
	return err
}

func (r *Registry) setStatusBySession(session string, status AgentStatus) error {
	_, err := store.ModifyJSON(r.store, TeamsFile, []Team{}, func(teams *[]Team) error {
		m := findBySession(teams, session)
		if m == nil {
			return fmt.Errorf("session %q: %w", session, ErrMemberNotFound)
		}
		m.AgentStatus = status
		m.UpdatedAt = time.Now()
		return nil
	})
	return err
}

func (r *Registry) notifyStatus(params CreateAgentParams, status AgentStatus) {
	r.BroadcastTeamMemberStatus(MemberStatusPayload{
		TeamID:      params.TeamID,
		MemberID:    params.MemberID,
		Role:        params.Role,
		SessionName: params.SessionName,
		AgentStatus: status,
		Timestamp:   time.Now().Format(time.RFC3339Nano),
	})
	r.notifyWatchers(params.SessionName, status)
}

func (r *Registry) broadcast(t Team, m Member) {
	r.BroadcastTeamMemberStatus(MemberStatusPayload{
		TeamID:        t.ID,
		MemberID:      m.ID,
		Role:          m.Role,
		SessionName:   m.SessionName,
		AgentStatus:   m.AgentStatus,
		WorkingStatus: m.WorkingStatus,
		Timestamp:     time.Now().Format(time.RFC3339Nano),
	})
}

func (r *Registry) notifyWatchers(session string, status AgentStatus) {
	r.watchMu.Lock()
	defer r.watchMu.Unlock()
	for _, ch := range r.watchers[session] {
		select {
		case ch <- status:
		default:
			// Watcher is not draining; it falls back to polling.
		}
	}
}

func findBySession(teams *[]Team, session string) *Member {
	for ti := range *teams {
		t := &(*teams)[ti]
		for mi := range t.Members {
			if t.Members[mi].SessionName == session {
				return &t.Members[mi]
			}
		}
	}
	return nil
}
