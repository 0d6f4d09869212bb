package api

// CreateSessionRequest is the body of POST /api/v1/sessions.
type CreateSessionRequest struct {
	Name    string   `json:"name"`
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
	Cwd     string   `json:"cwd,omitempty"`
	Env     []string `json:"env,omitempty"`
	Cols    uint16   `json:"cols,omitempty"`
	Rows    uint16   `json:"rows,omitempty"`
}

// SessionInputRequest is the body of POST /api/v1/sessions/:name/input.
// Exactly one of Text or Key must be set.
type SessionInputRequest struct {
	Text string `json:"text,omitempty"`
	Key  string `json:"key,omitempty"`
}

// ResizeRequest is the body of POST /api/v1/sessions/:name/resize.
type ResizeRequest struct {
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}

// EnqueueRequest is the body of POST /api/v1/queue/messages.
type EnqueueRequest struct {
	Content        string `json:"content"`
	ConversationID string `json:"conversation_id,omitempty"`
	TargetSession  string `json:"target_session"`
	Source         string `json:"source"`
	Channel        string `json:"channel,omitempty"`
	ThreadTS       string `json:"thread_ts,omitempty"`
	UserID         string `json:"user_id,omitempty"`
}

// CreateScheduleRequest is the body of POST /api/v1/schedules.
type CreateScheduleRequest struct {
	Session string `json:"session"`
	Message string `json:"message"`
	Type    string `json:"type,omitempty"` // check-in (default), continuation, adaptive, or recurring

	// DelaySeconds applies to one-shot jobs.
	DelaySeconds int `json:"delay_seconds,omitempty"`

	// IntervalSeconds and MaxOccurrences apply to recurring jobs.
	IntervalSeconds int `json:"interval_seconds,omitempty"`
	MaxOccurrences  int `json:"max_occurrences,omitempty"`
}

// CreateAgentRequest is the body of POST /api/v1/teams/:id/agents.
type CreateAgentRequest struct {
	MemberID    string `json:"member_id"`
	Role        string `json:"role"`
	RuntimeType string `json:"runtime_type"`
	SessionName string `json:"session_name"`
	Cwd         string `json:"cwd,omitempty"`
	ResumeToken string `json:"resume_token,omitempty"`
}

// CreateUserRequest is the body of POST /api/v1/users.
type CreateUserRequest struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// SetTokenRequest is the body of PUT /api/v1/users/:id/tokens/:service.
type SetTokenRequest struct {
	Token string `json:"token"`
}

// CreateProjectRequest is the body of POST /api/v1/projects.
type CreateProjectRequest struct {
	Name    string   `json:"name"`
	Path    string   `json:"path"`
	TeamIDs []string `json:"team_ids,omitempty"`
}

// CreateTaskRequest is the body of POST /api/v1/projects/:id/tasks.
type CreateTaskRequest struct {
	Title string `json:"title"`
}

// AssignTaskRequest is the body of POST /api/v1/tasks/:id/assign.
type AssignTaskRequest struct {
	Session string `json:"session"`
}

// TaskStatusRequest is the body of POST /api/v1/tasks/:id/status.
type TaskStatusRequest struct {
	Status string `json:"status"`
}
