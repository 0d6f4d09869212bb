package runtime

import (
	"context"
	"fmt"
	"regexp"
)

// claudeReadyPattern matches the Claude Code welcome banner or an idle
// prompt box after the TUI has drawn.
var claudeReadyPattern = regexp.MustCompile(`(?i)(welcome to claude|claude code|\? for shortcuts|│ >)`)

// NewClaudeAdapter builds the claude-code adapter. Its post-init step
// registers the auxiliary MCP servers the agents use for team coordination.
func NewClaudeAdapter(backend SessionBackend, commander Commander) Adapter {
	return &base{
		typ:       TypeClaudeCode,
		backend:   backend,
		commander: commander,
		initCommand: func(cfg StartConfig) string {
			if cfg.ResumeToken != "" {
				return fmt.Sprintf("claude --resume %s --dangerously-skip-permissions", cfg.ResumeToken)
			}
			return "claude --dangerously-skip-permissions"
		},
		readyPattern: claudeReadyPattern,
		probeKey:     "/",
		postInit:     claudePostInit,
	}
}

// claudePostInit wires the coordination MCP server into the fresh session
// so the agent can reach the orchestrator's tool surface.
func claudePostInit(ctx context.Context, b *base, cfg StartConfig) error {
	if cfg.Env["AGENTMUX_MCP_DISABLED"] == "1" {
		return nil
	}
	return b.commander.SendMessage(ctx, cfg.SessionName,
		"/mcp reconnect agentmux")
}
