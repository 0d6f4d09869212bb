package runtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmux/agentmux/pkg/term"
)

// fakeBackend simulates session output that changes over time.
type fakeBackend struct {
	mu       sync.Mutex
	output   map[string]string
	sessions map[string]bool
	killed   []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		output:   make(map[string]string),
		sessions: make(map[string]bool),
	}
}

func (f *fakeBackend) CreateSession(name string, _ term.Options) (*term.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[name] = true
	return nil, nil
}

func (f *fakeBackend) KillSession(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, name)
	f.killed = append(f.killed, name)
	return nil
}

func (f *fakeBackend) SessionExists(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[name]
}

func (f *fakeBackend) CaptureOutput(name string, _ int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.output[name], nil
}

func (f *fakeBackend) setOutput(name, out string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.output[name] = out
}

// fakeCommander records sent messages and can mutate backend output on
// probe keys to simulate a live command palette.
type fakeCommander struct {
	mu       sync.Mutex
	messages []string
	keys     []string
	envs     map[string]string
	onKey    func(session, key string)
}

func newFakeCommander() *fakeCommander {
	return &fakeCommander{envs: make(map[string]string)}
}

func (f *fakeCommander) SendMessage(_ context.Context, _, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, text)
	return nil
}

func (f *fakeCommander) SendKey(_ context.Context, session, key string) error {
	f.mu.Lock()
	f.keys = append(f.keys, key)
	onKey := f.onKey
	f.mu.Unlock()
	if onKey != nil {
		onKey(session, key)
	}
	return nil
}

func (f *fakeCommander) SetEnv(_ context.Context, _, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.envs[key] = value
	return nil
}

func TestParseType(t *testing.T) {
	for _, valid := range []string{"claude-code", "gemini-cli", "codex-cli"} {
		typ, err := ParseType(valid)
		require.NoError(t, err)
		assert.Equal(t, Type(valid), typ)
	}

	_, err := ParseType("cursor")
	require.ErrorIs(t, err, ErrUnknownRuntime)
}

func TestRegistry_ForType(t *testing.T) {
	r := NewRegistry(newFakeBackend(), newFakeCommander())

	for _, typ := range []Type{TypeClaudeCode, TypeGeminiCLI, TypeCodexCLI} {
		a, err := r.ForType(typ)
		require.NoError(t, err)
		assert.Equal(t, typ, a.Type())
	}

	_, err := r.ForType("unknown")
	require.ErrorIs(t, err, ErrUnknownRuntime)
}

func TestStart_RunsInitAndWaitsForReady(t *testing.T) {
	backend := newFakeBackend()
	commander := newFakeCommander()
	a := NewClaudeAdapter(backend, commander)

	// Banner appears shortly after the init command runs.
	go func() {
		time.Sleep(50 * time.Millisecond)
		backend.setOutput("dev", "Welcome to Claude Code\n│ >")
	}()

	err := a.Start(context.Background(), StartConfig{
		SessionName: "dev",
		Cwd:         "/tmp/project",
		Env:         map[string]string{"AGENTMUX_ROLE": "developer"},
	})
	require.NoError(t, err)

	assert.True(t, backend.SessionExists("dev"))
	assert.Equal(t, "developer", commander.envs["AGENTMUX_ROLE"])
	require.NotEmpty(t, commander.messages)
	assert.Equal(t, "claude --dangerously-skip-permissions", commander.messages[0])
	// Claude post-init reconnects the coordination server.
	assert.Contains(t, commander.messages, "/mcp reconnect agentmux")
}

func TestStart_ResumeTokenChangesInitCommand(t *testing.T) {
	backend := newFakeBackend()
	commander := newFakeCommander()
	a := NewCodexAdapter(backend, commander)

	backend.setOutput("dev", "codex session restored")
	err := a.Start(context.Background(), StartConfig{
		SessionName: "dev",
		ResumeToken: "sess-42",
	})
	require.NoError(t, err)
	assert.Equal(t, "codex resume sess-42 --full-auto", commander.messages[0])
}

func TestWaitForReady_TimesOut(t *testing.T) {
	backend := newFakeBackend()
	a := NewGeminiAdapter(backend, newFakeCommander())

	_, err := backend.CreateSession("idle", term.Options{})
	require.NoError(t, err)
	backend.setOutput("idle", "$ ") // plain shell, never ready

	err = a.WaitForReady(context.Background(), "idle", 100*time.Millisecond)
	require.ErrorIs(t, err, ErrNotReady)
}

func TestDetectRuntime_LiveAndDead(t *testing.T) {
	backend := newFakeBackend()
	commander := newFakeCommander()
	a := NewClaudeAdapter(backend, commander)

	_, err := backend.CreateSession("dev", term.Options{})
	require.NoError(t, err)
	backend.setOutput("dev", "│ >")

	// Live runtime: the probe key redraws the screen with a palette.
	commander.onKey = func(session, key string) {
		if key == "/" {
			backend.setOutput(session, "│ > /\n  /clear  /help  /model")
		}
	}
	live, err := a.DetectRuntime(context.Background(), "dev")
	require.NoError(t, err)
	assert.True(t, live)
	assert.Contains(t, commander.keys, "Escape", "palette must be dismissed")

	// Dead runtime: output unchanged by the probe.
	commander.onKey = nil
	backend.setOutput("dev", "$ ")
	live, err = a.DetectRuntime(context.Background(), "dev")
	require.NoError(t, err)
	assert.False(t, live)
}

func TestStop_KillsSession(t *testing.T) {
	backend := newFakeBackend()
	a := NewGeminiAdapter(backend, newFakeCommander())

	_, err := backend.CreateSession("dev", term.Options{})
	require.NoError(t, err)
	require.NoError(t, a.Stop(context.Background(), "dev"))
	assert.False(t, a.IsRunning("dev"))
}

func TestInitTimeouts(t *testing.T) {
	assert.Equal(t, ClaudeInitTimeout, StartConfig{}.InitTimeout(TypeClaudeCode))
	assert.Equal(t, GenericInitTimeout, StartConfig{}.InitTimeout(TypeGeminiCLI))
	assert.Equal(t, OrchestratorInitTimeout,
		StartConfig{IsOrchestrator: true}.InitTimeout(TypeClaudeCode))
}
