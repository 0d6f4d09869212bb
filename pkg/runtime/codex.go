package runtime

import (
	"fmt"
	"regexp"
)

var codexReadyPattern = regexp.MustCompile(`(?i)(codex|ctrl\+c to exit|▌)`)

// NewCodexAdapter builds the codex-cli adapter.
func NewCodexAdapter(backend SessionBackend, commander Commander) Adapter {
	return &base{
		typ:       TypeCodexCLI,
		backend:   backend,
		commander: commander,
		initCommand: func(cfg StartConfig) string {
			if cfg.ResumeToken != "" {
				return fmt.Sprintf("codex resume %s --full-auto", cfg.ResumeToken)
			}
			return "codex --full-auto"
		},
		readyPattern: codexReadyPattern,
		probeKey:     "/",
	}
}
