package runtime

import (
	"fmt"
	"regexp"
)

var geminiReadyPattern = regexp.MustCompile(`(?i)(gemini|type your message|>\s*$)`)

// NewGeminiAdapter builds the gemini-cli adapter.
func NewGeminiAdapter(backend SessionBackend, commander Commander) Adapter {
	return &base{
		typ:       TypeGeminiCLI,
		backend:   backend,
		commander: commander,
		initCommand: func(cfg StartConfig) string {
			if cfg.ResumeToken != "" {
				return fmt.Sprintf("gemini --resume %s --yolo", cfg.ResumeToken)
			}
			return "gemini --yolo"
		},
		readyPattern: geminiReadyPattern,
		probeKey:     "/",
	}
}
