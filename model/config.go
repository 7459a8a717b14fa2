package model

import (
	"errors"
	"strings"
)

const defaultChatPath = "/v1/chat/completions"

// defaultPrompt instructs the model to answer with a flat JSON object so the
// field decoders can surface values incrementally. The {{command}} marker is
// replaced with the narrated command line.
const defaultPrompt = `You are simulating a POSIX shell session. The user runs:

{{command}}

Respond with a single flat JSON object with exactly two string fields:
"output" containing the terminal output the command would produce, and
"explanation" containing one sentence describing what the command did.
No markdown, no code fences, no fields other than these two.`

// Config configures the upstream model client.
type Config struct {
	// BaseURL is the OpenAI-compatible API root, e.g. https://api.openai.com.
	BaseURL string `yaml:"base_url"`
	// APIKey is sent as a bearer token. Optional for local servers.
	APIKey string `yaml:"api_key"`
	// Model is the model identifier passed through to the provider.
	Model string `yaml:"model"`
	// ChatPath overrides the chat completions path.
	ChatPath string `yaml:"chat_path"`
	// Prompt overrides the narration prompt template. Must contain the
	// {{command}} marker.
	Prompt string `yaml:"prompt"`
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("model config is required")
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("model base_url is required")
	}
	if strings.TrimSpace(c.Model) == "" {
		return errors.New("model name is required")
	}
	if c.Prompt != "" && !strings.Contains(c.Prompt, "{{command}}") {
		return errors.New("model prompt template must contain {{command}}")
	}
	return nil
}

func (c *Config) chatPath() string {
	if strings.TrimSpace(c.ChatPath) != "" {
		return c.ChatPath
	}
	return defaultChatPath
}

func (c *Config) prompt(command string) string {
	tmpl := c.Prompt
	if tmpl == "" {
		tmpl = defaultPrompt
	}
	return strings.ReplaceAll(tmpl, "{{command}}", command)
}
