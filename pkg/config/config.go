package config

import (
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"
)

// Config defines the global application configuration structure.
// This structure maps directly to the config.json file and holds
// business-level settings like channel credentials, the LLM provider
// groups and the durable store coordinates.
type Config struct {
	// Channels contains a map of channel identifiers (e.g., "web",
	// "telegram") to their specific configuration payloads in raw JSON format.
	Channels map[string]jsoniter.RawMessage `json:"channels"`
	// LLM holds the configuration for the LLM provider groups in raw JSON.
	LLM jsoniter.RawMessage `json:"llm"`
	// Store holds the durable event-store coordinates. When left empty the
	// process runs on the in-memory tier from the start.
	Store StoreConfig `json:"store"`
	// SystemPrompt is the global persona/instruction string sent to the AI
	// as the initial system message in every conversation.
	SystemPrompt string `json:"system_prompt"`
}

// StoreConfig holds the durable (Postgres) tier coordinates. The backend is
// probed exactly once at startup and the choice is then fixed for the
// process lifetime.
type StoreConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
	// ProbeTimeoutMs bounds the single startup availability probe.
	ProbeTimeoutMs int `json:"probe_timeout_ms"`
	MaxOpenConns   int `json:"max_open_conns"`
	MaxIdleConns   int `json:"max_idle_conns"`
}

// Configured reports whether a durable tier is configured at all.
func (s StoreConfig) Configured() bool {
	return s.Host != "" && s.Database != ""
}

// Validate ensures the configuration structure contains all mandatory fields.
// It acts as a primary guard before the system proceeds to initialization.
func (c *Config) Validate() error {
	if len(c.LLM) == 0 {
		return fmt.Errorf("mandatory 'llm' configuration is missing or empty")
	}
	return nil
}

// SystemConfig defines engine-level technical parameters.
// These settings are usually stored in system.json and control the
// performance, reliability, and technical behavior of the engine.
type SystemConfig struct {
	// MaxRetries is the number of times the FallbackClient will attempt to
	// initiate a stream against one provider before moving to the next.
	MaxRetries int `json:"max_retries"`
	// RetryDelayMs is the duration to wait (in milliseconds) between
	// consecutive stream-initiation attempts.
	RetryDelayMs int `json:"retry_delay_ms"`
	// LLMTimeoutMs is the hard cutoff time (in milliseconds) for one
	// completion cycle. The context will be cancelled if exceeded.
	LLMTimeoutMs int `json:"llm_timeout_ms"`
	// MaxToolDepth bounds the tool-call chain within a single turn: the
	// model may request a tool, receive its result, and request another at
	// most this many times before the engine force-finishes the turn.
	MaxToolDepth int `json:"max_tool_depth"`
	// ToolTimeoutMs bounds a single tool invocation. Exceeding it produces
	// a structured error result fed back to the model.
	ToolTimeoutMs int `json:"tool_timeout_ms"`
	// SessionQueueSize is the per-session inbound message queue length.
	// Messages arriving while a cycle is in flight wait here in FIFO order.
	SessionQueueSize int `json:"session_queue_size"`
	// InternalChannelBuffer defines the size of the internal Go channels
	// used for buffering stream chunks to prevent production blocking.
	InternalChannelBuffer int `json:"internal_channel_buffer"`
	// SummaryTailEvents is how many trailing events are fed to the
	// summarization request after a disconnect.
	SummaryTailEvents int `json:"summary_tail_events"`
	// SessionIdleTimeoutMs closes a polling-channel session (telegram)
	// after this much inactivity, standing in for a socket disconnect.
	SessionIdleTimeoutMs int `json:"session_idle_timeout_ms"`
	// TelegramMessageLimit is the maximum character count for a single
	// Telegram message. Longer responses will be split into multiple chunks.
	TelegramMessageLimit int `json:"telegram_message_limit"`
	// OllamaDefaultURL is the fallback endpoint used when connecting
	// to a local Ollama instance if no specific URL is provided.
	OllamaDefaultURL string `json:"ollama_default_url"`
	// LogLevel sets the minimum severity for log output.
	// Accepted values: "debug", "info", "warn", "error". Default: "info".
	LogLevel string `json:"log_level"`
	// EnableTools globally toggles the tool calling (agentic) functionality.
	// If false, the AI will not be provided with any external tools/capabilities.
	EnableTools bool `json:"enable_tools"`
}

// DefaultSystemConfig returns a SystemConfig pointer initialized with hardcoded
// safe default values. This is used as a fallback when the system.json file
// is missing or corrupt, ensuring the engine can always start.
func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		MaxRetries:            3,
		RetryDelayMs:          500,
		LLMTimeoutMs:          600000,
		MaxToolDepth:          5,
		ToolTimeoutMs:         10000,
		SessionQueueSize:      16,
		InternalChannelBuffer: 100,
		SummaryTailEvents:     10,
		SessionIdleTimeoutMs:  300000,
		TelegramMessageLimit:  4000,
		OllamaDefaultURL:      "http://localhost:11434",
		LogLevel:              "info",
		EnableTools:           true,
	}
}

// Load reads and parses the JSON configuration files from the current working directory.
// It first attempts to load 'config.json' (app config). If this file is missing, it returns an error.
// Then it calls LoadSystemConfig to load 'system.json'.
// Returns pointers to the loaded Config and SystemConfig, or an error if the mandatory app config fails.
func Load() (*Config, *SystemConfig, error) {
	// 1. Load Application Config
	appPath := "config.json"
	if _, err := os.Stat(appPath); os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("config file '%s' not found. please create one", appPath)
	}

	appFile, err := os.ReadFile(appPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(appFile, &cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// 1a. Validate structure integrity
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	// 2. Load System Config independently
	sysCfg := LoadSystemConfig("system.json")

	return &cfg, sysCfg, nil
}

// LoadSystemConfig attempts to load system settings, returns defaults if it fails
func LoadSystemConfig(path string) *SystemConfig {
	cfg := DefaultSystemConfig()

	file, err := os.ReadFile(path)
	if err != nil {
		return cfg // File not found, use defaults
	}

	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(file, cfg); err != nil {
		return cfg // Parse failed, use defaults
	}

	return cfg
}
