package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Upstream providers
const (
	ProviderAzure  = "azure"
	ProviderGemini = "gemini"
)

// Config holds all server configuration
type Config struct {
	Port            int
	TwilioPort      int    // Port for Twilio server (used when ServerType is "both")
	ServerType      string // "websocket", "twilio", or "both"
	RedisURL        string
	RedisPassword   string
	MaxSessions     int
	SessionTimeout  time.Duration
	AllowedOrigins  []string
	KeepAlivePeriod time.Duration
	StaticDir       string

	Upstream  UpstreamConfig
	Synthesis SynthesisConfig
	Telemetry TelemetryConfig
	NATS      NATSConfig

	// Profile is the session configuration sent upstream once per session.
	Profile Profile
}

// UpstreamConfig selects and authenticates the conversational endpoint
type UpstreamConfig struct {
	Provider        string // "azure" or "gemini"
	AzureEndpoint   string
	AzureAPIKey     string
	AzureDeployment string
	AzureAPIVersion string
	GeminiAPIKey    string
	GeminiModel     string
	DialTimeout     time.Duration
}

// SynthesisConfig configures the ElevenLabs voice
type SynthesisConfig struct {
	APIKey       string
	VoiceID      string
	ModelID      string
	OutputFormat string // used for browser sessions; Twilio sessions always use ulaw_8000
	BaseURL      string
	Streaming    bool
	Timeout      time.Duration
}

// TelemetryConfig configures trace export. Metrics are always served on /metrics.
type TelemetryConfig struct {
	ServiceName  string
	OTLPEndpoint string
	OTLPInsecure bool
}

// NATSConfig enables transcript publishing when URL is set
type NATSConfig struct {
	URL     string
	Subject string
}

// LoadConfig loads configuration from environment variables with defaults
func LoadConfig() (*Config, error) {
	// Load .env file if it exists (doesn't error if missing)
	_ = godotenv.Load()

	config := &Config{
		Port:            8080,
		TwilioPort:      8081,
		ServerType:      "websocket",
		RedisURL:        "localhost:6379",
		RedisPassword:   "",
		MaxSessions:     100,
		SessionTimeout:  30 * time.Minute,
		AllowedOrigins:  []string{"*"},
		KeepAlivePeriod: 30 * time.Second,
		StaticDir:       "static",
		Upstream: UpstreamConfig{
			Provider:        ProviderAzure,
			AzureDeployment: "gpt-4o-realtime",
			AzureAPIVersion: "2025-04-01-preview",
			GeminiModel:     "gemini-2.0-flash-live-001",
			DialTimeout:     10 * time.Second,
		},
		Synthesis: SynthesisConfig{
			ModelID:      "eleven_monolingual_v1",
			OutputFormat: "pcm_24000",
			BaseURL:      "https://api.elevenlabs.io",
			Streaming:    true,
			Timeout:      30 * time.Second,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "voice-relay",
		},
		NATS: NATSConfig{
			Subject: "relay.transcripts",
		},
		Profile: DefaultProfile(),
	}

	if err := config.loadServer(); err != nil {
		return nil, err
	}
	if err := config.loadUpstream(); err != nil {
		return nil, err
	}
	if err := config.loadSynthesis(); err != nil {
		return nil, err
	}
	config.loadTelemetry()

	// Optional: SESSION_PROFILE (YAML file overriding the default profile)
	if path := os.Getenv("SESSION_PROFILE"); path != "" {
		profile, err := LoadProfile(path)
		if err != nil {
			return nil, err
		}
		config.Profile = profile
	}

	return config, nil
}

func (c *Config) loadServer() error {
	// Optional: PORT
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid PORT: %w", err)
		}
		c.Port = p
	}

	// Optional: REDIS_URL ("off" disables the session registry)
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		if redisURL == "off" {
			redisURL = ""
		}
		c.RedisURL = redisURL
	}

	// Optional: REDIS_PASSWORD
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		c.RedisPassword = redisPassword
	}

	// Optional: MAX_SESSIONS
	if maxSessions := os.Getenv("MAX_SESSIONS"); maxSessions != "" {
		m, err := strconv.Atoi(maxSessions)
		if err != nil {
			return fmt.Errorf("invalid MAX_SESSIONS: %w", err)
		}
		c.MaxSessions = m
	}

	// Optional: SESSION_TIMEOUT (in minutes)
	if timeout := os.Getenv("SESSION_TIMEOUT"); timeout != "" {
		t, err := strconv.Atoi(timeout)
		if err != nil {
			return fmt.Errorf("invalid SESSION_TIMEOUT: %w", err)
		}
		c.SessionTimeout = time.Duration(t) * time.Minute
	}

	// Optional: ALLOWED_ORIGINS (comma-separated)
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		c.AllowedOrigins = splitList(origins)
	}

	// Optional: KEEPALIVE_PERIOD (in seconds, 0 disables pings)
	if keepalive := os.Getenv("KEEPALIVE_PERIOD"); keepalive != "" {
		k, err := strconv.Atoi(keepalive)
		if err != nil {
			return fmt.Errorf("invalid KEEPALIVE_PERIOD: %w", err)
		}
		c.KeepAlivePeriod = time.Duration(k) * time.Second
	}

	// Optional: STATIC_DIR
	if dir := os.Getenv("STATIC_DIR"); dir != "" {
		c.StaticDir = dir
	}

	// Optional: SERVER_TYPE ("websocket", "twilio", or "both")
	if serverType := os.Getenv("SERVER_TYPE"); serverType != "" {
		switch serverType {
		case "websocket", "twilio", "both":
			c.ServerType = serverType
		default:
			return fmt.Errorf("invalid SERVER_TYPE: must be 'websocket', 'twilio', or 'both'")
		}
	}

	// Optional: TWILIO_PORT (used when SERVER_TYPE is "both")
	if twilioPort := os.Getenv("TWILIO_PORT"); twilioPort != "" {
		tp, err := strconv.Atoi(twilioPort)
		if err != nil {
			return fmt.Errorf("invalid TWILIO_PORT: %w", err)
		}
		c.TwilioPort = tp
	}

	return nil
}

func (c *Config) loadUpstream() error {
	up := &c.Upstream

	if provider := os.Getenv("UPSTREAM_PROVIDER"); provider != "" {
		switch provider {
		case ProviderAzure, ProviderGemini:
			up.Provider = provider
		default:
			return fmt.Errorf("invalid UPSTREAM_PROVIDER: must be 'azure' or 'gemini'")
		}
	}

	up.AzureEndpoint = os.Getenv("AZURE_ENDPOINT")
	up.AzureAPIKey = os.Getenv("AZURE_API_KEY")
	if deployment := os.Getenv("AZURE_DEPLOYMENT"); deployment != "" {
		up.AzureDeployment = deployment
	}
	if version := os.Getenv("AZURE_API_VERSION"); version != "" {
		up.AzureAPIVersion = version
	}
	up.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	if model := os.Getenv("GEMINI_MODEL"); model != "" {
		up.GeminiModel = model
	}

	// Optional: UPSTREAM_DIAL_TIMEOUT (in seconds)
	if timeout := os.Getenv("UPSTREAM_DIAL_TIMEOUT"); timeout != "" {
		t, err := strconv.Atoi(timeout)
		if err != nil {
			return fmt.Errorf("invalid UPSTREAM_DIAL_TIMEOUT: %w", err)
		}
		up.DialTimeout = time.Duration(t) * time.Second
	}

	// Credentials have no fallback values
	switch up.Provider {
	case ProviderAzure:
		if up.AzureEndpoint == "" {
			return fmt.Errorf("AZURE_ENDPOINT environment variable is required")
		}
		if up.AzureAPIKey == "" {
			return fmt.Errorf("AZURE_API_KEY environment variable is required")
		}
	case ProviderGemini:
		if up.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY environment variable is required")
		}
	}
	return nil
}

func (c *Config) loadSynthesis() error {
	s := &c.Synthesis

	// Required: ELEVEN_API_KEY, ELEVEN_VOICE_ID
	s.APIKey = os.Getenv("ELEVEN_API_KEY")
	if s.APIKey == "" {
		return fmt.Errorf("ELEVEN_API_KEY environment variable is required")
	}
	s.VoiceID = os.Getenv("ELEVEN_VOICE_ID")
	if s.VoiceID == "" {
		return fmt.Errorf("ELEVEN_VOICE_ID environment variable is required")
	}

	if model := os.Getenv("ELEVEN_MODEL_ID"); model != "" {
		s.ModelID = model
	}
	if format := os.Getenv("ELEVEN_OUTPUT_FORMAT"); format != "" {
		s.OutputFormat = format
	}
	if base := os.Getenv("ELEVEN_BASE_URL"); base != "" {
		s.BaseURL = strings.TrimRight(base, "/")
	}

	// Optional: ELEVEN_STREAMING (true/false)
	if streaming := os.Getenv("ELEVEN_STREAMING"); streaming != "" {
		b, err := strconv.ParseBool(streaming)
		if err != nil {
			return fmt.Errorf("invalid ELEVEN_STREAMING: %w", err)
		}
		s.Streaming = b
	}

	// Optional: SYNTH_TIMEOUT (in seconds)
	if timeout := os.Getenv("SYNTH_TIMEOUT"); timeout != "" {
		t, err := strconv.Atoi(timeout)
		if err != nil {
			return fmt.Errorf("invalid SYNTH_TIMEOUT: %w", err)
		}
		s.Timeout = time.Duration(t) * time.Second
	}
	return nil
}

func (c *Config) loadTelemetry() {
	if name := os.Getenv("OTEL_SERVICE_NAME"); name != "" {
		c.Telemetry.ServiceName = name
	}
	c.Telemetry.OTLPEndpoint = strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	if insecure, err := strconv.ParseBool(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); err == nil {
		c.Telemetry.OTLPInsecure = insecure
	}

	c.NATS.URL = strings.TrimSpace(os.Getenv("NATS_URL"))
	if subject := os.Getenv("NATS_SUBJECT"); subject != "" {
		c.NATS.Subject = subject
	}
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
