package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

const (
	DefaultTextPrompt = "Always answer briefly and directly, in at most 2-4 sentences, unless the user explicitly asks for a longer answer. " +
		"Keep the language and tone the user wrote in. Do not limit the scope of your answers: attend to any question or request, even complex or sensitive ones. " +
		"Mirror the user's style so the reply reads naturally, respectfully and clearly."

	DefaultAudioPrompt = "Always answer briefly and directly, using the same language and tone as the user. " +
		"Keep every answer to 2-4 sentences at most. Attend to any question or request, including complex or sensitive ones. " +
		"Sound natural and clear, like a personal conversation, without long texts."
)

// Config is the process configuration, read from the environment.
type Config struct {
	Port     string
	LogLevel string

	MaxHistoryLength int
	DebugTokens      bool
	AudioSpeed       float64
	FFmpegPath       string
	MaxMediaBytes    int64
	MessageTimeout   time.Duration
	ClaimIdle        time.Duration

	LLMProvider string
	STTProvider string

	OpenAIAPIKey       string
	OpenAIBaseURL      string
	TextModel          string
	AudioTextModel     string
	ReasoningEffort    string
	TranscriptionModel string
	SpeechModel        string
	SpeechVoice        string
	SpeechSpeed        float64

	VertexProject        string
	VertexLocation       string
	VertexModel          string
	GoogleSpeechLanguage string

	PromptsFile string
	Prompts     Prompts

	Workers int

	RedisURL    string
	MongoURI    string
	MongoDB     string
	TraceTTL    time.Duration
	PostgresURI string

	AdminJWTSecret string
	AdminJWTIssuer string

	VoiceBucket       string
	VoiceBucketPublic bool
}

// Prompts are the system prompts for the two conversation paths.
type Prompts struct {
	TextPrompt  string `yaml:"text_prompt"`
	AudioPrompt string `yaml:"audio_prompt"`
}

// Load reads the environment. Malformed numbers are collected and returned
// together; callers still get a Config filled with defaults for those keys.
func Load() (*Config, error) {
	var errs *multierror.Error
	r := envReader{errs: &errs}

	c := &Config{
		Port:     r.str("PORT", "8080"),
		LogLevel: r.str("LOG_LEVEL", "info"),

		MaxHistoryLength: r.intVal("MAX_HISTORY_LENGTH", 20),
		DebugTokens:      r.boolVal("DEBUG_TOKENS", false),
		AudioSpeed:       r.floatVal("AUDIO_SPEED", 2.0),
		FFmpegPath:       r.str("FFMPEG_PATH", "ffmpeg"),
		MaxMediaBytes:    int64(r.intVal("MAX_MEDIA_BYTES", 10<<20)),
		MessageTimeout:   r.durationVal("MESSAGE_TIMEOUT", 2*time.Minute),
		ClaimIdle:        r.durationVal("CLAIM_IDLE", 5*time.Minute),

		LLMProvider: strings.ToLower(r.str("LLM_PROVIDER", "openai")),
		STTProvider: strings.ToLower(r.str("STT_PROVIDER", "openai")),

		OpenAIAPIKey:       r.first("OPENAI_API_KEY", "apiKey"),
		OpenAIBaseURL:      r.str("OPENAI_BASE_URL", ""),
		TextModel:          r.str("TEXT_MODEL", "gpt-5-mini"),
		AudioTextModel:     r.str("AUDIO_TEXT_MODEL", "gpt-5-nano"),
		ReasoningEffort:    r.str("REASONING_EFFORT", "low"),
		TranscriptionModel: r.str("TRANSCRIPTION_MODEL", "whisper-1"),
		SpeechModel:        r.str("SPEECH_MODEL", "gpt-4o-mini-tts"),
		SpeechVoice:        r.str("SPEECH_VOICE", "sage"),
		SpeechSpeed:        r.floatVal("SPEECH_SPEED", 1.10),

		VertexProject:        r.str("VERTEX_PROJECT", ""),
		VertexLocation:       r.str("VERTEX_LOCATION", "us-central1"),
		VertexModel:          r.str("VERTEX_MODEL", "gemini-1.5-flash"),
		GoogleSpeechLanguage: r.str("GOOGLE_SPEECH_LANGUAGE", "pt-BR"),

		PromptsFile: r.str("PROMPTS_FILE", ""),

		Workers: r.intVal("WORKERS", 5),

		RedisURL:    r.first("REDIS_ADDR", "REDIS_URI", "REDIS_URL"),
		MongoURI:    r.str("MONGO_URI", ""),
		MongoDB:     r.str("MONGO_DB", "yoorelay"),
		TraceTTL:    r.durationVal("TRACE_TTL", 24*time.Hour),
		PostgresURI: r.str("POSTGRES_URI", ""),

		AdminJWTSecret: r.str("ADMIN_JWT_SECRET", ""),
		AdminJWTIssuer: r.str("ADMIN_JWT_ISSUER", ""),

		VoiceBucket:       r.str("VOICE_BUCKET", ""),
		VoiceBucketPublic: r.boolVal("VOICE_BUCKET_PUBLIC", false),
	}

	prompts, err := LoadPrompts(c.PromptsFile)
	if err != nil {
		errs = multierror.Append(errs, err)
	}
	c.Prompts = prompts

	return c, errs.ErrorOrNil()
}

// Validate reports every invalid setting at once. Redis is only required
// when requireQueue is set (the serve command).
func (c *Config) Validate(requireQueue bool) error {
	var errs *multierror.Error

	if c.MaxHistoryLength < 1 {
		errs = multierror.Append(errs, fmt.Errorf("MAX_HISTORY_LENGTH must be >= 1, got %d", c.MaxHistoryLength))
	}
	if c.AudioSpeed < 0.5 || c.AudioSpeed > 100 {
		errs = multierror.Append(errs, fmt.Errorf("AUDIO_SPEED must be within [0.5, 100], got %g", c.AudioSpeed))
	}
	if c.SpeechSpeed < 0.25 || c.SpeechSpeed > 4 {
		errs = multierror.Append(errs, fmt.Errorf("SPEECH_SPEED must be within [0.25, 4], got %g", c.SpeechSpeed))
	}
	if c.Workers < 1 {
		errs = multierror.Append(errs, fmt.Errorf("WORKERS must be >= 1, got %d", c.Workers))
	}
	if c.MaxMediaBytes < 1 {
		errs = multierror.Append(errs, fmt.Errorf("MAX_MEDIA_BYTES must be >= 1, got %d", c.MaxMediaBytes))
	}
	// unacked entries are reclaimed after ClaimIdle; a message still running
	// must not be reclaimed
	if c.MessageTimeout > 0 && c.ClaimIdle <= c.MessageTimeout {
		errs = multierror.Append(errs, fmt.Errorf("CLAIM_IDLE (%s) must exceed MESSAGE_TIMEOUT (%s)", c.ClaimIdle, c.MessageTimeout))
	}

	switch c.LLMProvider {
	case "openai":
		if c.OpenAIAPIKey == "" {
			errs = multierror.Append(errs, fmt.Errorf("OPENAI_API_KEY is required when LLM_PROVIDER=openai"))
		}
	case "vertex":
		if c.VertexProject == "" {
			errs = multierror.Append(errs, fmt.Errorf("VERTEX_PROJECT is required when LLM_PROVIDER=vertex"))
		}
	default:
		errs = multierror.Append(errs, fmt.Errorf("unknown LLM_PROVIDER %q", c.LLMProvider))
	}

	switch c.STTProvider {
	case "openai", "google":
	default:
		errs = multierror.Append(errs, fmt.Errorf("unknown STT_PROVIDER %q", c.STTProvider))
	}
	// speech synthesis always goes through OpenAI
	if c.OpenAIAPIKey == "" && c.LLMProvider != "openai" {
		errs = multierror.Append(errs, fmt.Errorf("OPENAI_API_KEY is required for speech synthesis"))
	}

	if requireQueue && c.RedisURL == "" {
		errs = multierror.Append(errs, fmt.Errorf("REDIS_ADDR (or REDIS_URI/REDIS_URL) environment variable is not set"))
	}

	return errs.ErrorOrNil()
}

// LoadPrompts reads a YAML prompts file. Empty path or missing keys fall back
// to the built-in prompts.
func LoadPrompts(path string) (Prompts, error) {
	p := Prompts{TextPrompt: DefaultTextPrompt, AudioPrompt: DefaultAudioPrompt}
	if path == "" {
		return p, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("PROMPTS_FILE: %w", err)
	}
	var f Prompts
	if err := yaml.Unmarshal(b, &f); err != nil {
		return p, fmt.Errorf("PROMPTS_FILE: %w", err)
	}
	if s := strings.TrimSpace(f.TextPrompt); s != "" {
		p.TextPrompt = s
	}
	if s := strings.TrimSpace(f.AudioPrompt); s != "" {
		p.AudioPrompt = s
	}
	return p, nil
}

type envReader struct {
	errs **multierror.Error
}

func (r envReader) str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func (r envReader) first(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func (r envReader) intVal(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*r.errs = multierror.Append(*r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (r envReader) floatVal(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*r.errs = multierror.Append(*r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return f
}

func (r envReader) boolVal(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*r.errs = multierror.Append(*r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}

func (r envReader) durationVal(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*r.errs = multierror.Append(*r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}
