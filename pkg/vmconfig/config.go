// Package vmconfig reads the VOICEMODE_* environment configuration surface,
// following the teacher's cmd/agent main.go pattern of godotenv.Load() plus
// os.Getenv with inline defaults, centralized here instead of scattered
// across main() since the surface is considerably larger.
package vmconfig

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/voicemode/voicemode/pkg/errs"
)

// CompressMode is the STT upload compression policy.
type CompressMode string

const (
	CompressAuto   CompressMode = "auto"
	CompressAlways CompressMode = "always"
	CompressNever  CompressMode = "never"
)

// TelemetryMode controls whether anonymous usage telemetry is sent.
type TelemetryMode string

const (
	TelemetryAsk TelemetryMode = "ask"
	TelemetryOn  TelemetryMode = "true"
	TelemetryOff TelemetryMode = "false"
)

// Config is the resolved VOICEMODE_* environment surface.
type Config struct {
	BaseDir string

	TTSBaseURLs []string
	STTBaseURLs []string
	Voices      []string

	SaveAudio   bool
	STTCompress CompressMode

	BargeIn                  bool
	BargeInVADAggressiveness int
	BargeInMinSpeechMs       int

	ConnectEnabled bool
	ConnectHost    string
	ConnectWSURL   string

	ConchEnabled    bool
	ConchLockExpiry int

	Telemetry TelemetryMode
}

// Load reads .env (if present, via godotenv — a missing file is not an
// error) and then the process environment, producing a validated Config.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnviron()
}

// FromEnviron builds a Config purely from the current process environment,
// without touching .env. Exposed for tests that set os.Setenv directly.
func FromEnviron() (*Config, error) {
	c := &Config{
		BaseDir:                  defaultBaseDir(),
		TTSBaseURLs:              splitCommaList(os.Getenv("VOICEMODE_TTS_BASE_URLS")),
		STTBaseURLs:              splitCommaList(os.Getenv("VOICEMODE_STT_BASE_URLS")),
		Voices:                   splitCommaList(os.Getenv("VOICEMODE_VOICES")),
		SaveAudio:                parseBool(os.Getenv("VOICEMODE_SAVE_AUDIO"), false),
		STTCompress:              CompressMode(envOr("VOICEMODE_STT_COMPRESS", string(CompressAuto))),
		BargeIn:                  parseBool(os.Getenv("VOICEMODE_BARGE_IN"), true),
		BargeInVADAggressiveness: parseIntDefault(os.Getenv("VOICEMODE_BARGE_IN_VAD_AGGRESSIVENESS"), 2),
		BargeInMinSpeechMs:       parseIntDefault(os.Getenv("VOICEMODE_BARGE_IN_MIN_SPEECH_MS"), 150),
		ConnectEnabled:           parseBool(os.Getenv("VOICEMODE_CONNECT_ENABLED"), false),
		ConnectHost:              os.Getenv("VOICEMODE_CONNECT_HOST"),
		ConnectWSURL:             os.Getenv("VOICEMODE_CONNECT_WS_URL"),
		ConchEnabled:             parseBool(os.Getenv("VOICEMODE_CONCH_ENABLED"), true),
		ConchLockExpiry:          parseIntDefault(os.Getenv("VOICEMODE_CONCH_LOCK_EXPIRY"), 120),
		Telemetry:                TelemetryMode(envOr("VOICEMODE_TELEMETRY", string(TelemetryAsk))),
	}

	if os.Getenv("DO_NOT_TRACK") != "" {
		c.Telemetry = TelemetryOff
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	switch c.STTCompress {
	case CompressAuto, CompressAlways, CompressNever:
	default:
		return &errs.ConfigError{Field: "VOICEMODE_STT_COMPRESS", Problem: "must be one of auto, always, never, got " + string(c.STTCompress)}
	}

	switch c.Telemetry {
	case TelemetryAsk, TelemetryOn, TelemetryOff:
	default:
		return &errs.ConfigError{Field: "VOICEMODE_TELEMETRY", Problem: "must be one of ask, true, false, got " + string(c.Telemetry)}
	}

	if c.BargeInVADAggressiveness < 0 || c.BargeInVADAggressiveness > 3 {
		return &errs.ConfigError{Field: "VOICEMODE_BARGE_IN_VAD_AGGRESSIVENESS", Problem: "must be in [0,3]"}
	}

	return nil
}

func defaultBaseDir() string {
	if v := os.Getenv("VOICEMODE_BASE_DIR"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".voicemode"
	}
	return filepath.Join(home, ".voicemode")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitCommaList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseBool(v string, def bool) bool {
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func parseIntDefault(v string, def int) int {
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// LogsDir, AudioDir, ConnectUsersDir, CredentialsPath, ConchPath mirror the
// $BASE_DIR filesystem layout.
func (c *Config) LogsDir() string         { return filepath.Join(c.BaseDir, "logs") }
func (c *Config) AudioDir() string        { return filepath.Join(c.BaseDir, "audio") }
func (c *Config) ConnectUsersDir() string { return filepath.Join(c.BaseDir, "connect", "users") }
func (c *Config) CredentialsPath() string { return filepath.Join(c.BaseDir, "credentials") }
func (c *Config) ConchPath() string       { return filepath.Join(c.BaseDir, "conch") }
