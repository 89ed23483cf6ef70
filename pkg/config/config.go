// Package config loads the TOML configuration shared by the parley binaries.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Signaling   SignalingConfig   `toml:"signaling"`
	WebRTC      WebRTCConfig      `toml:"webrtc"`
	Negotiation NegotiationConfig `toml:"negotiation"`
	Turn        TurnConfig        `toml:"turn"`
	Log         LogConfig         `toml:"log"`
}

type SignalingConfig struct {
	URL    string       `toml:"url"`
	Listen string       `toml:"listen"`
	Path   string       `toml:"path"`
	Redial RedialConfig `toml:"redial"`
	TLS    TLSConfig    `toml:"tls"`

	// Static is a directory served at the root of the signaling server.
	// Unknown paths fall back to its index.html.
	Static string `toml:"static"`
}

// TLSConfig enables HTTPS on the signaling listener. Without a key pair a
// self-signed certificate is generated at startup.
type TLSConfig struct {
	Enabled  bool   `toml:"enabled"`
	CertFile string `toml:"cert"`
	KeyFile  string `toml:"key"`

	// Redirect is a plain HTTP listen address that redirects to HTTPS.
	Redirect string `toml:"redirect"`
}

// SelfSigned reports whether no key pair is configured.
func (c TLSConfig) SelfSigned() bool {
	return c.CertFile == "" && c.KeyFile == ""
}

// RedialConfig controls reconnection of the signaling channel. Intervals
// are in milliseconds.
type RedialConfig struct {
	Attempts     int `toml:"attempts"`
	BaseInterval int `toml:"base"`
	MaxBackoff   int `toml:"max"`
}

// NegotiationConfig durations: debounce in milliseconds, timeout in seconds.
// A zero timeout disables the stuck negotiation warning.
type NegotiationConfig struct {
	Debounce int `toml:"debounce"`
	Timeout  int `toml:"timeout"`
}

func (c NegotiationConfig) DebounceInterval() time.Duration {
	return time.Duration(c.Debounce) * time.Millisecond
}

func (c NegotiationConfig) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

type TurnConfig struct {
	Enabled   bool     `toml:"enabled"`
	Realm     string   `toml:"realm"`
	Address   string   `toml:"address"`
	PublicIP  string   `toml:"publicip"`
	PortRange []uint16 `toml:"portrange"`

	// Credentials is a comma separated list of user=password pairs.
	Credentials string `toml:"credentials"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`

	// SDPDumpDir receives a copy of every description when set.
	SDPDumpDir string `toml:"sdpdump"`
}

func Default() Config {
	return Config{
		Signaling: SignalingConfig{
			URL:    "ws://localhost:8080/signaling",
			Listen: ":8080",
			Path:   "/signaling",
			Redial: RedialConfig{
				Attempts:     5,
				BaseInterval: 200,
				MaxBackoff:   5000,
			},
		},
		WebRTC: WebRTCConfig{
			ICEServers: []ICEServerConfig{
				{URLs: []string{"stun:stun.l.google.com:19302"}},
			},
		},
		Negotiation: NegotiationConfig{
			Debounce: 250,
		},
		Turn: TurnConfig{
			Realm:   "parley",
			Address: "0.0.0.0:3478",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads path on top of Default and validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	return Parse(data)
}

func Parse(data []byte) (Config, error) {
	c := Default()
	defaultICEServers := c.WebRTC.ICEServers
	c.WebRTC.ICEServers = nil

	if err := toml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if c.WebRTC.ICEServers == nil {
		c.WebRTC.ICEServers = defaultICEServers
	}

	if err := c.Validate(); err != nil {
		return Config{}, err
	}

	return c, nil
}

func (c Config) Validate() error {
	var errs []error

	u, err := url.Parse(c.Signaling.URL)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("signaling.url: %w", err))
	case u.Scheme != "ws" && u.Scheme != "wss":
		errs = append(errs, fmt.Errorf("signaling.url: scheme must be ws or wss, got %q", u.Scheme))
	}

	if !strings.HasPrefix(c.Signaling.Path, "/") {
		errs = append(errs, fmt.Errorf("signaling.path must start with '/': %q", c.Signaling.Path))
	}

	if (c.Signaling.TLS.CertFile == "") != (c.Signaling.TLS.KeyFile == "") {
		errs = append(errs, errors.New("signaling.tls: cert and key must be set together"))
	}
	if c.Signaling.TLS.Redirect != "" && !c.Signaling.TLS.Enabled {
		errs = append(errs, errors.New("signaling.tls.redirect requires signaling.tls.enabled"))
	}

	if c.Signaling.Redial.Attempts < 1 {
		errs = append(errs, errors.New("signaling.redial.attempts must be at least 1"))
	}

	if err := validatePortRange("webrtc.portrange", c.WebRTC.ICEPortRange); err != nil {
		errs = append(errs, err)
	}

	for i, s := range c.WebRTC.ICEServers {
		if len(s.URLs) == 0 {
			errs = append(errs, fmt.Errorf("webrtc.iceserver[%d]: urls is empty", i))
		}
	}

	if c.Negotiation.Debounce < 0 || c.Negotiation.Timeout < 0 {
		errs = append(errs, errors.New("negotiation durations must not be negative"))
	}

	if c.Turn.Enabled {
		if err := validatePortRange("turn.portrange", c.Turn.PortRange); err != nil {
			errs = append(errs, err)
		}
		if _, err := c.Turn.Users(); err != nil {
			errs = append(errs, err)
		}
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}

	if c.Log.Format != "json" && c.Log.Format != "text" {
		errs = append(errs, fmt.Errorf("log.format must be json or text, got %q", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}

	return nil
}

// SessionURL is the signaling endpoint of sessionID.
func (c SignalingConfig) SessionURL(sessionID string) string {
	return strings.TrimSuffix(c.URL, "/") + "/" + url.PathEscape(sessionID)
}

// Users parses Credentials.
func (c TurnConfig) Users() (map[string]string, error) {
	users := make(map[string]string)

	for _, pair := range strings.Split(c.Credentials, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		user, pass, ok := strings.Cut(pair, "=")
		if !ok || user == "" {
			return nil, fmt.Errorf("turn.credentials: malformed entry %q", pair)
		}
		users[user] = pass
	}

	if len(users) == 0 {
		return nil, errors.New("turn.credentials: no users configured")
	}

	return users, nil
}

func (c LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// NewLogger builds the process logger writing to w.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	level, err := c.SlogLevel()
	if err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	if c.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}

	return slog.New(slog.NewJSONHandler(w, opts))
}

func validatePortRange(name string, r []uint16) error {
	switch len(r) {
	case 0:
		return nil
	case 2:
		if r[0] == 0 || r[0] > r[1] {
			return fmt.Errorf("%s: invalid range %d-%d", name, r[0], r[1])
		}
		return nil
	default:
		return fmt.Errorf("%s: expected two ports, got %d", name, len(r))
	}
}
