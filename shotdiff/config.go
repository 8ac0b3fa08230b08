package shotdiff

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/shotdiff/imagediff"
)

// Radius bounds for the amplified modes.
const (
	MinRadius     = 1
	MaxRadius     = 10
	DefaultRadius = 5
)

// Config holds all shotdiff configuration.
type Config struct {
	// ArtifactDir receives diff images. Empty means ai/.tmp next to the
	// repository that holds each screenshot.
	ArtifactDir    string `yaml:"artifact_dir"`
	BaseURL        string `yaml:"base_url"`
	// Baseline is "git" or "web". The web source only fetches single
	// files; it cannot list changed screenshots, so reports and
	// watch.dir need git.
	Baseline       string `yaml:"baseline"`
	Mode           string `yaml:"mode"`
	AmplifyRadius  int    `yaml:"amplify_radius"`
	HighlightColor string `yaml:"highlight_color"`
	// HighlightAlpha is the blend strength. Zero selects the default 128.
	HighlightAlpha int `yaml:"highlight_alpha"`
	MinPixelDiff   int `yaml:"min_pixel_diff"`
	Workers        int `yaml:"workers"`
	// DBPath enables run and verdict persistence when set.
	DBPath string `yaml:"db_path"`

	HTTP  HTTPConfig  `yaml:"http"`
	MCP   MCPConfig   `yaml:"mcp"`
	Watch WatchConfig `yaml:"watch"`

	Logger *slog.Logger `yaml:"-"`
}

// HTTPConfig controls the review server.
type HTTPConfig struct {
	Addr     string `yaml:"addr"`
	MaxConns int    `yaml:"max_conns"`
	// AuthUser and AuthHash (bcrypt) enable Basic Auth when both are set.
	AuthUser string `yaml:"auth_user"`
	AuthHash string `yaml:"auth_hash"`
}

// MCPConfig controls the MCP server transport.
type MCPConfig struct {
	Transport   string        `yaml:"transport"` // "stdio" or "quic"
	QUICAddr    string        `yaml:"quic_addr"`
	CertFile    string        `yaml:"cert_file"`
	KeyFile     string        `yaml:"key_file"`
	ToolTimeout time.Duration `yaml:"tool_timeout"`
}

// WatchConfig controls the live re-run of the report.
type WatchConfig struct {
	Dir      string        `yaml:"dir"`
	Interval time.Duration `yaml:"interval"`
	Debounce time.Duration `yaml:"debounce"`
}

func (c *Config) defaults() {
	if c.Baseline == "" {
		c.Baseline = "git"
	}
	if c.Mode == "" {
		c.Mode = imagediff.ModeHighlighted.String()
	}
	if c.AmplifyRadius == 0 {
		c.AmplifyRadius = DefaultRadius
	}
	if c.HighlightColor == "" {
		c.HighlightColor = "FF0000"
	}
	if c.HighlightAlpha == 0 {
		c.HighlightAlpha = int(imagediff.DefaultHighlight.A)
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = "127.0.0.1:8089"
	}
	if c.HTTP.MaxConns <= 0 {
		c.HTTP.MaxConns = 64
	}
	if c.MCP.Transport == "" {
		c.MCP.Transport = "stdio"
	}
	if c.MCP.QUICAddr == "" {
		c.MCP.QUICAddr = "127.0.0.1:8443"
	}
	if c.MCP.ToolTimeout <= 0 {
		c.MCP.ToolTimeout = 10 * time.Minute
	}
	if c.Watch.Interval <= 0 {
		c.Watch.Interval = 2 * time.Second
	}
	if c.Watch.Debounce <= 0 {
		c.Watch.Debounce = 500 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Validate checks the config after defaults are applied.
func (c *Config) Validate() error {
	if c.Baseline != "git" && c.Baseline != "web" {
		return fmt.Errorf("%w: baseline %q (want git or web)", ErrInvalidConfig, c.Baseline)
	}
	if c.Baseline == "web" && c.Watch.Dir != "" {
		return fmt.Errorf("%w: watch.dir needs the git baseline", ErrInvalidConfig)
	}
	if _, err := imagediff.ParseMode(c.Mode); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := checkRadius(c.AmplifyRadius); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, err := ParseHighlight(c.HighlightColor, c.HighlightAlpha); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.MinPixelDiff < 0 {
		return fmt.Errorf("%w: min_pixel_diff %d", ErrInvalidConfig, c.MinPixelDiff)
	}
	if c.MCP.Transport != "stdio" && c.MCP.Transport != "quic" {
		return fmt.Errorf("%w: mcp transport %q (want stdio or quic)", ErrInvalidConfig, c.MCP.Transport)
	}
	if (c.MCP.CertFile == "") != (c.MCP.KeyFile == "") {
		return fmt.Errorf("%w: cert_file and key_file go together", ErrInvalidConfig)
	}
	if (c.HTTP.AuthUser == "") != (c.HTTP.AuthHash == "") {
		return fmt.Errorf("%w: auth_user and auth_hash go together", ErrInvalidConfig)
	}
	return nil
}

// LoadConfigFile reads a YAML config file. Defaults are applied by New.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("shotdiff: parse %s: %w", path, err)
	}
	return cfg, nil
}
