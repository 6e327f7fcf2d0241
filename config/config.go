package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kkyr/fig"
	"github.com/pkg/errors"

	"github.com/pickletour/courtlive/pkg/types"
)

const (
	File      = "config.toml"
	EnvPrefix = "COURTLIVE"
)

type Config struct {
	Court struct {
		ID   string `fig:"id" validate:"required"`
		Name string `fig:"name"`
	}

	Service struct {
		Type string `fig:"type" default:"dummy"`

		// pickletour
		Endpoint     string        `fig:"endpoint"`
		Token        string        `fig:"token"`
		ClientID     string        `fig:"client_id"`
		ClientSecret string        `fig:"client_secret"`
		TokenPath    string        `fig:"token_path" default:"/api/oauth/token"`
		Timeout      time.Duration `fig:"timeout" default:"10s"`

		// dummy
		Matches []string `fig:"matches"`
	}

	Relay struct {
		URL              string        `fig:"url" validate:"required"`
		HandshakeTimeout time.Duration `fig:"handshake_timeout"`
		WriteTimeout     time.Duration `fig:"write_timeout" default:"5s"`
	}

	Encode struct {
		Quality string `fig:"quality" default:"high"`
		Backend string `fig:"backend" default:"x264"`
	}

	Capture struct {
		Platform         string `fig:"platform" default:"mediadevices"`
		DeviceID         string `fig:"device_id"`
		PreferBackFacing bool   `fig:"prefer_back_facing"`
		Watch            bool   `fig:"watch"`
		DeviceDir        string `fig:"device_dir" default:"/dev"`
		PreviewWidth     int    `fig:"preview_width" default:"640"`
		PreviewHeight    int    `fig:"preview_height" default:"360"`
	}

	Record struct {
		// Dir keeps a copy of every broadcast when set.
		Dir string `fig:"dir"`
	}

	Overlay struct {
		PollInterval  time.Duration `fig:"poll_interval" default:"1s"`
		Layers        []string      `fig:"layers"`
		Logo          string        `fig:"logo"`
		Sponsors      []string      `fig:"sponsors"`
		LowerTitle    string        `fig:"lower_title"`
		LowerSubtitle string        `fig:"lower_subtitle"`
		Social        []string      `fig:"social"`
		QRCaption     string        `fig:"qr_caption"`
	}

	Orchestrator struct {
		// Auto is on unless set to false. fig cannot default a bool.
		Auto           *bool         `fig:"auto"`
		PollInterval   time.Duration `fig:"poll_interval" default:"5s"`
		CountdownSteps int           `fig:"countdown_steps" default:"3"`
		CountdownStep  time.Duration `fig:"countdown_step" default:"1s"`

		// Local keys for sessions started by hand.
		FacebookKey   string `fig:"facebook_key"`
		YoutubeServer string `fig:"youtube_server"`
		YoutubeKey    string `fig:"youtube_key"`
		TiktokServer  string `fig:"tiktok_server"`
		TiktokKey     string `fig:"tiktok_key"`
	}

	Control struct {
		LogLevel string `fig:"log_level" default:"info"`

		HTTPAddress    string `fig:"http_address" default:":8080"`
		HTTPServerType string `fig:"http_server_type" default:"http"`
		HTTPSHostname  string `fig:"https_hostname"`
		HTTPSCert      string `fig:"https_cert"`
		HTTPSKey       string `fig:"https_key"`
	}
}

// LocalKeys returns the stream keys configured on this device.
func (c Config) LocalKeys() types.LocalKeys {
	o := c.Orchestrator
	return types.LocalKeys{
		FacebookKey:   o.FacebookKey,
		YoutubeServer: o.YoutubeServer,
		YoutubeKey:    o.YoutubeKey,
		TiktokServer:  o.TiktokServer,
		TiktokKey:     o.TiktokKey,
	}
}

// AutoEnabled reports whether the orchestrator starts in auto mode.
func (c Config) AutoEnabled() bool {
	return c.Orchestrator.Auto == nil || *c.Orchestrator.Auto
}

// Load reads config.toml from the working directory.
func Load() (Config, error) {
	return LoadFrom(".")
}

// LoadFrom reads config.toml from dir. A .env file next to it is loaded into
// the environment first, so secrets can stay out of the toml file. Values
// can be overridden with COURTLIVE_<SECTION>_<KEY> variables.
func LoadFrom(dir string) (Config, error) {
	var cfg Config

	envFile := filepath.Join(dir, ".env")
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return cfg, errors.Wrapf(err, "load %s", envFile)
	}

	if err := fig.Load(&cfg, fig.File(File), fig.Dirs(dir), fig.UseEnv(EnvPrefix)); err != nil {
		return cfg, errors.Wrap(err, "load config")
	}

	if cfg.Service.Token == "" {
		cfg.Service.Token = os.Getenv("PICKLETOUR_TOKEN")
	}
	if cfg.Service.ClientSecret == "" {
		cfg.Service.ClientSecret = os.Getenv("PICKLETOUR_CLIENT_SECRET")
	}
	if cfg.Orchestrator.FacebookKey == "" {
		cfg.Orchestrator.FacebookKey = os.Getenv("FACEBOOK_STREAM_KEY")
	}
	if cfg.Orchestrator.YoutubeKey == "" {
		cfg.Orchestrator.YoutubeKey = os.Getenv("YOUTUBE_STREAM_KEY")
	}
	if cfg.Orchestrator.TiktokKey == "" {
		cfg.Orchestrator.TiktokKey = os.Getenv("TIKTOK_STREAM_KEY")
	}
	return cfg, nil
}
