package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Generator GeneratorConfig `mapstructure:"generator"`
	Media     MediaConfig     `mapstructure:"media"`
	Sender    SenderConfig    `mapstructure:"sender"`
	Signal    SignalConfig    `mapstructure:"signal"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	BindAddress string `mapstructure:"bind_address" validate:"required"`
	BindPort    int    `mapstructure:"bind_port" validate:"min=1,max=65535"`
	CertFile    string `mapstructure:"cert_file" validate:"required"`
	KeyFile     string `mapstructure:"key_file" validate:"required"`
	Path        string `mapstructure:"path" validate:"required,startswith=/"`
}

// AdminConfig is the plain HTTP listener for health, session list and
// metrics. Port 0 disables it.
type AdminConfig struct {
	Port int    `mapstructure:"port" validate:"min=0,max=65535"`
	Mode string `mapstructure:"mode" validate:"oneof=debug release test"`
}

type GeneratorConfig struct {
	Width      int     `mapstructure:"width" validate:"min=16,max=7680"`
	Height     int     `mapstructure:"height" validate:"min=16,max=4320"`
	FPS        int     `mapstructure:"fps" validate:"min=1,max=240"`
	Radius     int     `mapstructure:"radius" validate:"min=1"`
	VX         float64 `mapstructure:"vx"`
	VY         float64 `mapstructure:"vy"`
	SaveFrames bool    `mapstructure:"save_frames"`
	SaveDir    string  `mapstructure:"save_dir" validate:"required_if=SaveFrames true"`
	SaveFormat string  `mapstructure:"save_format" validate:"oneof=png zstd"`
}

type MediaConfig struct {
	Codec string `mapstructure:"codec" validate:"oneof=H264 VP8 VP9 AV1"`
	// Encoder selects the video encoder backend: auto, gst or pcm.
	Encoder string `mapstructure:"encoder" validate:"oneof=auto gst pcm"`
}

type SenderConfig struct {
	StallWait time.Duration `mapstructure:"stall_wait" validate:"gte=0"`
}

type SignalConfig struct {
	MaxMessageBytes int64 `mapstructure:"max_message_bytes" validate:"min=1024"`
	CandidateBuffer int   `mapstructure:"candidate_buffer" validate:"min=1"`
}

type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=trace debug info warn error"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.bind_address", "::1")
	v.SetDefault("server.bind_port", 4433)
	v.SetDefault("server.cert_file", "")
	v.SetDefault("server.key_file", "")
	v.SetDefault("server.path", "/webtransport")

	v.SetDefault("admin.port", 8080)
	v.SetDefault("admin.mode", "release")

	v.SetDefault("generator.width", 640)
	v.SetDefault("generator.height", 480)
	v.SetDefault("generator.fps", 30)
	v.SetDefault("generator.radius", 20)
	v.SetDefault("generator.vx", 5)
	v.SetDefault("generator.vy", 3)
	v.SetDefault("generator.save_frames", false)
	v.SetDefault("generator.save_dir", "./frames")
	v.SetDefault("generator.save_format", "png")

	v.SetDefault("media.codec", "H264")
	v.SetDefault("media.encoder", "auto")
	v.SetDefault("sender.stall_wait", "10ms")
	v.SetDefault("signal.max_message_bytes", 64<<10)
	v.SetDefault("signal.candidate_buffer", 32)
	v.SetDefault("log.level", "info")
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("bounce", pflag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: bounce [flags] certificate key\n")
		fs.PrintDefaults()
	}
	fs.String("bind-address", "::1", "address to bind the WebTransport listener to")
	fs.Int("bind-port", 4433, "UDP port of the WebTransport listener")
	fs.Int("admin-port", 8080, "HTTP port for health and metrics, 0 disables")
	fs.Int("fps", 30, "frames per second of the generator")
	fs.Bool("save-frames", false, "write every generated frame to disk")
	fs.String("save-dir", "./frames", "directory for saved frames")
	fs.String("codec", "H264", "preferred video codec")
	fs.String("encoder", "auto", "video encoder backend: auto, gst or pcm")
	fs.String("log-level", "info", "log level")
	return fs
}

var flagKeys = map[string]string{
	"bind-address": "server.bind_address",
	"bind-port":    "server.bind_port",
	"admin-port":   "admin.port",
	"fps":          "generator.fps",
	"save-frames":  "generator.save_frames",
	"save-dir":     "generator.save_dir",
	"codec":        "media.codec",
	"encoder":      "media.encoder",
	"log-level":    "log.level",
}

// Load reads config/config.<CONFIG_ENV>.yaml, BOUNCE_* environment variables
// and the command line args (without the program name), in increasing order
// of precedence. The two positional arguments are the TLS certificate and key.
func Load(args []string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	v.SetConfigFile(fileName)

	setDefaults(v)
	v.SetEnvPrefix("BOUNCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	for flag, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}
	switch fs.NArg() {
	case 0:
	case 2:
		v.Set("server.cert_file", fs.Arg(0))
		v.Set("server.key_file", fs.Arg(1))
	default:
		return nil, errors.New("expected two positional arguments: certificate key")
	}

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.Media.Codec = strings.ToUpper(cfg.Media.Codec)
	cfg.Media.Encoder = strings.ToLower(cfg.Media.Encoder)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().
		Str("module", "config").
		Str("addr", cfg.Server.BindAddress).
		Int("port", cfg.Server.BindPort).
		Int("fps", cfg.Generator.FPS).
		Str("codec", cfg.Media.Codec).
		Str("encoder", cfg.Media.Encoder).
		Msg("config ready")
	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	g := c.Generator
	if 2*g.Radius >= min(g.Width, g.Height) {
		return fmt.Errorf("invalid config: radius %d does not fit a %dx%d frame", g.Radius, g.Width, g.Height)
	}
	return nil
}
