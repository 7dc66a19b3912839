// Package config provides YAML-based configuration loading for eosbridge.
package config

import (
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "strings"
    "time"

    "github.com/spf13/viper"

    "eosbridge/pkg/transport"
)

// Config is the root application configuration.
type Config struct {
    // AppName optional logical name of the bridge instance
    AppName string `mapstructure:"app_name"`

    // Log holds logging configuration
    Log LogConfig `mapstructure:"log"`

    // Console addresses the target Eos-family console
    Console ConsoleConfig `mapstructure:"console"`

    // Heartbeat tunes keepalive probing on both links
    Heartbeat HeartbeatConfig `mapstructure:"heartbeat"`

    // Reconnect tunes the per-link backoff schedule
    Reconnect ReconnectConfig `mapstructure:"reconnect"`

    // RPC tunes the request/response client
    RPC RPCConfig `mapstructure:"rpc"`

    // Metrics controls the Prometheus endpoint
    Metrics MetricsConfig `mapstructure:"metrics"`
}

// LogConfig defines logger settings.
type LogConfig struct {
    // Level: debug, info, warn, error
    Level string `mapstructure:"level"`
    // Format: console or json
    Format string `mapstructure:"format"`
    // Outputs: list of outputs: stdout, stderr, or file paths
    Outputs []string `mapstructure:"outputs"`

    // Rotation controls file rotation when writing to files
    Rotation RotationConfig `mapstructure:"rotation"`
    // Development toggles development-friendly logging options
    Development bool `mapstructure:"development"`

    // Incoming/Outgoing toggle per-packet OSC traffic logging
    Incoming bool `mapstructure:"incoming"`
    Outgoing bool `mapstructure:"outgoing"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
    Enable     bool   `mapstructure:"enable"`
    Filename   string `mapstructure:"filename"`
    MaxSizeMB  int    `mapstructure:"max_size_mb"`
    MaxBackups int    `mapstructure:"max_backups"`
    MaxAgeDays int    `mapstructure:"max_age_days"`
    Compress   bool   `mapstructure:"compress"`
}

// ConsoleConfig locates the console and the optional local UDP bind point.
type ConsoleConfig struct {
    Host         string `mapstructure:"host"`
    TCPPort      int    `mapstructure:"tcp_port"`
    UDPPort      int    `mapstructure:"udp_port"`
    LocalAddress string `mapstructure:"local_address"`
    LocalPort    int    `mapstructure:"local_port"`
}

// HeartbeatConfig tunes keepalive probing.
type HeartbeatConfig struct {
    IntervalMS int `mapstructure:"interval_ms"`
    TimeoutMS  int `mapstructure:"timeout_ms"`
}

// ReconnectConfig tunes the backoff schedule shared by both links.
type ReconnectConfig struct {
    InitialDelayMS int     `mapstructure:"initial_delay_ms"`
    Multiplier     float64 `mapstructure:"multiplier"`
    MaxDelayMS     int     `mapstructure:"max_delay_ms"`
    Jitter         float64 `mapstructure:"jitter"`
    // TimeoutMS caps one failure streak; 0 retries forever
    TimeoutMS int `mapstructure:"timeout_ms"`
}

// RPCConfig tunes the request/response client.
type RPCConfig struct {
    TimeoutMS          int      `mapstructure:"timeout_ms"`
    ClientID           string   `mapstructure:"client_id"`
    PreferredProtocols []string `mapstructure:"preferred_protocols"`
}

// MetricsConfig controls the Prometheus HTTP endpoint.
type MetricsConfig struct {
    Enabled bool   `mapstructure:"enabled"`
    Listen  string `mapstructure:"listen"`
}

// Default returns a Config populated with sensible defaults. The OSC
// ports match the Eos convention (3032 TCP, 8000 UDP).
func Default() *Config {
    return &Config{
        AppName: "eosbridge",
        Log: LogConfig{
            Level:       "info",
            Format:      "console",
            Outputs:     []string{"stdout"},
            Development: true,
            Rotation: RotationConfig{
                Enable:     false,
                Filename:   "logs/eosbridge.log",
                MaxSizeMB:  50,
                MaxBackups: 3,
                MaxAgeDays: 28,
                Compress:   true,
            },
        },
        Console: ConsoleConfig{
            Host:    "127.0.0.1",
            TCPPort: 3032,
            UDPPort: 8000,
        },
        Heartbeat: HeartbeatConfig{IntervalMS: 5000, TimeoutMS: 5000},
        Reconnect: ReconnectConfig{
            InitialDelayMS: 500,
            Multiplier:     2,
            MaxDelayMS:     30000,
            Jitter:         0.2,
        },
        RPC: RPCConfig{
            TimeoutMS: 5000,
            ClientID:  "eosbridge",
        },
        Metrics: MetricsConfig{Enabled: false, Listen: ":9109"},
    }
}

// Load reads configuration from the provided path (if non-empty),
// otherwise it searches common locations and supports environment
// overrides. Environment variables use the prefix EOSBRIDGE and `.`/`-`
// are replaced with `_`. Example: EOSBRIDGE_CONSOLE_HOST=10.0.0.5
func Load(path string) (*Config, error) {
    cfg := Default()

    v := viper.New()
    v.SetConfigType("yaml")
    v.SetEnvPrefix("EOSBRIDGE")
    v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
    v.AutomaticEnv()

    // seed defaults for viper so env-only configs work
    v.SetDefault("app_name", cfg.AppName)
    v.SetDefault("log.level", cfg.Log.Level)
    v.SetDefault("log.format", cfg.Log.Format)
    v.SetDefault("log.outputs", cfg.Log.Outputs)
    v.SetDefault("log.development", cfg.Log.Development)
    v.SetDefault("log.incoming", cfg.Log.Incoming)
    v.SetDefault("log.outgoing", cfg.Log.Outgoing)
    v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
    v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
    v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
    v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
    v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
    v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
    v.SetDefault("console.host", cfg.Console.Host)
    v.SetDefault("console.tcp_port", cfg.Console.TCPPort)
    v.SetDefault("console.udp_port", cfg.Console.UDPPort)
    v.SetDefault("console.local_address", cfg.Console.LocalAddress)
    v.SetDefault("console.local_port", cfg.Console.LocalPort)
    v.SetDefault("heartbeat.interval_ms", cfg.Heartbeat.IntervalMS)
    v.SetDefault("heartbeat.timeout_ms", cfg.Heartbeat.TimeoutMS)
    v.SetDefault("reconnect.initial_delay_ms", cfg.Reconnect.InitialDelayMS)
    v.SetDefault("reconnect.multiplier", cfg.Reconnect.Multiplier)
    v.SetDefault("reconnect.max_delay_ms", cfg.Reconnect.MaxDelayMS)
    v.SetDefault("reconnect.jitter", cfg.Reconnect.Jitter)
    v.SetDefault("reconnect.timeout_ms", cfg.Reconnect.TimeoutMS)
    v.SetDefault("rpc.timeout_ms", cfg.RPC.TimeoutMS)
    v.SetDefault("rpc.client_id", cfg.RPC.ClientID)
    v.SetDefault("rpc.preferred_protocols", cfg.RPC.PreferredProtocols)
    v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
    v.SetDefault("metrics.listen", cfg.Metrics.Listen)

    // Choose config file
    if path == "" {
        if envPath := os.Getenv("EOSBRIDGE_CONFIG"); envPath != "" {
            path = envPath
        }
    }

    if path != "" {
        v.SetConfigFile(path)
    } else {
        // Search common locations with base name `eosbridge`
        v.SetConfigName("eosbridge")
        v.AddConfigPath(".")
        v.AddConfigPath("./configs")
        if home, err := os.UserHomeDir(); err == nil {
            v.AddConfigPath(filepath.Join(home, ".eosbridge"))
        }
    }

    // Read config file if present; if not found, continue with defaults/env
    if err := v.ReadInConfig(); err != nil {
        var notFound viper.ConfigFileNotFoundError
        if !errors.As(err, &notFound) {
            return nil, fmt.Errorf("read config: %w", err)
        }
    }

    if err := v.Unmarshal(&cfg); err != nil {
        return nil, fmt.Errorf("decode config: %w", err)
    }

    if err := cfg.validate(); err != nil {
        return nil, err
    }
    return cfg, nil
}

func (c *Config) validate() error {
    lvl := strings.ToLower(strings.TrimSpace(c.Log.Level))
    switch lvl {
    case "debug", "info", "warn", "warning", "error":
        // ok
    default:
        return fmt.Errorf("invalid log.level: %q", c.Log.Level)
    }

    if c.Log.Format == "" {
        c.Log.Format = "console"
    }
    if len(c.Log.Outputs) == 0 {
        c.Log.Outputs = []string{"stdout"}
    }
    if strings.TrimSpace(c.Console.Host) == "" {
        return errors.New("console.host is required")
    }
    if c.Console.TCPPort <= 0 || c.Console.TCPPort > 65535 {
        return fmt.Errorf("invalid console.tcp_port: %d", c.Console.TCPPort)
    }
    if c.Console.UDPPort <= 0 || c.Console.UDPPort > 65535 {
        return fmt.Errorf("invalid console.udp_port: %d", c.Console.UDPPort)
    }
    if c.Reconnect.Multiplier < 1 {
        c.Reconnect.Multiplier = 2
    }
    if c.Reconnect.Jitter < 0 || c.Reconnect.Jitter > 1 {
        return fmt.Errorf("reconnect.jitter must be in [0,1]: %v", c.Reconnect.Jitter)
    }
    return nil
}

// Transport maps the console/heartbeat/reconnect sections onto
// transport.Options.
func (c *Config) Transport() transport.Options {
    return transport.Options{
        Host:              c.Console.Host,
        TCPPort:           c.Console.TCPPort,
        UDPPort:           c.Console.UDPPort,
        LocalAddress:      c.Console.LocalAddress,
        LocalPort:         c.Console.LocalPort,
        HeartbeatInterval: time.Duration(c.Heartbeat.IntervalMS) * time.Millisecond,
        ConnectionTimeout: time.Duration(c.Heartbeat.TimeoutMS) * time.Millisecond,
        Backoff: transport.BackoffOptions{
            Initial:    time.Duration(c.Reconnect.InitialDelayMS) * time.Millisecond,
            Multiplier: c.Reconnect.Multiplier,
            Max:        time.Duration(c.Reconnect.MaxDelayMS) * time.Millisecond,
            Jitter:     c.Reconnect.Jitter,
        },
        ReconnectTimeout: time.Duration(c.Reconnect.TimeoutMS) * time.Millisecond,
    }
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
    cfg, err := Load(path)
    if err != nil {
        panic(err)
    }
    return cfg
}
