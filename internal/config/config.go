package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`

	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
	Chat    ChatConfig    `mapstructure:"chat" yaml:"chat"`
	Admin   AdminConfig   `mapstructure:"admin" yaml:"admin"`
	CORS    CORSConfig    `mapstructure:"cors" yaml:"cors"`
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	Driver     string `mapstructure:"driver" yaml:"driver"`
	SQLitePath string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	BadgerPath string `mapstructure:"badger_path" yaml:"badger_path"`
}

// ChatConfig tunes the websocket relay.
type ChatConfig struct {
	MaxConnections    int           `mapstructure:"max_connections" yaml:"max_connections"`
	HistoryPageSize   int           `mapstructure:"history_page_size" yaml:"history_page_size"`
	HistoryDelay      time.Duration `mapstructure:"history_delay" yaml:"history_delay"`
	InboxSize         int           `mapstructure:"inbox_size" yaml:"inbox_size"`
	OutboundBuffer    int           `mapstructure:"outbound_buffer" yaml:"outbound_buffer"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	StoreTimeout      time.Duration `mapstructure:"store_timeout" yaml:"store_timeout"`
	MaxMessageBytes   int64         `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	MessagesPerMinute int           `mapstructure:"messages_per_minute" yaml:"messages_per_minute"`
	TokenTTL          time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`
}

// AdminConfig protects the administrative surface. An empty secret disables auth.
type AdminConfig struct {
	JWTSecret   string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	TokenTTL    time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`
}

// CORSConfig lists origins allowed to call the admin surface from browsers.
type CORSConfig struct {
	AllowOrigins []string `mapstructure:"allow_origins" yaml:"allow_origins"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		Storage: StorageConfig{
			Driver:     "sqlite",
			SQLitePath: "roomrelay.db",
			BadgerPath: "roomrelay-badger",
		},
		Chat: ChatConfig{
			MaxConnections:  60_000,
			HistoryPageSize: 30,
			HistoryDelay:    100 * time.Millisecond,
			InboxSize:       1024,
			OutboundBuffer:  256,
			WriteTimeout:    5 * time.Second,
			StoreTimeout:    5 * time.Second,
			MaxMessageBytes: 64 << 10,
			TokenTTL:        time.Minute,
		},
		Admin: AdminConfig{
			JWTIssuer:   "roomrelay",
			JWTAudience: "roomrelay-admin",
			TokenTTL:    24 * time.Hour,
		},
		CORS: CORSConfig{
			AllowOrigins: []string{"*"},
		},
	}
}

// UpdateFrom overwrites non-zero top-level values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.Storage.Driver != "" {
		c.Storage.Driver = other.Storage.Driver
	}
	if other.Storage.SQLitePath != "" {
		c.Storage.SQLitePath = other.Storage.SQLitePath
	}
	if other.Storage.BadgerPath != "" {
		c.Storage.BadgerPath = other.Storage.BadgerPath
	}
}
