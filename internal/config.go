package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration. Each subcommand reads
// the app section plus its own.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Hub     HubConfig         `yaml:"hub"`
	Node    NodeConfig        `yaml:"node"`
	Console ConsoleConfig     `yaml:"console"`
	Auth    AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.Hub.Validate(); err != nil {
		return fmt.Errorf("hub: %w", err)
	}
	if err := c.Node.Validate(); err != nil {
		return fmt.Errorf("node: %w", err)
	}
	if err := c.Console.Validate(); err != nil {
		return fmt.Errorf("console: %w", err)
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// HubConfig configures the central relay.
type HubConfig struct {
	// Listen is the UDP address of the radio link.
	Listen            string        `yaml:"listen"`
	HTTP              HTTPConfig    `yaml:"http"`
	ConsoleListen     string        `yaml:"console_listen"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	PeerTimeout       time.Duration `yaml:"peer_timeout"`
	MaxPeers          int           `yaml:"max_peers"`
	MaxVolunteers     int           `yaml:"max_volunteers"`
	InboxSize         int           `yaml:"inbox_size"`
}

// Validate validates the hub configuration.
func (c *HubConfig) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return err
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Listen, validation.Required),
		validation.Field(&c.ConsoleListen, validation.Required),
		validation.Field(&c.HeartbeatInterval, validation.Required, validation.Min(10*time.Millisecond)),
		validation.Field(&c.PeerTimeout, validation.Required, validation.Min(c.HeartbeatInterval)),
		validation.Field(&c.MaxPeers, validation.Required, validation.Min(1)),
		validation.Field(&c.MaxVolunteers, validation.Required, validation.Min(1)),
		validation.Field(&c.InboxSize, validation.Min(0)),
	)
}

// NodeConfig configures a relief node.
type NodeConfig struct {
	// Hub is the UDP address of the hub.
	Hub               string        `yaml:"hub"`
	Listen            string        `yaml:"listen"`
	HTTP              HTTPConfig    `yaml:"http"`
	PortalURL         string        `yaml:"portal_url"`
	ProvisionalID     string        `yaml:"provisional_id"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	HubTimeout        time.Duration `yaml:"hub_timeout"`
	MaxClients        int           `yaml:"max_clients"`
	ChatCapacity      int           `yaml:"chat_capacity"`
	DedupWindow       int           `yaml:"dedup_window"`
	MaxNotices        int           `yaml:"max_notices"`
	InboxSize         int           `yaml:"inbox_size"`
}

// Validate validates the node configuration.
func (c *NodeConfig) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return err
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Hub, validation.Required),
		validation.Field(&c.Listen, validation.Required),
		validation.Field(&c.ProvisionalID, validation.Length(0, 15)),
		validation.Field(&c.HeartbeatInterval, validation.Required, validation.Min(10*time.Millisecond)),
		validation.Field(&c.HubTimeout, validation.Required, validation.Min(c.HeartbeatInterval)),
		validation.Field(&c.MaxClients, validation.Required, validation.Min(1)),
		validation.Field(&c.ChatCapacity, validation.Required, validation.Min(1)),
		validation.Field(&c.DedupWindow, validation.Min(0)),
		validation.Field(&c.MaxNotices, validation.Min(0)),
		validation.Field(&c.InboxSize, validation.Min(0)),
	)
}

// ConsoleConfig configures the operator console.
type ConsoleConfig struct {
	// Bridge is the TCP address of the hub's console listener.
	Bridge         string        `yaml:"bridge"`
	HTTP           HTTPConfig    `yaml:"http"`
	SQLitePath     string        `yaml:"sqlite_path"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	MaxChats       int           `yaml:"max_chats"`
	MaxEvents      int           `yaml:"max_events"`
	StateThrottle  time.Duration `yaml:"state_throttle"`
}

// Validate validates the console configuration.
func (c *ConsoleConfig) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return err
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Bridge, validation.Required),
		validation.Field(&c.SQLitePath, validation.Required),
		validation.Field(&c.ReconnectDelay, validation.Required),
		validation.Field(&c.MaxChats, validation.Required, validation.Min(1)),
		validation.Field(&c.MaxEvents, validation.Required, validation.Min(1)),
	)
}

// AuthConfig holds authentication configuration for the hub status and
// console HTTP surfaces. The node portal is always open.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
		},
		Hub: HubConfig{
			Listen:            ":4210",
			HTTP:              HTTPConfig{Port: 8080},
			ConsoleListen:     ":4300",
			HeartbeatInterval: 3 * time.Second,
			PeerTimeout:       9 * time.Second,
			MaxPeers:          10,
			MaxVolunteers:     100,
			InboxSize:         64,
		},
		Node: NodeConfig{
			Hub:               "127.0.0.1:4210",
			Listen:            ":4211",
			HTTP:              HTTPConfig{Port: 8081},
			ProvisionalID:     "D0",
			HeartbeatInterval: 2500 * time.Millisecond,
			HubTimeout:        9 * time.Second,
			MaxClients:        20,
			ChatCapacity:      100,
			DedupWindow:       10,
			MaxNotices:        20,
			InboxSize:         64,
		},
		Console: ConsoleConfig{
			Bridge:         "127.0.0.1:4300",
			HTTP:           HTTPConfig{Port: 8090},
			SQLitePath:     "./reliefnet.db",
			ReconnectDelay: 3 * time.Second,
			MaxChats:       1000,
			MaxEvents:      500,
			StateThrottle:  2 * time.Second,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
