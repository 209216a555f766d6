package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultNbEgressThreads = 1
	defaultNbQueues        = 1
	defaultInputCapacity   = 1024
	defaultOutputCapacity  = 128
	defaultPortCapacity    = 256
	defaultControlAddr     = "127.0.0.1"
	defaultControlPort     = 9090
	defaultShutdownTimeout = 2 * time.Second
	maxPorts               = 512
)

type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be a scalar")
	}
	switch value.Tag {
	case "!!int", "!!float":
		var secs float64
		if err := value.Decode(&secs); err != nil {
			return err
		}
		*d = Duration(time.Duration(secs * float64(time.Second)))
		return nil
	default:
		var raw string
		if err := value.Decode(&raw); err != nil {
			return err
		}
		if raw == "" {
			*d = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	}
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// PortConfig declares one virtual port's queueing and rate-limit state
// (spec.md §4.2 per-port state: capacity_pkts, rate_pps, token_bucket).
type PortConfig struct {
	ID           int    `yaml:"id"`
	CapacityPkts int    `yaml:"capacity_pkts"`
	RatePPS      string `yaml:"rate_pps"` // "0" or empty means unlimited; accepts k/m suffixes
}

// PriorityConfig configures the optional strict-priority feature of the
// per-port multi-queue (spec.md §4.2).
type PriorityConfig struct {
	Enabled       bool   `yaml:"enabled"`
	NBQueues      int    `yaml:"nb_queues"`
	PriorityField string `yaml:"priority_field"` // PHV field read at enqueue; empty means priority 0 (spec.md §9 open question a)
}

// QueueConfig sets the blocking-queue capacities (spec.md §4.1).
type QueueConfig struct {
	InputCapacity  int `yaml:"input_capacity"`
	OutputCapacity int `yaml:"output_capacity"`
}

// TableUpdateHookConfig enables the optional dynamic table-update hook
// (spec.md §4.6, §9), a target extension rather than part of the
// standard forwarding model.
type TableUpdateHookConfig struct {
	Enabled          bool   `yaml:"enabled"`
	HeaderStackField string `yaml:"header_stack_field"`
	CounterField     string `yaml:"counter_field"`
	SQLiteDSN        string `yaml:"sqlite_dsn"`
}

// ControlConfig configures the HTTP/websocket control surface.
type ControlConfig struct {
	Addr             string   `yaml:"addr"`
	Port             int      `yaml:"port"`
	Token            string   `yaml:"token"`
	WebSocketEnabled bool     `yaml:"websocket_enabled"`
	ShutdownTimeout  Duration `yaml:"shutdown_timeout"`
}

// Config is the switch's top-level configuration tree.
type Config struct {
	Hostname        string                `yaml:"hostname"`
	NbEgressThreads int                   `yaml:"nb_egress_threads"`
	Ports           []PortConfig          `yaml:"ports"`
	Priority        PriorityConfig        `yaml:"priority"`
	Queues          QueueConfig           `yaml:"queues"`
	TableUpdateHook TableUpdateHookConfig `yaml:"table_update_hook"`
	Control         ControlConfig         `yaml:"control"`
}

// LoadConfig reads and decodes path, applies defaults, and validates the
// result.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, err
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) setDefaults() {
	c.Hostname = strings.TrimSpace(c.Hostname)
	if c.NbEgressThreads <= 0 {
		c.NbEgressThreads = defaultNbEgressThreads
	}
	if c.Priority.Enabled {
		if c.Priority.NBQueues <= 0 {
			c.Priority.NBQueues = defaultNbQueues
		}
	} else {
		c.Priority.NBQueues = 1
	}
	if c.Queues.InputCapacity <= 0 {
		c.Queues.InputCapacity = defaultInputCapacity
	}
	if c.Queues.OutputCapacity <= 0 {
		c.Queues.OutputCapacity = defaultOutputCapacity
	}
	for i := range c.Ports {
		if c.Ports[i].CapacityPkts <= 0 {
			c.Ports[i].CapacityPkts = defaultPortCapacity
		}
	}
	if c.TableUpdateHook.HeaderStackField == "" {
		c.TableUpdateHook.HeaderStackField = "lfu_header_stack"
	}
	if c.TableUpdateHook.CounterField == "" {
		c.TableUpdateHook.CounterField = "header_count"
	}
	if c.Control.Addr == "" {
		c.Control.Addr = defaultControlAddr
	}
	if c.Control.Port == 0 {
		c.Control.Port = defaultControlPort
	}
	if c.Control.ShutdownTimeout == 0 {
		c.Control.ShutdownTimeout = Duration(defaultShutdownTimeout)
	}
}

func (c *Config) validate() error {
	if len(c.Ports) == 0 {
		return errors.New("at least one port is required")
	}
	if len(c.Ports) > maxPorts {
		return fmt.Errorf("ports cannot exceed %d entries", maxPorts)
	}
	seenIDs := make(map[int]struct{}, len(c.Ports))
	for i := range c.Ports {
		p := &c.Ports[i]
		if p.ID < 0 {
			return fmt.Errorf("port id must be >= 0, got %d", p.ID)
		}
		if _, exists := seenIDs[p.ID]; exists {
			return fmt.Errorf("duplicate port id: %d", p.ID)
		}
		seenIDs[p.ID] = struct{}{}
		if _, err := ParseRatePPS(p.RatePPS); err != nil {
			return fmt.Errorf("port %d rate_pps: %w", p.ID, err)
		}
	}
	if c.NbEgressThreads <= 0 {
		return errors.New("nb_egress_threads must be > 0")
	}
	if c.Priority.Enabled && c.Priority.NBQueues < 1 {
		return errors.New("priority.nb_queues must be >= 1 when priority is enabled")
	}
	if c.Queues.InputCapacity <= 0 {
		return errors.New("queues.input_capacity must be > 0")
	}
	if c.Queues.OutputCapacity <= 0 {
		return errors.New("queues.output_capacity must be > 0")
	}
	if c.TableUpdateHook.Enabled && strings.TrimSpace(c.TableUpdateHook.SQLiteDSN) == "" {
		return errors.New("table_update_hook.sqlite_dsn is required when table_update_hook.enabled is true")
	}
	if c.Control.Port <= 0 || c.Control.Port > 65535 {
		return errors.New("control.port must be in 1..65535")
	}
	if c.Control.ShutdownTimeout.Duration() < 0 {
		return errors.New("control.shutdown_timeout must be >= 0")
	}
	return nil
}
