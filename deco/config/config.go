package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/asnowfix/deco/internal/global"
	"github.com/asnowfix/deco/pkg/retry"

	"github.com/spf13/viper"
)

const (
	BackendYAML   = "yaml"
	BackendSQLite = "sqlite"
)

// Protocols a template can declare.
const (
	ProtocolRPC     = "rpc"
	ProtocolHTTP    = "http"
	ProtocolUnknown = "unknown"
)

// Template describes how to read a family of devices.
type Template struct {
	Protocol string `yaml:"protocol" json:"protocol"`
	Hardware string `yaml:"hardware" json:"hardware"`
	InfoPath string `yaml:"info_path" json:"info_path"`
	// Reading is a dot-separated path into the info document. Empty forwards the whole document.
	Reading string `yaml:"reading" json:"reading"`
}

// DeviceSettings override the defaults for one registry identity.
type DeviceSettings struct {
	Type  string        `yaml:"type" json:"type"`
	Cycle time.Duration `yaml:"cycle" json:"cycle"`
	Retry int           `yaml:"retry" json:"retry"`
}

type Registry struct {
	Backend string `yaml:"backend" json:"backend"`
	Path    string `yaml:"path" json:"path"`
}

type Discovery struct {
	Window      time.Duration `yaml:"window" json:"window"`
	Services    []string      `yaml:"services" json:"services"`
	Filter      string        `yaml:"filter" json:"filter"`
	Subnet      string        `yaml:"subnet" json:"subnet"`
	Sweep       bool          `yaml:"sweep" json:"sweep"`
	Port        int           `yaml:"port" json:"port"`
	Concurrency int           `yaml:"concurrency" json:"concurrency"`
	Static      []string      `yaml:"static" json:"static"`
	Interval    time.Duration `yaml:"interval" json:"interval"`
	Exclusive   bool          `yaml:"exclusive" json:"exclusive"`
}

type Transport struct {
	Attempts  int           `yaml:"attempts" json:"attempts"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout"`
	RateLimit time.Duration `yaml:"rate_limit" json:"rate_limit"`
}

type MQTT struct {
	Broker string `yaml:"broker" json:"broker"`
	Topic  string `yaml:"topic" json:"topic"`
}

type Collector struct {
	ServerName string `yaml:"server_name" json:"server_name"`
	ServerPort int    `yaml:"server_port" json:"server_port"`
	URL        string `yaml:"url" json:"url"`
	MQTT       MQTT   `yaml:"mqtt" json:"mqtt"`
}

type Monitor struct {
	Idle         time.Duration `yaml:"idle" json:"idle"`
	JoinTimeout  time.Duration `yaml:"join_timeout" json:"join_timeout"`
	DefaultCycle time.Duration `yaml:"default_cycle" json:"default_cycle"`
}

type Metrics struct {
	Port int `yaml:"port" json:"port"`
}

// Config is built once at start and never modified afterwards.
type Config struct {
	Registry  Registry                  `yaml:"registry" json:"registry"`
	Discovery Discovery                 `yaml:"discovery" json:"discovery"`
	Transport Transport                 `yaml:"transport" json:"transport"`
	Collector Collector                 `yaml:"collector" json:"collector"`
	Monitor   Monitor                   `yaml:"monitor" json:"monitor"`
	Metrics   Metrics                   `yaml:"metrics" json:"metrics"`
	Templates map[string]Template       `yaml:"templates" json:"templates"`
	Devices   map[string]DeviceSettings `yaml:"devices" json:"devices"`
}

// Built-in template names, chosen from the device generation when no device entry names one.
const (
	TemplateShellyGen2 = "shelly_gen2"
	TemplateShellyGen1 = "shelly_gen1"
	TemplateUnknown    = "unknown"
)

func DefaultTemplates() map[string]Template {
	return map[string]Template{
		TemplateShellyGen2: {Protocol: ProtocolRPC, Hardware: "Shelly", InfoPath: "rpc/Shelly.GetStatus"},
		TemplateShellyGen1: {Protocol: ProtocolHTTP, Hardware: "Shelly", InfoPath: "status"},
		TemplateUnknown:    {Protocol: ProtocolUnknown},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("registry.backend", BackendYAML)
	v.SetDefault("registry.path", "")
	v.SetDefault("discovery.window", 5*time.Second)
	v.SetDefault("discovery.services", []string{"_shelly._tcp.", "_http._tcp."})
	v.SetDefault("discovery.filter", "shelly")
	v.SetDefault("discovery.subnet", "")
	v.SetDefault("discovery.sweep", false)
	v.SetDefault("discovery.port", 80)
	v.SetDefault("discovery.concurrency", 64)
	v.SetDefault("discovery.static", []string{})
	v.SetDefault("discovery.interval", 5*time.Minute)
	v.SetDefault("discovery.exclusive", false)
	v.SetDefault("transport.attempts", retry.DefaultAttempts)
	v.SetDefault("transport.timeout", retry.DefaultTimeout)
	v.SetDefault("transport.rate_limit", 500*time.Millisecond)
	v.SetDefault("collector.server_name", "")
	v.SetDefault("collector.server_port", 8000)
	v.SetDefault("collector.url", "")
	v.SetDefault("collector.mqtt.broker", "")
	v.SetDefault("collector.mqtt.topic", "deco")
	v.SetDefault("monitor.idle", 10*time.Second)
	v.SetDefault("monitor.join_timeout", 5*time.Second)
	v.SetDefault("monitor.default_cycle", 30*time.Second)
	v.SetDefault("metrics.port", 9100)
}

// NewViper prepares a viper instance with every default set, the DECO_ environment prefix
// and the content of the configuration file. An explicit file must exist; otherwise a
// missing deco.yaml is not an error.
func NewViper(file string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("DECO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("deco")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "deco"))
		}
		v.AddConfigPath("/etc/deco")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading configuration: %w", err)
		}
	}
	return v, nil
}

// Load builds the immutable configuration from v.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Registry: Registry{
			Backend: strings.ToLower(v.GetString("registry.backend")),
			Path:    v.GetString("registry.path"),
		},
		Discovery: Discovery{
			Window:      v.GetDuration("discovery.window"),
			Services:    v.GetStringSlice("discovery.services"),
			Filter:      v.GetString("discovery.filter"),
			Subnet:      v.GetString("discovery.subnet"),
			Sweep:       v.GetBool("discovery.sweep"),
			Port:        v.GetInt("discovery.port"),
			Concurrency: v.GetInt("discovery.concurrency"),
			Static:      v.GetStringSlice("discovery.static"),
			Interval:    v.GetDuration("discovery.interval"),
			Exclusive:   v.GetBool("discovery.exclusive"),
		},
		Transport: Transport{
			Attempts:  v.GetInt("transport.attempts"),
			Timeout:   v.GetDuration("transport.timeout"),
			RateLimit: v.GetDuration("transport.rate_limit"),
		},
		Collector: Collector{
			ServerName: v.GetString("collector.server_name"),
			ServerPort: v.GetInt("collector.server_port"),
			URL:        v.GetString("collector.url"),
			MQTT: MQTT{
				Broker: v.GetString("collector.mqtt.broker"),
				Topic:  v.GetString("collector.mqtt.topic"),
			},
		},
		Monitor: Monitor{
			Idle:         v.GetDuration("monitor.idle"),
			JoinTimeout:  v.GetDuration("monitor.join_timeout"),
			DefaultCycle: v.GetDuration("monitor.default_cycle"),
		},
		Metrics: Metrics{
			Port: v.GetInt("metrics.port"),
		},
		Templates: DefaultTemplates(),
		Devices:   make(map[string]DeviceSettings),
	}

	for name := range v.GetStringMap("templates") {
		key := "templates." + name
		cfg.Templates[name] = Template{
			Protocol: strings.ToLower(v.GetString(key + ".protocol")),
			Hardware: v.GetString(key + ".hardware"),
			InfoPath: v.GetString(key + ".info_path"),
			Reading:  v.GetString(key + ".reading"),
		}
	}

	for identity := range v.GetStringMap("devices") {
		key := "devices." + identity
		cfg.Devices[identity] = DeviceSettings{
			Type:  v.GetString(key + ".type"),
			Cycle: v.GetDuration(key + ".cycle"),
			Retry: v.GetInt(key + ".retry"),
		}
	}

	if cfg.Registry.Path == "" {
		cfg.Registry.Path = defaultRegistryPath(cfg.Registry.Backend)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultRegistryPath(backend string) string {
	name := "registry.yaml"
	if backend == BackendSQLite {
		name = "registry.db"
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return name
	}
	return filepath.Join(dir, "deco", name)
}

func (c *Config) validate() error {
	switch c.Registry.Backend {
	case BackendYAML, BackendSQLite:
	default:
		return fmt.Errorf("registry.backend: unknown backend %q", c.Registry.Backend)
	}
	if c.Transport.Attempts < 1 {
		return fmt.Errorf("transport.attempts must be at least 1, got %d", c.Transport.Attempts)
	}
	if c.Transport.Timeout <= 0 {
		return fmt.Errorf("transport.timeout must be positive, got %v", c.Transport.Timeout)
	}
	if c.Monitor.Idle <= 0 || c.Monitor.DefaultCycle <= 0 {
		return fmt.Errorf("monitor.idle and monitor.default_cycle must be positive")
	}
	for name, t := range c.Templates {
		switch t.Protocol {
		case ProtocolRPC, ProtocolHTTP, ProtocolUnknown:
		default:
			return fmt.Errorf("templates.%s.protocol: unknown protocol %q", name, t.Protocol)
		}
		if t.Protocol != ProtocolUnknown && t.InfoPath == "" {
			return fmt.Errorf("templates.%s.info_path is required", name)
		}
	}
	for identity, d := range c.Devices {
		if d.Type == "" {
			continue
		}
		if _, ok := c.Templates[d.Type]; !ok {
			return fmt.Errorf("devices.%s.type: no template %q", identity, d.Type)
		}
	}
	return nil
}

// Policy is the transport retry policy.
func (c *Config) Policy() retry.Policy {
	return retry.Policy{MaxAttempts: c.Transport.Attempts, Timeout: c.Transport.Timeout}
}

// Device returns the settings of one identity. Keys are matched case-insensitively, since
// configuration keys are case-folded when read.
func (c *Config) Device(identity string) (DeviceSettings, bool) {
	d, ok := c.Devices[strings.ToLower(identity)]
	return d, ok
}

// TemplateFor picks the template of a device: the one named by its device entry, else the
// built-in one for its generation.
func (c *Config) TemplateFor(identity string, generation int) (string, Template) {
	name := TemplateUnknown
	switch {
	case generation >= 2:
		name = TemplateShellyGen2
	case generation == 1:
		name = TemplateShellyGen1
	}
	if d, ok := c.Device(identity); ok && d.Type != "" {
		name = d.Type
	}
	t, ok := c.Templates[name]
	if !ok {
		return TemplateUnknown, Template{Protocol: ProtocolUnknown}
	}
	return name, t
}

// Default is the configuration with nothing but defaults.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg, err := Load(v)
	if err != nil {
		panic(fmt.Sprintf("BUG: invalid default configuration: %v", err))
	}
	return cfg
}

func NewContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, global.ConfigKey, cfg)
}

// FromContext returns the configuration stored by NewContext, or the defaults.
func FromContext(ctx context.Context) *Config {
	if cfg, ok := ctx.Value(global.ConfigKey).(*Config); ok && cfg != nil {
		return cfg
	}
	return Default()
}
