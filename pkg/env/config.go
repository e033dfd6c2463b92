package env

import (
	"flag"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/robotalks/sbclink/pkg/sbc/transport"
	"github.com/robotalks/sbclink/pkg/sbc/wire"
)

// Config provides common options of the commands.
type Config struct {
	// Link locates the link, e.g. tcp://host:port, ws://host:port/path
	// or a device path like /dev/ttyAMA0.
	Link string `toml:"link" yaml:"link"`

	ExchangeTimeout   time.Duration `toml:"exchange-timeout" yaml:"exchange-timeout"`
	ConnectionTimeout time.Duration `toml:"connection-timeout" yaml:"connection-timeout"`
	PollInterval      time.Duration `toml:"poll-interval" yaml:"poll-interval"`
	MaxOutbox         int           `toml:"max-outbox" yaml:"max-outbox"`

	// MQTTBrokerURL specifies the MQTT broker to use, empty to disable.
	// e.g. mqtt://host:port/topic-prefix
	MQTTBrokerURL string `toml:"mqtt" yaml:"mqtt"`
	// ID names the node in MQTT topics.
	ID string `toml:"id" yaml:"id"`

	// ConfigFile is loaded over the values above when set.
	ConfigFile string `toml:"-" yaml:"-"`
}

var defaultConfig = Config{
	Link:              "tcp://localhost:5740",
	ExchangeTimeout:   wire.ExchangeTimeout,
	ConnectionTimeout: wire.ConnectionTimeout,
	PollInterval:      transport.DefaultPollInterval,
	MaxOutbox:         transport.DefaultMaxOutbox,
}

func init() {
	if val := os.Getenv("SBC_LINK"); val != "" {
		defaultConfig.Link = val
	}
	if val := os.Getenv("SBC_MQTT_URL"); val != "" {
		defaultConfig.MQTTBrokerURL = val
	}
	if val := os.Getenv("SBC_CONFIG"); val != "" {
		defaultConfig.ConfigFile = val
	}
	defaultConfig.ID = os.Getenv("SBC_ID")
}

// SetupFlags sets command line flags.
func SetupFlags() {
	flag.StringVar(&defaultConfig.Link, "link", defaultConfig.Link, "Link URL or device path")
	flag.DurationVar(&defaultConfig.ExchangeTimeout, "exchange-timeout", defaultConfig.ExchangeTimeout, "Timeout of a Transfer exchange")
	flag.DurationVar(&defaultConfig.ConnectionTimeout, "connection-timeout", defaultConfig.ConnectionTimeout, "Timeout before the link is considered down")
	flag.DurationVar(&defaultConfig.PollInterval, "poll-interval", defaultConfig.PollInterval, "Interval of host polling")
	flag.IntVar(&defaultConfig.MaxOutbox, "max-outbox", defaultConfig.MaxOutbox, "Max packets queued for sending")
	flag.StringVar(&defaultConfig.MQTTBrokerURL, "mqtt", defaultConfig.MQTTBrokerURL, "MQTT broker URL")
	flag.StringVar(&defaultConfig.ID, "id", defaultConfig.ID, "Node ID, defaults to machine ID")
	flag.StringVar(&defaultConfig.ConfigFile, "config", defaultConfig.ConfigFile, "Config file (.toml, .yaml)")
}

// Default gets default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a Config with default configurations.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// LoadFile decodes a TOML or YAML file, chosen by extension, over c.
// Keys missing in the file keep their values.
func (c *Config) LoadFile(fn string) error {
	data, err := os.ReadFile(fn)
	if err != nil {
		return err
	}
	switch ext := strings.ToLower(filepath.Ext(fn)); ext {
	case ".toml":
		err = toml.Unmarshal(data, c)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	default:
		return errors.Errorf("unknown config file type %q", ext)
	}
	return errors.Wrapf(err, "load %s", fn)
}

// Validate checks the values.
func (c *Config) Validate() error {
	switch {
	case c.Link == "":
		return errors.New("link must be specified")
	case c.ExchangeTimeout <= 0 || c.ConnectionTimeout <= 0:
		return errors.New("timeouts must be positive")
	case c.ExchangeTimeout >= c.ConnectionTimeout:
		return errors.Errorf("exchange timeout %s must be shorter than connection timeout %s",
			c.ExchangeTimeout, c.ConnectionTimeout)
	case c.PollInterval <= 0:
		return errors.New("poll interval must be positive")
	case c.MaxOutbox <= 0:
		return errors.New("max outbox must be positive")
	}
	return nil
}

// Prepare loads ConfigFile if set, fills the default ID and validates.
func (c *Config) Prepare() error {
	if c.ConfigFile != "" {
		if err := c.LoadFile(c.ConfigFile); err != nil {
			return err
		}
	}
	if c.ID == "" {
		c.ID = MachineID()
	}
	return c.Validate()
}

// MustPrepare prepares the config and fails on error.
func (c *Config) MustPrepare() *Config {
	if err := c.Prepare(); err != nil {
		log.Fatalln(err)
	}
	return c
}

// NewLink creates a Link over rw configured by c.
func (c *Config) NewLink(rw transport.TransferReadWriter, role transport.Role) *transport.Link {
	l := transport.NewLink(rw, role)
	l.ExchangeTimeout = c.ExchangeTimeout
	l.ConnectionTimeout = c.ConnectionTimeout
	l.PollInterval = c.PollInterval
	l.MaxOutbox = c.MaxOutbox
	return l
}
