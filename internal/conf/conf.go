// Package conf loads cmd/udpmuxd's YAML configuration: read the file,
// unmarshal, apply defaults, then validate.
package conf

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

// Conf is the top-level configuration for the demo binary.
type Conf struct {
	Role  string `yaml:"role"` // "serve" or "dial"
	Log   Log    `yaml:"log"`
	Serve Serve  `yaml:"serve"`
	Dial  Dial   `yaml:"dial"`
}

// Log controls the flog minimum level.
type Log struct {
	Level string `yaml:"level"`
}

// Serve configures the acceptor side.
type Serve struct {
	Bind        string        `yaml:"bind"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// Dial configures the client side.
type Dial struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// LoadFromFile reads and validates a YAML config file.
func LoadFromFile(path string) (*Conf, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var c Conf
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}

	c.setDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Conf) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Serve.Bind == "" {
		c.Serve.Bind = "[::]:9000"
	}
	if c.Dial.ConnectTimeout == 0 {
		c.Dial.ConnectTimeout = 5 * time.Second
	}
}

func (c *Conf) validate() error {
	if c.Role != "serve" && c.Role != "dial" {
		return fmt.Errorf("role must be 'serve' or 'dial', got %q", c.Role)
	}
	if c.Role == "dial" {
		if c.Dial.Host == "" {
			return fmt.Errorf("dial.host is required")
		}
		if c.Dial.Port <= 0 || c.Dial.Port > 65535 {
			return fmt.Errorf("dial.port must be in 1..65535")
		}
	}
	return nil
}
