package scomm

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

const (
	DefaultConfigFile = "/vendor/etc/bluetooth/skwbt.conf"
	DefaultNVDir      = "/vendor/etc/bluetooth"
	DefaultSnoopPath  = "/data/misc/bluetooth/logs/btsnoop_hci.log"
	DefaultBootNode   = "/dev/BTBOOT"
	DefaultWakeNode   = "/dev/BTDATA"
	DefaultUartNode   = "/dev/ttyS0"

	// MaxPorts is the number of logical sub-channels a deployment may use.
	MaxPorts = 4
)

// Config is read once at startup and treated as immutable afterwards.
type Config struct {
	// DeviceNodes holds one device node per logical port, in port order.
	DeviceNodes []string
	// Uart selects the single UART deployment on DeviceNodes[0].
	Uart bool
	// UartOnly disables the boot and wake nodes of a UART deployment.
	UartOnly bool
	NoSleep  bool

	SnoopEnabled bool
	SnoopPath    string
	SnoopSaveLog bool

	CPLogEnabled bool
	LogSlice     bool
	DriverLog    bool

	NVDir    string
	BootNode string
	WakeNode string
}

// DefaultConfig mirrors the behavior of a device with no skwbt.conf.
func DefaultConfig() *Config {
	return &Config{
		DeviceNodes: []string{DefaultUartNode},
		UartOnly:    true,
		DriverLog:   true,
		SnoopPath:   DefaultSnoopPath,
		NVDir:       DefaultNVDir,
		BootNode:    DefaultBootNode,
		WakeNode:    DefaultWakeNode,
	}
}

// LoadConfig parses a skwbt.conf file, then applies opts. A missing file
// yields the defaults.
func LoadConfig(path string, opts ...Option) (*Config, error) {
	c := DefaultConfig()

	f, err := os.Open(path)
	switch {
	case os.IsNotExist(err):
		GetLogger().Debugf("config %s not found, using defaults", path)
	case err != nil:
		return nil, errors.Wrapf(err, "can't open config %s", path)
	default:
		defer f.Close()
		if err := c.parse(f); err != nil {
			return nil, errors.Wrapf(err, "can't parse config %s", path)
		}
	}

	if err := c.Option(opts...); err != nil {
		return nil, errors.Wrap(err, "can't set options")
	}
	return c, nil
}

// Option sets the options specified.
func (c *Config) Option(opts ...Option) error {
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) parse(f *os.File) error {
	var nodes []string
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		s := strings.TrimSpace(sc.Text())
		if s == "" || s[0] == '#' || s[0] == '[' {
			continue
		}

		i := strings.IndexByte(s, '=')
		if i < 0 {
			GetLogger().Warnf("config line %d: no key/value separator found", line)
			continue
		}
		key := strings.TrimSpace(s[:i])
		val := strings.TrimSpace(s[i+1:])

		switch key {
		case "BtDeviceNode":
			if len(nodes) < MaxPorts {
				nodes = append(nodes, val)
			}
		case "SkwBtsnoopDump":
			c.SnoopEnabled = val == "true"
		case "BtSnoopFileName":
			c.SnoopPath = val
		case "BtSnoopSaveLog":
			c.SnoopSaveLog = val == "true"
		case "SkwBtcplog":
			c.CPLogEnabled = val == "true"
		case "SkwLogSlice":
			c.LogSlice = val == "true"
		case "SkwBtDrvlog":
			if val == "false" {
				c.DriverLog = false
			}
		case "SkwBtUartOnly":
			if val == "false" {
				c.UartOnly = false
			}
		case "SkwBtNoSleep":
			if val == "true" {
				c.NoSleep = true
			}
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}

	if len(nodes) == 0 {
		return nil
	}

	// a leading '?' marks the UART deployment
	if strings.HasPrefix(nodes[0], "?") {
		nodes[0] = nodes[0][1:]
		c.Uart = true
	}
	c.DeviceNodes = nodes
	return nil
}

// LogDir is the directory holding the snoop log and its companion files.
func (c *Config) LogDir() string {
	return filepath.Dir(c.SnoopPath)
}

func (c *Config) SetDeviceNodes(nodes ...string) error {
	if len(nodes) == 0 || len(nodes) > MaxPorts {
		return errors.Errorf("invalid device node count %d", len(nodes))
	}
	c.DeviceNodes = append([]string(nil), nodes...)
	c.Uart = false
	return nil
}

func (c *Config) SetUart(path string) error {
	if path == "" {
		return errors.New("empty uart path")
	}
	c.DeviceNodes = []string{path}
	c.Uart = true
	return nil
}

func (c *Config) SetUartOnly(only bool) error {
	c.UartOnly = only
	return nil
}

func (c *Config) SetNoSleep(noSleep bool) error {
	c.NoSleep = noSleep
	return nil
}

func (c *Config) SetSnoop(path string, save bool) error {
	c.SnoopEnabled = true
	c.SnoopPath = path
	c.SnoopSaveLog = save
	return nil
}

func (c *Config) SetCPLog(enable, slice bool) error {
	c.CPLogEnabled = enable
	c.LogSlice = slice
	return nil
}

func (c *Config) SetDriverLog(enable bool) error {
	c.DriverLog = enable
	return nil
}

func (c *Config) SetNVDir(dir string) error {
	c.NVDir = dir
	return nil
}

func (c *Config) SetBootNode(path string) error {
	c.BootNode = path
	return nil
}

func (c *Config) SetWakeNode(path string) error {
	c.WakeNode = path
	return nil
}
