package config

import (
	"crypto/ecdsa"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/meshnetworks/hoard/src/common"
	"github.com/meshnetworks/hoard/src/node"
	"github.com/meshnetworks/hoard/src/store"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// Default filenames.
const (
	// DefaultKeyfile is the default name of the file containing the node's
	// private key
	DefaultKeyfile = "priv_key"

	// DefaultBadgerFile is the default name of the folder containing the Badger
	// database
	DefaultBadgerFile = "badger_db"
)

// Default configuration values.
const (
	DefaultLogLevel        = "debug"
	DefaultBindAddr        = "127.0.0.1:1337"
	DefaultServiceAddr     = "127.0.0.1:8000"
	DefaultWantTimeout     = 200 * time.Millisecond
	DefaultRetryLimit      = 5
	DefaultEagerBlocks     = true
	DefaultGCPolicy        = "revalidate"
	DefaultGCInterval      = 0 * time.Second
	DefaultTCPTimeout      = 1000 * time.Millisecond
	DefaultStore           = false
	DefaultMaintenanceMode = false
)

// Config contains all the configuration properties of a Hoard node.
type Config struct {
	// DataDir is the top-level directory containing Hoard configuration and
	// data
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// BindAddr is the local address:port where this node exchanges blocks
	// with other nodes. In some cases, there may be a routable address that
	// cannot be bound. Use AdvertiseAddr to advertise a different address to
	// support this. If this address is not routable, peers will not be able
	// to connect back.
	BindAddr string `mapstructure:"listen"`

	// AdvertiseAddr is used to change the address that we advertise to other
	// nodes.
	AdvertiseAddr string `mapstructure:"advertise"`

	// NoService disables the HTTP API service.
	NoService bool `mapstructure:"no-service"`

	// ServiceAddr is the address:port of the optional HTTP service. If not
	// specified, and "no-service" is not set, the API handlers are registered
	// with the DefaultServerMux of the http package. It is possible that
	// another server in the same process is simultaneously using the
	// DefaultServerMux. In which case, the handlers will be accessible from
	// both servers. This is usefull when Hoard is used in-memory and expected
	// to use the same endpoint (address:port) as the application's API.
	ServiceAddr string `mapstructure:"service-listen"`

	// WantTimeout is the time to wait for a response to a want request before
	// re-broadcasting it to connected peers.
	WantTimeout time.Duration `mapstructure:"want-timeout"`

	// RetryLimit is the number of re-broadcasts before a want request gives
	// up and reports the block as not found.
	RetryLimit int `mapstructure:"retry-limit"`

	// EagerBlocks makes want requests ask for block payloads directly, rather
	// than negotiating with have/dont-have messages first. Eager requests
	// save a round trip but may transfer the same block from several peers.
	EagerBlocks bool `mapstructure:"eager-blocks"`

	// GCPolicy selects how garbage collection synchronises with concurrent
	// writes. Accepted values are "pause" and "revalidate".
	GCPolicy string `mapstructure:"gc-policy"`

	// GCInterval is the period of automatic garbage collection. Zero disables
	// the GC timer; collection then only happens on explicit request.
	GCInterval time.Duration `mapstructure:"gc-interval"`

	// TCPTimeout is the timeout applied to transport I/O.
	TCPTimeout time.Duration `mapstructure:"timeout"`

	// Store activates persistant storage.
	Store bool `mapstructure:"store"`

	// DatabaseDir is the directory containing database files.
	DatabaseDir string `mapstructure:"db"`

	// MaintenanceMode when set to true causes Hoard to initialise in a
	// suspended state. A suspended node keeps serving remote wants but does
	// not initiate exchanges of its own until it is resumed.
	MaintenanceMode bool `mapstructure:"maintenance-mode"`

	// Moniker defines the friendly name of this node
	Moniker string `mapstructure:"moniker"`

	// LogDir is a directory where logs are additionally written to files, one
	// per level. Empty disables file logging.
	LogDir string `mapstructure:"log-dir"`

	// Key is the private key of the node.
	Key *ecdsa.PrivateKey

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:         DefaultDataDir(),
		LogLevel:        DefaultLogLevel,
		BindAddr:        DefaultBindAddr,
		ServiceAddr:     DefaultServiceAddr,
		WantTimeout:     DefaultWantTimeout,
		RetryLimit:      DefaultRetryLimit,
		EagerBlocks:     DefaultEagerBlocks,
		GCPolicy:        DefaultGCPolicy,
		GCInterval:      DefaultGCInterval,
		TCPTimeout:      DefaultTCPTimeout,
		Store:           DefaultStore,
		MaintenanceMode: DefaultMaintenanceMode,
		DatabaseDir:     DefaultDatabaseDir(),
	}

	return config
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests.
func NewTestConfig(t testing.TB) *Config {
	config := NewDefaultConfig()
	config.logger = common.NewTestLogger(t)
	return config
}

// SetDataDir sets the top-level Hoard directory, and updates the database
// directory if it is currently set to the default value. If the database
// directory is not currently the default, it means the user has explicitely
// set it to something else, so avoid changing it again here.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
	if c.DatabaseDir == DefaultDatabaseDir() {
		c.DatabaseDir = filepath.Join(dataDir, DefaultBadgerFile)
	}
}

// Keyfile returns the full path of the file containing the private key.
func (c *Config) Keyfile() string {
	return filepath.Join(c.DataDir, DefaultKeyfile)
}

// NodeConfig derives the node-level configuration from the top-level config.
func (c *Config) NodeConfig() *node.Config {
	nodeConf := node.NewConfig(
		c.WantTimeout,
		c.RetryLimit,
		c.EagerBlocks,
		GCPolicy(c.GCPolicy),
		c.GCInterval,
		c.TCPTimeout,
		c.Logger().Logger,
	)
	nodeConf.MaintenanceMode = c.MaintenanceMode
	return nodeConf
}

// Logger returns a formatted logrus Entry, with prefix set to "hoard".
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)

		if c.LogDir != "" {
			c.logger.Hooks.Add(lfshook.NewHook(
				lfshook.PathMap{
					logrus.DebugLevel: filepath.Join(c.LogDir, "debug.log"),
					logrus.InfoLevel:  filepath.Join(c.LogDir, "info.log"),
					logrus.WarnLevel:  filepath.Join(c.LogDir, "warn.log"),
					logrus.ErrorLevel: filepath.Join(c.LogDir, "error.log"),
				},
				&logrus.JSONFormatter{},
			))
		}
	}
	return c.logger.WithField("prefix", "hoard")
}

// DefaultDatabaseDir returns the default path for the badger database files.
func DefaultDatabaseDir() string {
	return filepath.Join(DefaultDataDir(), DefaultBadgerFile)
}

// DefaultDataDir return the default directory name for top-level Hoard config
// based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".Hoard")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "Hoard")
		} else {
			return filepath.Join(home, ".hoard")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}

// GCPolicy parses a string into a garbage collection policy. Unrecognised
// values fall back to the revalidate policy.
func GCPolicy(p string) store.Policy {
	switch p {
	case "pause":
		return store.Pause
	case "revalidate":
		return store.Revalidate
	default:
		return store.Revalidate
	}
}
