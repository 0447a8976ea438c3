package node

import (
	"testing"
	"time"

	"github.com/meshnetworks/hoard/src/common"
	"github.com/meshnetworks/hoard/src/store"
	"github.com/sirupsen/logrus"
)

// Config holds the parameters of the exchange engine and the garbage
// collector.
type Config struct {
	// WantTimeout is the time to wait for a response to a want before
	// re-broadcasting it. The effective timeout doubles with every retry.
	WantTimeout time.Duration `mapstructure:"want-timeout"`

	// RetryLimit is the number of re-broadcasts before a want gives up and
	// the corresponding Get calls return ErrNotFound. Zero means give up
	// after the first timeout.
	RetryLimit int `mapstructure:"retry-limit"`

	// EagerBlocks makes wants request the block payload directly, rather
	// than negotiating with have/dont-have first. It saves a round-trip at
	// the cost of possibly receiving the same block from several peers.
	EagerBlocks bool `mapstructure:"eager-blocks"`

	// GCPolicy selects how garbage collection synchronises with concurrent
	// writes: "pause" or "revalidate".
	GCPolicy store.Policy `mapstructure:"gc-policy"`

	// GCInterval is the period of automatic garbage collection. Zero
	// disables periodic collection; CollectGarbage can still be called
	// manually.
	GCInterval time.Duration `mapstructure:"gc-interval"`

	// TCPTimeout is the timeout applied to transport I/O.
	TCPTimeout time.Duration `mapstructure:"timeout"`

	// MaintenanceMode starts the node in the Suspended state: remote wants
	// are still served but the node initiates no exchanges of its own until
	// Resume is called.
	MaintenanceMode bool `mapstructure:"maintenance-mode"`

	Logger *logrus.Logger
}

// NewConfig instantiates a node Config.
func NewConfig(wantTimeout time.Duration,
	retryLimit int,
	eagerBlocks bool,
	gcPolicy store.Policy,
	gcInterval time.Duration,
	timeout time.Duration,
	logger *logrus.Logger) *Config {

	return &Config{
		WantTimeout: wantTimeout,
		RetryLimit:  retryLimit,
		EagerBlocks: eagerBlocks,
		GCPolicy:    gcPolicy,
		GCInterval:  gcInterval,
		TCPTimeout:  timeout,
		Logger:      logger,
	}
}

// DefaultConfig returns the default node configuration.
func DefaultConfig() *Config {
	logger := logrus.New()
	logger.Level = logrus.DebugLevel

	return &Config{
		WantTimeout: 200 * time.Millisecond,
		RetryLimit:  5,
		EagerBlocks: true,
		GCPolicy:    store.Revalidate,
		GCInterval:  0,
		TCPTimeout:  1000 * time.Millisecond,
		Logger:      logger,
	}
}

// TestConfig returns a node configuration for tests.
func TestConfig(t *testing.T) *Config {
	config := DefaultConfig()
	config.Logger = common.NewTestLogger(t)
	return config
}
