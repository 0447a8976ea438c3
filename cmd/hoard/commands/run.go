package commands

import (
	"github.com/meshnetworks/hoard/src/hoard"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

//NewRunCmd returns the command that starts a Hoard node
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run node",
		PreRunE: loadConfig,
		RunE:    runHoard,
	}
	AddRunFlags(cmd)
	return cmd
}

func runHoard(cmd *cobra.Command, args []string) error {
	engine := hoard.NewHoard(_config)

	if err := engine.Init(); err != nil {
		_config.Logger().Error("Cannot initialize engine:", err)
		return err
	}

	engine.Run()

	return nil
}

//AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {

	cmd.Flags().String("datadir", _config.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("log-dir", _config.LogDir, "Directory for per-level log files, empty to disable")
	cmd.Flags().String("moniker", _config.Moniker, "Optional name")

	// Network
	cmd.Flags().StringP("listen", "l", _config.BindAddr, "Listen IP:Port for hoard node")
	cmd.Flags().StringP("advertise", "a", _config.AdvertiseAddr, "Advertise IP:Port for hoard node")
	cmd.Flags().DurationP("timeout", "t", _config.TCPTimeout, "TCP Timeout")

	// Service
	cmd.Flags().StringP("service-listen", "s", _config.ServiceAddr, "Listen IP:Port for HTTP service")
	cmd.Flags().Bool("no-service", _config.NoService, "Disable the HTTP service")

	// Store
	cmd.Flags().Bool("store", _config.Store, "Use badgerDB instead of in-mem DB")
	cmd.Flags().String("db", _config.DatabaseDir, "Database directory")

	// Exchange
	cmd.Flags().Duration("want-timeout", _config.WantTimeout, "Time before re-broadcasting an unanswered want")
	cmd.Flags().Int("retry-limit", _config.RetryLimit, "Number of want re-broadcasts before giving up")
	cmd.Flags().Bool("eager-blocks", _config.EagerBlocks, "Request block payloads directly, skipping have/dont-have")

	// Garbage collection
	cmd.Flags().String("gc-policy", _config.GCPolicy, "pause or revalidate")
	cmd.Flags().Duration("gc-interval", _config.GCInterval, "Period of automatic garbage collection, 0 to disable")

	cmd.Flags().Bool("maintenance-mode", _config.MaintenanceMode, "Start the node in a suspended state")
}

func loadConfig(cmd *cobra.Command, args []string) error {

	err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	// If --datadir was explicitely set, but not --db, this will update the
	// default database dir to be inside the new datadir
	_config.SetDataDir(_config.DataDir)

	logFields := logrus.Fields{
		"DataDir":         _config.DataDir,
		"BindAddr":        _config.BindAddr,
		"AdvertiseAddr":   _config.AdvertiseAddr,
		"ServiceAddr":     _config.ServiceAddr,
		"NoService":       _config.NoService,
		"Store":           _config.Store,
		"LogLevel":        _config.LogLevel,
		"Moniker":         _config.Moniker,
		"WantTimeout":     _config.WantTimeout,
		"RetryLimit":      _config.RetryLimit,
		"EagerBlocks":     _config.EagerBlocks,
		"GCPolicy":        _config.GCPolicy,
		"GCInterval":      _config.GCInterval,
		"TCPTimeout":      _config.TCPTimeout,
		"MaintenanceMode": _config.MaintenanceMode,
	}

	if _config.Store {
		logFields["DatabaseDir"] = _config.DatabaseDir
	}

	_config.Logger().WithFields(logFields).Debug("RUN")

	return nil
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// Register flags with viper. Include flags from this command and all other
	// persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/hoard.toml (.json, .yaml also work)
	viper.SetConfigName("hoard")         // name of config file (without extension)
	viper.AddConfigPath(_config.DataDir) // search root directory

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		_config.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		_config.Logger().Debugf("No config file found in: %s", _config.DataDir)
	} else {
		return err
	}

	// second unmarshal to read from config file
	return viper.Unmarshal(_config)
}
