package swapd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jessevdk/go-flags"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/lncfg"
	"github.com/lightningnetwork/lnd/signal"
	"github.com/swapbridge/swapbridge/swapdb"
)

// Run starts the swap daemon and blocks until it's shut down again.
func Run() error {
	config := DefaultConfig()

	// Parse command line flags.
	parser := flags.NewParser(&config, flags.Default)
	parser.SubcommandsOptional = true

	_, err := parser.Parse()
	if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
		return nil
	}
	if err != nil {
		return err
	}

	// Parse ini file.
	swapDir := lncfg.CleanAndExpandPath(config.SwapDir)
	configFile := getConfigPath(config, swapDir)

	if err := flags.IniParse(configFile, &config); err != nil {
		// If it's a parsing related error, then we'll return
		// immediately, otherwise we can proceed as possibly the config
		// file doesn't exist which is OK.
		if _, ok := err.(*flags.IniError); ok {
			return err
		}
	}

	// Parse command line flags again to restore flags overwritten by ini
	// parse.
	_, err = parser.Parse()
	if err != nil {
		return err
	}

	// Show the version and exit if the version flag was specified.
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	if config.ShowVersion {
		fmt.Println(appName, "version", Version())
		os.Exit(0)
	}

	logWriter := NewRotatingLogWriter()
	SetupLoggers(logWriter)

	// Special show command to list supported subsystems and exit.
	if config.DebugLevel == "show" {
		fmt.Printf("Supported subsystems: %v\n",
			logWriter.SupportedSubsystems())
		os.Exit(0)
	}

	// The view command only needs the database.
	if parser.Active != nil && parser.Active.Name == "view" {
		if err := validatePaths(&config); err != nil {
			return err
		}

		return view(&config)
	}

	if parser.Active != nil {
		return fmt.Errorf("unimplemented command %v",
			parser.Active.Name)
	}

	// Validate our config before we proceed.
	if err := Validate(&config); err != nil {
		return err
	}

	// Initialize logging at the default logging level.
	err = logWriter.InitLogRotator(
		filepath.Join(config.LogDir, defaultLogFilename),
		config.MaxLogFileSize, config.MaxLogFiles,
	)
	if err != nil {
		return err
	}
	defer logWriter.Close()

	err = ParseAndSetDebugLevels(config.DebugLevel, logWriter)
	if err != nil {
		return err
	}

	log.Infof("Version: %v", Version())

	// Orders of an old bolt database are moved to the sql backend before
	// anything else touches the store.
	if needSqlMigration(&config) {
		log.Infof("Found bolt database, migrating to %v",
			config.DatabaseBackend)

		err := migrateBoltdb(
			context.Background(), &config, clock.NewDefaultClock(),
		)
		if err != nil {
			return fmt.Errorf("unable to migrate bolt database: %w",
				err)
		}
	}

	interceptor, err := signal.Intercept()
	if err != nil {
		return err
	}

	daemon := New(&config, nil)
	if err := daemon.Start(); err != nil {
		return err
	}

	select {
	case <-interceptor.ShutdownChannel():
		log.Infof("Received SIGINT (Ctrl+C).")
		daemon.Stop()

		// The above stop will return once all goroutines exited, the
		// result is reported on the error channel.
		return <-daemon.ErrChan

	case err := <-daemon.ErrChan:
		return err
	}
}

// getConfigPath gets our config path based on the values that are set in our
// config.
func getConfigPath(cfg Config, swapDir string) string {
	// If the config file path provided by the user is set, then we just
	// use this value.
	if cfg.ConfigFile != defaultConfigFile {
		return lncfg.CleanAndExpandPath(cfg.ConfigFile)
	}

	// Otherwise the config file lives in the swap directory, which might
	// be a custom one.
	return filepath.Join(swapDir, defaultConfigFilename)
}

// LoadConfig reads the swapd config file and cleans up its paths without
// validating the daemon settings. It serves offline tools that only need
// access to the database.
func LoadConfig(swapDir, configFile string) (*Config, error) {
	config := DefaultConfig()
	if swapDir != "" {
		config.SwapDir = swapDir
	}
	if configFile != "" {
		config.ConfigFile = configFile
	}

	path := getConfigPath(config, lncfg.CleanAndExpandPath(config.SwapDir))
	if err := flags.IniParse(path, &config); err != nil {
		if _, ok := err.(*flags.IniError); ok {
			return nil, err
		}
	}

	if err := validatePaths(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// OpenDatabase opens the order store configured in cfg.
func OpenDatabase(cfg *Config) (swapdb.SwapStore, error) {
	return openDatabase(cfg, clock.NewDefaultClock())
}
