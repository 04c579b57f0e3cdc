package swapd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/lncfg"
	"github.com/swapbridge/swapbridge/chain"
	"github.com/swapbridge/swapbridge/enforcer"
	"github.com/swapbridge/swapbridge/swapdb"
)

const (
	// DatabaseBackendSqlite is the name of the sqlite backend.
	DatabaseBackendSqlite = "sqlite"

	// DatabaseBackendPostgres is the name of the postgres backend.
	DatabaseBackendPostgres = "postgres"

	// DatabaseBackendBolt is the name of the bbolt backend.
	DatabaseBackendBolt = "bolt"
)

var (
	// SwapDirBase is the default main directory where swapd stores its
	// data.
	SwapDirBase = btcutil.AppDataDir("swapd", false)

	defaultConfigFilename = "swapd.conf"
	defaultSqliteFilename = "swapd.db"
	defaultLogLevel       = "info"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "swapd.log"
	defaultLogDir         = filepath.Join(SwapDirBase, defaultLogDirname)
	defaultConfigFile     = filepath.Join(
		SwapDirBase, defaultConfigFilename,
	)
	defaultSqliteDatabasePath = filepath.Join(
		SwapDirBase, defaultSqliteFilename,
	)

	defaultMaxLogFiles    = 3
	defaultMaxLogFileSize = 10

	defaultCallTimeout      = 30 * time.Second
	defaultPollInterval     = 30 * time.Second
	defaultMaxWait          = 6 * time.Hour
	defaultMaxRetries       = 10
	defaultMaxNotFoundPolls = 20
	defaultInitialBackoff   = time.Second
	defaultMaxBackoff       = time.Minute
	defaultBlockInterval    = 10 * time.Second

	// ErrMissingSafetyMargin is returned if no safety margin is
	// configured. The margin depends on the deployment's chains and has
	// no default.
	ErrMissingSafetyMargin = errors.New("safetymargin must be configured")

	// ErrNoChains is returned if no chain is configured.
	ErrNoChains = errors.New("at least one chain must be configured")
)

type watcherConfig struct {
	PollInterval     time.Duration `long:"pollinterval" description:"Interval between two confirmation polls of a lock transaction."`
	MaxWait          time.Duration `long:"maxwait" description:"Maximum time a lock transaction is watched before the order fails."`
	MaxRetries       int           `long:"maxretries" description:"Number of consecutive transient adapter failures tolerated while watching."`
	MaxNotFoundPolls int           `long:"maxnotfoundpolls" description:"Number of consecutive polls a lock transaction may be unknown to its chain."`
	InitialBackoff   time.Duration `long:"initialbackoff" description:"First wait after a transient adapter failure."`
	MaxBackoff       time.Duration `long:"maxbackoff" description:"Maximum wait between two retries."`
}

type simulateConfig struct {
	Enable        bool          `long:"enable" description:"Run every configured chain on an in-memory simulated ledger."`
	BlockInterval time.Duration `long:"blockinterval" description:"Interval at which the simulated chains produce blocks."`
	DemoSwaps     int           `long:"demoswaps" description:"Number of swaps between the first two chains that the daemon drives end to end on startup, playing both parties."`
}

type viewParameters struct{}

// Config is the configuration of the swap daemon.
type Config struct {
	ShowVersion bool `long:"version" description:"Display version information and exit"`

	SwapDir        string `long:"swapdir" description:"The directory for all of swapd's data."`
	ConfigFile     string `long:"configfile" description:"Path to configuration file."`
	DataDir        string `long:"datadir" description:"Directory for the swap database."`
	LogDir         string `long:"logdir" description:"Directory to log output."`
	MaxLogFiles    int    `long:"maxlogfiles" description:"Maximum logfiles to keep (0 for no rotation)"`
	MaxLogFileSize int    `long:"maxlogfilesize" description:"Maximum logfile size in MB"`

	DebugLevel string `long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`

	DatabaseBackend string                 `long:"databasebackend" description:"The database backend to use for storing all swap orders." choice:"sqlite" choice:"postgres" choice:"bolt"`
	Sqlite          *swapdb.SqliteConfig   `group:"sqlite" namespace:"sqlite"`
	Postgres        *swapdb.PostgresConfig `group:"postgres" namespace:"postgres"`

	Chains []string `long:"chain" description:"A supported chain in the form <id>:<type>:<confirmations>, e.g. bitcoin:utxo:6. The type is one of utxo, evm or solana. Can be specified multiple times."`

	SafetyMargin  time.Duration `long:"safetymargin" description:"Minimum amount of time by which the initiator's timelock must exceed the counterparty's. Required."`
	CallTimeout   time.Duration `long:"calltimeout" description:"Timeout of a single chain adapter call."`
	SweepInterval time.Duration `long:"sweepinterval" description:"Interval at which expired locks are refunded."`

	Watcher *watcherConfig `group:"watcher" namespace:"watcher"`

	Simulate *simulateConfig `group:"simulate" namespace:"simulate"`

	View viewParameters `command:"view" alias:"v" description:"View all swaps in the database. This command can only be executed when swapd is not running."`
}

// DefaultConfig returns all default values for the Config struct.
func DefaultConfig() Config {
	return Config{
		SwapDir:         SwapDirBase,
		ConfigFile:      defaultConfigFile,
		DataDir:         SwapDirBase,
		LogDir:          defaultLogDir,
		MaxLogFiles:     defaultMaxLogFiles,
		MaxLogFileSize:  defaultMaxLogFileSize,
		DebugLevel:      defaultLogLevel,
		DatabaseBackend: DatabaseBackendSqlite,
		Sqlite: &swapdb.SqliteConfig{
			DatabaseFileName: defaultSqliteDatabasePath,
		},
		Postgres:      &swapdb.PostgresConfig{},
		CallTimeout:   defaultCallTimeout,
		SweepInterval: enforcer.DefaultSweepInterval,
		Watcher: &watcherConfig{
			PollInterval:     defaultPollInterval,
			MaxWait:          defaultMaxWait,
			MaxRetries:       defaultMaxRetries,
			MaxNotFoundPolls: defaultMaxNotFoundPolls,
			InitialBackoff:   defaultInitialBackoff,
			MaxBackoff:       defaultMaxBackoff,
		},
		Simulate: &simulateConfig{
			BlockInterval: defaultBlockInterval,
		},
	}
}

// Validate cleans up paths in the config provided and validates it.
func Validate(cfg *Config) error {
	if err := validatePaths(cfg); err != nil {
		return err
	}

	switch cfg.DatabaseBackend {
	case DatabaseBackendSqlite, DatabaseBackendPostgres,
		DatabaseBackendBolt:

	default:
		return fmt.Errorf("unknown database backend: %s",
			cfg.DatabaseBackend)
	}

	if cfg.SafetyMargin <= 0 {
		return ErrMissingSafetyMargin
	}

	if cfg.CallTimeout <= 0 {
		return fmt.Errorf("calltimeout must be positive")
	}

	if cfg.SweepInterval <= 0 {
		return fmt.Errorf("sweepinterval must be positive")
	}

	if _, err := cfg.chainParams(); err != nil {
		return err
	}

	if cfg.Simulate.Enable {
		if cfg.Simulate.BlockInterval <= 0 {
			return fmt.Errorf("simulate.blockinterval must be " +
				"positive")
		}

		if cfg.Simulate.DemoSwaps > 0 && len(cfg.Chains) < 2 {
			return fmt.Errorf("simulate.demoswaps needs two chains")
		}
	}

	return nil
}

// validatePaths cleans up the paths in the config and creates the data and
// log directories.
func validatePaths(cfg *Config) error {
	// Cleanup any paths before we use them.
	cfg.SwapDir = lncfg.CleanAndExpandPath(cfg.SwapDir)
	cfg.DataDir = lncfg.CleanAndExpandPath(cfg.DataDir)
	cfg.LogDir = lncfg.CleanAndExpandPath(cfg.LogDir)

	// Since our swap directory overrides our log/data dir values, make
	// sure that they are not set when swap dir is set. We fail hard here
	// rather than overwriting and potentially confusing the user.
	logDirSet := cfg.LogDir != defaultLogDir
	dataDirSet := cfg.DataDir != SwapDirBase
	swapDirSet := cfg.SwapDir != SwapDirBase

	if swapDirSet {
		if logDirSet {
			return fmt.Errorf("swapdir overwrites logdir, please " +
				"only set one value")
		}

		if dataDirSet {
			return fmt.Errorf("swapdir overwrites datadir, please " +
				"only set one value")
		}

		// Once we are satisfied that neither config value was set, we
		// replace them with our swap dir.
		cfg.DataDir = cfg.SwapDir
		cfg.LogDir = filepath.Join(cfg.SwapDir, defaultLogDirname)
	}

	// If the sqlite database wasn't moved explicitly, it follows the data
	// directory.
	if cfg.Sqlite.DatabaseFileName == defaultSqliteDatabasePath {
		cfg.Sqlite.DatabaseFileName = filepath.Join(
			cfg.DataDir, defaultSqliteFilename,
		)
	} else {
		cfg.Sqlite.DatabaseFileName = lncfg.CleanAndExpandPath(
			cfg.Sqlite.DatabaseFileName,
		)
	}

	// If either of these directories do not exist, create them.
	if err := os.MkdirAll(cfg.DataDir, os.ModePerm); err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.LogDir, os.ModePerm); err != nil {
		return err
	}

	return nil
}

// chainParams parses the configured chains.
func (cfg *Config) chainParams() ([]chain.Params, error) {
	if len(cfg.Chains) == 0 {
		return nil, ErrNoChains
	}

	seen := make(map[chain.ID]struct{}, len(cfg.Chains))
	params := make([]chain.Params, 0, len(cfg.Chains))
	for _, spec := range cfg.Chains {
		p, err := parseChain(spec)
		if err != nil {
			return nil, err
		}

		if _, ok := seen[p.ID]; ok {
			return nil, fmt.Errorf("chain %v configured twice",
				p.ID)
		}
		seen[p.ID] = struct{}{}

		params = append(params, p)
	}

	return params, nil
}

// parseChain parses a chain in the form <id>:<type>:<confirmations>.
func parseChain(spec string) (chain.Params, error) {
	fields := strings.Split(spec, ":")
	if len(fields) != 3 {
		return chain.Params{}, fmt.Errorf("invalid chain %q, use "+
			"<id>:<type>:<confirmations>", spec)
	}

	chainType, err := chain.ParseType(fields[1])
	if err != nil {
		return chain.Params{}, fmt.Errorf("invalid chain %q: %w", spec,
			err)
	}

	confs, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil {
		return chain.Params{}, fmt.Errorf("invalid confirmations in "+
			"chain %q: %w", spec, err)
	}

	params := chain.Params{
		ID:                    chain.ID(fields[0]),
		Type:                  chainType,
		RequiredConfirmations: uint32(confs),
	}

	if err := params.Validate(); err != nil {
		return chain.Params{}, err
	}

	return params, nil
}
