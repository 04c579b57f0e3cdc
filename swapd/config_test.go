package swapd

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/swapbridge/swapbridge/chain"
)

// TestParseChain tests parsing of the chain flag.
func TestParseChain(t *testing.T) {
	tests := []struct {
		name     string
		spec     string
		expected chain.Params
		err      bool
	}{
		{
			name: "utxo chain",
			spec: "bitcoin:utxo:6",
			expected: chain.Params{
				ID:                    "bitcoin",
				Type:                  chain.TypeUTXO,
				RequiredConfirmations: 6,
			},
		},
		{
			name: "type alias",
			spec: "sepolia:ethereum:12",
			expected: chain.Params{
				ID:                    "sepolia",
				Type:                  chain.TypeEVM,
				RequiredConfirmations: 12,
			},
		},
		{
			name: "missing confirmations",
			spec: "bitcoin:utxo",
			err:  true,
		},
		{
			name: "unknown type",
			spec: "bitcoin:cosmos:6",
			err:  true,
		},
		{
			name: "negative confirmations",
			spec: "bitcoin:utxo:-1",
			err:  true,
		},
		{
			name: "empty id",
			spec: ":utxo:6",
			err:  true,
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			params, err := parseChain(test.spec)
			if test.err {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			require.Equal(t, test.expected, params)
		})
	}
}

// TestValidate tests the daemon config validation.
func TestValidate(t *testing.T) {
	valid := func(t *testing.T) Config {
		cfg := DefaultConfig()
		cfg.SwapDir = t.TempDir()
		cfg.SafetyMargin = time.Hour
		cfg.Chains = []string{"bitcoin:utxo:6", "ethereum:evm:12"}

		return cfg
	}

	tests := []struct {
		name   string
		mutate func(cfg *Config)
		err    error
	}{
		{
			name:   "valid",
			mutate: func(*Config) {},
		},
		{
			name: "no safety margin",
			mutate: func(cfg *Config) {
				cfg.SafetyMargin = 0
			},
			err: ErrMissingSafetyMargin,
		},
		{
			name: "no chains",
			mutate: func(cfg *Config) {
				cfg.Chains = nil
			},
			err: ErrNoChains,
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			cfg := valid(t)
			test.mutate(&cfg)

			err := Validate(&cfg)
			if test.err != nil {
				require.ErrorIs(t, err, test.err)
				return
			}

			require.NoError(t, err)
			require.Equal(t, cfg.SwapDir, cfg.DataDir)
			require.Equal(
				t, filepath.Join(cfg.SwapDir, defaultLogDirname),
				cfg.LogDir,
			)
			require.Equal(
				t, filepath.Join(cfg.SwapDir, defaultSqliteFilename),
				cfg.Sqlite.DatabaseFileName,
			)
		})
	}

	t.Run("duplicate chain", func(t *testing.T) {
		cfg := valid(t)
		cfg.Chains = append(cfg.Chains, "bitcoin:utxo:3")
		require.Error(t, Validate(&cfg))
	})

	t.Run("demo needs two chains", func(t *testing.T) {
		cfg := valid(t)
		cfg.Chains = cfg.Chains[:1]
		cfg.Simulate.Enable = true
		cfg.Simulate.DemoSwaps = 1
		require.Error(t, Validate(&cfg))
	})

	t.Run("swapdir and datadir", func(t *testing.T) {
		cfg := valid(t)
		cfg.DataDir = t.TempDir()
		require.Error(t, Validate(&cfg))
	})
}
