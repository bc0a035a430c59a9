// chainstated runs the chainstate engine as a standalone daemon: it
// opens storage, recovers (or seeds) the chain cursor, and serves
// block submissions through a single serialized Handle until asked to
// stop. It carries no P2P, mempool, mining, or RPC surface — those are
// out of scope here and are wired by a separate process against the
// same storage directory.
//
// Usage:
//
//	chainstated run                 Run the daemon
//	chainstated export <file>       Stream the local chain to a file
//	chainstated import <file>       Load a chain stream into local storage
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mintledger/chainstate/config"
	"github.com/mintledger/chainstate/internal/chainstate"
	klog "github.com/mintledger/chainstate/internal/log"
	"github.com/mintledger/chainstate/internal/storage"
	"github.com/spf13/cobra"
)

func main() {
	var flags *config.Flags
	var cfg *config.Config

	root := &cobra.Command{
		Use:   "chainstated",
		Short: "Chainstate engine daemon",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(flags)
			if err != nil {
				return err
			}
			cfg = loaded
			return initLogging(cfg)
		},
	}
	flags = config.BindFlags(root.PersistentFlags())

	root.AddCommand(
		newRunCmd(&cfg),
		newExportCmd(&cfg),
		newImportCmd(&cfg),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func initLogging(cfg *config.Config) error {
	logFile := cfg.Log.File
	if logFile == "" {
		logFile = cfg.LogsDir() + "/chainstated.log"
	}
	return klog.Init(cfg.Log.Level, cfg.Log.JSON, logFile)
}

func openBackend(cfg *config.Config) (storage.Backend, error) {
	if cfg.Storage.Backend == "memory" {
		return storage.NewMemory(), nil
	}
	return storage.NewBadger(cfg.StorageDir(), cfg.Storage.CacheSizeMB)
}

func openEngine(cfg *config.Config) (*chainstate.Engine, func() error, error) {
	backend, err := openBackend(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open storage: %w", err)
	}

	e, err := chainstate.New(backend, chainstate.Config{
		Protocol:   &config.GenesisFor(cfg.Network).Protocol,
		Chainstate: cfg.Chainstate,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open engine: %w", err)
	}

	state := e.State()
	if state.TipHash.IsZero() {
		if err := e.InitFromGenesis(config.GenesisFor(cfg.Network)); err != nil {
			backend.Close()
			return nil, nil, fmt.Errorf("init genesis: %w", err)
		}
	}

	return e, backend.Close, nil
}

func newRunCmd(cfg **config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the chainstate daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := klog.WithComponent("chainstated")

			e, closeBackend, err := openEngine(*cfg)
			if err != nil {
				return err
			}
			defer closeBackend()

			h := chainstate.NewHandle(e)
			defer h.Close()

			sub, unsubscribe := h.Subscribe()
			defer unsubscribe()

			state := h.State()
			logger.Info().
				Uint64("height", state.Height).
				Str("tip", state.TipHash.String()).
				Msg("Chainstate daemon started")

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			for {
				select {
				case ev := <-sub:
					logger.Info().
						Uint64("height", ev.Height).
						Str("tip", ev.BlockID.String()).
						Msg("New tip")
				case sig := <-sigCh:
					logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
					return nil
				}
			}
		},
	}
}

func newExportCmd(cfg **config.Config) *cobra.Command {
	var includeOrphans bool

	cmd := &cobra.Command{
		Use:   "export <file>",
		Short: "Export the local chain to a bootstrap stream file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, closeBackend, err := openEngine(*cfg)
			if err != nil {
				return err
			}
			defer closeBackend()

			f, err := os.Create(args[0])
			if err != nil {
				return fmt.Errorf("create %s: %w", args[0], err)
			}
			defer f.Close()

			start := time.Now()
			if err := e.Export(f, includeOrphans); err != nil {
				return fmt.Errorf("export: %w", err)
			}
			klog.WithComponent("chainstated").Info().
				Dur("elapsed", time.Since(start)).
				Msg("Export complete")
			return nil
		},
	}
	cmd.Flags().BoolVar(&includeOrphans, "include-orphans", false, "also export blocks currently buffered in the orphan pool")
	return cmd
}

func newImportCmd(cfg **config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import a bootstrap stream file into local storage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, closeBackend, err := openEngine(*cfg)
			if err != nil {
				return err
			}
			defer closeBackend()

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open %s: %w", args[0], err)
			}
			defer f.Close()

			start := time.Now()
			count, err := e.Import(f)
			if err != nil {
				return fmt.Errorf("import: %w", err)
			}
			klog.WithComponent("chainstated").Info().
				Int("blocks", count).
				Dur("elapsed", time.Since(start)).
				Msg("Import complete")
			return nil
		},
	}
}
