package main

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/spf13/cobra"

	"github.com/aristath/taskregistry/internal/config"
	"github.com/aristath/taskregistry/internal/events"
	"github.com/aristath/taskregistry/internal/registry"
	"github.com/aristath/taskregistry/internal/statemachine"
	"github.com/aristath/taskregistry/internal/workspace"
)

// app holds the global flags and the components opened for one command.
type app struct {
	configPath    string
	registryPath  string
	backend       string
	workspaceRoot string
	verbose       bool
	jsonOutput    bool

	cfg        *config.Config
	bus        *events.EventBus
	store      *registry.Store
	workspaces *workspace.Factory
	machine    *statemachine.Machine
}

func newApp() *app {
	return &app{}
}

// loadConfig merges the configuration files and applies flag overrides.
func (a *app) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if a.configPath != "" {
		cfg, err = config.Load("", a.configPath)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, err
	}

	if a.registryPath != "" {
		cfg.Registry.Path = a.registryPath
		if a.backend == "" {
			cfg.Registry.Backend = registry.BackendFor(a.registryPath)
		}
	}
	if a.backend != "" {
		cfg.Registry.Backend = a.backend
	}
	if a.workspaceRoot != "" {
		cfg.Workspace.Root = a.workspaceRoot
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// open wires config, event bus, store, workspace factory and state machine.
func (a *app) open(ctx context.Context) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.bus = events.NewEventBus()

	store, err := registry.Open(ctx, cfg.Registry.Backend, cfg.Registry.Path, registry.WithEventBus(a.bus))
	if err != nil {
		a.bus.Close()
		return err
	}
	a.store = store

	workspaces, err := workspace.NewFactory(cfg.Workspace.Root)
	if err != nil {
		a.close()
		return err
	}
	a.workspaces = workspaces
	a.machine = statemachine.New(store, workspaces, statemachine.WithEventBus(a.bus))

	a.debugf("registry %s (%s), workspaces %s", cfg.Registry.Path, cfg.Registry.Backend, workspaces.Root())
	return nil
}

func (a *app) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Printf("WARNING: failed to close registry: %v", err)
		}
		a.store = nil
	}
	if a.bus != nil {
		a.bus.Close()
		a.bus = nil
	}
}

// runE opens the registry around fn.
func (a *app) runE(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := a.open(cmd.Context()); err != nil {
			return err
		}
		defer a.close()
		return fn(cmd, args)
	}
}

func (a *app) debugf(format string, args ...any) {
	if a.verbose {
		log.Printf("DEBUG: "+format, args...)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "taskregistry",
		Short:         "Task registry with lifecycle state machine and per-task workspaces",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			log.SetOutput(cmd.ErrOrStderr())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default: ~/.taskregistry/config.* merged with .taskregistry/config.*)")
	flags.StringVar(&a.registryPath, "registry", "", "registry file, overrides registry.path")
	flags.StringVar(&a.backend, "backend", "", "registry backend: json or sqlite")
	flags.StringVar(&a.workspaceRoot, "workspaces", "", "workspace root, overrides workspace.root")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "log debug output")
	flags.BoolVar(&a.jsonOutput, "json", false, "print JSON instead of tables")

	root.AddGroup(
		&cobra.Group{ID: "tasks", Title: "Task commands:"},
		&cobra.Group{ID: "workspaces", Title: "Workspace commands:"},
		&cobra.Group{ID: "run", Title: "Execution commands:"},
	)

	root.AddCommand(
		newCreateCmd(a),
		newGetCmd(a),
		newListCmd(a),
		newAvailableCmd(a),
		newUpdateCmd(a),
		newDeleteCmd(a),
		newStatsCmd(a),
		newOrderCmd(a),
		newTransitionCmd(a),
		newBlockingCmd(a),
		newBlockedCmd(a),
		newWorkspaceCmd(a),
		newImportCmd(a),
		newDispatchCmd(a),
		newBoardCmd(a),
		newConfigCmd(a),
	)
	return root
}

// stdinOr returns s, or the whole of stdin when s is "-".
func stdinOr(cmd *cobra.Command, s string) (string, error) {
	if s != "-" {
		return s, nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return string(data), nil
}
