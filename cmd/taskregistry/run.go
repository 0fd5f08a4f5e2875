package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/aristath/taskregistry/internal/dispatch"
	"github.com/aristath/taskregistry/internal/epic"
	"github.com/aristath/taskregistry/internal/task"
	"github.com/aristath/taskregistry/internal/tui"
)

func newImportCmd(a *app) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:     "import <epic.md>",
		GroupID: "tasks",
		Short:   "Create the tasks described in an epic markdown file",
		Args:    cobra.ExactArgs(1),
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open epic: %w", err)
			}
			defer f.Close()

			e, err := epic.Parse(f)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}

			w := cmd.OutOrStdout()
			if dryRun {
				ordered, err := e.Order()
				if err != nil {
					return err
				}
				for _, spec := range ordered {
					fmt.Fprintf(w, "%s\t%s\n", spec.ID, spec.Title)
				}
				return nil
			}

			result, err := epic.Import(cmd.Context(), a.store, e)
			if result != nil {
				for _, id := range result.Created {
					fmt.Fprintf(w, "created %s\n", id)
				}
				for _, id := range result.Skipped {
					fmt.Fprintf(w, "skipped %s (exists)\n", id)
				}
			}
			return err
		}),
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the creation order without creating anything")
	return cmd
}

// dispatchFlags are the command-line overrides of the dispatch config.
type dispatchFlags struct {
	assignee    string
	objective   string
	concurrency int
	watch       bool
}

func (f *dispatchFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.assignee, "assignee", "", "name recorded on claimed tasks (default dispatch.assignee)")
	cmd.Flags().StringVar(&f.objective, "objective", "", "only dispatch tasks of this objective")
	cmd.Flags().IntVarP(&f.concurrency, "concurrency", "c", 0, "max concurrent tasks (default dispatch.concurrency)")
}

// newRunner builds an exec-backed runner from config plus overrides.
func (a *app) newRunner(f dispatchFlags, command []string, pm *dispatch.ProcessManager) (*dispatch.Runner, error) {
	d := a.cfg.Dispatch
	if f.assignee != "" {
		d.Assignee = f.assignee
	}
	if f.objective != "" {
		d.Objective = f.objective
	}
	if f.concurrency > 0 {
		d.Concurrency = f.concurrency
	}
	if len(command) == 0 {
		command = d.Command
	}
	if len(command) == 0 {
		return nil, fmt.Errorf("no worker command: set dispatch.command or pass one after --")
	}

	worker := &dispatch.ExecWorker{Command: command, Env: d.Env, Processes: pm}
	return dispatch.NewRunner(dispatch.Config{
		Assignee:     d.Assignee,
		Objective:    d.Objective,
		Concurrency:  d.Concurrency,
		Watch:        f.watch,
		PollInterval: d.PollInterval.Std(),
		Verbose:      a.verbose,
		Retry: dispatch.RetryConfig{
			InitialInterval:     d.RetryInterval.Std(),
			MaxInterval:         d.RetryMaxInterval.Std(),
			MaxRetries:          uint64(d.MaxRetries),
			Multiplier:          2.0,
			RandomizationFactor: 0.5,
		},
		Breaker: dispatch.BreakerConfig{
			Threshold: uint32(d.BreakerThreshold),
			Timeout:   d.BreakerTimeout.Std(),
		},
	}, a.store, a.machine, a.workspaces, worker)
}

func newDispatchCmd(a *app) *cobra.Command {
	var flags dispatchFlags
	cmd := &cobra.Command{
		Use:     "dispatch [-- command args...]",
		GroupID: "run",
		Short:   "Claim available tasks and run a command for each",
		Long: `Claim available tasks and run the worker command once per task, inside the
task's work/ directory. The command sees TASK_ID, TASK_TITLE, TASK_OBJECTIVE
and TASK_WORKSPACE. Exit status 0 completes the task, anything else fails it.

Without --watch, dispatch returns once nothing is left to claim.`,
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			// Kill all tracked subprocesses on shutdown
			pm := dispatch.NewProcessManager()
			stop := context.AfterFunc(ctx, func() {
				log.Println("Shutdown signal received, cleaning up...")
				if err := pm.KillAll(); err != nil {
					log.Printf("Error killing subprocesses: %v", err)
				}
			})
			defer stop()

			runner, err := a.newRunner(flags, args, pm)
			if err != nil {
				return err
			}

			results, err := runner.Run(ctx)
			failed := printResults(cmd.OutOrStdout(), results)
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d task(s) failed", failed)
			}
			return nil
		}),
	}
	flags.register(cmd)
	cmd.Flags().BoolVarP(&flags.watch, "watch", "w", false, "keep polling for new work until interrupted")
	return cmd
}

func printResults(w io.Writer, results []dispatch.TaskResult) (failed int) {
	for _, r := range results {
		switch {
		case r.Success:
			fmt.Fprintf(w, "done     %s\n", r.TaskID)
		case r.Skipped:
			fmt.Fprintf(w, "skipped  %s\n", r.TaskID)
		default:
			failed++
			fmt.Fprintf(w, "failed   %s: %v\n", r.TaskID, r.Error)
		}
	}
	return failed
}

func newBoardCmd(a *app) *cobra.Command {
	var (
		filter       task.Filter
		withDispatch bool
		flags        dispatchFlags
	)
	cmd := &cobra.Command{
		Use:     "board [-- command args...]",
		GroupID: "run",
		Short:   "Live board of task states and timelines",
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			model := tui.New(ctx, a.store, a.workspaces,
				tui.WithEventBus(a.bus),
				tui.WithFilter(filter),
				tui.WithPollInterval(a.cfg.Dispatch.PollInterval.Std()),
			)
			p := tea.NewProgram(model, tea.WithAltScreen())

			pm := dispatch.NewProcessManager()
			if withDispatch {
				flags.watch = true
				runner, err := a.newRunner(flags, args, pm)
				if err != nil {
					return err
				}
				logFile, err := os.OpenFile(filepath.Join(a.workspaces.Root(), "dispatch.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
				if err != nil {
					return fmt.Errorf("failed to open dispatch log: %w", err)
				}
				defer logFile.Close()
				log.SetOutput(logFile)
				defer log.SetOutput(cmd.ErrOrStderr())

				go func() {
					if _, err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
						log.Printf("ERROR: dispatcher stopped: %v", err)
					}
				}()
			}

			// Run the program in a goroutine so shutdown can be handled here
			errChan := make(chan error, 1)
			go func() {
				_, err := p.Run()
				errChan <- err
			}()

			select {
			case err := <-errChan:
				// Normal exit (user pressed 'q')
				cancel()
				if err := pm.KillAll(); err != nil {
					log.Printf("Error killing subprocesses: %v", err)
				}
				return err
			case <-cmd.Context().Done():
				if err := pm.KillAll(); err != nil {
					log.Printf("Error killing subprocesses: %v", err)
				}
				p.Quit()

				// Wait for the program to exit with timeout
				select {
				case err := <-errChan:
					if err != nil {
						log.Printf("Board exit error: %v", err)
					}
				case <-time.After(10 * time.Second):
					log.Println("Shutdown timeout exceeded, forcing exit")
				}
				return nil
			}
		}),
	}

	cmd.Flags().StringVar(&filter.Objective, "objective", "", "only show tasks of this objective")
	cmd.Flags().StringVar(&filter.Phase, "phase", "", "only show tasks in this phase")
	cmd.Flags().BoolVar(&withDispatch, "dispatch", false, "also run the dispatcher in watch mode (logs to <workspaces>/dispatch.log)")
	flags.register(cmd)
	return cmd
}
