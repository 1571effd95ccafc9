package main

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/okapi-tools/switchboard/cli"
	"github.com/okapi-tools/switchboard/config"
	"github.com/okapi-tools/switchboard/driver"
	"github.com/okapi-tools/switchboard/logger"
	"github.com/okapi-tools/switchboard/manager"
	"github.com/okapi-tools/switchboard/runner"
	"github.com/okapi-tools/switchboard/session"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "switchboard",
		Short: "Drive coding agent CLIs over local, WSL, and SSH transports",
		Long: "Switchboard runs Claude Code, Codex, and Gemini CLI sessions through a\n" +
			"uniform transport layer and normalizes their streams into one event model.",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newSendCommand())
	rootCmd.AddCommand(newApproveCommand())
	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newDeleteCommand())
	rootCmd.AddCommand(newDoctorCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads config and builds the store, transport, and manager shared by
// the turn-running commands.
func setup() (*config.Config, *config.FileStore, *manager.Manager, *consoleNotifier, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger.SetDebug(cfg.Debug)
	if path, err := logger.DefaultLogPath(); err == nil {
		_ = logger.Init(path)
	}

	store, err := config.NewFileStore()
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to open thread store: %w", err)
	}

	run, err := cfg.BuildRunner()
	if err != nil {
		return nil, nil, nil, nil, err
	}

	notifier := newConsoleNotifier()
	mgr := manager.New(store, notifier, run)
	mgr.SetTitleGenerator(func(run runner.Runner, threadID string) session.TitleGenerator {
		provider := cfg.DefaultProvider
		if th, err := store.GetThread(threadID); err == nil {
			provider = th.Provider
		}
		return &session.CLITitleGenerator{Provider: provider, Runner: run}
	})
	return cfg, store, mgr, notifier, nil
}

func newSendCommand() *cobra.Command {
	var (
		threadID string
		provider string
		model    string
		workDir  string
	)

	cmd := &cobra.Command{
		Use:   "send <message>",
		Short: "Send a message and stream the agent's turn",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, mgr, notifier, err := setup()
			if err != nil {
				return err
			}
			defer mgr.Shutdown()
			defer logger.Close()

			if threadID == "" {
				threadID, err = createThread(cfg, store, provider, model, workDir)
				if err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "thread %s\n", threadID)
			}

			sess, err := mgr.Get(threadID)
			if err != nil {
				return err
			}
			if err := sess.SendMessage(args[0]); err != nil {
				return err
			}
			return notifier.waitTurn(sess)
		},
	}

	cmd.Flags().StringVarP(&threadID, "thread", "t", "", "existing thread id (omit to start a new thread)")
	cmd.Flags().StringVarP(&provider, "provider", "p", "", "provider for a new thread (claude, codex, gemini)")
	cmd.Flags().StringVarP(&model, "model", "m", "", "model override for a new thread")
	cmd.Flags().StringVarP(&workDir, "dir", "d", "", "working directory for a new thread (default: cwd)")
	return cmd
}

func newApproveCommand() *cobra.Command {
	var newAgentSession bool

	cmd := &cobra.Command{
		Use:   "approve <thread-id>",
		Short: "Approve a pending plan and stream the execution turn",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _, mgr, notifier, err := setup()
			if err != nil {
				return err
			}
			defer mgr.Shutdown()
			defer logger.Close()

			sess, err := mgr.Get(args[0])
			if err != nil {
				return err
			}
			if newAgentSession {
				err = sess.ExecutePlanInNewAgentSession()
			} else {
				err = sess.ApprovePlan()
			}
			if err != nil {
				return err
			}
			return notifier.waitTurn(sess)
		},
	}

	cmd.Flags().BoolVar(&newAgentSession, "new-session", false, "execute the plan in a fresh agent session")
	return cmd
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored threads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := config.NewFileStore()
			if err != nil {
				return err
			}
			threads, err := store.ListThreads()
			if err != nil {
				return err
			}
			if len(threads) == 0 {
				fmt.Println("no threads")
				return nil
			}
			for _, th := range threads {
				title := th.Title
				if title == "" {
					title = "(untitled)"
				}
				fmt.Printf("%s  %-8s %-7s %s\n", th.ID, th.Provider, th.Status, title)
			}
			return nil
		},
	}
}

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <thread-id>",
		Short: "Delete a thread and its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := config.NewFileStore()
			if err != nil {
				return err
			}
			return store.DeleteThread(args[0])
		},
	}
}

func newDoctorCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check transport and provider CLI availability",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			run, err := cfg.BuildRunner()
			if err != nil {
				return err
			}
			fmt.Printf("Transport: %s\n", run.Description())

			switch cfg.GetTransport().Mode {
			case config.TransportWSL:
				if !runner.WSLInstalled() {
					fmt.Println("  ✗ wsl.exe not found")
				} else if distros := runner.WSLDistros(); len(distros) > 0 {
					fmt.Printf("  ✓ distros: %v\n", distros)
				}
			case config.TransportSSH:
				if !runner.SSHInstalled() {
					fmt.Println("  ✗ ssh not found in PATH")
				} else if s, ok := run.(*runner.SSH); ok {
					if s.Reachable() {
						fmt.Println("  ✓ host reachable")
					} else {
						fmt.Println("  ✗ host not reachable")
					}
				}
			}

			results := cli.CheckAllOnRunner(run, cli.ProviderPrerequisites())
			fmt.Print(cli.FormatCheckResults(results))
			return cli.ValidateRequired(results)
		},
	}
}

func createThread(cfg *config.Config, store *config.FileStore, provider, model, workDir string) (string, error) {
	p := driver.Provider(provider)
	if provider == "" {
		p = cfg.DefaultProvider
	}
	known := false
	for _, candidate := range driver.Providers {
		if candidate == p {
			known = true
			break
		}
	}
	if !known {
		return "", fmt.Errorf("unknown provider %q", p)
	}

	if model == "" {
		model = cfg.DefaultModel
	}
	if workDir == "" {
		var err error
		workDir, err = os.Getwd()
		if err != nil {
			return "", err
		}
	}

	th := &session.Thread{
		ID:        uuid.New().String(),
		Provider:  p,
		Model:     model,
		WorkDir:   workDir,
		Status:    session.StatusIdle,
		CreatedAt: time.Now(),
	}
	if err := store.CreateThread(th); err != nil {
		return "", err
	}
	return th.ID, nil
}
