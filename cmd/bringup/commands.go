package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/urbanclear/bringup"
	"github.com/urbanclear/bringup/internal/health"
	"github.com/urbanclear/bringup/internal/logger"
	"github.com/urbanclear/bringup/pkg/client"
)

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string
}

// errProbesFailed is returned by the probe command when any endpoint is not OK.
var errProbesFailed = errors.New("one or more endpoints failed")

func buildRoot() *cobra.Command {
	flags := &GlobalFlags{}

	root := &cobra.Command{
		Use:   "bringup",
		Short: "Bring up the Urbanclear API server for local development",
		Long: `bringup checks that the infrastructure containers are running, starts the
API server as a supervised child process, probes its endpoints, prints access
information and stops the server on Ctrl+C.

Examples:
  bringup                       # same as "bringup up"
  bringup up --config=bringup.toml
  bringup check                 # only verify the containers
  bringup probe                 # only probe an already running server
  bringup status                # ask a running bringup where it is`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUp(cmd.Context(), flags, cmd.ErrOrStderr())
		},
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	root.PersistentFlags().StringVar(&flags.LogFormat, "log-format", "", "log format: text or json (overrides config)")

	root.AddCommand(
		createUpCommand(flags),
		createCheckCommand(flags),
		createProbeCommand(flags),
		createStatusCommand(flags),
	)
	return root
}

func createUpCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Check dependencies, start the server and wait for Ctrl+C",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUp(cmd.Context(), flags, cmd.ErrOrStderr())
		},
	}
}

func createCheckCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify that every prerequisite container is running",
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := setup(flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = o.Close() }()

			rep, err := o.Check(cmd.Context())
			out := cmd.OutOrStdout()
			for _, s := range rep.Services {
				state := "not running"
				if rep.Running[s] {
					state = "running"
				}
				_, _ = fmt.Fprintf(out, "%-28s %s\n", s, state)
			}
			return err
		},
	}
}

func createProbeCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Probe the endpoints of an already running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := setup(flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = o.Close() }()

			results := o.Probe(cmd.Context())
			out := cmd.OutOrStdout()
			for _, r := range results {
				_, _ = fmt.Fprintln(out, r.String())
			}
			if len(results) == 0 || !health.AllOK(results) {
				return errProbesFailed
			}
			return nil
		},
	}
}

func createStatusCommand(flags *GlobalFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of a running bringup via its status server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				cfg, err := bringup.LoadConfig(flags.ConfigPath)
				if err != nil {
					return err
				}
				addr = cfg.Status.Listen
			}
			if addr == "" {
				return errors.New("status server is disabled: set status.listen or pass --addr")
			}
			c := client.New(client.Config{BaseURL: addr})
			st, err := c.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("query %s: %w", addr, err)
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "run:     %s\n", st.RunID)
			_, _ = fmt.Fprintf(out, "state:   %s\n", st.State)
			if st.PID > 0 {
				_, _ = fmt.Fprintf(out, "pid:     %d\n", st.PID)
			}
			_, _ = fmt.Fprintf(out, "command: %s\n", st.Command)
			if st.LastError != "" {
				_, _ = fmt.Fprintf(out, "error:   %s\n", st.LastError)
			}
			sum, err := c.Summary(cmd.Context())
			if errors.Is(err, client.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			for _, r := range sum.Probes {
				_, _ = fmt.Fprintln(out, r.String())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "status server address (defaults to status.listen)")
	return cmd
}

func runUp(ctx context.Context, flags *GlobalFlags, logOut io.Writer) error {
	o, err := setup(flags, logOut)
	if err != nil {
		return err
	}
	defer func() { _ = o.Close() }()
	return o.Run(ctx)
}

// setup loads config, applies flag overrides and builds the orchestrator.
func setup(flags *GlobalFlags, logOut io.Writer) (*bringup.Orchestrator, error) {
	cfg, err := bringup.LoadConfig(flags.ConfigPath)
	if err != nil {
		return nil, err
	}
	if flags.LogLevel != "" {
		cfg.Log.Level = flags.LogLevel
	}
	if flags.LogFormat != "" {
		cfg.Log.Format = flags.LogFormat
	}
	log, err := logger.NewTo(logOut, cfg.Log)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(log)
	return bringup.New(cfg, bringup.WithLogger(log))
}
