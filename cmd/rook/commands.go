package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/corvid-labs/rook/internal/config"
	"github.com/corvid-labs/rook/internal/service"
)

const defaultConfigPath = "rook.yaml"

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the agent with the interactive console",
		Example: `  # Start with default config
  rook serve

  # Start with custom config and debug logging
  rook serve --config /etc/rook/rook.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
					Level: slog.LevelDebug,
				})))
			}
			return runServe(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runtime, err := service.NewRuntime(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer runtime.Shutdown()

	go func() {
		if err := runtime.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("runtime stopped", "error", err)
		}
	}()

	console := service.NewConsole(runtime, os.Stdin, os.Stdout)
	if err := console.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func buildSessionsCmd() *cobra.Command {
	var configPath string
	var limit int
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recent sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), configPath, func(ctx context.Context, r *service.Runtime) error {
				sessions, err := r.Store().ListSessions(ctx, limit)
				if err != nil {
					return err
				}
				for _, s := range sessions {
					title := s.Title
					if title == "" {
						title = "(untitled)"
					}
					marker := " "
					if s.Archived {
						marker = "a"
					}
					turns, err := r.Store().CountTurns(ctx, s.ID)
					if err != nil {
						return err
					}
					fmt.Printf("%6d %s %s  %s  (%d turns)\n", s.ID, marker, s.UpdatedAt.Format("2006-01-02 15:04"), title, turns)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum sessions to list")
	return cmd
}

func buildMemoryCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect long-term memory",
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored memories",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), configPath, func(ctx context.Context, r *service.Runtime) error {
				memories, err := r.Memories().List(ctx, 200)
				if err != nil {
					return err
				}
				for _, m := range memories {
					fmt.Printf("%6d  %s\n", m.ID, m.Text)
				}
				return nil
			})
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a memory by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid id %q", args[0])
			}
			return withRuntime(cmd.Context(), configPath, func(ctx context.Context, r *service.Runtime) error {
				found, err := r.Memories().Delete(ctx, id)
				if err != nil {
					return err
				}
				if !found {
					return fmt.Errorf("memory %d not found", id)
				}
				fmt.Printf("deleted %d\n", id)
				return nil
			})
		},
	}

	cmd.AddCommand(listCmd, deleteCmd)
	return cmd
}

// withRuntime runs one offline operation against a fully wired runtime.
func withRuntime(ctx context.Context, configPath string, fn func(context.Context, *service.Runtime) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	runtime, err := service.NewRuntime(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer runtime.Shutdown()
	return fn(ctx, runtime)
}
