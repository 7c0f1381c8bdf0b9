package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"indicatorline/internal/app"
	"indicatorline/internal/db"
	"indicatorline/internal/directory"
)

var rootCmd = &cobra.Command{
	Use:   "il",
	Short: "Indicatorline CLI",
	Long: `Indicatorline collects entrepreneurs' indicator reports and routes them through verification.
Core concepts:
- Workspace: the .indicatorline directory holding the database and attachments, next to indicatorline.yml.
- Directory: users, roles, organisations, programmes and role assignments, imported from YAML.
- Indicators: success or compliance measures, each with up to two verifier roles and an acceptance value.
- Tasks: one indicator month an entrepreneur must report on; statuses go pending -> submitted -> completed.
- Submissions: a reported value; statuses go pending_verification_1 -> pending_verification_2 -> approved, or rejected.
- Review tasks: one per verification level, assigned to the verifier the role resolves to, due after the review window.
- Event log: every workflow fact, view with 'il log tail'; webhooks receive the same events with 'il notify run'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogger()
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "warning: .env:", err)
	}
	viper.SetEnvPrefix("INDICATORLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "", "acting user id")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	for _, name := range []string{"workspace", "json", "actor-id", "log-level", "log-format"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(directoryCmd())
	rootCmd.AddCommand(indicatorCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(submissionCmd())
	rootCmd.AddCommand(verifyCmd())
	rootCmd.AddCommand(reviewCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(notifyCmd())
}

func setupLogger() {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		level = slog.LevelWarn
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if viper.GetString("log-format") == "json" {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create indicatorline.yml and the workspace database",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			written, err := app.Init(workspace, force)
			if err != nil {
				return err
			}
			if written {
				fmt.Println("wrote config and initialised", db.Path(workspace))
			} else {
				fmt.Println("config kept; initialised", db.Path(workspace))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func directoryCmd() *cobra.Command {
	dir := &cobra.Command{
		Use:   "directory",
		Short: "Organisational directory",
		Long:  "Users, roles, organisations, programmes, indicators and tasks are loaded from a YAML document.",
	}
	dir.AddCommand(&cobra.Command{
		Use:   "import <file>",
		Short: "Import a directory document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := directory.Load(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				st, err := a.Importer().Import(ctx, doc)
				if err != nil {
					return err
				}
				return printJSONOrTable(st)
			})
		},
	})
	return dir
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(ctx, viper.GetString("workspace"), slog.Default())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func actorID() (string, error) {
	id := strings.TrimSpace(viper.GetString("actor-id"))
	if id == "" {
		return "", fmt.Errorf("--actor-id (or INDICATORLINE_ACTOR_ID) required")
	}
	return id, nil
}
