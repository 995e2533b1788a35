package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pkagent/internal/bootstrap"
	"pkagent/internal/config"
	"pkagent/internal/model"
	pkgconfig "pkagent/pkg/config"
	"pkagent/pkg/logger"
)

var (
	app       *bootstrap.App
	configDir string
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "pkctl",
	Short: "Operator CLI for the pkagent accountability engine",
	Long:  `Create goals, record check-ins and run scheduler passes against the configured store.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()
		env := pkgconfig.GetConfigEnv()
		cfg, err := config.Load(env, configDir)
		if err != nil {
			return err
		}
		log := zap.NewNop()
		if verbose {
			log = logger.NewLogger(env)
		}
		app, err = bootstrap.Open(cmd.Context(), cfg, log)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if app != nil {
			app.Close()
		}
	},
	SilenceUsage: true,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the goals, subtasks and outbox tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		// Open 已经执行过迁移
		if app.Pool == nil {
			return fmt.Errorf("migrate requires the postgres store")
		}
		fmt.Println("schema is up to date")
		return nil
	},
}

var createGoalCmd = &cobra.Command{
	Use:   "create-goal <text>",
	Short: "Break a goal into subtasks and store them",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := app.Goals.CreateGoal(cmd.Context(), strings.Join(args, " "))
		if res != nil {
			for _, f := range res.Failed {
				fmt.Fprintf(os.Stderr, "not stored: %s (%s)\n", f.Description, f.Error)
			}
		}
		if err != nil {
			return err
		}
		if res.Fallback {
			fmt.Fprintln(os.Stderr, "breakdown unavailable, stored a single fallback subtask")
		}
		return printJSON(res.Goal)
	},
}

var showCmd = &cobra.Command{
	Use:   "show <goal-id>",
	Short: "Show a goal with its subtasks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		g, err := app.Goals.GetGoal(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(g)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List active subtasks across all goals",
	RunE: func(cmd *cobra.Command, args []string) error {
		subtasks, err := app.Goals.ListActive(cmd.Context())
		if err != nil {
			return err
		}
		now := time.Now()
		for _, s := range subtasks {
			fmt.Println(formatActive(s, now))
		}
		return nil
	},
}

var checkInStatus, checkInReason string

var checkInCmd = &cobra.Command{
	Use:   "check-in <subtask-id>",
	Short: "Record a check-in for a subtask",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := model.ParseReportedStatus(checkInStatus)
		if err != nil {
			return err
		}
		rec, err := app.Goals.SubmitCheckIn(cmd.Context(), args[0], status, checkInReason)
		if err != nil {
			return err
		}
		fmt.Println(rec.Response)
		for _, s := range rec.Suggestions {
			fmt.Println("  -", s)
		}
		fmt.Println(rec.Motivation)
		return nil
	},
}

var toggleCmd = &cobra.Command{
	Use:   "toggle <goal-id> <subtask-id>",
	Short: "Flip a subtask between completed and not completed",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		completed, err := app.Goals.ToggleCompletion(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("completed: %t\n", completed)
		return nil
	},
}

var deadlineCmd = &cobra.Command{
	Use:   "deadline <subtask-id> <expression>",
	Short: "Move a subtask deadline, e.g. \"in 3 days\"",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := app.Goals.UpdateDeadline(cmd.Context(), args[0], strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		fmt.Printf("deadline: %s (%s)\n", st.Deadline.Format(time.RFC3339), st.Status)
		return nil
	},
}

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run one scheduler evaluation pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		stats := app.Loop.Tick(cmd.Context())
		fmt.Printf("evaluated=%d due=%d overdue=%d intervened=%d failed=%d throttled=%d\n",
			stats.Evaluated, stats.Due, stats.Overdue, stats.Intervened, stats.Failed, stats.Throttled)
		return nil
	},
}

var (
	replayID    int64
	replayLimit int
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Re-publish outbox events (one by --id, otherwise all failed)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := app.ConnectMQ(); err != nil {
			return err
		}
		if replayID > 0 {
			if err := app.Replay.ReplayEvent(cmd.Context(), replayID); err != nil {
				return err
			}
			fmt.Printf("replayed event %d\n", replayID)
			return nil
		}
		n, err := app.Replay.ReplayFailedEvents(cmd.Context(), replayLimit)
		if err != nil {
			return err
		}
		fmt.Printf("replayed %d failed events\n", n)
		return nil
	},
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", pkgconfig.GetEnv("CONFIG_DIR", "config"), "directory holding base.yaml and <env>.yaml")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log to stderr")

	checkInCmd.Flags().StringVarP(&checkInStatus, "status", "s", "in_progress", "in_progress, completed, skipped or overdue_acknowledged")
	checkInCmd.Flags().StringVarP(&checkInReason, "reason", "r", "", "why, when skipping")
	replayCmd.Flags().Int64Var(&replayID, "id", 0, "outbox event id")
	replayCmd.Flags().IntVar(&replayLimit, "limit", 100, "max failed events to replay")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(createGoalCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(checkInCmd)
	rootCmd.AddCommand(toggleCmd)
	rootCmd.AddCommand(deadlineCmd)
	rootCmd.AddCommand(tickCmd)
	rootCmd.AddCommand(replayCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
