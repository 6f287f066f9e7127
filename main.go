package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/google/go-github/v66/github"
	"github.com/spf13/cobra"

	"github.com/u16-io/avatarsync/cleanup"
	"github.com/u16-io/avatarsync/config"
	"github.com/u16-io/avatarsync/runlog"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		log.Printf("avatarsync: %v", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "avatarsync",
		Short:         "Mirror a Discord user's avatar to external profiles",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to optional TOML config file")

	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run one avatar sync pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return runBot(conf)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "cleanup",
		Short: "Delete old workflow runs from the bot's Actions history",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return runCleanup(conf)
		},
	})

	return cmd
}

func runCleanup(conf *config.Config) error {
	if err := conf.ValidateCleanup(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), conf.RunTimeout)
	defer cancel()

	client := github.NewClient(nil).WithAuthToken(conf.GitHub.Token)
	runner := cleanup.NewRunner(client, conf.Cleanup.Owner, conf.Cleanup.Repo, conf.Cleanup.Workflow)
	logs := runlog.NewStore(conf.LogPath, conf.LogMaxEntries)

	start := time.Now()
	out, err := runner.Run(ctx)

	entry := runlog.Entry{
		Event:      runlog.EventCleanupRun,
		Success:    err == nil,
		DurationMS: time.Since(start).Milliseconds(),
		Detail: map[string]any{
			"workflow":          conf.Cleanup.Workflow,
			"deleted_success":   out.Deleted["success"],
			"deleted_failure":   out.Deleted["failure"],
			"deleted_cancelled": out.Deleted["cancelled"],
			"rate_limited":      out.RateLimited,
		},
	}
	if err != nil {
		entry.Error = err.Error()
	}
	if logErr := logs.Append(entry); logErr != nil {
		log.Printf("[Cleanup] Failed to append run log: %v", logErr)
	}
	return err
}
