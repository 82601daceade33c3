/*
Copyright © 2025 Valentyn Solomko <valentyn.solomko@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/valpere/mtserve/internal/hub"
	"github.com/valpere/mtserve/internal/store"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Inspect the model registry and the local artifact cache",
}

var modelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List supported language pairs and their models",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := cfg.Registry()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SOURCE\tTARGET\tMODEL")
		for _, p := range reg.Pairs() {
			fmt.Fprintf(w, "%s\t%s\t%s\n", p.Source, p.Target, p.ModelID)
		}
		return w.Flush()
	},
}

var modelsPullCmd = &cobra.Command{
	Use:   "pull [model-id...]",
	Short: "Download tokenizer artifacts ahead of the first request",
	Long: `Download config and tokenizer files for the given models into the local
cache. Without arguments every model in the registry is pulled.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		modelIDs := args
		if len(modelIDs) == 0 {
			reg, err := cfg.Registry()
			if err != nil {
				return err
			}
			modelIDs = reg.ModelIDs()
		}

		logger, err := newLogger(cfg.Log)
		if err != nil {
			return err
		}
		defer logger.Sync()

		db, err := openStore(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer db.Close()

		client := hub.New(cfg.Hub, db, logger.Named("hub"))

		var failed int
		for _, id := range modelIDs {
			snap, err := client.FetchModel(cmd.Context(), id)
			if err != nil {
				failed++
				fmt.Fprintf(cmd.ErrOrStderr(), "Failed to pull %s: %v\n", id, err)
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pulled %s (%d files)\n", id, len(snap.Files))
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d models failed to pull", failed, len(modelIDs))
		}
		return nil
	},
}

var modelsCacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the downloaded artifact manifest",
	Long:  `List, inspect, and clear the SQLite manifest of downloaded model artifacts.`,
}

var cacheListCmd = &cobra.Command{
	Use:   "list [model-id]",
	Short: "List downloaded artifacts",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer db.Close()

		var modelID string
		if len(args) == 1 {
			modelID = args[0]
		}
		artifacts, err := db.ListArtifacts(context.Background(), modelID)
		if err != nil {
			return fmt.Errorf("failed to list artifacts: %w", err)
		}

		return printArtifacts(cmd.OutOrStdout(), artifacts)
	},
}

// printArtifacts writes one row per artifact. FETCHES counts downloads of
// the same file, re-pulls included.
func printArtifacts(out io.Writer, artifacts []store.Artifact) error {
	if len(artifacts) == 0 {
		fmt.Fprintln(out, "No artifacts in the cache.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tREVISION\tFILE\tSIZE\tFETCHES\tFETCHED AT\tLAST USED")
	for _, a := range artifacts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			a.ModelID, a.Revision, a.FileName, formatBytes(a.SizeBytes),
			a.FetchCount, a.FetchedAt.Format("2006-01-02 15:04"), a.LastUsed.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show artifact cache statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.Stats(context.Background())
		if err != nil {
			return fmt.Errorf("failed to get stats: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Models:      %d\n", stats.Models)
		fmt.Fprintf(out, "Files:       %d\n", stats.Files)
		fmt.Fprintf(out, "Total size:  %s\n", formatBytes(stats.TotalBytes))
		return nil
	},
}

var cacheDeleteCmd = &cobra.Command{
	Use:   "delete <model-id>",
	Short: "Delete the cached artifacts of one model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer db.Close()

		n, err := purge(context.Background(), db, args[0])
		if err != nil {
			return fmt.Errorf("failed to delete model: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d artifacts of %s\n", n, args[0])
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached artifact",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer db.Close()

		n, err := purge(context.Background(), db, "")
		if err != nil {
			return fmt.Errorf("failed to clear cache: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d artifacts from the cache.\n", n)
		return nil
	},
}

// purge removes artifact files from disk and then their manifest rows.
// An empty modelID purges everything.
func purge(ctx context.Context, db *store.Store, modelID string) (int64, error) {
	artifacts, err := db.ListArtifacts(ctx, modelID)
	if err != nil {
		return 0, err
	}
	for _, a := range artifacts {
		if err := os.Remove(a.LocalPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return 0, err
		}
	}
	if modelID == "" {
		return db.Clear(ctx)
	}
	return db.DeleteModel(ctx, modelID)
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func init() {
	rootCmd.AddCommand(modelsCmd)

	modelsCmd.AddCommand(modelsListCmd)
	modelsCmd.AddCommand(modelsPullCmd)
	modelsCmd.AddCommand(modelsCacheCmd)

	modelsPullCmd.Flags().Bool("offline", false, "Only report what is already cached")

	modelsCacheCmd.AddCommand(cacheListCmd)
	modelsCacheCmd.AddCommand(cacheStatsCmd)
	modelsCacheCmd.AddCommand(cacheDeleteCmd)
	modelsCacheCmd.AddCommand(cacheClearCmd)
}
