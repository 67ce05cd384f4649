package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/drivercheck/drivercheck-bot/config"
	"github.com/drivercheck/drivercheck-bot/internal/classify"
	"github.com/drivercheck/drivercheck-bot/internal/llm"
	"github.com/drivercheck/drivercheck-bot/internal/storage"
	"github.com/drivercheck/drivercheck-bot/internal/taxonomy"
)

func classifyCmd() *cobra.Command {
	var noCache bool

	cmd := &cobra.Command{
		Use:   "classify COMMENT",
		Short: "Classify one incident comment",
		Long: `Classify one incident comment against the taxonomy and print the category
and tags. Results are cached in the database when DRIVERCHECK_DATA_KEY is set.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load("GEMINI_API_KEY")
			if err != nil {
				return err
			}
			index, err := loadTaxonomy()
			if err != nil {
				return err
			}

			var store *storage.SQLiteStore
			if !noCache && cfg.DataKey != "" {
				store, err = openStore(cfg)
				if err != nil {
					return err
				}
				defer store.Close()
			}

			pipeline, err := newPipeline(cmd.Context(), cfg, index, store)
			if err != nil {
				return err
			}

			result, err := pipeline.Classify(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				if classify.IsQuotaExceeded(err) {
					return errors.New("classification quota exhausted, try again later")
				}
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatResult(result))
			return nil
		},
	}

	cmd.Flags().BoolVar(&noCache, "no-cache", false, "always ask the model")
	return cmd
}

// newPipeline builds the Gemini pipeline. The classification cache is used only when a
// store is given.
func newPipeline(ctx context.Context, cfg *config.Config, index *taxonomy.Index, store *storage.SQLiteStore) (*classify.Pipeline, error) {
	gemini, err := llm.NewGeminiClassifier(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize gemini classifier: %w", err)
	}

	var cache llm.CacheStore
	if store != nil {
		cache = store
	}
	return classify.NewPipeline(index, llm.NewCachedClient(gemini, cache, gemini.Model())), nil
}

func openStore(cfg *config.Config) (*storage.SQLiteStore, error) {
	key, err := storage.DeriveKey(cfg.DataKey)
	if err != nil {
		return nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}
	store, err := storage.NewSQLiteStore(cfg.DBPath, key)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", cfg.DBPath, err)
	}
	return store, nil
}

func formatResult(r classify.Result) string {
	tags := mutedStyle.Render("(no tags)")
	if len(r.Tags) > 0 {
		tags = strings.Join(r.Tags, ", ")
	}
	return fmt.Sprintf("%s %s\n%s %s", titleStyle.Render("Category:"), r.CategoryID, titleStyle.Render("Tags:"), tags)
}
