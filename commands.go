package magnet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sosodev/duration"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// App carries what every command needs: the loaded configuration and the
// logger. Init must run before any command.
type App struct {
	ConfigPath string
	DBPath     string
	LogLevel   string

	Config Config
	Log    *zap.Logger
}

// Init loads configuration and builds the logger. Flag values override the
// configuration.
func (a *App) Init() error {
	cfg, err := LoadConfig(a.ConfigPath)
	if err != nil {
		return err
	}
	if a.DBPath != "" {
		cfg.Storage.Path = a.DBPath
	}
	if a.LogLevel != "" {
		cfg.Logging.Level = a.LogLevel
	}

	log, err := NewLogger(cfg.Logging.Level, cfg.Logging.File)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	a.Config = cfg
	a.Log = log
	return nil
}

// Close flushes the logger.
func (a *App) Close() {
	if a.Log != nil {
		_ = a.Log.Sync()
	}
}

func (a *App) openStore() (*Store, error) {
	return OpenStore(a.Config.Storage.Path)
}

func (a *App) closeStore(store *Store) {
	if err := store.Close(); err != nil {
		a.Log.Warn("Failed to close database", zap.Error(err))
	}
}

// Enrich reads raw items from in, enriches them and writes them to out.
// With useOpenAI the OpenAI annotator and a cached OpenAI embedder are used;
// otherwise the lexicon annotator runs and no embeddings are produced.
func (a *App) Enrich(ctx context.Context, in, out string, useOpenAI bool) error {
	items, err := ReadItems(in)
	if err != nil {
		return err
	}

	var annotator Annotator = NewLexiconAnnotator()
	var embedder Embedder
	if useOpenAI {
		openaiAnnotator, err := NewOpenAIAnnotator(a.Config.Embedding, a.Config.Annotator.Model)
		if err != nil {
			return err
		}
		annotator = openaiAnnotator

		openaiEmbedder, err := NewOpenAIEmbedder(a.Config.Embedding)
		if err != nil {
			return err
		}
		store, err := a.openStore()
		if err != nil {
			return err
		}
		defer a.closeStore(store)
		embedder = NewCachedEmbedder(openaiEmbedder, store, openaiEmbedder.Model(), a.Log)
	}

	enricher := NewEnricher(a.Config, annotator, embedder, a.Log)
	items = enricher.Enrich(ctx, items)
	return writeJSON(out, items)
}

// clusteredFile is the shape written by the cluster command.
type clusteredFile struct {
	Clusters  []ClusterSummary `json:"clusters"`
	Items     []EnrichedItem   `json:"items"`
	Algorithm string           `json:"algorithm"`
}

// readClusters returns the cluster summaries stored next to the items in
// path, if any.
func readClusters(path string) ([]ClusterSummary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read items file: %w", err)
	}
	var f struct {
		Clusters []ClusterSummary `json:"clusters"`
	}
	if err := json.Unmarshal(data, &f); err != nil {
		// A bare item array has no summaries.
		return nil, nil
	}
	return f.Clusters, nil
}

// Analyze runs the full analysis on the items in path. With save the run is
// stored in the database and its id returned.
func (a *App) Analyze(ctx context.Context, in, out string, opts AnalyzeOptions, save bool) (string, error) {
	items, err := ReadItems(in)
	if err != nil {
		return "", err
	}

	started := time.Now()
	analysis := NewPipeline(a.Config, a.Log).Analyze(items, opts)
	completed := time.Now()

	if err := writeJSON(out, analysis); err != nil {
		return "", err
	}
	if !save {
		return "", nil
	}

	run, err := NewRun(a.Config, analysis, started, completed)
	if err != nil {
		return "", err
	}
	store, err := a.openStore()
	if err != nil {
		return "", err
	}
	defer a.closeStore(store)
	if err := store.SaveRun(ctx, run); err != nil {
		return "", err
	}
	a.Log.Info("Saved run", zap.String("id", run.ID))
	return run.ID, nil
}

// Report renders analysis to prefix.md and prefix.html. The analysis comes
// from the file in, or from the stored run runID when in is empty.
func (a *App) Report(ctx context.Context, in, runID, prefix string) error {
	var analysis Analysis
	switch {
	case in != "":
		data, err := os.ReadFile(in)
		if err != nil {
			return fmt.Errorf("failed to read analysis file: %w", err)
		}
		if err := json.Unmarshal(data, &analysis); err != nil {
			return fmt.Errorf("failed to parse analysis file: %w", err)
		}
	case runID != "":
		store, err := a.openStore()
		if err != nil {
			return err
		}
		defer a.closeStore(store)
		run, err := store.GetRun(ctx, runID)
		if err != nil {
			return err
		}
		if analysis, err = run.Analysis(); err != nil {
			return err
		}
	default:
		return errors.New("either --input or --run is required")
	}

	now := time.Now()
	markdown := RenderMarkdown(analysis, now)
	if err := os.WriteFile(prefix+".md", []byte(markdown), 0644); err != nil {
		return fmt.Errorf("failed to write markdown report: %w", err)
	}

	html, err := RenderHTML(markdown, now)
	if err != nil {
		return err
	}
	if err := os.WriteFile(prefix+".html", []byte(html), 0644); err != nil {
		return fmt.Errorf("failed to write HTML report: %w", err)
	}

	a.Log.Info("Report generated", zap.String("markdown", prefix+".md"), zap.String("html", prefix+".html"))
	return nil
}

// useDensity returns the --density flag if it was given, otherwise the
// configured default.
func (a *App) useDensity(cmd *cobra.Command) bool {
	if cmd.Flags().Changed("density") {
		v, _ := cmd.Flags().GetBool("density")
		return v
	}
	return a.Config.Clustering.UseDensity
}

// NewEnrichCmd returns the enrich command.
func NewEnrichCmd(app *App) *cobra.Command {
	var in, out string
	var useOpenAI bool
	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Normalize, annotate and embed raw items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Enrich(cmd.Context(), in, out, useOpenAI)
		},
	}
	cmd.Flags().StringVarP(&in, "input", "i", "", "raw items JSON file")
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file (default stdout)")
	cmd.Flags().BoolVar(&useOpenAI, "openai", false, "use OpenAI for sentiment, entities and embeddings")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

// NewClusterCmd returns the cluster command.
func NewClusterCmd(app *App) *cobra.Command {
	var in, out string
	var k int
	cmd := &cobra.Command{
		Use:   "cluster",
		Short: "Assign cluster ids and summarize clusters",
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := ReadItems(in)
			if err != nil {
				return err
			}
			clusters, algorithm := NewPipeline(app.Config, app.Log).Cluster(items, k, app.useDensity(cmd))
			return writeJSON(out, clusteredFile{Clusters: clusters, Items: items, Algorithm: algorithm})
		},
	}
	cmd.Flags().StringVarP(&in, "input", "i", "", "enriched items JSON file")
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file (default stdout)")
	cmd.Flags().IntVarP(&k, "k", "k", 0, "number of clusters (default: heuristic)")
	cmd.Flags().Bool("density", false, "use the density-based backend")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

// NewRankCmd returns the rank command.
func NewRankCmd(app *App) *cobra.Command {
	var in, out string
	var top int
	cmd := &cobra.Command{
		Use:   "rank",
		Short: "Rank clustered items by problem score",
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := ReadItems(in)
			if err != nil {
				return err
			}
			return writeJSON(out, NewPipeline(app.Config, app.Log).Rank(items, top))
		},
	}
	cmd.Flags().StringVarP(&in, "input", "i", "", "clustered items JSON file")
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file (default stdout)")
	cmd.Flags().IntVar(&top, "top", 50, "number of items to return (0 for all)")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

// NewTrendsCmd returns the trends command.
func NewTrendsCmd(app *App) *cobra.Command {
	var in, out string
	cmd := &cobra.Command{
		Use:   "trends",
		Short: "Detect rising and falling clusters",
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := ReadItems(in)
			if err != nil {
				return err
			}
			clusters, err := readClusters(in)
			if err != nil {
				return err
			}
			return writeJSON(out, NewPipeline(app.Config, app.Log).Trends(items, clusters))
		},
	}
	cmd.Flags().StringVarP(&in, "input", "i", "", "clustered items JSON file")
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file (default stdout)")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

// NewAnalyzeCmd returns the analyze command.
func NewAnalyzeCmd(app *App) *cobra.Command {
	var in, out, maxAge string
	var k, top int
	var save bool
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Cluster, rank and detect trends in one pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := AnalyzeOptions{K: k, UseDensity: app.useDensity(cmd), TopN: top}
			if maxAge != "" {
				d, err := duration.Parse(maxAge)
				if err != nil {
					return fmt.Errorf("invalid --max-age %q: %w", maxAge, err)
				}
				opts.MaxAge = d.ToTimeDuration()
			}
			id, err := app.Analyze(cmd.Context(), in, out, opts, save)
			if err != nil {
				return err
			}
			if id != "" {
				fmt.Fprintln(cmd.ErrOrStderr(), "run id:", id)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&in, "input", "i", "", "enriched items JSON file")
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file (default stdout)")
	cmd.Flags().IntVarP(&k, "k", "k", 0, "number of clusters (default: heuristic)")
	cmd.Flags().Bool("density", false, "use the density-based backend")
	cmd.Flags().IntVar(&top, "top", 50, "number of ranked items (0 for all)")
	cmd.Flags().StringVar(&maxAge, "max-age", "", "ignore items older than this ISO-8601 duration, e.g. P7D")
	cmd.Flags().BoolVar(&save, "save", false, "store the run in the database")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

// NewReportCmd returns the report command.
func NewReportCmd(app *App) *cobra.Command {
	var in, runID, prefix string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render an analysis as markdown and HTML",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Report(cmd.Context(), in, runID, prefix)
		},
	}
	cmd.Flags().StringVarP(&in, "input", "i", "", "analysis JSON file")
	cmd.Flags().StringVar(&runID, "run", "", "stored run id")
	cmd.Flags().StringVarP(&prefix, "output", "o", "report", "output path without extension")
	return cmd
}

// NewRunsCmd returns the runs command.
func NewRunsCmd(app *App) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List stored analysis runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := app.openStore()
			if err != nil {
				return err
			}
			defer app.closeStore(store)
			runs, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return writeJSON("", runs)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs (0 for all)")
	return cmd
}

// NewRunCmd returns the run command, which chains enrich, analyze and report
// inside one output directory.
func NewRunCmd(app *App) *cobra.Command {
	var in, dir string
	var useOpenAI, save bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full pipeline: enrich -> analyze -> report",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return err
			}
			enriched := filepath.Join(dir, "enriched.json")
			analysis := filepath.Join(dir, "analysis.json")

			app.Log.Info("Running full pipeline", zap.String("input", in), zap.String("dir", dir))
			if err := app.Enrich(cmd.Context(), in, enriched, useOpenAI); err != nil {
				return err
			}
			opts := NewPipeline(app.Config, app.Log).DefaultOptions()
			if _, err := app.Analyze(cmd.Context(), enriched, analysis, opts, save); err != nil {
				return err
			}
			if err := app.Report(cmd.Context(), analysis, "", filepath.Join(dir, "report")); err != nil {
				return err
			}
			app.Log.Info("Pipeline complete", zap.String("dir", dir))
			return nil
		},
	}
	cmd.Flags().StringVarP(&in, "input", "i", "", "raw items JSON file")
	cmd.Flags().StringVarP(&dir, "dir", "d", "out", "output directory")
	cmd.Flags().BoolVar(&useOpenAI, "openai", false, "use OpenAI for sentiment, entities and embeddings")
	cmd.Flags().BoolVar(&save, "save", false, "store the run in the database")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

// runOutputs are the files the run command writes into its directory.
var runOutputs = []string{"enriched.json", "analysis.json", "report.md", "report.html"}

// NewCleanCmd returns the clean command.
func NewCleanCmd(app *App) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove pipeline outputs from a directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range runOutputs {
				if err := os.Remove(filepath.Join(dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
					app.Log.Warn("Failed to remove output", zap.String("file", name), zap.Error(err))
				}
			}
			app.Log.Info("Cleaned outputs", zap.String("dir", dir))
			return nil
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", "out", "output directory")
	return cmd
}
