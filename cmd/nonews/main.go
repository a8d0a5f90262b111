package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/nonews-project/nonews/internal/agreement"
	"github.com/nonews-project/nonews/internal/classify"
	"github.com/nonews-project/nonews/internal/config"
	"github.com/nonews-project/nonews/internal/database"
	"github.com/nonews-project/nonews/internal/ingest"
	"github.com/nonews-project/nonews/internal/llm"
	"github.com/nonews-project/nonews/internal/pipeline"
	"github.com/nonews-project/nonews/internal/server"
	"github.com/nonews-project/nonews/internal/taxonomy"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "nonews",
	Short:   "News segment classification and validation",
	Long:    "nonews induces event, issue, and topic taxonomies over an evening-news corpus, classifies every segment against them, and validates the labels against human raters.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			log.SetFlags(log.LstdFlags | log.Lshortfile)
		} else {
			log.SetFlags(log.LstdFlags)
		}

		// API keys live in .env during development.
		if err := godotenv.Load(); err == nil {
			log.Println("Loaded environment from .env")
		}

		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(taxonomyCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(serveCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("nonews", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/nonews/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to configure the model provider and taxonomy parameters.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show corpus and classification status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Println("Corpus:")
		fmt.Printf("  Segments: %d\n", stats.Segments)
		fmt.Printf("  Hard news: %d\n", stats.HardNews)
		fmt.Println("\nTaxonomies:")
		fmt.Printf("  Events: %d\n", stats.Events)
		fmt.Printf("  Issues: %d\n", stats.Issues)
		fmt.Printf("  Topics: %d\n", stats.Topics)
		fmt.Println("\nLabels:")
		fmt.Printf("  Topic: %d\n", stats.TopicLabeled)
		fmt.Printf("  Issue: %d\n", stats.IssueLabeled)
		fmt.Printf("  Event: %d\n", stats.EventAttached)
		fmt.Println("\nValidation:")
		fmt.Printf("  Human responses: %d\n", stats.Responses)
		fmt.Printf("  Pending failures: %d\n", stats.Failures)
		return nil
	},
}

// --- ingest command ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load CSV exports into the corpus store",
}

var ingestSegmentsCmd = &cobra.Command{
	Use:   "segments [file]",
	Short: "Ingest the archival segment export",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		result, err := ingest.Segments(db, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Ingested %d segments (%d duplicates, %d bad rows)\n",
			result.Inserted, result.Duplicates, result.BadRows)
		return nil
	},
}

var ingestResponsesCmd = &cobra.Command{
	Use:   "responses [file]",
	Short: "Ingest human validation responses",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		result, err := ingest.Responses(db, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Ingested %d responses (%d bad rows)\n", result.Inserted, result.BadRows)
		return nil
	},
}

func init() {
	ingestCmd.AddCommand(ingestSegmentsCmd)
	ingestCmd.AddCommand(ingestResponsesCmd)
}

// --- taxonomy command ---

var (
	taxonomyFrom string
	taxonomyTo   string
	taxonomyYear int
)

var taxonomyCmd = &cobra.Command{
	Use:   "taxonomy",
	Short: "Induce taxonomies from the corpus",
}

var taxonomyEventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Induce daily events from segment listings",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		provider, embedder := buildModel()
		builder := taxonomy.NewEventBuilder(db, provider, embedder, cfg)
		result, err := builder.BuildRange(context.Background(), taxonomyFrom, taxonomyTo)
		if err != nil {
			return err
		}
		fmt.Printf("Processed %d dates (%d skipped): %d events created, %d attached, %d segments linked\n",
			result.DatesProcessed, result.DatesSkipped, result.EventsCreated,
			result.EventsAttached, result.SegmentsLinked)
		return nil
	},
}

var taxonomyIssuesCmd = &cobra.Command{
	Use:   "issues",
	Short: "Induce yearly issues from top stories",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		provider, embedder := buildModel()
		builder := taxonomy.NewIssueBuilder(db, provider, embedder, cfg)

		years := []int{taxonomyYear}
		if taxonomyYear == 0 {
			years, err = db.YearsInCorpus()
			if err != nil {
				return err
			}
		}
		for _, year := range years {
			result, err := builder.BuildYear(context.Background(), year)
			if err != nil {
				return fmt.Errorf("year %d: %w", year, err)
			}
			if result.Skipped {
				fmt.Printf("%d: already built, skipped\n", year)
				continue
			}
			fmt.Printf("%d: %d issues created (%d merged, %d revisions applied)\n",
				year, result.Created, result.Merged, result.RevisionsApplied)
		}
		return nil
	},
}

var taxonomyTopicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "Induce the global topic list",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		provider, embedder := buildModel()
		builder := taxonomy.NewTopicBuilder(db, provider, embedder, cfg)
		result, err := builder.Build(context.Background())
		if err != nil {
			return err
		}
		if result.Skipped {
			fmt.Printf("Topic list already built (%d topics)\n", result.Topics)
			return nil
		}
		fmt.Printf("Induced %d topics in %d iterations (%d merged away)\n",
			result.Topics, result.Iterations, result.MergedAway)
		return nil
	},
}

func init() {
	taxonomyCmd.PersistentFlags().StringVar(&taxonomyFrom, "from", "", "Start date (YYYY-MM-DD)")
	taxonomyCmd.PersistentFlags().StringVar(&taxonomyTo, "to", "", "End date (YYYY-MM-DD)")
	taxonomyIssuesCmd.Flags().IntVar(&taxonomyYear, "year", 0, "Build a single year")

	taxonomyCmd.AddCommand(taxonomyEventsCmd)
	taxonomyCmd.AddCommand(taxonomyIssuesCmd)
	taxonomyCmd.AddCommand(taxonomyTopicsCmd)
}

// --- classify command ---

var (
	classifyFrom       string
	classifyTo         string
	classifyLimit      int
	classifyRandom     bool
	classifyReclassify bool
)

var classifyCmd = &cobra.Command{
	Use:       "classify [topics|issues|other]",
	Short:     "Classify segments against an induced taxonomy",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"topics", "issues", "other"},
	RunE: func(cmd *cobra.Command, args []string) error {
		var kind database.Kind
		switch args[0] {
		case "topics":
			kind = database.KindTopic
		case "issues":
			kind = database.KindIssue
		case "other":
			kind = database.KindOther
		default:
			return fmt.Errorf("unknown taxonomy %q", args[0])
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		provider, _ := buildModel()
		decider := classify.NewLLMDecider(provider, cfg.Model.MaxTokens)
		c := classify.New(db, decider, cfg)

		result, err := c.Run(context.Background(), kind, classify.RunOptions{
			DateFrom:   classifyFrom,
			DateTo:     classifyTo,
			Limit:      classifyLimit,
			Randomize:  classifyRandom,
			Reclassify: classifyReclassify,
		})
		if err != nil {
			return err
		}

		fmt.Printf("Classified: %d\nNone: %d\nSkipped: %d\nFailed: %d\n",
			result.Classified, result.None, result.Skipped, result.Failed)
		for _, msg := range result.Errors {
			fmt.Printf("  %s\n", msg)
		}
		return nil
	},
}

func init() {
	classifyCmd.Flags().StringVar(&classifyFrom, "from", "", "Start date (YYYY-MM-DD)")
	classifyCmd.Flags().StringVar(&classifyTo, "to", "", "End date (YYYY-MM-DD)")
	classifyCmd.Flags().IntVar(&classifyLimit, "limit", 0, "Classify at most this many segments")
	classifyCmd.Flags().BoolVar(&classifyRandom, "random", false, "Pick segments in random order")
	classifyCmd.Flags().BoolVar(&classifyReclassify, "reclassify", false, "Relabel segments that already have a label")
}

// --- run command ---

var (
	dryRun  bool
	runFrom string
	runTo   string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline: events -> issues -> topics -> classify",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		pipe := pipeline.New(cfg, db)

		var result *pipeline.Result
		if dryRun {
			result = pipe.DryRun(runFrom, runTo)
		} else {
			result = pipe.Run(context.Background(), runFrom, runTo)
		}

		for i, step := range result.Steps {
			fmt.Printf("\nStep %d/6: %s\n", i+1, step.Name)
			if step.Err != nil {
				fmt.Printf("  Error: %v\n", step.Err)
			} else {
				fmt.Printf("  %s\n", step.Summary)
			}
		}

		if !dryRun {
			fmt.Println("\nPipeline complete! Run 'nonews validate' to score the labels.")
		}
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be done without executing")
	runCmd.Flags().StringVar(&runFrom, "from", "", "Start date (YYYY-MM-DD)")
	runCmd.Flags().StringVar(&runTo, "to", "", "End date (YYYY-MM-DD)")
}

// --- validate command ---

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Score model labels against human responses",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		reports, err := agreement.New(db).ReportAll()
		if err != nil {
			return err
		}
		fmt.Print(agreement.Markdown(reports))
		return nil
	},
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local corpus viewer",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(db, port)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to run server on")
}

func buildModel() (llm.Provider, llm.Embedder) {
	m := cfg.Model
	provider := llm.CreateProvider(m.Provider, m.Model, m.OllamaURL, m.OpenAIModel, m.APIKeyEnv)

	embModel := m.EmbeddingModel
	if embModel == "" {
		embModel = "nomic-embed-text"
	}
	baseURL := m.OllamaURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return provider, llm.NewOllamaEmbedder(embModel, baseURL)
}

func openDB() (*database.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "no-news.db")
	return database.Open(dbPath)
}
