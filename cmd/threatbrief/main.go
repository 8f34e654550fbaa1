package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/csirt-tools/threatbrief/internal/collect"
	"github.com/csirt-tools/threatbrief/internal/config"
	"github.com/csirt-tools/threatbrief/internal/database"
	"github.com/csirt-tools/threatbrief/internal/pipeline"
	"github.com/csirt-tools/threatbrief/internal/server"
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
	Use:     "threatbrief",
	Short:   "Daily threat intelligence briefings",
	Long:    "threatbrief collects security news, scores relevance, extracts indicators of compromise, and synthesizes a daily threat intelligence briefing.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			log.SetFlags(log.LstdFlags | log.Lshortfile)
		} else {
			log.SetFlags(log.LstdFlags)
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
	rootCmd.AddCommand(collectCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(watchlistCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("threatbrief", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/threatbrief/",
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
		fmt.Println("Edit it to configure feeds, scoring keywords, and LLM provider.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database and system status",
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

		fmt.Printf("Today: %s\n\n", database.GetToday())
		fmt.Println("Articles:")
		fmt.Printf("  Total collected: %d\n", stats.TotalArticles)
		fmt.Printf("  Scored: %d\n", stats.ScoredArticles)
		fmt.Printf("  Relevant: %d\n", stats.RelevantArticles)
		fmt.Println("\nOutput:")
		fmt.Printf("  Briefings: %d\n", stats.Briefings)
		fmt.Printf("  Indicators: %d\n", stats.TotalIOCs)
		fmt.Printf("  Days with data: %d\n", stats.DaysWithArticles)
		fmt.Println("\nWatchlist:")
		fmt.Printf("  Total: %d\n", stats.TotalWatchlist)
		fmt.Printf("  Active: %d\n", stats.ActiveWatchlist)
		return nil
	},
}

// --- collect command ---

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Collect articles from configured sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		fmt.Println("Collecting articles from sources...")

		collector := collect.NewCollector(cfg, db, 1)
		result := collector.Collect(database.GetToday())

		fmt.Println("\nCollection complete:")
		fmt.Printf("  Total found: %d\n", result.TotalFound)
		fmt.Printf("  New articles: %d\n", result.NewArticles)
		fmt.Printf("  Duplicates skipped: %d\n", result.Duplicates)

		if len(result.Sources) > 0 {
			fmt.Println("\nArticles by source:")
			// Sort sources by count descending
			type kv struct {
				key string
				val int
			}
			var sorted []kv
			for k, v := range result.Sources {
				sorted = append(sorted, kv{k, v})
			}
			sort.Slice(sorted, func(i, j int) bool { return sorted[i].val > sorted[j].val })
			for _, s := range sorted {
				fmt.Printf("  %s: %d\n", s.key, s.val)
			}
		}
		return nil
	},
}

// --- run command ---

var (
	dryRun   bool
	runDate  string
	daysBack int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline: collect -> fetch -> score -> extract -> synthesize -> publish",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		date := runDate
		if date == "" {
			date = database.GetToday()
		} else if _, err := time.Parse("2006-01-02", date); err != nil {
			return fmt.Errorf("invalid date %q, expected YYYY-MM-DD", runDate)
		}

		pipe := pipeline.New(cfg, db)
		result, err := pipe.Run(context.Background(), pipeline.Options{
			Date:     date,
			DaysBack: daysBack,
			DryRun:   dryRun,
		})

		for i, step := range result.Steps {
			fmt.Printf("\nStep %d/%d: %s\n", i+1, len(result.Steps), step.Name)
			if step.Err != nil {
				fmt.Printf("  Error: %v\n", step.Err)
			} else {
				fmt.Printf("  %s\n", step.Detail)
			}
		}
		if err != nil {
			return err
		}

		if dryRun {
			fmt.Println("\nDry run complete. No document was written.")
		} else {
			fmt.Printf("\nBriefing published: %s\n", result.OutputPath)
			fmt.Println("Run 'threatbrief serve' to view it.")
		}
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Run the pipeline without writing the briefing document")
	runCmd.Flags().StringVar(&runDate, "date", "", "Briefing date (YYYY-MM-DD), defaults to today")
	runCmd.Flags().IntVar(&daysBack, "days-back", 1, "Collection lookback window (days)")
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local web server",
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
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to run server on (default from config)")
}

// --- watchlist command ---

var watchlistCmd = &cobra.Command{
	Use:   "watchlist",
	Short: "Manage tracked threat actors, vendors, and products",
}

var watchlistListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all watchlist entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		entries, err := db.GetAllWatchlist()
		if err != nil {
			return err
		}

		if len(entries) == 0 {
			fmt.Println("Watchlist is empty. Add an entry with: threatbrief watchlist add")
			return nil
		}

		fmt.Println("Watchlist:")
		fmt.Println()
		for _, e := range entries {
			icon := " "
			if e.IsActive {
				icon = "*"
			}
			fmt.Printf("  [%d] %s %s\n", e.ID, icon, e.Title)
			if e.Description != nil && *e.Description != "" {
				desc := *e.Description
				if len(desc) > 60 {
					desc = desc[:60] + "..."
				}
				fmt.Printf("        %s\n", desc)
			}
		}
		return nil
	},
}

var watchlistAddCmd = &cobra.Command{
	Use:   "add [title] [description]",
	Short: "Add a watchlist entry",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		title := args[0]
		description := ""
		if len(args) > 1 {
			description = args[1]
		}

		id, err := db.InsertWatchlistEntry(title, description, nil)
		if err != nil {
			return err
		}
		fmt.Printf("Added watchlist entry [%d]: %s\n", id, title)
		return nil
	},
}

var watchlistRemoveCmd = &cobra.Command{
	Use:   "remove [id]",
	Short: "Remove a watchlist entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid entry ID: %s", args[0])
		}

		entry, err := db.GetWatchlistEntry(id)
		if err != nil {
			return err
		}
		if entry == nil {
			return fmt.Errorf("watchlist entry %d not found", id)
		}

		if err := db.DeleteWatchlistEntry(id); err != nil {
			return err
		}
		fmt.Printf("Removed watchlist entry [%d]: %s\n", id, entry.Title)
		return nil
	},
}

var watchlistToggleCmd = &cobra.Command{
	Use:   "toggle [id]",
	Short: "Toggle a watchlist entry's active state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid entry ID: %s", args[0])
		}

		entry, err := db.GetWatchlistEntry(id)
		if err != nil {
			return err
		}
		if entry == nil {
			return fmt.Errorf("watchlist entry %d not found", id)
		}

		if err := db.ToggleWatchlistEntry(id); err != nil {
			return err
		}
		newState := "disabled"
		if !entry.IsActive {
			newState = "enabled"
		}
		fmt.Printf("Watchlist entry [%d] %s: %s\n", id, entry.Title, newState)
		return nil
	},
}

func init() {
	watchlistCmd.AddCommand(watchlistListCmd)
	watchlistCmd.AddCommand(watchlistAddCmd)
	watchlistCmd.AddCommand(watchlistRemoveCmd)
	watchlistCmd.AddCommand(watchlistToggleCmd)
}

func openDB() (*database.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "threatbrief.db")
	return database.Open(dbPath)
}
