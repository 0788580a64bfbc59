package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/sealaunch/internal/cache"
	"github.com/psantana5/sealaunch/internal/platform"
	"github.com/psantana5/sealaunch/internal/sweep"
)

var (
	sweepAll    bool
	sweepDryRun bool
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage extracted generations",
	Long:  `Commands for listing, verifying, sweeping and pre-populating generation directories under the cache root.`,
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List generation directories",
	RunE:  runCacheList,
}

var cacheVerifyCmd = &cobra.Command{
	Use:   "verify [generation]",
	Short: "Check digest markers of a generation (default: the latest)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCacheVerify,
}

var cacheSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove stale generations that no running process uses",
	Long: `Removes every generation except the latest one, skipping directories whose
runtime is still executing. With --all the latest generation is swept too.`,
	RunE: runCacheSweep,
}

var cacheExtractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Select or create a valid generation without launching",
	RunE:  runCacheExtract,
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cacheVerifyCmd)
	cacheCmd.AddCommand(cacheSweepCmd)
	cacheCmd.AddCommand(cacheExtractCmd)

	cacheSweepCmd.Flags().BoolVar(&sweepAll, "all", false, "also sweep the latest generation")
	cacheSweepCmd.Flags().BoolVar(&sweepDryRun, "dry-run", false, "only report which directories are in use")
}

type generationRow struct {
	cache.Generation
	InUse bool `json:"in_use"`
}

func runCacheList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := loadStore()
	if err != nil {
		return err
	}
	host := platform.Current(newLogger(cfg))

	gens, err := cache.List(cfg.Root, store)
	if err != nil {
		return err
	}

	rows := make([]generationRow, 0, len(gens))
	for _, g := range gens {
		inUse, err := host.DirInUse(g.Path)
		if err != nil {
			inUse = false
		}
		rows = append(rows, generationRow{Generation: g, InUse: inUse})
	}

	if IsJSONOutput() {
		output, err := json.MarshalIndent(rows, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
		return nil
	}

	if len(rows) == 0 {
		fmt.Printf("No generations under %s\n", cfg.Root)
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Generation", "Created", "Valid", "Latest", "In use")
	for _, r := range rows {
		table.Append(
			r.Name,
			r.Created.Format(time.RFC3339),
			yesNo(r.Valid),
			yesNo(r.Latest),
			yesNo(r.InUse),
		)
	}
	table.Render()
	fmt.Printf("\nRoot: %s\n", cfg.Root)
	return nil
}

func runCacheVerify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := loadStore()
	if err != nil {
		return err
	}

	var dir string
	if len(args) == 1 {
		dir = args[0]
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(cfg.Root, dir)
		}
	} else {
		gens, err := cache.List(cfg.Root, store)
		if err != nil {
			return err
		}
		if len(gens) == 0 {
			return fmt.Errorf("no generations under %s", cfg.Root)
		}
		dir = gens[len(gens)-1].Path
	}

	statuses := cache.Verify(store, dir)

	if IsJSONOutput() {
		output, err := json.MarshalIndent(statuses, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
	} else {
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Artifact", "Marker")
		for _, s := range statuses {
			table.Append(s.Artifact, string(s.State))
		}
		table.Render()
	}

	if !cache.Valid(statuses) {
		return fmt.Errorf("generation %s is not valid", dir)
	}
	return nil
}

func runCacheSweep(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := loadStore()
	if err != nil {
		return err
	}
	log := newLogger(cfg)
	host := platform.Current(log)

	gens, err := cache.List(cfg.Root, store)
	if err != nil {
		return err
	}

	var stale []string
	current := ""
	for i, g := range gens {
		if i == len(gens)-1 && !sweepAll {
			current = g.Path
			continue
		}
		stale = append(stale, g.Path)
	}

	var report sweep.Report
	if sweepDryRun {
		for _, dir := range stale {
			inUse, err := host.DirInUse(dir)
			switch {
			case err != nil:
				report.Failed = append(report.Failed, dir)
			case inUse:
				report.InUse = append(report.InUse, dir)
			default:
				report.Skipped = append(report.Skipped, dir)
			}
		}
	} else {
		s := sweep.New(sweep.Options{Host: host, Log: log, RemovalsPerSecond: cfg.SweepRate})
		report = s.Run(cmd.Context(), stale, current)
	}

	if IsJSONOutput() {
		output, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Generation", "Result")
	appendRows := func(dirs []string, result string) {
		for _, d := range dirs {
			table.Append(filepath.Base(d), result)
		}
	}
	appendRows(report.Removed, "removed")
	appendRows(report.InUse, "in use")
	appendRows(report.Failed, "failed")
	if sweepDryRun {
		appendRows(report.Skipped, "removable")
	} else {
		appendRows(report.Skipped, "skipped")
	}
	table.Render()
	return nil
}

func runCacheExtract(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := loadStore()
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	s := sweep.New(sweep.Options{Host: platform.Current(log), Log: log, RemovalsPerSecond: cfg.SweepRate})
	c, err := cache.New(cache.Options{Root: cfg.Root, Store: store, Log: log, Sweeper: syncSweeper{s: s, ctx: cmd.Context()}})
	if err != nil {
		return err
	}

	sel, err := c.SelectOrCreate()
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		output, err := json.MarshalIndent(sel, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
		return nil
	}

	state := "extracted"
	if sel.Reused {
		state = "reused"
	}
	fmt.Printf("%s (%s)\n", sel.Dir, state)
	return nil
}

// syncSweeper sweeps before returning, so a short-lived command does not
// exit in the middle of a removal
type syncSweeper struct {
	s   *sweep.Sweeper
	ctx context.Context
}

func (w syncSweeper) Start(stale []string, current string) {
	w.s.Run(w.ctx, stale, current)
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
