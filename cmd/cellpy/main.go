package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/cobra"

	cellpy "github.com/mbarzegary/cellpy-JOSS"
	"github.com/mbarzegary/cellpy-JOSS/pipeline"
	"github.com/mbarzegary/cellpy-JOSS/store"
)

var version = "0.3.0"

// envDefaults are the CELLPY_* environment overrides for values that
// are tedious to repeat on every invocation.
type envDefaults struct {
	Cellar   string `envconfig:"CELLAR"`
	Format   string `envconfig:"FORMAT" default:"csv"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

func main() {
	var env envDefaults
	if err := envconfig.Process("CELLPY", &env); err != nil {
		fmt.Fprintf(os.Stderr, "cellpy: environment: %v\n", err)
		os.Exit(2)
	}

	var logLevel string
	cmdRoot := &cobra.Command{
		Use:   "cellpy",
		Short: "battery cycling data utility",
		Long:  `Convert raw battery tester exports into step tables and cycle summaries`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(logLevel)
		},
	}
	cmdRoot.PersistentFlags().StringVar(&logLevel, "log-level", env.LogLevel, "log level: debug|info|warn|error")

	cmdRoot.AddCommand(cmdProcess(env))
	cmdRoot.AddCommand(cmdMerge(env))
	cmdRoot.AddCommand(cmdExport(env))
	cmdRoot.AddCommand(cmdCellar(env))
	cmdRoot.AddCommand(cmdVersion())

	if err := cmdRoot.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging(level string) error {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info", "":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return fmt.Errorf("unknown log level %q", level)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
	return nil
}

func cmdProcess(env envDefaults) *cobra.Command {
	var (
		outDir      string
		format      string
		name        string
		mass        float64
		nomCap      float64
		cycleMode   string
		cellarPath  string
		configFile  string
		summaryFile string
		overwrite   bool
	)
	addFlags := func(cmd *cobra.Command) {
		cmd.Flags().StringVarP(&outDir, "out", "o", outDir, "output directory")
		cmd.Flags().StringVarP(&format, "format", "f", env.Format, "table format: parquet|csv")
		cmd.Flags().StringVarP(&name, "name", "n", name, "cell name override")
		cmd.Flags().Float64VarP(&mass, "mass", "m", mass, "active electrode mass in grams")
		cmd.Flags().Float64Var(&nomCap, "nominal-capacity", nomCap, "nominal capacity in mAh/g")
		cmd.Flags().StringVar(&cycleMode, "cycle-mode", "", "cycle mode: anode|cathode")
		cmd.Flags().StringVar(&cellarPath, "cellar", env.Cellar, "also save the dataset to this cellar")
		cmd.Flags().StringVarP(&configFile, "config", "c", configFile, "classifier thresholds YAML file")
		cmd.Flags().StringVar(&summaryFile, "summary-config", summaryFile, "summary options YAML file")
		cmd.Flags().BoolVar(&overwrite, "overwrite", false, "allow writing into non-empty output directories")
	}
	cmd := &cobra.Command{
		Use:          "process <export-file> [<export-file>...]",
		Short:        "build the step table and summary for one or more tester exports",
		Long:         `Read raw tester exports (csv, txt or xlsx), merge them in the given order, classify the steps and derive the per-cycle summary`,
		SilenceUsage: true,
		Args:         cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := parseCycleMode(cycleMode)
			if err != nil {
				return err
			}

			cfg := cellpy.DefaultConfig()
			if configFile != "" {
				data, err := os.ReadFile(configFile)
				if err != nil {
					return err
				}
				if cfg, err = cellpy.ParseConfig(data); err != nil {
					return err
				}
			}
			sum := cellpy.DefaultSummaryOptions()
			if summaryFile != "" {
				data, err := os.ReadFile(summaryFile)
				if err != nil {
					return err
				}
				if sum, err = cellpy.ParseSummaryOptions(data); err != nil {
					return err
				}
			}

			result, err := pipeline.Run(pipeline.Options{
				InputPaths:      args,
				OutDir:          outDir,
				Format:          format,
				Name:            name,
				Mass:            mass,
				NominalCapacity: nomCap,
				CycleMode:       mode,
				CellarPath:      cellarPath,
				Config:          cfg,
				Summary:         sum,
				Overwrite:       overwrite,
			})
			if err != nil {
				return err
			}

			fmt.Printf("process complete\n")
			fmt.Printf("output dir:   %s\n", result.OutputDir)
			fmt.Printf("raw table:    %s\n", result.RawTablePath)
			fmt.Printf("step table:   %s\n", result.StepTablePath)
			fmt.Printf("summary:      %s\n", result.SummaryPath)
			fmt.Printf("manifest:     %s\n", result.ManifestPath)
			if result.CellarPath != "" {
				fmt.Printf("cellar:       %s\n", result.CellarPath)
			}
			return nil
		},
	}
	addFlags(cmd)
	return cmd
}

func cmdMerge(env envDefaults) *cobra.Command {
	var (
		dbPath string
		name   string
		outDir string
		format string
	)
	cmd := &cobra.Command{
		Use:          "merge <name> [<name>...]",
		Short:        "merge saved datasets into a new one",
		Long:         `Load two or more datasets from the cellar, re-base their cycle numbering and timebase, and save the continuous dataset back under a new name`,
		SilenceUsage: true,
		Args:         cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				return fmt.Errorf("no cellar: set --db or CELLPY_CELLAR")
			}
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			ctx := context.Background()
			cellar, err := store.Open(dbPath)
			if err != nil {
				return err
			}
			defer cellar.Close()

			sets := make([]*cellpy.Dataset, 0, len(args))
			for _, n := range args {
				d, err := cellar.Load(ctx, n)
				if err != nil {
					return err
				}
				sets = append(sets, d)
			}
			merged, err := cellpy.MergeAll(sets...)
			if err != nil {
				return err
			}
			merged.Name = name

			// Merge drops a derived table unless both inputs carry it,
			// so rebuild before saving.
			if !merged.StepTableBuilt {
				if err := merged.BuildStepTable(cellpy.DefaultConfig()); err != nil {
					return err
				}
			}
			if !merged.SummaryBuilt {
				if err := merged.BuildSummary(cellpy.DefaultConfig(), cellpy.DefaultSummaryOptions()); err != nil {
					return err
				}
			}

			if err := cellar.Save(ctx, merged); err != nil {
				return err
			}
			fmt.Printf("merged %d datasets into %q (%d rows, %d cycles)\n",
				len(sets), merged.Name, len(merged.Rows), merged.LastCycle())

			if outDir != "" {
				result, err := pipeline.Export(merged, outDir, format, false)
				if err != nil {
					return err
				}
				fmt.Printf("raw table:    %s\n", result.RawTablePath)
				fmt.Printf("step table:   %s\n", result.StepTablePath)
				fmt.Printf("summary:      %s\n", result.SummaryPath)
				fmt.Printf("manifest:     %s\n", result.ManifestPath)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", env.Cellar, "cellar database file")
	cmd.Flags().StringVarP(&name, "name", "n", "", "name for the merged dataset")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "also export artifacts to this directory")
	cmd.Flags().StringVarP(&format, "format", "f", env.Format, "table format: parquet|csv")
	return cmd
}

func cmdExport(env envDefaults) *cobra.Command {
	var (
		dbPath    string
		outDir    string
		format    string
		overwrite bool
	)
	cmd := &cobra.Command{
		Use:          "export <name>",
		Short:        "export a saved dataset's tables to disk",
		SilenceUsage: true,
		Args:         cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				return fmt.Errorf("no cellar: set --db or CELLPY_CELLAR")
			}
			cellar, err := store.Open(dbPath)
			if err != nil {
				return err
			}
			defer cellar.Close()
			d, err := cellar.Load(context.Background(), args[0])
			if err != nil {
				return err
			}
			result, err := pipeline.Export(d, outDir, format, overwrite)
			if err != nil {
				return err
			}
			fmt.Printf("raw table:    %s\n", result.RawTablePath)
			fmt.Printf("step table:   %s\n", result.StepTablePath)
			fmt.Printf("summary:      %s\n", result.SummaryPath)
			fmt.Printf("manifest:     %s\n", result.ManifestPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", env.Cellar, "cellar database file")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "output directory")
	cmd.Flags().StringVarP(&format, "format", "f", env.Format, "table format: parquet|csv")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "allow writing into non-empty output directories")
	return cmd
}

func cmdCellar(env envDefaults) *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "cellar",
		Short: "inspect and manage saved datasets",
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db", env.Cellar, "cellar database file")

	requireDB := func() error {
		if dbPath == "" {
			return fmt.Errorf("no cellar: set --db or CELLPY_CELLAR")
		}
		return nil
	}

	list := &cobra.Command{
		Use:          "list",
		Short:        "list the datasets in the cellar",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireDB(); err != nil {
				return err
			}
			cellar, err := store.Open(dbPath)
			if err != nil {
				return err
			}
			defer cellar.Close()
			names, err := cellar.List(context.Background())
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		},
	}

	show := &cobra.Command{
		Use:          "show <name>",
		Short:        "print a saved dataset's vital numbers",
		SilenceUsage: true,
		Args:         cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireDB(); err != nil {
				return err
			}
			cellar, err := store.Open(dbPath)
			if err != nil {
				return err
			}
			defer cellar.Close()
			d, err := cellar.Load(context.Background(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("name:        %s\n", d.Name)
			fmt.Printf("mass:        %.4f mg\n", d.Mass*1000)
			if d.CycleMode != "" {
				fmt.Printf("cycle mode:  %s\n", d.CycleMode)
			}
			if !d.StartTime.IsZero() {
				fmt.Printf("start time:  %s\n", d.StartTime.Format("2006-01-02 15:04:05"))
			}
			fmt.Printf("raw rows:    %d\n", len(d.Rows))
			fmt.Printf("cycles:      %d\n", d.LastCycle())
			fmt.Printf("merged:      %v\n", d.Merged)
			if d.StepTableBuilt {
				fmt.Printf("steps:       %d\n", len(d.Steps))
			}
			if d.SummaryBuilt {
				fmt.Printf("summary:     %d rows\n", len(d.Summary))
			}
			for _, src := range d.SourceFiles {
				fmt.Printf("source:      %s (%d bytes)\n", src.Name, src.Size)
			}
			return nil
		},
	}

	rm := &cobra.Command{
		Use:          "rm <name>",
		Short:        "delete a saved dataset",
		SilenceUsage: true,
		Args:         cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireDB(); err != nil {
				return err
			}
			cellar, err := store.Open(dbPath)
			if err != nil {
				return err
			}
			defer cellar.Close()
			return cellar.Delete(context.Background(), args[0])
		},
	}

	cmd.AddCommand(list, show, rm)
	return cmd
}

func cmdVersion() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "display the application's version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}

func parseCycleMode(s string) (cellpy.CycleMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return "", nil
	case "anode":
		return cellpy.ModeAnode, nil
	case "cathode":
		return cellpy.ModeCathode, nil
	default:
		return "", fmt.Errorf("unknown cycle mode %q", s)
	}
}
