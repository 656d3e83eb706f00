// Command strata enforces the telemetry schema contract: it shows and
// evolves layer schemas, validates raw files, and runs the full
// raw_minute → buckets_5m → features_5m → scores_zscore flow.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ajitpratap0/strata/internal/pipeline"
	"github.com/ajitpratap0/strata/pkg/compression"
	"github.com/ajitpratap0/strata/pkg/config"
	"github.com/ajitpratap0/strata/pkg/connector/core"
	"github.com/ajitpratap0/strata/pkg/connector/registry"
	jsonpool "github.com/ajitpratap0/strata/pkg/json"
	"github.com/ajitpratap0/strata/pkg/models"
	"github.com/ajitpratap0/strata/pkg/observability"
	"github.com/ajitpratap0/strata/pkg/schema"

	// Register the built-in connectors.
	csvdest "github.com/ajitpratap0/strata/pkg/connector/destinations/csv"
	jsonldest "github.com/ajitpratap0/strata/pkg/connector/destinations/jsonl"
	parquetdest "github.com/ajitpratap0/strata/pkg/connector/destinations/parquet"
	_ "github.com/ajitpratap0/strata/pkg/connector/sources/csv"
	_ "github.com/ajitpratap0/strata/pkg/connector/sources/jsonl"
)

var version = "0.1.0"

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "strata",
		Short: "Strata - schema-contract enforcement for layered telemetry",
		Long: `Strata guards a four-layer telemetry flow (raw_minute, buckets_5m,
features_5m, scores_zscore) behind an explicit, versioned schema contract.
Schemas can only grow: evolutions are additive, and every row is validated
against its layer's schema before it crosses a boundary.`,
	}

	root.AddCommand(newVersionCmd())
	root.AddCommand(newContractCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newEvolveCmd())
	root.AddCommand(newRegistryCmd())
	root.AddCommand(newRunCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Strata v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

// initLogging installs the global logger for a command invocation.
func initLogging(level string) *zap.Logger {
	_ = observability.InitLogging(observability.LoggingConfig{Level: level, Format: "console"})
	return observability.Logger()
}

// openRegistry builds the schema registry for a command: an existing
// snapshot wins, then an explicit contract file, then the built-in baseline.
func openRegistry(ctx context.Context, snapshotPath, contractPath string, logger *zap.Logger) (*schema.Registry, error) {
	reg := schema.NewRegistry(logger)

	if snapshotPath != "" {
		if data, err := os.ReadFile(snapshotPath); err == nil {
			if err := reg.Import(data); err != nil {
				return nil, fmt.Errorf("failed to import registry snapshot: %w", err)
			}
			return reg, nil
		}
	}
	if contractPath != "" {
		cf, err := schema.LoadContract(contractPath)
		if err != nil {
			return nil, err
		}
		if err := cf.Register(ctx, reg); err != nil {
			return nil, err
		}
		return reg, nil
	}
	if err := schema.RegisterBaseline(ctx, reg); err != nil {
		return nil, err
	}
	return reg, nil
}

// saveRegistry exports the registry to path, creating parent directories.
func saveRegistry(reg *schema.Registry, path string) error {
	if path == "" {
		return nil
	}
	data, err := reg.Export()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func newContractCmd() *cobra.Command {
	var layerName string

	contractCmd := &cobra.Command{
		Use:   "contract",
		Short: "Inspect the layer schema contract",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the current schema for each layer",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := initLogging("warn")
			reg, err := openRegistry(cmd.Context(), viper.GetString("snapshot"), viper.GetString("contract"), logger)
			if err != nil {
				return err
			}

			layers := models.Layers()
			if layerName != "" {
				layer := models.Layer(layerName)
				if !layer.Valid() {
					return fmt.Errorf("unknown layer %q", layerName)
				}
				layers = []models.Layer{layer}
			}

			bold := color.New(color.Bold)
			required := color.New(color.FgRed).SprintFunc()
			optional := color.New(color.FgHiBlack).SprintFunc()

			for _, layer := range layers {
				v, err := reg.Current(layer)
				if err != nil {
					return err
				}
				_, _ = bold.Printf("\n%s (version %d)\n", layer, v.Version)

				table := tablewriter.NewWriter(os.Stdout)
				table.Header([]string{"Column", "Type", "Presence", "Description"})
				var data [][]string
				for _, col := range v.Columns {
					presence := optional("optional")
					if col.Required {
						presence = required("required")
					}
					data = append(data, []string{col.Name, string(col.Type), presence, col.Description})
				}
				if err := table.Bulk(data); err != nil {
					return err
				}
				if err := table.Render(); err != nil {
					return err
				}
			}
			return nil
		},
	}
	showCmd.Flags().StringVar(&layerName, "layer", "", "Show a single layer")
	showCmd.Flags().String("snapshot", "", "Registry snapshot to load")
	showCmd.Flags().String("contract", "", "Contract YAML to load instead of the baseline")
	_ = viper.BindPFlags(showCmd.Flags())

	contractCmd.AddCommand(showCmd)
	return contractCmd
}

func newValidateCmd() *cobra.Command {
	var (
		input         string
		format        string
		layerName     string
		schemaVersion int
		snapshotPath  string
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a telemetry file against a layer schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := initLogging("warn")
			ctx := cmd.Context()

			layer := models.Layer(layerName)
			if !layer.Valid() {
				return fmt.Errorf("unknown layer %q", layerName)
			}

			reg, err := openRegistry(ctx, snapshotPath, "", logger)
			if err != nil {
				return err
			}
			v, err := reg.Current(layer)
			if schemaVersion > 0 {
				v, err = reg.At(layer, schemaVersion)
			}
			if err != nil {
				return err
			}

			source, err := registry.CreateSource(format, input)
			if err != nil {
				return err
			}
			if err := source.Open(ctx, v.Columns); err != nil {
				return err
			}
			defer func() { _ = source.Close() }()

			validator := schema.NewValidator(reg)
			records, readErrs := source.Stream(ctx)

			var valid, invalid int
			done := make(chan struct{})
			go func() {
				defer close(done)
				for err := range readErrs {
					invalid++
					fmt.Fprintf(os.Stderr, "read error: %v\n", err)
				}
			}()
			for record := range records {
				row := models.NewRow(layer, record.Data)
				if err := validator.Validate(row, layer, v.Version); err != nil {
					invalid++
					fmt.Fprintf(os.Stderr, "line %d: %v\n", record.Line, err)
					continue
				}
				valid++
			}
			<-done

			green := color.New(color.FgGreen).SprintFunc()
			red := color.New(color.FgRed).SprintFunc()
			fmt.Printf("%s valid, %s invalid (layer %s, schema version %d)\n",
				green(strconv.Itoa(valid)), red(strconv.Itoa(invalid)), layer, v.Version)
			if invalid > 0 {
				os.Exit(1)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "Input file (required)")
	cmd.Flags().StringVar(&format, "format", "csv", "Input format: csv or jsonl")
	cmd.Flags().StringVar(&layerName, "layer", string(models.LayerRawMinute), "Layer to validate against")
	cmd.Flags().IntVar(&schemaVersion, "schema-version", 0, "Pin a historical schema version (0 = current)")
	cmd.Flags().StringVar(&snapshotPath, "snapshot", "", "Registry snapshot to load")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func newEvolveCmd() *cobra.Command {
	var (
		layerName    string
		addColumns   []string
		snapshotPath string
	)

	cmd := &cobra.Command{
		Use:   "evolve",
		Short: "Propose an additive schema evolution",
		Long: `Propose new columns for a layer. Column specs use name:type with an
optional :required suffix; new columns default to optional. Renames and
removals are not expressible and are rejected by the registry.`,
		Example: `  strata evolve --layer raw_minute --add cache_status:string --add edge_node:string:required`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := initLogging("info")
			ctx := cmd.Context()

			layer := models.Layer(layerName)
			if !layer.Valid() {
				return fmt.Errorf("unknown layer %q", layerName)
			}
			if len(addColumns) == 0 {
				return fmt.Errorf("nothing to propose, pass at least one --add")
			}

			diff := schema.Diff{}
			for _, spec := range addColumns {
				col, err := parseColumnSpec(spec)
				if err != nil {
					return err
				}
				diff.Add = append(diff.Add, col)
			}

			reg, err := openRegistry(ctx, snapshotPath, "", logger)
			if err != nil {
				return err
			}
			evolver := schema.NewEvolver(reg, logger)
			v, err := evolver.Propose(ctx, layer, diff)
			if err != nil {
				return err
			}
			if err := saveRegistry(reg, snapshotPath); err != nil {
				return err
			}

			fmt.Printf("layer %s is now at version %d (%d columns)\n", layer, v.Version, len(v.Columns))
			return nil
		},
	}

	cmd.Flags().StringVar(&layerName, "layer", "", "Layer to evolve (required)")
	cmd.Flags().StringArrayVar(&addColumns, "add", nil, "Column to add as name:type[:required]")
	cmd.Flags().StringVar(&snapshotPath, "snapshot", "", "Registry snapshot to load and update")
	_ = cmd.MarkFlagRequired("layer")
	return cmd
}

// parseColumnSpec parses name:type[:required] into a ColumnSpec.
func parseColumnSpec(spec string) (models.ColumnSpec, error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return models.ColumnSpec{}, fmt.Errorf("invalid column spec %q, want name:type[:required]", spec)
	}
	col := models.ColumnSpec{
		Name: parts[0],
		Type: models.ColumnType(parts[1]),
	}
	if !col.Type.Valid() {
		return models.ColumnSpec{}, fmt.Errorf("invalid column type %q in %q", parts[1], spec)
	}
	if len(parts) == 3 {
		switch parts[2] {
		case "required":
			col.Required = true
		case "optional":
		default:
			return models.ColumnSpec{}, fmt.Errorf("invalid presence %q in %q", parts[2], spec)
		}
	}
	return col, nil
}

func newRegistryCmd() *cobra.Command {
	var snapshotPath string

	registryCmd := &cobra.Command{
		Use:   "registry",
		Short: "Export, import and inspect the schema registry",
	}
	registryCmd.PersistentFlags().StringVar(&snapshotPath, "snapshot", "", "Registry snapshot path")

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export the registry as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := initLogging("warn")
			reg, err := openRegistry(cmd.Context(), snapshotPath, "", logger)
			if err != nil {
				return err
			}
			data, err := reg.Export()
			if err != nil {
				return err
			}
			out, _ := cmd.Flags().GetString("out")
			if out == "" {
				fmt.Println(string(data))
				return nil
			}
			return os.WriteFile(out, data, 0o644)
		},
	}
	exportCmd.Flags().String("out", "", "Output file (default stdout)")

	importCmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a registry export, re-validating every version chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := initLogging("info")
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			reg := schema.NewRegistry(logger)
			if err := reg.Import(data); err != nil {
				return err
			}
			if err := saveRegistry(reg, snapshotPath); err != nil {
				return err
			}
			fmt.Println("registry imported")
			return nil
		},
	}

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show the version chain for a layer",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := initLogging("warn")
			layerName, _ := cmd.Flags().GetString("layer")
			layer := models.Layer(layerName)
			if !layer.Valid() {
				return fmt.Errorf("unknown layer %q", layerName)
			}
			reg, err := openRegistry(cmd.Context(), snapshotPath, "", logger)
			if err != nil {
				return err
			}
			versions, err := reg.History(layer)
			if err != nil {
				return err
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.Header([]string{"Version", "Created", "Columns", "Fingerprint"})
			var data [][]string
			for _, v := range versions {
				data = append(data, []string{
					strconv.Itoa(v.Version),
					v.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
					strconv.Itoa(len(v.Columns)),
					v.Fingerprint,
				})
			}
			if err := table.Bulk(data); err != nil {
				return err
			}
			return table.Render()
		},
	}
	historyCmd.Flags().String("layer", string(models.LayerRawMinute), "Layer to show")

	registryCmd.AddCommand(exportCmd, importCmd, historyCmd)
	return registryCmd
}

func newRunCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full layer flow over a raw telemetry file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.New("strata")
			if configFile != "" {
				if err := config.Load(configFile, cfg); err != nil {
					return err
				}
			}
			applyRunOverrides(cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			if cfg.Ingest.Path == "" {
				return fmt.Errorf("ingest path is required (--input or config)")
			}
			if cfg.Emit.Dir == "" {
				return fmt.Errorf("emit dir is required (--output-dir or config)")
			}

			if err := observability.InitLogging(observability.LoggingConfig{
				Level:  cfg.Observability.LogLevel,
				Format: cfg.Observability.LogFormat,
			}); err != nil {
				return err
			}
			defer observability.Sync()
			logger := observability.Logger()
			ctx := cmd.Context()

			if cfg.Observability.EnableTracing {
				shutdown, err := observability.InitTracing(observability.TracingConfig{
					ServiceName:    cfg.Name,
					ServiceVersion: version,
					SampleRate:     cfg.Observability.TracingSampleRate,
				})
				if err != nil {
					return err
				}
				defer func() { _ = shutdown(ctx) }()
			}

			reg, err := openRegistry(ctx, cfg.Registry.SnapshotPath, cfg.Registry.ContractPath, logger)
			if err != nil {
				return err
			}

			source, err := registry.CreateSource(cfg.Ingest.Format, cfg.Ingest.Path)
			if err != nil {
				return err
			}
			sinks, err := buildSinks(cfg)
			if err != nil {
				return err
			}

			summary, err := pipeline.New(cfg, reg, logger, source, sinks).Run(ctx)
			if err != nil {
				return err
			}
			if err := saveRegistry(reg, cfg.Registry.SnapshotPath); err != nil {
				return err
			}
			if cfg.Observability.EnableMetrics {
				if err := writeMetricsFile(filepath.Join(cfg.Emit.Dir, "metrics.prom")); err != nil {
					logger.Warn("failed to write metrics file", zap.Error(err))
				}
			}

			report, err := jsonpool.MarshalIndent(summary, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(report))
			return nil
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "", "Pipeline config YAML")
	cmd.Flags().String("input", "", "Raw telemetry input file")
	cmd.Flags().String("input-format", "", "Input format: csv or jsonl")
	cmd.Flags().String("output-dir", "", "Directory for emitted layer files")
	cmd.Flags().String("output-format", "", "Output format: csv or jsonl")
	cmd.Flags().String("compression", "", "Output compression: none, gzip, snappy, lz4, zstd, s2")
	cmd.Flags().Bool("parquet-scores", false, "Also write scores as Parquet")
	cmd.Flags().Int("workers", 0, "Validation worker count")
	cmd.Flags().Int("schema-version", 0, "Pin raw validation to a schema version")
	cmd.Flags().String("log-level", "", "Log level")
	_ = viper.BindPFlags(cmd.Flags())
	viper.SetEnvPrefix("STRATA")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	return cmd
}

// applyRunOverrides layers flag and STRATA_* environment overrides on top of
// the file configuration.
func applyRunOverrides(cfg *config.Config) {
	if v := viper.GetString("input"); v != "" {
		cfg.Ingest.Path = v
	}
	if v := viper.GetString("input-format"); v != "" {
		cfg.Ingest.Format = v
	}
	if v := viper.GetString("output-dir"); v != "" {
		cfg.Emit.Dir = v
	}
	if v := viper.GetString("output-format"); v != "" {
		cfg.Emit.Format = v
	}
	if v := viper.GetString("compression"); v != "" {
		cfg.Emit.Compression = v
	}
	if viper.GetBool("parquet-scores") {
		cfg.Emit.ParquetScores = true
	}
	if v := viper.GetInt("workers"); v > 0 {
		cfg.Performance.Workers = v
	}
	if v := viper.GetInt("schema-version"); v > 0 {
		cfg.Ingest.SchemaVersion = v
	}
	if v := viper.GetString("log-level"); v != "" {
		cfg.Observability.LogLevel = v
	}
}

// writeMetricsFile dumps the run's Prometheus metrics in text exposition
// format next to the emitted layers.
func writeMetricsFile(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := observability.WriteMetrics(file); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

// buildSinks creates one destination per layer in the configured format,
// plus the optional Parquet sink for scores.
func buildSinks(cfg *config.Config) (map[models.Layer][]core.Destination, error) {
	algo, err := compression.ParseAlgorithm(cfg.Emit.Compression)
	if err != nil {
		return nil, err
	}
	var comp compression.Compressor
	if algo != compression.None {
		comp, err = compression.NewCompressor(&compression.Config{
			Algorithm: algo,
			Level:     cfg.Emit.CompressionLevel,
		})
		if err != nil {
			return nil, err
		}
	}

	sinks := make(map[models.Layer][]core.Destination)
	for _, layer := range models.Layers() {
		path := filepath.Join(cfg.Emit.Dir, string(layer)+"."+cfg.Emit.Format)
		var dest core.Destination
		switch cfg.Emit.Format {
		case "csv":
			if comp != nil {
				dest = csvdest.NewDestination(path, csvdest.WithCompression(comp))
			} else {
				dest = csvdest.NewDestination(path)
			}
		case "jsonl":
			if comp != nil {
				dest = jsonldest.NewDestination(path, jsonldest.WithCompression(comp))
			} else {
				dest = jsonldest.NewDestination(path)
			}
		default:
			return nil, fmt.Errorf("emit format %q is not supported", cfg.Emit.Format)
		}
		sinks[layer] = append(sinks[layer], dest)
	}

	if cfg.Emit.ParquetScores {
		path := filepath.Join(cfg.Emit.Dir, string(models.LayerScoresZScore)+".parquet")
		sinks[models.LayerScoresZScore] = append(sinks[models.LayerScoresZScore],
			parquetdest.NewDestination(path, parquetdest.WithBatchSize(cfg.Performance.BatchSize)))
	}
	return sinks, nil
}
