package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"hydrocycle/internal/config"
	"hydrocycle/internal/esmvaltool"
	"hydrocycle/internal/forcing"
	"hydrocycle/internal/ledger"
	"hydrocycle/internal/model"
	"hydrocycle/internal/recipe"
	"hydrocycle/internal/registry"
	"hydrocycle/internal/remote"

	_ "hydrocycle/plugins/generic"
	"hydrocycle/plugins/leakybucket"
)

var rootCmd = &cobra.Command{
	Use:   "hyc",
	Short: "Hydrocycle CLI",
	Long: `Hydrocycle orchestrates hydrological model runs.
It generates forcing data through a recipe engine, keeps a registry of
parameter sets, launches models in containers (or in-process) and steps them
through the standard model control protocol. Every run is recorded in a local
ledger.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if viper.GetBool("verbose") {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

		var s *config.Settings
		var err error
		if path := viper.GetString("config"); path != "" {
			s, err = config.Load(path)
		} else {
			s, err = config.LoadDefault()
		}
		if err != nil {
			return err
		}
		config.SetSystem(s)
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("HYDROCYCLE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "settings file (default: search config dirs)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug logging")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(modelsCmd())
	rootCmd.AddCommand(parameterSetsCmd())
	rootCmd.AddCommand(forcingCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(runsCmd())
	rootCmd.AddCommand(serveCmd())
}

func settings() *config.Settings {
	s, err := config.System()
	if err != nil {
		// PersistentPreRunE already loaded them; this cannot fail here.
		panic(err)
	}
	return s
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Inspect settings"}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := settings()
			if viper.GetBool("json") {
				return printJSON(s)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Setting", "Value"})
			tw.AppendRow(table.Row{"container_engine", s.ContainerEngine})
			tw.AppendRow(table.Row{"output_dir", s.OutputDir})
			tw.AppendRow(table.Row{"parameterset_dir", s.ParameterSetDir})
			tw.AppendRow(table.Row{"apptainer_dir", s.ApptainerDir})
			tw.AppendRow(table.Row{"esmvaltool_bin", s.ESMValToolBin})
			tw.AppendRow(table.Row{"source", s.Source})
			tw.Render()
			return nil
		},
	})
	return cmd
}

func modelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List registered model plugins",
		RunE: func(cmd *cobra.Command, args []string) error {
			type info struct {
				Name     string   `json:"name"`
				Versions []string `json:"versions"`
			}
			var models []info
			for _, name := range model.PluginNames() {
				p, err := model.LookupPlugin(name)
				if err != nil {
					return err
				}
				models = append(models, info{Name: name, Versions: p.AvailableVersions()})
			}
			if viper.GetBool("json") {
				return printJSON(models)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Model", "Versions"})
			for _, m := range models {
				tw.AppendRow(table.Row{m.Name, strings.Join(m.Versions, ", ")})
			}
			tw.Render()
			return nil
		},
	}
}

func parameterSetsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "parameter-sets", Short: "Manage parameter sets"}
	cmd.AddCommand(parameterSetsListCmd())
	cmd.AddCommand(parameterSetsMaterializeCmd())
	return cmd
}

func parameterSetsListCmd() *cobra.Command {
	var targetModel string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered parameter sets",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := registry.FromSettings(settings().ParameterSets)
			sets := reg.Filter(targetModel)
			if viper.GetBool("json") {
				return printJSON(sets)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Name", "Model", "Versions", "DOI", "Directory"})
			for _, name := range reg.Names() {
				ps, ok := sets[name]
				if !ok {
					continue
				}
				versions := "any"
				if len(ps.SupportedModelVersions) > 0 {
					versions = strings.Join(ps.SupportedModelVersions, ", ")
				}
				tw.AppendRow(table.Row{ps.Name, ps.TargetModel, versions, ps.DOI, ps.Directory})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&targetModel, "model", "", "only sets for this model")
	return cmd
}

func parameterSetsMaterializeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "materialize <name>",
		Short: "Download a parameter set's files if not present",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := registry.FromSettings(settings().ParameterSets)
			ps, err := reg.Lookup(args[0])
			if err != nil {
				return err
			}
			if err := reg.Materialize(cmd.Context(), ps); err != nil {
				return err
			}
			fmt.Println(ps.Directory)
			return nil
		},
	}
}

func forcingCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "forcing", Short: "Generate and inspect forcing data"}
	cmd.AddCommand(forcingGenerateCmd())
	cmd.AddCommand(forcingShowCmd())
	cmd.AddCommand(forcingDatasetsCmd())
	return cmd
}

func forcingDatasetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "datasets",
		Short: "List well-known source datasets",
		RunE: func(cmd *cobra.Command, args []string) error {
			if viper.GetBool("json") {
				return printJSON(recipe.Datasets)
			}
			names := make([]string, 0, len(recipe.Datasets))
			for name := range recipe.Datasets {
				names = append(names, name)
			}
			sort.Strings(names)
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Name", "Project", "Tier", "Type", "MIP"})
			for _, name := range names {
				ds := recipe.Datasets[name]
				tw.AppendRow(table.Row{name, ds.Project, ds.Tier, ds.Type, ds.MIP})
			}
			tw.Render()
			return nil
		},
	}
}

func forcingGenerateCmd() *cobra.Command {
	var (
		modelName string
		dataset   string
		start     string
		end       string
		shape     string
		lumped    bool
		variables []string
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Run the recipe engine and write a forcing directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := settings()
			opts := forcing.Options{
				Dataset:   dataset,
				StartTime: start,
				EndTime:   end,
				Shape:     shape,
				Lumped:    lumped,
				Variables: variables,
				OutputDir: s.OutputDir,
			}
			if modelName != "" {
				p, err := model.LookupPlugin(modelName)
				if err != nil {
					return err
				}
				p.ForcingOptions(&opts)
			}
			engine := esmvaltool.NewTool(s.ESMValToolBin)
			f, err := forcing.Generate(cmd.Context(), engine, opts)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(f)
			}
			fmt.Println(f.Directory)
			return nil
		},
	}
	cmd.Flags().StringVar(&modelName, "model", "", "apply this model's forcing requirements")
	cmd.Flags().StringVar(&dataset, "dataset", "ERA5", "source dataset name")
	cmd.Flags().StringVar(&start, "start", "", "window start, UTC ISO (required)")
	cmd.Flags().StringVar(&end, "end", "", "window end, UTC ISO (required)")
	cmd.Flags().StringVar(&shape, "shape", "", "basin boundary shape file")
	cmd.Flags().BoolVar(&lumped, "lumped", false, "basin-averaged instead of gridded")
	cmd.Flags().StringSliceVar(&variables, "variables", nil, "variables to request")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func forcingShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <dir>",
		Short: "Print the manifest of a forcing directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := forcing.Load(args[0])
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(f)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Field", "Value"})
			tw.AppendRow(table.Row{"directory", f.Directory})
			tw.AppendRow(table.Row{"start_time", f.StartTime})
			tw.AppendRow(table.Row{"end_time", f.EndTime})
			tw.AppendRow(table.Row{"shape", f.Shape})
			for _, name := range f.Variables() {
				tw.AppendRow(table.Row{"file:" + name, f.Filenames[name]})
			}
			tw.Render()
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	var (
		modelName  string
		version    string
		psName     string
		forcingDir string
		steps      int
		overrides  []string
		watch      string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Configure, initialize and step a model instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s := settings()
			p, err := model.LookupPlugin(modelName)
			if err != nil {
				return err
			}

			opts := []model.Option{model.WithSettings(s)}
			if psName != "" {
				reg := registry.FromSettings(s.ParameterSets)
				ps, err := reg.Lookup(psName)
				if err != nil {
					return err
				}
				if err := reg.Materialize(ctx, ps); err != nil {
					return err
				}
				opts = append(opts, model.WithParameterSet(&ps))
			}
			if forcingDir != "" {
				f, err := forcing.Load(forcingDir)
				if err != nil {
					return err
				}
				if err := f.Validate(); err != nil {
					return err
				}
				opts = append(opts, model.WithForcing(f))
			}

			db, err := ledger.Open(s.OutputDir)
			if err != nil {
				return err
			}
			defer db.Close()
			opts = append(opts, model.WithRecorder(ledger.Store{DB: db}))

			parsed, err := parseOverrides(overrides)
			if err != nil {
				return err
			}

			inst, err := model.NewInstance(p, version, opts...)
			if err != nil {
				return err
			}
			configFile, workDir, err := inst.Configure(ctx, parsed)
			if err != nil {
				return err
			}
			slog.Info("configured run", "run", inst.ID, "work_dir", workDir, "config", configFile)
			if err := inst.Initialize(ctx); err != nil {
				return err
			}
			defer inst.Finalize(ctx)

			start, end, step, units := inst.TimeAxis()
			slog.Info("initialized run", "start", start, "end", end, "step", step, "units", units)

			for n := 0; steps == 0 || n < steps; n++ {
				current, err := inst.CurrentTime(ctx)
				if err != nil {
					return err
				}
				if current >= end {
					break
				}
				if err := inst.Update(ctx); err != nil {
					return err
				}
				if watch != "" {
					values, err := inst.GetValue(ctx, watch)
					if err != nil {
						return err
					}
					date, err := inst.CurrentTimeAsDate(ctx)
					if err != nil {
						return err
					}
					fmt.Printf("%s\t%v\n", date, values)
				}
			}
			if err := inst.Finalize(ctx); err != nil {
				return err
			}
			fmt.Println(inst.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&modelName, "model", "", "model plugin name (required)")
	cmd.Flags().StringVar(&version, "version", "", "model version (required)")
	cmd.Flags().StringVar(&psName, "parameter-set", "", "registered parameter set name")
	cmd.Flags().StringVar(&forcingDir, "forcing", "", "forcing directory")
	cmd.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = run to end)")
	cmd.Flags().StringSliceVar(&overrides, "set", nil, "configuration override key=value")
	cmd.Flags().StringVar(&watch, "watch", "", "print this variable after each step")
	_ = cmd.MarkFlagRequired("model")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}

// parseOverrides turns key=value pairs into typed values; values parse as
// JSON when possible and fall back to plain strings.
func parseOverrides(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	overrides := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("override %q is not of the form key=value", pair)
		}
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		overrides[key] = value
	}
	return overrides, nil
}

func runsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "runs", Short: "Inspect the run ledger"}
	cmd.AddCommand(runsListCmd())
	cmd.AddCommand(runsLogCmd())
	return cmd
}

func withLedger(fn func(ctx context.Context, store ledger.Store) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		db, err := ledger.Open(settings().OutputDir)
		if err != nil {
			return err
		}
		defer db.Close()
		return fn(cmd.Context(), ledger.Store{DB: db})
	}
}

func runsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List recorded runs",
		RunE: withLedger(func(ctx context.Context, store ledger.Store) error {
			runs, err := store.ListRuns(ctx)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(runs)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Model", "Version", "Status", "Created", "Work dir"})
			for _, r := range runs {
				tw.AppendRow(table.Row{r.ID, r.Model, r.Version, r.Status, r.CreatedAt, r.WorkDir})
			}
			tw.Render()
			return nil
		}),
	}
}

func runsLogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log <run-id>",
		Short: "Show the event log of a run",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = func(c *cobra.Command, args []string) error {
		return withLedger(func(ctx context.Context, store ledger.Store) error {
			if _, err := store.GetRun(ctx, args[0]); err != nil {
				return err
			}
			events, err := store.ListEvents(ctx, args[0])
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(events)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"TS", "Type", "Payload"})
			for _, e := range events {
				tw.AppendRow(table.Row{e.TS, e.Type, e.Payload})
			}
			tw.Render()
			return nil
		})(c, args)
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the in-process leaky bucket model over the control protocol",
		RunE: func(cmd *cobra.Command, args []string) error {
			slog.Info("serving model", "model", leakybucket.Name, "addr", addr)
			return serveModel(addr, &leakybucket.Model{})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":50051", "listen address")
	return cmd
}

func serveModel(addr string, m remote.Bmi) error {
	return http.ListenAndServe(addr, remote.Handler(m))
}
