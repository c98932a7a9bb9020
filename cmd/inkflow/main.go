package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/zen-systems/inkflow/pkg/config"
	"github.com/zen-systems/inkflow/pkg/pipeline"
	"github.com/zen-systems/inkflow/pkg/provider"
	"github.com/zen-systems/inkflow/pkg/sink"
)

var version = "dev"

var (
	projectFile string
	verboseFlag bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "inkflow",
		Short: "Multi-stage content pipeline across LLM providers",
		Long: `Inkflow runs ordered content-generation stages across LLM providers,
threading each stage's output into the next stage's context. A run either
completes every stage or fails fast at the first unrecoverable error.`,
	}

	rootCmd.PersistentFlags().StringVarP(&projectFile, "project", "p", "", "path to project file (required)")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "log stage progress to stderr")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(providersCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var topicFlag string
	var auxFlags []string
	var outFlag string
	var dbFlag string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a project pipeline",
		Long: `Runs every stage of the project in order. Stage outputs accumulate in
the run context under {stage}_output keys and the final record is written
to the output directory (and to Postgres when --db is set).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if projectFile == "" {
				return fmt.Errorf("project file is required")
			}
			if topicFlag == "" {
				return fmt.Errorf("topic is required")
			}

			project, err := config.LoadProject(projectFile)
			if err != nil {
				return err
			}

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			auxiliary, err := parseAux(auxFlags)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			recorder, cleanup, err := buildSink(ctx, outFlag, dbFlag)
			if err != nil {
				return err
			}
			defer cleanup()

			opts := pipeline.Options{
				Stages:      project,
				Credentials: cfg,
				Sink:        recorder,
			}
			if verboseFlag {
				opts.Logger = func(format string, a ...any) { log.Printf(format, a...) }
			}

			coord, err := pipeline.New(opts)
			if err != nil {
				return err
			}

			handle, err := coord.Start(ctx, topicFlag, project.Name, auxiliary)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Run %s started (%d stages)\n", handle.ID, len(project.StageConfs))

			// On interrupt, terminate the run so it records TERMINATED
			// instead of dangling.
			go func() {
				<-ctx.Done()
				_ = coord.Terminate(handle, "interrupted")
			}()

			run, err := coord.Wait(context.Background(), handle)
			if err != nil {
				return err
			}

			printSummary(run)
			if run.Status != pipeline.RunCompleted {
				return fmt.Errorf("run %s: %s", run.ID, strings.ToLower(string(run.Status)))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&topicFlag, "topic", "t", "", "topic for the run (required)")
	cmd.Flags().StringArrayVar(&auxFlags, "aux", nil, "auxiliary input as key=value (repeatable)")
	cmd.Flags().StringVarP(&outFlag, "out", "o", "runs", "run record output directory")
	cmd.Flags().StringVar(&dbFlag, "db", "", "Postgres URL for run records (optional)")

	return cmd
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate a project file without executing",
		RunE: func(cmd *cobra.Command, args []string) error {
			if projectFile == "" {
				return fmt.Errorf("project file is required")
			}
			project, err := config.LoadProject(projectFile)
			if err != nil {
				return err
			}
			fmt.Printf("Project %q is valid (%d stages).\n", project.Name, len(project.StageConfs))
			return nil
		},
	}
}

func providersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List providers, their capabilities, and credential status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tTOP_P\tMAX_TOKENS\tUNBOUNDED\tMODELS\tSTATUS")

			for _, id := range []provider.ID{provider.OpenAI, provider.OpenAIImage, provider.Anthropic, provider.Google, provider.Mock} {
				cred, _ := cfg.Credential(id)
				client, err := provider.Resolve(id, credOrPlaceholder(id, cred))
				if err != nil {
					return err
				}
				caps := client.Capabilities()

				status := "no key"
				if cfg.HasProvider(id) {
					status = "ready"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					id, yesNo(caps.TopP), yesNo(caps.MaxTokens), yesNo(caps.UnboundedTokens),
					strings.Join(client.Models(), ", "), status)
			}

			return w.Flush()
		},
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// credOrPlaceholder lets the capability listing resolve clients for providers
// without a configured key. No request is ever sent with the placeholder.
func credOrPlaceholder(id provider.ID, cred string) string {
	if cred == "" && id != provider.Mock {
		return "unconfigured"
	}
	return cred
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the inkflow version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("inkflow %s\n", version)
		},
	}
}

func buildSink(ctx context.Context, outDir, dbURL string) (pipeline.ResultSink, func(), error) {
	fileSink, err := sink.NewFileSink(outDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	if dbURL == "" {
		return fileSink, func() {}, nil
	}

	pg, err := sink.NewPostgresSink(ctx, dbURL)
	if err != nil {
		return nil, nil, err
	}
	return sink.Multi(fileSink, pg), pg.Close, nil
}

func parseAux(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	aux := make(map[string]string, len(pairs))
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --aux %q, expected key=value", p)
		}
		aux[key] = value
	}
	return aux, nil
}

func printSummary(run pipeline.PipelineRun) {
	w := tabwriter.NewWriter(os.Stderr, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STAGE\tSTATUS\tATTEMPTS\tDURATION\tTOKENS")
	for _, stage := range run.Stages {
		tokens := "-"
		if stage.Usage.TotalTokens != nil {
			tokens = fmt.Sprintf("%d", *stage.Usage.TotalTokens)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			stage.Name, stage.Status, stage.Attempts, stage.Duration.Round(time.Millisecond), tokens)
	}
	w.Flush()

	switch run.Status {
	case pipeline.RunCompleted:
		fmt.Fprintf(os.Stderr, "Run %s completed in %s\n", run.ID, run.EndedAt.Sub(run.StartedAt).Round(time.Millisecond))
		if last := len(run.Stages); last > 0 {
			fmt.Println(run.Stages[last-1].Output)
		}
	case pipeline.RunFailed:
		fmt.Fprintf(os.Stderr, "Run %s failed at stage %q (%s): %s\n", run.ID, run.FailedStage, run.ErrKind, run.Reason)
	case pipeline.RunTerminated:
		fmt.Fprintf(os.Stderr, "Run %s terminated: %s\n", run.ID, run.Reason)
	}
}
