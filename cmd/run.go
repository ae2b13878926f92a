// -- cmd/run.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/webpilot/internal/agent"
	"github.com/xkilldash9x/webpilot/internal/annotator"
	"github.com/xkilldash9x/webpilot/internal/browser"
	"github.com/xkilldash9x/webpilot/internal/checkpoint"
	"github.com/xkilldash9x/webpilot/internal/config"
	"github.com/xkilldash9x/webpilot/internal/human"
	"github.com/xkilldash9x/webpilot/internal/llmclient"
	"github.com/xkilldash9x/webpilot/internal/observability"
	"github.com/xkilldash9x/webpilot/internal/reporting"
	"github.com/xkilldash9x/webpilot/internal/store"
)

type runOptions struct {
	task       string
	scriptPath string
	resume     string
	runID      string
}

func newRunCmd() *cobra.Command {
	var opts runOptions
	runCmd := &cobra.Command{
		Use:   "run [task...]",
		Short: "Runs the agent against a task until it answers, aborts or is stopped",
		Example: `  webpilot run "What is the weather in Oslo tomorrow?"
  webpilot run --script steps.yaml --human
  webpilot run --resume 6c1f0d2e-... --channel websocket`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			opts.task = strings.TrimSpace(strings.Join(args, " "))
			return runAgent(cmd.Context(), cfg, opts, cmd.InOrStdin(), cmd.OutOrStdout(), observability.GetLogger())
		},
	}

	runCmd.Flags().StringVarP(&opts.scriptPath, "script", "s", "", "YAML file of actions to replay instead of asking the model")
	runCmd.Flags().StringVar(&opts.resume, "resume", "", "Resume a suspended run from its checkpoint")
	runCmd.Flags().StringVar(&opts.runID, "run-id", "", "Use this id for the run instead of a generated one")
	runCmd.Flags().String("url", "", "Page to open before the first step (overrides config/env)")
	runCmd.Flags().Bool("headless", false, "Run Chrome without a window (overrides config/env)")
	runCmd.Flags().Bool("human", false, "Ask an operator before risky actions (overrides config/env)")
	runCmd.Flags().String("channel", "", "Operator channel: console or websocket (overrides config/env)")
	runCmd.Flags().Int("max-steps", 0, "Abort after this many steps (overrides config/env)")
	runCmd.Flags().String("database", "", "PostgreSQL URL for the postgres recording sink (overrides config/env)")
	return runCmd
}

// resolveTask works out the task text and run mode from the flags.
func resolveTask(opts runOptions) (string, agent.RunMode, error) {
	if opts.scriptPath != "" {
		script, err := agent.LoadScript(opts.scriptPath)
		if err != nil {
			return "", agent.RunMode{}, err
		}
		task := opts.task
		if task == "" {
			task = script.Task
		}
		if task == "" {
			task = "Replay " + opts.scriptPath
		}
		return task, agent.ScriptedMode(script.Actions), nil
	}
	if opts.task == "" && opts.resume == "" {
		return "", agent.RunMode{}, errors.New("a task is required unless --script or --resume is given")
	}
	return opts.task, agent.LiveMode(), nil
}

// runComponents holds everything a run owns besides the browser.
type runComponents struct {
	Checkpoints checkpoint.Store
	Reporter    reporting.Reporter
	Channel     agent.HumanChannel
	Metrics     *observability.Metrics
	DBPool      *pgxpool.Pool
	Servers     []*http.Server
}

// Shutdown releases resources in reverse order of creation.
func (rc *runComponents) Shutdown(logger *zap.Logger) {
	if closer, ok := rc.Channel.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			logger.Debug("Error closing operator channel", zap.Error(err))
		}
	}
	if rc.Reporter != nil {
		if err := rc.Reporter.Close(); err != nil {
			logger.Warn("Error closing recorder", zap.Error(err))
		}
	}
	if rc.Checkpoints != nil {
		if err := rc.Checkpoints.Close(); err != nil {
			logger.Warn("Error closing checkpoint store", zap.Error(err))
		}
	}
	if rc.DBPool != nil {
		rc.DBPool.Close()
	}
}

func usesSink(cfg *config.Config, sink string) bool {
	for _, s := range cfg.Recording.Sinks {
		if strings.EqualFold(s, sink) {
			return true
		}
	}
	return false
}

// initializeRunComponents handles dependency injection for everything that
// does not need a browser.
func initializeRunComponents(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer, logger *zap.Logger) (*runComponents, error) {
	rc := &runComponents{}

	var db agent.Recorder
	if usesSink(cfg, "postgres") {
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return rc, fmt.Errorf("failed to connect to database: %w", err)
		}
		rc.DBPool = pool
		dbStore, err := store.New(ctx, pool, logger)
		if err != nil {
			return rc, fmt.Errorf("failed to initialize database store: %w", err)
		}
		if err := dbStore.EnsureSchema(ctx); err != nil {
			return rc, err
		}
		db = dbStore
	}

	reporter, err := reporting.New(cfg.Recording, logger, db)
	if err != nil {
		return rc, fmt.Errorf("failed to initialize recorder: %w", err)
	}
	rc.Reporter = reporter

	checkpoints, err := checkpoint.New(ctx, cfg.Checkpoint, logger)
	if err != nil {
		return rc, fmt.Errorf("failed to initialize checkpoint store: %w", err)
	}
	rc.Checkpoints = checkpoints

	channel, err := human.New(strings.ToLower(cfg.Human.Channel), in, out, logger)
	if err != nil {
		return rc, err
	}
	rc.Channel = channel
	if ws, ok := channel.(*human.WebSocketChannel); ok {
		mux := http.NewServeMux()
		mux.Handle("/ws", ws)
		rc.Servers = append(rc.Servers, &http.Server{Addr: cfg.Human.ListenAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second})
		logger.Info("Operator websocket configured.", zap.String("addr", "ws://"+cfg.Human.ListenAddr+"/ws"))
	}

	if cfg.Metrics.Enabled {
		rc.Metrics = observability.NewMetrics(cfg.Metrics.Namespace)
		mux := http.NewServeMux()
		mux.Handle("/metrics", rc.Metrics.Handler())
		rc.Servers = append(rc.Servers, &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second})
	}

	return rc, nil
}

func runAgent(ctx context.Context, cfg *config.Config, opts runOptions, in io.Reader, out io.Writer, logger *zap.Logger) error {
	task, mode, err := resolveTask(opts)
	if err != nil {
		return err
	}

	runID := opts.runID
	if opts.resume != "" {
		runID = opts.resume
	}
	if runID == "" {
		runID = uuid.NewString()
	}
	logger = logger.With(zap.String("run_id", runID))

	components, err := initializeRunComponents(ctx, cfg, in, out, logger)
	defer components.Shutdown(logger)
	if err != nil {
		return err
	}

	session := browser.NewSession(cfg.Browser, logger)
	if err := session.Open(ctx); err != nil {
		return fmt.Errorf("failed to launch browser: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Warn("Error closing browser", zap.Error(err))
		}
	}()

	if opts.resume == "" && cfg.Browser.StartURL != "" {
		if err := session.Goto(ctx, agent.NormalizeURL(cfg.Browser.StartURL)); err != nil {
			return fmt.Errorf("failed to open start page: %w", err)
		}
	}

	annOpts := []annotator.Option{
		annotator.WithAttempts(cfg.Agent.AnnotateAttempts),
		annotator.WithBackoff(cfg.Agent.AnnotateBackoff),
	}
	orchOpts := []agent.Option{
		agent.WithRunID(runID),
		agent.WithGate(agent.NewGate(cfg.Agent.RiskyActions)),
		agent.WithCheckpointStore(components.Checkpoints),
		agent.WithRecorder(components.Reporter),
		agent.WithLimits(cfg.Agent.MaxSteps, cfg.Agent.MaxRetries),
	}
	if components.Metrics != nil {
		annOpts = append(annOpts, annotator.WithFailureHook(components.Metrics.IncAnnotateFailure))
		orchOpts = append(orchOpts, agent.WithMetrics(components.Metrics))
	}

	if !mode.Scripted() {
		client, err := llmclient.NewClient(ctx, cfg.LLM, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize LLM client: %w", err)
		}
		defer client.Close()
		predictor := agent.NewLLMPredictor(client, logger, cfg.LLM.APITimeout, float64(cfg.LLM.Temperature))
		orchOpts = append(orchOpts, agent.WithPredictor(predictor))
	}

	state := agent.NewAgentState(task, mode, cfg.Agent.HumanIntervention)
	executor := agent.NewExecutor(agent.ExecutorConfigFrom(cfg.Agent, cfg.Browser), logger)
	orch, err := agent.NewOrchestrator(state, session, annotator.New(session, logger, annOpts...), executor, logger, orchOpts...)
	if err != nil {
		return err
	}
	if opts.resume != "" {
		if _, err := orch.Restore(ctx, opts.resume); err != nil {
			return err
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	for _, srv := range components.Servers {
		srv := srv
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server on %s: %w", srv.Addr, err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			return srv.Shutdown(shutdownCtx)
		})
	}

	var answer string
	g.Go(func() error {
		defer cancel()
		var runErr error
		answer, runErr = orch.Run(gctx, components.Channel)
		return runErr
	})

	if err := g.Wait(); err != nil {
		logger.Error("Run did not complete.", zap.Error(err), zap.String("status", string(orch.Status())))
		if orch.Status() == agent.RunAwaitingHuman {
			fmt.Fprintf(out, "\nRun %s is suspended. Resume with: webpilot run --resume %s\n", runID, runID)
		}
		return err
	}

	fmt.Fprintf(out, "\nFinal answer: %s\nRun ID: %s\n", answer, runID)
	return nil
}
