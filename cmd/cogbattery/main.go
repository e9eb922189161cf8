package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/cogbattery/internal/battery"
	"github.com/pavelanni/cogbattery/internal/grading"
	"github.com/pavelanni/cogbattery/internal/handler"
	appI18n "github.com/pavelanni/cogbattery/internal/i18n"
	"github.com/pavelanni/cogbattery/internal/llm"
	"github.com/pavelanni/cogbattery/internal/llm/prompts"
	"github.com/pavelanni/cogbattery/internal/model"
	"github.com/pavelanni/cogbattery/internal/report"
	"github.com/pavelanni/cogbattery/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cogbattery",
		Short: "Timed cognitive assessment battery with LLM-graded writing",
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd(), reportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `cogbattery --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the battery HTTP server",
		RunE:  runServe,
	}
	def := model.DefaultBatteryConfig()
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("archive", "cogbattery.db", "SQLite archive of finished reports (empty disables archiving)")
	f.StringP("lang", "l", "en", "UI language (en, ru)")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /ru)")

	f.IntSlice("digit-levels", def.DigitLevels, "Backward digit-span levels, run in order")
	f.Int("digit-input-seconds", def.DigitInputSeconds, "Countdown for reversed digit entry")
	f.StringArray("word-list", []string{strings.Join(model.DefaultWordList, ",")}, "Comma-separated free-recall word list (repeatable; empty skips the stage)")
	f.Int("word-display-ms", int(def.WordDisplay/time.Millisecond), "Presentation time per word")
	f.Int("word-recall-seconds", def.WordRecallSeconds, "Free-recall countdown")
	f.IntSlice("ospan-set-sizes", def.OperationSetSizes, "Operation-span set sizes, run in order")
	f.Int("equation-seconds", def.EquationSeconds, "Countdown per equation judgment")
	f.Int("letter-display-ms", int(def.LetterDisplay/time.Millisecond), "Presentation time per letter")
	f.Int("letter-recall-seconds", def.LetterRecallSeconds, "Letter recall countdown")
	f.String("argumentative-prompt", def.ArgumentativePrompt, "Argumentative writing prompt")
	f.String("creative-prompt", def.CreativePrompt, "Creative writing prompt")
	f.Int("writing-seconds", def.WritingSeconds, "Countdown per writing task")
	f.Int("thanks-ms", int(def.Thanks/time.Millisecond), "Thanks interstitial before results")
	f.Uint64("seed", 0, "Stimulus random seed (0 = time based)")

	f.String("grader-url", "", "Remote grading gateway base URL (empty grades in-process)")
	f.Bool("grading-concurrent", false, "Send both writing tasks to the gateway at once")
	f.Duration("grading-timeout", 60*time.Second, "Timeout per gateway call")
	f.String("llm-provider", "openai", "LLM provider (openai, anthropic, gemini)")
	f.String("llm-url", "http://localhost:11434/v1", "Provider API base URL (OpenAI-compatible for openai)")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.String("prompt-variant", string(prompts.PromptStandard), "Grading prompt variant (strict, standard, lenient)")

	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export archived reports as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("archive", "cogbattery.db", "SQLite archive of finished reports")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report [session-id...]",
		Short: "Write archived reports as an Excel workbook",
		Long:  "Write the given archived sessions, or every archived session when none is named, as one XLSX workbook.",
		RunE:  runReport,
	}
	f := cmd.Flags()
	f.String("archive", "cogbattery.db", "SQLite archive of finished reports")
	f.StringP("output", "o", "report.xlsx", "Output file path (- for stdout)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("COGBATTERY")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("cogbattery")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/cogbattery")
	v.AddConfigPath("/etc/cogbattery")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// batteryConfig reads the battery parameters. Validation happens when the
// runner is created.
func batteryConfig(v *viper.Viper) model.BatteryConfig {
	cfg := model.BatteryConfig{
		DigitLevels:         v.GetIntSlice("digit-levels"),
		DigitInputSeconds:   v.GetInt("digit-input-seconds"),
		WordDisplay:         time.Duration(v.GetInt("word-display-ms")) * time.Millisecond,
		WordRecallSeconds:   v.GetInt("word-recall-seconds"),
		OperationSetSizes:   v.GetIntSlice("ospan-set-sizes"),
		EquationSeconds:     v.GetInt("equation-seconds"),
		LetterDisplay:       time.Duration(v.GetInt("letter-display-ms")) * time.Millisecond,
		LetterRecallSeconds: v.GetInt("letter-recall-seconds"),
		ArgumentativePrompt: v.GetString("argumentative-prompt"),
		CreativePrompt:      v.GetString("creative-prompt"),
		WritingSeconds:      v.GetInt("writing-seconds"),
		Thanks:              time.Duration(v.GetInt("thanks-ms")) * time.Millisecond,
		Seed:                v.GetUint64("seed"),
	}
	for _, list := range v.GetStringSlice("word-list") {
		cfg.WordLists = append(cfg.WordLists, parseWordList(list))
	}
	return cfg
}

func parseWordList(s string) []string {
	var words []string
	for _, w := range strings.Split(s, ",") {
		if w = strings.TrimSpace(w); w != "" {
			words = append(words, w)
		}
	}
	return words
}

// graders builds the in-process LLM grader, which serves /api/grade, and the
// grader the battery uses: a remote gateway client when grader-url is set,
// the LLM grader otherwise.
func graders(ctx context.Context, v *viper.Viper) (battery.Grader, *llm.Grader, string, error) {
	variant := strings.ToLower(strings.TrimSpace(v.GetString("prompt-variant")))
	if !prompts.IsValidVariant(variant) {
		slog.Warn("invalid prompt-variant, using standard", "variant", variant)
		variant = string(prompts.PromptStandard)
	}

	set, err := prompts.Load(nil)
	if err != nil {
		return nil, nil, "", fmt.Errorf("load prompts: %w", err)
	}
	provider, err := llm.NewProvider(ctx, llm.NewConfig(
		v.GetString("llm-provider"),
		v.GetString("llm-url"),
		v.GetString("llm-key"),
		v.GetString("llm-model"),
	))
	if err != nil {
		return nil, nil, "", fmt.Errorf("create LLM provider: %w", err)
	}
	local := llm.NewGrader(provider, set, prompts.PromptVariant(variant))

	if url := v.GetString("grader-url"); url != "" {
		slog.Info("using remote grading gateway", "url", url)
		return grading.NewClient(url, v.GetDuration("grading-timeout")), local, variant, nil
	}
	return local, local, variant, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}
	if langs := appI18n.Languages(); !slices.Contains(langs, lang) {
		slog.Warn("no locale for language, messages fall back to their IDs", "lang", lang, "available", langs)
	}

	grader, local, variant, err := graders(ctx, v)
	if err != nil {
		return err
	}

	cfg := batteryConfig(v)
	opts := []battery.RunnerOption{
		battery.WithConcurrentGrading(v.GetBool("grading-concurrent")),
		battery.WithGradingTimeout(v.GetDuration("grading-timeout")),
	}

	var archive handler.ReportArchive
	if path := v.GetString("archive"); path != "" {
		db, err := store.New(path)
		if err != nil {
			return fmt.Errorf("open archive: %w", err)
		}
		defer db.Close()
		if err := db.SetArchiveInfo(model.ArchiveInfo{
			PromptVariant: variant,
			GradingModel:  v.GetString("llm-model"),
			Battery:       &cfg,
		}); err != nil {
			return fmt.Errorf("record archive info: %w", err)
		}
		n, err := db.ReportCount()
		if err != nil {
			return fmt.Errorf("count archived reports: %w", err)
		}
		slog.Info("opened archive", "path", path, "reports", n)
		opts = append(opts, battery.WithArchive(db))
		archive = db
	}

	runner, err := battery.NewRunner(cfg, grader, opts...)
	if err != nil {
		return fmt.Errorf("battery config: %w", err)
	}
	defer runner.Close()

	// Normalize base path.
	basePath := strings.TrimRight(v.GetString("base-path"), "/")
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}

	srvCfg := model.ServerConfig{
		BasePath:          basePath,
		GradingTimeout:    v.GetDuration("grading-timeout"),
		GradingConcurrent: v.GetBool("grading-concurrent"),
	}
	h, err := handler.New(runner, local, archive, srvCfg)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))

	if basePath != "" {
		r.Route(basePath, func(sub chi.Router) {
			sub.Use(h.BasePathMiddleware)
			h.Routes(sub)
		})
	} else {
		r.Use(h.BasePathMiddleware)
		h.Routes(r)
	}

	addr := v.GetString("addr")
	srv := &http.Server{Addr: addr, Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("starting server",
		"addr", addr,
		"lang", lang,
		"base_path", basePath,
		"llm_provider", v.GetString("llm-provider"),
		"model", v.GetString("llm-model"),
		"prompt_variant", variant,
		"grader_url", v.GetString("grader-url"),
		"grading_concurrent", srvCfg.GradingConcurrent,
		"archive", v.GetString("archive"),
		"digit_levels", cfg.DigitLevels,
		"ospan_set_sizes", cfg.OperationSetSizes,
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	slog.Info("server stopped")
	return nil
}

// openOutput returns stdout for "" or "-", otherwise a created file.
func openOutput(path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopCloser{os.Stdout}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	return f, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("archive"))
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer db.Close()

	n, err := db.ReportCount()
	if err != nil {
		return fmt.Errorf("count reports: %w", err)
	}
	if n == 0 {
		slog.Warn("archive is empty", "path", v.GetString("archive"))
	}

	export, err := db.ExportAll()
	if err != nil {
		return fmt.Errorf("export reports: %w", err)
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	w, err := openOutput(v.GetString("output"))
	if err != nil {
		return err
	}
	defer w.Close()

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)

	slog.Info("exported reports", "count", export.Count)
	return nil
}

func runReport(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("archive"))
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer db.Close()

	var reports []model.Report
	if len(args) == 0 {
		export, err := db.ExportAll()
		if err != nil {
			return fmt.Errorf("read reports: %w", err)
		}
		reports = export.Reports
	}
	for _, id := range args {
		r, err := db.GetReport(id)
		if err != nil {
			return fmt.Errorf("read report %s: %w", id, err)
		}
		if r == nil {
			return fmt.Errorf("no archived report for session %s", id)
		}
		reports = append(reports, *r)
	}
	if len(reports) == 0 {
		return errors.New("archive is empty")
	}

	w, err := openOutput(v.GetString("output"))
	if err != nil {
		return err
	}
	defer w.Close()

	if err := report.WriteXLSX(w, reports...); err != nil {
		return err
	}
	slog.Info("wrote report workbook", "reports", len(reports), "output", v.GetString("output"))
	return nil
}
