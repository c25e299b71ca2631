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
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/recitation/internal/bank"
	"github.com/pavelanni/recitation/internal/handler"
	appI18n "github.com/pavelanni/recitation/internal/i18n"
	"github.com/pavelanni/recitation/internal/llm"
	"github.com/pavelanni/recitation/internal/llm/prompts"
	"github.com/pavelanni/recitation/internal/model"
	"github.com/pavelanni/recitation/internal/pipeline"
	"github.com/pavelanni/recitation/internal/store"
	"github.com/pavelanni/recitation/internal/transcribe"
)

func main() {
	// A missing .env file is fine; flags and the environment still apply.
	_ = godotenv.Load()

	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "recitation",
		Short: "Asynchronous AI grading of vocabulary recitation recordings",
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd(), bankCmd(), userCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `recitation --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the evaluation API server and workers",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8000", "HTTP listen address")
	f.String("db", "recitation.db", "SQLite database path")
	f.String("bank-dir", "data/question_bank", "Directory with one reference CSV per unit")
	f.String("bank-suffix", bank.DefaultSuffix, "File name suffix of reference CSVs; the rest of the name is the unit id")
	f.String("audio-dir", "data/audio", "Directory for uploaded recordings (empty disables uploads)")
	f.Int("max-upload-mb", 50, "Maximum upload size in megabytes")
	f.String("asr-provider", "whisper", "Transcription provider (whisper, sidecar)")
	f.String("asr-url", "", "OpenAI-compatible audio API base URL (defaults to --llm-url)")
	f.String("asr-key", "", "API key for transcription (defaults to --llm-key)")
	f.String("asr-model", "whisper-1", "Transcription model name")
	f.String("asr-language", "", "Spoken language hint for transcription (ISO-639-1)")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.String("prompt-variant", string(prompts.PromptStandard), "Analysis prompt variant (strict, standard, lenient)")
	f.Bool("skip-llm-check", false, "Do not contact the LLM endpoint at startup")
	f.Int("workers", 4, "Number of concurrent evaluation workers")
	f.Int("queue-size", 64, "Evaluation admission queue capacity")
	f.Duration("transcribe-timeout", 5*time.Minute, "Deadline for one transcription call")
	f.Duration("analyze-timeout", 3*time.Minute, "Deadline for one analysis call")
	f.StringP("lang", "l", "en", "Language of stored failure messages and default API language (en, zh)")
	f.String("admin-password", "", "Initial admin password (or set RECITATION_ADMIN_PASSWORD)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export evaluation results as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "recitation.db", "SQLite database path")
	f.String("status", "", "Only export tasks with this status")
	f.String("student-id", "", "Only export tasks of this student")
	f.String("unit-id", "", "Only export tasks of this unit")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
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

	v.SetEnvPrefix("RECITATION")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("recitation")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/recitation")
	v.AddConfigPath("/etc/recitation")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	// Open database.
	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	// Seed default admin user if no users exist.
	if err := seedAdmin(db, v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	// Load the reference bank once; it is read-only from here on.
	refs, err := bank.LoadDir(v.GetString("bank-dir"), v.GetString("bank-suffix"))
	if err != nil {
		return fmt.Errorf("load reference bank: %w", err)
	}

	// Initialize i18n.
	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	// Create transcription provider.
	asrURL, asrKey := v.GetString("asr-url"), v.GetString("asr-key")
	if asrURL == "" {
		asrURL = v.GetString("llm-url")
	}
	if asrKey == "" {
		asrKey = v.GetString("llm-key")
	}
	asr, err := transcribe.New(transcribe.Config{
		Provider: v.GetString("asr-provider"),
		BaseURL:  asrURL,
		APIKey:   asrKey,
		Model:    v.GetString("asr-model"),
		Language: v.GetString("asr-language"),
	})
	if err != nil {
		return fmt.Errorf("create transcription provider: %w", err)
	}

	// Create LLM client.
	promptVariant := strings.ToLower(strings.TrimSpace(v.GetString("prompt-variant")))
	if !prompts.IsValidVariant(promptVariant) {
		slog.Warn("invalid prompt-variant, using standard", "variant", promptVariant)
		promptVariant = string(prompts.PromptStandard)
	}
	llmClient, err := llm.New(
		v.GetString("llm-url"),
		v.GetString("llm-key"),
		v.GetString("llm-model"),
		promptVariant,
	)
	if err != nil {
		return fmt.Errorf("create LLM client: %w", err)
	}
	if !v.GetBool("skip-llm-check") {
		pingCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := llmClient.Ping(pingCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("LLM health check: %w", err)
		}
		slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", v.GetString("llm-model"))
	}

	orchestrator := pipeline.NewOrchestrator(db, refs, asr, llmClient, pipeline.Config{
		Lang:              lang,
		TranscribeTimeout: v.GetDuration("transcribe-timeout"),
		AnalyzeTimeout:    v.GetDuration("analyze-timeout"),
	})
	pool := pipeline.NewPool(db, orchestrator, v.GetInt("workers"), v.GetInt("queue-size"), lang)
	if _, _, err := pool.Recover(); err != nil {
		return fmt.Errorf("recover tasks: %w", err)
	}

	evalCfg := model.EvalConfig{
		AudioDir:       v.GetString("audio-dir"),
		MaxUploadBytes: int64(v.GetInt("max-upload-mb")) << 20,
	}
	h, err := handler.New(db, pool, refs, evalCfg)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	addr := v.GetString("addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return pool.Run(ctx)
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	slog.Info("starting server",
		"addr", addr,
		"units", len(refs.Units()),
		"asr_provider", asr.Name(),
		"model", v.GetString("llm-model"),
		"llm_url", v.GetString("llm-url"),
		"prompt_variant", promptVariant,
		"lang", lang,
		"workers", v.GetInt("workers"),
		"queue_size", v.GetInt("queue-size"),
	)
	return g.Wait()
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	filter := model.TaskFilter{
		StudentID: v.GetString("student-id"),
		UnitID:    v.GetString("unit-id"),
	}
	if s := v.GetString("status"); s != "" {
		st, err := model.ParseTaskStatus(strings.ToUpper(s))
		if err != nil {
			return err
		}
		filter.Status = st
	}

	results, err := db.ExportTasks(filter)
	if err != nil {
		return fmt.Errorf("export tasks: %w", err)
	}

	export := model.TaskExport{
		ExportedAt: time.Now().UTC(),
		NumTasks:   len(results),
		Results:    results,
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	_, err = w.Write(data)
	if err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)

	slog.Info("exported tasks", "count", len(results), "output", outPath)
	return nil
}

func seedAdmin(db *store.Store, password string) error {
	count, err := db.UserCount()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if password == "" {
		slog.Warn("no users exist and no admin password given; the review API is unusable until one is created",
			"hint", "set --admin-password, RECITATION_ADMIN_PASSWORD, or run `recitation user add`")
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	_, err = db.CreateUser(model.User{
		Username:     "admin",
		DisplayName:  "Administrator",
		PasswordHash: string(hash),
		Role:         model.UserRoleAdmin,
		Active:       true,
	})
	if err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	slog.Info("seeded default admin user", "username", "admin")
	return nil
}
