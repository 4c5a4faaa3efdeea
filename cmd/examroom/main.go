package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/hosodaythemhocthem-blip/huynhvannhan-sub000/internal/draft"
	"github.com/hosodaythemhocthem-blip/huynhvannhan-sub000/internal/extract"
	"github.com/hosodaythemhocthem-blip/huynhvannhan-sub000/internal/handler"
	appI18n "github.com/hosodaythemhocthem-blip/huynhvannhan-sub000/internal/i18n"
	"github.com/hosodaythemhocthem-blip/huynhvannhan-sub000/internal/ingest"
	"github.com/hosodaythemhocthem-blip/huynhvannhan-sub000/internal/llm"
	"github.com/hosodaythemhocthem-blip/huynhvannhan-sub000/internal/model"
	"github.com/hosodaythemhocthem-blip/huynhvannhan-sub000/internal/objstore"
	"github.com/hosodaythemhocthem-blip/huynhvannhan-sub000/internal/session"
	"github.com/hosodaythemhocthem-blip/huynhvannhan-sub000/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "examroom",
		Short: "Timed exam server with AI-assisted exam digitization",
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `examroom --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP exam server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "examroom.db", "SQLite database path")
	f.String("drafts-dir", "drafts", "Directory for local answer drafts")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.StringP("lang", "l", "vi", "UI language (en, vi)")
	f.Int64("max-upload-bytes", 20<<20, "Maximum accepted exam document size in bytes")
	f.Int("max-prompt-chars", 8000, "Maximum characters of extracted text sent to the LLM")
	f.String("oss-endpoint", "", "Aliyun OSS endpoint (empty = store files locally)")
	f.String("oss-key-id", "", "Aliyun OSS access key ID")
	f.String("oss-key-secret", "", "Aliyun OSS access key secret")
	f.String("oss-bucket", "", "Aliyun OSS bucket name")
	f.String("files-dir", "files", "Local directory for originals when OSS is not configured")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	f.Duration("auth-ttl", store.DefaultAuthSessionTTL, "Login session lifetime")
	f.String("admin-password", "", "Initial admin password (or set EXAMROOM_ADMIN_PASSWORD)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export an exam's submissions as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "examroom.db", "SQLite database path")
	f.Int64("exam-id", 0, "Exam ID to export (required)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")

	_ = cmd.MarkFlagRequired("exam-id")

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

	v.SetEnvPrefix("EXAMROOM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("examroom")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/examroom")
	v.AddConfigPath("/etc/examroom")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
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
	db.SetAuthSessionTTL(v.GetDuration("auth-ttl"))

	// Seed default admin user if no users exist.
	if err := seedAdmin(db, v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	// Initialize i18n.
	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	// Create LLM client.
	llmClient := llm.New(
		v.GetString("llm-url"),
		v.GetString("llm-key"),
		v.GetString("llm-model"),
	)
	if err := llmClient.Ping(context.Background()); err != nil {
		return fmt.Errorf("LLM health check: %w", err)
	}
	slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", v.GetString("llm-model"))

	// File storage for uploaded originals: OSS when configured, local
	// directory otherwise.
	files, err := newFileStore(v)
	if err != nil {
		return fmt.Errorf("create file store: %w", err)
	}

	drafts, err := draft.NewStore(v.GetString("drafts-dir"))
	if err != nil {
		return fmt.Errorf("create draft store: %w", err)
	}

	sessions := session.NewRegistry(db, drafts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sessions.Run(ctx)

	ingests := ingest.NewManager(extract.NewDocExtractor(), llmClient, db, files, ingest.Config{
		MaxUploadBytes: v.GetInt64("max-upload-bytes"),
		MaxPromptChars: v.GetInt("max-prompt-chars"),
	})

	h := handler.New(db, sessions, ingests, llmClient, handler.Config{
		SecureCookies:  v.GetBool("secure-cookies"),
		MaxUploadBytes: v.GetInt64("max-upload-bytes"),
	})

	// Hourly housekeeping: expired auth sessions and stale drafts.
	c := cron.New()
	_, err = c.AddFunc("@hourly", func() {
		if err := db.CleanupExpiredSessions(); err != nil {
			slog.Warn("auth session cleanup failed", "error", err)
		}
		if n, err := drafts.CleanupStale(30 * 24 * time.Hour); err != nil {
			slog.Warn("draft cleanup failed", "error", err)
		} else if n > 0 {
			slog.Info("removed stale drafts", "count", n)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule cleanup: %w", err)
	}
	c.Start()
	defer c.Stop()

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"model", v.GetString("llm-model"),
		"llm_url", v.GetString("llm-url"),
		"lang", lang,
		"max_upload_bytes", v.GetInt64("max-upload-bytes"),
	)
	return http.ListenAndServe(addr, r)
}

func newFileStore(v *viper.Viper) (objstore.FileStore, error) {
	endpoint := v.GetString("oss-endpoint")
	if endpoint == "" {
		return objstore.NewDir(v.GetString("files-dir"))
	}
	return objstore.NewOSS(
		endpoint,
		v.GetString("oss-key-id"),
		v.GetString("oss-key-secret"),
		v.GetString("oss-bucket"),
	)
}

type examExport struct {
	Exam        model.Exam         `json:"exam"`
	Questions   []model.Question   `json:"questions"`
	MaxScore    int                `json:"max_score"`
	Submissions []model.Submission `json:"submissions"`
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	examID := v.GetInt64("exam-id")
	exam, err := db.GetExam(examID)
	if err != nil {
		return fmt.Errorf("load exam %d: %w", examID, err)
	}
	questions, err := db.GetQuestions(examID)
	if err != nil {
		return fmt.Errorf("load questions: %w", err)
	}
	submissions, err := db.ListSubmissions(examID)
	if err != nil {
		return fmt.Errorf("load submissions: %w", err)
	}

	export := examExport{
		Exam:        exam,
		Questions:   questions,
		MaxScore:    session.MaxScore(questions),
		Submissions: submissions,
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
		return fmt.Errorf("admin password is required: set --admin-password flag or EXAMROOM_ADMIN_PASSWORD env var")
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
