package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/xxxsen/mnote-agent/internal/agent"
	"github.com/xxxsen/mnote-agent/internal/config"
	"github.com/xxxsen/mnote-agent/internal/handler"
	"github.com/xxxsen/mnote-agent/internal/middleware"
	"github.com/xxxsen/mnote-agent/internal/pkg/jwt"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "mnote-agent",
		Short: "note aware llm agent",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.json")

	rootCmd.AddCommand(runCommand(&configPath), askCommand(&configPath), tokenCommand(&configPath))

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return nil, fmt.Errorf("--config is required")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger.Init(
		cfg.LogConfig.File,
		cfg.LogConfig.Level,
		int(cfg.LogConfig.FileCount),
		int(cfg.LogConfig.FileSize),
		int(cfg.LogConfig.KeepDays),
		cfg.LogConfig.Console,
	)
	logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", path))
	return cfg, nil
}

func runCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "run the agent server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			a, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			return runServer(a)
		},
	}
}

func runServer(a *app) error {
	cfg := a.cfg
	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	logutil.GetLogger(context.Background()).Info(
		"starting server",
		zap.Int("port", cfg.Port),
		zap.String("notes_db_path", cfg.NotesDBPath),
		zap.String("vector_store", cfg.VectorStore.Type),
		zap.String("ai_provider", cfg.AI.Provider),
		zap.Bool("auth", cfg.AuthEnabled),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.syncer.Start(ctx)
	defer a.syncer.Stop()

	sched, err := a.scheduler()
	if err != nil {
		return err
	}
	sched.Start(ctx)
	defer sched.Stop()

	deps := a.routerDeps()
	engine, err := webapi.NewEngine(
		"/api/v1",
		addr,
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.Metrics(a.collector),
			middleware.CORS(cfg.CORSAllowlist),
			gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths(handler.StreamPaths)),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}
	logutil.GetLogger(ctx).Info("http server listening", zap.String("addr", addr))

	go func() {
		if err := engine.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logutil.GetLogger(context.Background()).Error("server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logutil.GetLogger(context.Background()).Info("server stopping...")
	return nil
}

func askCommand(configPath *string) *cobra.Command {
	var (
		tags     []string
		lang     string
		note     bool
		save     bool
		stream   bool
		asJSON   bool
		deadline time.Duration
	)
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "answer a question from the notes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			a, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if deadline > 0 {
				var stopTimer context.CancelFunc
				ctx, stopTimer = context.WithTimeout(ctx, deadline)
				defer stopTimer()
			}
			req := agent.Request{
				Input:        strings.Join(args, " "),
				Tags:         tags,
				Lang:         lang,
				GenerateNote: note,
				SaveNote:     save,
			}
			out := cmd.OutOrStdout()
			var resp agent.Response
			if stream && !asJSON {
				resp, err = askStream(ctx, a.agent, req, out)
			} else {
				resp, err = a.agent.Run(ctx, req).Unpack()
			}
			if err != nil {
				return err
			}
			if resp.NoteID != "" {
				// the server's workers are not running here; embed now
				if err := a.syncer.SyncNote(ctx, resp.NoteID); err != nil {
					logutil.GetLogger(ctx).Warn("sync saved note failed", zap.String("note_id", resp.NoteID), zap.Error(err))
				}
			}
			return printAnswer(out, resp, stream && !asJSON, asJSON)
		},
	}
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "only use notes carrying all of these tags")
	cmd.Flags().StringVar(&lang, "lang", "", "prompt language")
	cmd.Flags().BoolVar(&note, "note", false, "draft a note from the answer")
	cmd.Flags().BoolVar(&save, "save", false, "draft and save a note from the answer")
	cmd.Flags().BoolVar(&stream, "stream", false, "print the answer as it is generated")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full response as json")
	cmd.Flags().DurationVar(&deadline, "timeout", 2*time.Minute, "overall time limit")
	return cmd
}

func askStream(ctx context.Context, ag *agent.Agent, req agent.Request, out io.Writer) (agent.Response, error) {
	sr, err := ag.RunStream(ctx, req).Unpack()
	if err != nil {
		return agent.Response{}, err
	}
	defer func() {
		_ = sr.Stream.Close()
	}()
	var sb strings.Builder
	for {
		chunk, err := sr.Stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return agent.Response{}, err
		}
		sb.WriteString(chunk)
		fmt.Fprint(out, chunk)
	}
	fmt.Fprintln(out)
	return ag.Finish(ctx, req, sr, sb.String()), nil
}

func printAnswer(out io.Writer, resp agent.Response, streamed, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	if !streamed {
		fmt.Fprintln(out, resp.Answer)
	}
	if len(resp.Context) > 0 {
		fmt.Fprintln(out, "\nsources:")
		for i, item := range resp.Context {
			fmt.Fprintf(out, "  [%d] %s (%s, %.2f)\n", i+1, item.Title, item.SourceID, item.Score)
		}
	}
	if len(resp.Degraded) > 0 {
		fmt.Fprintf(out, "\ndegraded: %s\n", strings.Join(resp.Degraded, ", "))
	}
	if resp.Note != nil {
		fmt.Fprintf(out, "\n---\n%s\n", resp.Note.Content)
	}
	if resp.NoteID != "" {
		fmt.Fprintf(out, "saved note %s\n", resp.NoteID)
	}
	if resp.NoteErr != nil {
		fmt.Fprintf(out, "note not created: %v\n", resp.NoteErr)
	}
	return nil
}

func tokenCommand(configPath *string) *cobra.Command {
	var (
		client string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "issue an api token for a client",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return fmt.Errorf("jwt_secret is not configured")
			}
			if ttl <= 0 {
				ttl = time.Duration(cfg.JWTTTLHours) * time.Hour
			}
			token, err := jwt.GenerateToken(client, []byte(cfg.JWTSecret), ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&client, "client", "", "client id carried by the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime, defaults to jwt_ttl_hours")
	return cmd
}
