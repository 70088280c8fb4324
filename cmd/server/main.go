package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	zerologlog "github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/quizwire/quizwire/internal/ai"
	"github.com/quizwire/quizwire/internal/ai/openai"
	"github.com/quizwire/quizwire/internal/config"
	"github.com/quizwire/quizwire/internal/game"
	"github.com/quizwire/quizwire/internal/store"
	"github.com/quizwire/quizwire/internal/ws"
	staticserver "github.com/quizwire/quizwire/static"
)

const version = "v1.0.0-dev"

func main() {
	var (
		showHelp    = flag.Bool("help", false, "Show help message")
		showVersion = flag.Bool("version", false, "Show version information")
		addrFlag    = flag.String("addr", "", "Address to listen on (overrides HTTP_ADDR env var)")
	)
	flag.BoolVar(showHelp, "h", false, "Show help message (shorthand)")
	flag.BoolVar(showVersion, "v", false, "Show version information (shorthand)")
	flag.Parse()

	if *showHelp {
		fmt.Printf(`quizwire - live multi-room trivia server

Usage: %s [options]

Options:
  -h, --help      Show this help message
  -v, --version   Show version information
  --addr ADDR     Address to listen on (default: :8080 or HTTP_ADDR env var)

Environment Variables:
  HTTP_ADDR       Address to listen on (default: :8080)
  DB_PATH         SQLite database path (default: quizwire.db)
  ANSWER_WINDOW   How long a question stays open (default: 20s)
  ROUND_PAUSE     Pause between rounds (default: 5s)
  LOG_LEVEL       Log level (default: info)
  OPENAI_API_KEY  Enables the quiz generation endpoint when set
  OPENAI_BASE_URL Custom OpenAI-compatible API base URL (optional)
  AI_MODEL        Model for quiz generation (default: gpt-4o-mini)
`, os.Args[0])
		return
	}

	if *showVersion {
		fmt.Printf("quizwire %s\n", version)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *addrFlag); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, addrOverride string) error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if addrOverride != "" {
		cfg.HTTPAddr = addrOverride
	}

	// zerolog setup (human-friendly console)
	zerolog.TimeFieldFormat = time.RFC3339
	cw := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	zerologlog.Logger = zerologlog.Output(cw)
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	// SQLite store backs both quiz lookup and game-record persistence.
	db, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("connecting to sqlite: %w", err)
	}
	defer db.Close()
	st := store.NewSQLiteStore(db)
	if err := st.EnsureSchema(ctx); err != nil {
		return err
	}
	zerologlog.Info().Str("path", cfg.DBPath).Msg("connected to sqlite")

	// Gin setup with custom request logger (skip /socket.io noise)
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.Request.URL.Path
		if strings.HasPrefix(path, "/socket.io") {
			return
		}
		zerologlog.Info().Str("path", path).Int("status", c.Writer.Status()).Dur("dur", time.Since(start)).Msg("http")
	})

	startedAt := time.Now()
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "uptime": time.Since(startedAt).String(), "time": time.Now().UTC()})
	})

	// Engine: registry + connection index are built once here and handed to
	// the manager, never global.
	gateway := ws.New(ctx)
	manager := game.NewManager(
		game.NewRegistry(),
		game.NewConnectionIndex(),
		st, st, gateway,
		cfg.AnswerWindow, cfg.RoundPause,
	)
	gateway.SetManager(manager)
	io := gateway.Mount(r)
	defer io.Close()

	mountAPI(r, manager, st)
	if cfg.OpenAIKey != "" {
		mountGenerateAPI(r, st, openai.New(cfg.OpenAIKey, cfg.OpenAIBaseURL), cfg.AIModel)
	}

	// Serve frontend (if embedded build is present) for all other routes
	r.NoRoute(func(c *gin.Context) {
		staticserver.Handler().ServeHTTP(c.Writer, c.Request)
	})

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zerologlog.Info().Str("addr", cfg.HTTPAddr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		manager.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

type quizRequest struct {
	Name      string `json:"name" binding:"required"`
	Questions []struct {
		Prompt        string   `json:"prompt" binding:"required"`
		CorrectAnswer string   `json:"correctAnswer" binding:"required"`
		Distractors   []string `json:"distractors" binding:"required,len=3"`
	} `json:"questions" binding:"required,min=1"`
}

func mountAPI(r *gin.Engine, manager *game.Manager, st *store.SQLiteStore) {
	r.POST("/api/quizzes", func(c *gin.Context) {
		var req quizRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_quiz"})
			return
		}
		questions := make([]game.Question, 0, len(req.Questions))
		for _, q := range req.Questions {
			questions = append(questions, game.Question{
				Prompt:        q.Prompt,
				CorrectAnswer: q.CorrectAnswer,
				Distractors:   q.Distractors,
			})
		}
		id, err := st.CreateQuiz(c.Request.Context(), req.Name, questions)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "quiz_create_failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"quizId": id})
	})

	r.GET("/api/quizzes", func(c *gin.Context) {
		quizzes, err := st.ListQuizzes(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "quiz_list_failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"quizzes": quizzes})
	})

	// Read-only room status for polling clients.
	r.GET("/api/session/:code", func(c *gin.Context) {
		s, err := manager.GetSession(c.Param("code"))
		if err != nil {
			c.Status(http.StatusNotFound)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"roomCode": s.RoomCode,
			"quizName": s.QuizName,
			"status":   s.Status(),
			"started":  s.HasGameStarted(),
			"players":  s.Roster(),
		})
	})

	r.GET("/api/games/recent", func(c *gin.Context) {
		records, err := st.RecentGames(c.Request.Context(), 20)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "records_failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"games": records})
	})
}

func mountGenerateAPI(r *gin.Engine, st *store.SQLiteStore, provider ai.Provider, model string) {
	type generateReq struct {
		Name  string `json:"name" binding:"required"`
		Topic string `json:"topic" binding:"required"`
		Count int    `json:"count" binding:"required,min=1,max=20"`
	}
	r.POST("/api/quizzes/generate", func(c *gin.Context) {
		var req generateReq
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		questions, err := ai.GenerateQuestions(c.Request.Context(), provider, model, req.Topic, req.Count)
		if err != nil {
			zerologlog.Error().Err(err).Str("topic", req.Topic).Msg("quiz generation failed")
			c.JSON(http.StatusBadGateway, gin.H{"error": "generation_failed"})
			return
		}
		id, err := st.CreateQuiz(c.Request.Context(), req.Name, questions)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "quiz_create_failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"quizId": id, "questionCount": len(questions)})
	})
}
