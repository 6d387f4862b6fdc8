package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"duotronics/internal/hemisphere"
	"duotronics/internal/llm"
	"duotronics/internal/pipeline"
	"duotronics/internal/probe"
	"duotronics/pkg/logger"
)

// Runner 执行一次双半球流水线。
type Runner interface {
	Run(ctx context.Context, conversation []llm.Message) (*pipeline.Result, error)
}

// Prober 验证一组厂商凭据。
type Prober interface {
	Probe(ctx context.Context, req probe.Request) probe.Result
}

// Dependencies 汇总 API 服务依赖的组件。
type Dependencies struct {
	Pipeline Runner
	Store    hemisphere.Store
	Prober   Prober
}

// Server 负责暴露聊天、配置与凭据探测接口。
type Server struct {
	addr            string
	deps            Dependencies
	logger          *slog.Logger
	audit           *slog.Logger
	shutdownTimeout time.Duration
}

// Option 定义 Server 的可选配置。
type Option func(*Server)

// WithLogger 设置请求日志。
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithAuditLogger 设置配置变更的审计日志。
func WithAuditLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.audit = l
		}
	}
}

// WithShutdownTimeout 设置优雅退出的等待时间。
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, deps Dependencies, opts ...Option) *Server {
	s := &Server{
		addr:            addr,
		deps:            deps,
		logger:          logger.Named("api"),
		audit:           logger.Audit(),
		shutdownTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回完整的路由，ctx 取消后新请求一律返回 503。
func (s *Server) Handler(ctx context.Context) http.Handler {
	router := mux.NewRouter()
	router.Use(s.withRequestID, s.withMetrics, s.withAccessLog)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/chat", s.handleChat).Methods(http.MethodPost)
	api.HandleFunc("/config", s.handleGetConfig).Methods(http.MethodGet)
	api.HandleFunc("/config", s.handleSaveConfig).Methods(http.MethodPost)
	api.HandleFunc("/test-key", s.handleTestKey).Methods(http.MethodPost)
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
	})
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	})

	return withContext(ctx, router)
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(ctx),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("api server listening", "addr", s.addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("api server shutdown", "error", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}
