package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ChainPilot/internal/agent"
	"ChainPilot/internal/auth"
	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/observability/metrics"
	"ChainPilot/internal/storage/mysql"
	"ChainPilot/internal/task"
	"ChainPilot/pkg/logger"
)

const (
	commandsPath = "/api/v1/commands"
	historyPath  = "/api/v1/history"
	maxBodyBytes = 64 << 10
)

// HistorySource 提供命令日志查询，通常由 *agent.Agent 实现。
type HistorySource interface {
	History(ctx context.Context, limit int) ([]mysql.Entry, error)
}

// HealthCheck 返回依赖是否可用。
type HealthCheck func(ctx context.Context) error

// Option 定义 Server 的可选配置。
type Option func(*Server)

// WithMetrics 暴露 /metrics 并记录请求指标。
func WithMetrics(r *metrics.Recorder) Option {
	return func(s *Server) { s.metrics = r }
}

// WithHistory 启用 /api/v1/history。
func WithHistory(h HistorySource) Option {
	return func(s *Server) { s.history = h }
}

// WithAuth 为命令与历史接口加上认证中间件，/healthz 与 /metrics 不受影响。
func WithAuth(middleware func(http.Handler) http.Handler) Option {
	return func(s *Server) { s.auth = middleware }
}

// WithHealthCheck 配置 /healthz 的依赖检查。
func WithHealthCheck(check HealthCheck) Option {
	return func(s *Server) { s.health = check }
}

// WithWaitLimit 限制 wait=true 时同步等待命令完成的最长时间。
func WithWaitLimit(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.waitLimit = d
		}
	}
}

// Server 负责暴露 REST 接口，供外部提交并查询命令。
type Server struct {
	addr      string
	auth      func(http.Handler) http.Handler
	tasks     *task.Service
	history   HistorySource
	health    HealthCheck
	metrics   *metrics.Recorder
	waitLimit time.Duration
	log       *slog.Logger
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, tasks *task.Service, opts ...Option) *Server {
	s := &Server{
		addr:      addr,
		tasks:     tasks,
		waitLimit: 2 * time.Minute,
		log:       logger.Named("api"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回完整的路由。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(commandsPath, s.protect(s.instrument("commands", s.handleCommands)))
	mux.Handle(commandsPath+"/", s.protect(s.instrument("command_detail", s.handleCommandDetail)))
	mux.Handle(historyPath, s.protect(s.instrument("history", s.handleHistory)))
	mux.Handle("/healthz", s.instrument("healthz", s.handleHealth))
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("HTTP 服务已启动", "addr", s.addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

type submitRequest struct {
	ID    string `json:"id,omitempty"`
	Input string `json:"input"`
}

func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleSubmit(w, r)
	case http.MethodGet:
		if id := strings.TrimSpace(r.URL.Query().Get("id")); id != "" {
			s.writeTask(w, r, id)
			return
		}
		s.handleList(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, xerrors.New(xerrors.CodeInvalidArgument, "仅支持 GET/POST"))
	}
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化"))
		return
	}
	var req submitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"))
		return
	}

	submitted, err := s.tasks.Submit(r.Context(), agent.CommandRequest{ID: req.ID, Input: req.Input})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	s.log.Debug("命令已提交", slog.String("task_id", submitted.ID), slog.String("caller", auth.CallerName(r.Context())))

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait && !submitted.Terminal() {
		ctx, cancel := context.WithTimeout(r.Context(), s.waitLimit)
		defer cancel()
		if done, err := s.tasks.WaitUntilCompleted(ctx, submitted.ID, 100*time.Millisecond); err == nil {
			writeJSON(w, http.StatusOK, done)
			return
		}
		// 等待超时仍返回已受理的任务，调用方可继续轮询。
	}
	status := http.StatusAccepted
	if submitted.Terminal() {
		status = http.StatusOK
	}
	writeJSON(w, status, submitted)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化"))
		return
	}
	query := r.URL.Query()
	opts := []task.ListOption{task.WithLimit(intParam(query.Get("limit"), 20))}
	if offset := intParam(query.Get("offset"), 0); offset > 0 {
		opts = append(opts, task.WithOffset(offset))
	}
	if statuses := task.ParseStatuses(query.Get("status")); len(statuses) > 0 {
		opts = append(opts, task.WithStatuses(statuses...))
	}
	if q := query.Get("q"); q != "" {
		opts = append(opts, task.WithQuery(q))
	}
	if strings.EqualFold(query.Get("order"), "asc") {
		opts = append(opts, task.WithSortOrder(task.SortByUpdatedAsc))
	}
	if raw := query.Get("has_tx"); raw != "" {
		if submitted, err := strconv.ParseBool(raw); err == nil {
			opts = append(opts, task.WithTransaction(submitted))
		}
	}

	tasks, err := s.tasks.List(r.Context(), opts...)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleCommandDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, xerrors.New(xerrors.CodeInvalidArgument, "仅支持 GET"))
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, commandsPath+"/"), "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, xerrors.New(xerrors.CodeInvalidArgument, "缺少命令 ID"))
		return
	}
	if id == "stats" {
		s.handleStats(w, r)
		return
	}
	s.writeTask(w, r, id)
}

func (s *Server) writeTask(w http.ResponseWriter, r *http.Request, id string) {
	if s.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化"))
		return
	}
	found, err := s.tasks.Get(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var opts []task.ListOption
	if statuses := task.ParseStatuses(r.URL.Query().Get("status")); len(statuses) > 0 {
		opts = append(opts, task.WithStatuses(statuses...))
	}
	stats, err := s.tasks.Stats(r.Context(), opts...)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, xerrors.New(xerrors.CodeInvalidArgument, "仅支持 GET"))
		return
	}
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.New(xerrors.CodeInitializationFailure, "命令日志未启用"))
		return
	}
	entries, err := s.history.History(r.Context(), intParam(r.URL.Query().Get("limit"), 20))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := s.health(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorBody struct {
	Error struct {
		Code    xerrors.Code `json:"code"`
		Message string       `json:"message"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	var body errorBody
	body.Error.Code = xerrors.CodeOf(err)
	body.Error.Message = err.Error()
	if e, ok := xerrors.From(err); ok && e.Message() != "" {
		body.Error.Message = e.Message()
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// statusFor 把统一错误码映射为 HTTP 状态码。
func statusFor(err error) int {
	switch xerrors.CodeOf(err) {
	case task.CodeTaskValidation, xerrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case task.CodeTaskNotFound, xerrors.CodeNotFound:
		return http.StatusNotFound
	case task.CodeTaskConflict, xerrors.CodeConflict:
		return http.StatusConflict
	case xerrors.CodeInitializationFailure, task.CodeTaskPublish:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func intParam(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument 记录请求耗时与状态码。
func (s *Server) instrument(name string, handler http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		handler(rec, r)
		s.metrics.ObserveHTTPRequest(name, r.Method, rec.status, time.Since(started))
		s.log.Debug("HTTP 请求", "handler", name, "method", r.Method, "status", rec.status, "elapsed", time.Since(started))
	})
}

func (s *Server) protect(h http.Handler) http.Handler {
	if s.auth == nil {
		return h
	}
	return s.auth(h)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
