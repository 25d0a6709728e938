package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"claudekimi/internal/config"
	"claudekimi/internal/models"
	"claudekimi/internal/provider"
	"claudekimi/internal/translator"
)

const (
	version             = "1.0.0"
	maxBodyBytes        = 1 << 20 // 1 MiB
	shutdownGracePeriod = 10 * time.Second
	readTimeout         = 30 * time.Second
	writeTimeout        = 45 * time.Second
	idleTimeout         = 120 * time.Second
)

type Server struct {
	cfg       config.Config
	backend   provider.Provider
	app       *echo.Echo
	address   string
	startedAt time.Time
}

// New constructs an HTTP server wired with routing and middleware.
func New(cfg config.Config, backend provider.Provider) (*Server, error) {
	if backend == nil {
		return nil, errors.New("backend provider must not be nil")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = anthropicErrorHandler

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogLatency: true,
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			slog.Info("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"error", v.Error,
			)
			return nil
		},
	}))
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		HSTSMaxAge:            31536000,
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'; form-action 'none'",
	}))

	srv := &Server{
		cfg:       cfg,
		backend:   backend,
		app:       e,
		address:   fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		startedAt: time.Now(),
	}

	srv.registerRoutes()

	return srv, nil
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	printStartupBanner(s.cfg)
	slog.Info("starting server", "addr", s.address)

	httpServer := &http.Server{
		Addr:         s.address,
		Handler:      s.app,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.app.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := s.app.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		slog.Info("server shutdown complete")
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) registerRoutes() {
	s.app.GET("/", s.handleRoot)
	s.app.GET("/health", s.handleHealth)
	s.app.POST("/v1/messages", s.handleMessages)
}

func (s *Server) handleRoot(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":   "healthy",
		"provider": s.backend.Name(),
		"model":    s.backend.Model(),
		"version":  version,
		"started":  s.startedAt.Format("2006-01-02 15:04:05"),
	})
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleMessages(c echo.Context) error {
	var req translator.MessagesRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}

	slog.Info("proxying messages request",
		"requested_model", req.Model,
		"model", s.backend.Model(),
		"provider", s.backend.Name(),
	)

	chatReq, capped, err := translator.BuildChatRequest(req, s.cfg.Upstream.MaxOutputTokens)
	if err != nil {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: err.Error(),
			Type:    "invalid_request_error",
		}
	}

	if capped {
		slog.Warn("capping max_tokens",
			"requested", *req.MaxTokens,
			"ceiling", s.cfg.Upstream.MaxOutputTokens,
		)
	}

	ctx := c.Request().Context()
	result, err := s.backend.Chat(ctx, chatReq)
	if err != nil {
		return requestError{
			Status:  http.StatusBadGateway,
			Message: fmt.Sprintf("error calling %s API: %v", s.backend.Name(), err),
			Type:    "api_error",
		}
	}
	if result == nil {
		return requestError{
			Status:  http.StatusBadGateway,
			Message: "upstream provider returned an empty response",
			Type:    "api_error",
		}
	}

	resp, err := translator.FromCompletion(s.cfg.ModelLabel(), *result)
	if err != nil {
		return toHTTPError(err)
	}

	logToolCalls(resp)
	slog.Info("completed messages request",
		"tokens_in", resp.Usage.InputTokens,
		"tokens_out", resp.Usage.OutputTokens,
		"stop_reason", resp.StopReason,
	)

	if req.Stream {
		return writeMessagesStream(c, resp)
	}

	return c.JSON(http.StatusOK, resp)
}

func logToolCalls(resp translator.MessagesResponse) {
	for _, block := range resp.Content {
		if block.Type == models.BlockToolUse {
			slog.Debug("tool call", "name", block.Name, "id", block.ID)
		}
	}
}

func decodeRequestBody[T any](c echo.Context, target *T) error {
	req := c.Request()
	defer req.Body.Close()

	req.Body = http.MaxBytesReader(c.Response(), req.Body, maxBodyBytes)

	decoder := json.NewDecoder(req.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return requestError{
				Status:  http.StatusBadRequest,
				Message: "request body is required",
				Type:    "invalid_request_error",
			}
		}
		return requestError{
			Status:  http.StatusBadRequest,
			Message: fmt.Sprintf("invalid JSON payload: %v", err),
			Type:    "invalid_request_error",
		}
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "request body must contain a single JSON object",
			Type:    "invalid_request_error",
		}
	}
	return nil
}

type requestError struct {
	Status  int
	Message string
	Type    string
}

func (e requestError) Error() string {
	return e.Message
}

type errorBody struct {
	Type  string      `json:"type"`
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func writeError(c echo.Context, status int, message, errType string) error {
	return c.JSON(status, errorBody{
		Type: "error",
		Error: errorDetail{
			Type:    errType,
			Message: message,
		},
	})
}

func anthropicErrorHandler(err error, c echo.Context) {
	var reqErr requestError
	if errors.As(err, &reqErr) {
		_ = writeError(c, reqErr.Status, reqErr.Message, reqErr.Type)
		return
	}

	var echoErr *echo.HTTPError
	if errors.As(err, &echoErr) {
		_ = writeError(c, echoErr.Code, fmt.Sprintf("%v", echoErr.Message), "invalid_request_error")
		return
	}

	_ = writeError(c, http.StatusInternalServerError, "internal server error", "api_error")
}

func toHTTPError(err error) error {
	var reqErr requestError
	if errors.As(err, &reqErr) {
		return reqErr
	}

	if errors.Is(err, translator.ErrMalformedToolArguments) {
		return requestError{
			Status:  http.StatusInternalServerError,
			Message: err.Error(),
			Type:    "api_error",
		}
	}

	return requestError{
		Status:  http.StatusInternalServerError,
		Message: "internal server error",
		Type:    "api_error",
	}
}

func printStartupBanner(cfg config.Config) {
	fmt.Println()
	fmt.Println("claudekimi proxy ready")
	fmt.Printf("Provider:   %s\n", cfg.Upstream.Provider)
	fmt.Printf("Base URL:   %s\n", cfg.Upstream.BaseURL)
	fmt.Printf("Model:      %s\n", cfg.Upstream.Model)
	fmt.Printf("Max tokens: %d\n", cfg.Upstream.MaxOutputTokens)
	fmt.Printf("Listening on http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println("Endpoints:")
	fmt.Println("  GET  /")
	fmt.Println("  GET  /health")
	fmt.Println("  POST /v1/messages")
	fmt.Printf("Example:\n  curl http://%s:%d/v1/messages -H 'Content-Type: application/json' -d '{\"model\":\"claude-3-sonnet\",\"max_tokens\":256,\"messages\":[{\"role\":\"user\",\"content\":\"hello\"}]}'\n\n",
		cfg.Server.Host, cfg.Server.Port)
}
