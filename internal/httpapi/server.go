package httpapi

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"chatd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Chat(ctx context.Context, req types.ChatRequest) (types.ChatResponse, error)
	ChatStream(ctx context.Context, req types.ChatRequest, w io.Writer, flush func(), onStart func(streamID string)) error
	Reset(ctx context.Context, req types.ChatRequest) (types.ResetResponse, error)
	Status(ctx context.Context) types.StatusResponse
	Ready() bool
}

// chatErrorTrailer carries the failure of a stream that already sent tokens.
const chatErrorTrailer = "X-Chat-Error"

// countingWriter records whether any byte reached the client.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	// Only JSON is compressed; token streams must reach the client unbuffered.
	r.Use(middleware.Compress(5, "application/json"))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if len(corsAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   corsAllowedOrigins,
			AllowedMethods:   corsAllowedMethods,
			AllowedHeaders:   corsAllowedHeaders,
			ExposedHeaders:   []string{"X-Stream-Id", "X-Request-Id"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	r.Use(MetricsMiddleware)

	r.Post("/chat", func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeChatRequest(w, r, true)
		if !ok {
			return
		}
		lvl := requestLogLevel(r)
		start := time.Now()
		logStart(r, lvl, "chat", req)
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		resp, err := svc.Chat(ctx, req)
		if err != nil {
			if r.Context().Err() != nil {
				return
			}
			status := statusFor(err)
			logEnd(r, lvl, "chat", status, start, err)
			writeJSONError(w, status, err.Error())
			return
		}
		logEnd(r, lvl, "chat", http.StatusOK, start, nil)
		writeJSON(w, http.StatusOK, resp)
	})

	r.Post("/chat/stream", func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeChatRequest(w, r, true)
		if !ok {
			return
		}
		var flush func()
		if f, ok := w.(http.Flusher); ok {
			flush = f.Flush
		}
		lvl := requestLogLevel(r)
		start := time.Now()
		logStart(r, lvl, "stream", req)

		cw := &countingWriter{w: w}
		var out io.Writer = cw
		var lw *loggingLineWriter
		if lvl >= LevelDebug {
			lw = newLoggingLineWriter(requestLogger(r), "stream> ")
			out = io.MultiWriter(cw, lw)
		}
		onStart := func(id string) {
			h := w.Header()
			h.Set("Content-Type", "text/plain; charset=utf-8")
			h.Set("Cache-Control", "no-cache")
			h.Set("X-Stream-Id", id)
			h.Set("Trailer", chatErrorTrailer)
		}

		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		err := svc.ChatStream(ctx, req, out, flush, onStart)
		if lw != nil {
			_ = lw.Close()
		}
		if err != nil {
			status := statusFor(err)
			logEnd(r, lvl, "stream", status, start, err)
			if r.Context().Err() != nil {
				return
			}
			if cw.n == 0 {
				writeJSONError(w, status, err.Error())
				return
			}
			w.Header().Set(chatErrorTrailer, err.Error())
			return
		}
		logEnd(r, lvl, "stream", http.StatusOK, start, nil)
		if cw.n == 0 {
			w.WriteHeader(http.StatusOK)
		}
	})

	r.Post("/reset", func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeChatRequest(w, r, false)
		if !ok {
			return
		}
		resp, err := svc.Reset(r.Context(), req)
		if err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, resp)
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Status(r.Context()))
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("loading"))
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)
	return r
}

func requestLogger(r *http.Request) zerolog.Logger {
	l := zlog.With().Str("path", r.URL.Path)
	if rid := middleware.GetReqID(r.Context()); rid != "" {
		l = l.Str("request_id", rid)
	}
	return l.Logger()
}

func logStart(r *http.Request, lvl LogLevel, op string, req types.ChatRequest) {
	if lvl < LevelInfo {
		return
	}
	l := requestLogger(r)
	l.Info().Str("model", req.ModelID()).Bool("vector_memory", req.UseVectorMemory).Msg(op + " start")
}

func logEnd(r *http.Request, lvl LogLevel, op string, status int, start time.Time, err error) {
	if err == nil && lvl < LevelInfo {
		return
	}
	if err != nil && lvl < LevelError {
		return
	}
	l := requestLogger(r)
	ev := l.Info()
	if err != nil {
		ev = l.Warn().Err(err)
	}
	ev.Int("status", status).Dur("dur", time.Since(start)).Msg(op + " end")
}
