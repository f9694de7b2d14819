package chat

import (
	"context"
	"io"
	"math"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"chatd/internal/instance"
	"chatd/internal/llm"
	"chatd/internal/memory"
	"chatd/internal/prompt"
	"chatd/internal/stream"
	"chatd/pkg/types"
)

// Options configures a Service.
type Options struct {
	Registry  *instance.Registry
	Templates *prompt.Cache
	Memory    *memory.Loader

	Publisher EventPublisher
	Logger    zerolog.Logger

	// SerializePerModel enables the per-model admission gate.
	SerializePerModel bool
	MaxQueueDepth     int
	MaxWait           time.Duration

	// RequestTimeout bounds a whole turn when positive.
	RequestTimeout time.Duration
	// StreamBuffer is the token channel capacity of streaming sessions.
	StreamBuffer int
}

// Service executes chat turns against the shared registry, template cache
// and memory loader.
type Service struct {
	registry  *instance.Registry
	templates *prompt.Cache
	memory    *memory.Loader
	publisher EventPublisher
	log       zerolog.Logger
	adm       *admission

	requestTimeout time.Duration
	streamBuffer   int

	started time.Time
	ready   atomic.Bool
}

func NewService(o Options) *Service {
	s := &Service{
		registry:       o.Registry,
		templates:      o.Templates,
		memory:         o.Memory,
		publisher:      o.Publisher,
		log:            o.Logger.With().Str("component", "chat").Logger(),
		requestTimeout: o.RequestTimeout,
		streamBuffer:   o.StreamBuffer,
		started:        time.Now(),
	}
	if s.publisher == nil {
		s.publisher = noopPublisher{}
	}
	if o.SerializePerModel {
		s.adm = newAdmission(o.MaxQueueDepth, o.MaxWait)
	}
	s.registry.OnCreate(func(n int) { registrySize.Set(float64(n)) })
	s.templates.OnBuild(func() { templateBuilds.Inc() })
	return s
}

// Preload creates registry handles for ids and marks the service ready.
func (s *Service) Preload(ids []string, temperature float64) {
	s.registry.Preload(ids, temperature)
	s.publisher.Publish(Event{Name: "preload_done", Fields: map[string]any{"models": ids, "temperature": temperature}})
	s.ready.Store(true)
}

// Ready reports whether startup preloading has finished.
func (s *Service) Ready() bool { return s.ready.Load() }

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.requestTimeout > 0 {
		return context.WithTimeout(ctx, s.requestTimeout)
	}
	return context.WithCancel(ctx)
}

func (s *Service) admit(ctx context.Context, modelID string) (func(), error) {
	release, err := s.adm.begin(ctx, modelID)
	if err != nil && IsTooBusy(err) {
		admissionRejected.WithLabelValues(modelID).Inc()
		s.publisher.Publish(Event{Name: "admission_rejected", ModelID: modelID, Fields: map[string]any{"error": err.Error()}})
	}
	return release, err
}

// Chat runs one blocking turn through the cached handle for the requested model.
func (s *Service) Chat(ctx context.Context, req types.ChatRequest) (types.ChatResponse, error) {
	start := time.Now()
	modelID := req.ModelID()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	release, err := s.admit(ctx, modelID)
	if err != nil {
		return types.ChatResponse{}, err
	}
	defer release()

	mem, err := s.memory.Load(ctx, modelID, req.UseVectorMemory)
	if err != nil {
		turnsTotal.WithLabelValues(modelID, "blocking", "error").Inc()
		return types.ChatResponse{}, ErrMemoryAccess(modelID, "load", err)
	}
	tpl := s.templates.GetOrBuild(modelID)
	h := s.registry.GetOrCreate(modelID, req.TemperatureOrDefault())

	text, err := Converse(ctx, h, tpl, mem, req.UserInput, nil)
	if err != nil {
		turnsTotal.WithLabelValues(modelID, "blocking", "error").Inc()
		s.publisher.Publish(Event{Name: "turn_failed", ModelID: modelID, Fields: map[string]any{"error": err.Error()}})
		return types.ChatResponse{}, err
	}
	elapsed := roundSeconds(time.Since(start))
	turnsTotal.WithLabelValues(modelID, "blocking", "ok").Inc()
	s.publisher.Publish(Event{Name: "turn_done", ModelID: modelID, Fields: map[string]any{
		"elapsed_s": elapsed, "vector_memory": req.UseVectorMemory, "chars": len(text),
	}})
	return types.ChatResponse{Response: text, ElapsedTime: elapsed}, nil
}

// ChatStream runs one turn on a dedicated streaming handle, writing tokens
// to w as they are produced and calling flush after each. onStart receives
// the stream id once the turn is set up, before the first token is written.
// The call returns after the exchange has been saved.
func (s *Service) ChatStream(ctx context.Context, req types.ChatRequest, w io.Writer, flush func(), onStart func(streamID string)) error {
	modelID := req.ModelID()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	release, err := s.admit(ctx, modelID)
	if err != nil {
		return err
	}
	defer release()

	mem, err := s.memory.Load(ctx, modelID, req.UseVectorMemory)
	if err != nil {
		turnsTotal.WithLabelValues(modelID, "stream", "error").Inc()
		return ErrMemoryAccess(modelID, "load", err)
	}
	tpl := s.templates.GetOrBuild(modelID)
	h := s.registry.NewDedicated(modelID, req.TemperatureOrDefault())

	sess := stream.NewSession(s.streamBuffer)
	if onStart != nil {
		onStart(sess.ID())
	}
	s.publisher.Publish(Event{Name: "stream_start", ModelID: modelID, Fields: map[string]any{"stream_id": sess.ID()}})

	err = sess.Run(ctx, w, flush, func(ctx context.Context, emit llm.TokenFunc) error {
		_, err := Converse(ctx, h, tpl, mem, req.UserInput, emit)
		return err
	})
	tokensStreamed.WithLabelValues(modelID).Add(float64(sess.Relayed()))
	fields := map[string]any{"stream_id": sess.ID(), "tokens": sess.Relayed(), "state": sess.State().String()}
	if err != nil {
		fields["error"] = err.Error()
		turnsTotal.WithLabelValues(modelID, "stream", "error").Inc()
		s.publisher.Publish(Event{Name: "stream_failed", ModelID: modelID, Fields: fields})
		return err
	}
	turnsTotal.WithLabelValues(modelID, "stream", "ok").Inc()
	s.publisher.Publish(Event{Name: "stream_done", ModelID: modelID, Fields: fields})
	return nil
}

// Reset clears the persisted log for the requested model.
func (s *Service) Reset(ctx context.Context, req types.ChatRequest) (types.ResetResponse, error) {
	modelID := req.ModelID()
	if err := s.memory.Reset(ctx, modelID); err != nil {
		return types.ResetResponse{}, ErrMemoryAccess(modelID, "reset", err)
	}
	s.publisher.Publish(Event{Name: "reset", ModelID: modelID, Fields: map[string]any{}})
	return types.ResetResponse{Status: "ok", Message: "Conversation reset for model " + modelID}, nil
}

// Status reports cached handles and templates.
func (s *Service) Status(context.Context) types.StatusResponse {
	now := time.Now()
	return types.StatusResponse{
		Handles:        s.registry.Snapshot(),
		Templates:      s.templates.IDs(),
		Backend:        s.registry.Backend().Name(),
		Ready:          s.Ready(),
		UptimeSeconds:  int64(now.Sub(s.started).Seconds()),
		ServerTimeUnix: now.Unix(),
	}
}

func roundSeconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*100) / 100
}
