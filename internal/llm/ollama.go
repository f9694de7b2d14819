package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultOllamaURL is used when no base URL is configured.
const DefaultOllamaURL = "http://127.0.0.1:11434"

// OllamaBackend implements Backend against a local Ollama server (/api/chat).
type OllamaBackend struct {
	baseURL        string
	reqTimeout     time.Duration
	connectTimeout time.Duration
	httpClient     *http.Client
	log            zerolog.Logger
}

// NewOllamaBackend constructs a server-backed backend. reqTimeout of zero
// leaves requests bounded only by the caller's context.
func NewOllamaBackend(baseURL string, reqTimeout, connectTimeout time.Duration, log zerolog.Logger) *OllamaBackend {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultOllamaURL
	}
	if connectTimeout <= 0 {
		connectTimeout = 5 * time.Second
	}
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	// Timeout=0: streaming responses are bounded by context only.
	cli := &http.Client{Transport: tr, Timeout: 0}
	return &OllamaBackend{
		baseURL:        strings.TrimRight(baseURL, "/"),
		reqTimeout:     reqTimeout,
		connectTimeout: connectTimeout,
		httpClient:     cli,
		log:            log.With().Str("backend", "ollama").Logger(),
	}
}

func (b *OllamaBackend) Name() string { return "ollama" }

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	TopK        int     `json:"top_k,omitempty"`
	TopP        float64 `json:"top_p,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatRequest struct {
	Model    string        `json:"model"`
	Messages []Message     `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  ollamaOptions `json:"options"`
}

// ollamaChatChunk is one NDJSON line of a streamed reply, or the whole reply
// when stream=false.
type ollamaChatChunk struct {
	Message         Message `json:"message"`
	Done            bool    `json:"done"`
	DoneReason      string  `json:"done_reason,omitempty"`
	PromptEvalCount int     `json:"prompt_eval_count,omitempty"`
	EvalCount       int     `json:"eval_count,omitempty"`
	Error           string  `json:"error,omitempty"`
}

func (b *OllamaBackend) Chat(ctx context.Context, req Request, onToken TokenFunc) (Result, error) {
	if b.httpClient == nil {
		return Result{}, errors.New("ollama backend not initialized")
	}
	if b.reqTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.reqTimeout)
		defer cancel()
	}
	payload := ollamaChatRequest{
		Model:    req.Model,
		Messages: req.Messages,
		Stream:   onToken != nil,
		Options: ollamaOptions{
			Temperature: req.Options.Temperature,
			TopK:        req.Options.TopK,
			TopP:        req.Options.TopP,
			NumPredict:  req.Options.MaxTokens,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, err
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	hreq.Header.Set("Content-Type", "application/json")
	resp, err := b.httpClient.Do(hreq)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Result{}, &StatusError{Backend: "ollama", Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if onToken == nil {
		var chunk ollamaChatChunk
		if err := json.NewDecoder(resp.Body).Decode(&chunk); err != nil {
			return Result{}, err
		}
		if chunk.Error != "" {
			return Result{}, errors.New("ollama: " + chunk.Error)
		}
		if !chunk.Done {
			return Result{}, fmt.Errorf("ollama: reply not marked done: %w", io.ErrUnexpectedEOF)
		}
		return chunk.result(chunk.Message.Content), nil
	}
	return b.readStream(ctx, resp.Body, onToken)
}

// readStream parses NDJSON chunks and forwards each non-empty fragment.
func (b *OllamaBackend) readStream(ctx context.Context, r io.Reader, onToken TokenFunc) (Result, error) {
	br := bufio.NewReader(r)
	var sb strings.Builder
	for {
		line, err := br.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			var chunk ollamaChatChunk
			if jerr := json.Unmarshal(line, &chunk); jerr != nil {
				b.log.Warn().Str("event", "unknown_stream_line").Bytes("line", bytes.TrimSpace(line)).Msg("skipping")
			} else {
				if chunk.Error != "" {
					return Result{Content: sb.String()}, errors.New("ollama: " + chunk.Error)
				}
				if frag := chunk.Message.Content; frag != "" {
					sb.WriteString(frag)
					if cbErr := onToken(frag); cbErr != nil {
						return Result{Content: sb.String()}, cbErr
					}
				}
				if chunk.Done {
					return chunk.result(sb.String()), nil
				}
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return Result{Content: sb.String()}, ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				// The reply ended without its done chunk.
				return Result{Content: sb.String()}, fmt.Errorf("ollama: stream ended before done: %w", io.ErrUnexpectedEOF)
			}
			return Result{Content: sb.String()}, err
		}
	}
}

func (c ollamaChatChunk) result(content string) Result {
	return Result{
		Content:      content,
		FinishReason: c.DoneReason,
		Usage:        Usage{PromptTokens: c.PromptEvalCount, CompletionTokens: c.EvalCount},
	}
}
