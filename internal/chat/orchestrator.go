package chat

import (
	"context"
	"time"

	"chatd/internal/instance"
	"chatd/internal/llm"
	"chatd/internal/memory"
	"chatd/internal/prompt"
)

// Converse runs one turn: recall history, format the messages, invoke the
// handle and save the exchange. With onToken set the backend streams and
// onToken sees every token in order before Converse returns.
func Converse(ctx context.Context, h *instance.Handle, tpl *prompt.Template, mem memory.Memory, input string, onToken llm.TokenFunc) (string, error) {
	modelID := h.ModelID()
	hist, err := mem.Recall(ctx, input)
	if err != nil {
		return "", ErrMemoryAccess(modelID, "recall", err)
	}
	msgs := tpl.Format(hist, input)

	mode := "blocking"
	if onToken != nil {
		mode = "stream"
	}
	start := time.Now()
	res, err := h.Invoke(ctx, msgs, onToken)
	invokeDuration.WithLabelValues(modelID, mode).Observe(time.Since(start).Seconds())
	if err != nil {
		return "", ErrModelInvocation(modelID, err)
	}

	if err := mem.Save(ctx, input, res.Content); err != nil {
		return "", ErrMemoryAccess(modelID, "save", err)
	}
	return res.Content, nil
}
