package assistant

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/trace"

	"askuni/internal/domain"
	"askuni/internal/infra/tracer"
)

// Assistants streaming event names.
const (
	evMessageDelta  = "thread.message.delta"
	evRunCompleted  = "thread.run.completed"
	evRunFailed     = "thread.run.failed"
	evRunCancelled  = "thread.run.cancelled"
	evRunExpired    = "thread.run.expired"
	evRunIncomplete = "thread.run.incomplete"
	evRunAction     = "thread.run.requires_action"
	evError         = "error"
	evDone          = "done"
)

const maxSSELine = 1 << 20

type streamRunRequest struct {
	openai.RunRequest
	Stream bool `json:"stream"`
}

type messageDelta struct {
	Delta struct {
		Content []struct {
			Type string `json:"type"`
			Text *struct {
				Value string `json:"value"`
			} `json:"text"`
		} `json:"content"`
	} `json:"delta"`
}

// StreamGenerate appends prompt and starts a streaming run. The channel
// carries text deltas and ends with exactly one Done or Err delta unless ctx
// is cancelled first.
func (a *OpenAIAssistant) StreamGenerate(ctx context.Context, threadID, prompt string) (<-chan domain.GenerationDelta, error) {
	ctx, span := tracer.StartSpan(ctx, "assistant.stream",
		trace.WithAttributes(
			tracer.Attr("assistant.provider", a.Name()),
			tracer.Attr("assistant.thread", threadID),
		),
	)

	if err := a.addUserMessage(ctx, threadID, prompt); err != nil {
		tracer.RecordError(span, err)
		span.End()
		return nil, err
	}

	body, err := json.Marshal(streamRunRequest{RunRequest: a.runRequest(), Stream: true})
	if err != nil {
		span.End()
		return nil, fmt.Errorf("marshal run request: %w", err)
	}
	headers := map[string]string{
		"Authorization": "Bearer " + a.cfg.APIKey,
		"OpenAI-Beta":   "assistants=v2",
	}
	resp, err := doStreamRequest(ctx, a.httpClient, a.baseURL+"/threads/"+threadID+"/runs", body, headers)
	if err != nil {
		tracer.RecordError(span, err)
		span.End()
		return nil, err
	}

	ch := make(chan domain.GenerationDelta, 16)
	go func() {
		defer span.End()
		defer close(ch)
		defer resp.Body.Close()
		if err := pumpRunEvents(ctx, resp.Body, ch); err != nil {
			tracer.RecordError(span, err)
			return
		}
		tracer.SetOK(span)
	}()
	return ch, nil
}

// pumpRunEvents reads an Assistants event stream and forwards it as
// generation deltas. It returns the error it delivered, if any.
func pumpRunEvents(ctx context.Context, body io.Reader, ch chan<- domain.GenerationDelta) error {
	send := func(d domain.GenerationDelta) bool {
		select {
		case ch <- d:
			return true
		case <-ctx.Done():
			return false
		}
	}
	fail := func(err error) error {
		send(domain.GenerationDelta{Err: err})
		return err
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSSELine)

	var event string
	var data bytes.Buffer
	dispatch := func() (done bool, err error) {
		defer func() { event = ""; data.Reset() }()
		switch event {
		case evMessageDelta:
			var md messageDelta
			if json.Unmarshal(data.Bytes(), &md) != nil {
				return false, nil
			}
			for _, c := range md.Delta.Content {
				if c.Type == "text" && c.Text != nil && c.Text.Value != "" {
					if !send(domain.GenerationDelta{Text: c.Text.Value}) {
						return true, ctx.Err()
					}
				}
			}
		case evRunCompleted:
			send(domain.GenerationDelta{Done: true})
			return true, nil
		case evRunFailed, evRunCancelled, evRunExpired, evRunIncomplete, evRunAction:
			var run openai.Run
			_ = json.Unmarshal(data.Bytes(), &run)
			if run.Status == "" {
				run.Status = openai.RunStatus(event[len("thread.run."):])
			}
			return true, fail(runFailure(run))
		case evError:
			return true, fail(mapHTTPError(0, streamErrorMessage(data.Bytes())))
		case evDone:
			return true, fail(domain.NewDomainError("OpenAI.Stream", domain.ErrProviderError, "stream ended before the run completed"))
		}
		return false, nil
	}

	for scanner.Scan() {
		line := scanner.Bytes()
		switch {
		case len(line) == 0:
			if event == "" && data.Len() == 0 {
				continue
			}
			if done, err := dispatch(); done {
				return err
			}
		case line[0] == ':':
		case bytes.HasPrefix(line, []byte("event:")):
			event = string(bytes.TrimSpace(line[len("event:"):]))
		case bytes.HasPrefix(line, []byte("data:")):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.Write(bytes.TrimPrefix(line[len("data:"):], []byte(" ")))
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if event != "" || data.Len() > 0 {
		if done, err := dispatch(); done {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fail(domain.NewDomainError("OpenAI.Stream", domain.ErrUnavailable, err.Error()))
	}
	return fail(domain.NewDomainError("OpenAI.Stream", domain.ErrProviderError, "stream closed before the run completed"))
}

// streamErrorMessage reads the message of an error event, which is either
// an error object or an envelope around one.
func streamErrorMessage(data []byte) string {
	var obj struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &obj) == nil && obj.Message != "" {
		return obj.Message
	}
	if msg := apiMessage(data); msg != "" {
		return msg
	}
	return "Stream error"
}
