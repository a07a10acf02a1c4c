package chatsdk

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"askuni/pkg/eventstream"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const noInfo = "**Answer**\n\nI don't have this information in my knowledge base.\n\n**Next Steps**\n- Please check SIS/UCS or upload the official document.\n- Make sure the information you're looking for is in the uploaded course materials."

type fakeServer struct {
	stream        http.HandlerFunc
	blockingCalls atomic.Int32
	streamCalls   atomic.Int32
	lastBody      atomic.Value // map[string]any
}

func (f *fakeServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /message/stream", func(w http.ResponseWriter, r *http.Request) {
		f.streamCalls.Add(1)
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.lastBody.Store(body)
		f.stream(w, r)
	})
	mux.HandleFunc("POST /message", func(w http.ResponseWriter, r *http.Request) {
		f.blockingCalls.Add(1)
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.lastBody.Store(body)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "message": "Blocking answer.", "sessionId": "SB1"})
	})
	return mux
}

func streamFrames(t *testing.T, parts ...[2]any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fl := w.(http.Flusher)
		for _, p := range parts {
			if err := eventstream.Write(w, p[0].(string), p[1]); err != nil {
				t.Errorf("write frame: %v", err)
				return
			}
			fl.Flush()
		}
	}
}

func newTestCoordinator(t *testing.T, f *fakeServer, rec *recorder, opts ...CoordinatorOption) *Coordinator {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	client := New(srv.URL, WithLogger(testLogger()))
	return NewCoordinator(client, rec, opts...)
}

func countStreaming(snaps []Snapshot) int {
	n := 0
	for _, s := range snaps {
		if s.State == StateStreaming {
			n++
		}
	}
	return n
}

func TestEndToEndStream(t *testing.T) {
	f := &fakeServer{stream: streamFrames(t,
		delta("The "), delta("room "), delta("is "), delta("B101."),
		final("The room is B101.", "S123"),
	)}
	rec := &recorder{}
	var settled Result
	co := newTestCoordinator(t, f, rec, OnSettled(func(r Result) { settled = r }))

	res, err := co.Send(context.Background(), "What room is ITCS285 in?")
	require.NoError(t, err)

	assert.Equal(t, "The room is B101.", res.Text)
	assert.Equal(t, "S123", res.SessionID)
	assert.False(t, res.Fallback)
	assert.Equal(t, "S123", co.SessionID())
	assert.Equal(t, res, settled)
	assert.Equal(t, "The room is B101.", rec.last().Text)
	assert.Equal(t, "The room is B101.", co.LastConsumer().Accumulated())

	body := f.lastBody.Load().(map[string]any)
	assert.Equal(t, "What room is ITCS285 in?", body["message"])
	assert.Equal(t, []any{}, body["attachments"])
	v, present := body["sessionId"]
	assert.True(t, present)
	assert.Nil(t, v)
	assert.Zero(t, f.blockingCalls.Load())
}

func TestEndToEndGroundingOverride(t *testing.T) {
	f := &fakeServer{stream: streamFrames(t,
		delta("The final exam "), delta("is on "), delta("Sunday in S40."),
		final(noInfo, "S7"),
	)}
	rec := &recorder{}
	co := newTestCoordinator(t, f, rec)

	res, err := co.Send(context.Background(), "When is the ITCS285 final?")
	require.NoError(t, err)
	assert.Equal(t, noInfo, res.Text)
	assert.Equal(t, noInfo, rec.last().Text)
	assert.Equal(t, "The final exam is on Sunday in S40.", co.LastConsumer().Accumulated())
}

func TestFallbackExclusivityOn500(t *testing.T) {
	f := &fakeServer{stream: func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}}
	rec := &recorder{}
	co := newTestCoordinator(t, f, rec)
	co.Attach(Attachment{Filename: "syllabus.pdf", Text: "ITCS285 syllabus"})

	res, err := co.Send(context.Background(), "hi")
	require.NoError(t, err)

	assert.EqualValues(t, 1, f.streamCalls.Load())
	assert.EqualValues(t, 1, f.blockingCalls.Load())
	assert.Zero(t, countStreaming(rec.all()), "no delta may be processed")
	assert.Nil(t, co.LastConsumer())

	assert.Equal(t, Result{Text: "Blocking answer.", SessionID: "SB1", Fallback: true}, res)
	assert.Equal(t, "SB1", co.SessionID())
	assert.Empty(t, co.Pending(), "attachments cleared on success")

	// Same payload on the fallback path.
	body := f.lastBody.Load().(map[string]any)
	atts := body["attachments"].([]any)
	require.Len(t, atts, 1)
	assert.Equal(t, "syllabus.pdf", atts[0].(map[string]any)["filename"])
}

func TestFallbackOnEmptyBody(t *testing.T) {
	f := &fakeServer{stream: func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}}
	co := newTestCoordinator(t, f, &recorder{})

	res, err := co.Send(context.Background(), "hi")
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.EqualValues(t, 1, f.blockingCalls.Load())
}

func TestMidStreamAbortDoesNotRetry(t *testing.T) {
	f := &fakeServer{stream: streamFrames(t, delta("The room "))}
	rec := &recorder{}
	co := newTestCoordinator(t, f, rec)
	co.Resume("S55")
	co.Attach(Attachment{Text: "notes"})

	res, err := co.Send(context.Background(), "What room?")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStreamAborted))

	assert.Zero(t, f.blockingCalls.Load())
	assert.Equal(t, StateAborted, co.LastConsumer().State())
	assert.Equal(t, "The room \n\n[stream aborted: connection closed before final frame]", res.Text)
	assert.Equal(t, "S55", co.SessionID())
	assert.Len(t, co.Pending(), 1, "attachments kept after abort")

	body := f.lastBody.Load().(map[string]any)
	assert.Equal(t, "S55", body["sessionId"])
}

func TestErrorFrameDoesNotRetry(t *testing.T) {
	f := &fakeServer{stream: streamFrames(t,
		[2]any{"error", map[string]string{"error": "Assistant run failed"}},
	)}
	co := newTestCoordinator(t, f, &recorder{})

	_, err := co.Send(context.Background(), "x")
	var abort *AbortError
	require.ErrorAs(t, err, &abort)
	assert.Equal(t, "Assistant run failed", abort.Reason)
	assert.Zero(t, f.blockingCalls.Load())
}

type failStreamTransport struct {
	next http.RoundTripper
}

func (tr failStreamTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if r.URL.Path == streamPath {
		return nil, errors.New("connection refused")
	}
	return tr.next.RoundTrip(r)
}

func TestFallbackOnTransportError(t *testing.T) {
	f := &fakeServer{stream: streamFrames(t)}
	srv := httptest.NewServer(f.handler())
	defer srv.Close()

	client := New(srv.URL,
		WithLogger(testLogger()),
		WithHTTPClient(&http.Client{Transport: failStreamTransport{next: http.DefaultTransport}}),
	)
	co := NewCoordinator(client, nil)

	res, err := co.Send(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "Blocking answer.", res.Text)
	assert.EqualValues(t, 1, f.blockingCalls.Load())
}

func TestFallbackFailureSurfaces(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /message/stream", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	mux.HandleFunc("POST /message", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"ok":false,"error":"Assistant offline"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	co := NewCoordinator(New(srv.URL, WithLogger(testLogger())), nil)
	co.Attach(Attachment{Text: "keep me"})

	_, err := co.Send(context.Background(), "hi")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
	assert.Equal(t, "Assistant offline", apiErr.Message)
	assert.Len(t, co.Pending(), 1)
}

func TestNewChatResetsContext(t *testing.T) {
	co := NewCoordinator(New("http://unused"), nil, WithSession("S1"))
	co.Attach(Attachment{Text: "x"})
	assert.Equal(t, "S1", co.SessionID())

	co.NewChat()
	assert.Empty(t, co.SessionID())
	assert.Empty(t, co.Pending())
}

func TestUnauthorizedStreamFallsBackOnce(t *testing.T) {
	var blocking atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /message/stream", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	mux.HandleFunc("POST /message", func(w http.ResponseWriter, r *http.Request) {
		blocking.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"ok":false,"error":"Unauthorized"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	co := NewCoordinator(New(srv.URL, WithLogger(testLogger())), nil)
	_, err := co.Send(context.Background(), "hi")

	assert.EqualValues(t, 1, blocking.Load())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
}
