package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"askuni/internal/domain"
)

func TestTranscribe(t *testing.T) {
	var gotModel, gotFile string
	var gotBytes []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			http.NotFound(w, r)
			return
		}
		gotModel = r.FormValue("model")
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			return
		}
		gotFile = hdr.Filename
		gotBytes, _ = io.ReadAll(f)
		fmt.Fprint(w, `{"text":"  ما هو موعد الامتحان؟ "}`)
	}))
	defer srv.Close()

	tr := New("sk-test", srv.URL, "", slog.New(slog.DiscardHandler))
	text, err := tr.Transcribe(context.Background(), "", []byte("webm-bytes"))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "ما هو موعد الامتحان؟" {
		t.Errorf("text = %q", text)
	}
	if gotModel != defaultModel {
		t.Errorf("model = %q", gotModel)
	}
	if gotFile != "speech.webm" || string(gotBytes) != "webm-bytes" {
		t.Errorf("file = %q %q", gotFile, gotBytes)
	}
}

func TestTranscribeErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"Invalid file format.","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()
	tr := New("sk-test", srv.URL, "whisper-1", slog.New(slog.DiscardHandler))

	if _, err := tr.Transcribe(context.Background(), "a.webm", nil); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("empty audio: err = %v", err)
	}

	_, err := tr.Transcribe(context.Background(), "a.webm", []byte("x"))
	var de *domain.DomainError
	if !errors.As(err, &de) || !errors.Is(err, domain.ErrProviderError) || de.Detail != "Invalid file format." {
		t.Errorf("api error: err = %v", err)
	}
}
