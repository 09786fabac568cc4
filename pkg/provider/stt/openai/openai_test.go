package openai_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/livescribe/pkg/provider/stt"
	"github.com/MrWong99/livescribe/pkg/provider/stt/openai"
)

const verboseBody = `{
  "task": "transcribe",
  "language": "english",
  "duration": 2.5,
  "text": "Hello there. General.",
  "segments": [
    {"id": 0, "start": 0.0, "end": 1.2, "text": " Hello there.", "avg_logprob": -0.2},
    {"id": 1, "start": 1.2, "end": 2.5, "text": " General.", "avg_logprob": 0}
  ]
}`

// newTestServer serves the transcription endpoint and captures form fields.
func newTestServer(t *testing.T, fields map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/audio/transcriptions") {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		for _, k := range []string{"model", "language", "response_format"} {
			fields[k] = r.FormValue(k)
		}
		if f, _, err := r.FormFile("file"); err == nil {
			data, _ := io.ReadAll(f)
			fields["file_prefix"] = string(data[:4])
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, verboseBody)
	}))
}

func TestNew_EmptyKey(t *testing.T) {
	t.Parallel()
	if _, err := openai.New(""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestRecognizer_ProcessBatch(t *testing.T) {
	t.Parallel()

	fields := map[string]string{}
	srv := newTestServer(t, fields)
	defer srv.Close()

	r, err := openai.New("sk-test", openai.WithBaseURL(srv.URL+"/v1/"), openai.WithTimeout(5*time.Second))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	if err := r.ProcessBatch(context.Background(), make([]byte, 3200), 0); !errors.Is(err, stt.ErrModelNotInitialized) {
		t.Fatalf("err before init = %v, want ErrModelNotInitialized", err)
	}
	if err := r.InitModel(context.Background(), stt.ModelSource{}, "en"); err != nil {
		t.Fatalf("InitModel: %v", err)
	}
	segs, cancel := r.Subscribe(4)
	defer cancel()

	if err := r.ProcessBatch(context.Background(), make([]byte, 32000), 30*time.Second); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}

	first, second := <-segs, <-segs
	if first.Start != 30*time.Second || first.End != 31200*time.Millisecond {
		t.Errorf("first = %v..%v, want 30s..31.2s", first.Start, first.End)
	}
	if first.Probability <= 0.8 || first.Probability >= 0.9 {
		t.Errorf("first probability = %v, want exp(-0.2)", first.Probability)
	}
	if second.Text != " General." || second.Probability != 0 {
		t.Errorf("second = %+v", second)
	}
	if first.Language != "english" {
		t.Errorf("language = %q", first.Language)
	}

	if fields["model"] != "whisper-1" || fields["language"] != "en" || fields["response_format"] != "verbose_json" {
		t.Errorf("form fields = %v", fields)
	}
	if fields["file_prefix"] != "RIFF" {
		t.Errorf("uploaded file does not start with RIFF: %q", fields["file_prefix"])
	}
}

func TestRecognizer_InitModelRejectsBytes(t *testing.T) {
	t.Parallel()

	r, _ := openai.New("sk-test")
	if err := r.InitModel(context.Background(), stt.ModelSource{Bytes: []byte{1}}, "en"); err == nil {
		t.Error("expected error for model bytes")
	}
}
