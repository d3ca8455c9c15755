package speech

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/acme/softdialer/internal/config"
)

type staticAudio map[string][]byte

func (s staticAudio) FetchRecording(_ context.Context, id string) ([]byte, error) {
	return s[id], nil
}

func newTranscriber(t *testing.T, handler http.HandlerFunc, audio staticAudio) *GoogleTranscriber {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewGoogleTranscriber(config.SpeechConfig{
		Endpoint:     srv.URL + "/v1/speech:recognize",
		APIKey:       "k",
		LanguageCode: "en-US",
		SampleRateHz: 8000,
	}, audio, srv.Client())
}

func TestTranscribe(t *testing.T) {
	g := newTranscriber(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "k" {
			t.Errorf("missing api key")
		}
		var req recognizeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Config.Encoding != "LINEAR16" || req.Config.SampleRateHertz != 8000 {
			t.Errorf("unexpected config %+v", req.Config)
		}
		if raw, _ := base64.StdEncoding.DecodeString(req.Audio.Content); string(raw) != "pcm" {
			t.Errorf("unexpected audio %q", raw)
		}
		_, _ = w.Write([]byte(`{"results":[{"alternatives":[{"transcript":"hello there"}]},{"alternatives":[{"transcript":"how are you"}]}]}`))
	}, staticAudio{"RE1": []byte("pcm")})

	text, err := g.Transcribe(context.Background(), "RE1")
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if text != "hello there how are you" {
		t.Fatalf("text = %q", text)
	}
}

func TestTranscribeNoResults(t *testing.T) {
	g := newTranscriber(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}, staticAudio{"RE1": []byte("pcm")})

	text, err := g.Transcribe(context.Background(), "RE1")
	if err != nil || text != NoSpeech {
		t.Fatalf("expected %q, got %q err=%v", NoSpeech, text, err)
	}
}

func TestTranscribeAPIError(t *testing.T) {
	g := newTranscriber(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"API key not valid"}}`))
	}, staticAudio{"RE1": []byte("pcm")})

	if _, err := g.Transcribe(context.Background(), "RE1"); err == nil {
		t.Fatalf("expected error")
	}
}
