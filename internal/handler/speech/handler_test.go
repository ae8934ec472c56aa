package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	speechmodel "github.com/echotalk/backend/internal/model/speech"
	"github.com/echotalk/backend/internal/store"
)

type fakeSpeechService struct {
	transcribeSession string
	transcribeFormat  string
	synthSession      string
	synthText         string
	asrText           string
	audio             []byte
}

func (f *fakeSpeechService) TranscribeAudio(_ context.Context, req *speechmodel.ASRRequest) (*speechmodel.ASRResponse, error) {
	f.transcribeSession = req.SessionID
	f.transcribeFormat = req.Format
	return &speechmodel.ASRResponse{SessionID: req.SessionID, Text: f.asrText}, nil
}

func (f *fakeSpeechService) SynthesizeSpeech(_ context.Context, req *speechmodel.TTSRequest) (*speechmodel.TTSResponse, error) {
	f.synthSession = req.SessionID
	f.synthText = req.Text
	return &speechmodel.TTSResponse{SessionID: req.SessionID, AudioData: f.audio, Format: "mp3"}, nil
}

func multipartAudio(t *testing.T, filename string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("audio", filename)
	if err != nil {
		t.Fatalf("CreateFormFile err: %v", err)
	}
	if _, err := part.Write([]byte("audio-bytes")); err != nil {
		t.Fatalf("write audio err: %v", err)
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			t.Fatalf("WriteField err: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("writer.Close err: %v", err)
	}
	return body, writer.FormDataContentType()
}

func TestTranscribeWithSessionOverride(t *testing.T) {
	fakeSvc := &fakeSpeechService{asrText: "今天天气很好"}
	r := chi.NewRouter()
	New(fakeSvc, nil).RegisterRoutes(r)

	body, contentType := multipartAudio(t, "sample.wav", nil)
	req := httptest.NewRequest(http.MethodPost, "/speech/transcribe/42", body)
	req.Header.Set("Content-Type", contentType)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rr.Code, rr.Body.String())
	}
	if fakeSvc.transcribeSession != "42" {
		t.Fatalf("expected override session, got %s", fakeSvc.transcribeSession)
	}

	var resp speechmodel.ASRResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Text != "今天天气很好" {
		t.Fatalf("unexpected text %q", resp.Text)
	}
}

func TestTranscribeInfersFormatFromFilename(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"voice.mp3", "mp3"},
		{"voice.PCM", "pcm"},
		{"voice.webm", "webm"},
		{"voice", "wav"},
	}

	for _, tt := range tests {
		fakeSvc := &fakeSpeechService{asrText: "ok"}
		r := chi.NewRouter()
		New(fakeSvc, nil).RegisterRoutes(r)

		body, contentType := multipartAudio(t, tt.filename, nil)
		req := httptest.NewRequest(http.MethodPost, "/speech/transcribe", body)
		req.Header.Set("Content-Type", contentType)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("%s: unexpected status %d", tt.filename, rr.Code)
		}
		if fakeSvc.transcribeFormat != tt.want {
			t.Errorf("%s: format = %q, want %q", tt.filename, fakeSvc.transcribeFormat, tt.want)
		}
	}
}

func TestTranscribeRequiresAudio(t *testing.T) {
	r := chi.NewRouter()
	New(&fakeSpeechService{}, nil).RegisterRoutes(r)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	_ = writer.WriteField("sessionId", "1")
	_ = writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/speech/transcribe", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestTranscribePersistsTurnForKnownUser(t *testing.T) {
	mem := store.NewMemoryStore()
	if _, err := mem.CreateUser(context.Background(), "wx-123", "王奶奶"); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	fakeSvc := &fakeSpeechService{asrText: "我想讲讲年轻时的事"}
	r := chi.NewRouter()
	New(fakeSvc, mem).RegisterRoutes(r)

	body, contentType := multipartAudio(t, "sample.wav", map[string]string{"open_id": "wx-123"})
	req := httptest.NewRequest(http.MethodPost, "/speech/transcribe/7", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rr.Code)
	}

	turns, _ := mem.Transcript(context.Background(), 7)
	if len(turns) != 1 || turns[0].Content != "我想讲讲年轻时的事" {
		t.Fatalf("transcript not persisted: %+v", turns)
	}
}

func TestSynthesizeReturnsAudioBytes(t *testing.T) {
	fakeSvc := &fakeSpeechService{audio: []byte("mp3-bytes")}
	r := chi.NewRouter()
	New(fakeSvc, nil).RegisterRoutes(r)

	payload := bytes.NewBufferString(`{"text":"您好呀"}`)
	req := httptest.NewRequest(http.MethodPost, "/speech/synthesize/42", payload)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rr.Code, rr.Body.String())
	}
	if fakeSvc.synthSession != "42" {
		t.Fatalf("expected override session, got %s", fakeSvc.synthSession)
	}
	if fakeSvc.synthText != "您好呀" {
		t.Fatalf("unexpected text %q", fakeSvc.synthText)
	}
	if got := rr.Header().Get("Content-Type"); got != "audio/mp3" {
		t.Fatalf("unexpected content type %q", got)
	}
	if !bytes.Equal(rr.Body.Bytes(), []byte("mp3-bytes")) {
		t.Fatal("audio payload mismatch")
	}
}

func TestSynthesizeRequiresText(t *testing.T) {
	r := chi.NewRouter()
	New(&fakeSpeechService{}, nil).RegisterRoutes(r)

	payload := bytes.NewBufferString(`{"text":"   "}`)
	req := httptest.NewRequest(http.MethodPost, "/speech/synthesize", payload)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestSpeechHealth(t *testing.T) {
	r := chi.NewRouter()
	New(&fakeSpeechService{}, nil).RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodGet, "/speech/health", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rr.Code)
	}
	var resp map[string]string
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp["status"] != "healthy" {
		t.Fatalf("unexpected health payload %+v", resp)
	}
}
