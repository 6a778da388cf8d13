package builtin

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openguenther/guenther/internal/tools"
)

func TestTextToSpeech(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("xi-api-key") != "sk_test" {
			t.Errorf("api key header = %q", r.Header.Get("xi-api-key"))
		}
		if !strings.HasPrefix(r.URL.Path, "/v1/text-to-speech/") {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte("MP3DATA"))
	}))
	defer srv.Close()

	old := elevenLabsBaseURL
	elevenLabsBaseURL = srv.URL
	defer func() { elevenLabsBaseURL = old }()

	hc := &tools.Context{ToolSettings: map[string]string{"api_key": "sk_test"}}
	record := callTool(t, "text_to_speech", hc, map[string]any{"text": "Hallo Welt"})

	if record["mime_type"] != "audio/mpeg" {
		t.Fatalf("record = %+v", record)
	}
	audio, err := base64.StdEncoding.DecodeString(record["audio_base64"].(string))
	if err != nil || string(audio) != "MP3DATA" {
		t.Fatalf("audio = %q, err = %v", audio, err)
	}
}

func TestTextToSpeechWithoutKey(t *testing.T) {
	hc := &tools.Context{}
	record := callTool(t, "text_to_speech", hc, map[string]any{"text": "Hallo"})
	errMsg, _ := record["error"].(string)
	if !strings.Contains(errMsg, "Kein ElevenLabs API Key konfiguriert") {
		t.Fatalf("record = %+v", record)
	}
}

func TestTextToSpeechAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"detail":"invalid key"}`))
	}))
	defer srv.Close()

	old := elevenLabsBaseURL
	elevenLabsBaseURL = srv.URL
	defer func() { elevenLabsBaseURL = old }()

	hc := &tools.Context{ToolSettings: map[string]string{"api_key": "sk_bad"}}
	record := callTool(t, "text_to_speech", hc, map[string]any{"text": "Hallo"})
	errMsg, _ := record["error"].(string)
	if !strings.HasPrefix(errMsg, "ElevenLabs API Fehler 401") {
		t.Fatalf("record = %+v", record)
	}
}

func TestTextToSpeechCustomVoice(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	old := elevenLabsBaseURL
	elevenLabsBaseURL = srv.URL
	defer func() { elevenLabsBaseURL = old }()

	hc := &tools.Context{ToolSettings: map[string]string{
		"api_key":  "sk_test",
		"voice_id": "voice123",
	}}
	callTool(t, "text_to_speech", hc, map[string]any{"text": "Hallo"})
	if gotPath != "/v1/text-to-speech/voice123" {
		t.Fatalf("path = %q", gotPath)
	}
}
