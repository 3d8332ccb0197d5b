package tts_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/book-expert/ich-narrator/internal/core"
	"github.com/book-expert/ich-narrator/internal/tts"
)

const testAudioData = "RIFF....WAVEfmt "

// TestHTTPClient_GenerateSpeech_Success verifies successful speech generation.
func TestHTTPClient_GenerateSpeech_Success(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(createSuccessHandler(t))
	defer server.Close()

	client := tts.NewHTTPClient(server.URL, 10*time.Second)

	audioData, err := client.GenerateSpeech(context.Background(), createStandardTestRequest())
	if err != nil {
		t.Fatalf("GenerateSpeech failed: %v", err)
	}

	if string(audioData) != testAudioData {
		t.Errorf("Expected audio data %q, got %q", testAudioData, string(audioData))
	}
}

// TestHTTPClient_Synthesize_MapsRequest verifies the core request mapping.
func TestHTTPClient_Synthesize_MapsRequest(t *testing.T) {
	t.Parallel()

	var received tts.Request

	server := httptest.NewServer(http.HandlerFunc(
		func(responseWriter http.ResponseWriter, request *http.Request) {
			err := json.NewDecoder(request.Body).Decode(&received)
			if err != nil {
				t.Errorf("Failed to decode request: %v", err)
			}

			sendSuccessResponse(t, responseWriter)
		},
	))
	defer server.Close()

	client := tts.NewHTTPClient(server.URL+"/", 10*time.Second)

	_, err := client.Synthesize(context.Background(), core.SynthesisRequest{
		Text:        "Your scan is stable.",
		SpeakerWAV:  "/voices/doctor.wav",
		Language:    "zh-cn",
		ModelName:   "xtts_v2",
		Temperature: 0.5,
		GPU:         false,
	})
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}

	if received.SpeakerRefPath != "/voices/doctor.wav" {
		t.Errorf("Expected speaker path to be forwarded, got %q", received.SpeakerRefPath)
	}

	if received.Device != "cpu" || received.ModelName != "xtts_v2" || received.Language != "zh-cn" {
		t.Errorf("Unexpected request fields: %+v", received)
	}
}

func createSuccessHandler(t *testing.T) http.HandlerFunc {
	t.Helper()

	return http.HandlerFunc(
		func(responseWriter http.ResponseWriter, request *http.Request) {
			validateHTTPRequestMethod(t, request)
			validateHTTPRequestHeaders(t, request)
			validateHTTPRequestBody(t, request)
			sendSuccessResponse(t, responseWriter)
		},
	)
}

func validateHTTPRequestMethod(t *testing.T, request *http.Request) {
	t.Helper()

	if request.Method != http.MethodPost {
		t.Errorf("Expected POST, got %s", request.Method)
	}

	if request.URL.Path != "/v1/generate/speech" {
		t.Errorf("Expected /v1/generate/speech, got %s", request.URL.Path)
	}
}

func validateHTTPRequestHeaders(t *testing.T, request *http.Request) {
	t.Helper()

	if contentType := request.Header.Get("Content-Type"); contentType != "application/json" {
		t.Errorf("Expected Content-Type application/json, got %s", contentType)
	}

	if accept := request.Header.Get("Accept"); accept != "audio/wav" {
		t.Errorf("Expected Accept audio/wav, got %s", accept)
	}
}

func validateHTTPRequestBody(t *testing.T, request *http.Request) {
	t.Helper()

	var req tts.Request

	err := json.NewDecoder(request.Body).Decode(&req)
	if err != nil {
		t.Errorf("Failed to decode request: %v", err)

		return
	}

	expected := createStandardTestRequest()

	if req.Text != expected.Text {
		t.Errorf("Expected text %q, got %q", expected.Text, req.Text)
	}

	if req.Language != expected.Language {
		t.Errorf("Expected language %q, got %q", expected.Language, req.Language)
	}

	if req.Temperature != expected.Temperature {
		t.Errorf("Expected temperature %f, got %f", expected.Temperature, req.Temperature)
	}
}

func createStandardTestRequest() tts.Request {
	return tts.Request{
		Text:           "Hello, world!",
		SpeakerRefPath: "",
		Language:       "en",
		Temperature:    0.75,
	}
}

func sendSuccessResponse(t *testing.T, responseWriter http.ResponseWriter) {
	t.Helper()
	responseWriter.Header().Set("Content-Type", "audio/wav")
	responseWriter.WriteHeader(http.StatusOK)

	_, err := responseWriter.Write([]byte(testAudioData))
	if err != nil {
		t.Errorf("Failed to write mock success response: %v", err)
	}
}

// TestHTTPClient_GenerateSpeech_EmptyText verifies validation of empty text.
func TestHTTPClient_GenerateSpeech_EmptyText(t *testing.T) {
	t.Parallel()

	client := tts.NewHTTPClient("http://localhost:8000", 10*time.Second)

	_, err := client.GenerateSpeech(context.Background(), tts.Request{Language: "en"})
	if !errors.Is(err, tts.ErrTextEmpty) {
		t.Fatalf("Expected ErrTextEmpty, got %v", err)
	}
}

// TestHTTPClient_GenerateSpeech_ServerError verifies structured error handling.
func TestHTTPClient_GenerateSpeech_ServerError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(
		func(responseWriter http.ResponseWriter, _ *http.Request) {
			responseWriter.Header().Set("Content-Type", "application/json")
			responseWriter.WriteHeader(http.StatusInternalServerError)

			err := json.NewEncoder(responseWriter).Encode(tts.ErrorResponse{
				Detail:    "Model failed to load",
				ErrorCode: "MODEL_LOAD_ERROR",
			})
			if err != nil {
				t.Errorf("Failed to encode mock server error response: %v", err)
			}
		},
	))
	defer server.Close()

	client := tts.NewHTTPClient(server.URL, 10*time.Second)

	_, err := client.GenerateSpeech(context.Background(), createStandardTestRequest())
	if err == nil {
		t.Fatal("Expected error for server error, got nil")
	}

	for _, substring := range []string{"TTS service error", "Model failed to load", "MODEL_LOAD_ERROR"} {
		if !strings.Contains(err.Error(), substring) {
			t.Errorf("Expected error to contain %q, got: %v", substring, err)
		}
	}
}

// TestHTTPClient_GenerateSpeech_PlainServerError verifies the raw body fallback.
func TestHTTPClient_GenerateSpeech_PlainServerError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(
		func(responseWriter http.ResponseWriter, _ *http.Request) {
			http.Error(responseWriter, "upstream exploded", http.StatusBadGateway)
		},
	))
	defer server.Close()

	client := tts.NewHTTPClient(server.URL, 10*time.Second)

	_, err := client.GenerateSpeech(context.Background(), createStandardTestRequest())
	if err == nil || !strings.Contains(err.Error(), "upstream exploded") {
		t.Fatalf("Expected raw body in error, got %v", err)
	}
}

// TestHTTPClient_GenerateSpeech_WrongContentType verifies content type validation.
func TestHTTPClient_GenerateSpeech_WrongContentType(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(
		func(responseWriter http.ResponseWriter, _ *http.Request) {
			responseWriter.Header().Set("Content-Type", "text/plain")
			responseWriter.WriteHeader(http.StatusOK)
			_, _ = responseWriter.Write([]byte("not audio data"))
		},
	))
	defer server.Close()

	client := tts.NewHTTPClient(server.URL, 10*time.Second)

	_, err := client.GenerateSpeech(context.Background(), createStandardTestRequest())
	if !errors.Is(err, tts.ErrUnexpectedContentType) {
		t.Fatalf("Expected ErrUnexpectedContentType, got %v", err)
	}
}

// TestHTTPClient_GenerateSpeech_EmptyAudioData verifies empty body detection.
func TestHTTPClient_GenerateSpeech_EmptyAudioData(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(
		func(responseWriter http.ResponseWriter, _ *http.Request) {
			responseWriter.Header().Set("Content-Type", "audio/x-wav")
			responseWriter.WriteHeader(http.StatusOK)
		},
	))
	defer server.Close()

	client := tts.NewHTTPClient(server.URL, 10*time.Second)

	_, err := client.GenerateSpeech(context.Background(), createStandardTestRequest())
	if !errors.Is(err, tts.ErrReceivedEmptyAudio) {
		t.Fatalf("Expected ErrReceivedEmptyAudio, got %v", err)
	}
}

// TestHTTPClient_GenerateSpeech_Timeout verifies that the client timeout applies.
func TestHTTPClient_GenerateSpeech_Timeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(
		func(_ http.ResponseWriter, request *http.Request) {
			select {
			case <-release:
			case <-request.Context().Done():
			}
		},
	))
	defer server.Close()
	defer close(release)

	client := tts.NewHTTPClient(server.URL, 50*time.Millisecond)

	_, err := client.GenerateSpeech(context.Background(), createStandardTestRequest())
	if err == nil {
		t.Fatal("Expected timeout error, got nil")
	}
}

// TestHTTPClient_HealthCheck_Success verifies the health endpoint contract.
func TestHTTPClient_HealthCheck_Success(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(
		func(responseWriter http.ResponseWriter, request *http.Request) {
			if request.Method != http.MethodGet || request.URL.Path != "/health" {
				t.Errorf("Unexpected health request %s %s", request.Method, request.URL.Path)
			}

			responseWriter.WriteHeader(http.StatusOK)
		},
	))
	defer server.Close()

	client := tts.NewHTTPClient(server.URL, 10*time.Second)

	err := client.HealthCheck(context.Background())
	if err != nil {
		t.Fatalf("HealthCheck failed: %v", err)
	}
}

// TestHTTPClient_HealthCheck_ServiceDown verifies unhealthy status handling.
func TestHTTPClient_HealthCheck_ServiceDown(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(
		func(responseWriter http.ResponseWriter, _ *http.Request) {
			responseWriter.WriteHeader(http.StatusServiceUnavailable)
		},
	))
	defer server.Close()

	client := tts.NewHTTPClient(server.URL, 10*time.Second)

	err := client.HealthCheck(context.Background())
	if !errors.Is(err, tts.ErrServiceUnhealthy) {
		t.Fatalf("Expected ErrServiceUnhealthy, got %v", err)
	}
}

// TestHTTPClient_HealthCheck_NetworkError verifies connection failures surface.
func TestHTTPClient_HealthCheck_NetworkError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client := tts.NewHTTPClient(url, time.Second)

	err := client.HealthCheck(context.Background())
	if err == nil {
		t.Fatal("Expected network error, got nil")
	}
}
