// Command vision-stub is an OpenAI-compatible server that answers every chat
// completion with a fixed page transcription. It lets the vision OCR engine
// run offline:
//
//	TRANSCRIPT_FILE=page.txt vision-stub &
//	gazaledger run --text optical-recognition --ocr.engine vision \
//	  (with GAZALEDGER_OCR_BASE_URL=http://localhost:8081/v1 GAZALEDGER_OCR_MODEL=stub)
package main

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const defaultTranscript = "Reported impact snapshot | Gaza Strip\nPalestinians killed: 52,653 reported fatalities"

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	model := os.Getenv("MODEL_ID")
	if strings.TrimSpace(model) == "" {
		model = "stub"
	}
	addr := os.Getenv("ADDR")
	if strings.TrimSpace(addr) == "" {
		addr = ":8081"
	}
	transcript := defaultTranscript
	if p := os.Getenv("TRANSCRIPT_FILE"); p != "" {
		b, err := os.ReadFile(p)
		if err != nil {
			log.Fatal().Err(err).Str("path", p).Msg("read transcript")
		}
		transcript = string(b)
	}

	log.Info().Str("addr", addr).Str("model", model).Msg("vision-stub listening")
	srv := &http.Server{Addr: addr, Handler: newHandler(model, transcript), ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil {
		log.Fatal().Err(err).Msg("serve")
	}
}

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"messages"`
}

// newHandler serves /v1/models and /v1/chat/completions. A completion request
// must carry at least one image part, as the vision recognizer sends.
func newHandler(model, transcript string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"id": model, "object": "model"}},
		})
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if !hasImage(req) {
			http.Error(w, "expected an image_url content part", http.StatusBadRequest)
			return
		}
		log.Debug().Str("model", req.Model).Int("messages", len(req.Messages)).Msg("transcribing page")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model": model,
			"choices": []map[string]any{
				{"index": 0, "finish_reason": "stop", "message": map[string]string{"role": "assistant", "content": transcript}},
			},
		})
	})
	return mux
}

func hasImage(req chatRequest) bool {
	for _, m := range req.Messages {
		var parts []struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(m.Content, &parts) != nil {
			continue
		}
		for _, p := range parts {
			if p.Type == "image_url" {
				return true
			}
		}
	}
	return false
}
