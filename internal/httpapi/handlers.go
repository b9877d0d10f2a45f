package httpapi

import (
	"crypto/rand"
	"encoding/json"
	"math/big"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cardlab/tabletop-sync-backend/internal/hub"
)

func GenerateCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, 6)
	for i := 0; i < 6; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}

// CreateLobby reserves a fresh random lobby code. Clients may also skip
// this and connect straight to any agreed-upon code; lobbies spring into
// existence on first reference either way.
func CreateLobby(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var code string
		for {
			c, err := GenerateCode()
			if err != nil {
				http.Error(w, "failed to generate code", http.StatusInternalServerError)
				return
			}
			if h.Get(c) == nil {
				code = c
				break
			}
		}

		if h.Ensure(code) == nil {
			http.Error(w, "failed to create lobby", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(struct {
			Code string `json:"code"`
		}{Code: code})
	}
}

// DebugState dumps a snapshot of a lobby's authoritative document.
func DebugState(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lb := h.Get(chi.URLParam(r, "lobby"))
		if lb == nil {
			http.Error(w, "lobby not found", http.StatusNotFound)
			return
		}
		view, ok := lb.View()
		if !ok {
			http.Error(w, "lobby not found", http.StatusNotFound)
			return
		}

		data, err := json.MarshalIndent(struct {
			Members  any `json:"members"`
			NumConns int `json:"numConns"`
			State    any `json:"state"`
		}{view.Members, view.NumConns, view.Doc}, "", "  ")
		if err != nil {
			http.Error(w, "failed to marshal state", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(data)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
