package runner

import (
	"encoding/json"
	"net/http"

	"github.com/Samijain03/Collab-X/internal/logging"
	"github.com/Samijain03/Collab-X/pkg/models"
)

// MaxCodeBytes limits the request body accepted by Handler.
const MaxCodeBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// Handler serves POST /run for remote runner clients.
func Handler(r Runner) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /run", func(w http.ResponseWriter, req *http.Request) {
		var in Request
		if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, MaxCodeBytes)).Decode(&in); err != nil {
			sendError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if !models.Runnable(in.Language) {
			sendError(w, http.StatusUnprocessableEntity, "unsupported language: "+in.Language)
			return
		}

		res, err := r.Run(req.Context(), in)
		if err != nil {
			logging.WithContext(req.Context()).Error("Run failed", logging.Err(err))
			sendError(w, http.StatusBadGateway, err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(res)
	})
	return mux
}

func sendError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(errorResponse{Error: message, Code: code})
}
