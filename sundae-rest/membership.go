package sundaerest

import (
	"encoding/json"
	"errors"
	"net/http"

	sundaebus "github.com/SundaeSwap-finance/sundae-bus/sundae-bus"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// MembershipRoutes mounts the membership surface:
//
//	GET /add/{channel}/{id}
//	GET /del/{channel}/{id}
//	GET /get/{id}
func MembershipRoutes(router chi.Router, membership *sundaebus.Membership) {
	router.Get("/add/{channel}/{id}", NoCache(func(w http.ResponseWriter, req *http.Request) {
		err := membership.AddMember(req.Context(), chi.URLParam(req, "channel"), chi.URLParam(req, "id"))
		writeResult(w, req, err, nil)
	}))
	router.Get("/del/{channel}/{id}", NoCache(func(w http.ResponseWriter, req *http.Request) {
		err := membership.RemoveMember(req.Context(), chi.URLParam(req, "channel"), chi.URLParam(req, "id"))
		writeResult(w, req, err, nil)
	}))
	router.Get("/get/{id}", NoCache(func(w http.ResponseWriter, req *http.Request) {
		channels, err := membership.GetChannels(req.Context(), chi.URLParam(req, "id"))
		writeResult(w, req, err, channels)
	}))
}

func writeResult(w http.ResponseWriter, req *http.Request, err error, body interface{}) {
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, sundaebus.ErrValidation) {
			status = http.StatusBadRequest
		}
		zerolog.Ctx(req.Context()).Info().Err(err).Str("path", req.URL.Path).Msg("membership request failed")
		http.Error(w, err.Error(), status)
		return
	}

	if body == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zerolog.Ctx(req.Context()).Warn().Err(err).Msg("unable to write response")
	}
}
