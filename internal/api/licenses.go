package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"licensehub/internal/license"
)

type activateRequest struct {
	Key      string `json:"key" validate:"required"`
	DeviceID string `json:"deviceId" validate:"required,max=200"`
}

func (s *Server) handleListLicenses(w http.ResponseWriter, r *http.Request) {
	status := license.Status(r.URL.Query().Get("status"))
	licenses, err := s.licenses.List(r.Context(), status)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if licenses == nil {
		licenses = []license.License{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"licenses": licenses})
}

func (s *Server) handleGetLicense(w http.ResponseWriter, r *http.Request) {
	lic, err := s.licenses.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, lic)
}

func (s *Server) handleGenerateLicense(w http.ResponseWriter, r *http.Request) {
	var req license.GenerateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	lic, err := s.licenses.Generate(r.Context(), req, actor(r).ID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, lic)
}

func (s *Server) handleActivateLicense(w http.ResponseWriter, r *http.Request) {
	var req activateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	lic, err := s.licenses.Activate(r.Context(), req.Key, req.DeviceID, actor(r).ID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, lic)
}

func (s *Server) handleRenewLicense(w http.ResponseWriter, r *http.Request) {
	var req license.RenewRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	lic, err := s.licenses.Renew(r.Context(), mux.Vars(r)["id"], req, actor(r).ID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, lic)
}

func (s *Server) handleLicenseAction(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	op := map[string]func(ctx context.Context, id, actor string) (*license.License, error){
		"pause":  s.licenses.Pause,
		"resume": s.licenses.Resume,
		"revoke": s.licenses.Revoke,
	}[strings.ToLower(vars["action"])]

	lic, err := op(r.Context(), vars["id"], actor(r).ID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, lic)
}
