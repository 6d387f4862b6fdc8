package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	xerrors "duotronics/internal/errors"
	"duotronics/internal/hemisphere"
	"duotronics/internal/llm"
	"duotronics/internal/probe"
	"duotronics/pkg/logger"
)

// maxBodyBytes 限制请求体大小，长对话也远小于该值。
const maxBodyBytes = 4 << 20

type errorResponse struct {
	Error string `json:"error"`
}

type chatRequest struct {
	Messages []llm.Message `json:"messages"`
}

// ConfigView 是配置查询接口的响应，不包含任何凭证。
type ConfigView struct {
	Configured bool                     `json:"configured"`
	Logic      *hemisphere.PublicConfig `json:"logic,omitempty"`
	Artist     *hemisphere.PublicConfig `json:"artist,omitempty"`
}

type saveResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.deps.Pipeline == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "pipeline unavailable"})
		return
	}

	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	// 客户端断开不取消已发出的厂商调用。
	result, err := s.deps.Pipeline.Run(context.WithoutCancel(r.Context()), req.Messages)
	if err != nil {
		logger.FromContext(r.Context(), s.logger).Warn("chat failed",
			"code", xerrors.CodeOf(err),
			"error", err,
		)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	view := ConfigView{}
	if s.deps.Store != nil {
		settings, err := hemisphere.Load(r.Context(), s.deps.Store)
		if err != nil && xerrors.CodeOf(err) != xerrors.CodeNotConfigured {
			logger.FromContext(r.Context(), s.logger).Warn("read config failed", "error", err)
		}
		if err == nil && settings.Credentialed() {
			logic, artist := settings.Logic.Public(), settings.Artist.Public()
			view = ConfigView{Configured: true, Logic: &logic, Artist: &artist}
		}
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleSaveConfig(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		writeJSON(w, http.StatusServiceUnavailable, saveResponse{Error: "store unavailable"})
		return
	}

	var settings hemisphere.Settings
	if err := decodeJSON(r, &settings); err != nil {
		writeJSON(w, http.StatusBadRequest, saveResponse{Error: "invalid request body"})
		return
	}
	settings = settings.Normalize()
	if err := settings.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, saveResponse{Error: xerrors.MessageOf(err)})
		return
	}

	if err := s.deps.Store.Write(r.Context(), settings); err != nil {
		logger.FromContext(r.Context(), s.logger).Error("save config failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, saveResponse{Error: "Failed to save config"})
		return
	}

	s.audit.Info("hemispheres_updated",
		"request_id", RequestIDFrom(r.Context()),
		"remote_addr", r.RemoteAddr,
		"logic_provider", settings.Logic.Provider,
		"logic_model", settings.Logic.Model,
		"artist_provider", settings.Artist.Provider,
		"artist_model", settings.Artist.Model,
	)
	writeJSON(w, http.StatusOK, saveResponse{Success: true})
}

func (s *Server) handleTestKey(w http.ResponseWriter, r *http.Request) {
	if s.deps.Prober == nil {
		writeJSON(w, http.StatusServiceUnavailable, probe.Result{Error: "prober unavailable"})
		return
	}

	var req probe.Request
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, probe.Result{Error: "invalid request body"})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Prober.Probe(r.Context(), req))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected trailing data")
	}
	return nil
}

// writeError 按错误码映射状态码，响应体只包含面向用户的信息。
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, xerrors.HTTPStatusOf(err), errorResponse{Error: xerrors.MessageOf(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
