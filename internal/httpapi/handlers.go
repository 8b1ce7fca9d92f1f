package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/henriquebonfim/ultradl/internal/apierr"
	"github.com/henriquebonfim/ultradl/internal/extractor"
	"github.com/henriquebonfim/ultradl/internal/fileasset"
	"github.com/henriquebonfim/ultradl/internal/filemanager"
	"github.com/henriquebonfim/ultradl/internal/jobmanager"
	"github.com/henriquebonfim/ultradl/internal/ratelimit"
)

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i != -1 {
		host = host[:i]
	}
	return host
}

// validateURL applies the syntactic-only check spec §6's `400
// invalid-url` refers to: an absolute http(s) URL with a host.
func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return errors.New("not an absolute http(s) URL")
	}
	return nil
}

// classifyFormat maps a resolved Format to the rate-limit Category it
// counts against, per the codec-availability classification
// original_source's FormatType enum uses: a format missing a video
// track is audio-only, one missing an audio track is video-only,
// anything else carries both.
func classifyFormat(f extractor.Format) ratelimit.Category {
	noVideo := f.VideoCodec == "" || f.VideoCodec == "none"
	noAudio := f.AudioCodec == "" || f.AudioCodec == "none"
	switch {
	case noVideo && !noAudio:
		return ratelimit.CategoryAudioOnly
	case noAudio && !noVideo:
		return ratelimit.CategoryVideoOnly
	default:
		return ratelimit.CategoryVideoAudio
	}
}

type resolutionsRequest struct {
	URL string `json:"url"`
}

type resolutionsResponse struct {
	Meta    extractor.Metadata `json:"meta"`
	Formats []extractor.Format `json:"formats"`
}

// handleResolutions implements `POST /videos/resolutions`.
func (s *Server) handleResolutions(w http.ResponseWriter, r *http.Request) {
	var req resolutionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body", apierr.InvalidURL)
		return
	}
	if err := validateURL(req.URL); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), apierr.InvalidURL)
		return
	}

	ctx := r.Context()
	states, err := s.limiter.CheckEndpointLimit(ctx, clientIP(r), "videos/resolutions")
	if err != nil {
		var exceeded *ratelimit.ExceededError
		if errors.As(err, &exceeded) {
			writeRateLimitExceeded(w, exceeded)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error(), apierr.SystemError)
		return
	}
	if states != nil {
		writeRateLimitHeaders(w, []ratelimit.State{*states})
	}

	meta, err := s.extractor.Probe(ctx, req.URL)
	if err != nil {
		writeError(w, apierr.HTTPStatus(apierr.VideoUnavailable), err.Error(), apierr.VideoUnavailable)
		return
	}
	formats, err := s.extractor.Formats(ctx, req.URL)
	if err != nil {
		writeError(w, apierr.HTTPStatus(apierr.VideoUnavailable), err.Error(), apierr.VideoUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, resolutionsResponse{Meta: meta, Formats: formats})
}

type createDownloadRequest struct {
	URL      string `json:"url"`
	FormatID string `json:"format_id"`
}

type createDownloadResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// handleCreateDownload implements `POST /downloads`.
func (s *Server) handleCreateDownload(w http.ResponseWriter, r *http.Request) {
	var req createDownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body", apierr.InvalidURL)
		return
	}
	if err := validateURL(req.URL); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), apierr.InvalidURL)
		return
	}
	if req.FormatID == "" {
		writeError(w, http.StatusBadRequest, "format_id is required", apierr.FormatNotFound)
		return
	}

	ctx := r.Context()
	ip := clientIP(r)

	formats, err := s.extractor.Formats(ctx, req.URL)
	if err != nil {
		writeError(w, apierr.HTTPStatus(apierr.VideoUnavailable), err.Error(), apierr.VideoUnavailable)
		return
	}
	category := ratelimit.CategoryVideoAudio
	found := false
	for _, f := range formats {
		if f.FormatID == req.FormatID {
			category = classifyFormat(f)
			found = true
			break
		}
	}
	if !found {
		writeError(w, apierr.HTTPStatus(apierr.FormatNotFound), "requested format is not available", apierr.FormatNotFound)
		return
	}

	states, err := s.limiter.CheckDownloadLimits(ctx, ip, category)
	if err != nil {
		var exceeded *ratelimit.ExceededError
		if errors.As(err, &exceeded) {
			writeRateLimitExceeded(w, exceeded)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error(), apierr.SystemError)
		return
	}
	if len(states) > 0 {
		writeRateLimitHeaders(w, states)
	}

	jb, err := s.jobs.Create(ctx, req.URL, req.FormatID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), apierr.SystemError)
		return
	}

	writeJSON(w, http.StatusAccepted, createDownloadResponse{JobID: jb.Id.String(), Status: jb.Status.String()})
}

type jobResponse struct {
	ID            string           `json:"id"`
	Status        string           `json:"status"`
	Progress      jobProgressView  `json:"progress"`
	DownloadURL   *string          `json:"download_url,omitempty"`
	ExpireAt      *string          `json:"expire_at,omitempty"`
	ErrorMessage  *string          `json:"error,omitempty"`
	ErrorCategory *apierr.Category `json:"error_category,omitempty"`
}

type jobProgressView struct {
	Percentage int     `json:"percentage"`
	Phase      string  `json:"phase"`
	Speed      *string `json:"speed,omitempty"`
	ETA        *string `json:"eta,omitempty"`
}

func parseJobID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "id"))
}

// handleGetJob implements `GET /jobs/{id}`.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, err := parseJobID(r)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found", "")
		return
	}
	jb, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), apierr.SystemError)
		return
	}
	if jb == nil {
		writeError(w, http.StatusNotFound, "job not found", "")
		return
	}

	var expireAt *string
	if jb.ExpireAt != nil {
		v := jb.ExpireAt.UTC().Format("2006-01-02T15:04:05.999999999Z07:00")
		expireAt = &v
	}

	writeJSON(w, http.StatusOK, jobResponse{
		ID:     jb.Id.String(),
		Status: jb.Status.String(),
		Progress: jobProgressView{
			Percentage: jb.Progress.Percentage,
			Phase:      jb.Progress.Phase,
			Speed:      jb.Progress.Speed,
			ETA:        jb.Progress.ETA,
		},
		DownloadURL:   jb.DownloadURL,
		ExpireAt:      expireAt,
		ErrorMessage:  jb.ErrorMessage,
		ErrorCategory: jb.ErrorCategory,
	})
}

// handleDeleteJob implements `DELETE /jobs/{id}`.
func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	id, err := parseJobID(r)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found", "")
		return
	}
	err = s.jobs.Delete(r.Context(), id)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, jobmanager.ErrWrongState):
		writeError(w, http.StatusConflict, "job is not terminal", "")
	default:
		writeError(w, http.StatusNotFound, "job not found", "")
	}
}

// handleDownloadFile implements `GET /downloads/file/{token}`.
func (s *Server) handleDownloadFile(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	signature := r.URL.Query().Get("signature")

	ctx := r.Context()
	f, err := s.files.GetByToken(ctx, token)
	if err != nil {
		switch {
		case errors.Is(err, filemanager.ErrExpired):
			writeError(w, http.StatusGone, "file expired", "")
		case errors.Is(err, fileasset.ErrNotFound):
			writeError(w, http.StatusNotFound, "file not found", "")
		default:
			writeError(w, http.StatusInternalServerError, err.Error(), apierr.SystemError)
		}
		return
	}

	if signature != "" && !s.urls.ValidateSignature(token, signature, f.ExpiresAt) {
		writeError(w, http.StatusNotFound, "file not found", "")
		return
	}

	rc, err := s.storage.Get(ctx, f.Path)
	if err != nil {
		writeError(w, http.StatusNotFound, "file not found", "")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Disposition", `attachment; filename="`+f.Filename+`"`)
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, rc)
}
