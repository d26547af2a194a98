// Package httpapi provides the JSON REST surface.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	zlog "github.com/rs/zerolog/log"

	"github.com/sdisco/requestbox/internal/app/admission"
	"github.com/sdisco/requestbox/internal/app/managedqueue"
	"github.com/sdisco/requestbox/internal/app/observer"
	"github.com/sdisco/requestbox/internal/app/projector"
	"github.com/sdisco/requestbox/internal/domain/track"
	"github.com/sdisco/requestbox/internal/infra/config"
)

// Provider is the slice of the playback provider the API calls directly:
// search, plus an auth probe backing the status endpoint.
type Provider interface {
	SearchTracks(ctx context.Context, query string, limit int) ([]track.Ref, error)
	VerifyAuth(ctx context.Context) error
}

// Server holds the HTTP handlers and their collaborators.
type Server struct {
	controller *admission.Controller
	projector  *projector.Projector
	observer   *observer.Observer
	provider   Provider
	queue      *managedqueue.Queue
	counter    *managedqueue.Counter
	cfg        *config.Config
}

// NewServer creates a new API server.
func NewServer(
	controller *admission.Controller,
	proj *projector.Projector,
	obs *observer.Observer,
	provider Provider,
	queue *managedqueue.Queue,
	counter *managedqueue.Counter,
	cfg *config.Config,
) *Server {
	return &Server{
		controller: controller,
		projector:  proj,
		observer:   obs,
		provider:   provider,
		queue:      queue,
		counter:    counter,
		cfg:        cfg,
	}
}

// Handler returns the routed handler with CORS applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	// Exact match; unknown /api/ paths must 404, not echo the banner.
	mux.HandleFunc("GET /api/{$}", s.handleRoot)
	mux.HandleFunc("POST /api/spotify/search", s.handleSearch)
	mux.HandleFunc("POST /api/spotify/request", s.handleRequest)
	mux.HandleFunc("POST /api/spotify/priority", s.handlePriority)
	mux.HandleFunc("GET /api/spotify/queue", s.handleQueue)
	mux.HandleFunc("GET /api/spotify/now-playing", s.handleNowPlaying)
	mux.HandleFunc("GET /api/spotify/status", s.handleStatus)
	mux.HandleFunc("POST /api/admin/reset", s.requireAdmin(s.handleAdminReset))
	return s.cors(mux)
}

type requestBody struct {
	TrackURI  string `json:"track_uri"`
	TrackName string `json:"track_name"`
	Artist    string `json:"artist"`
	AlbumArt  string `json:"album_art"`
}

type searchBody struct {
	Query string `json:"query"`
}

type trackJSON struct {
	URI             string `json:"uri"`
	Name            string `json:"name"`
	Artist          string `json:"artist"`
	AlbumArt        string `json:"album_art"`
	IsGuestRequest  bool   `json:"is_guest_request,omitempty"`
	Priority        bool   `json:"priority,omitempty"`
	InCooldown      bool   `json:"in_cooldown"`
	CooldownMinutes int    `json:"cooldown_minutes"`
	RecentlyAdded   bool   `json:"recently_added,omitempty"`
}

type nowPlayingJSON struct {
	IsPlaying  bool   `json:"is_playing"`
	SongName   string `json:"song_name,omitempty"`
	Artist     string `json:"artist,omitempty"`
	AlbumArt   string `json:"album_art,omitempty"`
	DurationMs int    `json:"duration_ms,omitempty"`
	ProgressMs int    `json:"progress_ms,omitempty"`
	TimeLeftMs int    `json:"time_left_ms,omitempty"`
	TrackURI   string `json:"track_uri,omitempty"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "requestbox API"})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var body searchBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Query == "" {
		writeError(w, http.StatusBadRequest, "search query is required")
		return
	}

	results, err := s.provider.SearchTracks(r.Context(), body.Query, s.cfg.Queue.SearchLimit)
	if err != nil {
		zlog.Error().Err(err).Msg("search failed")
		writeJSON(w, http.StatusOK, map[string]any{"tracks": []trackJSON{}})
		return
	}

	annotated, err := s.projector.AnnotateSearch(r.Context(), results)
	if err != nil {
		zlog.Error().Err(err).Msg("search annotation failed")
		writeJSON(w, http.StatusOK, map[string]any{"tracks": []trackJSON{}})
		return
	}

	tracks := make([]trackJSON, len(annotated))
	for i, t := range annotated {
		tracks[i] = trackJSON{
			URI:             t.Track.URI,
			Name:            t.Track.Name,
			Artist:          t.Track.Artist,
			AlbumArt:        t.Track.AlbumArtURL,
			InCooldown:      t.InCooldown,
			CooldownMinutes: t.CooldownMinutes,
			RecentlyAdded:   t.RecentlyAdded,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tracks": tracks})
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	s.handleAdmission(w, r, s.controller.Request)
}

func (s *Server) handlePriority(w http.ResponseWriter, r *http.Request) {
	s.handleAdmission(w, r, s.controller.RequestPriority)
}

func (s *Server) handleAdmission(
	w http.ResponseWriter,
	r *http.Request,
	admit func(context.Context, track.Ref) (*admission.Outcome, error),
) {
	var body requestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.TrackURI == "" {
		writeError(w, http.StatusBadRequest, "track_uri is required")
		return
	}

	ref := track.Ref{
		URI:         body.TrackURI,
		Name:        body.TrackName,
		Artist:      body.Artist,
		AlbumArtURL: body.AlbumArt,
	}

	outcome, err := admit(r.Context(), ref)
	if err != nil {
		if rej, ok := admission.AsRejection(err); ok {
			writeError(w, http.StatusBadRequest, s.rejectionMessage(rej))
			return
		}
		zlog.Error().Err(err).Str("track", ref.CanonicalID()).Msg("admission failed")
		writeError(w, http.StatusBadGateway, s.cfg.GetMessage("default_error"))
		return
	}

	message := s.cfg.GetMessage("success")
	if outcome.Position > 0 {
		message = fmt.Sprintf("Added to queue at position #%d!", outcome.Position)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"message":    message,
		"position":   outcome.Position,
		"priority":   outcome.Priority,
		"promoted":   outcome.Promoted,
		"track_name": body.TrackName,
		"artist":     body.Artist,
	})
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	display, err := s.projector.Project(r.Context())
	if err != nil {
		zlog.Error().Err(err).Msg("queue projection failed")
		writeJSON(w, http.StatusOK, map[string]any{"queue": []trackJSON{}})
		return
	}

	queue := make([]trackJSON, len(display))
	for i, t := range display {
		queue[i] = trackJSON{
			URI:             t.Track.URI,
			Name:            t.Track.Name,
			Artist:          t.Track.Artist,
			AlbumArt:        t.Track.AlbumArtURL,
			IsGuestRequest:  t.IsGuestRequest,
			Priority:        t.Priority,
			InCooldown:      t.InCooldown,
			CooldownMinutes: t.CooldownMinutes,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"queue": queue})
}

func (s *Server) handleNowPlaying(w http.ResponseWriter, r *http.Request) {
	np := s.observer.Latest()
	if np == nil {
		writeJSON(w, http.StatusOK, nowPlayingJSON{IsPlaying: false})
		return
	}
	writeJSON(w, http.StatusOK, nowPlayingJSON{
		IsPlaying:  np.Playing,
		SongName:   np.Track.Name,
		Artist:     np.Track.Artist,
		AlbumArt:   np.Track.AlbumArtURL,
		DurationMs: np.DurationMs,
		ProgressMs: np.ProgressMs,
		TimeLeftMs: np.TimeLeftMs(),
		TrackURI:   np.Track.URI,
	})
}

// handleStatus reports whether the provider credentials currently work.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	authenticated := true
	if err := s.provider.VerifyAuth(r.Context()); err != nil {
		zlog.Debug().Err(err).Msg("auth verification failed")
		authenticated = false
	}
	writeJSON(w, http.StatusOK, map[string]any{"authenticated": authenticated})
}

// handleAdminReset zeroes the position counter and purges all managed
// queue entries. Used after re-authentication, when the provider's session
// state is assumed stale.
func (s *Server) handleAdminReset(w http.ResponseWriter, r *http.Request) {
	if err := s.counter.Reset(r.Context()); err != nil {
		zlog.Error().Err(err).Msg("counter reset failed")
		writeError(w, http.StatusBadGateway, s.cfg.GetMessage("default_error"))
		return
	}
	if err := s.queue.Purge(r.Context()); err != nil {
		zlog.Error().Err(err).Msg("queue purge failed")
		writeError(w, http.StatusBadGateway, s.cfg.GetMessage("default_error"))
		return
	}
	zlog.Info().Msg("admin reset: counter zeroed, managed queue purged")
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) rejectionMessage(rej *admission.Rejection) string {
	msg := s.cfg.GetMessage(rej.Code)
	if rej.Code == "cooldown" {
		return fmt.Sprintf(msg, rej.MinutesLeft)
	}
	return msg
}

// requireAdmin checks the bearer token against the configured admin token.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.Admin.Token)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid admin token")
			return
		}
		next(w, r)
	}
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	if len(s.cfg.Server.CORSOrigins) == 0 {
		return true
	}
	for _, o := range s.cfg.Server.CORSOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zlog.Debug().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]any{"success": false, "detail": detail})
}
