package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gocql/gocql"
	"github.com/rs/zerolog"

	"coursecast/internal/auth"
	"coursecast/internal/catalog"
	"coursecast/internal/db"
	"coursecast/pkg/logger"
)

// playbackTokenTTL is how long a playback credential stays valid. Viewers
// renew at 80% of this, so it also bounds how long a revoked session can
// keep streaming.
const playbackTokenTTL = 15 * time.Minute

type config struct {
	Port        string
	AppSecret   string
	AdminEmail  string
	AdminPass   string
	CourseRoots []string
	ScyllaHosts []string
	ScyllaPort  int
	Keyspace    string
	Consistency string
	Replication int
}

func loadConfig() (config, error) {
	hosts := strings.Split(os.Getenv("SCYLLA_HOSTS"), ",")
	for i := range hosts {
		hosts[i] = strings.TrimSpace(hosts[i])
	}
	roots := []string{}
	for _, r := range strings.Split(envDefault("COURSE_ROOTS", ""), ",") {
		if r = strings.TrimSpace(r); r != "" {
			roots = append(roots, r)
		}
	}
	cfg := config{
		Port:        envDefault("API_PORT", envDefault("PORT", "8080")),
		AppSecret:   os.Getenv("APP_SECRET"),
		AdminEmail:  os.Getenv("ADMIN_EMAIL"),
		AdminPass:   os.Getenv("ADMIN_PASSWORD"),
		CourseRoots: roots,
		ScyllaHosts: hosts,
		ScyllaPort:  envDefaultInt("SCYLLA_PORT", 9042),
		Keyspace:    envDefault("SCYLLA_KEYSPACE", "coursecast"),
		Consistency: envDefault("SCYLLA_CONSISTENCY", "QUORUM"),
		Replication: envDefaultInt("SCYLLA_RF", 3),
	}
	if cfg.AppSecret == "" {
		return cfg, fmt.Errorf("APP_SECRET is required")
	}
	if len(cfg.ScyllaHosts) == 0 || cfg.ScyllaHosts[0] == "" {
		return cfg, fmt.Errorf("SCYLLA_HOSTS is required")
	}
	return cfg, nil
}

func main() {
	log := logger.New("api")
	cfg, err := loadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	var session *gocql.Session
	for i := 0; i < 20; i++ {
		s, err := connectScylla(cfg, log)
		if err != nil {
			log.Warn().Err(err).Int("attempt", i+1).Msg("scylla connect retry")
			time.Sleep(5 * time.Second)
			continue
		}
		if err := db.EnsureSchema(s, cfg.Keyspace); err != nil {
			s.Close()
			log.Warn().Err(err).Int("attempt", i+1).Msg("ensure schema retry")
			time.Sleep(5 * time.Second)
			continue
		}
		if cfg.AdminEmail != "" && cfg.AdminPass != "" {
			if err := db.EnsureAdmin(context.Background(), s, cfg.Keyspace, cfg.AdminEmail, cfg.AdminPass); err != nil {
				s.Close()
				log.Warn().Err(err).Int("attempt", i+1).Msg("ensure admin retry")
				time.Sleep(5 * time.Second)
				continue
			}
		}
		session = s
		break
	}
	if session == nil {
		log.Fatal().Msg("scylla not ready after retries")
	}
	defer session.Close()

	authSvc := auth.NewService(cfg.AppSecret)
	catalogSvc := catalog.NewService(session, cfg.Keyspace, log)
	guard := sessionGuard(session, cfg.Keyspace)

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Post("/auth/login", handleLogin(session, authSvc, cfg))
	r.Post("/auth/refresh", handleRefresh(authSvc))
	r.With(authSvc.RequireAuth).Post("/auth/logout", handleLogout(session, cfg.Keyspace))
	r.With(authSvc.RequireAuth, guard).Post("/auth/session/ping", handlePing(session, cfg.Keyspace))

	r.Route("/videos", func(r chi.Router) {
		r.Use(authSvc.RequireAuth, guard)
		r.Get("/", handleListVideos(catalogSvc))
		r.Get("/{id}", handleGetVideo(catalogSvc))
		r.Get("/{id}/playback-info", handlePlaybackInfo(catalogSvc, authSvc))
		r.Get("/{id}/progress", handleGetProgress(catalogSvc))
	})

	r.With(authSvc.RequireAuth, guard).Put("/progress", handleUpdateProgress(catalogSvc))

	r.Route("/users", func(r chi.Router) {
		r.Use(authSvc.RequireRole("admin"))
		r.Post("/", handleCreateUser(session, cfg.Keyspace))
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(authSvc.RequireRole("admin"))
		r.Post("/scan", func(w http.ResponseWriter, r *http.Request) {
			added, err := catalogSvc.ScanRoots(r.Context(), cfg.CourseRoots)
			if err != nil {
				errorJSON(w, http.StatusInternalServerError, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"status": "scan completed",
				"added":  added,
			})
		})
	})

	r.Get("/stream/{id}/*", handleStream(catalogSvc, authSvc))

	if len(cfg.CourseRoots) > 0 {
		go func() {
			ticker := time.NewTicker(10 * time.Minute)
			defer ticker.Stop()
			for {
				_, _ = catalogSvc.ScanRoots(context.Background(), cfg.CourseRoots)
				<-ticker.C
			}
		}()
	}

	addr := ":" + cfg.Port
	log.Info().Str("addr", addr).Msg("api listening")
	if err := http.ListenAndServe(addr, r); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func connectScylla(cfg config, log zerolog.Logger) (*gocql.Session, error) {
	cluster := gocql.NewCluster(cfg.ScyllaHosts...)
	cluster.Port = cfg.ScyllaPort
	cluster.Timeout = 5 * time.Second
	cluster.Consistency = parseConsistency(cfg.Consistency)

	tmpSession, err := cluster.CreateSession()
	if err != nil {
		return nil, err
	}
	defer tmpSession.Close()

	created := false
	for i := 0; i < 10; i++ {
		if err := db.EnsureKeyspace(tmpSession, cfg.Keyspace, cfg.Replication); err != nil {
			log.Warn().Err(err).Int("attempt", i+1).Msg("ensure keyspace retry")
			time.Sleep(3 * time.Second)
			continue
		}
		created = true
		break
	}
	if !created {
		return nil, fmt.Errorf("unable to ensure keyspace %s", cfg.Keyspace)
	}

	cluster.Keyspace = cfg.Keyspace
	return cluster.CreateSession()
}

func envDefault(key, val string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return val
}

func envDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		var out int
		if _, err := fmt.Sscanf(v, "%d", &out); err == nil {
			return out
		}
	}
	return def
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func errorJSON(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// sessionGuard enforces the single-active-session policy on authenticated
// routes. A request bearing a superseded session's token gets a 401 whose
// body names the cause, which clients turn into the sign-out notice.
func sessionGuard(session *gocql.Session, keyspace string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := auth.ClaimsFromContext(r.Context())
			if claims == nil {
				errorJSON(w, http.StatusUnauthorized, "missing claims")
				return
			}
			current, found, err := db.GetAccountSession(r.Context(), session, keyspace, claims.UserID)
			if err != nil {
				errorJSON(w, http.StatusInternalServerError, "session lookup failed")
				return
			}
			switch {
			case !found:
				writeJSON(w, http.StatusUnauthorized, map[string]bool{"sessionExpired": true})
			case current.SessionID != claims.SessionID:
				writeJSON(w, http.StatusUnauthorized, map[string]bool{"loggedInElsewhere": true})
			case current.Stale(time.Now()):
				writeJSON(w, http.StatusUnauthorized, map[string]bool{"sessionExpired": true})
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

func handleLogin(session *gocql.Session, authSvc *auth.Service, cfg config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email       string `json:"email"`
			Password    string `json:"password"`
			DeviceLabel string `json:"deviceLabel"`
			Takeover    bool   `json:"takeover"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			errorJSON(w, http.StatusBadRequest, "invalid body")
			return
		}
		user, err := db.Authenticate(r.Context(), session, cfg.Keyspace, req.Email, req.Password)
		if err != nil {
			errorJSON(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		if req.DeviceLabel == "" {
			req.DeviceLabel = "unknown device"
		}
		acct, err := db.ClaimAccountSession(r.Context(), session, cfg.Keyspace, user.ID, req.DeviceLabel, req.Takeover)
		if errors.Is(err, db.ErrSessionActive) {
			writeJSON(w, http.StatusConflict, map[string]interface{}{
				"active":            true,
				"ownerLabel":        acct.DeviceLabel,
				"retryAfterSeconds": int(acct.RetryAfter(time.Now()).Seconds()),
			})
			return
		}
		if err != nil {
			errorJSON(w, http.StatusInternalServerError, "session claim failed")
			return
		}
		access, refresh, err := authSvc.GenerateTokens(user.ID, user.Role, acct.SessionID)
		if err != nil {
			errorJSON(w, http.StatusInternalServerError, "token error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"access_token":  access,
			"refresh_token": refresh,
			"user": map[string]string{
				"id":    user.ID,
				"email": user.Email,
				"name":  user.Name,
				"role":  user.Role,
			},
		})
	}
}

func handleRefresh(authSvc *auth.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			RefreshToken string `json:"refresh_token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			errorJSON(w, http.StatusBadRequest, "invalid body")
			return
		}
		access, refresh, err := authSvc.Refresh(req.RefreshToken)
		if err != nil {
			errorJSON(w, http.StatusUnauthorized, "invalid token")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"access_token":  access,
			"refresh_token": refresh,
		})
	}
}

func handleLogout(session *gocql.Session, keyspace string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := auth.ClaimsFromContext(r.Context())
		if err := db.ReleaseAccountSession(r.Context(), session, keyspace, claims.UserID, claims.SessionID); err != nil {
			errorJSON(w, http.StatusInternalServerError, "release failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
	}
}

func handlePing(session *gocql.Session, keyspace string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := auth.ClaimsFromContext(r.Context())
		ok, err := db.TouchAccountSession(r.Context(), session, keyspace, claims.UserID, claims.SessionID)
		if err != nil {
			errorJSON(w, http.StatusInternalServerError, "ping failed")
			return
		}
		if !ok {
			// The guard already vetted the session; losing it between the
			// two reads means a concurrent takeover.
			writeJSON(w, http.StatusUnauthorized, map[string]bool{"loggedInElsewhere": true})
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

func handleCreateUser(session *gocql.Session, keyspace string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email    string `json:"email"`
			Name     string `json:"name"`
			Password string `json:"password"`
			Role     string `json:"role"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			errorJSON(w, http.StatusBadRequest, "invalid body")
			return
		}
		if req.Email == "" || req.Password == "" {
			errorJSON(w, http.StatusBadRequest, "email and password required")
			return
		}
		if req.Role == "" {
			req.Role = "student"
		}
		if err := db.CreateUser(r.Context(), session, keyspace, req.Email, req.Name, req.Password, req.Role); err != nil {
			errorJSON(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"created": req.Email})
	}
}

func handleListVideos(svc *catalog.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		videos, err := svc.List(r.Context(), r.URL.Query().Get("q"))
		if err != nil {
			errorJSON(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, videos)
	}
}

func handleGetVideo(svc *catalog.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		video, err := svc.Get(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, catalog.ErrNotFound) {
			errorJSON(w, http.StatusNotFound, "not found")
			return
		}
		if err != nil {
			errorJSON(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, video)
	}
}

func handlePlaybackInfo(svc *catalog.Service, authSvc *auth.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := auth.ClaimsFromContext(r.Context())
		id := chi.URLParam(r, "id")
		video, err := svc.Get(r.Context(), id)
		if errors.Is(err, catalog.ErrNotFound) {
			errorJSON(w, http.StatusNotFound, "not found")
			return
		}
		if err != nil {
			errorJSON(w, http.StatusInternalServerError, err.Error())
			return
		}
		token, err := authSvc.GeneratePlaybackToken(id, claims.SessionID, playbackTokenTTL)
		if err != nil {
			errorJSON(w, http.StatusInternalServerError, "token error")
			return
		}
		file := "index.m3u8"
		if !video.Segmented {
			file = filepath.Base(video.Path)
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"url":              "/stream/" + id + "/" + file + "?token=" + token,
			"isSegmented":      video.Segmented,
			"expiresInSeconds": int(playbackTokenTTL.Seconds()),
		})
	}
}

func handleGetProgress(svc *catalog.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := auth.ClaimsFromContext(r.Context())
		pos, err := svc.Progress(r.Context(), claims.UserID, chi.URLParam(r, "id"))
		if err != nil {
			errorJSON(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{"position_ms": pos})
	}
}

func handleUpdateProgress(svc *catalog.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := auth.ClaimsFromContext(r.Context())
		var req struct {
			VideoID    string `json:"video_id"`
			PositionMs int64  `json:"position_ms"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			errorJSON(w, http.StatusBadRequest, "invalid body")
			return
		}
		if req.VideoID == "" {
			errorJSON(w, http.StatusBadRequest, "video_id required")
			return
		}
		if err := svc.UpdateProgress(r.Context(), claims.UserID, req.VideoID, req.PositionMs); err != nil {
			errorJSON(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
	}
}

// handleStream serves lesson files gated by the playback token instead of a
// login token, so players can fetch segments with plain URLs. The token is
// bound to one video and expires with the credential.
func handleStream(svc *catalog.Service, authSvc *auth.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		token := r.URL.Query().Get("token")
		if token == "" {
			errorJSON(w, http.StatusUnauthorized, "missing token")
			return
		}
		if _, err := authSvc.ParsePlaybackToken(token, id); err != nil {
			errorJSON(w, http.StatusUnauthorized, "invalid token")
			return
		}
		video, err := svc.Get(r.Context(), id)
		if errors.Is(err, catalog.ErrNotFound) {
			errorJSON(w, http.StatusNotFound, "not found")
			return
		}
		if err != nil {
			errorJSON(w, http.StatusInternalServerError, err.Error())
			return
		}

		file := filepath.Clean(chi.URLParam(r, "*"))
		if file == "." || strings.Contains(file, "..") || filepath.IsAbs(file) {
			http.NotFound(w, r)
			return
		}
		var full string
		if video.Segmented {
			full = filepath.Join(video.Path, file)
			if !isWithinRoot(full, video.Path) {
				http.NotFound(w, r)
				return
			}
		} else {
			if file != filepath.Base(video.Path) {
				http.NotFound(w, r)
				return
			}
			full = video.Path
		}
		if _, err := os.Stat(full); err != nil {
			http.NotFound(w, r)
			return
		}
		http.ServeFile(w, r, full)
	}
}

func isWithinRoot(path, root string) bool {
	path = filepath.Clean(path)
	root = filepath.Clean(root)
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+string(os.PathSeparator))
}

func parseConsistency(c string) gocql.Consistency {
	switch strings.ToUpper(c) {
	case "ONE":
		return gocql.One
	case "LOCAL_ONE":
		return gocql.LocalOne
	case "LOCAL_QUORUM":
		return gocql.LocalQuorum
	case "ALL":
		return gocql.All
	default:
		return gocql.Quorum
	}
}
