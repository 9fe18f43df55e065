// The content service is the instructors' CRUD surface for course material:
// courses, their lesson list, and announcements. It sits behind a fixed API
// token and keeps its catalog in Postgres; the streaming platform scans the
// lesson files separately.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"coursecast/pkg/auth"
	"coursecast/pkg/db"
	"coursecast/pkg/logger"
)

type config struct {
	DBURL string
	Port  string
	Token string
}

func loadConfig() (config, error) {
	cfg := config{
		DBURL: os.Getenv("DB_URL"),
		Port:  os.Getenv("PORT"),
		Token: os.Getenv("API_TOKEN"),
	}
	if cfg.DBURL == "" || cfg.Port == "" {
		return cfg, fmt.Errorf("DB_URL and PORT are required")
	}
	return cfg, nil
}

func main() {
	log := logger.New("content")
	cfg, err := loadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DBURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect db")
	}
	defer pool.Close()

	if err := ensureSchema(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("failed to ensure schema")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(auth.TokenMiddleware(cfg.Token))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Courses
	r.Get("/courses", listCourses(pool))
	r.Post("/courses", createCourse(pool))
	r.Get("/courses/{id}", getCourse(pool))
	r.Patch("/courses/{id}", updateCourse(pool))
	r.Delete("/courses/{id}", deleteCourse(pool))

	// Lessons
	r.Get("/lessons", listLessons(pool))
	r.Post("/lessons", createLesson(pool))
	r.Get("/lessons/{id}", getLesson(pool))
	r.Patch("/lessons/{id}", updateLesson(pool))
	r.Delete("/lessons/{id}", deleteLesson(pool))

	// Announcements
	r.Get("/announcements", listAnnouncements(pool))
	r.Post("/announcements", createAnnouncement(pool))
	r.Delete("/announcements/{id}", deleteAnnouncement(pool))

	addr := ":" + cfg.Port
	log.Info().Msgf("content listening on %s", addr)
	if err := http.ListenAndServe(addr, r); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func ensureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS pgcrypto`,
		`CREATE TABLE IF NOT EXISTS courses (
			id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
			title text NOT NULL,
			slug text NOT NULL UNIQUE,
			description text NOT NULL DEFAULT '',
			created_at timestamptz NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS lessons (
			id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
			course_id uuid NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
			title text NOT NULL,
			video_path text NOT NULL DEFAULT '',
			segmented boolean NOT NULL DEFAULT false,
			position int NOT NULL DEFAULT 0,
			available boolean NOT NULL DEFAULT false,
			last_checked timestamptz,
			created_at timestamptz NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS announcements (
			id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
			course_id uuid NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
			title text NOT NULL,
			body text NOT NULL DEFAULT '',
			published_at timestamptz,
			created_at timestamptz NOT NULL DEFAULT now()
		)`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func listCourses(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := pool.Query(r.Context(), "SELECT id,title,slug,description,created_at FROM courses ORDER BY created_at DESC")
		if err != nil {
			respondError(w, err)
			return
		}
		defer rows.Close()
		var out []Course
		for rows.Next() {
			var c Course
			if err := rows.Scan(&c.ID, &c.Title, &c.Slug, &c.Description, &c.CreatedAt); err != nil {
				respondError(w, err)
				return
			}
			out = append(out, c)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func createCourse(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var c Course
		if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
			respondError(w, err)
			return
		}
		if c.Title == "" || c.Slug == "" {
			http.Error(w, "title and slug required", http.StatusBadRequest)
			return
		}
		err := pool.QueryRow(r.Context(), `
			INSERT INTO courses (title,slug,description)
			VALUES ($1,$2,$3)
			RETURNING id,created_at`,
			c.Title, c.Slug, c.Description,
		).Scan(&c.ID, &c.CreatedAt)
		if err != nil {
			respondError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, c)
	}
}

func getCourse(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var c Course
		err := pool.QueryRow(r.Context(), `
			SELECT id,title,slug,description,created_at FROM courses WHERE id=$1`, id).
			Scan(&c.ID, &c.Title, &c.Slug, &c.Description, &c.CreatedAt)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

func updateCourse(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var c Course
		if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
			respondError(w, err)
			return
		}
		_, err := pool.Exec(r.Context(), `
			UPDATE courses
			SET title=COALESCE(NULLIF($1,''),title),
			    slug=COALESCE(NULLIF($2,''),slug),
			    description=COALESCE(NULLIF($3,''),description)
			WHERE id=$4`,
			c.Title, c.Slug, c.Description, id)
		if err != nil {
			respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"updated": id})
	}
}

func deleteCourse(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		_, err := pool.Exec(r.Context(), "DELETE FROM courses WHERE id=$1", id)
		if err != nil {
			respondError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func listLessons(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := `SELECT id,course_id,title,video_path,segmented,position,created_at FROM lessons`
		args := []interface{}{}
		if course := r.URL.Query().Get("course_id"); course != "" {
			q += ` WHERE course_id=$1`
			args = append(args, course)
		}
		q += ` ORDER BY position ASC, created_at ASC`
		rows, err := pool.Query(r.Context(), q, args...)
		if err != nil {
			respondError(w, err)
			return
		}
		defer rows.Close()
		var out []Lesson
		for rows.Next() {
			var l Lesson
			if err := rows.Scan(&l.ID, &l.CourseID, &l.Title, &l.VideoPath, &l.Segmented, &l.Position, &l.CreatedAt); err != nil {
				respondError(w, err)
				return
			}
			out = append(out, l)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func createLesson(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var l Lesson
		if err := json.NewDecoder(r.Body).Decode(&l); err != nil {
			respondError(w, err)
			return
		}
		if l.CourseID == "" || l.Title == "" {
			http.Error(w, "course_id and title required", http.StatusBadRequest)
			return
		}
		err := pool.QueryRow(r.Context(), `
			INSERT INTO lessons (course_id,title,video_path,segmented,position)
			VALUES ($1,$2,$3,$4,COALESCE($5,0))
			RETURNING id,created_at`,
			l.CourseID, l.Title, l.VideoPath, l.Segmented, nullInt(l.Position)).
			Scan(&l.ID, &l.CreatedAt)
		if err != nil {
			respondError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, l)
	}
}

func getLesson(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var l Lesson
		err := pool.QueryRow(r.Context(), `
			SELECT id,course_id,title,video_path,segmented,position,created_at FROM lessons WHERE id=$1`, id).
			Scan(&l.ID, &l.CourseID, &l.Title, &l.VideoPath, &l.Segmented, &l.Position, &l.CreatedAt)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, l)
	}
}

func updateLesson(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var l Lesson
		if err := json.NewDecoder(r.Body).Decode(&l); err != nil {
			respondError(w, err)
			return
		}
		_, err := pool.Exec(r.Context(), `
			UPDATE lessons
			SET title=COALESCE(NULLIF($1,''),title),
			    video_path=COALESCE(NULLIF($2,''),video_path),
			    position=COALESCE($3,position)
			WHERE id=$4`,
			l.Title, l.VideoPath, nullInt(l.Position), id)
		if err != nil {
			respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"updated": id})
	}
}

func deleteLesson(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		_, err := pool.Exec(r.Context(), "DELETE FROM lessons WHERE id=$1", id)
		if err != nil {
			respondError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func listAnnouncements(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := pool.Query(r.Context(), `
			SELECT id,course_id,title,body,published_at,created_at
			FROM announcements ORDER BY created_at DESC`)
		if err != nil {
			respondError(w, err)
			return
		}
		defer rows.Close()
		var out []Announcement
		for rows.Next() {
			var a Announcement
			if err := rows.Scan(&a.ID, &a.CourseID, &a.Title, &a.Body, &a.Published, &a.CreatedAt); err != nil {
				respondError(w, err)
				return
			}
			out = append(out, a)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func createAnnouncement(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var a Announcement
		if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
			respondError(w, err)
			return
		}
		if a.CourseID == "" || a.Title == "" {
			http.Error(w, "course_id and title required", http.StatusBadRequest)
			return
		}
		published := a.Published
		if published == nil {
			now := time.Now()
			published = &now
		}
		err := pool.QueryRow(r.Context(), `
			INSERT INTO announcements (course_id,title,body,published_at)
			VALUES ($1,$2,$3,$4)
			RETURNING id,created_at`,
			a.CourseID, a.Title, a.Body, published).
			Scan(&a.ID, &a.CreatedAt)
		if err != nil {
			respondError(w, err)
			return
		}
		a.Published = published
		writeJSON(w, http.StatusCreated, a)
	}
}

func deleteAnnouncement(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		_, err := pool.Exec(r.Context(), "DELETE FROM announcements WHERE id=$1", id)
		if err != nil {
			respondError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, err error) {
	http.Error(w, strings.TrimSpace(err.Error()), http.StatusInternalServerError)
}

func nullInt(v int) *int {
	return &v
}
