package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"golang.org/x/crypto/bcrypt"
)

type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	Role         string
}

type Video struct {
	ID         string    `json:"id"`
	CourseID   string    `json:"course_id"`
	Title      string    `json:"title"`
	Path       string    `json:"path"`
	Segmented  bool      `json:"segmented"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

func EnsureSchema(session *gocql.Session, keyspace string) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.users (
			id uuid PRIMARY KEY,
			email text,
			name text,
			password_hash text,
			role text,
			created_at timestamp
		)`, keyspace),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS users_email_idx ON %s.users (email)`, keyspace),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.account_sessions (
			user_id uuid PRIMARY KEY,
			session_id uuid,
			device_label text,
			started_at timestamp,
			last_ping timestamp
		)`, keyspace),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.videos (
			id uuid PRIMARY KEY,
			course_id text,
			title text,
			path text,
			segmented boolean,
			duration_ms bigint,
			created_at timestamp
		)`, keyspace),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS videos_path_idx ON %s.videos (path)`, keyspace),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.play_state (
			user_id uuid,
			video_id uuid,
			position_ms bigint,
			updated_at timestamp,
			PRIMARY KEY (user_id, video_id)
		)`, keyspace),
	}
	for _, stmt := range stmts {
		if err := session.Query(stmt).Exec(); err != nil {
			return err
		}
	}
	return nil
}

func EnsureKeyspace(session *gocql.Session, keyspace string, replicationFactor int) error {
	if replicationFactor <= 0 {
		replicationFactor = 3
	}
	stmt := fmt.Sprintf("CREATE KEYSPACE IF NOT EXISTS %s WITH replication = {'class': 'SimpleStrategy', 'replication_factor': %d}", keyspace, replicationFactor)
	return session.Query(stmt).Exec()
}

func normalizeName(email, name string) string {
	clean := strings.TrimSpace(name)
	if clean != "" {
		return clean
	}
	clean = strings.TrimSpace(email)
	if clean != "" {
		if at := strings.Index(clean, "@"); at > 0 {
			return clean[:at]
		}
		return clean
	}
	return "student"
}

func EnsureAdmin(ctx context.Context, session *gocql.Session, keyspace, email, password string) error {
	var existing string
	err := session.Query(fmt.Sprintf("SELECT id FROM %s.users WHERE email=? LIMIT 1", keyspace), email).WithContext(ctx).Scan(&existing)
	if err == nil && existing != "" {
		return nil
	}
	if err != nil && !errors.Is(err, gocql.ErrNotFound) {
		return err
	}
	return CreateUser(ctx, session, keyspace, email, "", password, "admin")
}

func CreateUser(ctx context.Context, session *gocql.Session, keyspace, email, name, password, role string) error {
	id := gocql.TimeUUID()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return session.Query(fmt.Sprintf(`INSERT INTO %s.users (id,email,name,password_hash,role,created_at)
		VALUES (?,?,?,?,?,?)`, keyspace),
		id, email, normalizeName(email, name), string(hash), role, time.Now()).WithContext(ctx).Exec()
}

var ErrInvalidCredentials = errors.New("invalid credentials")

func Authenticate(ctx context.Context, session *gocql.Session, keyspace, email, password string) (User, error) {
	var u User
	err := session.Query(fmt.Sprintf(`SELECT id,email,name,password_hash,role FROM %s.users WHERE email=? LIMIT 1`, keyspace), email).
		WithContext(ctx).
		Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Role)
	if errors.Is(err, gocql.ErrNotFound) {
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		return User{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return User{}, ErrInvalidCredentials
	}
	if u.Name == "" {
		u.Name = normalizeName(u.Email, "")
	}
	return u, nil
}

func GetUserByID(ctx context.Context, session *gocql.Session, keyspace, userID string) (User, error) {
	var u User
	id, err := gocql.ParseUUID(userID)
	if err != nil {
		return User{}, err
	}
	err = session.Query(fmt.Sprintf(`SELECT id,email,name,role FROM %s.users WHERE id=?`, keyspace), id).
		WithContext(ctx).
		Scan(&u.ID, &u.Email, &u.Name, &u.Role)
	if err != nil {
		return User{}, err
	}
	if u.Name == "" {
		u.Name = normalizeName(u.Email, "")
	}
	return u, nil
}

func ListVideos(ctx context.Context, session *gocql.Session, keyspace string) ([]Video, error) {
	var videos []Video
	iter := session.Query(fmt.Sprintf(`SELECT id,course_id,title,path,segmented,duration_ms,created_at FROM %s.videos`, keyspace)).
		WithContext(ctx).Iter()
	var v Video
	for iter.Scan(&v.ID, &v.CourseID, &v.Title, &v.Path, &v.Segmented, &v.DurationMS, &v.CreatedAt) {
		videos = append(videos, v)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return videos, nil
}

func GetVideo(ctx context.Context, session *gocql.Session, keyspace, videoID string) (Video, error) {
	id, err := gocql.ParseUUID(videoID)
	if err != nil {
		return Video{}, err
	}
	var v Video
	err = session.Query(fmt.Sprintf(`SELECT id,course_id,title,path,segmented,duration_ms,created_at FROM %s.videos WHERE id=?`, keyspace), id).
		WithContext(ctx).
		Scan(&v.ID, &v.CourseID, &v.Title, &v.Path, &v.Segmented, &v.DurationMS, &v.CreatedAt)
	if err != nil {
		return Video{}, err
	}
	return v, nil
}

// UpsertVideo registers a video by path, reusing the existing row when the
// scanner sees the same file again. The bool reports whether a new row was
// inserted.
func UpsertVideo(ctx context.Context, session *gocql.Session, keyspace string, v Video) (Video, bool, error) {
	var existing Video
	err := session.Query(fmt.Sprintf(`SELECT id,course_id,title,path,segmented,duration_ms,created_at FROM %s.videos WHERE path=? LIMIT 1`, keyspace), v.Path).
		WithContext(ctx).Scan(&existing.ID, &existing.CourseID, &existing.Title, &existing.Path, &existing.Segmented, &existing.DurationMS, &existing.CreatedAt)
	if err == nil && existing.ID != "" {
		return existing, false, nil
	}
	if err != nil && !errors.Is(err, gocql.ErrNotFound) {
		return Video{}, false, err
	}
	id := gocql.TimeUUID()
	now := time.Now()
	if err := session.Query(fmt.Sprintf(`INSERT INTO %s.videos (id,course_id,title,path,segmented,duration_ms,created_at) VALUES (?,?,?,?,?,?,?)`, keyspace),
		id, v.CourseID, v.Title, v.Path, v.Segmented, v.DurationMS, now).WithContext(ctx).Exec(); err != nil {
		return Video{}, false, err
	}
	v.ID = id.String()
	v.CreatedAt = now
	return v, true, nil
}

func SavePlayState(ctx context.Context, session *gocql.Session, keyspace, userID, videoID string, positionMS int64) error {
	uid, err := gocql.ParseUUID(userID)
	if err != nil {
		return err
	}
	vid, err := gocql.ParseUUID(videoID)
	if err != nil {
		return err
	}
	return session.Query(fmt.Sprintf(`INSERT INTO %s.play_state (user_id,video_id,position_ms,updated_at) VALUES (?,?,?,?)`, keyspace),
		uid, vid, positionMS, time.Now()).WithContext(ctx).Exec()
}

func GetPlayState(ctx context.Context, session *gocql.Session, keyspace, userID, videoID string) (int64, error) {
	uid, err := gocql.ParseUUID(userID)
	if err != nil {
		return 0, err
	}
	vid, err := gocql.ParseUUID(videoID)
	if err != nil {
		return 0, err
	}
	var positionMS int64
	err = session.Query(fmt.Sprintf(`SELECT position_ms FROM %s.play_state WHERE user_id=? AND video_id=?`, keyspace), uid, vid).
		WithContext(ctx).Scan(&positionMS)
	if errors.Is(err, gocql.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return positionMS, nil
}
