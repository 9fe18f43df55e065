package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
)

// AccountSession is the single active session an account may hold. A new
// login either takes it over or is refused while the current one is fresh.
type AccountSession struct {
	UserID      string
	SessionID   string
	DeviceLabel string
	StartedAt   time.Time
	LastPing    time.Time
}

// SessionStaleAfter is how long a session may go without a liveness ping
// before a new login can displace it without an explicit takeover. Clients
// ping every 5 minutes, so this allows two missed pings plus slack.
const SessionStaleAfter = 12 * time.Minute

// Stale reports whether the session stopped pinging long enough ago to be
// considered abandoned.
func (s AccountSession) Stale(now time.Time) bool {
	return now.Sub(s.LastPing) > SessionStaleAfter
}

// RetryAfter is how long until the session goes stale on its own.
func (s AccountSession) RetryAfter(now time.Time) time.Duration {
	d := s.LastPing.Add(SessionStaleAfter).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// ErrSessionActive is returned by ClaimAccountSession when another device
// holds a fresh session and takeover was not requested.
var ErrSessionActive = errors.New("account session is active elsewhere")

func GetAccountSession(ctx context.Context, session *gocql.Session, keyspace, userID string) (AccountSession, bool, error) {
	uid, err := gocql.ParseUUID(userID)
	if err != nil {
		return AccountSession{}, false, err
	}
	var s AccountSession
	err = session.Query(fmt.Sprintf(`SELECT user_id,session_id,device_label,started_at,last_ping FROM %s.account_sessions WHERE user_id=?`, keyspace), uid).
		WithContext(ctx).
		Scan(&s.UserID, &s.SessionID, &s.DeviceLabel, &s.StartedAt, &s.LastPing)
	if errors.Is(err, gocql.ErrNotFound) {
		return AccountSession{}, false, nil
	}
	if err != nil {
		return AccountSession{}, false, err
	}
	return s, true, nil
}

// ClaimAccountSession installs a new session for the account. When a fresh
// session already exists and takeover is false, the existing record is
// returned alongside ErrSessionActive so the caller can report the owner.
func ClaimAccountSession(ctx context.Context, session *gocql.Session, keyspace, userID, deviceLabel string, takeover bool) (AccountSession, error) {
	current, found, err := GetAccountSession(ctx, session, keyspace, userID)
	if err != nil {
		return AccountSession{}, err
	}
	now := time.Now()
	if found && !takeover && !current.Stale(now) {
		return current, ErrSessionActive
	}

	uid, err := gocql.ParseUUID(userID)
	if err != nil {
		return AccountSession{}, err
	}
	next := AccountSession{
		UserID:      userID,
		SessionID:   gocql.TimeUUID().String(),
		DeviceLabel: deviceLabel,
		StartedAt:   now,
		LastPing:    now,
	}
	sid, _ := gocql.ParseUUID(next.SessionID)
	err = session.Query(fmt.Sprintf(`INSERT INTO %s.account_sessions (user_id,session_id,device_label,started_at,last_ping) VALUES (?,?,?,?,?)`, keyspace),
		uid, sid, deviceLabel, now, now).WithContext(ctx).Exec()
	if err != nil {
		return AccountSession{}, err
	}
	return next, nil
}

// TouchAccountSession records a liveness ping. It only touches the record
// when sessionID still owns it, so a superseded session cannot keep the new
// one's record fresh.
func TouchAccountSession(ctx context.Context, session *gocql.Session, keyspace, userID, sessionID string) (bool, error) {
	current, found, err := GetAccountSession(ctx, session, keyspace, userID)
	if err != nil {
		return false, err
	}
	if !found || current.SessionID != sessionID {
		return false, nil
	}
	uid, err := gocql.ParseUUID(userID)
	if err != nil {
		return false, err
	}
	err = session.Query(fmt.Sprintf(`UPDATE %s.account_sessions SET last_ping=? WHERE user_id=?`, keyspace),
		time.Now(), uid).WithContext(ctx).Exec()
	if err != nil {
		return false, err
	}
	return true, nil
}

// ReleaseAccountSession drops the record on logout, but only when sessionID
// still owns it.
func ReleaseAccountSession(ctx context.Context, session *gocql.Session, keyspace, userID, sessionID string) error {
	current, found, err := GetAccountSession(ctx, session, keyspace, userID)
	if err != nil {
		return err
	}
	if !found || current.SessionID != sessionID {
		return nil
	}
	uid, err := gocql.ParseUUID(userID)
	if err != nil {
		return err
	}
	return session.Query(fmt.Sprintf(`DELETE FROM %s.account_sessions WHERE user_id=?`, keyspace), uid).
		WithContext(ctx).Exec()
}
