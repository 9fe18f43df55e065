package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the authenticated identity plus the account session the
// token was minted for. Session enforcement compares SessionID against the
// account's current session record.
type Claims struct {
	UserID    string
	Role      string
	SessionID string
}

type jwtClaims struct {
	UserID    string `json:"uid"`
	Role      string `json:"role"`
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

type playbackClaims struct {
	VideoID   string `json:"vid"`
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

type Service struct {
	secret []byte
}

func NewService(secret string) *Service {
	return &Service{secret: []byte(secret)}
}

func (s *Service) GenerateTokens(userID, role, sessionID string) (string, string, error) {
	now := time.Now()
	accessClaims := jwtClaims{
		UserID:    userID,
		Role:      role,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(15 * time.Minute)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	refreshClaims := jwtClaims{
		UserID:    userID,
		Role:      role,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(7 * 24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims).SignedString(s.secret)
	if err != nil {
		return "", "", err
	}
	refresh, err := jwt.NewWithClaims(jwt.SigningMethodHS256, refreshClaims).SignedString(s.secret)
	if err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

func (s *Service) parseToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &jwtClaims{}, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	c, ok := token.Claims.(*jwtClaims)
	if !ok {
		return nil, errors.New("invalid claims")
	}
	return &Claims{UserID: c.UserID, Role: c.Role, SessionID: c.SessionID}, nil
}

func (s *Service) ParseToken(tokenStr string) (*Claims, error) {
	return s.parseToken(tokenStr)
}

func (s *Service) Refresh(refreshToken string) (string, string, error) {
	claims, err := s.parseToken(refreshToken)
	if err != nil {
		return "", "", err
	}
	return s.GenerateTokens(claims.UserID, claims.Role, claims.SessionID)
}

// GeneratePlaybackToken mints a short-lived token bound to one video. It is
// carried in stream URLs as a query parameter, so it must expire with the
// playback credential rather than the login session.
func (s *Service) GeneratePlaybackToken(videoID, sessionID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := playbackClaims{
		VideoID:   videoID,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// ParsePlaybackToken validates a playback token and checks it was issued for
// videoID. Returns the session the token belongs to.
func (s *Service) ParsePlaybackToken(tokenStr, videoID string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &playbackClaims{}, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", errors.New("invalid token")
	}
	c, ok := token.Claims.(*playbackClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}
	if c.VideoID != videoID {
		return "", errors.New("token issued for a different video")
	}
	return c.SessionID, nil
}

type ctxKey string

const claimsKey ctxKey = "claims"

func ClaimsFromContext(ctx context.Context) *Claims {
	val, ok := ctx.Value(claimsKey).(*Claims)
	if !ok {
		return nil
	}
	return val
}

func (s *Service) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authz := r.Header.Get("Authorization")
		if authz == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}
		parts := strings.SplitN(authz, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			http.Error(w, "invalid auth header", http.StatusUnauthorized)
			return
		}
		claims, err := s.parseToken(parts[1])
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Service) RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return s.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil || claims.Role != role {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		}))
	}
}
