// Package auth persists the signed-in user of this device.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/piehlerb/job-estimator-sub000/internal/store"
)

// SettingKey is the settings key holding the session.
const SettingKey = "auth_session"

// ErrInvalidUser is returned when logging in without a user id.
var ErrInvalidUser = errors.New("user id is required")

// SettingsStore is the key/value storage a Session lives in.
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	DeleteSetting(ctx context.Context, key string) error
}

// Info describes the signed-in user.
type Info struct {
	UserID     string    `json:"userId"`
	Email      string    `json:"email,omitempty"`
	SignedInAt time.Time `json:"signedInAt"`
}

// Session reads the signed-in user from storage on every call, so a logout
// in another process is seen by the next sync trigger.
type Session struct {
	settings SettingsStore
	now      func() time.Time
}

// NewSession creates a session backed by settings.
func NewSession(settings SettingsStore) *Session {
	return &Session{
		settings: settings,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Login records userID as the signed-in user.
func (s *Session) Login(ctx context.Context, userID, email string) (*Info, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrInvalidUser
	}
	info := &Info{UserID: userID, Email: strings.TrimSpace(email), SignedInAt: s.now()}
	data, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	if err := s.settings.SetSetting(ctx, SettingKey, string(data)); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	slog.Info("user signed in",
		"component", "auth",
		"action", "login",
		"user_id", userID,
	)
	return info, nil
}

// Logout clears the session. Logging out when nobody is signed in is not
// an error.
func (s *Session) Logout(ctx context.Context) error {
	if err := s.settings.DeleteSetting(ctx, SettingKey); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	slog.Info("user signed out",
		"component", "auth",
		"action", "logout",
	)
	return nil
}

// Info returns the stored session, or store.ErrNotFound.
func (s *Session) Info(ctx context.Context) (*Info, error) {
	raw, err := s.settings.GetSetting(ctx, SettingKey)
	if err != nil {
		return nil, err
	}
	var info Info
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if info.UserID == "" {
		return nil, store.ErrNotFound
	}
	return &info, nil
}

// CurrentUser reports the signed-in user id. Storage errors count as
// signed out.
func (s *Session) CurrentUser(ctx context.Context) (string, bool) {
	info, err := s.Info(ctx)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Warn("failed to read session",
				"component", "auth",
				"action", "session_read_failed",
				"error", err,
			)
		}
		return "", false
	}
	return info.UserID, true
}
