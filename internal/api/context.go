package api

import "context"

type userIDContextKey struct{}

type deviceIDContextKey struct{}

// WithUserID returns a new context carrying the calling user's id.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDContextKey{}, id)
}

// UserIDFromContext returns the user id set by RequireUser.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDContextKey{}).(string)
	return id, ok && id != ""
}

// WithDeviceID returns a new context carrying the calling device's id.
func WithDeviceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, deviceIDContextKey{}, id)
}

// DeviceIDFromContext returns the device id, or "unknown" when the
// client did not send one.
func DeviceIDFromContext(ctx context.Context) string {
	id, ok := ctx.Value(deviceIDContextKey{}).(string)
	if !ok || id == "" {
		return "unknown"
	}
	return id
}
