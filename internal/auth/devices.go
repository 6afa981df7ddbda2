package auth

import (
	"context"
	"errors"
	"time"

	"faceattend/internal/store"
)

// DeviceRepo persists capture devices and their refresh tokens. Devices are
// the kiosks, desktops and browser sessions that submit frames.
type DeviceRepo struct {
	db *store.DB
}

// NewDeviceRepo creates a repo.
func NewDeviceRepo(db *store.DB) *DeviceRepo {
	return &DeviceRepo{db: db}
}

// Register ensures a device record exists.
func (r *DeviceRepo) Register(ctx context.Context, deviceID string) error {
	if deviceID == "" {
		return errors.New("device id required")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (device_id, registered_at)
		VALUES (?, ?)
		ON CONFLICT (device_id) DO NOTHING
	`, deviceID, time.Now().UTC())
	return err
}

// SaveRefreshToken stores a refresh token for rotation checks.
func (r *DeviceRepo) SaveRefreshToken(ctx context.Context, deviceID, token string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (device_id, token, expires_at)
		VALUES (?, ?, ?)
	`, deviceID, token, expiresAt)
	return err
}

// RevokeRefreshToken marks a token revoked.
func (r *DeviceRepo) RevokeRefreshToken(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = TRUE WHERE token = ?`, token)
	return err
}
