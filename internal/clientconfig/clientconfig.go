// Package clientconfig persists the small bits of local CLI state that
// aren't domain data: the device's stable identifier and its bearer
// token, at ~/.config/dequeue-sync/{device,auth}.json, matching the
// teacher's syncconfig package's plain JSON-file-per-concern layout.
package clientconfig

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/DequeueApp/dequeue-sync-core/internal/store"
)

func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("clientconfig: get home dir: %w", err)
	}
	dir := filepath.Join(home, ".config", "dequeue-sync")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("clientconfig: create config dir: %w", err)
	}
	return dir, nil
}

type deviceFile struct {
	DeviceID string `json:"device_id"`
}

// FileDeviceID implements syncclient.DeviceIDProvider, persisting a
// generated id to device.json on first use so it stays stable across
// restarts.
type FileDeviceID struct{}

func (FileDeviceID) DeviceID(ctx context.Context) (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, "device.json")

	data, err := os.ReadFile(path)
	if err == nil {
		var f deviceFile
		if err := json.Unmarshal(data, &f); err == nil && f.DeviceID != "" {
			return f.DeviceID, nil
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("clientconfig: read device.json: %w", err)
	}

	f := deviceFile{DeviceID: store.NewDeviceID()}
	out, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return "", fmt.Errorf("clientconfig: marshal device.json: %w", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return "", fmt.Errorf("clientconfig: write device.json: %w", err)
	}
	return f.DeviceID, nil
}

type authFile struct {
	Token string `json:"token"`
}

// FileToken implements syncclient.TokenProvider by reading a bearer
// token from auth.json. Refresh re-reads the file, so `dequeue-sync
// login` (writing a fresh token out-of-band) is picked up without a
// restart.
type FileToken struct{}

func (FileToken) Token(ctx context.Context) (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(filepath.Join(dir, "auth.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("clientconfig: not authenticated, run 'dequeue-sync login <token>' first")
		}
		return "", fmt.Errorf("clientconfig: read auth.json: %w", err)
	}
	var f authFile
	if err := json.Unmarshal(data, &f); err != nil {
		return "", fmt.Errorf("clientconfig: parse auth.json: %w", err)
	}
	return f.Token, nil
}

func (f FileToken) Refresh(ctx context.Context) (string, error) {
	return f.Token(ctx)
}

// SaveToken writes a bearer token to auth.json (0600, since it's a
// credential).
func SaveToken(token string) error {
	dir, err := configDir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(authFile{Token: token}, "", "  ")
	if err != nil {
		return fmt.Errorf("clientconfig: marshal auth.json: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, "auth.json"), data, 0o600)
}
