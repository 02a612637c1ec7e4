// ABOUTME: Global key/value settings such as whether user logins need a PIN
// ABOUTME: Values are strings; require_pin is on unless set to anything but "true"

package helpdesk

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/2389/helpdesk/internal/store"
)

// SettingRequirePIN controls whether user logins check the PIN.
const SettingRequirePIN = "require_pin"

// GetSetting returns a setting's value and whether it has been set.
func (s *Service) GetSetting(ctx context.Context, key string) (string, bool, error) {
	setting, err := s.store.GetSetting(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("loading setting %q: %w", key, err)
	}
	return setting.Value, true, nil
}

// SetSetting upserts a setting. Admin only.
func (s *Service) SetSetting(ctx context.Context, v *Viewer, key, value string) error {
	if err := requireAdmin(v); err != nil {
		return err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("%w: key is required", ErrInvalidInput)
	}

	previous, _, err := s.GetSetting(ctx, key)
	if err != nil {
		return err
	}
	if err := s.store.UpsertSetting(ctx, key, value); err != nil {
		return fmt.Errorf("saving setting %q: %w", key, err)
	}

	s.audit(ctx, v, store.AuditUpdateSetting, "setting", key, map[string]any{
		"from": previous,
		"to":   value,
	})
	return nil
}

// RequirePIN reports whether user logins must supply a PIN. It defaults to
// true when the setting has never been written.
func (s *Service) RequirePIN(ctx context.Context) (bool, error) {
	value, ok, err := s.GetSetting(ctx, SettingRequirePIN)
	if err != nil {
		return true, err
	}
	if !ok {
		return true, nil
	}
	return value == "true", nil
}

// SetRequirePIN toggles the PIN requirement. Admin only.
func (s *Service) SetRequirePIN(ctx context.Context, v *Viewer, require bool) error {
	return s.SetSetting(ctx, v, SettingRequirePIN, strconv.FormatBool(require))
}
