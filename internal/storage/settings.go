package storage

import (
	"github.com/web3guy0/guardrail/internal/types"
)

// Settings and audit queries. The CAS protocol lives in the settings
// package; the store only offers the primitives.

// GetSettings returns the user's settings row, or IsNotFound error.
func (s *Store) GetSettings(userID string) (*types.Settings, error) {
	var st types.Settings
	if err := s.db.First(&st, "user_id = ?", userID).Error; err != nil {
		return nil, err
	}
	return &st, nil
}

// CreateSettings inserts the initial settings row for a user.
func (s *Store) CreateSettings(st *types.Settings) error {
	return s.db.Create(st).Error
}

// UpdateSettingsCAS writes st only if the stored version still matches
// expectVersion. Returns false (no error) when the compare failed.
func (s *Store) UpdateSettingsCAS(st *types.Settings, expectVersion int) (bool, error) {
	res := s.db.Model(&types.Settings{}).
		Where("user_id = ? AND version = ?", st.UserID, expectVersion).
		Select("*").
		Updates(st)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// CreateSettingsAudit appends one audit row.
func (s *Store) CreateSettingsAudit(a *types.SettingsAudit) error {
	return s.db.Create(a).Error
}

// ListSettingsAudit returns audit rows newest first.
func (s *Store) ListSettingsAudit(userID string, limit int) ([]types.SettingsAudit, error) {
	var rows []types.SettingsAudit
	err := s.db.Where("user_id = ?", userID).
		Order("version DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

// CountSettingsAudit returns the number of audit rows for a user at a version.
func (s *Store) CountSettingsAudit(userID string, version int) (int64, error) {
	var n int64
	err := s.db.Model(&types.SettingsAudit{}).
		Where("user_id = ? AND version = ?", userID, version).Count(&n).Error
	return n, err
}
