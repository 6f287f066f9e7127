package service

import (
	"github.com/u16-io/avatarsync/db"
	"github.com/u16-io/avatarsync/model"
)

// GetAvatarURL retrieves the cached avatar URL from DB
func GetAvatarURL(userID string) string {
	if db.DB == nil {
		return ""
	}
	var avatar model.AvatarCache
	if err := db.DB.First(&avatar, "user_id = ?", userID).Error; err != nil {
		return ""
	}
	return avatar.AvatarURL
}

// SaveAvatarURL saves the avatar URL to DB
func SaveAvatarURL(userID, url string) error {
	if url == "" || db.DB == nil {
		return nil
	}
	avatar := model.AvatarCache{
		UserID:    userID,
		AvatarURL: url,
	}
	return db.DB.Save(&avatar).Error
}
