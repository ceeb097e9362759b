package db

import (
	"chatroom/internal/models"
	"chatroom/internal/service"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// LoadSnapshot 读取全部记录，用于启动时填充内存状态。
func LoadSnapshot(gdb *gorm.DB) (service.Snapshot, error) {
	var snap service.Snapshot
	if err := gdb.Find(&snap.Users).Error; err != nil {
		return snap, errors.Wrap(err, "load users")
	}
	if err := gdb.Find(&snap.Rooms).Error; err != nil {
		return snap, errors.Wrap(err, "load rooms")
	}
	if err := gdb.Order("seq asc").Order("created_at asc").Find(&snap.Messages).Error; err != nil {
		return snap, errors.Wrap(err, "load messages")
	}
	if err := gdb.Find(&snap.Sessions).Error; err != nil {
		return snap, errors.Wrap(err, "load sessions")
	}
	if err := gdb.Model(&models.RetiredMessageID{}).Pluck("id", &snap.RetiredMessageIDs).Error; err != nil {
		return snap, errors.Wrap(err, "load retired message ids")
	}
	return snap, nil
}
