package metadata

import (
	"errors"
	"fmt"
	"strconv"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// --- 通用读写 ---

// GetValue 读取指定键的值，键不存在时返回空字符串。
func GetValue(db *gorm.DB, key string) (string, error) {
	var meta Metadata
	err := db.Clauses(clause.Locking{Strength: "UPDATE"}).Where(&Metadata{Key: key}).First(&meta).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}
	return meta.Value, nil
}

// SetValue 写入或更新指定键。
func SetValue(db *gorm.DB, key, value string) error {
	meta := Metadata{
		Key:   key,
		Value: value,
	}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&meta).Error
}

// --- 专用辅助函数 ---

// NextNonce 递增并返回回合nonce。
// 应在创建回合的事务内调用，回滚时nonce一并回滚。
func NextNonce(tx *gorm.DB) (uint64, error) {
	raw, err := GetValue(tx, RoundNonceKey)
	if err != nil {
		return 0, err
	}
	var current uint64
	if raw != "" {
		current, err = strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("无法解析元数据 %q: %w", RoundNonceKey, err)
		}
	}
	next := current + 1
	if err := SetValue(tx, RoundNonceKey, strconv.FormatUint(next, 10)); err != nil {
		return 0, err
	}
	return next, nil
}
