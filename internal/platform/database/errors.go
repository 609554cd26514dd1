package database

import (
	"errors"

	"gorm.io/gorm"
)

// IsDuplicateKeyError 判断是否为唯一约束冲突。
// 数据库必须以TranslateError打开（见Open）。
func IsDuplicateKeyError(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

// IsNotFound 判断是否为gorm的记录不存在错误。
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
