package repository

import (
	"gorm.io/gorm"
)

// conn 事务内用 tx，否则退回到仓储自己的连接
func conn(db, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return db
}
