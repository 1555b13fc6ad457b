package model

import "gorm.io/gorm"

// AutoMigrate 迁移所有表结构
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
		&Subscription{},
		&PaymentTransaction{},
		&CreditGrant{},
		&CreditTransaction{},
		&CreditTransactionEntry{},
		&WebhookEvent{},
	)
}
