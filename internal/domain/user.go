// Package domain defines the persisted documents and shared constants.
package domain

import "time"

// User is one row per distinct Telegram user. Display fields always carry
// the latest observed values; the *First attribution fields are write-once
// and keep the first-touch source for the lifetime of the record.
type User struct {
	UserID          int64     `bson:"user_id" json:"user_id"`
	Username        string    `bson:"username" json:"username"`
	FirstName       string    `bson:"first_name" json:"first_name"`
	LastName        string    `bson:"last_name" json:"last_name"`
	CreatedAt       time.Time `bson:"created_at" json:"created_at"`
	LastSeenAt      time.Time `bson:"last_seen_at" json:"last_seen_at"`
	StartParamFirst *string   `bson:"start_param_first" json:"start_param_first"`
	SourceFirst     *string   `bson:"source_first" json:"source_first"`
	VariantFirst    *string   `bson:"variant_first" json:"variant_first"`
}
