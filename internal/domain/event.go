package domain

import "time"

// Event kinds written to the events collection.
const (
	EventStart   = "start"
	EventBonus   = "bonus"
	EventConsult = "consult"
	EventStats   = "stats"
	EventReport  = "report"
)

// SystemUserID marks events not triggered by a Telegram user, such as the
// daily report publication.
const SystemUserID int64 = 0

// Event is one append-only row per observed action. The attribution fields
// hold what the triggering update itself carried, which may differ from the
// user's stored first touch on repeat visits.
type Event struct {
	UserID     int64     `bson:"user_id" json:"user_id"`
	Kind       string    `bson:"kind" json:"kind"`
	CreatedAt  time.Time `bson:"created_at" json:"created_at"`
	StartParam *string   `bson:"start_param" json:"start_param"`
	Source     *string   `bson:"source" json:"source"`
	Variant    *string   `bson:"variant" json:"variant"`
}
