package model

import (
	"encoding/json"
	"time"
)

// Setting はキーごとの設定値を表す。値は任意のJSON。
type Setting struct {
	Key       string
	Value     json.RawMessage
	UpdatedAt time.Time
}

// SettingsHistory は設定値の追記専用スナップショットを表す。
type SettingsHistory struct {
	ID        string
	Key       string
	Value     json.RawMessage
	CreatedAt time.Time
}
