package model

import "time"

// NoteEntry is one authored entry in the shared Notepad, appended under a
// dot-path topic (e.g. "architecture.layers") in writer-arrival order.
type NoteEntry struct {
	Content   string    `json:"content"`
	Author    string    `json:"author"` // agent id
	Timestamp time.Time `json:"timestamp"`
	Topic     string    `json:"topic"`
}
