package model

import "time"

// ProfileExport is the top-level JSON structure for a profile backup.
type ProfileExport struct {
	ExportedAt time.Time        `json:"exported_at"`
	Profile    Profile          `json:"profile"`
	Topics     []AggregateEntry `json:"topics"`
	History    []HistoryRecord  `json:"history"`
	StudyTime  []StudyTimeEntry `json:"study_time"`
}
