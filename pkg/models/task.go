package models

import "time"

// Task is the smallest executable unit within a stage. ImplementingType is an
// opaque key resolved to a concrete implementation at run time.
type Task struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	ImplementingType string     `json:"implementingType"`
	Status           Status     `json:"status"`
	StartTime        *time.Time `json:"startTime,omitempty"`
	EndTime          *time.Time `json:"endTime,omitempty"`
	StageStart       bool       `json:"stageStart"`
	StageEnd         bool       `json:"stageEnd"`
	LoopStart        bool       `json:"loopStart,omitempty"`
	LoopEnd          bool       `json:"loopEnd,omitempty"`
}
