// Package invalidation carries "dataset changed" notifications from the
// loader to running servers so they drop cached copies of the dataset.
package invalidation

import (
	"fmt"
	"strings"
	"time"
)

const (
	OpReplace = "replace"
	OpAppend  = "append"
	OpDelete  = "delete"
)

type Event struct {
	Version int       `json:"version"`
	Op      string    `json:"op"`
	Dataset string    `json:"dataset"`
	TS      time.Time `json:"ts"`
	Points  int       `json:"points,omitempty"`
	Source  string    `json:"source,omitempty"`
}

func NewEvent(op, dataset string, points int, source string) Event {
	return Event{
		Version: 1,
		Op:      op,
		Dataset: dataset,
		TS:      time.Now().UTC(),
		Points:  points,
		Source:  source,
	}
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("version must be 1")
	}
	switch e.Op {
	case OpReplace, OpAppend, OpDelete:
	default:
		return fmt.Errorf("op must be replace|append|delete")
	}
	if strings.TrimSpace(e.Dataset) == "" {
		return fmt.Errorf("dataset is required")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	if e.Points < 0 {
		return fmt.Errorf("points must not be negative")
	}
	return nil
}
