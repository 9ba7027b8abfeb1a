package domain

import (
	"fmt"
	"strings"
	"time"
)

// Category selects the worker pool an errand runs on.
type Category string

const (
	Short  Category = "SHORT"
	Medium Category = "MEDIUM"
	Long   Category = "LONG"
)

// Categories lists every category in pool start order.
var Categories = []Category{Short, Medium, Long}

// ParseCategory normalizes s and checks it against the closed category set.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToUpper(strings.TrimSpace(s)))
	switch c {
	case Short, Medium, Long:
		return c, nil
	}
	return "", fmt.Errorf("%w: %q (allowed: SHORT, MEDIUM, LONG)", ErrUnknownCategory, s)
}

func (c Category) String() string { return string(c) }

// Trigger tells how a run was started.
type Trigger string

const (
	TriggerSchedule Trigger = "schedule"
	TriggerManual   Trigger = "manual"
)

// Run is one execution attempt of an errand.
type Run struct {
	ID        string
	ErrandID  string
	Name      string
	Category  Category
	Trigger   Trigger
	StartedAt time.Time
	Duration  time.Duration
	Success   bool
	Error     string
}
