// Package models defines the core data types for market tracking and weight evolution.
package models

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Regime is a coarse market-condition label attached to a task at creation.
type Regime string

const (
	RegimeBull    Regime = "Bull"
	RegimeBear    Regime = "Bear"
	RegimeNeutral Regime = "Neutral"
)

// ParseRegime parses a regime label case-insensitively.
// An empty string yields RegimeNeutral.
func ParseRegime(s string) (Regime, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bull":
		return RegimeBull, true
	case "bear":
		return RegimeBear, true
	case "neutral", "":
		return RegimeNeutral, true
	default:
		return "", false
	}
}

// TaskStatus represents the lifecycle state of a tracking task.
type TaskStatus string

const (
	StatusActive TaskStatus = "active"
	StatusClosed TaskStatus = "closed"
)

// EntryOffset is the day offset of the entry checkpoint.
const EntryOffset = 0

// Checkpoint is a price snapshot captured at a fixed day offset after entry.
type Checkpoint struct {
	Offset     int       `json:"offset"`
	Price      float64   `json:"price"`
	CapturedAt time.Time `json:"captured_at"`
}

// TrackingTask follows one ticker recommended by one news item.
type TrackingTask struct {
	ID              string       `json:"tracking_id"`
	NewsID          string       `json:"news_id"`
	Ticker          string       `json:"ticker"`
	Regime          Regime       `json:"market_regime"`
	Status          TaskStatus   `json:"status"`
	EntryPrice      float64      `json:"price_t0"`
	CreatedAt       time.Time    `json:"t0_timestamp"`
	ExpectedCloseAt time.Time    `json:"expected_close_date"`
	Checkpoints     []Checkpoint `json:"checkpoints"`
	MaxDrawdown     *float64     `json:"max_drawdown,omitempty"`
	FinalPnL        *float64     `json:"final_pnl,omitempty"`
	ClosedAt        *time.Time   `json:"closed_at,omitempty"`
	Evolved         bool         `json:"evolved"`
}

// NewTrackingID returns an identifier of the form TRK<yyyymmddHHMMSS><6 hex>.
func NewTrackingID(now time.Time) string {
	id := uuid.New()
	return fmt.Sprintf("TRK%s%x", now.Format("20060102150405"), id[:3])
}

// IsClosed reports whether the task has been closed.
func (t *TrackingTask) IsClosed() bool {
	return t.Status == StatusClosed
}

// Checkpoint returns the checkpoint captured at offset, if any.
func (t *TrackingTask) Checkpoint(offset int) (Checkpoint, bool) {
	for _, cp := range t.Checkpoints {
		if cp.Offset == offset {
			return cp, true
		}
	}
	return Checkpoint{}, false
}

// HasCheckpoint reports whether a checkpoint exists at offset.
func (t *TrackingTask) HasCheckpoint(offset int) bool {
	_, ok := t.Checkpoint(offset)
	return ok
}

// AddCheckpoint inserts cp keeping checkpoints ordered by offset.
// An existing checkpoint at the same offset is left untouched.
func (t *TrackingTask) AddCheckpoint(cp Checkpoint) bool {
	if t.HasCheckpoint(cp.Offset) {
		return false
	}
	t.Checkpoints = append(t.Checkpoints, cp)
	sort.Slice(t.Checkpoints, func(i, j int) bool {
		return t.Checkpoints[i].Offset < t.Checkpoints[j].Offset
	})
	return true
}

// ReturnAt returns the fractional return from entry at offset.
func (t *TrackingTask) ReturnAt(offset int) (float64, bool) {
	cp, ok := t.Checkpoint(offset)
	if !ok || t.EntryPrice <= 0 {
		return 0, false
	}
	return FractionalReturn(t.EntryPrice, cp.Price), true
}

// DayOffset returns the number of calendar days between the entry date and now,
// both taken in now's location.
func (t *TrackingTask) DayOffset(now time.Time) int {
	return DayOffset(t.CreatedAt, now)
}

// DayOffset returns floor(now.date - t0.date) in days.
func DayOffset(t0, now time.Time) int {
	loc := now.Location()
	t0 = t0.In(loc)
	d0 := time.Date(t0.Year(), t0.Month(), t0.Day(), 0, 0, 0, 0, loc)
	d1 := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	// Midnight-to-midnight spans are whole days except across DST shifts.
	hours := d1.Sub(d0).Hours()
	if hours >= 0 {
		return int(hours/24 + 0.5)
	}
	return -int(-hours/24 + 0.5)
}

// FractionalReturn returns (price - entry) / entry.
func FractionalReturn(entry, price float64) float64 {
	if entry == 0 {
		return 0
	}
	return (price - entry) / entry
}

// TaskMetrics holds the final metrics of a completed task.
type TaskMetrics struct {
	FinalPnL    float64
	MaxDrawdown float64
}

// ComputeMetrics derives final PnL at finalOffset and the max drawdown across
// captured checkpoints. MaxDrawdown is capped at 0.
func ComputeMetrics(t *TrackingTask, finalOffset int) (TaskMetrics, bool) {
	pnl, ok := t.ReturnAt(finalOffset)
	if !ok {
		return TaskMetrics{}, false
	}
	drawdown := 0.0
	for _, cp := range t.Checkpoints {
		if r := FractionalReturn(t.EntryPrice, cp.Price); r < drawdown {
			drawdown = r
		}
	}
	return TaskMetrics{FinalPnL: pnl, MaxDrawdown: drawdown}, true
}
