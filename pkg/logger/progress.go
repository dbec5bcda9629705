package logger

import (
	"fmt"
	"sync"
	"time"
)

// ProgressTracker reports progress of a multi-stage operation such as a match run
type ProgressTracker struct {
	logger    Logger
	operation string
	total     int
	completed int
	items     int
	startTime time.Time
	now       func() time.Time
	mutex     sync.Mutex
}

// ProgressConfig configures progress tracking behavior
type ProgressConfig struct {
	Operation string           `json:"operation"`
	Stages    int              `json:"stages"`
	Logger    Logger           `json:"-"`
	Clock     func() time.Time `json:"-"`
}

// ProgressStats is a snapshot of a tracker
type ProgressStats struct {
	Operation string        `json:"operation"`
	Stages    int           `json:"stages"`
	Completed int           `json:"completed"`
	Items     int           `json:"items"`
	Elapsed   time.Duration `json:"elapsed"`
}

// String renders the stats on one line
func (ps ProgressStats) String() string {
	return fmt.Sprintf("%s: %d/%d stages, %d items, %s", ps.Operation, ps.Completed, ps.Stages, ps.Items, ps.Elapsed)
}

// NewProgressTracker creates a new progress tracker
func NewProgressTracker(config ProgressConfig) *ProgressTracker {
	if config.Logger == nil {
		config.Logger = GetGlobalLogger()
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}

	tracker := &ProgressTracker{
		logger:    config.Logger.WithComponent("progress"),
		operation: config.Operation,
		total:     config.Stages,
		startTime: config.Clock(),
		now:       config.Clock,
	}

	tracker.logger.WithFields(Fields{
		"operation": config.Operation,
		"stages":    config.Stages,
	}).Info("Starting operation")

	return tracker
}

// Advance records that a stage finished and produced items results
func (p *ProgressTracker) Advance(stage string, items int) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.completed++
	p.items += items

	p.logger.WithFields(Fields{
		"operation": p.operation,
		"stage":     stage,
		"found":     items,
		"progress":  fmt.Sprintf("%d/%d", p.completed, p.total),
	}).Info("Stage completed")
}

// Complete logs final statistics
func (p *ProgressTracker) Complete() {
	stats := p.GetStats()
	p.logger.WithFields(Fields{
		"operation": stats.Operation,
		"stages":    stats.Completed,
		"items":     stats.Items,
		"duration":  stats.Elapsed.String(),
	}).Info("Operation completed")
}

// CompleteWithError logs that the operation stopped early
func (p *ProgressTracker) CompleteWithError(err error) {
	stats := p.GetStats()
	p.logger.WithError(err).WithFields(Fields{
		"operation": stats.Operation,
		"stages":    fmt.Sprintf("%d/%d", stats.Completed, stats.Stages),
		"duration":  stats.Elapsed.String(),
	}).Error("Operation failed")
}

// GetStats returns a snapshot of the tracker
func (p *ProgressTracker) GetStats() ProgressStats {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return ProgressStats{
		Operation: p.operation,
		Stages:    p.total,
		Completed: p.completed,
		Items:     p.items,
		Elapsed:   p.now().Sub(p.startTime),
	}
}
