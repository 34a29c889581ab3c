package monitor

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pysugar/food-log-nexus/internal/db/models"
	"gorm.io/gorm"
)

const (
	// MaxErrorSize limits stored error text
	MaxErrorSize = 4 * 1024
	// MaxMemoryLogs limits in-memory log cache
	MaxMemoryLogs = 100
	// DefaultLimit is used when callers pass no limit
	DefaultLimit = 50
)

// SubmissionMonitor keeps an audit trail of food-log submissions
type SubmissionMonitor struct {
	db      *gorm.DB
	enabled atomic.Bool
	pending sync.WaitGroup

	recentLogs []models.SubmissionLog
	logsMu     sync.RWMutex

	totalSubmissions atomic.Int64
	successCount     atomic.Int64
	errorCount       atomic.Int64
}

// NewSubmissionMonitor creates a monitor on a migrated database. Recording is enabled.
func NewSubmissionMonitor(db *gorm.DB) *SubmissionMonitor {
	sm := &SubmissionMonitor{
		db:         db,
		recentLogs: make([]models.SubmissionLog, 0, MaxMemoryLogs),
	}
	sm.loadStatsFromDB()
	sm.enabled.Store(true)
	return sm
}

// SetEnabled enables or disables recording
func (sm *SubmissionMonitor) SetEnabled(enabled bool) {
	sm.enabled.Store(enabled)
	log.Printf("[Monitor] Submission logging %s", map[bool]string{true: "enabled", false: "disabled"}[enabled])
}

func (sm *SubmissionMonitor) IsEnabled() bool {
	return sm.enabled.Load()
}

// Record stores a submission (async, non-blocking)
func (sm *SubmissionMonitor) Record(entry models.SubmissionLog) {
	if !sm.IsEnabled() {
		return
	}

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp == 0 {
		entry.Timestamp = time.Now().UnixMilli()
	}
	if len(entry.Error) > MaxErrorSize {
		entry.Error = entry.Error[:MaxErrorSize] + "...[truncated]"
	}

	sm.totalSubmissions.Add(1)
	if entry.Status >= 200 && entry.Status < 400 {
		sm.successCount.Add(1)
	} else {
		sm.errorCount.Add(1)
	}

	sm.logsMu.Lock()
	sm.recentLogs = append([]models.SubmissionLog{entry}, sm.recentLogs...)
	if len(sm.recentLogs) > MaxMemoryLogs {
		sm.recentLogs = sm.recentLogs[:MaxMemoryLogs]
	}
	sm.logsMu.Unlock()

	sm.pending.Add(1)
	go func(e models.SubmissionLog) {
		defer sm.pending.Done()
		if err := sm.db.Create(&e).Error; err != nil {
			log.Printf("[Monitor] Failed to save submission log: %v", err)
		}
	}(entry)
}

// Wait blocks until queued writes have reached the database
func (sm *SubmissionMonitor) Wait() {
	sm.pending.Wait()
}

// Recent returns the latest submissions of one identity, newest first
func (sm *SubmissionMonitor) Recent(localIdentity string, limit int) []models.SubmissionLog {
	if limit <= 0 || limit > MaxMemoryLogs {
		limit = DefaultLimit
	}

	var logs []models.SubmissionLog
	err := sm.db.Where("local_identity = ?", localIdentity).
		Order("timestamp DESC").
		Limit(limit).
		Find(&logs).Error
	if err == nil {
		return logs
	}

	log.Printf("[Monitor] Failed to get submission logs from DB: %v", err)
	// Fallback to memory
	sm.logsMu.RLock()
	defer sm.logsMu.RUnlock()
	logs = logs[:0]
	for _, l := range sm.recentLogs {
		if l.LocalIdentity == localIdentity {
			logs = append(logs, l)
			if len(logs) == limit {
				break
			}
		}
	}
	return logs
}

// Stats returns service-wide counters. They are for operators, never for a
// single caller.
func (sm *SubmissionMonitor) Stats() models.SubmissionStats {
	return models.SubmissionStats{
		TotalSubmissions: sm.totalSubmissions.Load(),
		SuccessCount:     sm.successCount.Load(),
		ErrorCount:       sm.errorCount.Load(),
	}
}

// StatsFor counts the persisted submissions of one identity. Callers that
// need queued entries included should Wait first.
func (sm *SubmissionMonitor) StatsFor(localIdentity string) models.SubmissionStats {
	var stats models.SubmissionStats
	q := func() *gorm.DB {
		return sm.db.Model(&models.SubmissionLog{}).Where("local_identity = ?", localIdentity)
	}
	if err := q().Count(&stats.TotalSubmissions).Error; err != nil {
		log.Printf("[Monitor] Failed to count submissions: %v", err)
		return stats
	}
	q().Where("status >= 200 AND status < 400").Count(&stats.SuccessCount)
	stats.ErrorCount = stats.TotalSubmissions - stats.SuccessCount
	return stats
}

func (sm *SubmissionMonitor) loadStatsFromDB() {
	var total, success, errors int64

	sm.db.Model(&models.SubmissionLog{}).Count(&total)
	sm.db.Model(&models.SubmissionLog{}).Where("status >= 200 AND status < 400").Count(&success)
	sm.db.Model(&models.SubmissionLog{}).Where("status < 200 OR status >= 400").Count(&errors)

	sm.totalSubmissions.Store(total)
	sm.successCount.Store(success)
	sm.errorCount.Store(errors)

	log.Printf("[Monitor] Loaded stats: total=%d, success=%d, errors=%d", total, success, errors)
}
