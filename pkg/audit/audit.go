package audit

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lexconnect/lexconnect-backend/pkg/models"
)

// Logger writes activity log entries off the request path. Writes are
// fire-and-forget: a full queue or a failed insert is reported to the process
// log and never surfaces to the caller.
type Logger struct {
	db      *gorm.DB
	entries chan models.ActivityLog
	done    chan struct{}
}

const queueSize = 256

func NewLogger(db *gorm.DB) *Logger {
	l := &Logger{
		db:      db,
		entries: make(chan models.ActivityLog, queueSize),
		done:    make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Logger) run() {
	for e := range l.entries {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := l.db.WithContext(ctx).Create(&e).Error; err != nil {
			log.Printf("audit: dropped entry %s/%s: %v", e.ResourceType, e.Action, err)
		}
		cancel()
	}
	close(l.done)
}

// Record enqueues an audit entry. Old and new snapshots are marshaled to
// JSON here so the caller can pass plain structs or maps.
func (l *Logger) Record(userID uuid.UUID, action, resourceType string, resourceID uuid.UUID, oldValues, newValues any) {
	e := models.ActivityLog{
		UserID:       userID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		OldValues:    marshal(oldValues),
		NewValues:    marshal(newValues),
		CreatedAt:    time.Now(),
	}
	select {
	case l.entries <- e:
	default:
		log.Printf("audit: queue full, dropped entry %s/%s", resourceType, action)
	}
}

// Close stops the writer after the queue drains.
func (l *Logger) Close() {
	close(l.entries)
	<-l.done
}

func marshal(v any) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
