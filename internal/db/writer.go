package db

import (
	"context"
	"sync"

	"chatroom/internal/metrics"
	"chatroom/internal/models"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type op struct {
	name string
	id   string
	run  func(tx *gorm.DB) error
}

// Writer 是单协程的有序写队列，实现 service.Persister。
// 入队永不阻塞；失败只记录日志，不回滚已生效的内存状态。
type Writer struct {
	db *gorm.DB

	mu      sync.Mutex
	queue   []op
	wake    chan struct{}
	closing bool
	done    chan struct{}
}

func NewWriter(gdb *gorm.DB) *Writer {
	w := &Writer{db: gdb, wake: make(chan struct{}, 1), done: make(chan struct{})}
	go w.run()
	return w
}

func (w *Writer) enqueue(o op) {
	w.mu.Lock()
	if w.closing {
		w.mu.Unlock()
		log.Warn().Str("op", o.name).Str("id", o.id).Msg("write after close dropped")
		return
	}
	w.queue = append(w.queue, o)
	metrics.PersistQueue.Set(float64(len(w.queue)))
	w.mu.Unlock()
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Writer) run() {
	defer close(w.done)
	for {
		w.mu.Lock()
		batch := w.queue
		w.queue = nil
		metrics.PersistQueue.Set(0)
		closing := w.closing
		w.mu.Unlock()

		for _, o := range batch {
			if err := o.run(w.db); err != nil {
				metrics.PersistFailures.WithLabelValues(o.name).Inc()
				log.Error().Err(errors.Wrapf(err, "%s %s", o.name, o.id)).Msg("persist")
			}
		}
		if len(batch) > 0 {
			continue
		}
		if closing {
			return
		}
		<-w.wake
	}
}

// Close 停止接收新写入并等待队列排空。
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	w.closing = true
	w.mu.Unlock()
	select {
	case w.wake <- struct{}{}:
	default:
	}
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "drain write queue")
	}
}

func upsert(v any) func(tx *gorm.DB) error {
	return func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(v).Error
	}
}

func (w *Writer) SaveUser(u models.User) {
	w.enqueue(op{name: "save user", id: u.ID, run: upsert(&u)})
}

func (w *Writer) DeleteUser(userID string) {
	w.enqueue(op{name: "delete user", id: userID, run: func(tx *gorm.DB) error {
		return tx.Delete(&models.User{}, "id = ?", userID).Error
	}})
}

func (w *Writer) SaveRoom(r models.Room) {
	w.enqueue(op{name: "save room", id: r.ID, run: upsert(&r)})
}

func (w *Writer) DeleteRoom(roomID string) {
	w.enqueue(op{name: "delete room", id: roomID, run: func(tx *gorm.DB) error {
		return tx.Delete(&models.Room{}, "id = ?", roomID).Error
	}})
}

func (w *Writer) SaveMessage(m models.Message) {
	w.enqueue(op{name: "save message", id: m.ID, run: upsert(&m)})
}

// retire 记录被删除消息的 ID，避免重启后重新分配。
func retire(tx *gorm.DB, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	rows := make([]models.RetiredMessageID, len(ids))
	for i, id := range ids {
		rows[i] = models.RetiredMessageID{ID: id}
	}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(rows, 500).Error
}

func (w *Writer) DeleteMessage(messageID string) {
	w.enqueue(op{name: "delete message", id: messageID, run: func(db *gorm.DB) error {
		return db.Transaction(func(tx *gorm.DB) error {
			if err := retire(tx, []string{messageID}); err != nil {
				return err
			}
			return tx.Delete(&models.Message{}, "id = ?", messageID).Error
		})
	}})
}

func (w *Writer) DeleteRoomMessages(roomID string) {
	w.enqueue(op{name: "delete room messages", id: roomID, run: func(db *gorm.DB) error {
		return db.Transaction(func(tx *gorm.DB) error {
			var ids []string
			if err := tx.Model(&models.Message{}).Where("room_id = ?", roomID).Pluck("id", &ids).Error; err != nil {
				return err
			}
			if err := retire(tx, ids); err != nil {
				return err
			}
			return tx.Where("room_id = ?", roomID).Delete(&models.Message{}).Error
		})
	}})
}

func (w *Writer) SaveSession(s models.Session) {
	w.enqueue(op{name: "save session", id: s.UserID, run: upsert(&s)})
}

func (w *Writer) DeleteSession(sessionID string) {
	w.enqueue(op{name: "delete session", id: "", run: func(tx *gorm.DB) error {
		return tx.Delete(&models.Session{}, "id = ?", sessionID).Error
	}})
}
