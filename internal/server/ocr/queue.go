// Package ocr реализует durable очередь задач распознавания текста
// на изображениях. Задачи переживают рестарт сервера: очередь хранится
// в BoltDB файле рядом с основной базой.
package ocr

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

var (
	bucketJobs    = []byte("jobs")
	bucketPending = []byte("pending")

	// ErrJobNotFound возвращается при обращении к несуществующей задаче
	ErrJobNotFound = errors.New("ocr job not found")
	// ErrQueueEmpty возвращается, когда нет задач в статусе pending
	ErrQueueEmpty = errors.New("ocr queue empty")
)

// Статусы задачи
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

// Job представляет задачу распознавания
type Job struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ID        string    `json:"id"`
	ImagePath string    `json:"image_path"`
	Status    string    `json:"status"`
	Result    string    `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	NoteID    int64     `json:"note_id"`
}

// Queue durable FIFO очередь OCR задач
type Queue struct {
	db *bbolt.DB
}

// New открывает очередь в указанном BoltDB файле
func New(ctx context.Context, dbPath string) (*Queue, error) {
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open ocr queue db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketJobs); err != nil {
			return fmt.Errorf("failed to create jobs bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists(bucketPending); err != nil {
			return fmt.Errorf("failed to create pending bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Queue{db: db}, nil
}

// Close closes the queue database
func (q *Queue) Close() error {
	if q.db == nil {
		return nil
	}
	return q.db.Close()
}

// Enqueue ставит задачу в очередь и возвращает ее
func (q *Queue) Enqueue(ctx context.Context, noteID int64, imagePath string) (*Job, error) {
	now := time.Now()
	job := &Job{
		ID:        uuid.New().String(),
		NoteID:    noteID,
		ImagePath: imagePath,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := q.db.Update(func(tx *bbolt.Tx) error {
		if err := putJob(tx, job); err != nil {
			return err
		}

		// FIFO порядок через монотонный sequence ключ
		pending := tx.Bucket(bucketPending)
		seq, err := pending.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to get next sequence: %w", err)
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		if err := pending.Put(key, []byte(job.ID)); err != nil {
			return fmt.Errorf("failed to enqueue job: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Claim забирает самую старую pending задачу и переводит ее в processing.
// Возвращает ErrQueueEmpty, если очередь пуста.
func (q *Queue) Claim(ctx context.Context) (*Job, error) {
	var job *Job

	err := q.db.Update(func(tx *bbolt.Tx) error {
		pending := tx.Bucket(bucketPending)
		cursor := pending.Cursor()
		key, jobID := cursor.First()
		if key == nil {
			return ErrQueueEmpty
		}

		var err error
		job, err = getJob(tx, string(jobID))
		if err != nil {
			return err
		}
		if err := pending.Delete(key); err != nil {
			return fmt.Errorf("failed to dequeue job: %w", err)
		}

		job.Status = StatusProcessing
		job.UpdatedAt = time.Now()
		return putJob(tx, job)
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Complete переводит задачу в done с распознанным текстом
func (q *Queue) Complete(ctx context.Context, jobID, result string) error {
	return q.finish(jobID, StatusDone, result, "")
}

// Fail переводит задачу в failed с текстом ошибки
func (q *Queue) Fail(ctx context.Context, jobID, reason string) error {
	return q.finish(jobID, StatusFailed, "", reason)
}

func (q *Queue) finish(jobID, status, result, reason string) error {
	return q.db.Update(func(tx *bbolt.Tx) error {
		job, err := getJob(tx, jobID)
		if err != nil {
			return err
		}
		job.Status = status
		job.Result = result
		job.Error = reason
		job.UpdatedAt = time.Now()
		return putJob(tx, job)
	})
}

// Get возвращает задачу по идентификатору
func (q *Queue) Get(ctx context.Context, jobID string) (*Job, error) {
	var job *Job
	err := q.db.View(func(tx *bbolt.Tx) error {
		var err error
		job, err = getJob(tx, jobID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Len возвращает число pending задач
func (q *Queue) Len(ctx context.Context) (int, error) {
	var n int
	err := q.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketPending).Stats().KeyN
		return nil
	})
	return n, err
}

func putJob(tx *bbolt.Tx, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := tx.Bucket(bucketJobs).Put([]byte(job.ID), data); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

func getJob(tx *bbolt.Tx, jobID string) (*Job, error) {
	data := tx.Bucket(bucketJobs).Get([]byte(jobID))
	if data == nil {
		return nil, ErrJobNotFound
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}
