package task

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/lithammer/shortuuid/v4"
	"go.etcd.io/bbolt"
)

var (
	// ErrTaskNotFound reports an identifier with no task behind it. It is
	// never conflated with a pending default.
	ErrTaskNotFound = errors.New("task not found")

	// ErrNotPending means a claim lost the race: the task is already owned
	// by another claimer or has finished.
	ErrNotPending = errors.New("task is not pending")

	// ErrNotFailed means a retry was requested for a task that is not in
	// the failed state.
	ErrNotFailed = errors.New("task is not failed")

	// ErrTerminal means a finalization arrived for a task that is already
	// done or failed. Terminal states are absorbing.
	ErrTerminal = errors.New("task already finalized")
)

// errorExcerptLimit bounds how much converter diagnostic text is kept on a
// failed task.
const errorExcerptLimit = 2000

var (
	tasksBucket = []byte("tasks")
	orderBucket = []byte("created_order")
)

// Store is the durable record of conversion tasks, backed by bbolt. Every
// mutation runs inside a single update transaction, so concurrent
// executors never observe a torn task and the pending->processing claim is
// a true compare-and-set.
type Store struct {
	db *bbolt.DB
}

// OpenStore opens (or creates) the task database at path.
func OpenStore(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("could not open task database %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(tasksBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(orderBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not prepare task buckets: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func putTask(b *bbolt.Bucket, t *Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return b.Put([]byte(t.ID), data)
}

func getTask(b *bbolt.Bucket, id string) (*Task, error) {
	data := b.Get([]byte(id))
	if data == nil {
		return nil, ErrTaskNotFound
	}
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("corrupt task record %s: %w", id, err)
	}
	return &t, nil
}

func orderKey(seq uint64) []byte {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], seq)
	return key[:]
}

// NewID returns a fresh task identifier. Callers mint the id before the
// row exists so the input file can be persisted under it first.
func NewID() string { return shortuuid.New() }

// Create inserts a pending task under the given id with progress 0, no
// result and no error, and returns it. The moment this commits the task is
// claimable, so everything it references must already be on disk.
func (s *Store) Create(id, originalFilename, outputFormat string) (*Task, error) {
	if outputFormat == "" {
		outputFormat = "docx"
	}
	now := time.Now().UTC()
	t := &Task{
		ID:               id,
		Status:           StatusPending,
		Progress:         0,
		OriginalFilename: originalFilename,
		OutputFormat:     outputFormat,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		order := tx.Bucket(orderBucket)
		seq, err := order.NextSequence()
		if err != nil {
			return err
		}
		t.Seq = seq
		if err := order.Put(orderKey(seq), []byte(t.ID)); err != nil {
			return err
		}
		return putTask(tx.Bucket(tasksBucket), t)
	})
	if err != nil {
		return nil, fmt.Errorf("could not create task: %w", err)
	}
	return t, nil
}

// Get returns a consistent snapshot of one task.
func (s *Store) Get(id string) (*Task, error) {
	var t *Task
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		t, err = getTask(tx.Bucket(tasksBucket), id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Claim atomically transitions a pending task to processing and sets its
// progress to 20. Exactly one of any number of concurrent claimers wins;
// the rest get ErrNotPending.
func (s *Store) Claim(id string) (*Task, error) {
	var claimed *Task
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(tasksBucket)
		t, err := getTask(b, id)
		if err != nil {
			return err
		}
		if t.Status != StatusPending {
			return ErrNotPending
		}
		t.Status = StatusProcessing
		t.Progress = 20
		t.UpdatedAt = time.Now().UTC()
		claimed = t
		return putTask(b, t)
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// SetProgress advances a processing task's progress. Progress never moves
// backwards, and terminal tasks are left untouched.
func (s *Store) SetProgress(id string, progress int) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(tasksBucket)
		t, err := getTask(b, id)
		if err != nil {
			return err
		}
		if t.Status.Terminal() || progress <= t.Progress {
			return nil
		}
		if progress > 100 {
			progress = 100
		}
		t.Progress = progress
		t.UpdatedAt = time.Now().UTC()
		return putTask(b, t)
	})
}

// FinalizeDone marks a task done with its result file and progress 100.
func (s *Store) FinalizeDone(id, resultPath string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(tasksBucket)
		t, err := getTask(b, id)
		if err != nil {
			return err
		}
		if t.Status.Terminal() {
			return ErrTerminal
		}
		t.Status = StatusDone
		t.Progress = 100
		t.ResultPath = resultPath
		t.ErrorMessage = ""
		t.UpdatedAt = time.Now().UTC()
		return putTask(b, t)
	})
}

// FinalizeFailed records a bounded diagnostic excerpt and marks the task
// failed. Progress keeps its last value; it is informational only once a
// task has failed.
func (s *Store) FinalizeFailed(id, errorMessage string) error {
	errorMessage = truncateExcerpt(errorMessage)
	if errorMessage == "" {
		errorMessage = "conversion failed with no diagnostic output"
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(tasksBucket)
		t, err := getTask(b, id)
		if err != nil {
			return err
		}
		if t.Status.Terminal() {
			return ErrTerminal
		}
		t.Status = StatusFailed
		t.ResultPath = ""
		t.ErrorMessage = errorMessage
		t.UpdatedAt = time.Now().UTC()
		return putTask(b, t)
	})
}

// ResetFailed returns a failed task to pending so it becomes eligible for
// one more claim. This is the only path out of a terminal state and it is
// always an explicit caller decision, never automatic.
func (s *Store) ResetFailed(id string) (*Task, error) {
	var reset *Task
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(tasksBucket)
		t, err := getTask(b, id)
		if err != nil {
			return err
		}
		if t.Status != StatusFailed {
			return ErrNotFailed
		}
		t.Status = StatusPending
		t.Progress = 0
		t.ErrorMessage = ""
		t.ResultPath = ""
		t.UpdatedAt = time.Now().UTC()
		reset = t
		return putTask(b, t)
	})
	if err != nil {
		return nil, err
	}
	return reset, nil
}

// ListPage returns one page of tasks ordered newest first, plus the total
// number of tasks.
func (s *Store) ListPage(page, perPage int) ([]*Task, int, error) {
	if page < 1 {
		page = 1
	}
	var out []*Task
	var total int
	err := s.db.View(func(tx *bbolt.Tx) error {
		tasks := tx.Bucket(tasksBucket)
		total = tasks.Stats().KeyN
		skip := (page - 1) * perPage
		c := tx.Bucket(orderBucket).Cursor()
		for k, id := c.Last(); k != nil; k, id = c.Prev() {
			if skip > 0 {
				skip--
				continue
			}
			if len(out) == perPage {
				break
			}
			t, err := getTask(tasks, string(id))
			if err != nil {
				return err
			}
			out = append(out, t)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// ListPending returns the ids of all currently pending tasks, oldest first.
func (s *Store) ListPending() ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		tasks := tx.Bucket(tasksBucket)
		c := tx.Bucket(orderBucket).Cursor()
		for k, id := c.First(); k != nil; k, id = c.Next() {
			t, err := getTask(tasks, string(id))
			if err != nil {
				return err
			}
			if t.Status == StatusPending {
				ids = append(ids, t.ID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Delete removes the task row atomically and returns the removed task so
// the caller can delete its backing files. A failure to remove files later
// can never resurrect the row.
func (s *Store) Delete(id string) (*Task, error) {
	var t *Task
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(tasksBucket)
		var err error
		t, err = getTask(b, id)
		if err != nil {
			return err
		}
		if err := tx.Bucket(orderBucket).Delete(orderKey(t.Seq)); err != nil {
			return err
		}
		return b.Delete([]byte(id))
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// truncateExcerpt bounds a diagnostic without cutting a multi-byte rune in
// half.
func truncateExcerpt(s string) string {
	if len(s) <= errorExcerptLimit {
		return s
	}
	cut := errorExcerptLimit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
