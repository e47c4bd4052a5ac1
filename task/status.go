package task

import "time"

// StatusView is the read-only projection of a task returned by the status
// and list endpoints. Exactly one constructor exists per task state, so a
// response never mixes fields belonging to different states.
type StatusView struct {
	TaskID            string    `json:"task_id"`
	Status            Status    `json:"status"`
	Progress          int       `json:"progress"`
	OriginalFilename  string    `json:"original_filename,omitempty"`
	DownloadAvailable bool      `json:"download_available"`
	Error             string    `json:"error,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

func baseView(t *Task) StatusView {
	return StatusView{
		TaskID:           t.ID,
		Status:           t.Status,
		Progress:         t.Progress,
		OriginalFilename: t.OriginalFilename,
		CreatedAt:        t.CreatedAt,
	}
}

func PendingView(t *Task) StatusView { return baseView(t) }

func ProcessingView(t *Task) StatusView { return baseView(t) }

// DoneView reports download availability. A done row whose result file has
// vanished keeps its done status but carries a distinct error instead of a
// misleading success.
func DoneView(t *Task, resultPresent bool) StatusView {
	v := baseView(t)
	v.DownloadAvailable = resultPresent
	if !resultPresent {
		v.Error = "result file is missing"
	}
	return v
}

func FailedView(t *Task) StatusView {
	v := baseView(t)
	v.Error = t.ErrorMessage
	return v
}

// ViewOf projects a task snapshot into its wire shape. resultPresent tells
// whether the result file was confirmed on disk at read time; it only
// matters for done tasks.
func ViewOf(t *Task, resultPresent bool) StatusView {
	switch t.Status {
	case StatusProcessing:
		return ProcessingView(t)
	case StatusDone:
		return DoneView(t, resultPresent)
	case StatusFailed:
		return FailedView(t)
	default:
		return PendingView(t)
	}
}
