package task

import (
	"context"
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// Task is one conversion request and its tracked lifecycle. The store
// serializes the whole struct; the HTTP surface only ever sees the
// StatusView projection.
type Task struct {
	ID               string    `json:"id"`
	Seq              uint64    `json:"seq"`
	Status           Status    `json:"status"`
	Progress         int       `json:"progress"`
	OriginalFilename string    `json:"original_filename,omitempty"`
	OutputFormat     string    `json:"output_format"`
	ResultPath       string    `json:"result_path,omitempty"`
	ErrorMessage     string    `json:"error_message,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Converter is the boundary wrapping invocation of the external conversion
// tool. It is implemented by pandoc.Runner and mocked in tests. Convert
// must be safe for concurrent calls on distinct tasks.
type Converter interface {
	Convert(ctx context.Context, req ConvertRequest) (outputPath string, err error)
}

// ConvertRequest carries everything the adapter needs for one invocation.
type ConvertRequest struct {
	TaskID           string
	InputPath        string
	OriginalFilename string
	OutputFormat     string
}
