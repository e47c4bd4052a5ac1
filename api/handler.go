package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"docconvert/config"
	"docconvert/events"
	"docconvert/pandoc"
	"docconvert/storage"
	"docconvert/task"
)

const defaultPerPage = 10

type Handler struct {
	store   *task.Store
	layout  *storage.Layout
	emitter events.Emitter
	cfg     *config.Config
	logger  *slog.Logger
}

func NewHandler(store *task.Store, layout *storage.Layout, emitter events.Emitter, cfg *config.Config, logger *slog.Logger) *Handler {
	return &Handler{
		store:   store,
		layout:  layout,
		emitter: emitter,
		cfg:     cfg,
		logger:  logger.With("component", "api"),
	}
}

type ConvertRequest struct {
	Markdown     string `json:"markdown" form:"markdown"`
	OutputFormat string `json:"output_format" form:"output_format"`
}

// statusResponse wraps the task projection with the download link the API
// layer is responsible for.
type statusResponse struct {
	task.StatusView
	DownloadURL string `json:"download_url,omitempty"`
}

// handleCreateTask accepts markdown text (JSON or form field) or a file
// upload, persists the source, creates the pending task and emits
// TaskCreated. The response returns before the conversion starts.
func (h *Handler) handleCreateTask(c *gin.Context) {
	var (
		source       io.Reader
		originalName string
		outputFormat string
	)

	if file, err := c.FormFile("file"); err == nil {
		if h.cfg.MaxInputSize > 0 && file.Size > h.cfg.MaxInputSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("input exceeds size limit of %d bytes", h.cfg.MaxInputSize)})
			return
		}
		f, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("could not read upload: %v", err)})
			return
		}
		defer f.Close()
		source = f
		originalName = file.Filename
		outputFormat = c.PostForm("output_format")
	} else {
		var req ConvertRequest
		if err := c.ShouldBind(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if strings.TrimSpace(req.Markdown) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "no file or markdown provided"})
			return
		}
		source = strings.NewReader(req.Markdown)
		outputFormat = req.OutputFormat
	}

	if outputFormat == "" {
		outputFormat = pandoc.DefaultOutput
	}
	outputFormat = strings.ToLower(strings.TrimPrefix(outputFormat, "."))

	// The source must be on disk before the row exists: the moment Create
	// commits, a concurrent drain pass may claim the task and look for its
	// input.
	id := task.NewID()
	if _, err := h.layout.SaveUpload(id, storage.InputExt(originalName), source, h.cfg.MaxInputSize); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("could not store input: %v", err)})
		return
	}

	t, err := h.store.Create(id, originalName, outputFormat)
	if err != nil {
		if rerr := h.layout.RemoveTaskFiles(id, ""); rerr != nil {
			h.logger.Error("could not remove upload after failed create", "task_id", id, "error", rerr)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create task", "details": err.Error()})
		return
	}

	if err := h.emitter.EmitTaskCreated(c.Request.Context(), events.NewTaskCreated(t.ID)); err != nil {
		// The task stays pending; a drain pass will pick it up.
		h.logger.Error("dispatch failed", "task_id", t.ID, "error", err)
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":       string(t.Status),
		"task_id":      t.ID,
		"status_url":   h.absoluteURL(c, "/api/v1/tasks/"+t.ID),
		"download_url": h.absoluteURL(c, "/api/v1/tasks/"+t.ID+"/download"),
	})
}

// handleGetTaskStatus returns the status projection for one task.
func (h *Handler) handleGetTaskStatus(c *gin.Context) {
	t, ok := h.lookupTask(c)
	if !ok {
		return
	}
	view := task.ViewOf(t, h.resultPresent(t))
	resp := statusResponse{StatusView: view}
	if view.DownloadAvailable {
		resp.DownloadURL = h.absoluteURL(c, "/api/v1/tasks/"+t.ID+"/download")
	}
	c.JSON(http.StatusOK, resp)
}

// handleListTasks returns one page of tasks, newest first. Page sizes
// outside {10, 25, 50} fall back to the default instead of erroring.
func (h *Handler) handleListTasks(c *gin.Context) {
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", strconv.Itoa(defaultPerPage)))
	if perPage != 10 && perPage != 25 && perPage != 50 {
		perPage = defaultPerPage
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}

	tasks, total, err := h.store.ListPage(page, perPage)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	items := make([]statusResponse, 0, len(tasks))
	for _, t := range tasks {
		view := task.ViewOf(t, h.resultPresent(t))
		item := statusResponse{StatusView: view}
		if view.DownloadAvailable {
			item.DownloadURL = h.absoluteURL(c, "/api/v1/tasks/"+t.ID+"/download")
		}
		items = append(items, item)
	}

	totalPages := (total + perPage - 1) / perPage
	if totalPages == 0 {
		totalPages = 1
	}
	c.JSON(http.StatusOK, gin.H{
		"tasks":       items,
		"page":        page,
		"per_page":    perPage,
		"total":       total,
		"total_pages": totalPages,
	})
}

// handleDownloadTask streams the converted document once the task is done.
func (h *Handler) handleDownloadTask(c *gin.Context) {
	t, ok := h.lookupTask(c)
	if !ok {
		return
	}
	if t.Status != task.StatusDone {
		c.JSON(http.StatusNotFound, gin.H{"error": "document not ready, conversion may still be pending"})
		return
	}
	if !h.resultPresent(t) {
		c.JSON(http.StatusGone, gin.H{"error": "result file is missing"})
		return
	}
	c.FileAttachment(t.ResultPath, filepath.Base(t.ResultPath))
}

// handleDeleteTask removes the task row and its backing files. Deleting an
// unknown id reports not-found rather than succeeding silently.
func (h *Handler) handleDeleteTask(c *gin.Context) {
	taskID := c.Param("taskId")
	t, err := h.store.Delete(taskID)
	if err != nil {
		if errors.Is(err, task.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no such task"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := h.layout.RemoveTaskFiles(t.ID, t.ResultPath); err != nil {
		// The row is gone either way; the leftover file is an operator
		// concern, not a caller error.
		h.logger.Error("could not remove task files", "task_id", t.ID, "error", err)
	}
	c.JSON(http.StatusOK, gin.H{"message": "task deleted", "task_id": t.ID})
}

// handleRetryTask resets a failed task to pending and re-emits TaskCreated,
// making it eligible for exactly one more claim.
func (h *Handler) handleRetryTask(c *gin.Context) {
	taskID := c.Param("taskId")
	t, err := h.store.ResetFailed(taskID)
	if err != nil {
		switch {
		case errors.Is(err, task.ErrTaskNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "no such task"})
		case errors.Is(err, task.ErrNotFailed):
			c.JSON(http.StatusConflict, gin.H{"error": "only failed tasks can be retried"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	if err := h.emitter.EmitTaskCreated(c.Request.Context(), events.NewTaskCreated(t.ID)); err != nil {
		h.logger.Error("dispatch failed", "task_id", t.ID, "error", err)
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":     string(t.Status),
		"task_id":    t.ID,
		"status_url": h.absoluteURL(c, "/api/v1/tasks/"+t.ID),
	})
}

func (h *Handler) lookupTask(c *gin.Context) (*task.Task, bool) {
	taskID := c.Param("taskId")
	t, err := h.store.Get(taskID)
	if err != nil {
		if errors.Is(err, task.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no such task"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return nil, false
	}
	return t, true
}

// resultPresent confirms a done task's result file actually exists and is
// non-empty at read time.
func (h *Handler) resultPresent(t *task.Task) bool {
	if t.Status != task.StatusDone || t.ResultPath == "" {
		return false
	}
	info, err := os.Stat(t.ResultPath)
	return err == nil && info.Size() > 0
}

// absoluteURL builds a link for a response, preferring the configured base
// URL and falling back to the request host.
func (h *Handler) absoluteURL(c *gin.Context, path string) string {
	base := h.cfg.BaseURL
	if base == "" {
		scheme := "http"
		if c.Request.TLS != nil {
			scheme = "https"
		}
		base = fmt.Sprintf("%s://%s", scheme, c.Request.Host)
	}
	return strings.TrimSuffix(base, "/") + path
}
