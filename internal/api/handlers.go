package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"ocrstudio/internal/progress"
	"ocrstudio/internal/scheduler"
	"ocrstudio/internal/service"
	"ocrstudio/internal/task"
)

type taskRequest struct {
	Description     string               `json:"description"`
	OcrConfig       json.RawMessage      `json:"ocr_config"`
	SchedulerConfig task.SchedulerConfig `json:"scheduler_config"`
}

type languageRequest struct {
	Language string `json:"language" binding:"required"`
}

type interruptResponse struct {
	TaskID      string `json:"task_id"`
	Interrupted bool   `json:"interrupted"`
}

type clearResponse struct {
	Cleared []uuid.UUID `json:"cleared"`
}

type API struct {
	tasks *service.TaskService
	ocr   *service.OcrService
}

func NewAPI(tasks *service.TaskService, ocr *service.OcrService) *API {
	return &API{tasks: tasks, ocr: ocr}
}

// RegisterRoutes registers API routes on the provided gin engine
func (a *API) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.GET("/tasks", a.ListTasks)
		api.POST("/tasks", a.CreateTask)
		api.GET("/tasks/:id", a.GetTask)
		api.PUT("/tasks/:id", a.UpdateTask)
		api.DELETE("/tasks/:id", a.DeleteTask)
		api.PATCH("/tasks/:id/language", a.UpdateLanguage)
		api.PUT("/tasks/:id/ocr-config", a.UpdateOcrConfig)
		api.PUT("/tasks/:id/scheduler-config", a.UpdateSchedulerConfig)

		api.POST("/tasks/:id/files", a.UploadFiles)
		api.DELETE("/tasks/:id/files", a.RemoveAllFiles)
		api.DELETE("/tasks/:id/files/:name", a.RemoveFile)
		api.GET("/tasks/:id/input", a.DownloadInput)
		api.GET("/tasks/:id/input/:doc", a.DownloadInputDocument)
		api.GET("/tasks/:id/output", a.DownloadOutput)
		api.GET("/tasks/:id/output/:doc", a.DownloadOutputDocument)

		api.POST("/ocr/tasks/:id/schedule", a.Schedule)
		api.POST("/ocr/tasks/:id/interrupt", a.Interrupt)
		api.GET("/ocr/tasks/:id/progress", a.GetProgress)
		api.POST("/ocr/interrupt-all", a.InterruptAll)
		api.POST("/ocr/clear", a.Clear)
	}
}

// ListTasks returns all tasks, or one page of them when page or size is given
func (a *API) ListTasks(c *gin.Context) {
	if c.Query("page") == "" && c.Query("size") == "" {
		tasks, err := a.tasks.FindAll(c.Request.Context())
		if err != nil {
			writeError(c, err, "failed to list tasks")
			return
		}
		if tasks == nil {
			tasks = []*task.Task{}
		}
		c.JSON(http.StatusOK, tasks)
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "0"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "20"))
	result, err := a.tasks.FindPage(c.Request.Context(), page, size)
	if err != nil {
		writeError(c, err, "failed to list tasks")
		return
	}
	c.JSON(http.StatusOK, result)
}

// CreateTask handles creation of a new task
func (a *API) CreateTask(c *gin.Context) {
	var req taskRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		log.Warn().Err(err).Msg("invalid create task request")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	t, err := a.buildTask(req, a.tasks.DefaultOcrConfig())
	if err != nil {
		writeError(c, err, "invalid create task request")
		return
	}
	created, err := a.tasks.Insert(c.Request.Context(), t, nil)
	if err != nil {
		writeError(c, err, "failed to create task")
		return
	}
	c.JSON(http.StatusCreated, created)
}

// GetTask returns the task with its persisted progress
func (a *API) GetTask(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	t, err := a.tasks.FindByID(c.Request.Context(), id)
	if err != nil {
		writeError(c, err, "task not found on get")
		return
	}
	c.JSON(http.StatusOK, t)
}

// UpdateTask replaces description and configuration of a task
func (a *API) UpdateTask(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req taskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn().Str("task_id", id.String()).Err(err).Msg("invalid update task request")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	stored, err := a.tasks.FindByID(c.Request.Context(), id)
	if err != nil {
		writeError(c, err, "task not found on update")
		return
	}
	t, err := a.buildTask(req, stored.OcrConfig)
	if err != nil {
		writeError(c, err, "invalid update task request")
		return
	}
	t.ID = id
	updated, err := a.tasks.Update(c.Request.Context(), t)
	if err != nil {
		writeError(c, err, "failed to update task")
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (a *API) buildTask(req taskRequest, base task.OcrConfig) (*task.Task, error) {
	cfg := base
	if len(req.OcrConfig) > 0 {
		if err := json.Unmarshal(req.OcrConfig, &cfg); err != nil {
			return nil, errors.Join(task.ErrInvalidConfig, err)
		}
	}
	return &task.Task{Description: req.Description, OcrConfig: cfg, SchedulerConfig: req.SchedulerConfig}, nil
}

func (a *API) DeleteTask(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := a.tasks.Delete(c.Request.Context(), id); err != nil {
		writeError(c, err, "failed to delete task")
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) UpdateLanguage(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req languageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if err := a.tasks.UpdateLanguage(c.Request.Context(), id, req.Language); err != nil {
		writeError(c, err, "failed to update language")
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) UpdateOcrConfig(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	cfg := a.tasks.DefaultOcrConfig()
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if err := a.tasks.UpdateOcrConfig(c.Request.Context(), id, cfg); err != nil {
		writeError(c, err, "failed to update ocr config")
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) UpdateSchedulerConfig(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var cfg task.SchedulerConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if err := a.tasks.UpdateSchedulerConfig(c.Request.Context(), id, cfg); err != nil {
		writeError(c, err, "failed to update scheduler config")
		return
	}
	c.Status(http.StatusNoContent)
}

// UploadFiles stores the multipart "files" of the request as input documents
func (a *API) UploadFiles(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	form, err := c.MultipartForm()
	if err != nil {
		log.Warn().Str("task_id", id.String()).Err(err).Msg("invalid upload request")
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart form expected"})
		return
	}
	uploads, closeAll, err := openUploads(form.File["files"])
	defer closeAll()
	if err != nil {
		writeError(c, err, "failed to read uploaded files")
		return
	}
	t, err := a.tasks.Upload(c.Request.Context(), id, uploads)
	if err != nil {
		writeError(c, err, "failed to upload files")
		return
	}
	c.JSON(http.StatusOK, t)
}

func openUploads(headers []*multipart.FileHeader) ([]service.Upload, func(), error) {
	var opened []multipart.File
	closeAll := func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}
	uploads := make([]service.Upload, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, closeAll, err //nolint:wrapcheck
		}
		opened = append(opened, f)
		uploads = append(uploads, service.Upload{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Content:     f,
		})
	}
	return uploads, closeAll, nil
}

func (a *API) RemoveFile(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	t, err := a.tasks.RemoveFile(c.Request.Context(), id, c.Param("name"))
	if err != nil {
		writeError(c, err, "failed to remove file")
		return
	}
	c.JSON(http.StatusOK, t)
}

func (a *API) RemoveAllFiles(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	t, err := a.tasks.RemoveAllFiles(c.Request.Context(), id)
	if err != nil {
		writeError(c, err, "failed to remove files")
		return
	}
	c.JSON(http.StatusOK, t)
}

func (a *API) DownloadInput(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	dl, err := a.tasks.InputDocuments(c.Request.Context(), id)
	serveDownload(c, dl, err)
}

func (a *API) DownloadInputDocument(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	dl, err := a.tasks.InputDocument(c.Request.Context(), id, c.Param("doc"))
	serveDownload(c, dl, err)
}

func (a *API) DownloadOutput(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	dl, err := a.tasks.OutputDocuments(c.Request.Context(), id)
	serveDownload(c, dl, err)
}

func (a *API) DownloadOutputDocument(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	dl, err := a.tasks.OutputDocument(c.Request.Context(), id, c.Param("doc"))
	serveDownload(c, dl, err)
}

func serveDownload(c *gin.Context, dl service.Download, err error) {
	if err != nil {
		writeError(c, err, "download not available")
		return
	}
	if !dl.IsArchive() {
		log.Info().Str("task_id", c.Param("id")).Str("path", dl.Path).Msg("serving download")
		c.FileAttachment(dl.Path, dl.Name)
		return
	}
	c.Header("Content-Type", "application/zip")
	c.Header("Content-Disposition", `attachment; filename="`+dl.Name+`"`)
	c.Status(http.StatusOK)
	if err := dl.WriteArchive(c.Request.Context(), c.Writer); err != nil {
		log.Error().Str("task_id", c.Param("id")).Err(err).Msg("streaming archive failed")
	}
}

// Schedule queues the task for recognition
func (a *API) Schedule(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	snap, err := a.ocr.Schedule(c.Request.Context(), id)
	if err != nil {
		writeError(c, err, "failed to schedule task")
		return
	}
	c.JSON(http.StatusAccepted, snap)
}

func (a *API) Interrupt(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	interrupted, err := a.ocr.Interrupt(c.Request.Context(), id)
	if err != nil {
		writeError(c, err, "failed to interrupt task")
		return
	}
	if !interrupted {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active job for task"})
		return
	}
	c.JSON(http.StatusOK, interruptResponse{TaskID: id.String(), Interrupted: true})
}

func (a *API) InterruptAll(c *gin.Context) {
	result := a.ocr.InterruptAll(c.Request.Context())
	resp := make([]interruptResponse, 0, len(result))
	for id, ok := range result {
		resp = append(resp, interruptResponse{TaskID: id.String(), Interrupted: ok})
	}
	c.JSON(http.StatusOK, resp)
}

func (a *API) GetProgress(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	snap, err := a.ocr.GetProgress(c.Request.Context(), id)
	if err != nil {
		writeError(c, err, "task not found on progress")
		return
	}
	c.JSON(http.StatusOK, snap)
}

// Clear drops terminal jobs: status=finished, status=interrupted, or all of them
func (a *API) Clear(c *gin.Context) {
	var cleared []uuid.UUID
	switch progress.Status(c.DefaultQuery("status", "all")) {
	case "all", "ALL":
		cleared = a.ocr.Clear()
	case progress.StatusFinished, "finished":
		cleared = a.ocr.ClearFinished()
	case progress.StatusInterrupted, "interrupted":
		cleared = a.ocr.ClearInterrupted()
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be finished, interrupted or all"})
		return
	}
	c.JSON(http.StatusOK, clearResponse{Cleared: cleared})
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
		return uuid.Nil, false
	}
	return id, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, task.ErrTaskNotFound), errors.Is(err, task.ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, task.ErrIllegalState), errors.Is(err, scheduler.ErrAlreadyScheduled):
		return http.StatusConflict
	case errors.Is(err, task.ErrInvalidConfig), errors.Is(err, task.ErrNoFiles):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error, msg string) {
	status := statusFor(err)
	evt := log.Warn()
	if status >= statusErrorThreshold {
		evt = log.Error()
	}
	evt.Str("task_id", c.Param("id")).Err(err).Msg(msg)
	c.JSON(status, gin.H{"error": err.Error()})
}
