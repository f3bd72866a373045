package api

import (
	"html/template"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"ocrstudio/internal/service"
	"ocrstudio/internal/task"
)

var uiTemplates = template.Must(template.New("layout").Parse(`{{define "head"}}
<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8"/>
  <meta name="viewport" content="width=device-width, initial-scale=1"/>
  <title>OCR Studio</title>
  <style>
    body{font-family:system-ui,-apple-system,Segoe UI,Roboto,Ubuntu,Cantarell,Noto Sans,sans-serif;max-width:880px;margin:32px auto;padding:0 16px;color:#0b0b0b;background:#fafafa}
    header{margin-bottom:24px}
    h1{font-size:22px;margin:0 0 8px}
    a{color:#0b63e5;text-decoration:none}
    a:hover{text-decoration:underline}
    .card{background:#fff;border:1px solid #e9e9e9;border-radius:10px;padding:16px;margin:12px 0}
    .row{display:flex;gap:12px;flex-wrap:wrap;align-items:center}
    .btn{display:inline-block;background:#0b63e5;color:#fff;border:none;padding:10px 14px;border-radius:8px;cursor:pointer}
    .btn.secondary{background:#444}
    input[type=text],select{padding:9px 10px;border:1px solid #dcdcdc;border-radius:8px}
    .muted{color:#666}
    .mono{font-family:ui-monospace,SFMono-Regular,Menlo,Monaco,Consolas,monospace}
    .list{margin:0;padding-left:18px}
    .status{display:inline-block;padding:4px 8px;border-radius:6px;background:#efefef;font-size:12px}
    footer{margin-top:24px;color:#666;font-size:12px}
  </style>
</head>
<body>
  <header>
    <h1><a href="/">OCR Studio</a></h1>
    <div class="muted">Minimal no-JS helper for API</div>
  </header>
  {{if .Error}}
  <div class="card" style="border-color:#f2b8b5;background:#fff6f6">
    <strong style="color:#b3261e">Error:</strong> <span class="muted">{{.Error}}</span>
  </div>
  {{end}}
{{end}}

{{define "foot"}}
  <footer>
    <div>API base: <span class="mono">/api/v1</span></div>
  </footer>
</body>
</html>
{{end}}

{{define "home"}}
  {{template "head" .}}
  <div class="card">
    <h2>Create task</h2>
    <form method="post" action="/ui/tasks" enctype="multipart/form-data">
      <div class="row">
        <input type="text" name="description" placeholder="Description"/>
        <input type="text" name="language" placeholder="Language, e.g. eng+deu"/>
        <select name="file_format">
          <option value="TEXT">Text</option>
          <option value="PDF">PDF</option>
          <option value="HOCR">hOCR</option>
        </select>
      </div>
      <div class="row" style="margin-top:12px">
        <label><input type="checkbox" name="pre_processing" value="true"/> pre-process</label>
        <label><input type="checkbox" name="merge_documents" value="true"/> merge documents</label>
        <input type="file" name="files" multiple/>
      </div>
      <div style="margin-top:12px"><button class="btn" type="submit">Create</button></div>
    </form>
    <div class="muted">POST /api/v1/tasks</div>
  </div>

  <div class="card">
    <h2>Open existing task</h2>
    <form method="get" action="/ui/tasks">
      <div class="row">
        <input type="text" name="id" placeholder="Task ID" required />
        <button class="btn" type="submit">Open</button>
      </div>
    </form>
  </div>

  <div class="card">
    <h2>Tasks</h2>
    {{if .Tasks}}
    <ul class="list">
    {{range .Tasks}}
      <li><a class="mono" href="/ui/tasks/{{.ID}}">{{.ID}}</a> <span class="status">{{.OcrProgress.Status}}</span> <span class="muted">{{.Description}}</span></li>
    {{end}}
    </ul>
    {{else}}
    <div class="muted">No tasks yet</div>
    {{end}}
  </div>
  {{template "foot" .}}
{{end}}

{{define "task"}}
  {{template "head" .}}
  <div class="card">
    <h2>Task <span class="mono">{{.Task.ID}}</span></h2>
    {{if .Task.Description}}<div>Description: <strong>{{.Task.Description}}</strong></div>{{end}}
    <div>Status: <span class="status">{{.Progress.Status}}</span> {{.Progress.Done}} / {{.Progress.Total}}</div>
    {{if .Progress.Description}}<div class="muted">{{.Progress.Description}}</div>{{end}}
    <div class="muted">Language {{.Task.OcrConfig.Language}} · format {{.Task.OcrConfig.FileFormat}} · created at {{.Task.CreatedAt}}</div>
    <div class="row" style="margin-top:12px">
      <form method="post" action="/ui/tasks/{{.Task.ID}}/schedule"><button class="btn" type="submit">Start OCR</button></form>
      <form method="post" action="/ui/tasks/{{.Task.ID}}/interrupt"><button class="btn secondary" type="submit">Interrupt</button></form>
      <a class="btn secondary" href="/ui/tasks/{{.Task.ID}}">Refresh</a>
    </div>
  </div>

  <div class="card">
    <h3>Documents</h3>
    {{if .Task.InDocuments}}
      <ul class="list">
      {{range .Task.InDocuments}}
        <li>
          <a href="/api/v1/tasks/{{$.Task.ID}}/input/{{.RandomizedFileName}}">{{.OriginalFileName}}</a>
          <span class="muted">{{.Type}}</span>
          {{if .OutDocument}}· <a href="/api/v1/tasks/{{$.Task.ID}}/output/{{.RandomizedFileName}}">result</a>{{end}}
        </li>
      {{end}}
      </ul>
    {{else}}
      <div class="muted">No documents yet</div>
    {{end}}
    <form method="post" action="/ui/tasks/{{.Task.ID}}/files" enctype="multipart/form-data" style="margin-top:12px">
      <div class="row">
        <input type="file" name="files" multiple/>
        <button class="btn" type="submit">Upload</button>
      </div>
    </form>
    <div class="muted">POST /api/v1/tasks/{{.Task.ID}}/files</div>
  </div>

  <div class="card">
    <h3>Downloads</h3>
    <div class="row">
      <a class="btn" href="/api/v1/tasks/{{.Task.ID}}/input">Input zip</a>
      <a class="btn" href="/api/v1/tasks/{{.Task.ID}}/output">Result</a>
      <span class="muted">Result is the merged document when merging is enabled</span>
    </div>
  </div>
  {{template "foot" .}}
{{end}}
`))

// RegisterUIRoutes registers minimal HTML UI without JS
func (a *API) RegisterUIRoutes(router *gin.Engine) {
	router.SetHTMLTemplate(uiTemplates)
	router.GET("/", a.UIHome)
	router.GET("/ui/tasks", a.UIOpenExisting)
	router.POST("/ui/tasks", a.UICreateTask)
	router.GET("/ui/tasks/:id", a.UITask)
	router.POST("/ui/tasks/:id/files", a.UIUploadFiles)
	router.POST("/ui/tasks/:id/schedule", a.UISchedule)
	router.POST("/ui/tasks/:id/interrupt", a.UIInterrupt)
}

// UIHome renders the home page with all tasks
func (a *API) UIHome(c *gin.Context) {
	a.renderHome(c, http.StatusOK, "")
}

func (a *API) renderHome(c *gin.Context, status int, errMsg string) {
	tasks, err := a.tasks.FindAll(c.Request.Context())
	if err != nil && errMsg == "" {
		errMsg = err.Error()
	}
	c.HTML(status, "home", gin.H{"Tasks": tasks, "Error": errMsg})
}

// UIOpenExisting redirects to the task page by id
func (a *API) UIOpenExisting(c *gin.Context) {
	id := strings.TrimSpace(c.Query("id"))
	if id == "" {
		c.Redirect(http.StatusFound, "/")
		return
	}
	c.Redirect(http.StatusFound, "/ui/tasks/"+id)
}

// UICreateTask creates a task from the form, uploads its files and redirects to its page
func (a *API) UICreateTask(c *gin.Context) {
	cfg := a.tasks.DefaultOcrConfig()
	if lang := strings.TrimSpace(c.PostForm("language")); lang != "" {
		cfg.Language = lang
	}
	if format := c.PostForm("file_format"); format != "" {
		cfg.FileFormat = task.FileFormat(format)
	}
	cfg.PreProcessing = c.PostForm("pre_processing") == "true"
	cfg.MergeDocuments = c.PostForm("merge_documents") == "true"

	var uploads []service.Upload
	if form, err := c.MultipartForm(); err == nil {
		opened, closeAll, err := openUploads(form.File["files"])
		defer closeAll()
		if err != nil {
			a.renderHome(c, http.StatusBadRequest, err.Error())
			return
		}
		uploads = opened
	}

	t := &task.Task{Description: strings.TrimSpace(c.PostForm("description")), OcrConfig: cfg}
	created, err := a.tasks.Insert(c.Request.Context(), t, uploads)
	if err != nil {
		a.renderHome(c, statusFor(err), err.Error())
		return
	}
	c.Redirect(http.StatusFound, "/ui/tasks/"+created.ID.String())
}

// UITask renders a task page with its live progress
func (a *API) UITask(c *gin.Context) {
	a.renderTask(c, http.StatusOK, "")
}

func (a *API) renderTask(c *gin.Context, status int, errMsg string) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		a.renderHome(c, http.StatusBadRequest, "invalid task id")
		return
	}
	t, err := a.tasks.FindByID(c.Request.Context(), id)
	if err != nil {
		a.renderHome(c, statusFor(err), "task not found")
		return
	}
	snap, err := a.ocr.GetProgress(c.Request.Context(), id)
	if err != nil {
		snap = t.OcrProgress
	}
	c.HTML(status, "task", gin.H{"Task": t, "Progress": snap, "Error": errMsg})
}

// UIUploadFiles adds files from the form and redirects back to task page
func (a *API) UIUploadFiles(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		a.renderHome(c, http.StatusBadRequest, "invalid task id")
		return
	}
	form, err := c.MultipartForm()
	if err != nil {
		a.renderTask(c, http.StatusBadRequest, "no files selected")
		return
	}
	uploads, closeAll, err := openUploads(form.File["files"])
	defer closeAll()
	if err == nil {
		_, err = a.tasks.Upload(c.Request.Context(), id, uploads)
	}
	if err != nil {
		a.renderTask(c, statusFor(err), err.Error())
		return
	}
	c.Redirect(http.StatusFound, "/ui/tasks/"+id.String())
}

func (a *API) UISchedule(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		a.renderHome(c, http.StatusBadRequest, "invalid task id")
		return
	}
	if _, err := a.ocr.Schedule(c.Request.Context(), id); err != nil {
		a.renderTask(c, statusFor(err), err.Error())
		return
	}
	c.Redirect(http.StatusFound, "/ui/tasks/"+id.String())
}

func (a *API) UIInterrupt(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		a.renderHome(c, http.StatusBadRequest, "invalid task id")
		return
	}
	ok, err := a.ocr.Interrupt(c.Request.Context(), id)
	if err != nil {
		a.renderTask(c, statusFor(err), err.Error())
		return
	}
	if !ok {
		a.renderTask(c, http.StatusConflict, "no active job for task")
		return
	}
	c.Redirect(http.StatusFound, "/ui/tasks/"+id.String())
}
