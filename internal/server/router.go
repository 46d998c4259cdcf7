package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/acoremgr/internal/auth"
	"github.com/loykin/acoremgr/internal/config"
	"github.com/loykin/acoremgr/internal/cronjob"
	"github.com/loykin/acoremgr/internal/dashboard"
	"github.com/loykin/acoremgr/internal/history"
	"github.com/loykin/acoremgr/internal/manager"
	"github.com/loykin/acoremgr/internal/metrics"
	"github.com/loykin/acoremgr/internal/role"
	"github.com/loykin/acoremgr/internal/status"
)

// Deps are the components the API exposes. Only Manager is required.
type Deps struct {
	Manager   *manager.Manager
	Status    *status.Poller
	Resources *metrics.ResourceSampler
	Dashboard *dashboard.Poller
	History   history.Reader
	CronJobs  *cronjob.Manager
	Console   http.Handler
	// SettingsPath is where PUT /settings saves; empty disables saving.
	SettingsPath string
	// OnSettings is called after new settings were saved and applied.
	OnSettings func(config.Settings)
	Metrics    bool
	// Auth protects every API route except /metrics; nil leaves the API open.
	Auth   *auth.Middleware
	Logger *slog.Logger
}

// Router provides the HTTP API of the manager.
// Endpoints (relative to basePath):
//
//	GET  /status
//	POST /servers/:role/start|stop|kill
//	POST /servers/:role/restart   body: {"delay":"30s","exit_code":2}
//	POST /servers/:role/command   body: {"command":"..."}
//	GET  /resources, /resources/:role/history
//	GET  /dashboard
//	GET  /history                 query: role=...&limit=...
//	GET  /cronjobs, POST /cronjobs/:name/run
//	GET  /settings, PUT /settings
//	GET  /console                 WebSocket, query: role=...
//	POST /auth/login              body: {"method":"basic","username":"...","password":"..."}
//	GET  /metrics
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	deps     Deps
	basePath string
	log      *slog.Logger
}

func NewRouter(deps Deps, basePath string) *Router {
	l := deps.Logger
	if l == nil {
		l = slog.Default()
	}
	return &Router{deps: deps, basePath: sanitizeBase(basePath), log: l}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery(), r.requestLog)
	group := g.Group(r.basePath)
	if r.deps.Auth != nil {
		group.POST("/auth/login", r.handleLogin)
	}

	read := group.Group("", r.require(auth.ResourceServer, auth.ActionRead)...)
	read.GET("/status", r.handleStatus)
	read.GET("/resources", r.handleResources)
	read.GET("/resources/:role/history", r.handleResourceHistory)
	read.GET("/dashboard", r.handleDashboard)
	read.GET("/history", r.handleHistory)
	read.GET("/cronjobs", r.handleCronJobs)

	srv := group.Group("/servers/:role", r.require(auth.ResourceServer, auth.ActionWrite)...)
	srv.POST("/start", r.lifecycle((*manager.Manager).Start))
	srv.POST("/stop", r.lifecycle((*manager.Manager).Stop))
	srv.POST("/kill", r.lifecycle((*manager.Manager).Kill))
	srv.POST("/restart", r.handleRestart)
	srv.POST("/command", r.handleCommand)
	group.POST("/cronjobs/:name/run", append(r.require(auth.ResourceServer, auth.ActionWrite), r.handleRunCronJob)...)

	settings := group.Group("/settings")
	settings.GET("", append(r.require(auth.ResourceSettings, auth.ActionRead), r.handleGetSettings)...)
	settings.PUT("", append(r.require(auth.ResourceSettings, auth.ActionWrite), r.handlePutSettings)...)

	if r.deps.Console != nil {
		// the console accepts commands, so viewing it needs write access
		group.GET("/console", append(r.require(auth.ResourceConsole, auth.ActionWrite), gin.WrapH(r.deps.Console))...)
	}
	if r.deps.Metrics {
		g.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	return g
}

// require returns the auth handlers for resource/action, or none when the
// API is open.
func (r *Router) require(resource, action string) []gin.HandlerFunc {
	if r.deps.Auth == nil {
		return nil
	}
	return r.deps.Auth.Require(resource, action)
}

// NewServer returns an http.Server for the router. The caller runs it.
func NewServer(addr, basePath string, deps Deps) *http.Server {
	r := NewRouter(deps, basePath)
	return &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func (r *Router) requestLog(c *gin.Context) {
	start := time.Now()
	c.Next()
	r.log.Debug("http request",
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"status", c.Writer.Status(),
		"took", time.Since(start))
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

// statusCode maps manager and process errors onto HTTP codes.
func statusCode(err error) int {
	switch {
	case errors.Is(err, manager.ErrUnknownRole):
		return http.StatusNotFound
	case errors.Is(err, manager.ErrAlreadyRunning), errors.Is(err, manager.ErrNotRunning):
		return http.StatusConflict
	case errors.Is(err, manager.ErrUnsupported), errors.Is(err, manager.ErrInvalidDelay),
		errors.Is(err, manager.ErrInvalidCommand):
		return http.StatusBadRequest
	}
	// spawn and console write failures
	return http.StatusInternalServerError
}

func writeErr(c *gin.Context, err error) {
	writeJSON(c, statusCode(err), errorResp{Error: err.Error()})
}

// serverRole parses the :role path parameter. Only server roles are valid.
func serverRole(c *gin.Context) (role.Role, bool) {
	r, err := role.Parse(c.Param("role"))
	if err != nil || !r.IsServer() {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "unknown server role: " + c.Param("role")})
		return 0, false
	}
	return r, true
}

func (r *Router) lifecycle(op func(*manager.Manager, role.Role) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		ro, ok := serverRole(c)
		if !ok {
			return
		}
		if err := op(r.deps.Manager, ro); err != nil {
			writeErr(c, err)
			return
		}
		writeJSON(c, http.StatusOK, okResp{OK: true})
	}
}

type restartReq struct {
	Delay    string `json:"delay"`
	ExitCode *int   `json:"exit_code"`
}

func (r *Router) handleRestart(c *gin.Context) {
	ro, ok := serverRole(c)
	if !ok {
		return
	}
	var req restartReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	code := r.deps.Manager.Settings().ExitCodes.Restart
	if req.ExitCode != nil {
		code = *req.ExitCode
	}
	if err := r.deps.Manager.Restart(ro, req.Delay, code); err != nil {
		writeErr(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

type commandReq struct {
	Command string `json:"command"`
}

func (r *Router) handleCommand(c *gin.Context) {
	ro, ok := serverRole(c)
	if !ok {
		return
	}
	var req commandReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if err := r.deps.Manager.SendCommand(ro, req.Command); err != nil {
		writeErr(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

// ServerStatus is one entry of GET /status.
type ServerStatus struct {
	manager.Snapshot
	Detected *status.Status `json:"detected,omitempty"`
}

type statusResp struct {
	Servers []ServerStatus `json:"servers"`
}

func (r *Router) handleStatus(c *gin.Context) {
	snaps := r.deps.Manager.Snapshots()
	out := statusResp{Servers: make([]ServerStatus, 0, len(snaps))}
	for _, s := range snaps {
		st := ServerStatus{Snapshot: s}
		if r.deps.Status != nil {
			if d, ok := r.deps.Status.Get(s.Role); ok {
				st.Detected = &d
			}
		}
		out.Servers = append(out.Servers, st)
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) handleResources(c *gin.Context) {
	if r.deps.Resources == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "resource sampling disabled"})
		return
	}
	writeJSON(c, http.StatusOK, r.deps.Resources.Latest())
}

func (r *Router) handleResourceHistory(c *gin.Context) {
	ro, ok := serverRole(c)
	if !ok {
		return
	}
	if r.deps.Resources == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "resource sampling disabled"})
		return
	}
	writeJSON(c, http.StatusOK, r.deps.Resources.History(ro))
}

func (r *Router) handleDashboard(c *gin.Context) {
	if r.deps.Dashboard == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "dashboard disabled"})
		return
	}
	writeJSON(c, http.StatusOK, r.deps.Dashboard.Latest())
}

func (r *Router) handleHistory(c *gin.Context) {
	if r.deps.History == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "history disabled"})
		return
	}
	roleName := ""
	if q := c.Query("role"); q != "" {
		ro, err := role.Parse(q)
		if err != nil || !ro.IsServer() {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "unknown server role: " + q})
			return
		}
		roleName = ro.String()
	}
	limit := 50
	if q := c.Query("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 || n > 1000 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "limit must be 1..1000"})
			return
		}
		limit = n
	}
	events, err := r.deps.History.Recent(c.Request.Context(), roleName, limit)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, events)
}

func (r *Router) handleCronJobs(c *gin.Context) {
	if r.deps.CronJobs == nil {
		writeJSON(c, http.StatusOK, []cronjob.Info{})
		return
	}
	writeJSON(c, http.StatusOK, r.deps.CronJobs.List())
}

func (r *Router) handleRunCronJob(c *gin.Context) {
	if r.deps.CronJobs == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "no cronjobs configured"})
		return
	}
	name := c.Param("name")
	if err := r.deps.CronJobs.Run(name); err != nil {
		if errors.Is(err, cronjob.ErrNotFound) {
			writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
			return
		}
		writeErr(c, err)
		return
	}
	info, err := r.deps.CronJobs.Get(name)
	if err != nil {
		writeErr(c, err)
		return
	}
	writeJSON(c, http.StatusOK, info)
}

func (r *Router) handleLogin(c *gin.Context) {
	var req auth.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.Method == auth.AuthMethodJWT {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "login needs basic or client_secret credentials"})
		return
	}
	res, err := r.deps.Auth.Service().Authenticate(c.Request.Context(), req)
	if err != nil || !res.Success {
		r.log.Warn("login failed", "method", string(req.Method), "user", req.Username, "client", req.ClientID, "remote", c.ClientIP())
		writeJSON(c, http.StatusUnauthorized, errorResp{Error: "invalid credentials"})
		return
	}
	r.log.Info("login", "user", res.Username, "roles", res.Roles)
	writeJSON(c, http.StatusOK, res)
}

// handleGetSettings never returns secrets of the auth section.
func (r *Router) handleGetSettings(c *gin.Context) {
	s := r.deps.Manager.Settings()
	s.Auth = s.Auth.Redacted()
	writeJSON(c, http.StatusOK, s)
}

func (r *Router) handlePutSettings(c *gin.Context) {
	var s config.Settings
	if err := c.ShouldBindJSON(&s); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	for _, p := range []string{s.Paths.Worldserver, s.Paths.Authserver, s.Paths.WorldLogFile, s.Paths.AuthLogFile} {
		if !isSafeAbsPath(p) {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid path " + strconv.Quote(p) + ": must be absolute without traversal"})
			return
		}
	}
	// the auth section is only editable in the file
	s.Auth = r.deps.Manager.Settings().Auth
	if err := s.Validate(); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	if r.deps.SettingsPath != "" {
		if err := config.Save(r.deps.SettingsPath, s); err != nil {
			writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
			return
		}
	}
	if err := r.deps.Manager.ApplySettings(s); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	if r.deps.CronJobs != nil {
		r.deps.CronJobs.Update(s.CronJobs)
	}
	if r.deps.OnSettings != nil {
		r.deps.OnSettings(s)
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}
