// Package web provides the HTTP status page, the JSON API and the live
// telemetry websocket for the heat-pump controller.
package web

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/sweeney/heatpump-controller/internal/command"
	"github.com/sweeney/heatpump-controller/internal/control"
	"github.com/sweeney/heatpump-controller/internal/status"
	"github.com/sweeney/heatpump-controller/internal/store"
)

// defaultFaultLimit is how many history rows /api/faults returns when the
// request does not say.
const defaultFaultLimit = 50

// FaultHistory supplies the persisted fault log. *store.Store implements it.
type FaultHistory interface {
	RecentFaults(limit int) ([]store.FaultRecord, error)
}

// Server serves the status page and API over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	commands   command.Submitter
	faults     FaultHistory
	hub        *Hub
	log        *logrus.Entry
}

// New creates a Server. commands and faults may be nil, in which case the
// matching endpoints answer 503.
func New(addr string, tracker *status.Tracker, commands command.Submitter, faults FaultHistory, log *logrus.Entry) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		tracker:  tracker,
		commands: commands,
		faults:   faults,
		hub:      NewHub(log),
		log:      log,
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.logRequests)

	r.GET("/", s.handleIndex)
	r.GET("/index.html", s.handleIndex)
	r.GET("/index.json", s.handleJSON)
	r.GET("/ws", s.handleWS)

	api := r.Group("/api")
	api.GET("/status", s.handleJSON)
	api.GET("/faults", s.handleFaults)
	api.POST("/override", s.commandHandler(command.KindOverride))
	api.POST("/override/output", s.commandHandler(command.KindOutput))
	api.POST("/defrost", s.commandHandler(command.KindDefrost))
	api.POST("/rvfail/clear", s.commandHandler(command.KindClearRVFail))
	api.POST("/lps/clear", s.commandHandler(command.KindClearLPS))
	api.POST("/runtime/reset", s.commandHandler(command.KindResetRuntime))

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Hub returns the websocket hub so the control loop can broadcast
// telemetry.
func (s *Server) Hub() *Hub { return s.hub }

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown closes websocket clients and gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.log.WithFields(logrus.Fields{
		"method":  c.Request.Method,
		"path":    c.Request.URL.Path,
		"status":  c.Writer.Status(),
		"latency": time.Since(start),
	}).Debug("http request")
}

func (s *Server) handleIndex(c *gin.Context) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := renderHTML(c.Writer, s.tracker.Snapshot()); err != nil {
		s.log.WithError(err).Warn("render status page")
	}
}

func (s *Server) handleJSON(c *gin.Context) {
	c.Data(http.StatusOK, "application/json", status.FormatJSON(s.tracker.Snapshot()))
}

func (s *Server) handleWS(c *gin.Context) {
	s.hub.Serve(c.Writer, c.Request, s.tracker.Snapshot().Telemetry)
}

func (s *Server) handleFaults(c *gin.Context) {
	if s.faults == nil {
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "fault history disabled"})
		return
	}
	limit := defaultFaultLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}
	recs, err := s.faults.RecentFaults(limit)
	if err != nil {
		s.log.WithError(err).Warn("fault history query failed")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	if recs == nil {
		recs = []store.FaultRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"faults": recs})
}

// commandHandler handles POST /api/... by parsing the body the same way as an MQTT
// command payload.
func (s *Server) commandHandler(kind command.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		cmd, err := command.Parse(string(kind), body)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		s.submit(c, cmd)
	}
}

func (s *Server) submit(c *gin.Context, cmd command.Command) {
	if s.commands == nil {
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "commands disabled"})
		return
	}
	if err := s.commands.Submit(cmd); err != nil {
		c.JSON(commandStatus(err), errorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, okResponse{Status: "ok", Command: string(cmd.Kind)})
}

type errorResponse struct {
	Error string `json:"error"`
}

type okResponse struct {
	Status  string `json:"status"`
	Command string `json:"command"`
}

// commandStatus maps a controller refusal to an HTTP status.
func commandStatus(err error) int {
	switch {
	case errors.Is(err, control.ErrUnknownOutput), errors.Is(err, command.ErrUnknownKind):
		return http.StatusBadRequest
	case errors.Is(err, control.ErrOverrideInactive),
		errors.Is(err, control.ErrAlreadyDefrosting),
		errors.Is(err, control.ErrStartupLockout),
		errors.Is(err, control.ErrDefrostBlocked),
		errors.Is(err, control.ErrLPSInputActive),
		errors.Is(err, control.ErrNotStarted):
		return http.StatusConflict
	default:
		return http.StatusServiceUnavailable
	}
}
