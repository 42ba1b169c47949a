package webmonitor

import (
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/latest"
	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/logger"
	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/metrics"
)

// Deps are the live components the HTTP layer reads from.
type Deps struct {
	Frames     FrameSource
	Latest     *latest.Store
	Metrics    *metrics.Metrics
	Camera     CameraStats
	Registry   RegistryInfo
	Snapshots  SnapshotStats
	CaptureDir string
}

// Server serves the query, stream and monitor endpoints.
type Server struct {
	cfg         Config
	engine      *gin.Engine
	latest      *latest.Store
	broadcaster *FrameBroadcaster
	results     *ResultBroadcaster
	hub         *Hub
	monitor     *Monitor
}

// NewServer returns a configured server. Background loops are not
// running until Start.
func NewServer(cfg Config, deps Deps) *Server {
	cfg = cfg.withDefaults()
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}

	hub := NewHub(cfg.AllowedOrigins)
	frames := NewFrameBroadcaster(deps.Frames, deps.Latest, deps.Metrics, cfg)
	results := NewResultBroadcaster(deps.Latest, hub, cfg.ResultInterval)

	s := &Server{
		cfg:         cfg,
		latest:      deps.Latest,
		broadcaster: frames,
		results:     results,
		hub:         hub,
		monitor:     NewMonitor(deps, frames, results, hub),
	}
	s.engine = s.routes(newCaptureHandler(deps.CaptureDir))
	return s
}

func (s *Server) routes(captures http.Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(), s.corsMiddleware())

	r.GET("/", s.handleRoot)
	r.GET("/latest", s.handleLatest)
	r.GET("/stream", s.handleStream)
	r.GET("/health", s.handleHealth)
	r.GET("/monitor", s.handleMonitor)
	r.GET("/api/latest/stream", s.handleLatestStream)
	r.GET("/ws", s.handleWebSocket)
	r.GET("/captures/:name", gin.WrapH(captures))
	return r
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start launches the broadcaster loops and the websocket hub.
func (s *Server) Start() {
	go s.hub.Run()
	s.broadcaster.Start()
	s.results.Start()
}

// Stop halts background loops and disconnects websocket clients.
// Open MJPEG and SSE responses end when the http.Server shuts down.
func (s *Server) Stop() {
	s.results.Stop()
	s.broadcaster.Stop()
	s.hub.Stop()
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && slices.Contains(s.cfg.AllowedOrigins, origin) {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization, Cache-Control")
			h.Add("Vary", "Origin")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("HTTP", "%s %s %d (%v)", c.Request.Method, c.Request.URL.Path,
			c.Writer.Status(), time.Since(start).Round(time.Microsecond))
	}
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "Camera Detection Server",
		"status":  "running",
	})
}

func (s *Server) handleLatest(c *gin.Context) {
	c.JSON(http.StatusOK, newLatestResponse(s.latest.Load()))
}

func (s *Server) handleStream(c *gin.Context) {
	id, frameCh := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(id)
	streamMJPEGFromChannel(c.Request.Context(), c.Writer, frameCh)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, s.monitor.Snapshot())
}

func (s *Server) handleMonitor(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(indexHTML))
}

func (s *Server) handleLatestStream(c *gin.Context) {
	id, eventCh := s.results.Subscribe()
	defer s.results.Unsubscribe(id)
	streamResultEventsFromChannel(c.Request.Context(), c.Writer, eventCh, wantsProtobuf(c.GetHeader("Accept")))
}

func (s *Server) handleWebSocket(c *gin.Context) {
	var initial []byte
	if r := s.latest.Load(); !r.Empty() {
		if ev, err := serializeResult(newResultEvent(r)); err == nil {
			initial = ev.JSONData
		}
	}
	s.hub.serve(c, initial)
}

func wantsProtobuf(accept string) bool {
	return strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")
}
