package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/blinkwatch/blinkwatch/internal/aggstore"
	"github.com/blinkwatch/blinkwatch/internal/auth"
	"github.com/blinkwatch/blinkwatch/internal/config"
	"github.com/blinkwatch/blinkwatch/internal/exporter"
	"github.com/blinkwatch/blinkwatch/internal/logger"
	"github.com/blinkwatch/blinkwatch/internal/pipeline"
)

const (
	// MaxFramesPerRequest bounds one POST /api/v1/frames batch.
	MaxFramesPerRequest = 1000

	// MaxPauseMinutes bounds POST /api/v1/pause; longer pauses use
	// {"until": "tomorrow"} or resume explicitly.
	MaxPauseMinutes = 24 * 60
)

// Deps are the collaborators served by the API. Store and Hub are optional.
type Deps struct {
	Monitor *pipeline.Monitor
	Store   *aggstore.Async
	Hub     http.Handler
	Auth    config.AuthConfig
	Log     *zap.Logger
}

type handler struct {
	mon   *pipeline.Monitor
	store *aggstore.Async
	log   *zap.Logger
}

// New returns the router for all API routes. Callers set the gin mode.
func New(d Deps) http.Handler {
	h := &handler{mon: d.Monitor, store: d.Store, log: logger.OrNop(d.Log)}

	r := gin.New()
	r.Use(gin.Recovery(), h.accessLog)
	r.NoRoute(func(c *gin.Context) { jsonErr(c, http.StatusNotFound, "not found") })

	guard := auth.Middleware(d.Auth.Mode, d.Auth.Header, d.Auth.Key())

	v1 := r.Group("/api/v1")
	v1.GET("/stats", h.stats)
	v1.GET("/status", h.status)
	v1.GET("/threshold", h.threshold)
	v1.GET("/settings", h.settings)
	v1.GET("/aggregate", h.aggregate)

	w := v1.Group("", guard)
	w.POST("/frames", h.frames)
	w.POST("/reset", h.reset)
	w.POST("/pause", h.pause)
	w.POST("/resume", h.resume)
	w.PUT("/threshold", h.setThreshold)
	w.POST("/calibrate", h.calibrate)
	w.PUT("/settings", h.updateSettings)

	r.GET("/metrics", gin.WrapH(exporter.Handler(h.metrics)))
	if d.Hub != nil {
		r.GET("/ws", gin.WrapH(d.Hub))
	}
	return r
}

func (h *handler) accessLog(c *gin.Context) {
	start := time.Now()
	c.Next()
	h.log.Debug("api: request",
		zap.String("method", c.Request.Method),
		zap.String("path", c.FullPath()),
		zap.Int("status", c.Writer.Status()),
		zap.Duration("latency", time.Since(start)),
	)
}

// --- route handlers ---------------------------------------------------------

func (h *handler) stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.mon.Stats())
}

func (h *handler) status(c *gin.Context) {
	c.JSON(http.StatusOK, h.mon.Snapshot())
}

// frames accepts a JSON array of FrameRequest and returns one
// pipeline.FrameResult per frame, in order.
func (h *handler) frames(c *gin.Context) {
	var reqs []FrameRequest
	if err := c.ShouldBindJSON(&reqs); err != nil {
		jsonErr(c, http.StatusBadRequest, "invalid frames: "+err.Error())
		return
	}
	if len(reqs) == 0 || len(reqs) > MaxFramesPerRequest {
		jsonErr(c, http.StatusBadRequest,
			fmt.Sprintf("frame count must be between 1 and %d", MaxFramesPerRequest))
		return
	}
	for i, f := range reqs {
		if err := f.validate(); err != nil {
			jsonErr(c, http.StatusBadRequest, fmt.Sprintf("frame %d: %v", i, err))
			return
		}
	}

	out := make([]pipeline.FrameResult, 0, len(reqs))
	for _, f := range reqs {
		if f.LeftEAR != nil {
			out = append(out, h.mon.ProcessRatios(*f.LeftEAR, *f.RightEAR, f.Timestamp))
			continue
		}
		out = append(out, h.mon.ProcessFrame(pipeline.Frame{
			Timestamp: f.Timestamp,
			Left:      f.Left,
			Right:     f.Right,
		}))
	}
	c.JSON(http.StatusOK, out)
}

func (f FrameRequest) validate() error {
	ratios := f.LeftEAR != nil || f.RightEAR != nil
	geometry := f.Left != nil || f.Right != nil
	switch {
	case ratios && geometry:
		return errors.New("set either geometry or ear values, not both")
	case ratios:
		if f.LeftEAR == nil || f.RightEAR == nil {
			return errors.New("left_ear and right_ear must both be set")
		}
	case !geometry:
		return errors.New("no eye data")
	}
	return nil
}

func (h *handler) reset(c *gin.Context) {
	h.mon.Reset()
	c.JSON(http.StatusOK, h.mon.Stats())
}

func (h *handler) pause(c *gin.Context) {
	var req PauseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		jsonErr(c, http.StatusBadRequest, "invalid pause request: "+err.Error())
		return
	}

	var until time.Time
	switch {
	case req.Until == "tomorrow":
		until = h.mon.PauseUntilTomorrow()
	case req.Until != "":
		jsonErr(c, http.StatusBadRequest, `until must be "tomorrow"`)
		return
	case req.Minutes > 0 && req.Minutes <= MaxPauseMinutes:
		until = h.mon.Pause(time.Duration(req.Minutes * float64(time.Minute)))
	default:
		jsonErr(c, http.StatusBadRequest, fmt.Sprintf("minutes must be in (0, %d]", MaxPauseMinutes))
		return
	}
	c.JSON(http.StatusOK, PauseResponse{PausedUntil: until})
}

func (h *handler) resume(c *gin.Context) {
	h.mon.Resume()
	c.JSON(http.StatusOK, h.mon.Snapshot())
}

func (h *handler) threshold(c *gin.Context) {
	c.JSON(http.StatusOK, ThresholdResponse{Threshold: h.mon.Threshold()})
}

func (h *handler) setThreshold(c *gin.Context) {
	var req ThresholdRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Threshold == nil {
		jsonErr(c, http.StatusBadRequest, "threshold is required")
		return
	}
	c.JSON(http.StatusOK, ThresholdResponse{Threshold: h.mon.SetThreshold(*req.Threshold)})
}

func (h *handler) calibrate(c *gin.Context) {
	var req CalibrateRequest
	// An empty body means the configured window.
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			jsonErr(c, http.StatusBadRequest, "invalid calibrate request: "+err.Error())
			return
		}
	}
	if req.Seconds < 0 || req.Seconds > 60 {
		jsonErr(c, http.StatusBadRequest, "seconds must be in [0, 60]")
		return
	}
	deadline := h.mon.Calibrate(time.Duration(req.Seconds * float64(time.Second)))
	c.JSON(http.StatusAccepted, CalibrateResponse{Deadline: deadline})
}

func (h *handler) settings(c *gin.Context) {
	c.JSON(http.StatusOK, h.mon.Settings())
}

// updateSettings merges the body over the current settings, so omitted
// fields keep their values.
func (h *handler) updateSettings(c *gin.Context) {
	s := h.mon.Settings()
	if err := c.ShouldBindJSON(&s); err != nil {
		jsonErr(c, http.StatusBadRequest, "invalid settings: "+err.Error())
		return
	}
	if err := config.ValidateSettings(s); err != nil {
		jsonErr(c, http.StatusBadRequest, err.Error())
		return
	}
	h.mon.UpdateSettings(s)
	h.log.Info("api: settings updated", zap.String("mode", string(s.Mode)))
	c.JSON(http.StatusOK, s)
}

func (h *handler) aggregate(c *gin.Context) {
	if h.store == nil {
		jsonErr(c, http.StatusServiceUnavailable, "aggregate store not configured")
		return
	}
	agg, err := h.store.Snapshot(c.Request.Context())
	if err != nil {
		h.log.Error("api: aggregate snapshot failed", zap.Error(err))
		jsonErr(c, http.StatusBadGateway, "aggregate store unavailable")
		return
	}
	c.JSON(http.StatusOK, agg)
}

func (h *handler) metrics() exporter.Input {
	st := h.mon.Snapshot()
	in := exporter.Input{
		Stats:       st.Stats,
		Threshold:   st.Threshold,
		Paused:      st.Paused,
		OpenTooLong: st.OpenTooLong,
		LowRate:     st.LowRate,
		Alerts:      st.Alerts,
	}
	if h.store != nil {
		in.StoreDropped = h.store.Dropped()
		in.StorePending = h.store.Pending()
		in.StoreEnabled = h.store.Enabled()
	}
	return in
}

func jsonErr(c *gin.Context, code int, msg string) {
	c.AbortWithStatusJSON(code, errorResponse{Error: msg})
}
