package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/trivia-engine/internal/middleware"
	"github.com/stemsi/trivia-engine/internal/response"
)

const metricsInterval = 5 * time.Second

// LiveCounter reports how many sessions have a running coordinator.
type LiveCounter interface {
	Active() int
}

// ConnectionCounter reports how many WebSocket clients are connected.
type ConnectionCounter interface {
	Connections() int
}

// QueueDepth reports the backlog of the game result queue.
type QueueDepth interface {
	Depth(ctx context.Context) (int64, error)
}

// SystemHandler streams engine and Go runtime metrics via SSE.
type SystemHandler struct {
	sessions    LiveCounter
	connections ConnectionCounter
	queue       QueueDepth
	startTime   time.Time
	log         zerolog.Logger
}

// NewSystemHandler creates a SystemHandler. queue may be nil.
func NewSystemHandler(sessions LiveCounter, connections ConnectionCounter, queue QueueDepth, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		sessions:    sessions,
		connections: connections,
		queue:       queue,
		startTime:   time.Now(),
		log:         log.With().Str("component", "system_handler").Logger(),
	}
}

type engineMetrics struct {
	Timestamp     int64 `json:"timestamp"`
	UptimeSeconds int64 `json:"uptime_seconds"`

	LiveSessions     int   `json:"live_sessions"`
	Connections      int   `json:"connections"`
	QueueGameResults int64 `json:"queue_game_results"`

	Goroutines  int     `json:"goroutines"`
	HeapAlloc   uint64  `json:"heap_alloc"`
	NumGC       uint32  `json:"num_gc"`
	GCPauseMs   float64 `json:"gc_pause_ms"`
	AppRSSBytes uint64  `json:"app_rss_bytes,omitempty"`
	LoadAvg1    float64 `json:"load_avg_1,omitempty"`
}

// SystemMetricsSSE godoc
// GET /api/v1/system/metrics
// Pushes one metrics frame on connect and then every interval.
func (h *SystemHandler) SystemMetricsSSE(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	log := h.log.With().Str("user_id", claims.UserID()).Logger()
	log.Debug().Msg("Metrics stream opened")

	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		if err := h.writeFrame(c); err != nil {
			log.Debug().Err(err).Msg("Metrics stream write failed")
			return
		}
		select {
		case <-ctx.Done():
			log.Debug().Msg("Metrics stream closed")
			return
		case <-ticker.C:
		}
	}
}

func (h *SystemHandler) writeFrame(c *gin.Context) error {
	data, err := json.Marshal(h.collect(c.Request.Context()))
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
		return err
	}
	c.Writer.Flush()
	return nil
}

func (h *SystemHandler) collect(ctx context.Context) engineMetrics {
	now := time.Now()
	m := engineMetrics{
		Timestamp:     now.Unix(),
		UptimeSeconds: int64(now.Sub(h.startTime).Seconds()),
		LiveSessions:  h.sessions.Active(),
		Connections:   h.connections.Connections(),
		Goroutines:    runtime.NumGoroutine(),
	}

	if h.queue != nil {
		if depth, err := h.queue.Depth(ctx); err == nil {
			m.QueueGameResults = depth
		} else {
			h.log.Warn().Err(err).Msg("Queue depth unavailable")
		}
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	m.HeapAlloc = ms.HeapAlloc
	m.NumGC = ms.NumGC
	if ms.NumGC > 0 {
		m.GCPauseMs = float64(ms.PauseNs[(ms.NumGC+255)%256]) / float64(time.Millisecond)
	}

	// Linux only; other platforms leave these zero.
	if kb, ok := procStatusKB("VmRSS"); ok {
		m.AppRSSBytes = kb * 1024
	}
	m.LoadAvg1, _ = loadAvg1()

	return m
}

// procStatusKB reads a "Name: N kB" line from /proc/self/status.
func procStatusKB(name string) (uint64, bool) {
	f, err := os.Open("/proc/self/status")
	if err != nil {
		return 0, false
	}
	defer f.Close()

	prefix := name + ":"
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		rest, found := strings.CutPrefix(sc.Text(), prefix)
		if !found {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			return 0, false
		}
		v, err := strconv.ParseUint(fields[0], 10, 64)
		return v, err == nil
	}
	return 0, false
}

func loadAvg1() (float64, error) {
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0, err
	}
	first, _, _ := strings.Cut(string(data), " ")
	return strconv.ParseFloat(first, 64)
}
