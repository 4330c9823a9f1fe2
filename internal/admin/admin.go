// Package admin exposes the translator's optional, read-only
// observability surface: health, a JSON stats snapshot, and a
// Prometheus exposition endpoint backed by a dedicated
// prometheus.Registry with the standard process/Go collectors. The
// admin surface never touches the transaction table directly — it
// only reads dispatch.Stats, which is already safe for concurrent
// access.
package admin

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/rahra/utdns/internal/dispatch"
	"github.com/rahra/utdns/internal/helpers"
)

// StatsSource is the minimal view of the dispatcher the admin surface
// depends on, so tests can supply a fake without running a real event loop.
type StatsSource interface {
	Snapshot() dispatch.Snapshot
}

// metricsPollInterval bounds how stale the Prometheus counters can get
// relative to the live dispatch.Stats they are derived from.
const metricsPollInterval = 5 * time.Second

// Server wraps a gin engine exposing /healthz, /stats, and /metrics.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	startTime  time.Time
	reg        *prometheus.Registry
	stats      StatsSource

	metricAccepted  prometheus.Counter
	metricRelayed   prometheus.Counter
	metricDrops     *prometheus.CounterVec
	metricIoFailure *prometheus.CounterVec
}

// NewServer builds the admin HTTP server bound to addr. It does not
// start listening until Run is called.
func NewServer(addr string, stats StatsSource, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())

	s := &Server{
		logger:    logger,
		startTime: time.Now(),
		reg:       reg,
		stats:     stats,
		metricAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "utdns_queries_accepted_total",
			Help: "UDP queries for which a transaction slot was allocated.",
		}),
		metricRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "utdns_responses_relayed_total",
			Help: "Upstream responses successfully relayed back to a client.",
		}),
		metricDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "utdns_datagrams_dropped_total",
			Help: "Datagrams dropped before a slot was allocated, by reason.",
		}, []string{"reason"}),
		metricIoFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "utdns_slot_failures_total",
			Help: "Slots torn down due to an upstream or client-reply failure, by reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(s.metricAccepted, s.metricRelayed, s.metricDrops, s.metricIoFailure)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", s.handleHealthz)
	router.GET("/stats", func(c *gin.Context) { s.handleStats(c, stats) })
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Observe folds the delta between two cumulative dispatch.Snapshot
// reads into the server's Prometheus counters. Callers poll Snapshot
// on an interval and pass the previous and current reads; Observe
// adds only the difference, since prometheus.Counter only supports Add.
func (s *Server) Observe(prev, cur dispatch.Snapshot) {
	s.metricAccepted.Add(float64(cur.QueriesAccepted - prev.QueriesAccepted))
	s.metricRelayed.Add(float64(cur.ResponsesRelayed - prev.ResponsesRelayed))
	s.metricDrops.WithLabelValues("table_full").Add(float64(cur.TableFullDrops - prev.TableFullDrops))
	s.metricDrops.WithLabelValues("malformed").Add(float64(cur.MalformedDrops - prev.MalformedDrops))
	s.metricIoFailure.WithLabelValues("upstream_connect").Add(float64(cur.UpstreamConnFails - prev.UpstreamConnFails))
	s.metricIoFailure.WithLabelValues("upstream_io").Add(float64(cur.UpstreamIoFails - prev.UpstreamIoFails))
	s.metricIoFailure.WithLabelValues("client_reply").Add(float64(cur.ClientReplyFails - prev.ClientReplyFails))
	s.metricIoFailure.WithLabelValues("stale_reap").Add(float64(cur.StaleReaps - prev.StaleReaps))
}

type healthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponse{Status: "ok"})
}

type cpuStats struct {
	NumCPU             int     `json:"num_cpu"`
	UsedPercent        float64 `json:"used_percent"`
	UsedPercentRounded uint8   `json:"used_percent_rounded"`
}

type memStats struct {
	TotalMB     float64 `json:"total_mb"`
	UsedMB      float64 `json:"used_mb"`
	UsedPercent float64 `json:"used_percent"`
}

type statsResponse struct {
	UptimeSeconds int64             `json:"uptime_seconds"`
	CPU           cpuStats          `json:"cpu"`
	Memory        memStats          `json:"memory"`
	Dispatch      dispatch.Snapshot `json:"dispatch"`
}

func (s *Server) handleStats(c *gin.Context, stats StatsSource) {
	resp := statsResponse{
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		CPU:           cpuStats{NumCPU: runtime.NumCPU()},
		Dispatch:      stats.Snapshot(),
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		resp.Memory = memStats{
			TotalMB:     float64(vm.Total) / 1024 / 1024,
			UsedMB:      float64(vm.Used) / 1024 / 1024,
			UsedPercent: vm.UsedPercent,
		}
	}
	if pct, err := cpu.Percent(50*time.Millisecond, false); err == nil && len(pct) > 0 {
		resp.CPU.UsedPercent = pct[0]
		resp.CPU.UsedPercentRounded = helpers.ClampUint32ToUint8(uint32(math.Round(pct[0])))
	}

	c.JSON(http.StatusOK, resp)
}

// Handler returns the server's http.Handler, letting tests drive it
// directly through httptest without binding a real listener.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run starts serving and blocks until ctx is cancelled or the server
// fails. It always shuts the HTTP server down cleanly before returning.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	pollCtx, cancelPoll := context.WithCancel(ctx)
	defer cancelPoll()
	go s.pollMetrics(pollCtx)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("admin server shutdown error", "error", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

// pollMetrics snapshots the dispatcher's counters on an interval and
// folds each delta into the server's Prometheus metrics, since
// prometheus.Counter only supports Add, not Set.
func (s *Server) pollMetrics(ctx context.Context) {
	if s.stats == nil {
		return
	}
	ticker := time.NewTicker(metricsPollInterval)
	defer ticker.Stop()

	prev := s.stats.Snapshot()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cur := s.stats.Snapshot()
			s.Observe(prev, cur)
			prev = cur
		}
	}
}
