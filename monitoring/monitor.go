// Package monitoring turns a running simulation into a web server that can
// pause it, continue it and show what is going on inside.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/rs/xid"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"
	"go.uber.org/zap"

	"github.com/smart-fm/simmobility-prod-sub015/monitoring/web"
	"github.com/smart-fm/simmobility-prod-sub015/sim/id"
	"github.com/smart-fm/simmobility-prod-sub015/spatial"
	"github.com/smart-fm/simmobility-prod-sub015/workers"
)

// Monitor can turn a simulation into a server and allows external monitoring
// controlling of the simulation.
type Monitor struct {
	group      *workers.WorkGroup
	portNumber int
	logger     *zap.Logger
	server     *http.Server

	profileDuration time.Duration

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar
}

// NewMonitor creates a new Monitor
func NewMonitor() *Monitor {
	return &Monitor{
		logger:          zap.NewNop(),
		profileDuration: time.Second,
	}
}

// WithPortNumber sets the port number of the monitor. Zero, or a privileged
// port, picks a free port.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber != 0 && portNumber < 1000 {
		m.logger.Warn("monitoring port not allowed, using a random port",
			zap.Int("port", portNumber))

		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// WithLogger sets the logger.
func (m *Monitor) WithLogger(logger *zap.Logger) *Monitor {
	m.logger = logger
	return m
}

// RegisterWorkGroup registers the work group to monitor.
func (m *Monitor) RegisterWorkGroup(g *workers.WorkGroup) {
	m.group = g
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		ID:        xid.New().String(),
		Name:      name,
		StartTime: time.Now(),
		Total:     total,
	}

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar to be shown on the webpage.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	newBars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

// Router returns the HTTP handler of the monitor.
func (m *Monitor) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/pause", m.pause)
	r.HandleFunc("/api/continue", m.continueRun)
	r.HandleFunc("/api/now", m.now)
	r.HandleFunc("/api/workers", m.listWorkers)
	r.HandleFunc("/api/entities", m.listEntities)
	r.HandleFunc("/api/entity/{id:[0-9]+}", m.entityDetails)
	r.HandleFunc("/api/field/{json}", m.fieldValue)
	r.HandleFunc("/api/spatial/stats", m.spatialStats)
	r.HandleFunc("/api/spatial/query", m.spatialQuery)
	r.HandleFunc("/api/spatial/leaves", m.spatialLeaves)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)
	r.PathPrefix("/").Handler(http.FileServer(web.GetAssets()))

	return r
}

// StartServer starts serving in the background and returns the URL of the
// monitor.
func (m *Monitor) StartServer() (string, error) {
	listener, err := net.Listen("tcp", ":"+strconv.Itoa(m.portNumber))
	if err != nil {
		return "", fmt.Errorf("monitoring: %w", err)
	}

	url := fmt.Sprintf("http://localhost:%d",
		listener.Addr().(*net.TCPAddr).Port)

	m.server = &http.Server{
		Handler:           m.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		err := m.server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("monitoring server stopped", zap.Error(err))
		}
	}()

	fmt.Fprintf(os.Stderr, "Monitoring simulation with %s\n", url)

	return url, nil
}

// StopServer shuts the server down.
func (m *Monitor) StopServer(ctx context.Context) error {
	if m.server == nil {
		return nil
	}

	return m.server.Shutdown(ctx)
}

func (m *Monitor) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(v); err != nil {
		m.logger.Warn("monitoring response failed", zap.Error(err))
	}
}

func (m *Monitor) pause(w http.ResponseWriter, _ *http.Request) {
	m.group.Pause()
	w.WriteHeader(http.StatusOK)
}

func (m *Monitor) continueRun(w http.ResponseWriter, _ *http.Request) {
	m.group.Continue()
	w.WriteHeader(http.StatusOK)
}

type nowRsp struct {
	Tick    uint64 `json:"tick"`
	MS      uint64 `json:"ms"`
	Paused  bool   `json:"paused"`
	Running bool   `json:"running"`
}

func (m *Monitor) now(w http.ResponseWriter, _ *http.Request) {
	now := m.group.Now()

	m.writeJSON(w, nowRsp{
		Tick:    now.Tick,
		MS:      now.MS,
		Paused:  m.group.Paused(),
		Running: m.group.Running(),
	})
}

type workerRsp struct {
	Name     string `json:"name"`
	Entities int    `json:"entities"`
	State    string `json:"state"`
	Failures int64  `json:"failures"`
}

func (m *Monitor) listWorkers(w http.ResponseWriter, _ *http.Request) {
	var rsp []workerRsp

	m.group.Inspect(func() {
		for _, worker := range m.group.Workers() {
			rsp = append(rsp, workerRsp{
				Name:     worker.Name(),
				Entities: worker.NumEntities(),
				State:    worker.State().String(),
				Failures: worker.Failures(),
			})
		}
	})

	m.writeJSON(w, rsp)
}

func (m *Monitor) listEntities(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pageParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var ids []id.ID

	m.group.Inspect(func() {
		ids = m.group.EntityIDs()
	})

	total := len(ids)
	ids = ids[min(offset, total):]

	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}

	m.writeJSON(w, struct {
		Total int     `json:"total"`
		IDs   []id.ID `json:"ids"`
	}{total, ids})
}

func pageParams(r *http.Request) (limit, offset int, err error) {
	parse := func(name string) (int, error) {
		s := r.URL.Query().Get(name)
		if s == "" {
			return 0, nil
		}

		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid %s: %q", name, s)
		}

		return n, nil
	}

	if limit, err = parse("limit"); err != nil {
		return 0, 0, err
	}

	offset, err = parse("offset")

	return limit, offset, err
}

func (m *Monitor) entityDetails(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	m.serializeEntity(w, id.ID(n), nil)
}

type fieldReq struct {
	EntityID  uint64 `json:"entity_id"`
	FieldName string `json:"field_name,omitempty"`
}

func (m *Monitor) fieldValue(w http.ResponseWriter, r *http.Request) {
	req := fieldReq{}

	err := json.Unmarshal([]byte(mux.Vars(r)["json"]), &req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	m.serializeEntity(w, id.ID(req.EntityID), strings.Split(req.FieldName, "."))
}

func (m *Monitor) serializeEntity(
	w http.ResponseWriter,
	entityID id.ID,
	fields []string,
) {
	buf := bytes.NewBuffer(nil)
	found := false

	var err error

	m.group.Inspect(func() {
		e, ok := m.group.Entity(entityID)
		if !ok {
			return
		}

		found = true

		serializer := goseth.NewSerializer()
		serializer.SetRoot(e)
		serializer.SetMaxDepth(1)

		if len(fields) > 0 {
			if err = serializer.SetEntryPoint(fields); err != nil {
				return
			}
		}

		err = serializer.Serialize(buf)
	})

	switch {
	case !found:
		http.Error(w, "Entity not found", http.StatusNotFound)
	case err != nil:
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(buf.Bytes())
	}
}

func (m *Monitor) spatialStats(w http.ResponseWriter, _ *http.Request) {
	var stats spatial.Stats

	m.group.Inspect(func() {
		stats = m.group.IndexStats()
	})

	m.writeJSON(w, stats)
}

func (m *Monitor) spatialLeaves(w http.ResponseWriter, _ *http.Request) {
	leaves := []spatial.BoundingBox{}

	m.group.Inspect(func() {
		if index := m.group.Index(); index != nil {
			leaves = append(leaves, index.Leaves()...)
		}
	})

	m.writeJSON(w, leaves)
}

// parseBox parses "minX,minY,maxX,maxY".
func parseBox(s string) (spatial.BoundingBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return spatial.BoundingBox{}, fmt.Errorf("box %q needs four numbers", s)
	}

	var v [4]float64

	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return spatial.BoundingBox{}, fmt.Errorf("box %q: %w", s, err)
		}

		v[i] = f
	}

	return spatial.Box(v[0], v[1], v[2], v[3]), nil
}

func (m *Monitor) spatialQuery(w http.ResponseWriter, r *http.Request) {
	box, err := parseBox(r.URL.Query().Get("box"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ids := []id.ID{}

	m.group.Inspect(func() {
		for _, e := range m.group.Neighbors(box) {
			ids = append(ids, e.ID())
		}
	})

	m.writeJSON(w, ids)
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	bars := make([]ProgressBarSnapshot, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		bars = append(bars, b.Snapshot())
	}
	m.progressBarsLock.Unlock()

	m.writeJSON(w, bars)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	memorySize, err := proc.MemoryInfo()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	m.writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	if err := pprof.StartCPUProfile(buf); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	time.Sleep(m.profileDuration)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	m.writeJSON(w, prof)
}
