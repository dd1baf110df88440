// Package monitoring turns a running engine into an HTTP server that can be
// inspected from a browser.
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
	"github.com/rs/zerolog"
	"github.com/sarchlab/cyclesim/monitoring/web"
	"github.com/sarchlab/cyclesim/sim"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"
)

// Monitor serves the state of an engine over HTTP.
type Monitor struct {
	engine     *sim.Engine
	metrics    http.Handler
	portNumber int
	log        zerolog.Logger

	server   *http.Server
	listener net.Listener

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar
}

// NewMonitor creates a new Monitor
func NewMonitor() *Monitor {
	return &Monitor{log: zerolog.Nop()}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// WithLogger sets the logger of the monitor.
func (m *Monitor) WithLogger(log zerolog.Logger) *Monitor {
	m.log = log.With().Str("module", "monitor").Logger()
	return m
}

// RegisterEngine registers the engine that is used in the simulation.
func (m *Monitor) RegisterEngine(e *sim.Engine) {
	m.engine = e
}

// RegisterMetrics serves the given handler on /metrics.
func (m *Monitor) RegisterMetrics(h http.Handler) {
	m.metrics = h
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

// Router returns the routes of the monitor.
func (m *Monitor) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/now", m.now)
	r.HandleFunc("/api/report", m.report)
	r.HandleFunc("/api/order", m.order)
	r.HandleFunc("/api/list_components", m.listComponents)
	r.HandleFunc("/api/component/{name}", m.listComponentDetails)
	r.HandleFunc("/api/field/{json}", m.listFieldValue)
	r.HandleFunc("/api/outputs/{name}", m.listOutputs)
	r.HandleFunc("/api/pending/{name}", m.listPendingEvents)
	r.HandleFunc("/api/memory", m.listMemory)
	r.HandleFunc("/api/memory/{address}", m.readMemory)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)

	if m.metrics != nil {
		r.Handle("/metrics", m.metrics)
	}

	r.PathPrefix("/").Handler(http.FileServer(web.GetAssets()))

	return r
}

// StartServer starts the monitor as a web server and returns its URL.
func (m *Monitor) StartServer() (string, error) {
	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	if err != nil {
		return "", fmt.Errorf("starting monitor: %w", err)
	}

	m.listener = listener
	m.server = &http.Server{
		Handler:           m.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	url := fmt.Sprintf("http://localhost:%d",
		listener.Addr().(*net.TCPAddr).Port)
	m.log.Info().Str("url", url).Msg("monitoring simulation")

	go func() {
		err := m.server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.log.Error().Err(err).Msg("monitor stopped")
		}
	}()

	return url, nil
}

// StopServer shuts the web server down.
func (m *Monitor) StopServer(ctx context.Context) error {
	if m.server == nil {
		return nil
	}

	return m.server.Shutdown(ctx)
}

func (m *Monitor) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(v); err != nil {
		m.log.Error().Err(err).Msg("writing response")
	}
}

func (m *Monitor) engineOr503(w http.ResponseWriter) *sim.Engine {
	if m.engine == nil {
		http.Error(w, "no engine registered", http.StatusServiceUnavailable)
	}

	return m.engine
}

func (m *Monitor) now(w http.ResponseWriter, _ *http.Request) {
	e := m.engineOr503(w)
	if e == nil {
		return
	}

	fmt.Fprintf(w, "{\"cycle\":%d}", e.CurrentCycle())
}

type droppedRsp struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
	Source  string `json:"source"`
	Target  string `json:"target"`
}

type reportRsp struct {
	Cycle      uint64       `json:"cycle"`
	Evaluated  int          `json:"evaluated"`
	Latched    int          `json:"latched"`
	Events     int          `json:"events"`
	Delivered  int          `json:"delivered"`
	Dropped    []droppedRsp `json:"dropped"`
	Deltas     int          `json:"deltas"`
	DurationNS int64        `json:"duration_ns"`
}

func (m *Monitor) report(w http.ResponseWriter, _ *http.Request) {
	e := m.engineOr503(w)
	if e == nil {
		return
	}

	r := e.LastReport()
	rsp := reportRsp{
		Cycle:      r.Cycle,
		Evaluated:  r.Evaluated,
		Latched:    r.Latched,
		Events:     r.Events,
		Delivered:  r.Delivered,
		Dropped:    []droppedRsp{},
		Deltas:     r.DeltasCommitted(),
		DurationNS: r.Duration.Nanoseconds(),
	}

	for _, d := range r.Dropped {
		rsp.Dropped = append(rsp.Dropped, droppedRsp{
			EventID: d.EventID,
			Type:    string(d.Type),
			Source:  string(d.Source),
			Target:  string(d.Target),
		})
	}

	m.writeJSON(w, rsp)
}

type orderRsp struct {
	Sequence []sim.ComponentID   `json:"sequence"`
	Tiers    [][]sim.ComponentID `json:"tiers"`
}

func (m *Monitor) order(w http.ResponseWriter, _ *http.Request) {
	e := m.engineOr503(w)
	if e == nil {
		return
	}

	o := e.Order()
	m.writeJSON(w, orderRsp{Sequence: o.Sequence, Tiers: o.Tiers})
}

func (m *Monitor) listComponents(w http.ResponseWriter, _ *http.Request) {
	e := m.engineOr503(w)
	if e == nil {
		return
	}

	ids := []sim.ComponentID{}
	for _, c := range e.Graph().Components() {
		ids = append(ids, c.ID())
	}

	m.writeJSON(w, ids)
}

func (m *Monitor) findComponentOr404(
	w http.ResponseWriter,
	name string,
) sim.Component {
	e := m.engineOr503(w)
	if e == nil {
		return nil
	}

	component, found := e.Graph().Component(sim.ComponentID(name))
	if !found {
		http.Error(w, "Component not found", http.StatusNotFound)
		return nil
	}

	return component
}

func (m *Monitor) listComponentDetails(w http.ResponseWriter, r *http.Request) {
	component := m.findComponentOr404(w, mux.Vars(r)["name"])
	if component == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(component)
	serializer.SetMaxDepth(1)

	if err := serializer.Serialize(w); err != nil {
		m.log.Error().Err(err).Msg("serializing component")
	}
}

type fieldReq struct {
	CompName  string `json:"comp_name,omitempty"`
	FieldName string `json:"field_name,omitempty"`
}

func (m *Monitor) listFieldValue(w http.ResponseWriter, r *http.Request) {
	req := fieldReq{}
	if err := json.Unmarshal([]byte(mux.Vars(r)["json"]), &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	component := m.findComponentOr404(w, req.CompName)
	if component == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(component)
	serializer.SetMaxDepth(1)

	if err := serializer.SetEntryPoint(strings.Split(req.FieldName, ".")); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := serializer.Serialize(w); err != nil {
		m.log.Error().Err(err).Msg("serializing field")
	}
}

func (m *Monitor) listOutputs(w http.ResponseWriter, r *http.Request) {
	component := m.findComponentOr404(w, mux.Vars(r)["name"])
	if component == nil {
		return
	}

	outputs := make(map[string]any)
	for _, p := range component.Ports() {
		if p.Direction != sim.Output {
			continue
		}

		v, err := m.engine.Output(sim.Ref(component.ID(), p.Name))
		if err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}

		outputs[p.Name] = v.Interface()
	}

	m.writeJSON(w, outputs)
}

type eventRsp struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Source  string         `json:"source"`
	Payload map[string]any `json:"payload"`
}

func (m *Monitor) listPendingEvents(w http.ResponseWriter, r *http.Request) {
	component := m.findComponentOr404(w, mux.Vars(r)["name"])
	if component == nil {
		return
	}

	rsp := []eventRsp{}
	for _, evt := range m.engine.Pending(component.ID()) {
		payload := make(map[string]any, len(evt.Payload))
		for k, v := range evt.Payload {
			payload[k] = v.Interface()
		}

		rsp = append(rsp, eventRsp{
			ID:      evt.ID,
			Type:    string(evt.Type),
			Source:  string(evt.Source),
			Payload: payload,
		})
	}

	m.writeJSON(w, rsp)
}

func (m *Monitor) listMemory(w http.ResponseWriter, _ *http.Request) {
	e := m.engineOr503(w)
	if e == nil {
		return
	}

	cells := make(map[string]any)
	for addr, v := range e.Memory().Snapshot() {
		cells[string(addr)] = v.Interface()
	}

	m.writeJSON(w, cells)
}

func (m *Monitor) readMemory(w http.ResponseWriter, r *http.Request) {
	e := m.engineOr503(w)
	if e == nil {
		return
	}

	addr := sim.Address(mux.Vars(r)["address"])
	v, err := e.Memory().Peek(addr)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	m.writeJSON(w, map[string]any{
		"address": addr,
		"type":    v.Type().String(),
		"value":   v.Interface(),
	})
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	bars := make([]ProgressBarStatus, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		bars = append(bars, b.Status())
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

	memoryInfo, err := proc.MemoryInfo()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	m.writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memoryInfo.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, r *http.Request) {
	duration := time.Second
	if s := r.URL.Query().Get("seconds"); s != "" {
		d, err := time.ParseDuration(s + "s")
		if err != nil || d <= 0 {
			http.Error(w, "invalid seconds", http.StatusBadRequest)
			return
		}
		duration = d
	}

	buf := bytes.NewBuffer(nil)
	if err := pprof.StartCPUProfile(buf); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	time.Sleep(duration)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	m.writeJSON(w, prof)
}
