package monitoring

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/cyclesim/sim"
)

type probe struct {
	Name  string
	Count int
}

func (p *probe) ID() sim.ComponentID   { return sim.ComponentID(p.Name) }
func (p *probe) Ports() []sim.PortSpec { return nil }
func (p *probe) Evaluate(*sim.EvalCtx) error {
	p.Count++
	return nil
}

func sampleEngine() *sim.Engine {
	g := sim.NewGraph()

	src := sim.NewProcessorFunc("src",
		[]sim.PortSpec{sim.OutPort("out", sim.IntType)},
		func(ctx *sim.EvalCtx) error {
			ctx.Raise(sim.NewEvent("tick", map[string]sim.Value{
				"n": sim.Int(int64(ctx.Cycle())),
			}).WithTargets("probe", "ghost"))

			return ctx.Outputs().SetInt("out", int64(ctx.Cycle())+10)
		})
	reg := sim.NewStateful("reg",
		[]sim.PortSpec{sim.InPort("d", sim.IntType), sim.OutPort("q", sim.IntType)},
		sim.StatefulSpec[int64]{
			Codec: sim.IntCodec{},
			Output: func(ctx *sim.EvalCtx, s int64) error {
				return ctx.Outputs().SetInt("q", s)
			},
			Next: func(ctx *sim.EvalCtx, _ int64) (int64, error) {
				return ctx.Inputs().Int("d")
			},
		})

	for _, c := range []sim.Component{src, reg, &probe{Name: "probe"}} {
		Expect(g.Register(c)).To(Succeed())
	}
	Expect(g.Connect("src", "out", "reg", "d")).To(Succeed())

	e, err := sim.Build(g, sim.SequentialMode())
	Expect(err).NotTo(HaveOccurred())

	return e
}

var _ = Describe("Monitor", func() {
	var (
		m      *Monitor
		engine *sim.Engine
	)

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		m.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

		return rec
	}

	decode := func(rec *httptest.ResponseRecorder, v any) {
		Expect(rec.Code).To(Equal(http.StatusOK), rec.Body.String())
		Expect(json.Unmarshal(rec.Body.Bytes(), v)).To(Succeed())
	}

	BeforeEach(func() {
		engine = sampleEngine()
		m = NewMonitor()
		m.RegisterEngine(engine)

		Expect(engine.Cycle()).To(Succeed())
		Expect(engine.Cycle()).To(Succeed())
	})

	It("should fall back to a random port for privileged ports", func() {
		m.WithPortNumber(80)
		Expect(m.portNumber).To(Equal(0))

		m.WithPortNumber(8080)
		Expect(m.portNumber).To(Equal(8080))
	})

	It("should answer 503 without an engine", func() {
		m = NewMonitor()
		Expect(get("/api/now").Code).To(Equal(http.StatusServiceUnavailable))
	})

	It("should report the current cycle", func() {
		var rsp struct{ Cycle uint64 }
		decode(get("/api/now"), &rsp)
		Expect(rsp.Cycle).To(Equal(uint64(2)))
	})

	It("should list components in registration order", func() {
		var ids []string
		decode(get("/api/list_components"), &ids)
		Expect(ids).To(Equal([]string{"src", "reg", "probe"}))
	})

	It("should serve the execution order", func() {
		var rsp orderRsp
		decode(get("/api/order"), &rsp)
		Expect(rsp.Sequence).To(HaveLen(3))
		Expect(rsp.Tiers).NotTo(BeEmpty())
	})

	It("should serve the last report", func() {
		var rsp reportRsp
		decode(get("/api/report"), &rsp)
		Expect(rsp.Cycle).To(Equal(uint64(1)))
		Expect(rsp.Delivered).To(Equal(1))
		Expect(rsp.Dropped).To(HaveLen(1))
		Expect(rsp.Dropped[0].Target).To(Equal("ghost"))
	})

	It("should serve the outputs of a component", func() {
		var rsp map[string]float64
		decode(get("/api/outputs/reg"), &rsp)
		Expect(rsp).To(HaveKeyWithValue("q", 10.0))
	})

	It("should serve the pending events of a component", func() {
		var rsp []eventRsp
		decode(get("/api/pending/probe"), &rsp)
		Expect(rsp).To(HaveLen(1))
		Expect(rsp[0].Source).To(Equal("src"))
		Expect(rsp[0].Payload).To(HaveKeyWithValue("n", 1.0))
	})

	It("should answer 404 for unknown components", func() {
		Expect(get("/api/component/nobody").Code).To(Equal(http.StatusNotFound))
		Expect(get("/api/outputs/nobody").Code).To(Equal(http.StatusNotFound))
	})

	It("should serialize a component", func() {
		rec := get("/api/component/probe")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring("Count"))
	})

	It("should serialize a field of a component", func() {
		req := url.PathEscape(`{"comp_name":"probe","field_name":"Count"}`)
		rec := get("/api/field/" + req)
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring("2"))
	})

	It("should serve the committed memory", func() {
		var cells map[string]float64
		decode(get("/api/memory"), &cells)
		Expect(cells).To(HaveKeyWithValue("reg.state", 11.0))

		var cell map[string]any
		decode(get("/api/memory/reg.state"), &cell)
		Expect(cell).To(HaveKeyWithValue("type", "int"))

		Expect(get("/api/memory/missing").Code).To(Equal(http.StatusNotFound))
	})

	It("should track progress bars", func() {
		bar := m.CreateProgressBar("run", 10)
		bar.IncrementInProgress(3)
		bar.MoveInProgressToFinished(2)

		var bars []ProgressBarStatus
		decode(get("/api/progress"), &bars)
		Expect(bars).To(HaveLen(1))
		Expect(bars[0].Finished).To(Equal(uint64(2)))
		Expect(bars[0].InProgress).To(Equal(uint64(1)))

		m.CompleteProgressBar(bar)
		decode(get("/api/progress"), &bars)
		Expect(bars).To(BeEmpty())
	})

	It("should serve registered metrics", func() {
		m.RegisterMetrics(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("cyclesim_cycles_total 2\n"))
		}))

		rec := get("/metrics")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring("cyclesim_cycles_total"))
	})

	It("should serve the web page", func() {
		rec := get("/")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring("<!DOCTYPE html>"))
	})
})
