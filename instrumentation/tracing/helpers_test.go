package tracing

import (
	"errors"

	"github.com/sarchlab/cyclesim/sim"
)

// newEngine builds src -> reg, where src fails while *broken is set and
// raises an event for a component that does not exist.
func newEngine(cfg sim.Config, broken *bool) *sim.Engine {
	g := sim.NewGraph()

	src := sim.NewProcessorFunc("src",
		[]sim.PortSpec{sim.OutPort("out", sim.IntType)},
		func(ctx *sim.EvalCtx) error {
			if *broken {
				return errors.New("broken")
			}

			ctx.Raise(sim.NewEvent("note", nil).WithTargets("nobody"))

			return ctx.Outputs().SetInt("out", 1)
		})
	reg := sim.NewStateful("reg",
		[]sim.PortSpec{sim.InPort("d", sim.IntType)},
		sim.StatefulSpec[int64]{
			Codec: sim.IntCodec{},
			Next: func(ctx *sim.EvalCtx, _ int64) (int64, error) {
				return ctx.Inputs().Int("d")
			},
		})

	for _, c := range []sim.Component{src, reg} {
		if err := g.Register(c); err != nil {
			panic(err)
		}
	}

	if err := g.Connect("src", "out", "reg", "d"); err != nil {
		panic(err)
	}

	e, err := sim.Build(g, cfg)
	if err != nil {
		panic(err)
	}

	return e
}
