// Package supervision wires the four blast-radius domains from §4.1
// into the ordered startup tree from §2's dependency order: Pub/Sub →
// Registry → Sensor Pipeline → Attention + Load → Biomimetic → Room/CRDT.
//
// golang.org/x/sync/errgroup drives the fan-out within a stage (stages
// whose members are independent peers start concurrently); stages
// themselves run strictly in order since each depends on the previous.
package supervision

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/adiibanez/sensocto/internal/cmn/nlog"
)

// Stage is one ordered phase of the startup tree. Components within a
// stage are independent peers (§4.1 domain 2/4 restart policy) and start
// concurrently; a failure in any aborts the whole stage.
type Stage struct {
	Name       string
	Components []Component
	// RestartDownstream marks a stage whose crash invalidates every later
	// stage (set for the Infrastructure domain per §4.1: "losing pub/sub
	// invalidates every downstream registry entry"). Tree records the flag
	// but does not act on it.
	RestartDownstream bool
}

// Component is a single named, startable/stoppable unit within a stage.
type Component struct {
	Name  string
	Start func(ctx context.Context) error
	Stop  func(ctx context.Context) error
}

// Tree runs an ordered list of stages and stops them in reverse order. It
// restarts nothing: a stage whose Start fails aborts the stages after it,
// and a component that fails after its Start has returned goes unnoticed.
type Tree struct {
	stages  []Stage
	cancels []context.CancelFunc
}

func NewTree(stages ...Stage) *Tree {
	return &Tree{stages: stages}
}

// Start runs every stage in order; within a stage, components start
// concurrently via errgroup and the stage only completes once every
// component's Start has returned.
func (t *Tree) Start(ctx context.Context) error {
	for _, stage := range t.stages {
		stageCtx, cancel := context.WithCancel(ctx)
		t.cancels = append(t.cancels, cancel)

		g, gctx := errgroup.WithContext(stageCtx)
		for _, c := range stage.Components {
			c := c
			g.Go(func() error {
				nlog.Infof("supervision: starting %s/%s", stage.Name, c.Name)
				return c.Start(gctx)
			})
		}
		if err := g.Wait(); err != nil {
			nlog.Errorf("supervision: stage %s failed: %v", stage.Name, err)
			return err
		}
		nlog.Infof("supervision: stage %s up", stage.Name)
	}
	return nil
}

// Stop tears every stage down in reverse order, each stage's components
// concurrently, each given a bounded drain budget by the caller's ctx.
func (t *Tree) Stop(ctx context.Context) {
	for i := len(t.stages) - 1; i >= 0; i-- {
		stage := t.stages[i]
		var g errgroup.Group
		for _, c := range stage.Components {
			c := c
			if c.Stop == nil {
				continue
			}
			g.Go(func() error { return c.Stop(ctx) })
		}
		if err := g.Wait(); err != nil {
			nlog.Warnf("supervision: stage %s stop: %v", stage.Name, err)
		}
		if i < len(t.cancels) {
			t.cancels[i]()
		}
	}
}
