// Package pipeline connects a chain of processes' data channels the way
// a shell connects commands with '|': each stage's DataOut (channel 5)
// feeds the next stage's DataIn (channel 4). This is not part of the
// hex-stream core itself, but the natural multi-process extension the
// original HexStreamPipeline class provided and the distilled spec left
// implicit.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/alternative-intelligence-cp/aria-shell/pkg/channelset"
	"github.com/alternative-intelligence-cp/aria-shell/pkg/process"
)

// linkPollInterval bounds how often an idle inter-stage link rechecks
// for new buffered output, mirroring drain.PollTimeout's cooperative
// polling rather than blocking on a condition variable.
const linkPollInterval = 5 * time.Millisecond

// Pipeline is an ordered chain of processes joined data-out to data-in.
type Pipeline struct {
	stages []*process.Process
	joins  []*join
}

type join struct {
	done chan struct{}
	err  error
}

// Connect spawns every stage's configuration in order and wires each
// stage's DataOut to the next stage's DataIn with a background copier.
// The last stage's DataOut and the first stage's DataIn remain exposed
// through Stages for the caller to drive directly, mirroring how a shell
// leaves the pipeline's own ends open to the terminal.
func Connect(ctx context.Context, configs []process.Config) (*Pipeline, error) {
	if len(configs) == 0 {
		return nil, fmt.Errorf("pipeline: no stages")
	}

	pl := &Pipeline{}
	for i, cfg := range configs {
		p, err := process.Start(ctx, cfg)
		if err != nil {
			pl.killAll()
			return nil, fmt.Errorf("pipeline: stage %d: %w", i, err)
		}
		pl.stages = append(pl.stages, p)
	}

	for i := 0; i+1 < len(pl.stages); i++ {
		pl.joins = append(pl.joins, pl.link(pl.stages[i], pl.stages[i+1]))
	}
	return pl, nil
}

// link starts a goroutine copying upstream's buffered DataOut into
// downstream's DataIn until upstream has exited, all of its drainers
// have finished and its DataOut buffer is empty (then downstream's
// DataIn is closed), or a write to downstream's DataIn fails.
func (pl *Pipeline) link(upstream, downstream *process.Process) *join {
	j := &join{done: make(chan struct{})}
	go func() {
		defer close(j.done)
		buf := make([]byte, 64*1024)
		for {
			n, _ := upstream.Streams().ReadBuffered(channelset.DataOut, buf)
			if n > 0 {
				if _, werr := downstream.Streams().WriteData(buf[:n]); werr != nil {
					j.err = werr
					return
				}
				continue
			}
			if upstream.Exited() && upstream.Streams().ActiveWorkerCount() == 0 &&
				upstream.Streams().Available(channelset.DataOut) == 0 {
				downstream.Streams().CloseData()
				return
			}
			time.Sleep(linkPollInterval)
		}
	}()
	return j
}

// Stages returns the spawned processes in pipeline order.
func (pl *Pipeline) Stages() []*process.Process { return pl.stages }

// First is the head stage, whose ControlIn/DataIn the caller drives.
func (pl *Pipeline) First() *process.Process { return pl.stages[0] }

// Last is the tail stage, whose ControlOut/ControlErr/DataOut the
// caller reads.
func (pl *Pipeline) Last() *process.Process { return pl.stages[len(pl.stages)-1] }

// Wait waits for every stage to exit and every link goroutine to finish.
func (pl *Pipeline) Wait(ctx context.Context) error {
	var firstErr error
	for _, p := range pl.stages {
		if err := p.Wait(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, j := range pl.joins {
		select {
		case <-j.done:
			if j.err != nil && firstErr == nil {
				firstErr = fmt.Errorf("pipeline: link: %w", j.err)
			}
		case <-ctx.Done():
			if firstErr == nil {
				firstErr = ctx.Err()
			}
		}
	}
	return firstErr
}

func (pl *Pipeline) killAll() {
	for _, p := range pl.stages {
		_ = p.Kill(0)
	}
}

var _ io.Writer = (*Pipeline)(nil)

// Write feeds the pipeline's head control-input, so a Pipeline can be
// used as a terminal's input sink the same way a single Process can.
func (pl *Pipeline) Write(p []byte) (int, error) { return pl.First().Streams().WriteInput(p) }
