//go:build unix

package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/alternative-intelligence-cp/aria-shell/pkg/channelset"
	"github.com/alternative-intelligence-cp/aria-shell/pkg/process"
)

func TestTwoStagePipelineJoinsDataChannels(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	// Neither /bin/echo nor /bin/cat touches DataOut, so zero bytes are
	// expected to cross the link. This exercises the pipeline plumbing:
	// the interesting assertion is that Wait completes without deadlock,
	// and the head stage's own stdout is still captured.
	pl, err := Connect(ctx, []process.Config{
		{Path: "/bin/echo", Args: []string{"stage-one"}},
		{Path: "/bin/cat"},
	})
	if err != nil {
		t.Fatal(err)
	}

	// /bin/cat only stops reading once its stdin sees EOF; nothing else
	// in this pipeline ever writes to or closes it.
	if err := pl.Last().Streams().CloseInput(); err != nil {
		t.Fatal(err)
	}

	waitCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := pl.Wait(waitCtx); err != nil {
		t.Fatalf("wait: %v", err)
	}

	out := make([]byte, 64)
	n, _ := pl.First().Streams().ReadBuffered(channelset.ControlOut, out)
	if string(out[:n]) != "stage-one\n" {
		t.Fatalf("head stdout: got %q", out[:n])
	}
}
