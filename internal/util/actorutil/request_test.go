package actorutil

import (
	"testing"
	"time"

	"github.com/jgriss/fusionsolar2mqtt/internal/core/domain"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type release struct{}

// holder answers every queued PollRequest once it receives release.
type holder struct {
	waiting Waiters
}

func (h *holder) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.PollRequest:
		h.waiting.Add(ctx, msg)
	case release:
		h.waiting.RespondAll(ctx, domain.PollResponse{})
	}
}

func TestWaitersRespondAll(t *testing.T) {
	as := actor.NewActorSystem()
	defer as.Shutdown()

	pid := as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor { return &holder{} }))

	first := as.Root.RequestFuture(pid, domain.PollRequest{}, 2*time.Second)
	second := as.Root.RequestFuture(pid, domain.PollRequest{}, 2*time.Second)
	// fire and forget, nobody to answer
	as.Root.Send(pid, domain.PollRequest{})

	time.Sleep(100 * time.Millisecond)
	as.Root.Send(pid, release{})

	for _, f := range []*actor.Future{first, second} {
		res, err := f.Result()
		require.NoError(t, err)
		_, ok := res.(domain.PollResponse)
		assert.True(t, ok)
	}
}
