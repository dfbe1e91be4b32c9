package actorutil

import (
	"github.com/jgriss/fusionsolar2mqtt/internal/core/domain"

	"github.com/asynkron/protoactor-go/actor"
)

type forRequest struct {
	req domain.ActorRequest
}

type ExtendedRequest interface {
	Respond(ctx actor.Context, resp domain.ActorResponse)
	ReplyTo(ctx actor.Context) *actor.PID
}

func ForRequest(r domain.ActorRequest) ExtendedRequest {
	return forRequest{req: r}
}

func (r forRequest) Respond(ctx actor.Context, resp domain.ActorResponse) {
	if r.req.ReplyTo() != nil {
		ctx.Send((*actor.PID)(r.req.ReplyTo()), resp)
	} else if ctx.Sender() != nil {
		ctx.Respond(resp)
	}
}

func (r forRequest) ReplyTo(ctx actor.Context) *actor.PID {
	if r.req.ReplyTo() != nil {
		return (*actor.PID)(r.req.ReplyTo())
	}
	return ctx.Sender()
}

// Waiters collects the reply targets of requests answered by one pending
// result.
type Waiters []*actor.PID

func (w *Waiters) Add(ctx actor.Context, r domain.ActorRequest) {
	if pid := ForRequest(r).ReplyTo(ctx); pid != nil {
		*w = append(*w, pid)
	}
}

// RespondAll sends resp to every waiter and empties the list.
func (w *Waiters) RespondAll(ctx actor.Context, resp domain.ActorResponse) {
	for _, pid := range *w {
		ctx.Send(pid, resp)
	}
	*w = nil
}
