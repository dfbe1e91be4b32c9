package actor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jgriss/fusionsolar2mqtt/internal/core/domain"
	"github.com/jgriss/fusionsolar2mqtt/internal/core/service"
	. "github.com/jgriss/fusionsolar2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

// extra time for a cancelled poll to return before the task is abandoned
const POLL_TASK_GRACE = 5 * time.Second

type PollerActor struct {
	behavior   actor.Behavior
	stash      *Stash
	scheduler  *scheduler.TimerScheduler
	cancelTick scheduler.CancelFunc

	reconciler   *service.Reconciler
	eventStream  *eventstream.EventStream
	pollInterval time.Duration
	pollTimeout  time.Duration
	state        string
	waiting      Waiters

	logger *zap.Logger
}

type pollTick struct {
}

type pollResult struct {
	result *service.PollResult
	err    error
}

func NewPollerActor(reconciler *service.Reconciler, pollInterval time.Duration, eventStream *eventstream.EventStream, logger *zap.Logger) *PollerActor {
	act := &PollerActor{
		reconciler:   reconciler,
		eventStream:  eventStream,
		pollInterval: pollInterval,
		// fetch timeout plus session setup
		pollTimeout: 2 * pollInterval,
		behavior:    actor.NewBehavior(),
		stash:       &Stash{},
		state:       domain.POLLER_STATE_IDLE,
		logger:      ActorLogger(domain.ACTOR_ID_POLLER, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *PollerActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *PollerActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("poller@starting started")
		state.scheduler = scheduler.NewTimerScheduler(ctx)

		// unreadable state is logged by the reconciler, polling starts empty
		_ = state.reconciler.Restore(context.Background())

		if state.reconciler.AuthRequired() {
			state.state = domain.POLLER_STATE_AUTH_REQUIRED
		} else {
			ctx.Send(ctx.Self(), pollTick{})
		}
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case *actor.Restarting:
	default:
		state.logger.Debug("poller@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *PollerActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("poller@default: ActorHealthRequest")
		ctx.Respond(state.healthResponse())
	case pollTick:
		state.logger.Debug("poller@default tick")
		if state.state == domain.POLLER_STATE_AUTH_REQUIRED {
			return
		}
		state.startPoll(ctx)
	case domain.PollRequest:
		state.logger.Debug("poller@default PollRequest")
		if state.state == domain.POLLER_STATE_AUTH_REQUIRED {
			ForRequest(msg).Respond(ctx, domain.PollResponse{
				ActorResponseMixIn: domain.ErrorResponse(&service.AuthRequiredError{Err: state.reconciler.LastError()}),
			})
			return
		}
		state.waiting.Add(ctx, msg)
		state.startPoll(ctx)
	case domain.ReauthenticateRequest:
		state.logger.Info("poller@default ReauthenticateRequest")
		err := state.reconciler.Reauthenticate(context.Background(), msg.Credentials)
		if err != nil {
			// the old session could not be closed, the new one is unaffected
			state.logger.Warn("poller@default close previous session", zap.Error(err))
		}
		state.state = domain.POLLER_STATE_IDLE
		ForRequest(msg).Respond(ctx, domain.ReauthenticateResponse{})
		ctx.Send(ctx.Self(), pollTick{})
	case *actor.Stopping:
		state.stop()
	case *actor.Restarting:
		state.stop()
	default:
		state.logger.Debug("poller@default: unhandled", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *PollerActor) PollingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case pollResult:
		state.handleResult(ctx, msg)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthRequest:
		ctx.Respond(state.healthResponse())
	case domain.PollRequest:
		// served by the poll in flight
		state.waiting.Add(ctx, msg)
	case pollTick:
		state.logger.Debug("poller@polling: tick skipped, poll in flight")
	case *actor.Stopping:
		state.stop()
	case *actor.Restarting:
		state.stop()
	default:
		state.logger.Debug("poller@polling: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *PollerActor) startPoll(ctx actor.Context) {
	if state.cancelTick != nil {
		state.cancelTick()
		state.cancelTick = nil
	}
	state.state = domain.POLLER_STATE_POLLING

	reconciler := state.reconciler
	timeout := state.pollTimeout
	MapBackgroundTask(NewBackgroundTask(ctx, func() (*service.PollResult, error) {
		// session setup and fetch share the deadline, the poll lock is
		// released before the task gives up
		pollCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return reconciler.Poll(pollCtx)
	}), func(result *service.PollResult) *pollResult {
		return &pollResult{result: result}
	}).WithTimeout(timeout + POLL_TASK_GRACE).Recover(func(err error) pollResult {
		return pollResult{err: err}
	}).PipeToAsync(ctx.Self())

	state.behavior.BecomeStacked(state.PollingReceive)
}

func (state *PollerActor) handleResult(ctx actor.Context, msg pollResult) {
	var authErr *service.AuthRequiredError
	switch {
	case msg.err == nil:
		state.state = domain.POLLER_STATE_IDLE
		if msg.result.SensorsChanged {
			state.eventStream.Publish(domain.SensorsDiscoveredEvent{
				AccountHash: state.reconciler.AccountHash(),
				Readings:    msg.result.Readings,
			})
		}
		for _, reading := range msg.result.Readings {
			if ev, ok := reading.UpdateEvent(); ok {
				state.eventStream.Publish(ev)
			}
		}
		state.publishStatus(domain.POLL_STATUS_OK)
		state.logger.Debug("poller@polling: poll done", zap.Int("readings", len(msg.result.Readings)))
	case errors.Is(msg.err, service.ErrPollInFlight):
		// an abandoned poll still holds the session, the source did not fail
		state.state = domain.POLLER_STATE_IDLE
		state.logger.Warn("poller@polling: previous poll still running, tick skipped")
	case errors.As(msg.err, &authErr):
		state.state = domain.POLLER_STATE_AUTH_REQUIRED
		state.publishStatus(domain.POLL_STATUS_AUTH_REQUIRED)
		state.logger.Error("poller@polling: authentication required, polling stopped", zap.Error(msg.err))
	default:
		state.state = domain.POLLER_STATE_FAILING
		state.publishStatus(domain.POLL_STATUS_ERROR)
		state.logger.Warn("poller@polling: poll failed", zap.Error(msg.err))
	}

	var readings []domain.Reading
	if msg.result != nil {
		readings = msg.result.Readings
	}
	state.waiting.RespondAll(ctx, domain.PollResponse{
		ActorResponseMixIn: domain.ErrorResponse(msg.err),
		Readings:           readings,
	})

	if state.state != domain.POLLER_STATE_AUTH_REQUIRED {
		state.cancelTick = state.scheduler.RequestOnce(state.pollInterval, ctx.Self(), pollTick{})
	}
}

func (state *PollerActor) publishStatus(status string) {
	state.eventStream.Publish(domain.TextSensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{
			Id: domain.SENSOR_ID_POLL_STATUS,
		},
		Value: status,
	})
}

func (state *PollerActor) healthResponse() domain.ActorHealthResponse {
	return domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_POLLER,
		Healthy: state.state != domain.POLLER_STATE_AUTH_REQUIRED,
		State:   state.state,
	}
}

func (state *PollerActor) stop() {
	if state.cancelTick != nil {
		state.cancelTick()
		state.cancelTick = nil
	}
	state.logger.Debug("poller: close session")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := state.reconciler.Close(ctx); err != nil {
		state.logger.Warn("poller: close session", zap.Error(err))
	}
}
