package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/tiiuae/communication_link/missioncontrol/internal/types"
)

type inbound struct {
	msg   types.Message
	reply chan error
}

// do runs fn on the mission goroutine and waits for its result. Every
// change to the active mission goes through here.
func (o *Orchestrator) do(ctx context.Context, fn func(ctx context.Context) error) error {
	done := make(chan error, 1)
	op := func(loopCtx context.Context) {
		err := fn(loopCtx)
		o.reap()
		done <- err
	}

	select {
	case o.ops <- op:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) runMissionLoop(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.log.Info("Orchestrator shutting down")
			return nil
		case op := <-o.ops:
			op(ctx)
		case <-ticker.C:
			o.sweep(ctx, o.now())
			o.reap()
		}
	}
}

// Submit queues an inbound vehicle message without waiting for it to be
// processed. It never blocks. Failures are logged and published.
func (o *Orchestrator) Submit(msg types.Message) {
	if _, err := o.enqueue(msg, nil); err != nil {
		o.surface(msg, err)
	}
}

// RouteMessage processes an inbound vehicle message and returns its
// outcome. Messages from one vehicle are processed in arrival order.
func (o *Orchestrator) RouteMessage(ctx context.Context, msg types.Message) error {
	reply := make(chan error, 1)
	runCtx, err := o.enqueue(msg, reply)
	if err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-runCtx.Done():
		return runCtx.Err()
	}
}

// enqueue appends msg to its sender's queue and wakes the sender's loop.
func (o *Orchestrator) enqueue(msg types.Message, reply chan error) (context.Context, error) {
	if msg.From == "" {
		return nil, types.ValidationError("message %s without sender", msg.ID)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.group == nil || o.gctx.Err() != nil {
		return nil, errors.New("orchestrator is not running")
	}
	wake, found := o.wakeups[msg.From]
	if !found {
		wake = make(chan struct{}, 1)
		o.wakeups[msg.From] = wake
		ctx, vehicleID := o.gctx, msg.From
		o.group.Go(func() error {
			o.runVehicleLoop(ctx, vehicleID, wake)
			return nil
		})
	}
	o.incoming.Enqueue(msg.From, inbound{msg, reply})
	select {
	case wake <- struct{}{}:
	default:
	}
	return o.gctx, nil
}

func (o *Orchestrator) runVehicleLoop(ctx context.Context, vehicleID string, wake chan struct{}) {
	log := o.log.With(slog.String("vehicle", vehicleID))
	log.Debug("Vehicle loop started")

	for {
		select {
		case <-ctx.Done():
			log.Debug("Vehicle loop shutting down")
			return
		case <-wake:
		}
		for ctx.Err() == nil {
			in, ok := o.incoming.DequeueOne(vehicleID)
			if !ok {
				break
			}
			err := o.handleInbound(ctx, in.msg)
			if err != nil && !errors.Is(err, context.Canceled) {
				o.surface(in.msg, err)
			}
			if in.reply != nil {
				in.reply <- err
			}
		}
	}
}

func (o *Orchestrator) handleInbound(ctx context.Context, msg types.Message) error {
	if err := msg.Validate(); err != nil {
		o.reject(ctx, msg, err)
		return err
	}

	if c, ok := msg.Message.(types.Connect); ok {
		return o.handleConnect(ctx, msg, c)
	}
	if c, changed := o.fleet.Touch(msg.From, o.now()); changed {
		o.publishVehicle(c)
	}

	switch m := msg.Message.(type) {
	case types.Update:
		if err := o.fleet.Update(msg.From, m); err != nil {
			o.reject(ctx, msg, err)
			return err
		}
		o.acknowledge(ctx, msg)
		if m.Status != types.VEHICLE_REPORTED_ERROR {
			return nil
		}
		return o.do(ctx, func(ctx context.Context) error {
			o.vehicleLost(ctx, msg.From, "vehicle reported an error")
			return nil
		})
	case types.Ack:
		return o.do(ctx, func(ctx context.Context) error {
			o.handleAck(msg.From, m)
			return nil
		})
	case types.BadMessage:
		o.log.Warn("Vehicle rejected a message", slog.String("vehicle", msg.From), slog.String("error", m.Error))
		return nil
	}

	err := o.do(ctx, func(ctx context.Context) error {
		return o.deliver(ctx, msg)
	})
	switch {
	case errors.Is(err, context.Canceled):
	case errors.Is(err, types.ErrUnknownMessageKind), errors.Is(err, types.ErrValidation):
		o.reject(ctx, msg, err)
	default:
		o.acknowledge(ctx, msg)
	}
	return err
}

func (o *Orchestrator) handleConnect(ctx context.Context, msg types.Message, c types.Connect) error {
	change, changed := o.fleet.Connect(msg.From, c.JobsAvailable, o.now())
	if changed {
		o.publishVehicle(change)
	}
	if _, err := o.send(ctx, msg.From, types.KindConnectionAck, types.ConnectionAck{}); err != nil {
		o.log.Warn("Connection ack not sent", slog.String("vehicle", msg.From), slog.Any("error", err))
	}
	return nil
}

// acknowledge confirms receipt of msg to its sender.
func (o *Orchestrator) acknowledge(ctx context.Context, msg types.Message) {
	if !o.cfg.AcknowledgeMessages {
		return
	}
	if _, err := o.send(ctx, msg.From, types.KindAck, types.Ack{AckID: msg.ID}); err != nil {
		o.log.Debug("Ack not sent", slog.String("vehicle", msg.From), slog.Any("error", err))
	}
}

// reject answers a message the station could not accept with badMessage.
func (o *Orchestrator) reject(ctx context.Context, msg types.Message, cause error) {
	if _, err := o.send(ctx, msg.From, types.KindBadMessage, types.BadMessage{Error: cause.Error()}); err != nil {
		o.log.Debug("Bad message reply not sent", slog.String("vehicle", msg.From), slog.Any("error", err))
	}
}
