package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/coordinator/pkg/commsutil"
	"github.com/morezero/coordinator/pkg/dispatch"
	"github.com/morezero/coordinator/pkg/dispatcher"
	"github.com/morezero/coordinator/pkg/events"
	"github.com/morezero/coordinator/pkg/registry"
)

const subsLogPrefix = "server:subscriptions"

// announceAck is the reply to an announcement sent with a reply subject.
type announceAck struct {
	Ok         bool                    `json:"ok"`
	Descriptor *registry.Descriptor    `json:"descriptor,omitempty"`
	Error      *dispatcher.ErrorDetail `json:"error,omitempty"`
}

// Subscribe attaches the coordinator to its inbound subjects. Each handler
// runs with a context bounded by REQUEST_TIMEOUT and derived from ctx.
func (s *Server) Subscribe(ctx context.Context) error {
	if s.nc == nil {
		return fmt.Errorf("%s - no COMMS connection", subsLogPrefix)
	}
	originator := s.coord.Originator()
	handlers := []struct {
		subject string
		handle  func(context.Context, *comms.Msg)
	}{
		{commsutil.SubjectAnnounce, s.handleAnnounce},
		{commsutil.OutputSubject(originator), s.handleOutput},
		{commsutil.ResultsSubject(originator), s.handleResult},
		{commsutil.ControlSubject(originator), s.handleControl},
	}

	for _, h := range handlers {
		handle := h.handle
		sub, err := s.nc.Subscribe(h.subject, func(msg *comms.Msg) {
			msgCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
			defer cancel()
			handle(msgCtx, msg)
		})
		if err != nil {
			return fmt.Errorf("%s - failed to subscribe to %s: %w", subsLogPrefix, h.subject, err)
		}
		s.subs = append(s.subs, sub)
		slog.Info(fmt.Sprintf("%s - Subscribed to %s", subsLogPrefix, h.subject))
	}
	if err := s.nc.Flush(); err != nil {
		return fmt.Errorf("%s - failed to flush subscriptions: %w", subsLogPrefix, err)
	}
	return nil
}

func (s *Server) handleAnnounce(ctx context.Context, msg *comms.Msg) {
	var a registry.Announcement
	if err := commsutil.DecodePayload(msg.Data, &a); err != nil {
		slog.Warn(fmt.Sprintf("%s - dropped announcement: %v", subsLogPrefix, err))
		s.reply(msg, &announceAck{Error: &dispatcher.ErrorDetail{Code: dispatcher.CodeInvalidArgument, Message: err.Error()}})
		return
	}
	d, err := s.coord.HandleAnnouncement(ctx, &a)
	if err != nil {
		ack := &announceAck{Error: &dispatcher.ErrorDetail{Code: dispatcher.CodeInvalidArgument, Message: err.Error()}}
		var regErr *registry.Error
		if errors.As(err, &regErr) {
			ack.Error.Code = regErr.Code
			ack.Error.Message = regErr.Message
		}
		s.reply(msg, ack)
		return
	}
	slog.Debug(fmt.Sprintf("%s - Announced %s@%s", subsLogPrefix, d.Capability, d.Version))
	s.reply(msg, &announceAck{Ok: true, Descriptor: d})
}

func (s *Server) handleOutput(ctx context.Context, msg *comms.Msg) {
	var out events.ModelOutput
	if err := commsutil.DecodePayload(msg.Data, &out); err != nil {
		slog.Warn(fmt.Sprintf("%s - dropped model output: %v", subsLogPrefix, err))
		return
	}
	if err := s.coord.HandleModelOutput(ctx, &out); err != nil {
		slog.Error(fmt.Sprintf("%s - model output %s: %v", subsLogPrefix, out.ResponseID, err))
	}
}

func (s *Server) handleResult(ctx context.Context, msg *comms.Msg) {
	var res events.ResultMessage
	if err := commsutil.DecodePayload(msg.Data, &res); err != nil {
		slog.Warn(fmt.Sprintf("%s - dropped result: %v", subsLogPrefix, err))
		return
	}
	err := s.coord.HandleResult(ctx, &res)
	var dispErr *dispatch.Error
	switch {
	case err == nil:
	case errors.As(err, &dispErr):
		slog.Warn(fmt.Sprintf("%s - discarded result batch=%s index=%d: %s", subsLogPrefix, res.BatchID, res.Index, dispErr.Code))
	default:
		slog.Error(fmt.Sprintf("%s - result batch=%s index=%d: %v", subsLogPrefix, res.BatchID, res.Index, err))
	}
}

func (s *Server) handleControl(ctx context.Context, msg *comms.Msg) {
	var req dispatcher.ControlRequest
	if err := commsutil.DecodePayload(msg.Data, &req); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to decode control request: %v", subsLogPrefix, err))
		s.reply(msg, &dispatcher.ControlResponse{
			Error: &dispatcher.ErrorDetail{Code: dispatcher.CodeInvalidArgument, Message: "Failed to decode request"},
		})
		return
	}
	s.reply(msg, s.disp.Dispatch(ctx, &req))
}

// reply responds when msg was sent as a request.
func (s *Server) reply(msg *comms.Msg, v interface{}) {
	if msg.Reply == "" {
		return
	}
	data, err := commsutil.EncodePayload(v)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - failed to encode reply: %v", subsLogPrefix, err))
		return
	}
	if err := msg.Respond(data); err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to reply on %s: %v", subsLogPrefix, msg.Reply, err))
	}
}
