package speech

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-bouyomi/internal/bouyomi"
	"github.com/loqalabs/loqa-bouyomi/internal/bus"
	"github.com/loqalabs/loqa-bouyomi/internal/config"
	"github.com/loqalabs/loqa-bouyomi/internal/eventstore"
	"github.com/loqalabs/loqa-bouyomi/internal/protocol"
	"github.com/nats-io/nats.go"
	"golang.org/x/time/rate"
)

const commandTimeout = 10 * time.Second

// Snapshotter reads the playback state of BouyomiChan.
type Snapshotter interface {
	Snapshot(ctx context.Context) (bouyomi.Snapshot, error)
}

// Speaker is the subset of *bouyomi.Client the service drives.
type Speaker interface {
	Snapshotter
	TalkConfig() bouyomi.TalkConfig
	TalkWithConfig(ctx context.Context, message string, cfg bouyomi.TalkConfig) error
	Send(ctx context.Context, cmd bouyomi.Command) error
	Wait(ctx context.Context, limitSec int)
}

// Recorder persists every command sent to BouyomiChan.
type Recorder interface {
	Record(ctx context.Context, cmd eventstore.Command) (string, error)
}

// Service exposes a BouyomiChan instance on the bus.
type Service struct {
	cfg     config.SpeechConfig
	bus     *bus.Client
	speaker Speaker
	store   Recorder
	limiter *rate.Limiter
	subs    []*nats.Subscription
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  *slog.Logger
}

func NewService(parent context.Context, cfg config.SpeechConfig, busClient *bus.Client, speaker Speaker, store Recorder, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:     cfg,
		bus:     busClient,
		speaker: speaker,
		store:   store,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		ctx:     ctx,
		cancel:  cancel,
		logger:  log.With(slog.String("component", "speech-service")),
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	handlers := []struct {
		subject string
		handler nats.MsgHandler
	}{
		{protocol.SubjectSpeak, s.tracked(s.handleSpeak)},
		{protocol.SubjectControl, s.tracked(s.handleControl)},
		{protocol.SubjectStatus, s.tracked(s.handleStatus)},
	}
	for _, h := range handlers {
		sub, err := s.bus.Conn().Subscribe(h.subject, h.handler)
		if err != nil {
			s.drain()
			return fmt.Errorf("subscribe %s: %w", h.subject, err)
		}
		s.subs = append(s.subs, sub)
	}
	return nil
}

func (s *Service) Close() {
	s.cancel()
	s.drain()
	s.wg.Wait()
}

func (s *Service) drain() {
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.subs = nil
}

func (s *Service) Healthy() bool { return !s.cfg.Enabled || len(s.subs) > 0 }

// tracked lets Close wait for handlers that are mid-exchange. Each
// subscription delivers sequentially, so talk packets keep bus order.
func (s *Service) tracked(h nats.MsgHandler) nats.MsgHandler {
	return func(msg *nats.Msg) {
		s.wg.Add(1)
		defer s.wg.Done()
		h(msg)
	}
}

func (s *Service) handleSpeak(msg *nats.Msg) {
	var req protocol.SpeakRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode speak request", slogError(err))
		s.finishSpeak(msg, req, fmt.Errorf("decode request: %w", err))
		return
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	if err := s.checkText(req.Text); err != nil {
		s.record(eventstore.Command{ID: req.RequestID, SessionID: req.SessionID, TraceID: req.TraceID, Name: bouyomi.CommandTalk.String(), Text: req.Text, Outcome: eventstore.OutcomeRejected, Error: err.Error()})
		s.finishSpeak(msg, req, err)
		return
	}
	if err := s.limiter.Wait(s.ctx); err != nil {
		s.finishSpeak(msg, req, fmt.Errorf("speech service stopping: %w", err))
		return
	}

	voice := applyVoice(s.speaker.TalkConfig(), req.Voice)
	ctx, cancel := context.WithTimeout(s.ctx, commandTimeout)
	err := s.speaker.TalkWithConfig(ctx, req.Text, voice)
	cancel()

	rec := eventstore.Command{ID: req.RequestID, SessionID: req.SessionID, TraceID: req.TraceID, Name: bouyomi.CommandTalk.String(), Text: req.Text, Outcome: eventstore.OutcomeSent}
	if data, mErr := json.Marshal(voice); mErr == nil {
		rec.Voice = data
	}
	if err != nil {
		rec.Outcome = eventstore.OutcomeFailed
		rec.Error = err.Error()
		s.logger.Warn("talk failed", slog.String("request_id", req.RequestID), slogError(err))
	}
	s.record(rec)

	if err == nil && req.WaitSec > 1 {
		limit := req.WaitSec
		if s.cfg.WaitLimitSec > 0 && limit > s.cfg.WaitLimitSec {
			limit = s.cfg.WaitLimitSec
		}
		s.speaker.Wait(s.ctx, limit)
	}
	s.finishSpeak(msg, req, err)
}

func (s *Service) checkText(text string) error {
	if text == "" {
		return fmt.Errorf("text must not be empty")
	}
	if s.cfg.MaxTextBytes > 0 && len(text) > s.cfg.MaxTextBytes {
		return fmt.Errorf("text is %d bytes, limit is %d", len(text), s.cfg.MaxTextBytes)
	}
	return nil
}

func (s *Service) finishSpeak(msg *nats.Msg, req protocol.SpeakRequest, err error) {
	evt := protocol.SpeechEvent{
		RequestID: req.RequestID,
		SessionID: req.SessionID,
		Accepted:  err == nil,
		Timestamp: time.Now().UTC(),
	}
	subject := protocol.SubjectSpeakDone
	if err != nil {
		evt.Error = err.Error()
		subject = protocol.SubjectSpeakFailed
	}
	if pErr := s.bus.PublishJSON(subject, evt); pErr != nil {
		s.logger.Warn("failed to publish speech event", slogError(pErr))
	}
	if rErr := s.bus.RespondJSON(msg, evt); rErr != nil {
		s.logger.Warn("failed to reply to speak request", slogError(rErr))
	}
}

func (s *Service) handleControl(msg *nats.Msg) {
	var req protocol.ControlRequest
	reply := protocol.ControlReply{}
	err := json.Unmarshal(msg.Data, &req)
	if err != nil {
		s.logger.Warn("failed to decode control request", slogError(err))
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	reply.RequestID = req.RequestID

	var cmd bouyomi.Command
	if err == nil {
		cmd, err = bouyomi.ParseControl(req.Command)
	}
	if err != nil {
		s.record(eventstore.Command{ID: req.RequestID, Name: req.Command, Outcome: eventstore.OutcomeRejected, Error: err.Error()})
		reply.Error = err.Error()
		s.respond(msg, reply)
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, commandTimeout)
	err = s.speaker.Send(ctx, cmd)
	cancel()

	rec := eventstore.Command{ID: req.RequestID, Name: cmd.String(), Outcome: eventstore.OutcomeSent}
	if err != nil {
		rec.Outcome = eventstore.OutcomeFailed
		rec.Error = err.Error()
		reply.Error = err.Error()
		s.logger.Warn("control command failed", slog.String("command", cmd.String()), slogError(err))
	} else {
		reply.OK = true
	}
	s.record(rec)
	s.respond(msg, reply)
}

func (s *Service) handleStatus(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(s.ctx, commandTimeout)
	defer cancel()
	s.respond(msg, QueryStatus(ctx, s.speaker))
}

// QueryStatus converts a snapshot, or the error that prevented it, into a
// bus status message.
func QueryStatus(ctx context.Context, speaker Snapshotter) protocol.Status {
	status := protocol.Status{Timestamp: time.Now().UTC()}
	snap, err := speaker.Snapshot(ctx)
	if err != nil {
		status.Error = err.Error()
		return status
	}
	status.Reachable = true
	status.Paused = snap.Paused
	status.Playing = snap.Playing
	status.RemainingTasks = snap.RemainingTasks
	return status
}

func (s *Service) respond(msg *nats.Msg, v any) {
	if err := s.bus.RespondJSON(msg, v); err != nil {
		s.logger.Warn("failed to reply", slog.String("subject", msg.Subject), slogError(err))
	}
}

func (s *Service) record(cmd eventstore.Command) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.store.Record(ctx, cmd); err != nil {
		s.logger.Warn("failed to record command", slogError(err))
	}
}

func applyVoice(base bouyomi.TalkConfig, v *protocol.Voice) bouyomi.TalkConfig {
	if v == nil {
		return base
	}
	if v.Code != nil {
		base.Code = *v.Code
	}
	if v.Voice != nil {
		base.Voice = *v.Voice
	}
	if v.Volume != nil {
		base.Volume = *v.Volume
	}
	if v.Speed != nil {
		base.Speed = *v.Speed
	}
	if v.Tone != nil {
		base.Tone = *v.Tone
	}
	return base
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
