package speech

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-bouyomi/internal/bouyomi"
	"github.com/loqalabs/loqa-bouyomi/internal/bus"
	"github.com/loqalabs/loqa-bouyomi/internal/config"
	"github.com/loqalabs/loqa-bouyomi/internal/eventstore"
	"github.com/loqalabs/loqa-bouyomi/internal/natsserver"
	"github.com/loqalabs/loqa-bouyomi/internal/protocol"
)

type talkCall struct {
	text string
	cfg  bouyomi.TalkConfig
}

type fakeSpeaker struct {
	mu      sync.Mutex
	talks   []talkCall
	sent    []bouyomi.Command
	waits   []int
	talkErr error
	snap    bouyomi.Snapshot
	snapErr error
}

func (f *fakeSpeaker) TalkConfig() bouyomi.TalkConfig { return bouyomi.DefaultTalkConfig() }

func (f *fakeSpeaker) TalkWithConfig(_ context.Context, message string, cfg bouyomi.TalkConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.talks = append(f.talks, talkCall{text: message, cfg: cfg})
	return f.talkErr
}

func (f *fakeSpeaker) Send(_ context.Context, cmd bouyomi.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, cmd)
	return nil
}

func (f *fakeSpeaker) Snapshot(context.Context) (bouyomi.Snapshot, error) {
	return f.snap, f.snapErr
}

func (f *fakeSpeaker) Wait(_ context.Context, limitSec int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waits = append(f.waits, limitSec)
}

type memRecorder struct {
	mu       sync.Mutex
	commands []eventstore.Command
}

func (m *memRecorder) Record(_ context.Context, cmd eventstore.Command) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = append(m.commands, cmd)
	return cmd.ID, nil
}

func (m *memRecorder) last() eventstore.Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commands[len(m.commands)-1]
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func startService(t *testing.T, cfg config.SpeechConfig, speaker Speaker, rec Recorder) *bus.Client {
	t.Helper()
	logger := newLogger()
	ns, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1}, logger)
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(ns.Shutdown)

	client, err := bus.Connect(context.Background(), config.BusConfig{Servers: []string{ns.ClientURL()}, ConnectTimeout: 2000}, logger)
	if err != nil {
		t.Fatalf("connect bus: %v", err)
	}
	t.Cleanup(client.Close)

	svc := NewService(context.Background(), cfg, client, speaker, rec, logger)
	if err := svc.Start(); err != nil {
		t.Fatalf("start service: %v", err)
	}
	t.Cleanup(svc.Close)
	if !svc.Healthy() {
		t.Fatal("expected service healthy after start")
	}
	return client
}

func speechConfig() config.SpeechConfig {
	return config.SpeechConfig{Enabled: true, RatePerSec: 100, Burst: 10, MaxTextBytes: 64, WaitLimitSec: 10}
}

func TestSpeakAppliesVoiceOverrides(t *testing.T) {
	speaker := &fakeSpeaker{}
	rec := &memRecorder{}
	client := startService(t, speechConfig(), speaker, rec)

	speed := int16(150)
	voice := int16(2)
	req := protocol.SpeakRequest{RequestID: "req-1", Text: "こんにちは", Voice: &protocol.Voice{Speed: &speed, Voice: &voice}, WaitSec: 5}
	var evt protocol.SpeechEvent
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.RequestJSON(ctx, protocol.SubjectSpeak, req, &evt); err != nil {
		t.Fatalf("speak request: %v", err)
	}

	if !evt.Accepted || evt.RequestID != "req-1" {
		t.Fatalf("unexpected event %+v", evt)
	}
	speaker.mu.Lock()
	defer speaker.mu.Unlock()
	if len(speaker.talks) != 1 || speaker.talks[0].text != "こんにちは" {
		t.Fatalf("unexpected talks %+v", speaker.talks)
	}
	want := bouyomi.DefaultTalkConfig().WithSpeed(150).WithVoice(2)
	if speaker.talks[0].cfg != want {
		t.Fatalf("expected voice %+v, got %+v", want, speaker.talks[0].cfg)
	}
	if len(speaker.waits) != 1 || speaker.waits[0] != 5 {
		t.Fatalf("expected one wait of 5s, got %v", speaker.waits)
	}

	got := rec.last()
	if got.ID != "req-1" || got.Outcome != eventstore.OutcomeSent || got.Name != "talk" {
		t.Fatalf("unexpected record %+v", got)
	}
	var recorded bouyomi.TalkConfig
	if err := json.Unmarshal(got.Voice, &recorded); err != nil || recorded != want {
		t.Fatalf("expected recorded voice %+v, got %+v (%v)", want, recorded, err)
	}
}

func TestSpeakClampsWait(t *testing.T) {
	speaker := &fakeSpeaker{}
	client := startService(t, speechConfig(), speaker, nil)

	var evt protocol.SpeechEvent
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.RequestJSON(ctx, protocol.SubjectSpeak, protocol.SpeakRequest{Text: "long wait", WaitSec: 600}, &evt); err != nil {
		t.Fatalf("speak request: %v", err)
	}
	if evt.RequestID == "" {
		t.Fatal("expected generated request id")
	}
	speaker.mu.Lock()
	defer speaker.mu.Unlock()
	if len(speaker.waits) != 1 || speaker.waits[0] != 10 {
		t.Fatalf("expected wait clamped to 10, got %v", speaker.waits)
	}
}

func TestSpeakRejectsInvalidText(t *testing.T) {
	speaker := &fakeSpeaker{}
	rec := &memRecorder{}
	client := startService(t, speechConfig(), speaker, rec)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, text := range []string{"", string(make([]byte, 65))} {
		var evt protocol.SpeechEvent
		if err := client.RequestJSON(ctx, protocol.SubjectSpeak, protocol.SpeakRequest{Text: text}, &evt); err != nil {
			t.Fatalf("speak request: %v", err)
		}
		if evt.Accepted || evt.Error == "" {
			t.Fatalf("expected rejection, got %+v", evt)
		}
		if got := rec.last(); got.Outcome != eventstore.OutcomeRejected {
			t.Fatalf("expected rejected record, got %+v", got)
		}
	}
	speaker.mu.Lock()
	defer speaker.mu.Unlock()
	if len(speaker.talks) != 0 {
		t.Fatalf("expected no talk, got %+v", speaker.talks)
	}
}

func TestSpeakFailurePublishesFailedEvent(t *testing.T) {
	speaker := &fakeSpeaker{talkErr: &bouyomi.Error{Op: bouyomi.CommandTalk, Kind: bouyomi.KindConnect, Cause: errors.New("connection refused")}}
	rec := &memRecorder{}
	client := startService(t, speechConfig(), speaker, rec)

	sub, err := client.Conn().SubscribeSync(protocol.SubjectSpeakFailed)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := client.PublishJSON(protocol.SubjectSpeak, protocol.SpeakRequest{RequestID: "req-9", Text: "hello", WaitSec: 5}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	msg, err := sub.NextMsg(5 * time.Second)
	if err != nil {
		t.Fatalf("expected failed event: %v", err)
	}
	var evt protocol.SpeechEvent
	if err := json.Unmarshal(msg.Data, &evt); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if evt.Accepted || evt.RequestID != "req-9" || evt.Error == "" {
		t.Fatalf("unexpected event %+v", evt)
	}
	if got := rec.last(); got.Outcome != eventstore.OutcomeFailed {
		t.Fatalf("expected failed record, got %+v", got)
	}
	speaker.mu.Lock()
	defer speaker.mu.Unlock()
	if len(speaker.waits) != 0 {
		t.Fatal("failed talk must not wait")
	}
}

func TestControlCommands(t *testing.T) {
	speaker := &fakeSpeaker{}
	rec := &memRecorder{}
	client := startService(t, speechConfig(), speaker, rec)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var reply protocol.ControlReply
	if err := client.RequestJSON(ctx, protocol.SubjectControl, protocol.ControlRequest{Command: "skip"}, &reply); err != nil {
		t.Fatalf("control request: %v", err)
	}
	if !reply.OK {
		t.Fatalf("expected ok reply, got %+v", reply)
	}

	reply = protocol.ControlReply{}
	if err := client.RequestJSON(ctx, protocol.SubjectControl, protocol.ControlRequest{Command: "get-pause"}, &reply); err != nil {
		t.Fatalf("control request: %v", err)
	}
	if reply.OK || reply.Error == "" {
		t.Fatalf("expected query command rejected, got %+v", reply)
	}

	speaker.mu.Lock()
	defer speaker.mu.Unlock()
	if len(speaker.sent) != 1 || speaker.sent[0] != bouyomi.CommandSkip {
		t.Fatalf("expected a single skip, got %v", speaker.sent)
	}
}

func TestStatusRequest(t *testing.T) {
	speaker := &fakeSpeaker{snap: bouyomi.Snapshot{Playing: true, RemainingTasks: 4}}
	client := startService(t, speechConfig(), speaker, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var status protocol.Status
	if err := client.RequestJSON(ctx, protocol.SubjectStatus, struct{}{}, &status); err != nil {
		t.Fatalf("status request: %v", err)
	}
	if !status.Reachable || !status.Playing || status.Paused || status.RemainingTasks != 4 {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestQueryStatusUnreachable(t *testing.T) {
	speaker := &fakeSpeaker{snapErr: errors.New("connection refused")}
	status := QueryStatus(context.Background(), speaker)
	if status.Reachable || status.Error == "" {
		t.Fatalf("expected unreachable status, got %+v", status)
	}
}

func TestDisabledServiceDoesNotSubscribe(t *testing.T) {
	svc := NewService(context.Background(), config.SpeechConfig{Enabled: false}, nil, &fakeSpeaker{}, nil, newLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !svc.Healthy() {
		t.Fatal("disabled service reports healthy")
	}
	svc.Close()
}
