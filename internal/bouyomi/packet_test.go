package bouyomi

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"
)

func TestEncodeTalkHello(t *testing.T) {
	cfg := TalkConfig{Code: 0, Voice: 1, Volume: 100, Speed: 100, Tone: 100}
	packet, err := EncodeTalk(cfg, "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []byte{
		0x01, 0x00,             // talk
		0x64, 0x00,             // speed
		0x64, 0x00,             // tone
		0x64, 0x00,             // volume
		0x01, 0x00,             // voice
		0x00,                   // code
		0x05, 0x00, 0x00, 0x00, // length
		'h', 'e', 'l', 'l', 'o',
	}
	if !bytes.Equal(packet, want) {
		t.Fatalf("unexpected packet\n got % x\nwant % x", packet, want)
	}
}

func TestEncodeTalkLength(t *testing.T) {
	for _, msg := range []string{"", "a", "ゆっくりしていってね", strings.Repeat("x", 70000)} {
		packet, err := EncodeTalk(DefaultTalkConfig(), msg)
		if err != nil {
			t.Fatalf("encode %d bytes: %v", len(msg), err)
		}
		if len(packet) != talkHeaderSize+len(msg) {
			t.Fatalf("expected %d bytes, got %d", talkHeaderSize+len(msg), len(packet))
		}
		if got := binary.LittleEndian.Uint32(packet[11:15]); got != uint32(len(msg)) {
			t.Fatalf("expected length field %d, got %d", len(msg), got)
		}
		if string(packet[15:]) != msg {
			t.Fatalf("message bytes not preserved")
		}
	}
}

func TestEncodeTalkIsLittleEndian(t *testing.T) {
	cfg := TalkConfig{Code: 3, Voice: 10001, Volume: 90, Speed: 250, Tone: 180}
	packet, err := EncodeTalk(cfg, "abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fields := []struct {
		name   string
		offset int
		want   int16
	}{
		{"command", 0, int16(CommandTalk)},
		{"speed", 2, cfg.Speed},
		{"tone", 4, cfg.Tone},
		{"volume", 6, cfg.Volume},
		{"voice", 8, cfg.Voice},
	}
	for _, f := range fields {
		le := int16(binary.LittleEndian.Uint16(packet[f.offset:]))
		if le != f.want {
			t.Fatalf("%s: expected %d, got %d", f.name, f.want, le)
		}
		be := int16(binary.BigEndian.Uint16(packet[f.offset:]))
		if be == f.want {
			t.Fatalf("%s: big-endian decode unexpectedly matched", f.name)
		}
	}
	if packet[10] != cfg.Code {
		t.Fatalf("expected code %d, got %d", cfg.Code, packet[10])
	}
	if binary.BigEndian.Uint32(packet[11:15]) == 3 {
		t.Fatalf("length field must not decode as big-endian")
	}
}

func TestEncodeTalkDeterministic(t *testing.T) {
	cfg := DefaultTalkConfig().WithVoice(2)
	first, err := EncodeTalk(cfg, "おすおす")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := EncodeTalk(cfg, "おすおす")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("encoding changed between calls")
		}
	}
}

func TestEncodeTalkRejectsInvalidUTF8(t *testing.T) {
	_, err := EncodeTalk(DefaultTalkConfig(), string([]byte{0xff, 0xfe}))
	if !IsKind(err, KindEncode) {
		t.Fatalf("expected encode error, got %v", err)
	}
}

func TestEncodeCommand(t *testing.T) {
	if got := EncodeCommand(CommandPause); !bytes.Equal(got, []byte{0x10, 0x00}) {
		t.Fatalf("unexpected pause packet % x", got)
	}
	if got := EncodeCommand(CommandGetTaskCount); !bytes.Equal(got, []byte{0x30, 0x01}) {
		t.Fatalf("unexpected task count packet % x", got)
	}
	for _, cmd := range []Command{CommandPause, CommandResume, CommandSkip, CommandClear, CommandGetPause, CommandGetNowPlaying, CommandGetTaskCount} {
		if n := len(EncodeCommand(cmd)); n != 2 {
			t.Fatalf("%s: expected 2 bytes, got %d", cmd, n)
		}
	}
}

func TestTalkConfigSettersCopy(t *testing.T) {
	base := DefaultTalkConfig()
	tuned := base.WithVoice(1).WithVolume(100).WithSpeed(120).WithTone(90).WithCode(4)
	if base != DefaultTalkConfig() {
		t.Fatalf("setters must not modify the receiver")
	}
	want := TalkConfig{Code: 4, Voice: 1, Volume: 100, Speed: 120, Tone: 90}
	if tuned != want {
		t.Fatalf("expected %+v, got %+v", want, tuned)
	}
}

func TestParseControl(t *testing.T) {
	for name, want := range map[string]Command{"pause": CommandPause, "resume": CommandResume, "skip": CommandSkip, "clear": CommandClear} {
		got, err := ParseControl(name)
		if err != nil || got != want {
			t.Fatalf("%s: expected %s, got %s (%v)", name, want, got, err)
		}
	}
	if _, err := ParseControl("get-pause"); err == nil {
		t.Fatal("expected query command to be rejected")
	}
}
