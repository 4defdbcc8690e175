package config

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/loqalabs/loqa-bouyomi/internal/bouyomi"
)

// TalkConfig converts the configured default voice to its wire form.
func (v VoiceConfig) TalkConfig() bouyomi.TalkConfig {
	return bouyomi.TalkConfig{
		Code:   uint8(v.Code),
		Voice:  int16(v.Voice),
		Volume: int16(v.Volume),
		Speed:  int16(v.Speed),
		Tone:   int16(v.Tone),
	}
}

// NewClient builds a BouyomiChan client for the configured target.
func (b BouyomiConfig) NewClient(logger *slog.Logger) *bouyomi.Client {
	return bouyomi.New().
		WithHost(b.Host).
		WithPort(strconv.Itoa(b.Port)).
		WithTimeouts(
			time.Duration(b.ConnectTimeoutMS)*time.Millisecond,
			time.Duration(b.IOTimeoutMS)*time.Millisecond,
		).
		WithTalkConfig(b.Voice.TalkConfig()).
		WithLogger(logger)
}
