package bouyomi

import (
	"encoding/binary"
	"errors"
	"math"
	"unicode/utf8"
)

// UseCurrent tells the application to keep its current volume, speed or tone.
const UseCurrent int16 = -1

// talkHeaderSize is command(2) speed(2) tone(2) volume(2) voice(2) code(1) length(4).
const talkHeaderSize = 15

// TalkConfig holds the voice parameters sent with every talk command. Values
// are forwarded as-is; range checks are left to the application.
type TalkConfig struct {
	Code   uint8 `yaml:"code" json:"code"`
	Voice  int16 `yaml:"voice" json:"voice"`   // 0 default, 1-8 AquesTalk, 10001+ SAPI5
	Volume int16 `yaml:"volume" json:"volume"` // 0-100, -1 current
	Speed  int16 `yaml:"speed" json:"speed"`   // 50-300, -1 current
	Tone   int16 `yaml:"tone" json:"tone"`     // 50-200, -1 current
}

// DefaultTalkConfig returns the voice settings used when none are given.
func DefaultTalkConfig() TalkConfig {
	return TalkConfig{
		Code:   0,
		Voice:  0,
		Volume: 80,
		Speed:  100,
		Tone:   100,
	}
}

func (c TalkConfig) WithVoice(voice int16) TalkConfig {
	c.Voice = voice
	return c
}

func (c TalkConfig) WithVolume(volume int16) TalkConfig {
	c.Volume = volume
	return c
}

func (c TalkConfig) WithSpeed(speed int16) TalkConfig {
	c.Speed = speed
	return c
}

func (c TalkConfig) WithTone(tone int16) TalkConfig {
	c.Tone = tone
	return c
}

func (c TalkConfig) WithCode(code uint8) TalkConfig {
	c.Code = code
	return c
}

// EncodeCommand returns the packet for a command without payload.
func EncodeCommand(cmd Command) []byte {
	return binary.LittleEndian.AppendUint16(make([]byte, 0, 2), uint16(cmd))
}

// EncodeTalk returns the talk packet for message spoken with cfg.
func EncodeTalk(cfg TalkConfig, message string) ([]byte, error) {
	if !utf8.ValidString(message) {
		return nil, &Error{Op: CommandTalk, Kind: KindEncode, Cause: errors.New("message is not valid UTF-8")}
	}
	if uint64(len(message)) > math.MaxUint32 {
		return nil, &Error{Op: CommandTalk, Kind: KindEncode, Cause: errors.New("message exceeds 4 GiB")}
	}

	buf := make([]byte, 0, talkHeaderSize+len(message))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(CommandTalk))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(cfg.Speed))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(cfg.Tone))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(cfg.Volume))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(cfg.Voice))
	buf = append(buf, cfg.Code)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(message)))
	buf = append(buf, message...)
	return buf, nil
}
