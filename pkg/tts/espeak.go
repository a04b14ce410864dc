package tts

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/language"
)

const providerESpeak = "espeak"

// DefaultESpeakPath is the espeak-ng binary looked up on PATH.
const DefaultESpeakPath = "espeak-ng"

// ErrBadWAV is returned when espeak-ng output cannot be parsed.
var ErrBadWAV = errors.New("tts: malformed WAV")

// ESpeakVoice is one entry of `espeak-ng --voices`.
type ESpeakVoice struct {
	Name string // value for -v, e.g. "en-us"
	Tag  language.Tag
}

// ESpeakVoices lists installed voices.
func ESpeakVoices(ctx context.Context, path string) ([]ESpeakVoice, error) {
	out, err := exec.CommandContext(ctx, path, "--voices").Output()
	if err != nil {
		return nil, fmt.Errorf("tts: list voices: %w", err)
	}
	return ParseESpeakVoices(out), nil
}

// ParseESpeakVoices parses the table printed by `espeak-ng --voices`.
// Rows whose language column is not a valid BCP 47 tag are skipped.
func ParseESpeakVoices(out []byte) []ESpeakVoice {
	var voices []ESpeakVoice
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 || fields[0] == "Pty" {
			continue
		}
		tag, err := language.Parse(fields[1])
		if err != nil {
			continue
		}
		voices = append(voices, ESpeakVoice{Name: fields[1], Tag: tag})
	}
	return voices
}

// VoiceSelector maps language tags onto installed espeak-ng voices.
type VoiceSelector struct {
	voices  []ESpeakVoice
	matcher language.Matcher

	mu      sync.RWMutex
	current string
}

// NewVoiceSelector builds a selector. With no voices every tag is accepted
// and passed through as its lower-case BCP 47 string.
func NewVoiceSelector(voices []ESpeakVoice) *VoiceSelector {
	s := &VoiceSelector{voices: voices, current: "en-us"}
	if len(voices) > 0 {
		tags := make([]language.Tag, len(voices))
		for i, v := range voices {
			tags[i] = v.Tag
		}
		s.matcher = language.NewMatcher(tags)
	}
	return s
}

// Set selects the voice for tag.
func (s *VoiceSelector) Set(tag language.Tag) error {
	name := strings.ToLower(tag.String())
	if s.matcher != nil {
		_, idx, conf := s.matcher.Match(tag)
		if conf == language.No {
			return fmt.Errorf("%w: %s", ErrUnsupportedLanguage, tag)
		}
		name = s.voices[idx].Name
	}
	s.mu.Lock()
	s.current = name
	s.mu.Unlock()
	return nil
}

// Voice returns the selected -v value.
func (s *VoiceSelector) Voice() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// ESpeak implements Provider by running espeak-ng --stdout.
type ESpeak struct {
	path  string
	wpm   int
	voice *VoiceSelector
}

// NewESpeak creates a local espeak-ng provider. wpm <= 0 uses espeak's default.
func NewESpeak(ctx context.Context, path string, wpm int) (*ESpeak, error) {
	if path == "" {
		path = DefaultESpeakPath
	}
	if _, err := exec.LookPath(path); err != nil {
		return nil, WrapError(providerESpeak, err)
	}
	voices, err := ESpeakVoices(ctx, path)
	if err != nil {
		return nil, WrapError(providerESpeak, err)
	}
	return &ESpeak{path: path, wpm: wpm, voice: NewVoiceSelector(voices)}, nil
}

// Synthesize renders text to 16-bit PCM.
func (e *ESpeak) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, e.path, e.Args("--stdout")...)
	cmd.Stdin = strings.NewReader(text)
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, WrapError(providerESpeak, err)
	}

	pcm, rate, err := ParseWAV(out)
	if err != nil {
		return nil, WrapError(providerESpeak, err)
	}

	format := AudioFormat{
		Encoding:   encodingForRate(rate),
		SampleRate: rate,
		Channels:   1,
		BitDepth:   16,
	}
	return &AudioResult{
		Audio:     pcm,
		Format:    format,
		Duration:  PCMDuration(len(pcm), rate),
		CharCount: len(text),
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// Args returns the espeak-ng arguments for the current voice, plus extra.
func (e *ESpeak) Args(extra ...string) []string {
	args := []string{"-v", e.voice.Voice()}
	if e.wpm > 0 {
		args = append(args, "-s", strconv.Itoa(e.wpm))
	}
	return append(args, extra...)
}

// Path returns the binary path.
func (e *ESpeak) Path() string {
	return e.path
}

// SetLanguage selects the closest installed voice.
func (e *ESpeak) SetLanguage(tag language.Tag) error {
	return e.voice.Set(tag)
}

// Health always succeeds once constructed.
func (e *ESpeak) Health(ctx context.Context) error {
	return nil
}

// Close is a no-op.
func (e *ESpeak) Close() error {
	return nil
}

// ParseWAV returns the data chunk and sample rate of a mono PCM16 WAV.
// espeak-ng writes 0xFFFFFFFF sizes when streaming, so a data chunk size
// larger than the input is clamped.
func ParseWAV(b []byte) ([]byte, int, error) {
	if len(b) < 12 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return nil, 0, ErrBadWAV
	}

	rate := 0
	for off := 12; off+8 <= len(b); {
		id := string(b[off : off+4])
		size := int(binary.LittleEndian.Uint32(b[off+4 : off+8]))
		body := off + 8

		switch id {
		case "fmt ":
			if body+16 > len(b) {
				return nil, 0, ErrBadWAV
			}
			channels := binary.LittleEndian.Uint16(b[body+2:])
			bits := binary.LittleEndian.Uint16(b[body+14:])
			if channels != 1 || bits != 16 {
				return nil, 0, fmt.Errorf("%w: %d channels, %d bits", ErrBadWAV, channels, bits)
			}
			rate = int(binary.LittleEndian.Uint32(b[body+4:]))
		case "data":
			if rate == 0 {
				return nil, 0, fmt.Errorf("%w: data before fmt", ErrBadWAV)
			}
			end := body + size
			if size < 0 || end > len(b) || end < body {
				end = len(b)
			}
			return b[body:end], rate, nil
		}

		if size < 0 || body+size > len(b) {
			break
		}
		off = body + size + size%2
	}
	return nil, 0, fmt.Errorf("%w: no data chunk", ErrBadWAV)
}

func encodingForRate(rate int) Encoding {
	switch rate {
	case 16000:
		return EncodingPCM16
	case 44100:
		return EncodingPCM44
	case 24000:
		return EncodingPCM24
	default:
		return EncodingPCM22
	}
}

var (
	_ Provider       = (*ESpeak)(nil)
	_ LanguageSetter = (*ESpeak)(nil)
)
