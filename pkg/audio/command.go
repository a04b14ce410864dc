package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/teslashibe/go-envision/pkg/tts"
)

// DefaultPlayer plays from stdin without a window and exits at EOF.
var DefaultPlayer = []string{"ffplay", "-nodisp", "-autoexit", "-loglevel", "quiet"}

// waitDelay bounds how long a killed player may hold its pipes open.
const waitDelay = time.Second

// CommandSink pipes audio into an external player.
// ffplay and aplay get format flags for raw PCM; any other command
// receives the bytes unchanged on stdin.
type CommandSink struct {
	command []string
	logger  *slog.Logger
}

// NewCommandSink creates a sink that runs command for each utterance.
func NewCommandSink(command []string, logger *slog.Logger) (*CommandSink, error) {
	if len(command) == 0 {
		command = DefaultPlayer
	}
	if _, err := exec.LookPath(command[0]); err != nil {
		return nil, fmt.Errorf("audio: player %q: %w", command[0], err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandSink{
		command: command,
		logger:  logger.With("component", "audio.command"),
	}, nil
}

// Play runs the player and waits for it. The process is killed when ctx is done.
func (s *CommandSink) Play(ctx context.Context, audio *tts.AudioResult) error {
	args, err := s.args(audio.Format)
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, s.command[0], args...)
	cmd.Stdin = bytes.NewReader(audio.Audio)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	s.logger.Debug("playing", "bytes", len(audio.Audio), "encoding", audio.Format.Encoding)

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && stderr.Len() > 0 {
			return fmt.Errorf("audio: %s: %w: %s", s.command[0], err, bytes.TrimSpace(stderr.Bytes()))
		}
		return fmt.Errorf("audio: %s: %w", s.command[0], err)
	}
	return nil
}

func (s *CommandSink) args(f tts.AudioFormat) ([]string, error) {
	args := append([]string(nil), s.command[1:]...)
	rate := strconv.Itoa(f.SampleRate)
	channels := strconv.Itoa(max(f.Channels, 1))

	switch filepath.Base(s.command[0]) {
	case "ffplay":
		if f.IsPCM() {
			args = append(args, "-f", "s16le", "-ar", rate)
			if f.Channels > 1 {
				args = append(args, "-ac", channels)
			}
		}
		return append(args, "-i", "pipe:0"), nil
	case "aplay":
		if !f.IsPCM() {
			return nil, fmt.Errorf("%w: aplay cannot play %s", ErrUnsupportedEncoding, f.Encoding)
		}
		return append(args, "-q", "-t", "raw", "-f", "S16_LE", "-r", rate, "-c", channels, "-"), nil
	default:
		return args, nil
	}
}

var _ Sink = (*CommandSink)(nil)
