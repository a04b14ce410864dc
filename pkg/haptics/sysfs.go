package haptics

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// Well known vibrator locations.
const (
	LEDPath         = "/sys/class/leds/vibrator"
	TimedOutputPath = "/sys/class/timed_output/vibrator"
)

type driver int

const (
	driverNone driver = iota
	driverLED
	driverTimedOutput
)

// Sysfs drives a vibrator through the LED class (duration + activate) or
// the older timed_output class (enable).
type Sysfs struct {
	dir    string
	driver driver
	logger *slog.Logger
	mu     sync.Mutex
}

// NewSysfs probes dir, or the well known locations when dir is empty.
// A missing vibrator is not an error; HasVibrator reports false.
func NewSysfs(dir string, logger *slog.Logger) *Sysfs {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sysfs{logger: logger.With("component", "haptics.sysfs")}

	candidates := []string{LEDPath, TimedOutputPath}
	if dir != "" {
		candidates = []string{dir}
	}
	for _, c := range candidates {
		if d := probe(c); d != driverNone {
			s.dir, s.driver = c, d
			break
		}
	}

	if s.driver == driverNone {
		s.logger.Info("no vibrator found", "searched", candidates)
	} else {
		s.logger.Debug("vibrator found", "dir", s.dir)
	}
	return s
}

func probe(dir string) driver {
	if exists(filepath.Join(dir, "activate")) && exists(filepath.Join(dir, "duration")) {
		return driverLED
	}
	if exists(filepath.Join(dir, "enable")) {
		return driverTimedOutput
	}
	return driverNone
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// HasVibrator reports whether a driver was found.
func (s *Sysfs) HasVibrator() bool {
	return s.driver != driverNone
}

// Vibrate starts a pulse. The kernel times it; this call does not block.
func (s *Sysfs) Vibrate(ctx context.Context, d time.Duration, amplitude int) error {
	if s.driver == driverNone {
		return ErrNoVibrator
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	ms := strconv.FormatInt(d.Milliseconds(), 10)

	s.mu.Lock()
	defer s.mu.Unlock()

	if amplitude > 0 && exists(filepath.Join(s.dir, "amplitude")) {
		if err := s.write("amplitude", strconv.Itoa(min(amplitude, 255))); err != nil {
			return err
		}
	}

	switch s.driver {
	case driverLED:
		if err := s.write("duration", ms); err != nil {
			return err
		}
		return s.write("activate", "1")
	default:
		return s.write("enable", ms)
	}
}

// Close stops a running pulse.
func (s *Sysfs) Close() error {
	if s.driver == driverNone {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.driver == driverLED {
		return s.write("activate", "0")
	}
	return s.write("enable", "0")
}

func (s *Sysfs) write(name, value string) error {
	if err := os.WriteFile(filepath.Join(s.dir, name), []byte(value), 0); err != nil {
		return fmt.Errorf("haptics: write %s: %w", name, err)
	}
	return nil
}

var _ Haptics = (*Sysfs)(nil)
