package speech

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/teslashibe/go-envision/pkg/audio"
	"github.com/teslashibe/go-envision/pkg/tts"
)

// newTestTTS returns a speaker whose utterances last 10s when the text
// starts with "long" and 5ms otherwise.
func newTestTTS(t *testing.T) (*TTS, *tts.Mock, *audio.Mock) {
	t.Helper()
	provider := &tts.Mock{
		SynthesizeFunc: func(ctx context.Context, text string) (*tts.AudioResult, error) {
			d := 5 * time.Millisecond
			if strings.HasPrefix(text, "long") {
				d = 10 * time.Second
			}
			return tts.Silence(len(text), d), nil
		},
	}
	sink := &audio.Mock{}
	s, err := NewTTS(provider, sink)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, provider, sink
}

func playedChars(sink *audio.Mock) []int {
	var out []int
	for _, a := range sink.Played() {
		out = append(out, a.CharCount)
	}
	return out
}

func TestTTSQueueOrder(t *testing.T) {
	s, _, sink := newTestTTS(t)
	ctx := context.Background()

	require.NoError(t, s.Speak(ctx, "a", false))
	require.NoError(t, s.Speak(ctx, "bb", false))
	require.NoError(t, s.Speak(ctx, "ccc", false))

	require.Eventually(t, func() bool { return len(sink.Played()) == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{1, 2, 3}, playedChars(sink))
	assert.True(t, s.Idle())

	spoken, flushed := s.Stats()
	assert.Equal(t, uint64(3), spoken)
	assert.Zero(t, flushed)
}

func TestTTSFlushInterrupts(t *testing.T) {
	s, provider, sink := newTestTTS(t)
	ctx := context.Background()

	require.NoError(t, s.Speak(ctx, "long description", false))
	require.Eventually(t, func() bool { return provider.CallCount("Synthesize") == 1 }, time.Second, time.Millisecond)

	require.NoError(t, s.Speak(ctx, "queued", false))
	require.NoError(t, s.Speak(ctx, "new", true))

	require.Eventually(t, func() bool { return len(sink.Played()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{3}, playedChars(sink))
	assert.Equal(t, 1, sink.Interrupted())

	require.Eventually(t, s.Idle, time.Second, 5*time.Millisecond)
	_, flushed := s.Stats()
	assert.Equal(t, uint64(2), flushed)
	assert.Equal(t, 2, provider.CallCount("Synthesize"))
}

func TestTTSClose(t *testing.T) {
	s, provider, _ := newTestTTS(t)
	ctx := context.Background()

	require.NoError(t, s.Speak(ctx, "long", false))
	require.Eventually(t, func() bool { return provider.CallCount("Synthesize") == 1 }, time.Second, time.Millisecond)

	done := make(chan struct{})
	go func() {
		s.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not interrupt playback")
	}

	assert.ErrorIs(t, s.Speak(ctx, "late", true), ErrClosed)
	assert.NoError(t, s.Close())
}

func TestTTSEmptyText(t *testing.T) {
	s, _, _ := newTestTTS(t)
	assert.ErrorIs(t, s.Speak(context.Background(), "", true), ErrEmptyText)
}

var klingon = language.MustParse("tlh")

func TestTTSLanguage(t *testing.T) {
	provider := tts.NewMock()
	provider.LanguageFunc = func(tag language.Tag) error {
		if tag == klingon {
			return tts.ErrUnsupportedLanguage
		}
		return nil
	}

	s, err := NewTTS(provider, &audio.Mock{}, WithLanguage(klingon))
	require.NoError(t, err, "unsupported language is not fatal")
	defer s.Close()

	assert.ErrorIs(t, s.SetLanguage(klingon), ErrLanguageNotFound)
	assert.NoError(t, s.SetLanguage(language.AmericanEnglish))
}

func TestNewTTSRequiresCollaborators(t *testing.T) {
	_, err := NewTTS(nil, &audio.Mock{})
	assert.Error(t, err)
}

// fakeESpeak writes a script that lists two voices and appends each
// utterance to log, sleeping for utterances that start with "long".
func fakeESpeak(t *testing.T) (path, log string) {
	t.Helper()
	dir := t.TempDir()
	log = filepath.Join(dir, "spoken.txt")
	script := `#!/bin/sh
if [ "$1" = "--voices" ]; then
  echo "Pty Language Age/Gender VoiceName File Other Languages"
  echo " 5  en-us --/M English_(America) gmw/en-US"
  echo " 5  de    --/M German gmw/de"
  exit 0
fi
text=$(cat)
echo "$1 $2 $text" >> ` + log + `
case "$text" in long*) exec sleep 10 ;; esac
`
	path = filepath.Join(dir, "espeak-ng")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path, log
}

func TestESpeakFlushKillsProcess(t *testing.T) {
	path, log := fakeESpeak(t)
	s, err := NewESpeak(context.Background(), path, 0)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	read := func() string {
		b, _ := os.ReadFile(log)
		return string(b)
	}

	require.NoError(t, s.Speak(ctx, "long story", false))
	require.Eventually(t, func() bool { return strings.Contains(read(), "long story") }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, s.SetLanguage(language.German))
	require.NoError(t, s.Speak(ctx, "Hallo", true))
	require.Eventually(t, func() bool { return strings.Contains(read(), "-v de Hallo") }, 3*time.Second, 5*time.Millisecond)

	assert.Contains(t, read(), "-v en-us long story")
	assert.ErrorIs(t, s.SetLanguage(language.Japanese), ErrLanguageNotFound)
}

func TestMock(t *testing.T) {
	m := NewMock()
	require.NoError(t, m.Speak(context.Background(), "hi", true))

	select {
	case u := <-m.Spoken():
		assert.Equal(t, Utterance{Text: "hi", Flush: true}, u)
	case <-time.After(time.Second):
		t.Fatal("no utterance")
	}

	m.Close()
	assert.ErrorIs(t, m.Speak(context.Background(), "x", false), ErrClosed)
	assert.Equal(t, []string{"hi"}, m.Texts())
}
