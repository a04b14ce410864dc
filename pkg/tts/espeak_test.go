package tts_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/text/language"

	"github.com/teslashibe/go-envision/pkg/tts"
)

const voiceTable = `Pty Language       Age/Gender VoiceName          File                 Other Languages
 5  af              --/M      Afrikaans          gmw/af
 5  en-gb           --/M      English_(Great_Britain) gmw/en
 2  en-us           --/M      English_(America)  gmw/en-US            (en 3)
 5  fr-fr           --/M      French_(France)    roa/fr               (fr 5)
 5  pt-br           --/M      Portuguese_(Brazil) roa/pt-BR           (pt 6)
`

func wav(rate uint32, pcm []byte) []byte {
	var b bytes.Buffer
	b.WriteString("RIFF")
	binary.Write(&b, binary.LittleEndian, uint32(36+len(pcm)))
	b.WriteString("WAVEfmt ")
	binary.Write(&b, binary.LittleEndian, uint32(16))
	binary.Write(&b, binary.LittleEndian, uint16(1))
	binary.Write(&b, binary.LittleEndian, uint16(1))
	binary.Write(&b, binary.LittleEndian, rate)
	binary.Write(&b, binary.LittleEndian, rate*2)
	binary.Write(&b, binary.LittleEndian, uint16(2))
	binary.Write(&b, binary.LittleEndian, uint16(16))
	b.WriteString("data")
	binary.Write(&b, binary.LittleEndian, uint32(0xFFFFFFFF))
	b.Write(pcm)
	return b.Bytes()
}

func TestParseWAV(t *testing.T) {
	pcm, rate, err := tts.ParseWAV(wav(22050, []byte{1, 2, 3, 4}))
	if err != nil {
		t.Fatal(err)
	}
	if rate != 22050 || !bytes.Equal(pcm, []byte{1, 2, 3, 4}) {
		t.Errorf("got rate %d pcm %v", rate, pcm)
	}

	for name, in := range map[string][]byte{
		"empty":   nil,
		"not wav": []byte("RIFF0000AVI LIST"),
		"no data": wav(22050, nil)[:36],
	} {
		if _, _, err := tts.ParseWAV(in); !errors.Is(err, tts.ErrBadWAV) {
			t.Errorf("%s: expected ErrBadWAV, got %v", name, err)
		}
	}
}

func TestVoiceSelector(t *testing.T) {
	voices := tts.ParseESpeakVoices([]byte(voiceTable))
	if len(voices) != 5 {
		t.Fatalf("expected 5 voices, got %d", len(voices))
	}

	s := tts.NewVoiceSelector(voices)
	tests := []struct {
		tag  string
		want string
	}{
		{"en-US", "en-us"},
		{"en-GB", "en-gb"},
		{"fr-CA", "fr-fr"},
		{"pt", "pt-br"},
	}
	for _, tt := range tests {
		if err := s.Set(language.MustParse(tt.tag)); err != nil {
			t.Errorf("%s: %v", tt.tag, err)
			continue
		}
		if s.Voice() != tt.want {
			t.Errorf("%s: got %q, want %q", tt.tag, s.Voice(), tt.want)
		}
	}

	if err := s.Set(language.Japanese); !errors.Is(err, tts.ErrUnsupportedLanguage) {
		t.Errorf("expected ErrUnsupportedLanguage, got %v", err)
	}
	if s.Voice() != "pt-br" {
		t.Errorf("unsupported language changed voice to %q", s.Voice())
	}
}

// fakeESpeak writes a shell script that answers --voices and emits a WAV
// holding the stdin text.
func fakeESpeak(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	wavPath := filepath.Join(dir, "out.wav")
	if err := os.WriteFile(wavPath, wav(22050, make([]byte, 4410)), 0o644); err != nil {
		t.Fatal(err)
	}
	tablePath := filepath.Join(dir, "voices.txt")
	if err := os.WriteFile(tablePath, []byte(voiceTable), 0o644); err != nil {
		t.Fatal(err)
	}

	script := "#!/bin/sh\n" +
		"if [ \"$1\" = \"--voices\" ]; then cat " + tablePath + "; exit 0; fi\n" +
		"echo \"$@\" > " + filepath.Join(dir, "args.txt") + "\n" +
		"cat > " + filepath.Join(dir, "stdin.txt") + "\n" +
		"cat " + wavPath + "\n"
	path := filepath.Join(dir, "espeak-ng")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestESpeakSynthesize(t *testing.T) {
	path := fakeESpeak(t)
	ctx := context.Background()

	p, err := tts.NewESpeak(ctx, path, 150)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.SetLanguage(language.French); err != nil {
		t.Fatal(err)
	}

	result, err := p.Synthesize(ctx, "Bonjour")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if result.Format.SampleRate != 22050 || result.Duration != 100*time.Millisecond {
		t.Errorf("unexpected result: %+v %v", result.Format, result.Duration)
	}

	dir := filepath.Dir(path)
	args, _ := os.ReadFile(filepath.Join(dir, "args.txt"))
	if string(bytes.TrimSpace(args)) != "-v fr-fr -s 150 --stdout" {
		t.Errorf("unexpected args %q", args)
	}
	stdin, _ := os.ReadFile(filepath.Join(dir, "stdin.txt"))
	if string(stdin) != "Bonjour" {
		t.Errorf("unexpected stdin %q", stdin)
	}
}
