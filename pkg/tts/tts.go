// Package tts provides a unified interface for text-to-speech providers.
//
// Cloud providers (OpenAI, ElevenLabs) return a complete audio buffer per
// utterance; Chain tries several in order. Playback is the job of an
// audio.Sink.
//
// Example usage:
//
//	provider, _ := tts.NewElevenLabs(
//	    tts.WithAPIKey(os.Getenv("ELEVENLABS_API_KEY")),
//	    tts.WithVoice("your-voice-id"),
//	    tts.WithLanguage(language.AmericanEnglish),
//	)
//	defer provider.Close()
//
//	result, _ := provider.Synthesize(ctx, "A person crossing the street.")
package tts

import (
	"context"
	"time"

	"golang.org/x/text/language"
)

// Provider defines the TTS provider interface.
type Provider interface {
	// Synthesize converts text to audio, returning the complete audio buffer.
	Synthesize(ctx context.Context, text string) (*AudioResult, error)

	// Health checks provider connectivity and API key validity.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// LanguageSetter is implemented by providers that accept a spoken language.
// SetLanguage returns ErrUnsupportedLanguage when the tag cannot be served;
// the provider keeps its previous language in that case.
type LanguageSetter interface {
	SetLanguage(tag language.Tag) error
}

// AudioResult represents a complete audio synthesis result.
type AudioResult struct {
	// Audio contains the raw audio data in the specified format.
	Audio []byte

	// Format describes the audio encoding and sample rate.
	Format AudioFormat

	// Duration is the estimated playback duration, zero if unknown.
	Duration time.Duration

	// CharCount is the number of characters synthesized.
	CharCount int

	// LatencyMs is the request round trip in milliseconds.
	LatencyMs int64
}

// AudioFormat describes the audio encoding parameters.
type AudioFormat struct {
	Encoding   Encoding
	SampleRate int
	Channels   int

	// BitDepth for PCM formats, 16 for PCM16.
	BitDepth int
}

// IsPCM reports whether the audio is raw little-endian PCM.
func (f AudioFormat) IsPCM() bool {
	switch f.Encoding {
	case EncodingPCM16, EncodingPCM22, EncodingPCM24, EncodingPCM44:
		return true
	}
	return false
}

// Encoding represents audio encoding types.
// These match ElevenLabs output format options.
type Encoding string

const (
	// PCM formats (raw audio)
	EncodingPCM16 Encoding = "pcm_16000"
	EncodingPCM22 Encoding = "pcm_22050"
	EncodingPCM24 Encoding = "pcm_24000"
	EncodingPCM44 Encoding = "pcm_44100"

	// Compressed formats
	EncodingMP3 Encoding = "mp3_44100_128"
)

// VoiceSettings controls voice characteristics for providers that support it.
type VoiceSettings struct {
	// Stability controls voice consistency (0.0-1.0).
	Stability float64

	// SimilarityBoost controls how closely the voice matches the original (0.0-1.0).
	SimilarityBoost float64

	// Style controls style exaggeration (0.0-1.0).
	Style float64

	SpeakerBoost bool
}

// DefaultVoiceSettings favours a steady, clear voice.
func DefaultVoiceSettings() VoiceSettings {
	return VoiceSettings{
		Stability:       0.6,
		SimilarityBoost: 0.75,
		SpeakerBoost:    true,
	}
}

// SampleRateFromEncoding extracts the sample rate from an encoding type.
func SampleRateFromEncoding(enc Encoding) int {
	switch enc {
	case EncodingPCM16:
		return 16000
	case EncodingPCM22:
		return 22050
	case EncodingPCM24:
		return 24000
	case EncodingPCM44, EncodingMP3:
		return 44100
	default:
		return 24000
	}
}

// PCMDuration returns the playback length of n bytes of mono PCM16.
func PCMDuration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := n / 2
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
