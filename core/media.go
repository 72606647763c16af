package core

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

type AudioEncodingFormat int

const (
	PCM  AudioEncodingFormat = iota // 16-bit little-endian linear PCM.
	ULAW                            // μ-law encoding format.
	ALAW                            // A-law encoding format.
	WAV                             // RIFF/WAVE container around PCM.
)

func (f AudioEncodingFormat) String() string {
	switch f {
	case PCM:
		return "pcm"
	case ULAW:
		return "ulaw"
	case ALAW:
		return "alaw"
	case WAV:
		return "wav"
	default:
		return "unknown"
	}
}

// AudioChunk is a piece of a stream, as produced by a speech engine.
type AudioChunk struct {
	Data       *[]byte             // Raw audio data.
	SampleRate int                 // Sample rate of the audio data.
	Channels   int                 // Number of audio channels.
	Format     AudioEncodingFormat // Encoding format of the audio data.
	Timestamp  time.Time           // Timestamp of the audio chunk.
}

func (ac *AudioChunk) GetDurationInSeconds() float64 {
	if ac.Data == nil {
		return 0
	}
	clip := AudioClip{Data: *ac.Data, SampleRate: ac.SampleRate, Channels: ac.Channels, Format: ac.Format}
	return clip.Duration().Seconds()
}

// AudioClip is one finished recording handed from capture to transcription.
type AudioClip struct {
	Data       []byte
	SampleRate int
	Channels   int
	Format     AudioEncodingFormat
	// Source names where the clip came from (device, file). Informational.
	Source string
}

// bytesPerSample for the sample-oriented formats. WAV is treated as PCM
// after its 44-byte header.
func (f AudioEncodingFormat) bytesPerSample() int {
	switch f {
	case ULAW, ALAW:
		return 1
	default:
		return 2
	}
}

// Duration derives the clip length from its size and format.
func (c AudioClip) Duration() time.Duration {
	if c.SampleRate <= 0 || c.Channels <= 0 {
		return 0
	}
	n := len(c.Data)
	if c.Format == WAV {
		n -= 44
	}
	if n <= 0 {
		return 0
	}
	samples := n / (c.Format.bytesPerSample() * c.Channels)
	return time.Duration(samples) * time.Second / time.Duration(c.SampleRate)
}

// ImageRef points at an image picked from the gallery or captured by the
// camera. The bytes are only read when the turn is dispatched.
type ImageRef struct {
	URI       string       `json:"uri"`
	MediaType LLMMediaType `json:"media_type,omitempty"`
	Data      []byte       `json:"-"`
}

var ErrImageUnavailable = errors.New("image unavailable")

// NewImageRef builds a reference, guessing the media type from the URI.
func NewImageRef(uri string) *ImageRef {
	return &ImageRef{URI: uri, MediaType: mediaTypeFromURI(uri)}
}

// NewInlineImage wraps bytes that are already in memory.
func NewInlineImage(data []byte, mediaType LLMMediaType) *ImageRef {
	if mediaType == "" {
		mediaType = LLMMediaTypeImageJPEG
	}
	return &ImageRef{URI: "inline", MediaType: mediaType, Data: data}
}

// Type returns the declared media type, JPEG when unset.
func (r *ImageRef) Type() LLMMediaType {
	if r.MediaType == "" {
		return LLMMediaTypeImageJPEG
	}
	return r.MediaType
}

// Load returns the image bytes, reading the file behind URI when needed.
func (r *ImageRef) Load() ([]byte, error) {
	if r == nil {
		return nil, ErrImageUnavailable
	}
	if len(r.Data) > 0 {
		return r.Data, nil
	}
	path := r.URI
	if u, err := url.Parse(r.URI); err == nil && u.Scheme == "file" {
		path = u.Path
	}
	if path == "" {
		return nil, ErrImageUnavailable
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageUnavailable, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrImageUnavailable, path)
	}
	return data, nil
}

func mediaTypeFromURI(uri string) LLMMediaType {
	lower := strings.ToLower(uri)
	switch {
	case strings.HasSuffix(lower, ".png"):
		return LLMMediaTypeImagePNG
	case strings.HasSuffix(lower, ".webp"):
		return LLMMediaTypeImageWEBP
	default:
		return LLMMediaTypeImageJPEG
	}
}
