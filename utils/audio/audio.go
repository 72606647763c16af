package audio

import (
	"bytes"
	"chatkit/core"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/zaf/g711"
)

// wavHeaderSize is the canonical 44-byte RIFF/WAVE header length.
const wavHeaderSize = 44

var wavHeaderPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 64))
	},
}

// ULawBytesToPCM converts µ-law bytes to 16-bit PCM
func ULawBytesToPCM(uBytes []byte) []byte {
	return g711.DecodeUlaw(uBytes)
}

// ALawBytesToPCM converts A-law bytes to 16-bit PCM
func ALawBytesToPCM(aBytes []byte) []byte {
	return g711.DecodeAlaw(aBytes)
}

// PCMBytesToWavBytes wraps PCM []byte into WAV []byte (16-bit little endian)
func PCMBytesToWavBytes(pcm []byte, numChannels, sampleRate int) ([]byte, error) {
	if err := ValidatePCMData(pcm, numChannels); err != nil {
		return nil, err
	}
	if numChannels > 2 {
		return nil, errors.New("only mono (1) or stereo (2) channels supported")
	}
	if sampleRate <= 0 {
		return nil, errors.New("sample rate must be positive")
	}

	buf := wavHeaderPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		wavHeaderPool.Put(buf)
	}()

	const (
		bitsPerSample  = 16
		audioFormatPCM = 1
		subchunk1Size  = 16
	)

	blockAlign := numChannels * bitsPerSample / 8
	byteRate := sampleRate * blockAlign
	dataSize := len(pcm)

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(subchunk1Size))
	binary.Write(buf, binary.LittleEndian, uint16(audioFormatPCM))
	binary.Write(buf, binary.LittleEndian, uint16(numChannels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(dataSize))

	result := make([]byte, buf.Len()+len(pcm))
	copy(result, buf.Bytes())
	copy(result[buf.Len():], pcm)
	return result, nil
}

// ValidatePCMData validates PCM byte array for basic integrity
func ValidatePCMData(pcm []byte, numChannels int) error {
	if len(pcm) == 0 {
		return errors.New("PCM data is empty")
	}
	if len(pcm)%2 != 0 {
		return errors.New("PCM data must have even length (16-bit samples)")
	}
	if numChannels <= 0 {
		return errors.New("invalid number of channels")
	}
	if len(pcm)%(2*numChannels) != 0 {
		return errors.New("PCM data length doesn't match channel count")
	}
	return nil
}

// WAVInfo is what ParseWAV reads out of the fmt chunk.
type WAVInfo struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	Format        core.AudioEncodingFormat
}

// ParseWAV splits a RIFF/WAVE file into its fmt description and the raw
// payload of its data chunk. PCM, µ-law and A-law payloads are recognised.
func ParseWAV(data []byte) (WAVInfo, []byte, error) {
	if len(data) < 12 || !bytes.HasPrefix(data, []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("WAVE")) {
		return WAVInfo{}, nil, errors.New("invalid WAV: missing RIFF/WAVE header")
	}

	var info WAVInfo
	haveFmt := false
	i := 12
	for i+8 <= len(data) {
		chunkID := string(data[i : i+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[i+4 : i+8]))
		body := i + 8
		next := body + chunkSize
		if next > len(data) {
			if chunkID == "data" {
				// Recorders that never patched the size: take what is there.
				next = len(data)
			} else {
				return WAVInfo{}, nil, fmt.Errorf("invalid WAV: %q chunk exceeds buffer length", chunkID)
			}
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return WAVInfo{}, nil, errors.New("invalid WAV: fmt chunk too short")
			}
			formatTag := binary.LittleEndian.Uint16(data[body : body+2])
			info.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			switch formatTag {
			case 1:
				if info.BitsPerSample != 16 {
					return WAVInfo{}, nil, fmt.Errorf("unsupported WAV: %d-bit PCM", info.BitsPerSample)
				}
				info.Format = core.PCM
			case 6:
				info.Format = core.ALAW
			case 7:
				info.Format = core.ULAW
			default:
				return WAVInfo{}, nil, fmt.Errorf("unsupported WAV format tag %d", formatTag)
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return WAVInfo{}, nil, errors.New("invalid WAV: data chunk before fmt chunk")
			}
			return info, data[body:next], nil
		}

		if chunkSize%2 != 0 {
			next++
		}
		i = next
	}

	return WAVInfo{}, nil, errors.New("invalid WAV: data chunk not found")
}

// ClipToPCM decodes any clip into 16-bit PCM at its own rate and channel count.
func ClipToPCM(clip core.AudioClip) ([]byte, error) {
	switch clip.Format {
	case core.PCM:
		return clip.Data, nil
	case core.ULAW:
		return ULawBytesToPCM(clip.Data), nil
	case core.ALAW:
		return ALawBytesToPCM(clip.Data), nil
	case core.WAV:
		info, payload, err := ParseWAV(clip.Data)
		if err != nil {
			return nil, err
		}
		return ClipToPCM(core.AudioClip{Data: payload, SampleRate: info.SampleRate, Channels: info.Channels, Format: info.Format})
	default:
		return nil, fmt.Errorf("unsupported clip format %s", clip.Format)
	}
}

// DecodeClip returns the clip as 16-bit PCM, taking rate and channel count
// from the WAV header when there is one.
func DecodeClip(clip core.AudioClip) (core.AudioClip, error) {
	if clip.Format == core.WAV {
		info, payload, err := ParseWAV(clip.Data)
		if err != nil {
			return core.AudioClip{}, err
		}
		clip = core.AudioClip{Data: payload, SampleRate: info.SampleRate, Channels: info.Channels, Format: info.Format, Source: clip.Source}
	}
	pcm, err := ClipToPCM(clip)
	if err != nil {
		return core.AudioClip{}, err
	}
	clip.Data = pcm
	clip.Format = core.PCM
	return clip, nil
}

// ClipToWAV returns the clip as a WAV file, the container every
// transcription upload accepts.
func ClipToWAV(clip core.AudioClip) ([]byte, error) {
	if clip.Format == core.WAV {
		return clip.Data, nil
	}
	pcm, err := ClipToPCM(clip)
	if err != nil {
		return nil, err
	}
	return PCMBytesToWavBytes(pcm, clip.Channels, clip.SampleRate)
}

// ChunkToPCM decodes a synthesized chunk into 16-bit PCM at the target
// sample rate and channel count.
func ChunkToPCM(
	input core.AudioChunk,
	targetChannels int,
	targetSampleRate int,
) (core.AudioChunk, error) {
	if input.Data == nil {
		return core.AudioChunk{}, errors.New("audio chunk has no data")
	}
	needToConvertFormat := input.Format != core.PCM
	needToConvertSampleRate := input.SampleRate != targetSampleRate
	needToConvertChannels := input.Channels != targetChannels

	if !needToConvertFormat && !needToConvertSampleRate && !needToConvertChannels {
		return input, nil
	}

	if needToConvertFormat {
		pcmBytes, err := ClipToPCM(core.AudioClip{Data: *input.Data, SampleRate: input.SampleRate, Channels: input.Channels, Format: input.Format})
		if err != nil {
			return core.AudioChunk{}, err
		}
		input.Data = &pcmBytes
		input.Format = core.PCM
	}

	if needToConvertChannels {
		pcmBytes, err := convertChannels(*input.Data, input.Channels, targetChannels)
		if err != nil {
			return core.AudioChunk{}, err
		}
		input.Data = &pcmBytes
		input.Channels = targetChannels
	}

	if needToConvertSampleRate {
		resampled, err := ResamplePCMLinear(*input.Data, input.Channels, input.SampleRate, targetSampleRate)
		if err != nil {
			return core.AudioChunk{}, err
		}
		input.Data = &resampled
		input.SampleRate = targetSampleRate
	}

	return input, nil
}

// ResamplePCMLinear resamples interleaved 16-bit PCM with linear
// interpolation. Good enough for speech headed to a recogniser.
func ResamplePCMLinear(pcm []byte, channels, fromRate, toRate int) ([]byte, error) {
	if err := ValidatePCMData(pcm, channels); err != nil {
		return nil, err
	}
	if fromRate <= 0 || toRate <= 0 {
		return nil, errors.New("invalid sample rate")
	}
	if fromRate == toRate {
		return pcm, nil
	}

	inFrames := len(pcm) / (2 * channels)
	outFrames := int(int64(inFrames) * int64(toRate) / int64(fromRate))
	out := make([]byte, outFrames*2*channels)
	sample := func(frame, ch int) float64 {
		off := (frame*channels + ch) * 2
		return float64(int16(binary.LittleEndian.Uint16(pcm[off : off+2])))
	}

	ratio := float64(fromRate) / float64(toRate)
	for i := 0; i < outFrames; i++ {
		pos := float64(i) * ratio
		i0 := int(pos)
		i1 := i0 + 1
		if i1 >= inFrames {
			i1 = inFrames - 1
		}
		frac := pos - float64(i0)
		for ch := 0; ch < channels; ch++ {
			v := sample(i0, ch)*(1-frac) + sample(i1, ch)*frac
			off := (i*channels + ch) * 2
			binary.LittleEndian.PutUint16(out[off:off+2], uint16(int16(v)))
		}
	}
	return out, nil
}

// convertChannels converts between mono and stereo PCM.
func convertChannels(pcm []byte, fromChannels, toChannels int) ([]byte, error) {
	if fromChannels == toChannels {
		return pcm, nil
	}
	if fromChannels == 1 && toChannels == 2 {
		return monoToStereo(pcm), nil
	}
	if fromChannels == 2 && toChannels == 1 {
		return stereoToMono(pcm), nil
	}
	return nil, fmt.Errorf("unsupported channel conversion: %d to %d", fromChannels, toChannels)
}

func monoToStereo(monoPCM []byte) []byte {
	samples := len(monoPCM) / 2
	result := make([]byte, samples*4)
	for i := 0; i < samples; i++ {
		result[i*4] = monoPCM[i*2]
		result[i*4+1] = monoPCM[i*2+1]
		result[i*4+2] = monoPCM[i*2]
		result[i*4+3] = monoPCM[i*2+1]
	}
	return result
}

func stereoToMono(stereoPCM []byte) []byte {
	samples := len(stereoPCM) / 4
	result := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		left := int16(binary.LittleEndian.Uint16(stereoPCM[i*4 : i*4+2]))
		right := int16(binary.LittleEndian.Uint16(stereoPCM[i*4+2 : i*4+4]))
		binary.LittleEndian.PutUint16(result[i*2:i*2+2], uint16(int16((int(left)+int(right))/2)))
	}
	return result
}
