// Package audio decodes, splits, and re-encodes uncompressed PCM WAV data.
// Transcription backends accept bounded-duration inputs only, so long
// recordings are sliced into fixed-length clips that are each re-encoded as
// a standalone, header-correct WAV file.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

const (
	headerSize     = 44
	bytesPerSample = 2 // 16-bit PCM only
	formatPCM      = 1
)

var (
	// ErrNotWAV marks input that is not a RIFF/WAVE container.
	ErrNotWAV = errors.New("not a WAV file")

	// ErrUnsupportedFormat marks WAV data that is not 16-bit uncompressed PCM.
	ErrUnsupportedFormat = errors.New("unsupported WAV format")
)

// Clip is decoded audio: interleaved 16-bit samples plus the source format.
type Clip struct {
	SampleRate int
	Channels   int
	Samples    []int16
}

// Frames returns the number of sample frames (one sample per channel).
func (c *Clip) Frames() int {
	if c.Channels == 0 {
		return 0
	}
	return len(c.Samples) / c.Channels
}

// Duration returns the clip's play time.
func (c *Clip) Duration() time.Duration {
	if c.SampleRate == 0 {
		return 0
	}
	return time.Duration(c.Frames()) * time.Second / time.Duration(c.SampleRate)
}

// Decode parses a WAV file into a Clip. Only canonical little-endian 16-bit
// PCM is accepted. Chunks other than fmt and data are skipped, so files with
// LIST/INFO metadata between the header and the sample data still decode.
func Decode(data []byte) (*Clip, error) {
	if len(data) < headerSize ||
		string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, ErrNotWAV
	}

	var clip Clip
	haveFmt := false

	// Walk the chunk list. Chunk payloads are word-aligned.
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if size < 0 || body+size > len(data) {
			return nil, fmt.Errorf("%w: chunk %q overruns file", ErrNotWAV, id)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("%w: short fmt chunk", ErrNotWAV)
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			channels := int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			rate := int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bits := binary.LittleEndian.Uint16(data[body+14 : body+16])
			if format != formatPCM || bits != 16 {
				return nil, fmt.Errorf("%w: format=%d bits=%d", ErrUnsupportedFormat, format, bits)
			}
			if channels < 1 || rate < 1 {
				return nil, fmt.Errorf("%w: channels=%d rate=%d", ErrUnsupportedFormat, channels, rate)
			}
			clip.Channels = channels
			clip.SampleRate = rate
			haveFmt = true

		case "data":
			if !haveFmt {
				return nil, fmt.Errorf("%w: data chunk before fmt", ErrNotWAV)
			}
			n := size / bytesPerSample
			clip.Samples = make([]int16, n)
			for i := 0; i < n; i++ {
				clip.Samples[i] = int16(binary.LittleEndian.Uint16(data[body+2*i : body+2*i+2]))
			}
			return &clip, nil
		}

		off = body + size
		if size%2 == 1 {
			off++
		}
	}

	return nil, fmt.Errorf("%w: no data chunk", ErrNotWAV)
}

// Encode serializes a clip as a canonical 44-byte-header WAV file. The
// result is always 44 + 2*channels*frames bytes.
func Encode(c *Clip) []byte {
	dataSize := len(c.Samples) * bytesPerSample
	blockAlign := c.Channels * bytesPerSample
	byteRate := c.SampleRate * blockAlign

	out := make([]byte, headerSize+dataSize)
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+dataSize))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], formatPCM)
	binary.LittleEndian.PutUint16(out[22:24], uint16(c.Channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(c.SampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:36], 16)
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(dataSize))
	for i, s := range c.Samples {
		binary.LittleEndian.PutUint16(out[headerSize+2*i:headerSize+2*i+2], uint16(s))
	}
	return out
}

// Split slices a clip into consecutive sub-clips of at most chunk duration.
// The last chunk carries the remainder, so chunk durations always sum to the
// source duration. Sub-clips share the source's sample slice.
func Split(c *Clip, chunk time.Duration) []*Clip {
	framesPerChunk := int(chunk * time.Duration(c.SampleRate) / time.Second)
	if framesPerChunk < 1 {
		framesPerChunk = 1
	}
	total := c.Frames()
	if total == 0 {
		return nil
	}

	var out []*Clip
	for start := 0; start < total; start += framesPerChunk {
		end := start + framesPerChunk
		if end > total {
			end = total
		}
		out = append(out, &Clip{
			SampleRate: c.SampleRate,
			Channels:   c.Channels,
			Samples:    c.Samples[start*c.Channels : end*c.Channels],
		})
	}
	return out
}
