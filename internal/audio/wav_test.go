package audio

import (
	"errors"
	"math"
	"testing"
	"time"
)

// tone builds a clip of the given duration filled with a ramp signal so
// round trips can be checked sample-for-sample.
func tone(rate, channels int, d time.Duration) *Clip {
	frames := int(d * time.Duration(rate) / time.Second)
	samples := make([]int16, frames*channels)
	for i := range samples {
		samples[i] = int16(i % 4096)
	}
	return &Clip{SampleRate: rate, Channels: channels, Samples: samples}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	orig := tone(16000, 2, 3*time.Second)
	decoded, err := Decode(Encode(orig))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.SampleRate != orig.SampleRate || decoded.Channels != orig.Channels {
		t.Errorf("format = %d Hz / %d ch, want %d Hz / %d ch",
			decoded.SampleRate, decoded.Channels, orig.SampleRate, orig.Channels)
	}
	if len(decoded.Samples) != len(orig.Samples) {
		t.Fatalf("samples = %d, want %d", len(decoded.Samples), len(orig.Samples))
	}
	for i := range orig.Samples {
		if decoded.Samples[i] != orig.Samples[i] {
			t.Fatalf("sample %d = %d, want %d", i, decoded.Samples[i], orig.Samples[i])
		}
	}
}

func TestEncodedSize(t *testing.T) {
	for _, channels := range []int{1, 2} {
		clip := tone(8000, channels, time.Second)
		got := len(Encode(clip))
		want := 44 + 2*channels*clip.Frames()
		if got != want {
			t.Errorf("channels=%d: encoded size = %d, want %d", channels, got, want)
		}
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode([]byte("definitely not audio data, nope")); !errors.Is(err, ErrNotWAV) {
		t.Errorf("err = %v, want ErrNotWAV", err)
	}
}

func TestDecodeRejectsNonPCM(t *testing.T) {
	data := Encode(tone(8000, 1, time.Second))
	data[20] = 3 // IEEE float format tag
	if _, err := Decode(data); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestDecodeSkipsMetadataChunks(t *testing.T) {
	// Splice a LIST chunk between fmt and data.
	clean := Encode(tone(8000, 1, time.Second))
	list := append([]byte("LIST"), 4, 0, 0, 0, 'I', 'N', 'F', 'O')
	data := append(append(append([]byte{}, clean[:36]...), list...), clean[36:]...)
	// Patch the RIFF size for the extra bytes.
	data[4] += byte(len(list))

	clip, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if clip.Frames() != 8000 {
		t.Errorf("frames = %d, want 8000", clip.Frames())
	}
}

func TestSplitChunkCountAndDurations(t *testing.T) {
	const chunk = 29 * time.Second
	tests := []struct {
		duration time.Duration
		want     int
	}{
		{29 * time.Second, 1},
		{30 * time.Second, 2},
		{58 * time.Second, 2},
		{95 * time.Second, 4},
		{time.Second, 1},
	}
	for _, tt := range tests {
		src := tone(16000, 1, tt.duration)
		chunks := Split(src, chunk)
		if len(chunks) != tt.want {
			t.Errorf("Split(%v) = %d chunks, want %d", tt.duration, len(chunks), tt.want)
			continue
		}
		wantCount := int(math.Ceil(tt.duration.Seconds() / chunk.Seconds()))
		if len(chunks) != wantCount {
			t.Errorf("Split(%v) = %d chunks, want ceil = %d", tt.duration, len(chunks), wantCount)
		}

		var sum time.Duration
		totalFrames := 0
		for i, c := range chunks {
			sum += c.Duration()
			totalFrames += c.Frames()
			if i < len(chunks)-1 && c.Duration() != chunk {
				t.Errorf("Split(%v) chunk %d = %v, want %v", tt.duration, i, c.Duration(), chunk)
			}
		}
		if sum != tt.duration {
			t.Errorf("Split(%v) durations sum to %v", tt.duration, sum)
		}
		if totalFrames != src.Frames() {
			t.Errorf("Split(%v) frames = %d, want %d", tt.duration, totalFrames, src.Frames())
		}
	}
}

func TestSplitChunksEncodeStandalone(t *testing.T) {
	src := tone(8000, 2, 40*time.Second)
	for i, c := range Split(src, 29*time.Second) {
		data := Encode(c)
		if len(data) != 44+2*c.Channels*c.Frames() {
			t.Errorf("chunk %d: encoded size = %d, want %d", i, len(data), 44+2*c.Channels*c.Frames())
		}
		if _, err := Decode(data); err != nil {
			t.Errorf("chunk %d: re-decode failed: %v", i, err)
		}
	}
}

func TestSplitEmpty(t *testing.T) {
	if got := Split(&Clip{SampleRate: 8000, Channels: 1}, 29*time.Second); got != nil {
		t.Errorf("Split(empty) = %d chunks, want none", len(got))
	}
}
