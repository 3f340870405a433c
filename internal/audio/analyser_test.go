package audio

import (
	"testing"
)

func newTestStream(channels int) *pcmStream {
	return newPCMStream(Format{SampleRate: 48000, Channels: channels}, Constraints{})
}

func TestNewAnalyser_RejectsBadSizes(t *testing.T) {
	s := newTestStream(1)
	for _, size := range []int{0, 16, 100, 3000} {
		if _, err := NewAnalyser(s, size); err == nil {
			t.Errorf("Expected error for fft size %d", size)
		}
	}
}

func TestAnalyser_FrequencyBinCount(t *testing.T) {
	a, err := NewAnalyser(newTestStream(1), 2048)
	if err != nil {
		t.Fatalf("NewAnalyser failed: %v", err)
	}
	defer a.Close()

	if a.FFTSize() != 2048 {
		t.Errorf("Expected fft size 2048, got %d", a.FFTSize())
	}
	if a.FrequencyBinCount() != 1024 {
		t.Errorf("Expected 1024 bins, got %d", a.FrequencyBinCount())
	}
}

func TestAnalyser_SilenceBeforeAudio(t *testing.T) {
	a, _ := NewAnalyser(newTestStream(1), 32)
	defer a.Close()

	buf := make([]byte, a.FrequencyBinCount())
	a.ByteTimeDomainData(buf)
	for i, v := range buf {
		if v != 128 {
			t.Fatalf("Expected centre value at %d, got %d", i, v)
		}
	}

	if lvl := a.Level(); lvl.RMS != MinDB || lvl.Peak != MinDB {
		t.Errorf("Expected silent level, got %+v", lvl)
	}
}

func TestAnalyser_WindowIsChronological(t *testing.T) {
	s := newTestStream(1)
	a, _ := NewAnalyser(s, 32)
	defer a.Close()

	// 40 samples so the ring wraps; the window holds samples 8..39
	samples := make([]int16, 40)
	for i := range samples {
		samples[i] = int16(i * 256)
	}
	s.publish(int16ToBytes(samples))

	buf := make([]byte, 32)
	a.ByteTimeDomainData(buf)

	for i, v := range buf {
		want := toUnsignedByte(int16((i + 8) * 256))
		if v != want {
			t.Fatalf("buf[%d] = %d, want %d", i, v, want)
		}
	}
}

func TestAnalyser_PartialWindowPadsOldestSide(t *testing.T) {
	s := newTestStream(1)
	a, _ := NewAnalyser(s, 32)
	defer a.Close()

	s.publish(int16ToBytes([]int16{32767, 32767, 32767, 32767}))

	buf := make([]byte, 32)
	a.ByteTimeDomainData(buf)

	for i := 0; i < 28; i++ {
		if buf[i] != 128 {
			t.Fatalf("Expected padding at %d, got %d", i, buf[i])
		}
	}
	for i := 28; i < 32; i++ {
		if buf[i] != 255 {
			t.Errorf("Expected full scale at %d, got %d", i, buf[i])
		}
	}
}

func TestAnalyser_DownmixesStereo(t *testing.T) {
	s := newTestStream(2)
	a, _ := NewAnalyser(s, 32)
	defer a.Close()

	// left full scale, right silent
	s.publish(int16ToBytes([]int16{32000, 0, 32000, 0}))

	buf := make([]byte, 32)
	a.ByteTimeDomainData(buf)
	if buf[31] != toUnsignedByte(16000) {
		t.Errorf("Expected downmixed value %d, got %d", toUnsignedByte(16000), buf[31])
	}
}

func TestAnalyser_ShortDestination(t *testing.T) {
	s := newTestStream(1)
	a, _ := NewAnalyser(s, 64)
	defer a.Close()

	samples := make([]int16, 64)
	for i := range samples {
		samples[i] = -32768
	}
	s.publish(int16ToBytes(samples))

	buf := make([]byte, a.FrequencyBinCount())
	a.ByteTimeDomainData(buf)
	for i, v := range buf {
		if v != 0 {
			t.Fatalf("Expected minimum at %d, got %d", i, v)
		}
	}
}

func TestAnalyser_CloseDetaches(t *testing.T) {
	s := newTestStream(1)
	a, _ := NewAnalyser(s, 32)

	a.Close()
	a.Close()

	s.publish(int16ToBytes([]int16{32767}))

	buf := make([]byte, 32)
	a.ByteTimeDomainData(buf)
	if buf[31] != 128 {
		t.Errorf("Expected no data after Close, got %d", buf[31])
	}
}

func TestToUnsignedByte(t *testing.T) {
	tests := map[int16]byte{0: 128, -32768: 0, 32767: 255, 256: 129}
	for in, want := range tests {
		if got := toUnsignedByte(in); got != want {
			t.Errorf("toUnsignedByte(%d) = %d, want %d", in, got, want)
		}
	}
}
