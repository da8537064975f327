package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// Device is the speaker-backed OutputDevice. A single oto player drains
// a byte queue; the queue feeds silence when empty so the player never
// underruns between responses.
type Device struct {
	ctx    *oto.Context
	player *oto.Player
	stream *pcmStream
}

func NewDevice(sampleRate, bufferMS int) (*Device, error) {
	opts := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   time.Duration(bufferMS) * time.Millisecond,
	}
	ctx, ready, err := oto.NewContext(opts)
	if err != nil {
		return nil, fmt.Errorf("init audio output: %w", err)
	}
	<-ready

	stream := &pcmStream{}
	player := ctx.NewPlayer(stream)
	player.Play()

	return &Device{ctx: ctx, player: player, stream: stream}, nil
}

func (d *Device) Write(pcm []byte) {
	d.stream.push(pcm)
}

// Resume restarts output after the platform suspended it.
func (d *Device) Resume() error {
	if err := d.ctx.Resume(); err != nil {
		return fmt.Errorf("resume audio output: %w", err)
	}
	if !d.player.IsPlaying() {
		d.player.Play()
	}
	return nil
}

func (d *Device) Close() {
	_ = d.player.Close()
}

type pcmStream struct {
	mu  sync.Mutex
	buf []byte
}

func (s *pcmStream) push(pcm []byte) {
	s.mu.Lock()
	s.buf = append(s.buf, pcm...)
	s.mu.Unlock()
}

func (s *pcmStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.buf) == 0 {
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}
