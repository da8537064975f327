package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
)

// Capture failure taxonomy. The two cases need different operator
// guidance, so callers must be able to tell them apart.
var (
	// ErrCaptureAccessDenied means the platform refused microphone
	// access; remediation is granting the permission.
	ErrCaptureAccessDenied = errors.New("microphone access denied")
	// ErrNoCaptureDevice means no usable capture hardware is visible,
	// typically a headless or containerized host.
	ErrNoCaptureDevice = errors.New("no capture device available")
)

// CaptureConfig fixes the wire format of captured audio.
type CaptureConfig struct {
	SampleRate   int
	FrameSamples int
	DeviceName   string
}

// Capture owns the microphone device. Hardware callbacks append into a
// sliding buffer; every full frame is encoded and handed to the sink on
// the callback thread, so the sink must only enqueue.
type Capture struct {
	cfg CaptureConfig
	log *slog.Logger

	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	buf    []byte
	sink   func(frame string)
}

func NewCapture(cfg CaptureConfig, log *slog.Logger) *Capture {
	return &Capture{
		cfg: cfg,
		log: log.With(slog.String("component", "audio-capture")),
	}
}

// Start acquires the microphone and begins streaming encoded frames to
// sink. Fails with ErrNoCaptureDevice or ErrCaptureAccessDenied when
// the device cannot be acquired.
func (c *Capture) Start(sink func(frame string)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device != nil {
		return errors.New("capture already started")
	}

	ctxConfig := malgo.ContextConfig{}
	ctxConfig.ThreadPriority = malgo.ThreadPriorityRealtime
	mctx, err := malgo.InitContext(nil, ctxConfig, nil)
	if err != nil {
		return classifyCaptureErr(fmt.Errorf("init audio context: %w", err))
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(c.cfg.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			c.onData(input)
		},
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		return classifyCaptureErr(fmt.Errorf("init capture device: %w", err))
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		return classifyCaptureErr(fmt.Errorf("start capture device: %w", err))
	}

	c.ctx = mctx
	c.device = device
	c.buf = c.buf[:0]
	c.sink = sink
	c.log.Info("microphone capture started",
		slog.Int("sample_rate", c.cfg.SampleRate),
		slog.Int("frame_samples", c.cfg.FrameSamples))
	return nil
}

// Stop releases the capture device and discards any partial frame.
func (c *Capture) Stop() {
	c.mu.Lock()
	device := c.device
	mctx := c.ctx
	c.device = nil
	c.ctx = nil
	c.buf = nil
	c.sink = nil
	c.mu.Unlock()

	// Uninit waits for the in-flight data callback, and that callback
	// takes the mutex, so teardown must run unlocked.
	if device != nil {
		_ = device.Stop()
		device.Uninit()
	}
	if mctx != nil {
		_ = mctx.Uninit()
	}
}

// onData slides hardware callback bytes into fixed frames. Frames cut
// here are not aligned to callback boundaries.
func (c *Capture) onData(input []byte) {
	c.mu.Lock()
	sink := c.sink
	if sink == nil {
		c.mu.Unlock()
		return
	}
	c.buf = append(c.buf, input...)
	frameBytes := c.cfg.FrameSamples * bytesPerSample
	var frames []string
	for len(c.buf) >= frameBytes {
		frames = append(frames, EncodePCM(c.buf[:frameBytes]))
		c.buf = c.buf[frameBytes:]
	}
	c.mu.Unlock()

	for _, f := range frames {
		sink(f)
	}
}

func classifyCaptureErr(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no device"), strings.Contains(msg, "no backend"):
		return fmt.Errorf("%w: %v", ErrNoCaptureDevice, err)
	case strings.Contains(msg, "access denied"), strings.Contains(msg, "permission"):
		return fmt.Errorf("%w: %v", ErrCaptureAccessDenied, err)
	default:
		return err
	}
}
