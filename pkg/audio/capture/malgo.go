package capture

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/telonlabs/telon/pkg/audio"
)

// Compile-time assertion that MalgoOpener satisfies Opener.
var _ Opener = (*MalgoOpener)(nil)

// MalgoOpener opens OS microphone devices through miniaudio (malgo).
// One opener owns one malgo context; create it once at process start and
// release it with [MalgoOpener.Uninit] on shutdown.
type MalgoOpener struct {
	ctx *malgo.AllocatedContext
}

// NewMalgoOpener initialises a miniaudio context with realtime thread
// priority for capture callbacks.
func NewMalgoOpener() (*MalgoOpener, error) {
	cfg := malgo.ContextConfig{}
	cfg.ThreadPriority = malgo.ThreadPriorityRealtime

	ctx, err := malgo.InitContext(nil, cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("capture: init malgo context: %w", err)
	}
	return &MalgoOpener{ctx: ctx}, nil
}

// Open implements [Opener]. deviceID is matched against the names of the
// enumerated capture devices; the empty string selects the system default.
func (o *MalgoOpener) Open(deviceID string, format audio.Format, onData func(pcm []byte)) (Device, error) {
	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(format.Channels)
	cfg.SampleRate = uint32(format.SampleRate)
	cfg.PeriodSizeInMilliseconds = 20

	if deviceID != "" {
		infos, err := o.ctx.Devices(malgo.Capture)
		if err != nil {
			return nil, fmt.Errorf("capture: enumerate devices: %w", err)
		}
		found := false
		for i := range infos {
			if infos[i].Name() == deviceID {
				id := infos[i].ID
				cfg.Capture.DeviceID = id.Pointer()
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("capture: device %q not found", deviceID)
		}
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pInputSamples []byte, _ uint32) {
			onData(pInputSamples)
		},
	}

	dev, err := malgo.InitDevice(o.ctx.Context, cfg, callbacks)
	if err != nil {
		return nil, fmt.Errorf("capture: init device: %w", err)
	}
	return &malgoDevice{dev: dev}, nil
}

// Uninit releases the miniaudio context. Devices opened through this opener
// must be closed first.
func (o *MalgoOpener) Uninit() error {
	if err := o.ctx.Uninit(); err != nil {
		return fmt.Errorf("capture: uninit malgo context: %w", err)
	}
	o.ctx.Free()
	return nil
}

type malgoDevice struct {
	dev *malgo.Device

	closeOnce sync.Once
}

func (d *malgoDevice) Start() error {
	if err := d.dev.Start(); err != nil {
		return fmt.Errorf("capture: start malgo device: %w", err)
	}
	return nil
}

func (d *malgoDevice) Close() error {
	d.closeOnce.Do(func() {
		_ = d.dev.Stop()
		d.dev.Uninit()
	})
	return nil
}
