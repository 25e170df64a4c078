package app

import (
	"context"
	"fmt"
	"image"
	"math"
	"sync"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/position_estimator/internal/config"
	"github.com/relabs-tech/position_estimator/internal/estimator"
	"github.com/relabs-tech/position_estimator/internal/monitoring"
)

const (
	displayWidth  = 128
	displayHeight = 64
	lineHeight    = 13
)

// displayData holds the latest estimate for the display loop.
type displayData struct {
	mu   sync.RWMutex
	snap estimator.Snapshot
	have bool
}

func (d *displayData) set(s estimator.Snapshot) {
	d.mu.Lock()
	d.snap, d.have = s, true
	d.mu.Unlock()
}

func (d *displayData) get() (estimator.Snapshot, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.snap, d.have
}

func newFrame() (*image1bit.VerticalLSB, *font.Drawer) {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, displayWidth, displayHeight))
	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	return img, drawer
}

func drawLines(d *font.Drawer, lines ...string) {
	for i, l := range lines {
		d.Dot = fixed.P(0, lineHeight*(i+1))
		d.DrawString(l)
	}
}

// estimateLines is the text shown for a snapshot, one entry per display row.
func estimateLines(s estimator.Snapshot, have bool) []string {
	if !have {
		return []string{"", "Estimate", "Waiting..."}
	}
	status := "CAL"
	if !s.Calibrated {
		status = "UNCAL"
	}
	if s.Stationary {
		status += " STILL"
	}
	return []string{
		fmt.Sprintf("R%5.0f P%4.0f Y%4.0f", s.Pose.Roll, s.Pose.Pitch, s.Pose.Yaw),
		fmt.Sprintf("X%7.2f Y%7.2f", s.Position.X, s.Position.Y),
		fmt.Sprintf("Z%7.2f s%6.2f", s.Position.Z, s.PositionSigma.Norm()),
		fmt.Sprintf("V%6.2f m/s", math.Min(s.Velocity.Norm(), 999.99)),
		status,
	}
}

// renderEstimate draws a snapshot into a 128x64 frame.
func renderEstimate(s estimator.Snapshot, have bool) *image1bit.VerticalLSB {
	img, d := newFrame()
	drawLines(d, estimateLines(s, have)...)
	return img
}

func renderSplash() *image1bit.VerticalLSB {
	img, d := newFrame()
	d.Dot = fixed.P(10, 26)
	d.DrawString("Inertial Pi")
	d.Dot = fixed.P(5, 43)
	d.DrawString("Position")
	d.Dot = fixed.P(25, 56)
	d.DrawString("Estimator")
	return img
}

// ssd1306DefaultAddr is the address ssd1306.NewI2C always talks to.
const ssd1306DefaultAddr = 0x3C

// addrBus redirects transactions for the driver's fixed address to the
// configured one, so panels strapped to 0x3D work with the upstream driver.
type addrBus struct {
	i2c.Bus
	addr uint16
}

func (b *addrBus) Tx(addr uint16, w, r []byte) error {
	if addr == ssd1306DefaultAddr {
		addr = b.addr
	}
	return b.Bus.Tx(addr, w, r)
}

func displayBus(bus i2c.Bus, addr uint16) i2c.Bus {
	if addr == 0 || addr == ssd1306DefaultAddr {
		return bus
	}
	return &addrBus{Bus: bus, addr: addr}
}

// RunDisplay shows the latest estimate from the broker on an SSD1306.
func RunDisplay(ctx context.Context) error {
	cfg := config.Get()

	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph: %w", err)
	}

	bus, err := i2creg.Open("")
	if err != nil {
		return fmt.Errorf("failed to open I2C bus: %w", err)
	}
	defer bus.Close()

	dev, err := ssd1306.NewI2C(displayBus(bus, cfg.DisplayI2CAddr), &ssd1306.DefaultOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize display: %w", err)
	}
	monitoring.Infof("display: initialized at 0x%02X", cfg.DisplayI2CAddr)

	if err := dev.Draw(dev.Bounds(), renderSplash(), image.Point{}); err != nil {
		monitoring.Warnf("display: error showing splash: %v", err)
	}

	data := &displayData{}
	client, err := subscribeEstimates(cfg, cfg.MQTTClientIDDisplay, "display", data.set)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	ticker := time.NewTicker(time.Duration(cfg.DisplayUpdateInterval) * time.Millisecond)
	defer ticker.Stop()

	monitoring.Infof("display: starting update loop")
	for {
		select {
		case <-ctx.Done():
			return dev.Halt()
		case <-ticker.C:
			s, have := data.get()
			if err := dev.Draw(dev.Bounds(), renderEstimate(s, have), image.Point{}); err != nil {
				monitoring.Warnf("display: update error: %v", err)
			}
		}
	}
}
