// Package display renders the last measured distance on a small monochrome
// screen such as an SSD1306.
package display

import (
	"image/color"
	"strconv"

	"tinygo.org/x/drivers"
	"tinygo.org/x/tinyfont"
	"tinygo.org/x/tinyfont/proggy"

	"sonar/core"
)

const lineHeight = 12

var (
	white = color.RGBA{255, 255, 255, 255}
	black = color.RGBA{0, 0, 0, 255}
)

// Panel shows a "DIST" caption and the distance below it. The screen is
// only rewritten when the text changes, an I2C flush takes milliseconds.
type Panel struct {
	d     drivers.Displayer
	last  string
	drawn bool
}

func NewPanel(d drivers.Displayer) *Panel {
	return &Panel{d: d}
}

// FormatDistance renders mm right-aligned in four digits, or dashes when
// no echo cycle has completed yet
func FormatDistance(mm uint16, valid bool) string {
	if !valid {
		return "---- mm"
	}
	s := strconv.Itoa(int(mm))
	for len(s) < 4 {
		s = " " + s
	}
	return s + " mm"
}

// Show draws the distance if it differs from what is on screen
func (p *Panel) Show(mm uint16, valid bool) error {
	text := FormatDistance(mm, valid)
	if p.drawn && text == p.last {
		return nil
	}

	p.clear()
	tinyfont.WriteLine(p.d, &proggy.TinySZ8pt7b, 0, lineHeight, "DIST", white)
	tinyfont.WriteLine(p.d, &proggy.TinySZ8pt7b, 0, 2*lineHeight, text, white)
	if err := p.d.Display(); err != nil {
		p.drawn = false
		return err
	}

	p.last = text
	p.drawn = true
	return nil
}

// ShowSnapshot draws a snapshot; a sensor with no completed cycle shows dashes
func (p *Panel) ShowSnapshot(s core.EchoSnapshot) error {
	return p.Show(s.Distance, s.Cycles > 0)
}

// Text returns what the panel last put on screen
func (p *Panel) Text() string {
	return p.last
}

func (p *Panel) clear() {
	w, h := p.d.Size()
	for y := int16(0); y < h; y++ {
		for x := int16(0); x < w; x++ {
			p.d.SetPixel(x, y, black)
		}
	}
}
