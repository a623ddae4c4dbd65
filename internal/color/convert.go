// SPDX-License-Identifier: MIT

// Package color implements the color conversions the pipeline needs: CIE xy
// with brightness to RGB and back (Hue reference matrices, Wide RGB D65),
// HSBK for the LIFX LAN protocol, and the kelvin/mirek clamps.
package color

import "math"

// Kelvin range accepted by LIFX hardware.
const (
	KelvinMin = 1500
	KelvinMax = 9000
)

// Mirek range exposed by Hue color-temperature lights.
const (
	MirekMin = 153
	MirekMax = 500
)

// RGB is an 8-bit-per-channel color sample.
type RGB struct {
	R, G, B uint8
}

// XYToRGB converts a CIE xy chromaticity plus brightness (0..254) to RGB
// using the Hue reference conversion.
func XYToRGB(x, y float64, bri uint8) RGB {
	if y <= 0 {
		return RGB{}
	}

	Y := float64(bri) / 254.0
	X := (Y / y) * x
	Z := (Y / y) * (1.0 - x - y)

	// Wide RGB D65 conversion
	r := X*1.656492 - Y*0.354851 - Z*0.255038
	g := -X*0.707196 + Y*1.655397 + Z*0.036152
	b := X*0.051713 - Y*0.121364 + Z*1.011530

	r = reverseGamma(r)
	g = reverseGamma(g)
	b = reverseGamma(b)

	// scale down proportionally if any channel overflows
	maxC := math.Max(r, math.Max(g, b))
	if maxC > 1 {
		r /= maxC
		g /= maxC
		b /= maxC
	}

	return RGB{
		R: clamp8(r * 255),
		G: clamp8(g * 255),
		B: clamp8(b * 255),
	}
}

// RGBToXY converts an RGB sample to CIE xy plus derived brightness.
func RGBToXY(c RGB) (x, y float64, bri uint8) {
	r := gamma(float64(c.R) / 255.0)
	g := gamma(float64(c.G) / 255.0)
	b := gamma(float64(c.B) / 255.0)

	X := r*0.664511 + g*0.154324 + b*0.162028
	Y := r*0.283881 + g*0.668433 + b*0.047685
	Z := r*0.000088 + g*0.072310 + b*0.986039

	sum := X + Y + Z
	if sum == 0 {
		return 0, 0, 0
	}

	x = X / sum
	y = Y / sum
	bri = clamp8(Y * 254)
	return x, y, bri
}

func gamma(v float64) float64 {
	if v > 0.04045 {
		return math.Pow((v+0.055)/1.055, 2.4)
	}
	return v / 12.92
}

func reverseGamma(v float64) float64 {
	if v <= 0 {
		return 0
	}
	if v <= 0.0031308 {
		return 12.92 * v
	}
	return 1.055*math.Pow(v, 1.0/2.4) - 0.055
}

func clamp8(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(math.Round(v))
}

// HSBK is the LIFX color tuple; all channels span the full u16 range,
// kelvin excepted.
type HSBK struct {
	Hue        uint16
	Saturation uint16
	Brightness uint16
	Kelvin     uint16
}

// RGBToHSBK converts an RGB sample to LIFX HSBK with the given kelvin.
func RGBToHSBK(c RGB, kelvin uint16) HSBK {
	r := float64(c.R) / 255.0
	g := float64(c.G) / 255.0
	b := float64(c.B) / 255.0

	maxC := math.Max(r, math.Max(g, b))
	minC := math.Min(r, math.Min(g, b))
	delta := maxC - minC

	var h float64
	switch {
	case delta == 0:
		h = 0
	case maxC == r:
		h = 60 * math.Mod((g-b)/delta, 6)
	case maxC == g:
		h = 60 * ((b-r)/delta + 2)
	default:
		h = 60 * ((r-g)/delta + 4)
	}
	if h < 0 {
		h += 360
	}

	var s float64
	if maxC > 0 {
		s = delta / maxC
	}

	return HSBK{
		Hue:        uint16(math.Round(h / 360.0 * 65535)),
		Saturation: uint16(math.Round(s * 65535)),
		Brightness: uint16(math.Round(maxC * 65535)),
		Kelvin:     ClampKelvin(kelvin),
	}
}

// ClampKelvin bounds a kelvin value to the LIFX-supported range.
func ClampKelvin(k uint16) uint16 {
	if k < KelvinMin {
		return KelvinMin
	}
	if k > KelvinMax {
		return KelvinMax
	}
	return k
}

// ClampMirek bounds a mirek value to the Hue-supported range.
func ClampMirek(m uint16) uint16 {
	if m < MirekMin {
		return MirekMin
	}
	if m > MirekMax {
		return MirekMax
	}
	return m
}

// MirekToKelvin converts mirek to kelvin, applying both clamps.
func MirekToKelvin(m uint16) uint16 {
	m = ClampMirek(m)
	return ClampKelvin(uint16(1000000 / uint32(m)))
}

// Lerp linearly interpolates between two RGB samples; t is clamped to [0,1].
func Lerp(a, b RGB, t float64) RGB {
	if t <= 0 {
		return a
	}
	if t >= 1 {
		return b
	}
	return RGB{
		R: clamp8(float64(a.R) + t*(float64(b.R)-float64(a.R))),
		G: clamp8(float64(a.G) + t*(float64(b.G)-float64(a.G))),
		B: clamp8(float64(a.B) + t*(float64(b.B)-float64(a.B))),
	}
}
