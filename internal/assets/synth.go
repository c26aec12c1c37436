package assets

import (
	"hash/fnv"
	"image"
	"image/color"
	"math"
	"math/rand"
	"strconv"
	"strings"

	"astronoma/internal/types"
)

// Default placeholder dimensions (equirectangular, 2:1).
const (
	DefaultWidth  = 256
	DefaultHeight = 128
)

// synthesizer draws placeholders. Output depends only on its inputs.
type synthesizer struct {
	width, height int
}

// Synthesize draws a placeholder set for key at the default size.
func Synthesize(key Key, style types.Style) Set {
	return synthesizer{DefaultWidth, DefaultHeight}.draw(key, style, nil)
}

func (s synthesizer) draw(key Key, style types.Style, tint *color.NRGBA) Set {
	if s.width <= 0 || s.height <= 0 {
		s.width, s.height = DefaultWidth, DefaultHeight
	}
	if parsed, err := types.ParseStyle(string(style)); err == nil {
		style = parsed
	} else {
		style = types.StyleRocky
	}
	rng := rand.New(rand.NewSource(seedFor(key, style)))
	pal := paletteFor(style, rng, tint)
	source := "synthesized:" + string(style)

	set := Set{}
	switch style {
	case types.StyleGas:
		set[SlotPrimary] = NewTexture(source, s.gas(rng, pal))
	case types.StyleIce:
		primary, bump := s.ice(rng, pal)
		set[SlotPrimary] = NewTexture(source, primary)
		set[SlotBump] = NewTexture(source, bump)
	case types.StyleStar:
		primary, emissive := s.star(rng, pal)
		set[SlotPrimary] = NewTexture(source, primary)
		set[SlotEmissive] = NewTexture(source, emissive)
	case types.StyleTerrestrial:
		primary, specular := s.terrestrial(rng, pal)
		set[SlotPrimary] = NewTexture(source, primary)
		set[SlotSpecular] = NewTexture(source, specular)
	default:
		primary, bump := s.rocky(rng, pal)
		set[SlotPrimary] = NewTexture(source, primary)
		set[SlotBump] = NewTexture(source, bump)
	}
	return set
}

func seedFor(key Key, style types.Style) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(style))
	return int64(h.Sum64())
}

type palette struct {
	base, accent, dark color.NRGBA
}

func paletteFor(style types.Style, rng *rand.Rand, tint *color.NRGBA) palette {
	var p palette
	switch style {
	case types.StyleGas:
		p = palette{rgb(0xd8, 0xb0, 0x7c), rgb(0xf2, 0xe0, 0xc0), rgb(0x8a, 0x5a, 0x34)}
	case types.StyleIce:
		p = palette{rgb(0xdc, 0xee, 0xfa), rgb(0xff, 0xff, 0xff), rgb(0x6a, 0x8c, 0xaa)}
	case types.StyleStar:
		p = palette{rgb(0xff, 0xc8, 0x3c), rgb(0xff, 0xf6, 0xd8), rgb(0xd0, 0x50, 0x10)}
	case types.StyleTerrestrial:
		p = palette{rgb(0x1c, 0x4e, 0x96), rgb(0x4c, 0x8a, 0x3c), rgb(0x9c, 0x84, 0x5c)}
	default:
		p = palette{rgb(0x8c, 0x7c, 0x6c), rgb(0xb4, 0xa8, 0x98), rgb(0x4a, 0x40, 0x38)}
	}
	if tint != nil && style != types.StyleTerrestrial {
		p.base = *tint
		p.accent = mix(*tint, rgb(0xff, 0xff, 0xff), 0.45)
		p.dark = mix(*tint, rgb(0, 0, 0), 0.5)
	}
	// Small per-key shift so neighbouring placeholders differ.
	shift := rng.Float64()*0.2 - 0.1
	p.base = shade(p.base, shift)
	p.accent = shade(p.accent, shift)
	return p
}

func (s synthesizer) gas(rng *rand.Rand, pal palette) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, s.width, s.height))
	freq := 6 + rng.Float64()*10
	phase := rng.Float64() * math.Pi * 2
	turb := newValueNoise(rng, 16, 8)
	for y := 0; y < s.height; y++ {
		v := float64(y) / float64(s.height)
		for x := 0; x < s.width; x++ {
			u := float64(x) / float64(s.width)
			band := math.Sin(v*freq*math.Pi+phase+turb.at(u, v)*1.5)*0.5 + 0.5
			c := mix(pal.base, pal.accent, band)
			if band < 0.15 {
				c = mix(c, pal.dark, 0.5)
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func (s synthesizer) rocky(rng *rand.Rand, pal palette) (*image.NRGBA, *image.Gray) {
	img := image.NewNRGBA(image.Rect(0, 0, s.width, s.height))
	bump := image.NewGray(img.Rect)
	terrain := newValueNoise(rng, 24, 12)
	for y := 0; y < s.height; y++ {
		for x := 0; x < s.width; x++ {
			h := terrain.at(float64(x)/float64(s.width), float64(y)/float64(s.height))
			speckle := rng.Float64()*0.2 - 0.1
			img.SetNRGBA(x, y, shade(mix(pal.dark, pal.base, h), speckle))
			bump.SetGray(x, y, color.Gray{Y: uint8(h * 255)})
		}
	}
	craters := 8 + rng.Intn(16)
	for i := 0; i < craters; i++ {
		cx, cy := rng.Intn(s.width), rng.Intn(s.height)
		r := 2 + rng.Float64()*float64(s.height)/10
		s.crater(img, bump, cx, cy, r, pal)
	}
	return img, bump
}

func (s synthesizer) crater(img *image.NRGBA, bump *image.Gray, cx, cy int, r float64, pal palette) {
	ri := int(r) + 1
	for dy := -ri; dy <= ri; dy++ {
		for dx := -ri; dx <= ri; dx++ {
			d := math.Hypot(float64(dx), float64(dy)) / r
			if d > 1 {
				continue
			}
			x := ((cx+dx)%s.width + s.width) % s.width
			y := cy + dy
			if y < 0 || y >= s.height {
				continue
			}
			cur := img.NRGBAAt(x, y)
			if d > 0.8 {
				img.SetNRGBA(x, y, mix(cur, pal.accent, 0.5))
				bump.SetGray(x, y, color.Gray{Y: 230})
			} else {
				img.SetNRGBA(x, y, mix(cur, pal.dark, 0.4*(1-d)))
				bump.SetGray(x, y, color.Gray{Y: uint8(60 * d)})
			}
		}
	}
}

func (s synthesizer) ice(rng *rand.Rand, pal palette) (*image.NRGBA, *image.Gray) {
	img := image.NewNRGBA(image.Rect(0, 0, s.width, s.height))
	bump := image.NewGray(img.Rect)
	frost := newValueNoise(rng, 32, 16)
	for y := 0; y < s.height; y++ {
		for x := 0; x < s.width; x++ {
			f := frost.at(float64(x)/float64(s.width), float64(y)/float64(s.height))
			img.SetNRGBA(x, y, mix(pal.base, pal.accent, f))
			bump.SetGray(x, y, color.Gray{Y: uint8(128 + f*100)})
		}
	}
	cracks := 6 + rng.Intn(10)
	for i := 0; i < cracks; i++ {
		x, y := float64(rng.Intn(s.width)), float64(rng.Intn(s.height))
		angle := rng.Float64() * math.Pi * 2
		steps := s.width / 4
		for j := 0; j < steps; j++ {
			angle += rng.Float64()*0.6 - 0.3
			x += math.Cos(angle)
			y += math.Sin(angle)
			px := (int(x)%s.width + s.width) % s.width
			py := int(y)
			if py < 0 || py >= s.height {
				break
			}
			img.SetNRGBA(px, py, pal.dark)
			bump.SetGray(px, py, color.Gray{Y: 20})
		}
	}
	return img, bump
}

func (s synthesizer) star(rng *rand.Rand, pal palette) (*image.NRGBA, *image.NRGBA) {
	img := image.NewNRGBA(image.Rect(0, 0, s.width, s.height))
	emissive := image.NewNRGBA(img.Rect)
	granules := newValueNoise(rng, 40, 20)
	cx, cy := float64(s.width)/2, float64(s.height)/2
	maxR := math.Hypot(cx, cy)
	for y := 0; y < s.height; y++ {
		for x := 0; x < s.width; x++ {
			d := math.Hypot(float64(x)-cx, float64(y)-cy) / maxR
			g := granules.at(float64(x)/float64(s.width), float64(y)/float64(s.height))
			corona := math.Max(0, 1-d)
			c := mix(pal.dark, pal.base, corona)
			c = mix(c, pal.accent, corona*corona*g)
			img.SetNRGBA(x, y, c)
			glow := uint8(math.Min(255, 80+175*corona))
			emissive.SetNRGBA(x, y, color.NRGBA{R: glow, G: uint8(float64(glow) * 0.85), B: uint8(float64(glow) * 0.5), A: 255})
		}
	}
	return img, emissive
}

func (s synthesizer) terrestrial(rng *rand.Rand, pal palette) (*image.NRGBA, *image.Gray) {
	img := image.NewNRGBA(image.Rect(0, 0, s.width, s.height))
	spec := image.NewGray(img.Rect)
	continents := newValueNoise(rng, 8, 4)
	detail := newValueNoise(rng, 32, 16)
	sea := 0.5 + rng.Float64()*0.1
	ice := rgb(0xf4, 0xf8, 0xff)
	for y := 0; y < s.height; y++ {
		v := float64(y) / float64(s.height)
		lat := math.Abs(v-0.5) * 2
		for x := 0; x < s.width; x++ {
			u := float64(x) / float64(s.width)
			h := continents.at(u, v)*0.75 + detail.at(u, v)*0.25
			switch {
			case lat > 0.85:
				img.SetNRGBA(x, y, ice)
				spec.SetGray(x, y, color.Gray{Y: 90})
			case h < sea:
				img.SetNRGBA(x, y, shade(pal.base, (h-sea)*0.8))
				spec.SetGray(x, y, color.Gray{Y: 220})
			default:
				img.SetNRGBA(x, y, mix(pal.accent, pal.dark, (h-sea)*2))
				spec.SetGray(x, y, color.Gray{Y: 30})
			}
		}
	}
	return img, spec
}

// valueNoise is a wrapping lattice of random values, bilinearly sampled.
type valueNoise struct {
	w, h int
	v    []float64
}

func newValueNoise(rng *rand.Rand, w, h int) valueNoise {
	n := valueNoise{w: w, h: h, v: make([]float64, w*h)}
	for i := range n.v {
		n.v[i] = rng.Float64()
	}
	return n
}

// at samples u, v in [0,1).
func (n valueNoise) at(u, v float64) float64 {
	x := u * float64(n.w)
	y := v * float64(n.h)
	x0, y0 := int(x), int(y)
	fx, fy := smooth(x-float64(x0)), smooth(y-float64(y0))
	get := func(i, j int) float64 {
		i = (i%n.w + n.w) % n.w
		j = (j%n.h + n.h) % n.h
		return n.v[j*n.w+i]
	}
	top := lerp(get(x0, y0), get(x0+1, y0), fx)
	bot := lerp(get(x0, y0+1), get(x0+1, y0+1), fx)
	return lerp(top, bot, fy)
}

func smooth(t float64) float64 { return t * t * (3 - 2*t) }

func lerp(a, b, t float64) float64 { return a + (b-a)*t }

func rgb(r, g, b uint8) color.NRGBA { return color.NRGBA{R: r, G: g, B: b, A: 255} }

func mix(a, b color.NRGBA, t float64) color.NRGBA {
	t = clamp01(t)
	return color.NRGBA{
		R: uint8(lerp(float64(a.R), float64(b.R), t)),
		G: uint8(lerp(float64(a.G), float64(b.G), t)),
		B: uint8(lerp(float64(a.B), float64(b.B), t)),
		A: 255,
	}
}

// shade lightens (amt > 0) or darkens (amt < 0) c.
func shade(c color.NRGBA, amt float64) color.NRGBA {
	if amt >= 0 {
		return mix(c, rgb(0xff, 0xff, 0xff), amt)
	}
	return mix(c, rgb(0, 0, 0), -amt)
}

func clamp01(t float64) float64 {
	return math.Max(0, math.Min(1, t))
}

// parseHexColor accepts "#rrggbb" or "rrggbb".
func parseHexColor(s string) (*color.NRGBA, bool) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return nil, false
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return nil, false
	}
	c := rgb(uint8(v>>16), uint8(v>>8), uint8(v))
	return &c, true
}
