package services

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"strings"

	_ "image/jpeg"
	_ "image/png"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"

	"github.com/yungbote/diagramlab-backend/internal/clients/gcp"
	"github.com/yungbote/diagramlab-backend/internal/logger"
	"github.com/yungbote/diagramlab-backend/internal/types"
)

const overlayMaxSide = 1024

// Fill/stroke palette keyed by hierarchy level, cycled for deeper trees.
var overlayLevelColors = []color.NRGBA{
	{R: 0x2E, G: 0x7D, B: 0xF6, A: 0xFF},
	{R: 0x2F, G: 0xB3, B: 0x6B, A: 0xFF},
	{R: 0xE8, G: 0x8A, B: 0x1A, A: 0xFF},
	{R: 0xB1, G: 0x4F, B: 0xC9, A: 0xFF},
}

var overlayBlockedColor = color.NRGBA{R: 0x9A, G: 0x9A, B: 0x9A, A: 0xFF}

// OverlayService renders a plan run back onto its source image so detected
// zone geometry can be eyeballed without a frontend.
type OverlayService interface {
	RenderPlan(ctx context.Context, res *PlanResult, state *VisibilityState) (bytes.Buffer, error)
}

type overlayService struct {
	log      *logger.Logger
	store    gcp.ImageStore
	fontFace font.Face
}

func NewOverlayService(baseLog *logger.Logger, store gcp.ImageStore) OverlayService {
	serviceLog := baseLog.With("service", "OverlayService")

	var face font.Face = basicfont.Face7x13
	if fontPath := strings.TrimSpace(os.Getenv("OVERLAY_FONT")); fontPath != "" {
		loaded, err := loadOverlayFont(fontPath, 18)
		if err != nil {
			serviceLog.Warn("could not load overlay font, using builtin face", "font", fontPath, "error", err)
		} else {
			face = loaded
		}
	}

	return &overlayService{
		log:      serviceLog,
		store:    store,
		fontFace: face,
	}
}

// RenderPlan draws every zone of the run over the source image. When a
// visibility state is given, blocked zones render grey and dashed-out so a
// reviewer sees what the learner currently sees.
func (s *overlayService) RenderPlan(ctx context.Context, res *PlanResult, state *VisibilityState) (bytes.Buffer, error) {
	var out bytes.Buffer
	if res == nil || res.ImagePath == "" {
		return out, fmt.Errorf("plan result has no image")
	}

	raw, err := s.store.Read(ctx, res.ImagePath)
	if err != nil {
		return out, fmt.Errorf("read image %s: %w", res.ImagePath, err)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return out, fmt.Errorf("decode image: %w", err)
	}
	img = scaleDown(img, overlayMaxSide)

	b := img.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())

	dc := gg.NewContext(b.Dx(), b.Dy())
	dc.DrawImage(img, 0, 0)
	dc.SetFontFace(s.fontFace)
	dc.SetLineWidth(2)

	blocked := map[string]bool{}
	if state != nil {
		for _, id := range state.Blocked {
			blocked[id] = true
		}
	}

	for _, z := range res.Zones {
		c := overlayLevelColors[(z.Level+len(overlayLevelColors)-1)%len(overlayLevelColors)]
		if blocked[z.ID] {
			c = overlayBlockedColor
		}

		switch z.Shape {
		case types.ZoneShapeCircle:
			if z.Circle == nil {
				continue
			}
			cx, cy := z.Circle.CX*w, z.Circle.CY*h
			r := z.Circle.Radius * w
			dc.SetColor(withAlpha(c, 0x30))
			dc.DrawCircle(cx, cy, r)
			dc.Fill()
			dc.SetColor(c)
			dc.DrawCircle(cx, cy, r)
			dc.Stroke()
			s.drawLabel(dc, z.Label, cx, cy-r-4, c)

		case types.ZoneShapePolygon:
			if len(z.Polygon) < 3 {
				continue
			}
			dc.MoveTo(z.Polygon[0].X*w, z.Polygon[0].Y*h)
			for _, p := range z.Polygon[1:] {
				dc.LineTo(p.X*w, p.Y*h)
			}
			dc.ClosePath()
			dc.SetColor(withAlpha(c, 0x30))
			dc.FillPreserve()
			dc.SetColor(c)
			dc.Stroke()
			lx, ly := polygonAnchor(z.Polygon)
			s.drawLabel(dc, z.Label, lx*w, ly*h-4, c)
		}
	}

	if err := dc.EncodePNG(&out); err != nil {
		return out, fmt.Errorf("encode png: %w", err)
	}
	return out, nil
}

func (s *overlayService) drawLabel(dc *gg.Context, label string, x, y float64, c color.NRGBA) {
	if strings.TrimSpace(label) == "" {
		return
	}
	tw, th := dc.MeasureString(label)
	dc.SetColor(color.NRGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xD0})
	dc.DrawRectangle(x-tw/2-3, y-th-3, tw+6, th+6)
	dc.Fill()
	dc.SetColor(c)
	dc.DrawString(label, x-tw/2, y)
}

func scaleDown(img image.Image, maxSide int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxSide && h <= maxSide {
		return img
	}
	scale := float64(maxSide) / float64(w)
	if h > w {
		scale = float64(maxSide) / float64(h)
	}
	dw, dh := int(float64(w)*scale), int(float64(h)*scale)
	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// polygonAnchor picks the topmost vertex midpoint for the label position.
func polygonAnchor(pts []types.Point) (float64, float64) {
	minY := pts[0].Y
	sumX := 0.0
	for _, p := range pts {
		if p.Y < minY {
			minY = p.Y
		}
		sumX += p.X
	}
	return sumX / float64(len(pts)), minY
}

func withAlpha(c color.NRGBA, a uint8) color.NRGBA {
	c.A = a
	return c
}

func loadOverlayFont(fontPath string, size float64) (font.Face, error) {
	fontBytes, err := os.ReadFile(fontPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read font file: %w", err)
	}
	parsedFont, err := truetype.Parse(fontBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse TTF: %w", err)
	}
	return truetype.NewFace(parsedFont, &truetype.Options{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingNone,
	}), nil
}
