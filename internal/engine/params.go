package engine

import (
	"strings"

	"chatedit/server/internal/model"
)

// TrimParams keeps Duration seconds starting at Start. When the request
// named an end time, Duration is End-Start.
type TrimParams struct {
	Start    float64
	Duration float64
}

type CropParams struct {
	X, Y          int
	Width, Height int
}

type FilterParams struct {
	Type      string
	Intensity float64
}

// ColorParams uses neutral values for anything not requested: brightness 0,
// contrast 1, saturation 1, hue 0, gamma 1.
type ColorParams struct {
	Brightness float64
	Contrast   float64
	Saturation float64
	Hue        float64
	Gamma      float64
}

type AudioParams struct {
	Operation    string
	Level        float64
	FadeType     string
	FadeDuration float64
}

type TextParams struct {
	Text     string
	X, Y     int
	FontSize int
	Color    string
	Start    float64
	Duration float64
}

type TransitionParams struct {
	Type     string
	Duration float64
	Position string
}

type BackgroundParams struct {
	Action    string
	Type      string
	Color     string
	ImagePath string
	KeyColor  string
}

type ExportParams struct {
	Format  string
	Quality string
}

func trimFrom(p model.Params) TrimParams {
	start := p.FloatOr("startTime", 0)
	if end, ok := p.Float("endTime"); ok {
		return TrimParams{Start: start, Duration: end - start}
	}
	return TrimParams{Start: start, Duration: p.FloatOr("duration", 30)}
}

func (t TrimParams) params() model.Params {
	return model.Params{"startTime": t.Start, "duration": t.Duration}
}

func cropFrom(p model.Params) CropParams {
	return CropParams{
		X:      int(p.FloatOr("x", 0)),
		Y:      int(p.FloatOr("y", 0)),
		Width:  int(p.FloatOr("width", 0)),
		Height: int(p.FloatOr("height", 0)),
	}
}

func (c CropParams) params() model.Params {
	return model.Params{"x": c.X, "y": c.Y, "width": c.Width, "height": c.Height}
}

func filterFrom(p model.Params) FilterParams {
	return FilterParams{
		Type:      enum(p, "filterType", "blur"),
		Intensity: p.FloatOr("intensity", 0.5),
	}
}

func (f FilterParams) params() model.Params {
	return model.Params{"filterType": f.Type, "intensity": f.Intensity}
}

func colorFrom(p model.Params) ColorParams {
	return ColorParams{
		Brightness: p.FloatOr("brightness", 0),
		Contrast:   p.FloatOr("contrast", 1),
		Saturation: p.FloatOr("saturation", 1),
		Hue:        p.FloatOr("hue", 0),
		Gamma:      p.FloatOr("gamma", 1),
	}
}

func (c ColorParams) params() model.Params {
	return model.Params{
		"brightness": c.Brightness,
		"contrast":   c.Contrast,
		"saturation": c.Saturation,
		"hue":        c.Hue,
		"gamma":      c.Gamma,
	}
}

func audioFrom(p model.Params) AudioParams {
	return AudioParams{
		Operation:    enum(p, "operation", "enhance"),
		Level:        p.FloatOr("level", 1),
		FadeType:     enum(p, "fadeType", "in"),
		FadeDuration: p.FloatOr("fadeDuration", 2),
	}
}

func (a AudioParams) params() model.Params {
	return model.Params{
		"operation":    a.Operation,
		"level":        a.Level,
		"fadeType":     a.FadeType,
		"fadeDuration": a.FadeDuration,
	}
}

func textFrom(p model.Params) TextParams {
	return TextParams{
		Text:     p.StringOr("text", ""),
		X:        int(p.FloatOr("x", 40)),
		Y:        int(p.FloatOr("y", 40)),
		FontSize: int(p.FloatOr("fontSize", 48)),
		Color:    p.StringOr("color", "white"),
		Start:    p.FloatOr("startTime", 0),
		Duration: p.FloatOr("duration", 0),
	}
}

func (t TextParams) params() model.Params {
	return model.Params{
		"text":      t.Text,
		"x":         t.X,
		"y":         t.Y,
		"fontSize":  t.FontSize,
		"color":     t.Color,
		"startTime": t.Start,
		"duration":  t.Duration,
	}
}

func transitionFrom(p model.Params) TransitionParams {
	return TransitionParams{
		Type:     enum(p, "type", "fade"),
		Duration: p.FloatOr("duration", 1),
		Position: enum(p, "position", "start"),
	}
}

func (t TransitionParams) params() model.Params {
	return model.Params{"type": t.Type, "duration": t.Duration, "position": t.Position}
}

func backgroundFrom(p model.Params) BackgroundParams {
	return BackgroundParams{
		Action:    enum(p, "action", "remove"),
		Type:      enum(p, "backgroundType", "color"),
		Color:     p.StringOr("color", "black"),
		ImagePath: p.StringOr("imagePath", ""),
		KeyColor:  p.StringOr("keyColor", "0x00FF00"),
	}
}

func (b BackgroundParams) params() model.Params {
	return model.Params{
		"action":         b.Action,
		"backgroundType": b.Type,
		"color":          b.Color,
		"imagePath":      b.ImagePath,
		"keyColor":       b.KeyColor,
	}
}

func exportFrom(p model.Params) ExportParams {
	return ExportParams{
		Format:  enum(p, "format", "mp4"),
		Quality: enum(p, "quality", "medium"),
	}
}

func (e ExportParams) params() model.Params {
	return model.Params{"format": e.Format, "quality": e.Quality}
}

func enum(p model.Params, key, def string) string {
	return strings.ToLower(p.StringOr(key, def))
}
