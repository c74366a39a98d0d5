package model

import (
	"fmt"
	"sort"
	"strings"
)

type fieldType int

const (
	fieldNumber fieldType = iota
	fieldString
	fieldEnum
)

type fieldSpec struct {
	Name     string
	Type     fieldType
	Required bool
	// Min is inclusive unless MinExclusive is set.
	Min          *float64
	MinExclusive bool
	Max          *float64
	Enum         []string
	Doc          string
}

type actionSchema struct {
	Fields []fieldSpec
	Check  func(p Params, verr *ValidationError)
}

func bound(v float64) *float64 { return &v }

var (
	filterTypes     = []string{"blur", "sharpen", "grayscale", "sepia", "vintage", "vignette", "noise"}
	audioOps        = []string{"enhance", "denoise", "normalize", "volume", "fade"}
	fadeDirections  = []string{"in", "out"}
	transitionTypes = []string{"fade", "dissolve", "wipe", "slide"}
	transitionPos   = []string{"start", "end", "both"}
	backgroundOps   = []string{"remove", "replace"}
	backgroundTypes = []string{"color", "image", "blur"}
	exportFormats   = []string{"mp4", "webm", "mov", "gif"}
	exportQuality   = []string{"low", "medium", "high"}
)

var schemas = map[ActionKind]actionSchema{
	ActionTrim: {
		Fields: []fieldSpec{
			{Name: "startTime", Type: fieldNumber, Required: true, Min: bound(0), Doc: "seconds from the start"},
			{Name: "endTime", Type: fieldNumber, Min: bound(0), Doc: "seconds, exclusive end"},
			{Name: "duration", Type: fieldNumber, Min: bound(0), MinExclusive: true, Doc: "seconds to keep"},
		},
		Check: func(p Params, verr *ValidationError) {
			end, hasEnd := p.Float("endTime")
			_, hasDur := p.Float("duration")
			if !hasEnd && !hasDur {
				verr.add("endTime|duration", "one of endTime or duration is required")
				return
			}
			if start, ok := p.Float("startTime"); ok && hasEnd && end <= start {
				verr.add("endTime", "must be greater than startTime")
			}
		},
	},
	ActionCrop: {
		Fields: []fieldSpec{
			{Name: "x", Type: fieldNumber, Min: bound(0), Doc: "left offset in pixels"},
			{Name: "y", Type: fieldNumber, Min: bound(0), Doc: "top offset in pixels"},
			{Name: "width", Type: fieldNumber, Required: true, Min: bound(0), MinExclusive: true, Doc: "pixels"},
			{Name: "height", Type: fieldNumber, Required: true, Min: bound(0), MinExclusive: true, Doc: "pixels"},
		},
	},
	ActionFilter: {
		Fields: []fieldSpec{
			{Name: "filterType", Type: fieldEnum, Required: true, Enum: filterTypes},
			{Name: "intensity", Type: fieldNumber, Min: bound(0), Max: bound(1), Doc: "0..1, default 0.5"},
		},
	},
	ActionColor: {
		Fields: []fieldSpec{
			{Name: "brightness", Type: fieldNumber, Min: bound(-1), Max: bound(1)},
			{Name: "contrast", Type: fieldNumber, Min: bound(0), Max: bound(3)},
			{Name: "saturation", Type: fieldNumber, Min: bound(0), Max: bound(3)},
			{Name: "hue", Type: fieldNumber, Min: bound(-180), Max: bound(180), Doc: "degrees"},
			{Name: "gamma", Type: fieldNumber, Min: bound(0.1), Max: bound(10)},
		},
		Check: func(p Params, verr *ValidationError) {
			for _, k := range []string{"brightness", "contrast", "saturation", "hue", "gamma"} {
				if p.Has(k) {
					return
				}
			}
			verr.add("brightness|contrast|saturation|hue|gamma", "at least one adjustment is required")
		},
	},
	ActionAudio: {
		Fields: []fieldSpec{
			{Name: "operation", Type: fieldEnum, Required: true, Enum: audioOps},
			{Name: "level", Type: fieldNumber, Min: bound(0), Max: bound(4), Doc: "volume multiplier"},
			{Name: "fadeType", Type: fieldEnum, Enum: fadeDirections},
			{Name: "fadeDuration", Type: fieldNumber, Min: bound(0), MinExclusive: true, Doc: "seconds"},
		},
		Check: func(p Params, verr *ValidationError) {
			if op, _ := p.String("operation"); op == "volume" && !p.Has("level") {
				verr.add("level", "required for volume")
			}
		},
	},
	ActionText: {
		Fields: []fieldSpec{
			{Name: "text", Type: fieldString, Required: true},
			{Name: "x", Type: fieldNumber, Min: bound(0)},
			{Name: "y", Type: fieldNumber, Min: bound(0)},
			{Name: "fontSize", Type: fieldNumber, Min: bound(0), MinExclusive: true},
			{Name: "color", Type: fieldString},
			{Name: "startTime", Type: fieldNumber, Min: bound(0)},
			{Name: "duration", Type: fieldNumber, Min: bound(0), MinExclusive: true},
		},
	},
	ActionTransition: {
		Fields: []fieldSpec{
			{Name: "type", Type: fieldEnum, Required: true, Enum: transitionTypes},
			{Name: "duration", Type: fieldNumber, Min: bound(0), MinExclusive: true, Doc: "seconds, default 1"},
			{Name: "position", Type: fieldEnum, Enum: transitionPos, Doc: "default start"},
		},
	},
	ActionBackground: {
		Fields: []fieldSpec{
			{Name: "action", Type: fieldEnum, Required: true, Enum: backgroundOps},
			{Name: "backgroundType", Type: fieldEnum, Enum: backgroundTypes},
			{Name: "color", Type: fieldString},
			{Name: "imagePath", Type: fieldString},
			{Name: "keyColor", Type: fieldString, Doc: "chroma key colour, default green"},
		},
		Check: func(p Params, verr *ValidationError) {
			if op, _ := p.String("action"); op != "replace" {
				return
			}
			bt, ok := p.String("backgroundType")
			if !ok {
				verr.add("backgroundType", "required for replace")
				return
			}
			if bt == "image" && !p.Has("imagePath") {
				verr.add("imagePath", "required for image backgrounds")
			}
		},
	},
	ActionExport: {
		Fields: []fieldSpec{
			{Name: "format", Type: fieldEnum, Enum: exportFormats, Doc: "default mp4"},
			{Name: "quality", Type: fieldEnum, Enum: exportQuality, Doc: "default medium"},
		},
	},
	ActionAnalyze: {},
}

// Validate checks params against the fixed schema for kind. Kinds without a
// schema (chat, unknown) always pass; dispatch rejects them separately.
func Validate(kind ActionKind, params Params) error {
	schema, ok := schemas[kind]
	if !ok {
		return nil
	}
	verr := &ValidationError{Action: kind}
	for _, f := range schema.Fields {
		checkField(f, params, verr)
	}
	if schema.Check != nil && len(verr.Fields) == 0 {
		schema.Check(params, verr)
	}
	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

func checkField(f fieldSpec, params Params, verr *ValidationError) {
	if !params.Has(f.Name) {
		if f.Required {
			verr.add(f.Name, "is required")
		}
		return
	}
	switch f.Type {
	case fieldNumber:
		v, ok := params.Float(f.Name)
		if !ok {
			verr.add(f.Name, "must be a number")
			return
		}
		if f.Min != nil {
			if f.MinExclusive && v <= *f.Min {
				verr.add(f.Name, fmt.Sprintf("must be > %g", *f.Min))
				return
			}
			if !f.MinExclusive && v < *f.Min {
				verr.add(f.Name, fmt.Sprintf("must be >= %g", *f.Min))
				return
			}
		}
		if f.Max != nil && v > *f.Max {
			verr.add(f.Name, fmt.Sprintf("must be <= %g", *f.Max))
		}
	case fieldString:
		if _, ok := params.String(f.Name); !ok {
			verr.add(f.Name, "must be a non-empty string")
		}
	case fieldEnum:
		s, ok := params.String(f.Name)
		if !ok {
			verr.add(f.Name, "must be a string")
			return
		}
		for _, allowed := range f.Enum {
			if strings.EqualFold(s, allowed) {
				return
			}
		}
		verr.add(f.Name, "must be one of "+strings.Join(f.Enum, ", "))
	}
}

// SchemaPrompt renders the parameter schema of every action for inclusion in
// a language-model prompt.
func SchemaPrompt() string {
	var sb strings.Builder
	for _, kind := range ActionKinds {
		schema, ok := schemas[kind]
		if !ok {
			fmt.Fprintf(&sb, "- %s: no parameters\n", kind)
			continue
		}
		if len(schema.Fields) == 0 {
			fmt.Fprintf(&sb, "- %s: no parameters\n", kind)
			continue
		}
		fields := make([]string, 0, len(schema.Fields))
		for _, f := range schema.Fields {
			fields = append(fields, describeField(f))
		}
		fmt.Fprintf(&sb, "- %s: %s\n", kind, strings.Join(fields, "; "))
	}
	return sb.String()
}

func describeField(f fieldSpec) string {
	var sb strings.Builder
	sb.WriteString(f.Name)
	switch f.Type {
	case fieldNumber:
		sb.WriteString(" number")
	case fieldString:
		sb.WriteString(" string")
	case fieldEnum:
		enum := append([]string(nil), f.Enum...)
		sort.Strings(enum)
		sb.WriteString(" one of [" + strings.Join(enum, "|") + "]")
	}
	if f.Required {
		sb.WriteString(" (required)")
	}
	if f.Doc != "" {
		sb.WriteString(" " + f.Doc)
	}
	return sb.String()
}
