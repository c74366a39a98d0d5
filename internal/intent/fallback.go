package intent

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"chatedit/server/internal/model"
)

const (
	extractedConfidence = 0.7
	defaultConfidence   = 0.6
	unmatchedConfidence = 0.3
)

// match reports how an extractor arrived at its params.
type match int

const (
	// noMatch means nothing in the message named a parameter.
	noMatch match = iota
	// derived params come from the media context, not from the user.
	derived
	// stated params were spelled out in the message.
	stated
	// unresolved means the user named a parameter that cannot be turned
	// into concrete values, such as "last 10 seconds" with an unknown
	// duration.
	unresolved
)

func matchIf(ok bool) match {
	if ok {
		return stated
	}
	return noMatch
}

// extractor pulls parameters out of the lowercased message; raw keeps the
// original casing for free text.
type extractor func(msg, raw string, c model.Context) (model.Params, match)

type rule struct {
	kind     model.ActionKind
	keywords *regexp.Regexp
	unless   *regexp.Regexp
	defaults model.Params
	extract  extractor
}

func words(ws ...string) *regexp.Regexp {
	return regexp.MustCompile(`\b(` + strings.Join(ws, "|") + `)\b`)
}

// Rules are checked in order; the first match wins. Background comes before
// filter so "blur the background" replaces it, and audio comes before
// transition so "fade out the music" is an audio fade.
var rules = []rule{
	{
		kind:     model.ActionTrim,
		keywords: words("trim", "cut", "shorten", "shorter"),
		defaults: model.Params{"startTime": 0, "duration": 30},
		extract:  extractTrim,
	},
	{
		kind:     model.ActionCrop,
		keywords: words("crop", "reframe"),
		defaults: model.Params{"x": 0, "y": 0, "width": 1280, "height": 720},
		extract:  extractCrop,
	},
	{
		kind:     model.ActionBackground,
		keywords: words("background", "backdrop", "green screen", "greenscreen", "chroma"),
		unless:   words("noise", "hum", "audio", "sound", "music"),
		defaults: model.Params{"action": "remove"},
		extract:  extractBackground,
	},
	{
		kind:     model.ActionFilter,
		keywords: words("filter", "effect", "blur", "blurry", "sharpen", "sharper", "grayscale", "greyscale", "black and white", "sepia", "vintage", "retro", "vignette", "grain", "grainy"),
		defaults: model.Params{"filterType": "blur"},
		extract:  extractFilter,
	},
	{
		kind:     model.ActionColor,
		keywords: words("colou?r", "colou?rs", "brightness", "brighter", "brighten", "darker", "darken", "contrast", "saturation", "saturate", "vivid", "gamma", "hue", "warmer", "cooler"),
		defaults: model.Params{"saturation": 1.2},
		extract:  extractColor,
	},
	{
		kind:     model.ActionAudio,
		keywords: words("audio", "sound", "music", "volume", "noise", "denoise", "louder", "quieter", "mute", "normali[sz]e", "voice"),
		defaults: model.Params{"operation": "enhance"},
		extract:  extractAudio,
	},
	{
		kind:     model.ActionText,
		keywords: words("text", "caption", "captions", "title", "subtitle", "label", "write"),
		extract:  extractText,
	},
	{
		kind:     model.ActionTransition,
		keywords: words("transition", "fade", "dissolve", "wipe", "slide"),
		defaults: model.Params{"type": "fade", "duration": 1},
		extract:  extractTransition,
	},
	{
		kind:     model.ActionAnalyze,
		keywords: words("analy[sz]e", "analysis", "describe", "inspect", "summari[sz]e"),
		defaults: model.Params{},
	},
	{
		kind:     model.ActionExport,
		keywords: words("export", "download", "save as", "convert"),
		defaults: model.Params{"format": "mp4"},
		extract:  extractExport,
	},
}

// Fallback maps message onto an intent with the keyword table. It is used
// whenever the language model cannot be consulted. Every intent it returns
// has Fallback set and confidence at most 0.7.
func Fallback(message string, c model.Context) model.Intent {
	msg := strings.ToLower(strings.TrimSpace(message))
	for _, r := range rules {
		if !r.keywords.MatchString(msg) || (r.unless != nil && r.unless.MatchString(msg)) {
			continue
		}
		var params model.Params
		if r.defaults != nil {
			params = r.defaults.Clone()
		}
		conf := defaultConfidence
		if r.extract != nil {
			extracted, how := r.extract(msg, message, c)
			switch {
			case how == unresolved:
				return askDetails(r.kind)
			case how == noMatch || len(extracted) == 0:
			case model.Validate(r.kind, extracted) != nil:
				// Values the user stated are never swapped for defaults.
				return askDetails(r.kind)
			default:
				params = extracted
				if how == stated {
					conf = extractedConfidence
				}
			}
		}
		if params == nil {
			// No defaults make sense for this kind; ask instead of guessing.
			return askDetails(r.kind)
		}
		return model.Intent{
			Action:           r.kind,
			Parameters:       params,
			Confidence:       conf,
			Explanation:      fmt.Sprintf("Matched %q to %s using keywords.", message, r.kind),
			SuggestedActions: []string{string(r.kind)},
			Fallback:         true,
		}
	}
	in := model.ChatIntent(unmatchedConfidence, "No edit keyword found in the request.")
	in.Fallback = true
	in.SuggestedActions = []string{string(model.ActionTrim), string(model.ActionFilter), string(model.ActionColor)}
	return in
}

func askDetails(kind model.ActionKind) model.Intent {
	in := model.ChatIntent(unmatchedConfidence, fmt.Sprintf("It sounds like a %s edit, but some details are missing.", kind))
	in.SuggestedActions = []string{string(kind)}
	in.Fallback = true
	return in
}

const numberPattern = `(\d+(?:\.\d+)?)`
const timePattern = `(\d+:\d{1,2}(?::\d{1,2})?|\d+(?:\.\d+)?)\s*(s|secs?|seconds?|m|mins?|minutes?)?`

var (
	firstRe    = regexp.MustCompile(`first\s+` + numberPattern + `\s*(s|secs?|seconds?|m|mins?|minutes?)?\b`)
	lastRe     = regexp.MustCompile(`last\s+` + numberPattern + `\s*(s|secs?|seconds?|m|mins?|minutes?)?\b`)
	rangeRe    = regexp.MustCompile(`(?:from|between)\s+` + timePattern + `\s+(?:to|and|until|-)\s+` + timePattern)
	lengthRe   = regexp.MustCompile(numberPattern + `\s*(s|secs?|seconds?|m|mins?|minutes?)\b`)
	sizeRe     = regexp.MustCompile(`(\d+)\s*[x×]\s*(\d+)`)
	percentRe  = regexp.MustCompile(numberPattern + `\s*%`)
	quotedRe   = regexp.MustCompile(`"([^"]+)"|“([^”]+)”|'([^']+)'`)
	sayingRe   = regexp.MustCompile(`(?i)(?:saying|that says|reading|with the words)\s+(.+)$`)
	durationRe = regexp.MustCompile(`(?:over|for|of)\s+` + numberPattern + `\s*(s|secs?|seconds?)\b`)
)

func extractTrim(msg, _ string, c model.Context) (model.Params, match) {
	if m := firstRe.FindStringSubmatch(msg); m != nil {
		return model.Params{"startTime": 0.0, "duration": toSeconds(m[1], m[2])}, stated
	}
	if m := lastRe.FindStringSubmatch(msg); m != nil {
		if c.DurationSec <= 0 {
			return nil, unresolved
		}
		n := toSeconds(m[1], m[2])
		return model.Params{"startTime": math.Max(c.DurationSec-n, 0), "duration": math.Min(n, c.DurationSec)}, stated
	}
	if m := rangeRe.FindStringSubmatch(msg); m != nil {
		start, end := toSeconds(m[1], m[2]), toSeconds(m[3], m[4])
		return model.Params{"startTime": start, "endTime": end}, stated
	}
	if m := lengthRe.FindStringSubmatch(msg); m != nil {
		return model.Params{"startTime": 0.0, "duration": toSeconds(m[1], m[2])}, stated
	}
	return nil, noMatch
}

func extractCrop(msg, _ string, c model.Context) (model.Params, match) {
	if m := sizeRe.FindStringSubmatch(msg); m != nil {
		w, _ := strconv.Atoi(m[1])
		h, _ := strconv.Atoi(m[2])
		return model.Params{"x": 0, "y": 0, "width": w, "height": h}, stated
	}
	if strings.Contains(msg, "square") && c.Width > 0 && c.Height > 0 {
		side := c.Width
		if c.Height < side {
			side = c.Height
		}
		return model.Params{"x": (c.Width - side) / 2, "y": (c.Height - side) / 2, "width": side, "height": side}, stated
	}
	if c.Width > 0 && c.Height > 0 {
		w, h := c.Width*8/10, c.Height*8/10
		return model.Params{"x": (c.Width - w) / 2, "y": (c.Height - h) / 2, "width": w, "height": h}, derived
	}
	return nil, noMatch
}

var filterWords = []struct {
	word, filter string
}{
	{"blur", "blur"},
	{"sharp", "sharpen"},
	{"grayscale", "grayscale"},
	{"greyscale", "grayscale"},
	{"black and white", "grayscale"},
	{"sepia", "sepia"},
	{"vintage", "vintage"},
	{"retro", "vintage"},
	{"vignette", "vignette"},
	{"grain", "noise"},
	{"noise", "noise"},
}

func extractFilter(msg, _ string, _ model.Context) (model.Params, match) {
	for _, fw := range filterWords {
		if strings.Contains(msg, fw.word) {
			p := model.Params{"filterType": fw.filter}
			if m := percentRe.FindStringSubmatch(msg); m != nil {
				if v, err := strconv.ParseFloat(m[1], 64); err == nil {
					p["intensity"] = math.Min(v/100, 1)
				}
			}
			return p, stated
		}
	}
	return nil, noMatch
}

func extractColor(msg, _ string, _ model.Context) (model.Params, match) {
	p := model.Params{}
	switch {
	case strings.Contains(msg, "brighter"), strings.Contains(msg, "brighten"):
		p["brightness"] = 0.15
	case strings.Contains(msg, "darker"), strings.Contains(msg, "darken"):
		p["brightness"] = -0.15
	}
	if strings.Contains(msg, "contrast") {
		if strings.Contains(msg, "less") || strings.Contains(msg, "lower") || strings.Contains(msg, "reduce") {
			p["contrast"] = 0.8
		} else {
			p["contrast"] = 1.3
		}
	}
	if strings.Contains(msg, "saturat") || strings.Contains(msg, "vivid") {
		if strings.Contains(msg, "less") || strings.Contains(msg, "desaturate") {
			p["saturation"] = 0.7
		} else {
			p["saturation"] = 1.4
		}
	}
	if strings.Contains(msg, "warmer") {
		p["hue"] = -10.0
	} else if strings.Contains(msg, "cooler") {
		p["hue"] = 10.0
	}
	return p, matchIf(len(p) > 0)
}

func extractAudio(msg, _ string, _ model.Context) (model.Params, match) {
	switch {
	case strings.Contains(msg, "mute"):
		return model.Params{"operation": "volume", "level": 0.0}, stated
	case strings.Contains(msg, "noise"):
		return model.Params{"operation": "denoise"}, stated
	case strings.Contains(msg, "normali"):
		return model.Params{"operation": "normalize"}, stated
	case strings.Contains(msg, "fade"):
		p := model.Params{"operation": "fade", "fadeType": "in"}
		if strings.Contains(msg, "fade out") || strings.Contains(msg, "fade-out") || strings.Contains(msg, "fading out") {
			p["fadeType"] = "out"
		}
		if m := durationRe.FindStringSubmatch(msg); m != nil {
			p["fadeDuration"] = toSeconds(m[1], m[2])
		}
		return p, stated
	}
	if m := percentRe.FindStringSubmatch(msg); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			return model.Params{"operation": "volume", "level": math.Min(v/100, 4)}, stated
		}
	}
	switch {
	case strings.Contains(msg, "louder"), strings.Contains(msg, "volume up"), strings.Contains(msg, "increase"):
		return model.Params{"operation": "volume", "level": 1.5}, stated
	case strings.Contains(msg, "quieter"), strings.Contains(msg, "volume down"), strings.Contains(msg, "lower"), strings.Contains(msg, "reduce"):
		return model.Params{"operation": "volume", "level": 0.5}, stated
	}
	return nil, noMatch
}

func extractText(msg, raw string, _ model.Context) (model.Params, match) {
	var text string
	if m := quotedRe.FindStringSubmatch(raw); m != nil {
		text = m[1] + m[2] + m[3]
	} else if m := sayingRe.FindStringSubmatch(raw); m != nil {
		text = m[1]
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, noMatch
	}
	p := model.Params{"text": text}
	if m := durationRe.FindStringSubmatch(msg); m != nil {
		p["duration"] = toSeconds(m[1], m[2])
	}
	return p, stated
}

func extractTransition(msg, _ string, _ model.Context) (model.Params, match) {
	p := model.Params{"type": "fade"}
	for _, t := range []string{"dissolve", "wipe", "slide"} {
		if strings.Contains(msg, t) {
			p["type"] = t
		}
	}
	switch {
	case strings.Contains(msg, "both"), strings.Contains(msg, "start and end"), strings.Contains(msg, "beginning and end"):
		p["position"] = "both"
	case strings.Contains(msg, "end"), strings.Contains(msg, "fade out"), strings.Contains(msg, "outro"):
		p["position"] = "end"
	default:
		p["position"] = "start"
	}
	if m := lengthRe.FindStringSubmatch(msg); m != nil {
		p["duration"] = toSeconds(m[1], m[2])
	} else {
		p["duration"] = 1.0
	}
	return p, stated
}

var colorNames = []string{"black", "white", "red", "green", "blue", "yellow", "gray", "grey", "purple", "orange", "pink"}

func extractBackground(msg, _ string, _ model.Context) (model.Params, match) {
	if !strings.Contains(msg, "replace") && !strings.Contains(msg, "change") && !strings.Contains(msg, "blur") && !strings.Contains(msg, "make") {
		return model.Params{"action": "remove"}, stated
	}
	if strings.Contains(msg, "blur") {
		return model.Params{"action": "replace", "backgroundType": "blur"}, stated
	}
	for _, name := range colorNames {
		if strings.Contains(msg, name) {
			return model.Params{"action": "replace", "backgroundType": "color", "color": name}, stated
		}
	}
	return nil, noMatch
}

func extractExport(msg, _ string, _ model.Context) (model.Params, match) {
	p := model.Params{}
	for _, f := range []string{"mp4", "webm", "mov", "gif"} {
		if strings.Contains(msg, f) {
			p["format"] = f
			break
		}
	}
	switch {
	case strings.Contains(msg, "high quality"), strings.Contains(msg, "best"), strings.Contains(msg, "hq"):
		p["quality"] = "high"
	case strings.Contains(msg, "low quality"), strings.Contains(msg, "small"):
		p["quality"] = "low"
	}
	return p, matchIf(len(p) > 0)
}

// toSeconds converts "90", "1:30", "1:02:03" or "2" with a minute unit.
func toSeconds(value, unit string) float64 {
	if strings.Contains(value, ":") {
		parts := strings.Split(value, ":")
		total := 0.0
		for _, part := range parts {
			n, _ := strconv.ParseFloat(part, 64)
			total = total*60 + n
		}
		return total
	}
	n, _ := strconv.ParseFloat(value, 64)
	if strings.HasPrefix(unit, "m") {
		return n * 60
	}
	return n
}
