package respond

import "chatedit/server/internal/model"

type entry struct {
	message string
	actions []Action
	tips    []string
}

// lookup builds a fresh entry per call so callers may modify the slices.
func lookup(kind model.ActionKind) entry {
	switch kind {
	case model.ActionTrim:
		return entry{
			message: "Trimming your video.",
			actions: []Action{
				action("add fade in", "add a fade transition at the start", string(model.ActionTransition)),
				action("export", "export as mp4", string(model.ActionExport)),
			},
			tips: []string{"You can trim by range, e.g. \"cut from 0:05 to 0:20\"."},
		}
	case model.ActionCrop:
		return entry{
			message: "Cropping your video.",
			actions: []Action{
				action("make square", "crop to a square", string(model.ActionCrop)),
				action("blur background", "blur the background", string(model.ActionBackground)),
			},
			tips: []string{"Give exact sizes like \"crop to 1080x1080\"."},
		}
	case model.ActionFilter:
		return entry{
			message: "Applying the filter.",
			actions: []Action{
				action("try vintage", "apply a vintage filter", string(model.ActionFilter)),
				action("adjust colors", "increase saturation", string(model.ActionColor)),
			},
			tips: []string{"Set strength with a percentage, e.g. \"blur at 30%\"."},
		}
	case model.ActionColor:
		return entry{
			message: "Adjusting colors.",
			actions: []Action{
				action("more contrast", "increase contrast", string(model.ActionColor)),
				action("black and white", "make it black and white", string(model.ActionFilter)),
			},
			tips: []string{"Brightness, contrast, saturation, hue and gamma can be combined."},
		}
	case model.ActionAudio:
		return entry{
			message: "Processing the audio.",
			actions: []Action{
				action("remove noise", "remove background noise", string(model.ActionAudio)),
				action("fade out music", "fade out the music over 3 seconds", string(model.ActionAudio)),
			},
			tips: []string{"Volume takes percentages, e.g. \"set volume to 150%\"."},
		}
	case model.ActionText:
		return entry{
			message: "Adding the text overlay.",
			actions: []Action{
				action("add title", "add a title \"My Video\"", string(model.ActionText)),
				action("export", "export as mp4", string(model.ActionExport)),
			},
			tips: []string{"Put the text in quotes so it is used exactly."},
		}
	case model.ActionTransition:
		return entry{
			message: "Adding the transition.",
			actions: []Action{
				action("fade out at end", "add a fade transition at the end", string(model.ActionTransition)),
				action("dissolve", "add a dissolve transition", string(model.ActionTransition)),
			},
			tips: []string{"Transitions can go at the start, the end or both."},
		}
	case model.ActionBackground:
		return entry{
			message: "Working on the background.",
			actions: []Action{
				action("blur background", "blur the background", string(model.ActionBackground)),
				action("black background", "replace the background with black", string(model.ActionBackground)),
			},
			tips: []string{"Green-screen footage gives the cleanest result."},
		}
	case model.ActionExport:
		return entry{
			message: "Exporting your video.",
			actions: []Action{
				action("export gif", "export as gif", string(model.ActionExport)),
				action("high quality", "export as mp4 in high quality", string(model.ActionExport)),
			},
			tips: []string{"WebM files are smaller for the web."},
		}
	case model.ActionAnalyze:
		return entry{
			message: "Analysis isn't available yet, but I can edit the video for you.",
			actions: defaultActions(),
			tips:    []string{"Try describing the change you want to see."},
		}
	case model.ActionChat, model.ActionUnknown:
		return entry{
			message: "I can trim, crop, filter, color-correct, add text or transitions, fix audio and export. What would you like to do?",
			actions: defaultActions(),
			tips:    []string{"Short commands work best, e.g. \"trim first 10 seconds\"."},
		}
	}
	return entry{message: model.UnsupportedMessage, actions: defaultActions()}
}

func defaultActions() []Action {
	return []Action{
		action("trim", "trim the first 30 seconds", string(model.ActionTrim)),
		action("apply effect", "apply a blur effect", string(model.ActionFilter)),
		action("adjust colors", "make it brighter", string(model.ActionColor)),
	}
}
