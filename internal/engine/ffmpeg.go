package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"chatedit/server/internal/model"
)

type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func defaultCommandRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	return cmd.CombinedOutput()
}

// FFmpeg runs transformations with the ffmpeg binary and probes sources with
// ffprobe.
type FFmpeg struct {
	ffmpegBinary  string
	ffprobeBinary string
	log           *slog.Logger
	run           commandRunner
}

func NewFFmpeg(ffmpegBinary, ffprobeBinary string, logger *slog.Logger) *FFmpeg {
	if strings.TrimSpace(ffmpegBinary) == "" {
		ffmpegBinary = "ffmpeg"
	}
	if strings.TrimSpace(ffprobeBinary) == "" {
		ffprobeBinary = "ffprobe"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpeg{ffmpegBinary: ffmpegBinary, ffprobeBinary: ffprobeBinary, log: logger, run: defaultCommandRunner}
}

// WithCommandRunner allows injecting a custom command runner for tests.
func (f *FFmpeg) WithCommandRunner(r commandRunner) {
	if f != nil && r != nil {
		f.run = r
	}
}

func (f *FFmpeg) Run(ctx context.Context, req Request) (Output, error) {
	if _, err := os.Stat(req.SourcePath); err != nil {
		return Output{}, &ToolchainError{Tool: "ffmpeg", Err: err, Detail: "source artifact not found"}
	}
	if needsDuration(req) && req.SourceDuration <= 0 {
		info, err := f.Probe(ctx, req.SourcePath)
		if err != nil {
			return Output{}, err
		}
		req.SourceDuration = info.DurationSec
	}
	cleanup := func() {}
	if req.Operation == model.ActionText {
		textFile := req.OutputPath + ".txt"
		if err := os.WriteFile(textFile, []byte(req.Params.StringOr("text", "")), 0o600); err != nil {
			return Output{}, &ToolchainError{Tool: "ffmpeg", Err: err, Detail: "write overlay text"}
		}
		req.Params = req.Params.Clone()
		req.Params["textFile"] = textFile
		cleanup = func() { _ = os.Remove(textFile) }
	}
	defer cleanup()

	args, err := buildArgs(req)
	if err != nil {
		return Output{}, &ToolchainError{Tool: "ffmpeg", Err: err, Detail: err.Error()}
	}
	f.log.Debug("executing ffmpeg", "operation", req.Operation, "args", strings.Join(args, " "))
	if output, err := f.run(ctx, f.ffmpegBinary, args...); err != nil {
		_ = os.Remove(req.OutputPath)
		return Output{}, &ToolchainError{Tool: "ffmpeg", Err: err, Detail: lastLine(output)}
	}
	meta := map[string]any{"toolchain": "ffmpeg"}
	if st, err := os.Stat(req.OutputPath); err == nil {
		meta["size_bytes"] = st.Size()
	}
	return Output{OutputPath: req.OutputPath, Metadata: meta}, nil
}

type probeResult struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe reads duration and the first video stream's dimensions.
func (f *FFmpeg) Probe(ctx context.Context, path string) (MediaInfo, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return MediaInfo{}, &ToolchainError{Tool: "ffprobe", Err: errors.New("empty path")}
	}
	output, err := f.run(ctx, f.ffprobeBinary, "-v", "error", "-hide_banner", "-show_format", "-show_streams", "-of", "json", "--", path)
	if err != nil {
		return MediaInfo{}, &ToolchainError{Tool: "ffprobe", Err: err, Detail: lastLine(output)}
	}
	var res probeResult
	if err := json.Unmarshal(output, &res); err != nil {
		return MediaInfo{}, &ToolchainError{Tool: "ffprobe", Err: fmt.Errorf("parse output: %w", err)}
	}
	info := MediaInfo{}
	if d, err := strconv.ParseFloat(strings.TrimSpace(res.Format.Duration), 64); err == nil {
		info.DurationSec = d
	}
	for _, s := range res.Streams {
		if strings.EqualFold(s.CodecType, "video") {
			info.Width, info.Height = s.Width, s.Height
			break
		}
	}
	return info, nil
}

func needsDuration(req Request) bool {
	if req.Operation != model.ActionTransition {
		return false
	}
	pos := req.Params.StringOr("position", "start")
	return pos == "end" || pos == "both"
}

func buildArgs(req Request) ([]string, error) {
	args := []string{"-y", "-hide_banner", "-loglevel", "error"}
	p := req.Params
	switch req.Operation {
	case model.ActionTrim:
		args = append(args,
			"-ss", seconds(p.FloatOr("startTime", 0)),
			"-i", req.SourcePath,
			"-t", seconds(p.FloatOr("duration", 0)),
			"-c", "copy",
		)
	case model.ActionCrop:
		vf := fmt.Sprintf("crop=%d:%d:%d:%d",
			int(p.FloatOr("width", 0)), int(p.FloatOr("height", 0)), int(p.FloatOr("x", 0)), int(p.FloatOr("y", 0)))
		args = append(args, "-i", req.SourcePath, "-vf", vf, "-c:a", "copy")
	case model.ActionFilter:
		vf, err := filterGraph(p.StringOr("filterType", "blur"), p.FloatOr("intensity", 0.5))
		if err != nil {
			return nil, err
		}
		args = append(args, "-i", req.SourcePath, "-vf", vf, "-c:a", "copy")
	case model.ActionColor:
		args = append(args, "-i", req.SourcePath, "-vf", colorGraph(p), "-c:a", "copy")
	case model.ActionAudio:
		af, err := audioGraph(p)
		if err != nil {
			return nil, err
		}
		args = append(args, "-i", req.SourcePath, "-af", af, "-c:v", "copy")
	case model.ActionText:
		args = append(args, "-i", req.SourcePath, "-vf", textGraph(p), "-c:a", "copy")
	case model.ActionTransition:
		graph, err := transitionGraph(p, req.SourceDuration)
		if err != nil {
			return nil, err
		}
		args = append(args, "-i", req.SourcePath, "-vf", graph, "-c:a", "copy")
	case model.ActionBackground:
		inputs, graph, err := backgroundGraph(p)
		if err != nil {
			return nil, err
		}
		args = append(args, "-i", req.SourcePath)
		args = append(args, inputs...)
		args = append(args, "-filter_complex", graph, "-map", "[out]", "-map", "0:a?", "-c:a", "copy")
	case model.ActionExport:
		codec, err := exportCodec(p.StringOr("format", "mp4"), p.StringOr("quality", "medium"))
		if err != nil {
			return nil, err
		}
		args = append(args, "-i", req.SourcePath)
		args = append(args, codec...)
	default:
		return nil, fmt.Errorf("no ffmpeg mapping for %s", req.Operation)
	}
	return append(args, req.OutputPath), nil
}

func filterGraph(kind string, intensity float64) (string, error) {
	switch kind {
	case "blur":
		return fmt.Sprintf("boxblur=luma_radius=%d:luma_power=1", 1+int(intensity*9)), nil
	case "sharpen":
		return fmt.Sprintf("unsharp=5:5:%s", num(intensity*2.5)), nil
	case "grayscale":
		return "hue=s=0", nil
	case "sepia":
		return "colorchannelmixer=.393:.769:.189:0:.349:.686:.168:0:.272:.534:.131", nil
	case "vintage":
		return "curves=preset=vintage", nil
	case "vignette":
		return fmt.Sprintf("vignette=angle=%s", num(0.2+intensity*0.6)), nil
	case "noise":
		return fmt.Sprintf("noise=alls=%d:allf=t", int(intensity*50)), nil
	}
	return "", fmt.Errorf("unknown filter %q", kind)
}

func colorGraph(p model.Params) string {
	graph := fmt.Sprintf("eq=brightness=%s:contrast=%s:saturation=%s:gamma=%s",
		num(p.FloatOr("brightness", 0)), num(p.FloatOr("contrast", 1)),
		num(p.FloatOr("saturation", 1)), num(p.FloatOr("gamma", 1)))
	if hue := p.FloatOr("hue", 0); hue != 0 {
		graph += ",hue=h=" + num(hue)
	}
	return graph
}

func audioGraph(p model.Params) (string, error) {
	switch op := p.StringOr("operation", "enhance"); op {
	case "enhance":
		return "highpass=f=80,lowpass=f=12000,acompressor", nil
	case "denoise":
		return "afftdn", nil
	case "normalize":
		return "loudnorm", nil
	case "volume":
		return "volume=" + num(p.FloatOr("level", 1)), nil
	case "fade":
		d := num(p.FloatOr("fadeDuration", 2))
		if p.StringOr("fadeType", "in") == "out" {
			return "areverse,afade=t=in:d=" + d + ",areverse", nil
		}
		return "afade=t=in:st=0:d=" + d, nil
	default:
		return "", fmt.Errorf("unknown audio operation %q", op)
	}
}

func textGraph(p model.Params) string {
	graph := fmt.Sprintf("drawtext=textfile='%s':x=%d:y=%d:fontsize=%d:fontcolor=%s",
		escapeQuoted(p.StringOr("textFile", "")), int(p.FloatOr("x", 40)), int(p.FloatOr("y", 40)),
		int(p.FloatOr("fontSize", 48)), p.StringOr("color", "white"))
	if d := p.FloatOr("duration", 0); d > 0 {
		start := p.FloatOr("startTime", 0)
		graph += fmt.Sprintf(":enable='between(t,%s,%s)'", num(start), num(start+d))
	}
	return graph
}

func transitionGraph(p model.Params, total float64) (string, error) {
	d := p.FloatOr("duration", 1)
	typ := p.StringOr("type", "fade")
	pos := p.StringOr("position", "start")
	if (pos == "end" || pos == "both") && total <= d {
		return "", fmt.Errorf("media duration %.2fs is too short for a %.2fs transition", total, d)
	}
	var parts []string
	if pos == "start" || pos == "both" {
		g, err := transitionAt(typ, "in", 0, d)
		if err != nil {
			return "", err
		}
		parts = append(parts, g)
	}
	if pos == "end" || pos == "both" {
		g, err := transitionAt(typ, "out", total-d, d)
		if err != nil {
			return "", err
		}
		parts = append(parts, g)
	}
	return strings.Join(parts, ","), nil
}

// transitionAt renders one single-clip transition. Wipe and slide are drawn
// by sliding a black box across the frame.
func transitionAt(typ, dir string, start, d float64) (string, error) {
	st, dur := num(start), num(d)
	switch typ {
	case "fade":
		return fmt.Sprintf("fade=t=%s:st=%s:d=%s", dir, st, dur), nil
	case "dissolve":
		return fmt.Sprintf("fade=t=%s:st=%s:d=%s:c=white", dir, st, dur), nil
	case "wipe":
		progress := fmt.Sprintf("(t-%s)/%s", st, dur)
		if dir == "in" {
			return fmt.Sprintf("drawbox=x='iw*%s':y=0:w=iw:h=ih:color=black:t=fill:enable='between(t,%s,%s)'",
				progress, st, num(start+d)), nil
		}
		return fmt.Sprintf("drawbox=x=0:y=0:w='iw*%s':h=ih:color=black:t=fill:enable='gte(t,%s)'",
			progress, st), nil
	case "slide":
		progress := fmt.Sprintf("(t-%s)/%s", st, dur)
		if dir == "in" {
			return fmt.Sprintf("drawbox=x=0:y='ih*%s':w=iw:h=ih:color=black:t=fill:enable='between(t,%s,%s)'",
				progress, st, num(start+d)), nil
		}
		return fmt.Sprintf("drawbox=x=0:y=0:w=iw:h='ih*%s':color=black:t=fill:enable='gte(t,%s)'",
			progress, st), nil
	}
	return "", fmt.Errorf("unknown transition %q", typ)
}

func backgroundGraph(p model.Params) ([]string, string, error) {
	key := fmt.Sprintf("chromakey=%s:0.15:0.05", p.StringOr("keyColor", "0x00FF00"))
	action := p.StringOr("action", "remove")
	bgType := p.StringOr("backgroundType", "color")
	if action == "remove" {
		bgType = "color"
	}
	switch bgType {
	case "color":
		color := p.StringOr("color", "black")
		if action == "remove" {
			color = "black"
		}
		inputs := []string{"-f", "lavfi", "-i", "color=c=" + color}
		graph := "[1:v][0:v]scale2ref[bg][fg];[fg]" + key + "[k];[bg][k]overlay=shortest=1[out]"
		return inputs, graph, nil
	case "image":
		img := p.StringOr("imagePath", "")
		if img == "" {
			return nil, "", errors.New("background image path is required")
		}
		inputs := []string{"-loop", "1", "-i", img}
		graph := "[1:v][0:v]scale2ref[bg][fg];[fg]" + key + "[k];[bg][k]overlay=shortest=1[out]"
		return inputs, graph, nil
	case "blur":
		graph := "[0:v]split[a][b];[a]boxblur=20[bg];[b]" + key + "[k];[bg][k]overlay[out]"
		return nil, graph, nil
	}
	return nil, "", fmt.Errorf("unknown background type %q", bgType)
}

func exportCodec(format, quality string) ([]string, error) {
	crf := map[string]string{"low": "32", "medium": "23", "high": "18"}
	vp9 := map[string]string{"low": "40", "medium": "32", "high": "24"}
	if _, ok := crf[quality]; !ok {
		return nil, fmt.Errorf("unknown quality %q", quality)
	}
	switch format {
	case "mp4":
		return []string{"-c:v", "libx264", "-preset", "medium", "-crf", crf[quality], "-c:a", "aac", "-movflags", "+faststart"}, nil
	case "mov":
		return []string{"-c:v", "libx264", "-crf", crf[quality], "-c:a", "aac", "-f", "mov"}, nil
	case "webm":
		return []string{"-c:v", "libvpx-vp9", "-b:v", "0", "-crf", vp9[quality], "-c:a", "libopus"}, nil
	case "gif":
		return []string{"-vf", "fps=12,scale=480:-1:flags=lanczos", "-an"}, nil
	}
	return nil, fmt.Errorf("unknown export format %q", format)
}

func seconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func escapeQuoted(s string) string {
	return strings.ReplaceAll(s, "'", `'\''`)
}

func lastLine(output []byte) string {
	text := strings.TrimSpace(string(output))
	if text == "" {
		return ""
	}
	lines := strings.Split(text, "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
