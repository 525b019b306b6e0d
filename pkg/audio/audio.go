// Package audio is the thin binding over ffmpeg/ffprobe used by the
// multitrack pipeline: demux probing, padding tracks with leading silence,
// and mixing padded tracks down to a single file.
//
// All operations shell out to the ffmpeg binaries rather than linking a
// filter-graph library; the compose rules (abuffer → aresample → adelay →
// sink for padding, abuffer[i] → amix → aformat → sink for mixdown) are
// expressed as filter strings. Inputs may be local paths or presigned HTTP
// URLs — ffmpeg reads both, and reconnect options are set for the latter.
//
// A [Runner] seam allows tests to intercept command execution.
package audio

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Defaults for binary locations and execution limits.
const (
	DefaultFFmpegPath  = "ffmpeg"
	DefaultFFprobePath = "ffprobe"
	DefaultTimeout     = 5 * time.Minute
)

// Padded-track encoding parameters. 48 kHz stereo Opus at 64 kbps matches
// what the recording platform emits, so padding never degrades the source.
const (
	paddedSampleRate = 48000
	paddedBitrate    = "64k"
)

// mixdownBitrate is the MP3 bitrate of the final mixdown.
const mixdownBitrate = "192k"

// Runner executes an external command and returns its stdout. Implementations
// must honour ctx cancellation. The production runner is [ExecRunner].
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands via os/exec, capturing stderr into the error.
type ExecRunner struct{}

// Run implements [Runner].
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", name, err, lastLine(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// lastLine returns the final non-empty line of s — with ffmpeg that is
// almost always the actual failure reason.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}

// FFmpeg wraps the ffmpeg and ffprobe binaries.
// The zero value is not usable; construct with [New].
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
	timeout     time.Duration
	runner      Runner
}

// Option configures an [FFmpeg].
type Option func(*FFmpeg)

// WithBinaries overrides the ffmpeg and ffprobe binary paths.
func WithBinaries(ffmpeg, ffprobe string) Option {
	return func(f *FFmpeg) {
		if ffmpeg != "" {
			f.ffmpegPath = ffmpeg
		}
		if ffprobe != "" {
			f.ffprobePath = ffprobe
		}
	}
}

// WithTimeout sets the per-invocation execution timeout.
func WithTimeout(d time.Duration) Option {
	return func(f *FFmpeg) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithRunner substitutes the command runner. Used by tests.
func WithRunner(r Runner) Option {
	return func(f *FFmpeg) { f.runner = r }
}

// New creates an FFmpeg binding with the supplied options.
func New(opts ...Option) *FFmpeg {
	f := &FFmpeg{
		ffmpegPath:  DefaultFFmpegPath,
		ffprobePath: DefaultFFprobePath,
		timeout:     DefaultTimeout,
		runner:      ExecRunner{},
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

func (f *FFmpeg) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	return f.runner.Run(ctx, name, args...)
}

// httpInputArgs returns the reconnect-on-stream options applied to every
// remote input so a dropped presigned-URL connection resumes instead of
// truncating the mixdown.
func httpInputArgs(input string) []string {
	if !strings.HasPrefix(input, "http://") && !strings.HasPrefix(input, "https://") {
		return []string{"-i", input}
	}
	return []string{
		"-reconnect", "1",
		"-reconnect_streamed", "1",
		"-reconnect_delay_max", "5",
		"-i", input,
	}
}

// PadTrack prepends delay of leading silence to the audio of input and writes
// an Opus 48 kHz stereo WebM to outPath.
//
// The filter chain is aresample=async=1 followed by adelay with all=1 so
// every channel is delayed equally; async resampling absorbs timestamp
// jitter in the source before the delay is applied.
func (f *FFmpeg) PadTrack(ctx context.Context, input, outPath string, delay time.Duration) error {
	delayMS := delay.Milliseconds()
	if delayMS <= 0 {
		return fmt.Errorf("audio: pad track: non-positive delay %v", delay)
	}
	filter := fmt.Sprintf("aresample=async=1,adelay=delays=%d:all=1", delayMS)

	args := append(httpInputArgs(input),
		"-vn",
		"-af", filter,
		"-c:a", "libopus",
		"-ar", strconv.Itoa(paddedSampleRate),
		"-ac", "2",
		"-b:a", paddedBitrate,
		"-f", "webm",
		"-y", outPath,
	)
	if _, err := f.run(ctx, f.ffmpegPath, args...); err != nil {
		return fmt.Errorf("audio: pad track: %w", err)
	}
	return nil
}

// Mixdown combines the given inputs into a single MP3 at outPath.
//
// The graph is abuffer per input → amix with normalize=0 → aformat pinning
// s16 stereo at sampleRate. normalize=0 is required: with N inputs the
// default divides each by N and the mix comes out quiet.
func (f *FFmpeg) Mixdown(ctx context.Context, inputs []string, outPath string, sampleRate int) error {
	if len(inputs) == 0 {
		return fmt.Errorf("audio: mixdown: no inputs")
	}
	if sampleRate <= 0 {
		sampleRate = paddedSampleRate
	}

	var args []string
	for _, in := range inputs {
		args = append(args, httpInputArgs(in)...)
	}

	var graph strings.Builder
	for i := range inputs {
		fmt.Fprintf(&graph, "[%d:a]", i)
	}
	fmt.Fprintf(&graph, "amix=inputs=%d:normalize=0,", len(inputs))
	fmt.Fprintf(&graph, "aformat=sample_fmts=s16:channel_layouts=stereo:sample_rates=%d[out]", sampleRate)

	args = append(args,
		"-filter_complex", graph.String(),
		"-map", "[out]",
		"-c:a", "libmp3lame",
		"-b:a", mixdownBitrate,
		"-f", "mp3",
		"-y", outPath,
	)
	if _, err := f.run(ctx, f.ffmpegPath, args...); err != nil {
		return fmt.Errorf("audio: mixdown: %w", err)
	}
	return nil
}

// ExtractPeaks decodes input to mono PCM and returns peak amplitudes in
// [0.0, 1.0], one per bucket, for waveform rendering. buckets must be > 0.
func (f *FFmpeg) ExtractPeaks(ctx context.Context, input string, buckets int) ([]float64, error) {
	if buckets <= 0 {
		return nil, fmt.Errorf("audio: extract peaks: buckets must be positive")
	}
	args := append(httpInputArgs(input),
		"-vn",
		"-ac", "1",
		"-ar", "8000",
		"-f", "s16le",
		"-",
	)
	raw, err := f.run(ctx, f.ffmpegPath, args...)
	if err != nil {
		return nil, fmt.Errorf("audio: extract peaks: %w", err)
	}
	return peaksFromPCM(raw, buckets), nil
}

// peaksFromPCM reduces little-endian s16 samples into per-bucket peaks.
func peaksFromPCM(raw []byte, buckets int) []float64 {
	samples := len(raw) / 2
	peaks := make([]float64, buckets)
	if samples == 0 {
		return peaks
	}
	per := samples / buckets
	if per == 0 {
		per = 1
	}
	for i := 0; i < samples; i++ {
		v := int16(uint16(raw[2*i]) | uint16(raw[2*i+1])<<8)
		abs := float64(v)
		if abs < 0 {
			abs = -abs
		}
		idx := i / per
		if idx >= buckets {
			idx = buckets - 1
		}
		if p := abs / 32768.0; p > peaks[idx] {
			peaks[idx] = p
		}
	}
	return peaks
}
