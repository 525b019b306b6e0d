package audio

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

// probeStreams mirrors the ffprobe -show_streams / -show_format JSON shape
// for the fields we read. All numeric fields arrive as strings.
type probeOutput struct {
	Streams []probeStream `json:"streams"`
	Format  *probeFormat  `json:"format"`
	Packets []probePacket `json:"packets"`
}

type probeStream struct {
	CodecType  string `json:"codec_type"`
	SampleRate string `json:"sample_rate"`
	StartTime  string `json:"start_time"`
	TimeBase   string `json:"time_base"`
}

type probeFormat struct {
	StartTime string `json:"start_time"`
	Duration  string `json:"duration"`
}

type probePacket struct {
	DTSTime string `json:"dts_time"`
	PTSTime string `json:"pts_time"`
}

// StartTime returns the recording start offset of the first audio stream in
// input, in seconds.
//
// The source priority is a hard contract: stream-level start_time first, then
// container-level start_time, then the DTS of the first packet. Stream
// start_time is roughly 200 ms more accurate than timestamps recovered from
// filenames or container headers, so it must win when present. A source with
// none of the three is reported as starting at zero (no padding needed).
func (f *FFmpeg) StartTime(ctx context.Context, input string) (float64, error) {
	out, err := f.run(ctx, f.ffprobePath,
		"-v", "error",
		"-select_streams", "a:0",
		"-show_streams",
		"-show_format",
		"-print_format", "json",
		input,
	)
	if err != nil {
		return 0, fmt.Errorf("audio: probe start time: %w", err)
	}

	var probe probeOutput
	if err := json.Unmarshal(out, &probe); err != nil {
		return 0, fmt.Errorf("audio: probe start time: decode: %w", err)
	}

	for _, s := range probe.Streams {
		if s.CodecType != "audio" {
			continue
		}
		if v, ok := parseProbeFloat(s.StartTime); ok {
			return v, nil
		}
		break
	}
	if probe.Format != nil {
		if v, ok := parseProbeFloat(probe.Format.StartTime); ok {
			return v, nil
		}
	}
	return f.firstPacketDTS(ctx, input)
}

// firstPacketDTS reads the first audio packet and returns its DTS (falling
// back to PTS) in seconds, or zero when no packet is decodable.
func (f *FFmpeg) firstPacketDTS(ctx context.Context, input string) (float64, error) {
	out, err := f.run(ctx, f.ffprobePath,
		"-v", "error",
		"-select_streams", "a:0",
		"-show_packets",
		"-read_intervals", "%+#1",
		"-print_format", "json",
		input,
	)
	if err != nil {
		return 0, fmt.Errorf("audio: probe first packet: %w", err)
	}

	var probe probeOutput
	if err := json.Unmarshal(out, &probe); err != nil {
		return 0, fmt.Errorf("audio: probe first packet: decode: %w", err)
	}
	if len(probe.Packets) == 0 {
		return 0, nil
	}
	if v, ok := parseProbeFloat(probe.Packets[0].DTSTime); ok {
		return v, nil
	}
	if v, ok := parseProbeFloat(probe.Packets[0].PTSTime); ok {
		return v, nil
	}
	return 0, nil
}

// SampleRate returns the sample rate of the first audio stream of input.
func (f *FFmpeg) SampleRate(ctx context.Context, input string) (int, error) {
	out, err := f.run(ctx, f.ffprobePath,
		"-v", "error",
		"-select_streams", "a:0",
		"-show_streams",
		"-print_format", "json",
		input,
	)
	if err != nil {
		return 0, fmt.Errorf("audio: probe sample rate: %w", err)
	}

	var probe probeOutput
	if err := json.Unmarshal(out, &probe); err != nil {
		return 0, fmt.Errorf("audio: probe sample rate: decode: %w", err)
	}
	for _, s := range probe.Streams {
		if s.CodecType != "audio" {
			continue
		}
		rate, err := strconv.Atoi(s.SampleRate)
		if err != nil || rate <= 0 {
			return 0, fmt.Errorf("audio: probe sample rate: no decodable audio stream in %s", input)
		}
		return rate, nil
	}
	return 0, fmt.Errorf("audio: probe sample rate: no audio stream in %s", input)
}

// Duration returns the container duration of input in seconds.
func (f *FFmpeg) Duration(ctx context.Context, input string) (float64, error) {
	out, err := f.run(ctx, f.ffprobePath,
		"-v", "error",
		"-show_format",
		"-print_format", "json",
		input,
	)
	if err != nil {
		return 0, fmt.Errorf("audio: probe duration: %w", err)
	}

	var probe probeOutput
	if err := json.Unmarshal(out, &probe); err != nil {
		return 0, fmt.Errorf("audio: probe duration: decode: %w", err)
	}
	if probe.Format == nil {
		return 0, fmt.Errorf("audio: probe duration: no format section for %s", input)
	}
	v, ok := parseProbeFloat(probe.Format.Duration)
	if !ok {
		return 0, fmt.Errorf("audio: probe duration: missing duration for %s", input)
	}
	return v, nil
}

// parseProbeFloat parses an ffprobe numeric string. ffprobe emits "N/A" for
// unknown values; that and empty strings report not-ok rather than an error.
func parseProbeFloat(s string) (float64, bool) {
	if s == "" || s == "N/A" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
