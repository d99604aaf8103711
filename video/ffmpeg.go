package video

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// FFmpegExtractor decodes videos by shelling out to ffmpeg/ffprobe and
// reading raw RGB24 frames from a pipe. Nothing is written to disk.
type FFmpegExtractor struct {
	TargetRate float64 // frames per second to sample
	MaxFrames  int     // hard cap on extracted frames
}

// NewFFmpegExtractor builds an extractor with the given sampling caps.
func NewFFmpegExtractor(targetRate float64, maxFrames int) *FFmpegExtractor {
	if targetRate <= 0 {
		targetRate = 1.0
	}
	if maxFrames <= 0 {
		maxFrames = 300
	}
	return &FFmpegExtractor{TargetRate: targetRate, MaxFrames: maxFrames}
}

// CheckFFmpegAvailable verifies that ffmpeg and ffprobe are on PATH.
func CheckFFmpegAvailable() error {
	for _, tool := range []string{"ffmpeg", "ffprobe"} {
		if _, err := exec.LookPath(tool); err != nil {
			return fmt.Errorf("%s not found in PATH: %w", tool, err)
		}
	}
	return nil
}

type probeStream struct {
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	RFrameRate string `json:"r_frame_rate"`
	NBFrames   string `json:"nb_frames"`
	Duration   string `json:"duration"`
}

type probeFormat struct {
	Duration string `json:"duration"`
}

type probeOutput struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

// ExtractFrames samples frames from the video at the configured rate,
// resized to targetSize x targetSize RGB and normalized to [0,1].
func (e *FFmpegExtractor) ExtractFrames(ctx context.Context, path string, targetSize int) (*Extraction, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("video file not found: %w", err)
	}
	if targetSize <= 0 {
		return nil, fmt.Errorf("invalid target size: %d", targetSize)
	}

	meta, err := e.probe(ctx, path)
	if err != nil {
		return nil, err
	}

	budget := frameBudget(meta.Duration, e.TargetRate, e.MaxFrames)

	// One rawvideo frame is targetSize*targetSize*3 bytes (RGB24).
	filter := fmt.Sprintf("fps=%g,scale=%d:%d", e.TargetRate, targetSize, targetSize)
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-hide_banner", "-loglevel", "error",
		"-i", path,
		"-vf", filter,
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"pipe:1",
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open ffmpeg pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	frameBytes := targetSize * targetSize * 3
	buf := make([]byte, frameBytes)
	frames := make([]Frame, 0, budget)

	for len(frames) < budget {
		if _, err := io.ReadFull(stdout, buf); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
			return nil, fmt.Errorf("failed to read frame data: %w", err)
		}

		pixels := make([]float32, frameBytes)
		for i, b := range buf {
			pixels[i] = float32(b) / 255.0
		}

		index := len(frames)
		frames = append(frames, Frame{
			Index:     index,
			Timestamp: float64(index) / e.TargetRate,
			Width:     targetSize,
			Height:    targetSize,
			Pixels:    pixels,
		})
	}

	// Drain whatever ffmpeg still has buffered so Wait does not block.
	_, _ = io.Copy(io.Discard, stdout)
	if err := cmd.Wait(); err != nil && len(frames) == 0 {
		return nil, fmt.Errorf("ffmpeg failed to decode %s: %w", path, err)
	}

	if len(frames) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrNoFrames)
	}

	meta.ExtractedFrames = len(frames)
	meta.ExtractionRate = e.TargetRate
	meta.FrameInterval = frameInterval(meta.OriginalFPS, e.TargetRate)

	return &Extraction{Frames: frames, Meta: meta}, nil
}

func (e *FFmpegExtractor) probe(ctx context.Context, path string) (Metadata, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate,nb_frames,duration",
		"-show_entries", "format=duration",
		"-of", "json",
		path,
	)

	raw, err := cmd.Output()
	if err != nil {
		return Metadata{}, fmt.Errorf("ffprobe failed to open %s: %w", path, err)
	}

	var probed probeOutput
	if err := json.Unmarshal(raw, &probed); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	if len(probed.Streams) == 0 {
		return Metadata{}, fmt.Errorf("%s has no video stream", path)
	}

	stream := probed.Streams[0]
	fps := parseFrameRate(stream.RFrameRate)

	duration, _ := strconv.ParseFloat(stream.Duration, 64)
	if duration == 0 {
		duration, _ = strconv.ParseFloat(probed.Format.Duration, 64)
	}

	totalFrames, _ := strconv.Atoi(stream.NBFrames)
	if totalFrames == 0 && fps > 0 {
		totalFrames = int(duration * fps)
	}

	return Metadata{
		OriginalFPS: fps,
		TotalFrames: totalFrames,
		Duration:    duration,
		Width:       stream.Width,
		Height:      stream.Height,
	}, nil
}

// parseFrameRate converts ffprobe's rational "num/den" rate into a float.
func parseFrameRate(raw string) float64 {
	parts := strings.SplitN(raw, "/", 2)
	if len(parts) == 2 {
		num, errN := strconv.ParseFloat(parts[0], 64)
		den, errD := strconv.ParseFloat(parts[1], 64)
		if errN == nil && errD == nil && den != 0 {
			return num / den
		}
		return 0
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return value
}
