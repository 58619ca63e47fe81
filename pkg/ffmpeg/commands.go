package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EncodeOptions controls frame-sequence encoding.
type EncodeOptions struct {
	FramesPattern string
	OutputPath    string
	FPS           int
	Width         int
	Height        int
	CRF           int
	Preset        string
	Bitrate       string

	// AudioPath, when set, muxes an AAC track during the encode.
	AudioPath    string
	AudioBitrate string
}

// EncodeImageSequence encodes a numbered frame sequence into an H.264 MP4.
func (r *Runner) EncodeImageSequence(ctx context.Context, opts EncodeOptions) (string, error) {
	if err := os.MkdirAll(filepath.Dir(opts.OutputPath), 0755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	if opts.AudioBitrate == "" {
		opts.AudioBitrate = "192k"
	}

	args := []string{
		"-y",
		"-framerate", fmt.Sprint(opts.FPS),
		"-i", opts.FramesPattern,
		"-s", fmt.Sprintf("%dx%d", opts.Width, opts.Height),
		"-c:v", "libx264",
		"-preset", opts.Preset,
		"-crf", fmt.Sprint(opts.CRF),
		"-pix_fmt", "yuv420p",
	}
	if opts.Bitrate != "" {
		args = append(args, "-b:v", opts.Bitrate)
	}
	if opts.AudioPath != "" {
		args = append(args, "-i", opts.AudioPath, "-c:a", "aac", "-b:a", opts.AudioBitrate)
	} else {
		args = append(args, "-an")
	}
	args = append(args, opts.OutputPath)

	if _, err := r.Run(ctx, args...); err != nil {
		return "", err
	}
	return opts.OutputPath, nil
}

// MuxAudio remuxes an audio track onto a video without re-encoding video.
func (r *Runner) MuxAudio(ctx context.Context, videoPath, audioPath, outputPath, audioBitrate string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	if audioBitrate == "" {
		audioBitrate = "192k"
	}
	_, err := r.Run(ctx,
		"-y",
		"-i", videoPath,
		"-i", audioPath,
		"-c:v", "copy",
		"-c:a", "aac",
		"-b:a", audioBitrate,
		outputPath,
	)
	if err != nil {
		return "", err
	}
	return outputPath, nil
}

// ExtractCover grabs a single frame at the given timecode as a cover image.
func (r *Runner) ExtractCover(ctx context.Context, videoPath, coverPath string, timecode float64) (string, error) {
	if err := os.MkdirAll(filepath.Dir(coverPath), 0755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	_, err := r.Run(ctx,
		"-y",
		"-ss", fmt.Sprint(timecode),
		"-i", videoPath,
		"-frames:v", "1",
		coverPath,
	)
	if err != nil {
		return "", err
	}
	return coverPath, nil
}

// PlaceholderClip renders a solid-color clip with centered text, used by the
// stub backends and the doctor command to exercise the encode path.
func (r *Runner) PlaceholderClip(ctx context.Context, outputPath string, width, height int, duration float64, fps int, text string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	escaped := strings.ReplaceAll(text, "'", `\'`)
	_, err := r.Run(ctx,
		"-y",
		"-f", "lavfi",
		"-i", fmt.Sprintf("color=c=0x1a1a1a:s=%dx%d:r=%d:d=%g", width, height, fps, duration),
		"-vf", "drawtext=text='"+escaped+"':fontcolor=white:fontsize=64:x=(w-text_w)/2:y=(h-text_h)/2",
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-crf", "18",
		outputPath,
	)
	if err != nil {
		return "", err
	}
	return outputPath, nil
}

// AdaptVertical scales and pads a clip into a vertical frame, preserving
// aspect ratio against a black background.
func (r *Runner) AdaptVertical(ctx context.Context, inputPath, outputPath string, width, height int) (string, error) {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	filter := fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2:color=black",
		width, height, width, height,
	)
	_, err := r.Run(ctx,
		"-y",
		"-i", inputPath,
		"-vf", filter,
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		outputPath,
	)
	if err != nil {
		return "", err
	}
	return outputPath, nil
}
