package powermeter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strconv"
	"strings"
)

// FFmpegDecoder decodes video files by piping raw RGBA frames out of ffmpeg.
// Frames are scaled to Width x Height by ffmpeg, which also applies any
// rotation stored in the container.
type FFmpegDecoder struct {
	FFmpegPath  string
	FFprobePath string
	Width       int
	Height      int
}

func NewFFmpegDecoder(ffmpegPath, ffprobePath string, width, height int) *FFmpegDecoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpegDecoder{
		FFmpegPath:  ffmpegPath,
		FFprobePath: ffprobePath,
		Width:       width,
		Height:      height,
	}
}

type probeOutput struct {
	Streams []struct {
		AvgFrameRate string `json:"avg_frame_rate"`
		RFrameRate   string `json:"r_frame_rate"`
	} `json:"streams"`
}

func (d *FFmpegDecoder) Open(ctx context.Context, path string) (FrameSource, error) {
	fps, err := d.probe(ctx, path)
	if err != nil {
		return nil, err
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, d.FFmpegPath,
		"-v", "error",
		"-i", path,
		"-vsync", "0",
		"-vf", fmt.Sprintf("scale=%d:%d", d.Width, d.Height),
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-")
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("error creating ffmpeg pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("error starting ffmpeg: %w", err)
	}

	return &ffmpegSource{
		cmd:    cmd,
		stdout: stdout,
		stderr: &stderr,
		fps:    fps,
		frame:  image.NewRGBA(image.Rect(0, 0, d.Width, d.Height)),
	}, nil
}

func (d *FFmpegDecoder) probe(ctx context.Context, path string) (float64, error) {
	out, err := exec.CommandContext(ctx, d.FFprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=avg_frame_rate,r_frame_rate",
		"-of", "json",
		path).Output()
	if err != nil {
		return 0, fmt.Errorf("error probing video: %w", err)
	}

	var probe probeOutput
	if err := json.Unmarshal(out, &probe); err != nil {
		return 0, fmt.Errorf("error parsing ffprobe output: %w", err)
	}
	if len(probe.Streams) == 0 {
		return 0, errors.New("file has no video stream")
	}

	s := probe.Streams[0]
	if fps, err := parseRate(s.AvgFrameRate); err == nil {
		return fps, nil
	}
	return parseRate(s.RFrameRate)
}

// parseRate parses an ffprobe rational such as "30000/1001".
func parseRate(rate string) (float64, error) {
	num, den, found := strings.Cut(rate, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid frame rate %q", rate)
	}
	d := 1.0
	if found {
		d, err = strconv.ParseFloat(den, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid frame rate %q", rate)
		}
	}
	if n <= 0 || d <= 0 {
		return 0, fmt.Errorf("invalid frame rate %q", rate)
	}
	return n / d, nil
}

type ffmpegSource struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *bytes.Buffer
	fps    float64
	frame  *image.RGBA
	waited bool
}

func (s *ffmpegSource) FPS() float64 {
	return s.fps
}

func (s *ffmpegSource) Next() (image.Image, error) {
	if s.waited {
		return nil, io.EOF
	}
	_, err := io.ReadFull(s.stdout, s.frame.Pix)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		// a truncated trailing frame is dropped
		s.waited = true
		if err := s.cmd.Wait(); err != nil {
			return nil, fmt.Errorf("ffmpeg failed: %w: %s", err, strings.TrimSpace(s.stderr.String()))
		}
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("error reading frame: %w", err)
	}
	return s.frame, nil
}

// Close stops ffmpeg if the clip was not read to the end.
func (s *ffmpegSource) Close() error {
	if s.waited {
		return nil
	}
	s.waited = true
	s.stdout.Close()
	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	s.cmd.Wait()
	return nil
}
