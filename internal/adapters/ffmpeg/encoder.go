package ffmpeg

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/manthysbr/reelforge/internal/core/domain"
)

// Encoder assembles slideshow videos with ffmpeg. It implements
// domain.VideoEncoder.
type Encoder struct {
	logger    *slog.Logger
	runner    CommandRunner
	prober    *Prober
	ffmpeg    string
	video     domain.VideoConfig
	captions  domain.CaptionConfig
	outputDir string
	newID     func() string
}

func NewEncoder(logger *slog.Logger, runner CommandRunner, enc domain.EncoderConfig, video domain.VideoConfig, captions domain.CaptionConfig, outputDir string) *Encoder {
	ffmpegPath := enc.FFmpegPath
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if abs, err := filepath.Abs(outputDir); err == nil {
		outputDir = abs
	}
	return &Encoder{
		logger:    logger,
		runner:    runner,
		prober:    NewProber(runner, enc.FFprobePath),
		ffmpeg:    ffmpegPath,
		video:     video,
		captions:  captions,
		outputDir: outputDir,
		newID:     uuid.NewString,
	}
}

func (e *Encoder) Assemble(ctx context.Context, req domain.EncodeRequest) (domain.VideoDescriptor, error) {
	if len(req.Images) == 0 {
		return domain.VideoDescriptor{}, domain.NewEncodingError("no images to assemble", nil)
	}
	if req.Audio.Location == "" || req.Audio.DurationSeconds <= 0 {
		return domain.VideoDescriptor{}, domain.NewEncodingError("narration audio is missing", nil)
	}

	work := filepath.Join(domain.WorkspaceDir(ctx, filepath.Join(os.TempDir(), "reelforge", string(req.JobID))), "encode")
	if err := os.MkdirAll(work, 0o755); err != nil {
		return domain.VideoDescriptor{}, domain.NewEncodingError("failed to create encode directory", err)
	}
	if err := os.MkdirAll(e.outputDir, 0o755); err != nil {
		return domain.VideoDescriptor{}, domain.NewEncodingError("failed to create output directory", err)
	}

	listPath := filepath.Join(work, "slides.txt")
	if err := os.WriteFile(listPath, []byte(ConcatList(req.Images, req.Audio.DurationSeconds)), 0o644); err != nil {
		return domain.VideoDescriptor{}, domain.NewEncodingError("failed to write slide list", err)
	}

	filter := e.scaleFilter()
	if req.Captions {
		cues := SplitCues(req.Script, req.Audio.DurationSeconds, e.captions.SegmentSeconds)
		if len(cues) > 0 {
			srtPath := filepath.Join(work, "captions.srt")
			if err := os.WriteFile(srtPath, []byte(FormatSRT(cues)), 0o644); err != nil {
				return domain.VideoDescriptor{}, domain.NewEncodingError("failed to write captions", err)
			}
			filter += fmt.Sprintf(",subtitles=%s:force_style='%s'", escapeFilterPath(srtPath), ForceStyle(e.captions))
		}
	}

	id := e.newID()
	output := filepath.Join(e.outputDir, "video_"+id+".mp4")
	args := []string{
		"-y",
		"-f", "concat", "-safe", "0", "-i", listPath,
		"-i", req.Audio.Location,
		"-vf", filter,
		"-r", strconv.Itoa(e.video.FPS),
		"-c:v", "libx264", "-preset", "fast", "-pix_fmt", "yuv420p",
		"-b:v", e.video.VideoBitrate,
		"-c:a", "aac", "-b:a", e.video.AudioBitrate, "-ar", strconv.Itoa(e.video.SampleRate),
		"-shortest",
		"-movflags", "+faststart",
		output,
	}

	e.logger.Info("encoding video", "job_id", req.JobID, "images", len(req.Images), "captions", req.Captions, "output", output)
	res, err := e.runner.Run(ctx, e.ffmpeg, args...)
	if err != nil {
		// ffmpeg may leave a truncated file behind.
		if rmErr := os.Remove(output); rmErr != nil && !os.IsNotExist(rmErr) {
			e.logger.Warn("failed to remove partial video", "job_id", req.JobID, "output", output, "error", rmErr)
		}
		if ctx.Err() != nil {
			return domain.VideoDescriptor{}, ctx.Err()
		}
		return domain.VideoDescriptor{}, domain.NewEncodingError(fmt.Sprintf("ffmpeg exited with code %d: %s", res.ExitCode, tail(res.Stderr)), err)
	}

	info, err := os.Stat(output)
	if err != nil {
		return domain.VideoDescriptor{}, domain.NewEncodingError("ffmpeg produced no output", err)
	}

	duration, err := e.prober.Duration(ctx, output)
	if err != nil {
		e.logger.Warn("could not probe video duration, using narration length", "job_id", req.JobID, "error", err)
		duration = req.Audio.DurationSeconds
	}

	return domain.VideoDescriptor{
		ID:              id,
		Location:        output,
		DurationSeconds: duration,
		FileSizeBytes:   info.Size(),
		Resolution:      fmt.Sprintf("%dx%d", e.video.Width, e.video.Height),
	}, nil
}

func (e *Encoder) scaleFilter() string {
	w, h := e.video.Width, e.video.Height
	return fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1,format=yuv420p", w, h, w, h)
}

// ConcatList renders an ffmpeg concat demuxer script that shows each image
// for an equal share of totalSeconds.
func ConcatList(images []domain.ImageRef, totalSeconds float64) string {
	per := totalSeconds / float64(len(images))
	var b strings.Builder
	for _, img := range images {
		fmt.Fprintf(&b, "file '%s'\nduration %.3f\n", escapeListPath(img.Location), per)
	}
	// the demuxer ignores the final duration unless the last file repeats
	fmt.Fprintf(&b, "file '%s'\n", escapeListPath(images[len(images)-1].Location))
	return b.String()
}

func escapeListPath(p string) string {
	return strings.ReplaceAll(p, "'", `'\''`)
}

func escapeFilterPath(p string) string {
	r := strings.NewReplacer(`\`, `\\\\`, `:`, `\\:`, `'`, `\\\'`, `,`, `\,`, `[`, `\[`, `]`, `\]`, `;`, `\;`)
	return r.Replace(filepath.ToSlash(p))
}
