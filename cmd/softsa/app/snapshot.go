package app

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// SnapshotOptions configures a headless run.
type SnapshotOptions struct {
	Duration time.Duration
	Output   string
	Format   ImageFormat
}

// ImageFormatFromPath picks the image format from the file extension.
func ImageFormatFromPath(path string) (ImageFormat, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return ImagePNG, nil
	case ".jpg", ".jpeg":
		return ImageJPEG, nil
	default:
		return "", fmt.Errorf("cannot infer image format of '%s'", path)
	}
}

// ParseImageFormat validates an image format name.
func ParseImageFormat(s string) (ImageFormat, error) {
	f := ImageFormat(strings.ToLower(s))
	if f == "jpg" {
		f = ImageJPEG
	}
	if _, ok := validImageFormats[f]; !ok {
		return "", fmt.Errorf("invalid image format '%s'", s)
	}
	return f, nil
}

// EncodeImage writes img in the given format.
func EncodeImage(w io.Writer, img image.Image, format ImageFormat) error {
	switch format {
	case ImagePNG:
		return png.Encode(w, img)
	case ImageJPEG:
		return jpeg.Encode(w, img, &jpeg.Options{
			Quality: 98,
		})
	default:
		return fmt.Errorf("invalid image format '%s'", format)
	}
}

// SaveImage writes img to path.
func SaveImage(path string, img image.Image, format ImageFormat) (err error) {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, out.Close())
	}()

	return EncodeImage(out, img, format)
}

// RunSnapshot starts a session, renders for opts.Duration and saves the
// surface.
func RunSnapshot(ctx context.Context, config *Config, opts SnapshotOptions, logger *slog.Logger) (err error) {
	c, err := NewCoordinator(ctx, config, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, c.Close())
	}()

	if err = c.LinkError(); err != nil {
		return err
	}

	loop := c.Loop()
	if err = loop.Resize(config.Render.Width, config.Render.Height, time.Now()); err != nil {
		return err
	}

	logger.Info("rendering",
		slog.Group("surface",
			slog.Int("width", config.Render.Width),
			slog.Int("height", config.Render.Height),
			slog.Int("fps", config.Render.FPS),
		),
		slog.Duration("duration", opts.Duration),
	)

	runCtx, cancel := context.WithTimeout(ctx, opts.Duration)
	defer cancel()

	if err = loop.Run(runCtx, config.Render.FPS); err != nil {
		return fmt.Errorf("rendering: %w", err)
	}

	img, err := loop.Snapshot()
	if err != nil {
		return err
	}

	if err = SaveImage(opts.Output, img, opts.Format); err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}

	stats := c.FrameStats()
	logger.Info("snapshot saved",
		slog.String("destination", opts.Output),
		slog.String("format", string(opts.Format)),
		slog.Group("frames",
			slog.String("received", humanize.Comma(int64(stats.Received))),
			slog.String("dropped", humanize.Comma(int64(stats.Dropped))),
			slog.String("invalid", humanize.Comma(int64(stats.Invalid))),
		),
		slog.Int("rate", loop.Last().Rate),
	)

	return nil
}
