package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cheggaaa/pb/v3"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"nexstream/internal/core"
)

var (
	colorInfo    = color.New(color.FgCyan)
	colorSuccess = color.New(color.FgGreen)
	colorWarning = color.New(color.FgYellow)
	colorError   = color.New(color.FgRed)
	colorLabel   = color.New(color.Bold)
)

const progressTemplate = `{{ string . "prefix" }} {{ counters . }} | {{ speed . "%s/s" }} | {{ etime . }}`

var resolveCmd = &cobra.Command{
	Use:   "resolve <url>",
	Short: "Resolve a link and print the playable target",
	Args:  cobra.ExactArgs(1),
	RunE:  runResolve,
}

var downloadCmd = &cobra.Command{
	Use:   "download <url>",
	Short: "Resolve a link and stream it to a file",
	Args:  cobra.ExactArgs(1),
	RunE:  runDownload,
}

var seedCmd = &cobra.Command{
	Use:   "seed <spotify-url>",
	Short: "Resolve every track of a Spotify track, album, playlist or artist into the store",
	Args:  cobra.ExactArgs(1),
	RunE:  runSeed,
}

func init() {
	resolveCmd.Flags().Bool("json", false, "Print the resolution as JSON")
	resolveCmd.Flags().BoolP("verbose", "v", false, "Print progress events")

	downloadCmd.Flags().StringP("format", "f", "mp4", "Output format (mp4, webm, mp3, m4a, opus, ogg)")
	downloadCmd.Flags().String("format-id", "", "Platform format id to download")
	downloadCmd.Flags().StringP("output", "o", "", "Output file or directory (default: generated name in the working directory)")

	seedCmd.Flags().BoolP("verbose", "v", false, "Print progress events")
}

func isTTY(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// consoleSink prints progress events to stderr.
func consoleSink(verbose bool) core.ProgressSink {
	if !verbose {
		return core.NopSink{}
	}
	return core.SinkFunc(func(e core.ProgressEvent) {
		switch e.Status {
		case core.StatusError:
			colorError.Fprintf(os.Stderr, "✗ %s\n", e.Message)
		case core.StatusSeeding:
			colorInfo.Fprintf(os.Stderr, "• %s\n", firstNonEmpty(e.SubStatus, e.Message))
		default:
			if e.SubStatus == "" {
				return
			}
			colorInfo.Fprintf(os.Stderr, "[%3d%%] %s", e.Progress, e.SubStatus)
			if e.Details != "" {
				fmt.Fprintf(os.Stderr, " (%s)", e.Details)
			}
			fmt.Fprintln(os.Stderr)
		}
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func runResolve(cmd *cobra.Command, args []string) error {
	if err := validateConfig(config); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	asJSON, _ := cmd.Flags().GetBool("json")
	verbose, _ := cmd.Flags().GetBool("verbose")
	color.NoColor = color.NoColor || !isTTY(os.Stdout)

	ctx, cancel := commandContext()
	defer cancel()

	a, err := newApp(ctx, config, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.service.Resolve(ctx, args[0], consoleSink(verbose))
	if err != nil {
		return errors.New(core.UserMessage(err) + ": " + err.Error())
	}

	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	printResolution(cmd.OutOrStdout(), res)
	return nil
}

func printResolution(w io.Writer, res *core.Resolution) {
	row := func(label, value string) {
		if value == "" {
			return
		}
		colorLabel.Fprintf(w, "%-10s", label)
		fmt.Fprintln(w, value)
	}

	row("Title", res.Title)
	row("Artist", res.Artist)
	row("Album", res.Album)
	row("Year", res.Year)
	row("ISRC", res.ISRC)
	row("Target", res.TargetURL)
	row("Cover", firstNonEmpty(res.Cover, res.Thumbnail))
	row("Preview", res.PreviewURL)
	if res.CacheTier != "" {
		row("Cache", res.CacheTier)
	}

	colorLabel.Fprintf(w, "%-10s", "Match")
	if res.IsExactMatch {
		colorSuccess.Fprintln(w, "exact (ISRC)")
	} else {
		colorWarning.Fprintln(w, "best effort")
	}

	if len(res.Formats) > 0 {
		qualities := make([]string, 0, len(res.Formats))
		for _, f := range res.Formats {
			qualities = append(qualities, f.Quality)
		}
		row("Video", strings.Join(qualities, ", "))
	}
	if len(res.AudioFormats) > 0 {
		row("Audio", fmt.Sprintf("%d formats", len(res.AudioFormats)))
	}
}

func runDownload(cmd *cobra.Command, args []string) error {
	if err := validateConfig(config); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	format, _ := cmd.Flags().GetString("format")
	formatID, _ := cmd.Flags().GetString("format-id")
	output, _ := cmd.Flags().GetString("output")

	ctx, cancel := commandContext()
	defer cancel()

	a, err := newApp(ctx, config, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	interactive := isTTY(os.Stderr)
	d, err := a.service.Deliver(ctx, core.DeliveryRequest{
		SourceURL: args[0],
		Format:    strings.ToLower(format),
		FormatID:  formatID,
	}, consoleSink(interactive))
	if err != nil {
		return errors.New(core.UserMessage(err) + ": " + err.Error())
	}
	defer d.Stream.Close()

	path := downloadPath(output, d.Filename)
	file, err := os.Create(path)
	if err != nil {
		d.Stream.Cancel()
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	var reader io.Reader = d.Stream
	var bar *pb.ProgressBar
	if interactive {
		bar = pb.New64(0)
		bar.SetWriter(os.Stderr)
		bar.SetTemplateString(progressTemplate)
		bar.Set(pb.Bytes, true)
		bar.Set("prefix", fmt.Sprintf("Downloading %s:", filepath.Base(path)))
		bar.Start()
		reader = bar.NewProxyReader(d.Stream)
	}

	written, copyErr := io.Copy(file, reader)
	if bar != nil {
		bar.Finish()
	}
	closeErr := file.Close()

	if copyErr != nil {
		logger.Warn("Download interrupted", zap.String("path", path), zap.Int64("bytes", written), zap.Error(copyErr))
		if written == 0 {
			_ = os.Remove(path)
		}
		return fmt.Errorf("download failed after %d bytes: %w", written, copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to write %s: %w", path, closeErr)
	}

	colorSuccess.Fprintf(os.Stderr, "✓ Saved %s (%s, %d bytes)\n", path, d.Stream.Strategy(), written)
	return nil
}

// downloadPath places filename inside output when output is a directory.
func downloadPath(output, filename string) string {
	if output == "" {
		return filename
	}
	if info, err := os.Stat(output); err == nil && info.IsDir() {
		return filepath.Join(output, filename)
	}
	return output
}

func runSeed(cmd *cobra.Command, args []string) error {
	if err := validateConfig(config); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	verbose, _ := cmd.Flags().GetBool("verbose")

	ctx, cancel := commandContext()
	defer cancel()

	a, err := newApp(ctx, config, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	urls, err := a.service.SeedTargets(ctx, args[0])
	if err != nil {
		return errors.New(core.UserMessage(err) + ": " + err.Error())
	}
	colorInfo.Fprintf(os.Stderr, "Seeding %d tracks\n", len(urls))

	report := a.service.SeedTracks(ctx, urls, consoleSink(verbose))

	colorLabel.Fprint(cmd.OutOrStdout(), "Seeding finished: ")
	colorSuccess.Fprintf(cmd.OutOrStdout(), "%d added", report.Added)
	fmt.Fprintf(cmd.OutOrStdout(), ", %d skipped, ", report.Skipped)
	if report.Failed > 0 {
		colorError.Fprintf(cmd.OutOrStdout(), "%d failed", report.Failed)
	} else {
		fmt.Fprint(cmd.OutOrStdout(), "0 failed")
	}
	fmt.Fprintf(cmd.OutOrStdout(), " of %d\n", report.Total)

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}
