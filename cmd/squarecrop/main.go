// Command squarecrop crops an image to its centered, maximum-area square.
//
//	squarecrop [flags] <file|url|data-uri|->
//
// The result is saved as square-crop.<ext> in --out, or written to standard
// output with --stdout or --data-uri.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"squarecrop/internal/config"
	"squarecrop/internal/imagesource"
	"squarecrop/internal/localstore"
	"squarecrop/internal/logging"
	"squarecrop/internal/pipeline"

	"github.com/spf13/pflag"
)

const usage = "usage: squarecrop [flags] <file|url|data-uri|->"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	flags := pflag.NewFlagSet("squarecrop", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.SetNormalizeFunc(config.NormalizeFlagName)
	flags.Usage = func() {
		fmt.Fprintln(stderr, usage)
		flags.PrintDefaults()
	}

	outDir := flags.String("out", ".", "directory to save the crop into")
	toStdout := flags.Bool("stdout", false, "write the encoded crop to standard output")
	asDataURI := flags.Bool("data_uri", false, "write the crop to standard output as a data URI")
	overwrite := flags.Bool("overwrite", false, "replace an existing file instead of numbering the new one")
	flags.String("output_format", "jpeg", "output encoding: jpeg or png")
	flags.Float64("output_quality", 0.92, "JPEG quality between 0 and 1")
	flags.Int("max_pixels", 64_000_000, "largest source image, in pixels")
	flags.Bool("auto_orient", true, "apply the EXIF orientation before cropping")
	flags.Duration("fetch_timeout", 15*time.Second, "timeout for remote sources")
	flags.String("log_format", "text", "log format: text, json or tint")
	flags.String("log_level", "info", "log level")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	if flags.NArg() != 1 {
		fmt.Fprintln(stderr, usage)
		return 2
	}

	cfg, err := config.Load(flags)
	if err != nil {
		fmt.Fprintln(stderr, "squarecrop:", err)
		return 2
	}
	logger, err := logging.New(stderr, cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(stderr, "squarecrop:", err)
		return 2
	}

	src := imagesource.Parse(flags.Arg(0), &http.Client{}, cfg.Fetch)
	proc := pipeline.Processor{LoadOptions: cfg.Load, Encoding: cfg.Encoding}
	out, err := pipeline.Run(ctx, proc, src, pipeline.WithLogger(logger))
	if err != nil {
		logger.Error("crop failed", "source", flags.Arg(0), "err", err)
		return 1
	}

	switch {
	case *asDataURI:
		if _, err := fmt.Fprintln(stdout, out.DataURI()); err != nil {
			logger.Error("failed to write crop", "err", err)
			return 1
		}
	case *toStdout:
		if _, err := stdout.Write(out.Data); err != nil {
			logger.Error("failed to write crop", "err", err)
			return 1
		}
	default:
		path, err := localstore.New(*outDir, *overwrite).SaveOutput(ctx, out)
		if err != nil {
			logger.Error("failed to save crop", "dir", *outDir, "err", err)
			return 1
		}
		logger.Info("crop saved", "path", path, "width", out.Width, "height", out.Height, "bytes", len(out.Data))
	}
	return 0
}
