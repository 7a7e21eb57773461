package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/wbrown/styletransfer"
	"github.com/wbrown/styletransfer/imageutil"
)

func main() {
	contentFile := flag.String("content", "gorod.jpg",
		"Path to the content image")
	styleFile := flag.String("style", "zvezdnoe_nebo2.jpeg",
		"Path to the style image")
	outputFile := flag.String("output", "result3.jpg",
		"Path to save the best image")
	weightsFile := flag.String("weights", "vgg19.safetensors",
		"Path to VGG19 weights in safetensors format")
	iterations := flag.Int("iterations", 100,
		"Number of optimization steps")
	contentWeight := flag.Float64("content-weight", styletransfer.DefaultLossWeights.Content,
		"Weight of the content loss")
	styleWeight := flag.Float64("style-weight", styletransfer.DefaultLossWeights.Style,
		"Weight of the style loss")
	learnRate := flag.Float64("lr", 2,
		"Adam learning rate")
	beta1 := flag.Float64("beta1", 0.99,
		"Adam beta1")
	epsilon := flag.Float64("epsilon", 0.1,
		"Adam epsilon")
	maxDim := flag.Int("maxdim", 0,
		"Downscale inputs so the longer side is at most this many pixels, 0 to disable")
	normalizeStyle := flag.Bool("normalize-style", false,
		"Divide each style layer loss by 4*C^2*(H*W)^2")
	checkpoint := flag.Bool("checkpoint", false,
		"Rewrite the output file on every improving iteration")
	sheetFile := flag.String("sheet", "",
		"Path to save a contact sheet of all improving iterations")
	sheetCols := flag.Int("sheet-cols", 5,
		"Columns in the contact sheet")
	summary := flag.Bool("summary", false,
		"Print the network layer table before running")
	paletteMethod := flag.String("palette", "",
		"Log a color report using 'dominant' or 'kmeans' palettes")
	verbose := flag.Bool("v", false,
		"Log every iteration, not just improvements")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	var method styletransfer.PaletteMethod
	if *paletteMethod != "" {
		var err error
		if method, err = styletransfer.ParsePaletteMethod(strings.ToLower(*paletteMethod)); err != nil {
			fmt.Printf("Error: %v (want dominant or kmeans)\n", err)
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	beginInit := time.Now()
	net, err := styletransfer.LoadVGG19(*weightsFile)
	if err != nil {
		fmt.Printf("Error loading weights: %v\n", err)
		os.Exit(1)
	}
	if *summary {
		if err := net.Summary(os.Stdout); err != nil {
			fmt.Printf("Error printing summary: %v\n", err)
			os.Exit(1)
		}
	}
	extractor, err := styletransfer.NewExtractor(net,
		styletransfer.DefaultStyleLayers, styletransfer.DefaultContentLayers)
	if err != nil {
		fmt.Printf("Error building extractor: %v\n", err)
		os.Exit(1)
	}

	content, err := loadInput(*contentFile, *maxDim)
	if err != nil {
		fmt.Printf("Error loading content image: %v\n", err)
		os.Exit(1)
	}
	style, err := loadInput(*styleFile, *maxDim)
	if err != nil {
		fmt.Printf("Error loading style image: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("content: %dx%d, style: %dx%d\n",
		content.Width(), content.Height(), style.Width(), style.Height())
	fmt.Printf("Initialization time: %v\n", time.Since(beginInit))

	opts := []styletransfer.Option{
		styletransfer.WithIterations(*iterations),
		styletransfer.WithLossWeights(styletransfer.LossWeights{
			Style:   *styleWeight,
			Content: *contentWeight,
		}),
		styletransfer.WithAdam(*learnRate, *beta1, *epsilon),
		styletransfer.WithStyleNormalization(*normalizeStyle),
		styletransfer.WithSnapshots(*sheetFile != ""),
		styletransfer.WithLogger(logger),
	}
	if *checkpoint {
		opts = append(opts, styletransfer.WithImproveHook(func(s styletransfer.Snapshot) error {
			return imageutil.SaveImage(s.Image.RGBA, *outputFile)
		}))
	}

	result, err := styletransfer.NewTransfer(extractor, opts...).Run(ctx, content, style)
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Printf("Error during optimization: %v\n", err)
		os.Exit(1)
	}
	if errors.Is(err, context.Canceled) {
		logger.Warn("interrupted, keeping best image so far")
	}

	if !result.Best.HasImage() {
		fmt.Printf("Error: %v after %d iterations\n", styletransfer.ErrNoImage, len(result.History))
		os.Exit(1)
	}
	fmt.Println(result.Best.Loss)

	if err := imageutil.SaveImage(result.Best.Image.RGBA, *outputFile); err != nil {
		fmt.Printf("Error writing output: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Output written to %s (iteration %d)\n", *outputFile, result.Best.Iteration)

	if *sheetFile != "" {
		sheet, err := styletransfer.ContactSheet(result.Snapshots, *sheetCols, 160)
		if err != nil {
			fmt.Printf("Error building contact sheet: %v\n", err)
		} else if err := imageutil.SaveImage(sheet.RGBA, *sheetFile); err != nil {
			fmt.Printf("Error writing contact sheet: %v\n", err)
		} else {
			fmt.Printf("Contact sheet written to %s\n", *sheetFile)
		}
	}

	if *paletteMethod != "" {
		report := styletransfer.CompareColors(content, style, result.Best.Image, 6, method)
		logger.Info("color report",
			"method", report.Method,
			"style_palette", strings.Join(report.StyleHex(), " "),
			"content_to_style", report.ContentToStyle,
			"result_to_style", report.ResultToStyle)
	}

	fmt.Printf("Computation time: %v\n", result.Elapsed)
}

// loadInput loads an image and optionally bounds its size.
func loadInput(path string, maxDim int) (*imageutil.RGBAImage, error) {
	img, err := imageutil.LoadImage(path)
	if err != nil {
		return nil, err
	}
	return imageutil.FitWithin(img, maxDim, imageutil.InterpolationArea), nil
}
