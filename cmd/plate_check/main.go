// plate_check runs one still image through the normalize, OCR and
// resolve stages and prints the result. It is meant for tuning the
// registry threshold and blur against saved full_*.jpg captures.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"log"
	"os"

	"github.com/disintegration/imaging"

	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/config"
	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/detect"
	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/detect/yolo"
	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/logger"
	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/normalize"
	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/ocr"
	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/ocr/tesseract"
	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/plate"
)

func main() {
	var (
		configPath string
		imagePath  string
		boxSpec    string
		savePath   string
		logLevel   string
	)
	flag.StringVar(&configPath, "config", "", "YAML config file")
	flag.StringVar(&imagePath, "image", "", "Input image (required)")
	flag.StringVar(&boxSpec, "box", "", "Plate box x0,y0,x1,y1 (runs the detector when empty)")
	flag.StringVar(&savePath, "save-region", "", "Write the binarized OCR input here")
	flag.StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error, silent)")
	flag.Parse()

	if imagePath == "" {
		flag.Usage()
		os.Exit(2)
	}

	level, err := logger.ParseLevel(logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, true)

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	frame, err := imaging.Open(imagePath)
	if err != nil {
		log.Fatalf("Failed to open image: %v", err)
	}

	ctx := context.Background()
	box, err := plateBox(ctx, cfg, frame, boxSpec)
	if err != nil {
		log.Fatalf("%v", err)
	}

	region := normalize.New(cfg.Normalize.Rotation, cfg.Normalize.BlurSigma).Normalize(frame, box)
	if savePath != "" {
		if err := imaging.Save(region.Binary, savePath); err != nil {
			log.Fatalf("Failed to save region: %v", err)
		}
	}

	reader, err := tesseract.New(tesseract.Options{
		Language:    cfg.OCR.Language,
		PageSegMode: cfg.OCR.PageSegMode,
		Whitelist:   cfg.OCR.Whitelist,
	})
	if err != nil {
		log.Fatalf("Failed to init OCR: %v", err)
	}
	defer reader.Close()

	raw, err := reader.ReadText(ctx, region.Binary)
	if err != nil && !errors.Is(err, ocr.ErrNoText) {
		log.Fatalf("OCR failed: %v", err)
	}

	resolver, err := plate.NewResolver(cfg.Plates.Registry, cfg.Plates.Threshold)
	if err != nil {
		log.Fatalf("Invalid registry: %v", err)
	}
	text := plate.Sanitize(raw)
	m := resolver.Resolve(text)

	fmt.Printf("box:       %v\n", box)
	fmt.Printf("raw:       %q\n", raw)
	fmt.Printf("sanitized: %q\n", text)
	fmt.Printf("nearest:   %s (ratio %.3f)\n", m.Nearest, m.Ratio)
	if m.Matched {
		fmt.Printf("match:     %s\n", m.Plate)
	} else {
		fmt.Printf("match:     none (threshold %.2f)\n", resolver.Threshold())
		os.Exit(1)
	}
}

func plateBox(ctx context.Context, cfg config.Config, frame image.Image, spec string) (image.Rectangle, error) {
	if spec != "" {
		var r image.Rectangle
		if _, err := fmt.Sscanf(spec, "%d,%d,%d,%d", &r.Min.X, &r.Min.Y, &r.Max.X, &r.Max.Y); err != nil {
			return image.Rectangle{}, fmt.Errorf("invalid -box %q: %w", spec, err)
		}
		return r.Canon(), nil
	}

	det, err := yolo.Load(cfg.Detector.ModelPath, yolo.Options{
		InputSize:    cfg.Detector.InputSize,
		NMSThreshold: float32(cfg.Detector.NMSThreshold),
	})
	if err != nil {
		return image.Rectangle{}, fmt.Errorf("failed to load model: %w", err)
	}
	defer det.Close()

	dets, err := det.Detect(ctx, frame, cfg.Detector.MinConfidence)
	if err != nil {
		return image.Rectangle{}, fmt.Errorf("detection failed: %w", err)
	}
	best, ok := detect.Strongest(dets, cfg.Detector.MinConfidence)
	if !ok {
		return image.Rectangle{}, fmt.Errorf("no plate above confidence %.2f", cfg.Detector.MinConfidence)
	}
	logger.Info("Main", "Detected class %d at %v (%.2f)", best.Class, best.Box, best.Confidence)
	return best.Box, nil
}
