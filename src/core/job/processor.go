package job

import (
	"context"
	"fmt"
	"os"
)

// OCRResult is the structured output of the processing step.
type OCRResult struct {
	Text           string `json:"text"`
	Pages          int    `json:"pages"`
	InputSizeBytes int64  `json:"input_size_bytes"`
}

// Processor turns a downloaded input file into an OCRResult. Implementations
// must be safe to call from multiple goroutines and must not retain the input
// file after returning.
type Processor interface {
	Process(ctx context.Context, inputPath string) (*OCRResult, error)
}

// SizeProbe is the phase-one placeholder processor: it only measures the
// input and returns a fixed text so the full pipeline can be exercised before
// a real OCR engine is plugged in.
type SizeProbe struct{}

func (SizeProbe) Process(ctx context.Context, inputPath string) (*OCRResult, error) {
	info, err := os.Stat(inputPath)
	if err != nil {
		return nil, fmt.Errorf("stat input: %w", err)
	}

	return &OCRResult{
		Text:           "dummy",
		Pages:          1,
		InputSizeBytes: info.Size(),
	}, nil
}
