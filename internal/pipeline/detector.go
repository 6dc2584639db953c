// Package pipeline runs detections from the detector through the gate,
// the response sequence and persistence.
package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/gate"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/logger"
)

// Frame is one processed camera frame
type Frame struct {
	ImagePath  string           `json:"image_path"`
	Detections []gate.Detection `json:"detections"`
}

// Detector produces frames until ctx is done or the source is exhausted,
// then closes the channel
type Detector interface {
	Frames(ctx context.Context) (<-chan Frame, error)
}

// JSONLinesDetector reads one JSON frame per line. An empty path or "-"
// reads standard input.
type JSONLinesDetector struct {
	path   string
	logger *logger.Logger
}

// NewJSONLinesDetector creates a detector over a JSON lines file
func NewJSONLinesDetector(path string, log *logger.Logger) *JSONLinesDetector {
	return &JSONLinesDetector{path: path, logger: log}
}

// Frames starts reading; malformed lines are logged and skipped
func (d *JSONLinesDetector) Frames(ctx context.Context) (<-chan Frame, error) {
	var r io.ReadCloser = io.NopCloser(os.Stdin)
	if d.path != "" && d.path != "-" {
		f, err := os.Open(d.path)
		if err != nil {
			return nil, fmt.Errorf("failed to open detections: %w", err)
		}
		r = f
	}

	out := make(chan Frame)
	go func() {
		defer close(out)
		defer r.Close()
		d.scan(ctx, r, out)
	}()
	return out, nil
}

func (d *JSONLinesDetector) scan(ctx context.Context, r io.Reader, out chan<- Frame) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			d.logger.Warn("Skipping malformed detection line", "line", line, "error", err)
			continue
		}
		for i := range frame.Detections {
			if frame.Detections[i].ImagePath == "" {
				frame.Detections[i].ImagePath = frame.ImagePath
			}
		}

		select {
		case out <- frame:
		case <-ctx.Done():
			return
		}
	}
	if err := scanner.Err(); err != nil {
		d.logger.Error("Detection stream failed", "error", err)
	}
}
