package ocr

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/elum-utils/gatekeeper/models"
)

const (
	defaultBinary   = "tesseract"
	defaultLanguage = "eng"
	defaultTimeout  = 30 * time.Second
	defaultMaxBytes = 10 << 20

	// psmAuto is tesseract's fully automatic page segmentation without OSD.
	psmAuto = "3"
)

// Runner executes the OCR engine and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Options configures TesseractAdapter.
type Options struct {
	Binary   string
	Language string
	Timeout  time.Duration
	TempDir  string
	MaxBytes int64
	// Runner replaces process execution, mostly for tests.
	Runner Runner
}

// TesseractAdapter extracts text by running the tesseract CLI over a
// per-call temporary file.
type TesseractAdapter struct {
	binary   string
	language string
	timeout  time.Duration
	tempDir  string
	maxBytes int64
	run      Runner
}

// NewTesseractAdapter creates adapter instance.
func NewTesseractAdapter(opt Options) *TesseractAdapter {
	if strings.TrimSpace(opt.Binary) == "" {
		opt.Binary = defaultBinary
	}
	if strings.TrimSpace(opt.Language) == "" {
		opt.Language = defaultLanguage
	}
	if opt.Timeout <= 0 {
		opt.Timeout = defaultTimeout
	}
	if opt.MaxBytes <= 0 {
		opt.MaxBytes = defaultMaxBytes
	}
	if opt.Runner == nil {
		opt.Runner = execRunner
	}
	return &TesseractAdapter{
		binary:   opt.Binary,
		language: opt.Language,
		timeout:  opt.Timeout,
		tempDir:  opt.TempDir,
		maxBytes: opt.MaxBytes,
		run:      opt.Runner,
	}
}

// Engine names the extractor in errors and logs.
func (a *TesseractAdapter) Engine() string { return "tesseract" }

// MaxBytes returns the accepted image size bound.
func (a *TesseractAdapter) MaxBytes() int64 { return a.maxBytes }

// Extract validates the image, writes it to a temporary file and runs the
// engine on it. The file is removed on every return path.
func (a *TesseractAdapter) Extract(ctx context.Context, img models.Image) (models.ExtractedText, error) {
	if err := Validate(img, a.maxBytes); err != nil {
		return models.ExtractedText{}, err
	}

	f, err := os.CreateTemp(a.tempDir, "gatekeeper-ocr-*")
	if err != nil {
		return models.ExtractedText{}, a.fail(fmt.Errorf("create temp file: %w", err))
	}
	path := f.Name()
	defer os.Remove(path)

	if _, err := f.Write(img.Data); err != nil {
		_ = f.Close()
		return models.ExtractedText{}, a.fail(fmt.Errorf("write temp file: %w", err))
	}
	if err := f.Close(); err != nil {
		return models.ExtractedText{}, a.fail(fmt.Errorf("close temp file: %w", err))
	}

	runCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	out, err := a.run(runCtx, a.binary, path, "stdout", "-l", a.language, "--psm", psmAuto, "tsv")
	if err != nil {
		if ctxErr := runCtx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: %v", ctxErr, err)
		}
		return models.ExtractedText{}, a.fail(err)
	}

	res, err := ParseTSV(out)
	if err != nil {
		return models.ExtractedText{}, a.fail(err)
	}
	return res, nil
}

func (a *TesseractAdapter) fail(err error) error {
	return &models.ExtractionError{Engine: a.Engine(), Err: err}
}

// Validate checks the payload shape before anything touches disk.
func Validate(img models.Image, maxBytes int64) error {
	if len(img.Data) == 0 {
		return &models.ValidationError{Field: "image", Reason: "no image file provided"}
	}
	if maxBytes > 0 && int64(len(img.Data)) > maxBytes {
		return &models.ValidationError{Field: "image", Reason: fmt.Sprintf("image exceeds %d bytes", maxBytes)}
	}
	mime := strings.ToLower(strings.TrimSpace(img.MIMEType))
	if !strings.HasPrefix(mime, "image/") {
		return &models.ValidationError{Field: "image", Reason: "only image files are allowed"}
	}
	return nil
}

// ParseTSV turns tesseract TSV output into text and the mean word confidence.
// Words are joined by spaces within a line and lines by newlines. Output with
// no recognised words yields empty text and zero confidence.
func ParseTSV(out []byte) (models.ExtractedText, error) {
	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var (
		lines    []string
		cur      []string
		curKey   string
		confSum  float64
		confN    int
		seenHead bool
	)
	flush := func() {
		if len(cur) > 0 {
			lines = append(lines, strings.Join(cur, " "))
			cur = cur[:0]
		}
	}

	for sc.Scan() {
		row := strings.Split(sc.Text(), "\t")
		if !seenHead {
			seenHead = true
			if len(row) > 0 && row[0] == "level" {
				continue
			}
		}
		if len(row) < 12 {
			continue
		}
		if row[0] != "5" {
			continue
		}
		word := strings.TrimSpace(row[11])
		if word == "" {
			continue
		}
		conf, err := strconv.ParseFloat(strings.TrimSpace(row[10]), 64)
		if err != nil || conf < 0 {
			continue
		}
		key := row[2] + "." + row[3] + "." + row[4]
		if key != curKey {
			flush()
			curKey = key
		}
		cur = append(cur, word)
		confSum += conf
		confN++
	}
	if err := sc.Err(); err != nil {
		return models.ExtractedText{}, fmt.Errorf("read tsv: %w", err)
	}
	flush()

	if confN == 0 {
		return models.ExtractedText{Text: "", Confidence: models.Confidence(0)}, nil
	}
	mean := math.Round(confSum/float64(confN)*100) / 100
	return models.ExtractedText{
		Text:       strings.Join(lines, "\n"),
		Confidence: models.Confidence(mean),
	}, nil
}

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, err
		}
		return nil, errors.Join(err, errors.New(msg))
	}
	return stdout.Bytes(), nil
}
