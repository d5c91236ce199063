package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/antonholmquist/jason"

	"github.com/ecoscout/ecoscout-go/internal/errors"
	"github.com/ecoscout/ecoscout-go/internal/httpclient"
)

// maxRemoteErrorBody caps how much of a failed response body is kept for logs.
const maxRemoteErrorBody = 512

// RemoteConfig configures a RemoteRecognizer.
type RemoteConfig struct {
	URL       string
	APIKey    string // sent as X-API-Key when set
	Timeout   time.Duration
	Transport http.RoundTripper // optional, replaces the default transport
}

// RemoteRecognizer posts crops to an HTTP OCR service that answers with
// {"results":[{"text":"..","box":[[x,y],[x,y],[x,y],[x,y]],"confidence":0.9}]}.
type RemoteRecognizer struct {
	url    string
	apiKey string
	client *httpclient.Client
}

// NewRemote creates a recognizer for the service at cfg.URL.
func NewRemote(cfg RemoteConfig) (*RemoteRecognizer, error) {
	if cfg.URL == "" {
		return nil, errors.Newf("remote OCR URL is required").
			Component("ocr").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return &RemoteRecognizer{
		url:    cfg.URL,
		apiKey: cfg.APIKey,
		client: httpclient.New(&httpclient.Config{
			DefaultTimeout: cfg.Timeout,
			Transport:      cfg.Transport,
		}),
	}, nil
}

// Recognize uploads img as PNG and parses the returned segments. Text outside
// allowlist is dropped from each segment.
func (r *RemoteRecognizer) Recognize(ctx context.Context, img image.Image, allowlist string) ([]Segment, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, nil
	}

	body, contentType, err := encodeRemoteRequest(img, allowlist)
	if err != nil {
		return nil, errors.New(err).
			Component("ocr").
			Category(errors.CategoryOCR).
			Build()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, body)
	if err != nil {
		return nil, errors.New(err).
			Component("ocr").
			Category(errors.CategoryHTTP).
			Build()
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if r.apiKey != "" {
		req.Header.Set("X-API-Key", r.apiKey)
	}

	start := time.Now()
	resp, err := r.client.Do(ctx, req)
	if err != nil {
		return nil, errors.New(fmt.Errorf("remote OCR request failed: %w", err)).
			Component("ocr").
			Category(errors.CategoryNetwork).
			Context("url", r.url).
			Timing("remote-ocr", time.Since(start)).
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxRemoteErrorBody))
		return nil, errors.Newf("remote OCR returned status %d", resp.StatusCode).
			Component("ocr").
			Category(errors.CategoryHTTP).
			Context("url", r.url).
			Context("status_code", resp.StatusCode).
			Context("body", string(snippet)).
			Build()
	}

	segments, err := parseRemoteResponse(resp.Body, allowlist)
	if err != nil {
		return nil, errors.New(err).
			Component("ocr").
			Category(errors.CategoryOCR).
			Context("url", r.url).
			Build()
	}
	return segments, nil
}

// Close releases idle connections.
func (r *RemoteRecognizer) Close() error {
	r.client.Close()
	return nil
}

func encodeRemoteRequest(img image.Image, allowlist string) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", "crop.png")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if err := png.Encode(part, img); err != nil {
		return nil, "", fmt.Errorf("failed to encode crop: %w", err)
	}
	if err := w.WriteField("allowlist", allowlist); err != nil {
		return nil, "", fmt.Errorf("failed to write allowlist field: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finalize multipart body: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

func parseRemoteResponse(r io.Reader, allowlist string) ([]Segment, error) {
	obj, err := jason.NewObjectFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("invalid OCR response: %w", err)
	}
	results, err := obj.GetObjectArray("results")
	if err != nil {
		return nil, fmt.Errorf("OCR response has no results array: %w", err)
	}

	segments := make([]Segment, 0, len(results))
	for i, res := range results {
		text, err := res.GetString("text")
		if err != nil {
			return nil, fmt.Errorf("result %d: missing text: %w", i, err)
		}
		conf, err := res.GetFloat64("confidence")
		if err != nil {
			return nil, fmt.Errorf("result %d: missing confidence: %w", i, err)
		}
		quad, err := parseQuad(res)
		if err != nil {
			return nil, fmt.Errorf("result %d: %w", i, err)
		}
		text = filterAllowed(text, allowlist)
		if text == "" {
			continue
		}
		segments = append(segments, Segment{Text: text, Quad: quad, Confidence: conf})
	}
	return segments, nil
}

func parseQuad(res *jason.Object) (Quad, error) {
	var q Quad
	points, err := res.GetValueArray("box")
	if err != nil {
		return q, fmt.Errorf("missing box: %w", err)
	}
	if len(points) != len(q) {
		return q, fmt.Errorf("box has %d points, want %d", len(points), len(q))
	}
	for i, p := range points {
		xy, err := p.Array()
		if err != nil || len(xy) != 2 {
			return q, fmt.Errorf("box point %d is not an [x, y] pair", i)
		}
		x, errX := xy[0].Float64()
		y, errY := xy[1].Float64()
		if errX != nil || errY != nil {
			return q, fmt.Errorf("box point %d has non-numeric coordinates", i)
		}
		q[i] = image.Pt(int(x), int(y))
	}
	return q, nil
}
