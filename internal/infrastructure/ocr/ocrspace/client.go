// Package ocrspace talks to an OCR.space compatible recognition backend.
package ocrspace

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/scanpipe/internal/core/domain"
	"github.com/kirillkom/scanpipe/internal/core/ports"
	"github.com/kirillkom/scanpipe/internal/core/progress"
	"github.com/kirillkom/scanpipe/internal/infrastructure/resilience"
)

const (
	DefaultURL      = "https://api.ocr.space/parse/image"
	DefaultLanguage = "eng"
	DefaultEngine   = 2
	DefaultTimeout  = 120 * time.Second

	operationName = "ocr.recognize"
)

type Options struct {
	URL        string
	APIKey     string
	Language   string
	Engine     int
	Timeout    time.Duration
	Executor   *resilience.Executor
	HTTPClient *http.Client
}

type Client struct {
	url        string
	apiKey     string
	language   string
	engine     int
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(opts Options) *Client {
	if strings.TrimSpace(opts.URL) == "" {
		opts.URL = DefaultURL
	}
	if strings.TrimSpace(opts.Language) == "" {
		opts.Language = DefaultLanguage
	}
	if opts.Engine <= 0 {
		opts.Engine = DefaultEngine
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		url:        opts.URL,
		apiKey:     opts.APIKey,
		language:   opts.Language,
		engine:     opts.Engine,
		httpClient: httpClient,
		executor:   opts.Executor,
	}
}

// Recognize uploads one image and returns the recognized text. Exactly one
// *domain.OCRError is returned on failure and no partial text.
func (c *Client) Recognize(ctx context.Context, image domain.Upload, onProgress ports.ProgressFunc) (string, error) {
	reporter := newProgressReporter(onProgress)
	reporter.report(progress.ItemFraction(progress.PhaseStart, 0))

	text, err := c.recognize(ctx, image, reporter)
	reporter.report(progress.ItemFraction(progress.PhaseDone, 0))
	if err != nil {
		return "", err
	}
	return text, nil
}

func (c *Client) recognize(ctx context.Context, image domain.Upload, reporter *progressReporter) (string, error) {
	form, err := c.buildForm(image)
	if err != nil {
		return "", domain.NewTransportError("prepare OCR request", err)
	}

	var text string
	call := func(callCtx context.Context) error {
		out, err := c.send(callCtx, form, reporter)
		if err != nil {
			return err
		}
		text = out
		return nil
	}

	if c.executor != nil {
		err = c.executor.Execute(ctx, operationName, call, classifyOCRError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return "", asOCRError(err)
	}
	return text, nil
}

// asOCRError guarantees the caller sees one of the three OCR error kinds.
func asOCRError(err error) error {
	var ocrErr *domain.OCRError
	if errors.As(err, &ocrErr) {
		return ocrErr
	}
	if resilience.IsCircuitOpen(err) {
		return domain.NewTransportError("OCR backend unavailable: circuit open", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewTransportError("request timed out", err)
	}
	return domain.NewTransportError("network error: "+err.Error(), err)
}
