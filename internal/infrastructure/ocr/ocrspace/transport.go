package ocrspace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"sync"

	"github.com/kirillkom/scanpipe/internal/core/domain"
	"github.com/kirillkom/scanpipe/internal/core/ports"
	"github.com/kirillkom/scanpipe/internal/core/progress"
)

const maxResponseBytes = 16 << 20

type multipartForm struct {
	body        []byte
	contentType string
}

func (c *Client) buildForm(image domain.Upload) (multipartForm, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fields := [][2]string{
		{"apikey", c.apiKey},
		{"language", c.language},
		{"isOverlayRequired", "false"},
		{"scale", "true"},
		{"OCREngine", strconv.Itoa(c.engine)},
	}
	for _, f := range fields {
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return multipartForm{}, fmt.Errorf("write %s field: %w", f[0], err)
		}
	}

	filename := strings.TrimSpace(image.Filename)
	if filename == "" {
		filename = "document.png"
	}
	contentType := image.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return multipartForm{}, fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(image.Data); err != nil {
		return multipartForm{}, fmt.Errorf("write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return multipartForm{}, fmt.Errorf("close multipart writer: %w", err)
	}

	return multipartForm{body: buf.Bytes(), contentType: writer.FormDataContentType()}, nil
}

func (c *Client) send(ctx context.Context, form multipartForm, reporter *progressReporter) (string, error) {
	total := int64(len(form.body))
	body := &uploadReader{
		r:     bytes.NewReader(form.body),
		total: total,
		onRead: func(sent int64) {
			reporter.report(progress.ItemFraction(progress.PhaseUpload, float64(sent)/float64(total)))
		},
		onDone: func() {
			reporter.report(progress.ItemFraction(progress.PhaseAwaiting, 0))
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, body)
	if err != nil {
		return "", domain.NewTransportError("create OCR request", err)
	}
	req.ContentLength = total
	req.Header.Set("Content-Type", form.contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", transportError(err)
	}
	defer resp.Body.Close()
	reporter.report(progress.ItemFraction(progress.PhaseAwaiting, 0))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 2048))
		return "", domain.NewTransportError(fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)), nil)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", transportError(err)
	}
	return parseResponse(raw)
}

func transportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return domain.NewTransportError("request timed out", err)
	}
	return domain.NewTransportError("network error: "+err.Error(), err)
}

// uploadReader reports how much of the request body the transport has
// consumed.
type uploadReader struct {
	r      io.Reader
	total  int64
	sent   int64
	onRead func(sent int64)
	onDone func()
}

func (u *uploadReader) Read(p []byte) (int, error) {
	n, err := u.r.Read(p)
	if n > 0 {
		u.sent += int64(n)
		u.onRead(u.sent)
	}
	if errors.Is(err, io.EOF) {
		u.onDone()
	}
	return n, err
}

// progressReporter forwards only strictly increasing fractions. The HTTP
// transport reads the body on its own goroutine, so calls are serialized.
type progressReporter struct {
	mu   sync.Mutex
	last float64
	fn   ports.ProgressFunc
}

func newProgressReporter(fn ports.ProgressFunc) *progressReporter {
	return &progressReporter{last: -1, fn: fn}
}

func (r *progressReporter) report(fraction float64) {
	if r.fn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if fraction <= r.last {
		return
	}
	r.last = fraction
	r.fn(fraction)
}

type parsedResult struct {
	ParsedText string `json:"ParsedText"`
}

type ocrResponse struct {
	IsErroredOnProcessing bool           `json:"IsErroredOnProcessing"`
	ErrorMessage          errorMessages  `json:"ErrorMessage"`
	ParsedResults         []parsedResult `json:"ParsedResults"`
}

// errorMessages accepts either a single string or a list of strings.
type errorMessages []string

func (m *errorMessages) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*m = nil
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var single string
		if err := json.Unmarshal(trimmed, &single); err != nil {
			return err
		}
		*m = errorMessages{single}
		return nil
	}
	var list []string
	if err := json.Unmarshal(trimmed, &list); err != nil {
		return fmt.Errorf("ErrorMessage must be a string or a list of strings: %w", err)
	}
	*m = list
	return nil
}

func (m errorMessages) String() string {
	parts := make([]string, 0, len(m))
	for _, s := range m {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

func parseResponse(raw []byte) (string, error) {
	var res ocrResponse
	if err := json.Unmarshal(raw, &res); err != nil {
		return "", domain.NewProtocolError("failed to parse OCR response", err)
	}
	if res.IsErroredOnProcessing {
		msg := res.ErrorMessage.String()
		if msg == "" {
			msg = "OCR error"
		}
		return "", domain.NewBackendError(msg)
	}
	if res.ParsedResults == nil {
		return "", domain.NewProtocolError("failed to parse OCR response: missing ParsedResults", nil)
	}

	segments := make([]string, 0, len(res.ParsedResults))
	for _, r := range res.ParsedResults {
		segments = append(segments, r.ParsedText)
	}
	return strings.TrimSpace(strings.Join(segments, "\n")), nil
}
