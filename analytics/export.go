package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Exporter defines the interface for shipping snapshots elsewhere.
type Exporter interface {
	Export(ctx context.Context, snap *DailySnapshot) error
	Flush(ctx context.Context) error
	Close() error
}

// HTTPExporter batches snapshots and posts them to an external endpoint.
type HTTPExporter struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	buffer     []*DailySnapshot
	batchSize  int
}

func NewHTTPExporter(endpoint, apiKey string, batchSize int) *HTTPExporter {
	if batchSize < 1 {
		batchSize = 1
	}
	return &HTTPExporter{
		endpoint: endpoint,
		apiKey:   apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		buffer:    make([]*DailySnapshot, 0, batchSize),
		batchSize: batchSize,
	}
}

func (e *HTTPExporter) Export(ctx context.Context, snap *DailySnapshot) error {
	e.buffer = append(e.buffer, snap)
	if len(e.buffer) >= e.batchSize {
		return e.Flush(ctx)
	}
	return nil
}

func (e *HTTPExporter) Flush(ctx context.Context) error {
	if len(e.buffer) == 0 {
		return nil
	}
	payload, err := json.Marshal(e.buffer)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshots: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build export request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post snapshots: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("export endpoint returned %d", resp.StatusCode)
	}
	e.buffer = e.buffer[:0]
	return nil
}

func (e *HTTPExporter) Close() error {
	return e.Flush(context.Background())
}

// WriterExporter streams snapshots as JSON lines, one per Export call.
type WriterExporter struct {
	w   io.Writer
	enc *json.Encoder
}

func NewWriterExporter(w io.Writer) *WriterExporter {
	return &WriterExporter{w: w, enc: json.NewEncoder(w)}
}

func (e *WriterExporter) Export(_ context.Context, snap *DailySnapshot) error {
	return e.enc.Encode(snap)
}

func (e *WriterExporter) Flush(context.Context) error { return nil }
func (e *WriterExporter) Close() error                { return nil }

var (
	_ Exporter = (*HTTPExporter)(nil)
	_ Exporter = (*WriterExporter)(nil)
)
