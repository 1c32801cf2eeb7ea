package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"TableChat/internal/apperr"
)

// Client talks to the answering and catalog service
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer
	duration   metric.Float64Histogram
}

// NewClient creates a client for the service at baseURL. A zero timeout means requests
// wait until the transport reports a result.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger, tracer trace.Tracer, meter metric.Meter) (*Client, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server url %q", baseURL)
	}

	duration, err := meter.Float64Histogram(
		"http.client.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		tracer:     tracer,
		duration:   duration,
	}, nil
}

// ListTables fetches the configured database tables
func (c *Client) ListTables(ctx context.Context) ([]TableInfo, error) {
	var tables []TableInfo
	if err := c.doJSON(ctx, "list_tables", http.MethodGet, "/api/tables", nil, &tables); err != nil {
		return nil, err
	}
	return tables, nil
}

// ListAvailableTables fetches every table name present in the database
func (c *Client) ListAvailableTables(ctx context.Context) ([]string, error) {
	var resp AvailableTablesResponse
	if err := c.doJSON(ctx, "list_available_tables", http.MethodGet, "/api/available-tables", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tables, nil
}

// ListExcelTables fetches the uploaded spreadsheet tables that have not expired
func (c *Client) ListExcelTables(ctx context.Context) ([]ExcelTable, error) {
	var tables []ExcelTable
	if err := c.doJSON(ctx, "list_excel_tables", http.MethodGet, "/api/excel-tables", nil, &tables); err != nil {
		return nil, err
	}
	return tables, nil
}

// AddTable configures a database table for querying
func (c *Client) AddTable(ctx context.Context, name string) (MessageResponse, error) {
	var resp MessageResponse
	err := c.doJSON(ctx, "add_table", http.MethodPost, "/api/tables", TableCreate{TableName: name}, &resp)
	return resp, err
}

// RemoveTable removes a database table from the configuration
func (c *Client) RemoveTable(ctx context.Context, name string) error {
	return c.doJSON(ctx, "remove_table", http.MethodDelete, "/api/tables/"+url.PathEscape(name), nil, nil)
}

// UpdateTable replaces a database table's description
func (c *Client) UpdateTable(ctx context.Context, name, description string) error {
	return c.doJSON(ctx, "update_table", http.MethodPut, "/api/tables/"+url.PathEscape(name), TableUpdate{Description: description}, nil)
}

// UploadExcel uploads a spreadsheet as a multipart form with a single "file" field
func (c *Client) UploadExcel(ctx context.Context, filename string, r io.Reader) (ExcelUpload, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return ExcelUpload{}, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return ExcelUpload{}, fmt.Errorf("failed to read upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return ExcelUpload{}, fmt.Errorf("failed to finish form: %w", err)
	}

	var resp ExcelUpload
	if err := c.do(ctx, "upload_excel", http.MethodPost, "/api/upload-excel", &buf, mw.FormDataContentType(), &resp); err != nil {
		return ExcelUpload{}, err
	}
	return resp, nil
}

// RemoveExcelTable removes an uploaded spreadsheet table
func (c *Client) RemoveExcelTable(ctx context.Context, name string) error {
	return c.doJSON(ctx, "remove_excel_table", http.MethodDelete, "/api/excel-tables/"+url.PathEscape(name), nil, nil)
}

// Chat submits a question against the given tables
func (c *Client) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	var resp ChatResponse
	err := c.doJSON(ctx, "chat", http.MethodPost, "/api/chat", req, &resp)
	return resp, err
}

// Health checks that the service is up
func (c *Client) Health(ctx context.Context) (HealthResponse, error) {
	var resp HealthResponse
	err := c.doJSON(ctx, "health", http.MethodGet, "/api/health", nil, &resp)
	return resp, err
}

// doJSON sends an optional JSON body and decodes a JSON response into out
func (c *Client) doJSON(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}
	return c.do(ctx, op, method, path, body, contentType, out)
}

// do performs one request. Network failures and non-2xx responses become
// *apperr.TransportError; the backend's detail message is kept when present.
func (c *Client) do(ctx context.Context, op, method, path string, body io.Reader, contentType string, out any) error {
	ctx, span := c.tracer.Start(ctx, "api."+op, trace.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", path),
	))
	defer span.End()

	start := time.Now()
	defer func() {
		c.duration.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(attribute.String("operation", op)))
	}()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		c.logger.Warn("backend request failed", "operation", op, "error", err)
		return &apperr.TransportError{Op: op, Err: fmt.Errorf("failed to send request: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &apperr.TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp ErrorResponse
		detail := ""
		if json.Unmarshal(data, &errResp) == nil {
			detail = errResp.DetailText()
		}
		span.SetStatus(codes.Error, resp.Status)
		c.logger.Warn("backend returned error", "operation", op, "status", resp.StatusCode, "detail", detail)
		return &apperr.TransportError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Detail:     detail,
			Err:        fmt.Errorf("API error: %s", resp.Status),
		}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		span.RecordError(err)
		return &apperr.TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to unmarshal response: %w", err)}
	}

	c.logger.Debug("backend request completed", "operation", op, "status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())
	return nil
}
