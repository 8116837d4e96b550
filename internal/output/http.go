package output

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MuchTitan/go-log-shipper/internal"
	"github.com/MuchTitan/go-log-shipper/internal/credentials"
	"github.com/MuchTitan/go-log-shipper/internal/util"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"
)

const DefaultUploadTimeout = 30 * time.Second

const (
	CompressNone = ""
	CompressGzip = "gzip"
	CompressZstd = "zstd"
)

// HTTP posts every chunk as one JSON envelope to the configured invoke URL.
type HTTP struct {
	Credentials credentials.Profile

	name        string
	url         string
	region      string
	service     string
	description string
	prefix      string
	compress    string
	timeout     time.Duration
	httpClient  *http.Client
	zstd        *zstd.Encoder
	now         func() time.Time
}

type envelope struct {
	ServiceName string   `json:"serviceName"`
	Description string   `json:"description"`
	Region      string   `json:"region"`
	LogGroup    string   `json:"logGroup"`
	LogStream   string   `json:"logStream"`
	Source      string   `json:"source"`
	Offset      int64    `json:"offset"`
	Bytes       int      `json:"bytes"`
	Rotated     bool     `json:"rotated,omitempty"`
	RequestID   string   `json:"requestId"`
	Entries     []string `json:"entries"`
}

func (h *HTTP) Name() string {
	return h.name
}

func (h *HTTP) Init(config map[string]any) error {
	err := util.StringFields(config, map[string]*string{
		"InvokeUrl":   &h.url,
		"ServiceName": &h.service,
		"Name":        &h.name,
		"Region":      &h.region,
		"Description": &h.description,
		"Prefix":      &h.prefix,
		"Compress":    &h.compress,
	})
	if err != nil {
		return err
	}

	if h.url == "" {
		return errors.New("http output requires InvokeUrl")
	}

	if h.service == "" {
		return errors.New("http output requires ServiceName")
	}

	if h.name == "" {
		h.name = "http"
	}

	h.compress = strings.ToLower(h.compress)
	switch h.compress {
	case CompressNone, CompressGzip:
	case CompressZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return fmt.Errorf("could not create zstd encoder: %w", err)
		}
		h.zstd = enc
	default:
		return fmt.Errorf("unsupported compression: %s", h.compress)
	}

	h.timeout = DefaultUploadTimeout
	if timeout, exists := config["UploadTimeout"]; exists {
		ms, ok := timeout.(int)
		if !ok || ms <= 0 {
			return errors.New("UploadTimeout must be a positive number of milliseconds")
		}
		h.timeout = time.Duration(ms) * time.Millisecond
	}

	insecure := config["InsecureSkipVerify"] == true
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: insecure,
		},
	}

	h.httpClient = &http.Client{
		Transport: tr,
		Timeout:   h.timeout,
	}
	h.now = time.Now

	return nil
}

// splitEntries splits a chunk into lines. A trailing partial line is kept as its own entry.
func splitEntries(data []byte) []string {
	entries := make([]string, 0, bytes.Count(data, []byte{'\n'})+1)
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSuffix(line, []byte{'\r'})
		if len(line) == 0 {
			continue
		}
		entries = append(entries, string(line))
	}
	return entries
}

func (h *HTTP) encode(body []byte) ([]byte, error) {
	switch h.compress {
	case CompressGzip:
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write(body); err != nil {
			return nil, fmt.Errorf("error during gzip compress: %w", err)
		}
		if err := gz.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressZstd:
		return h.zstd.EncodeAll(body, nil), nil
	default:
		return body, nil
	}
}

func (h *HTTP) Send(ctx context.Context, chunk *internal.Chunk) Result {
	now := h.now()
	requestID := uuid.NewString()

	payload, err := json.Marshal(envelope{
		ServiceName: h.service,
		Description: h.description,
		Region:      h.region,
		LogGroup:    util.LogGroupName(h.prefix, h.service),
		LogStream:   util.LogStreamName(h.prefix, now, chunk.Path),
		Source:      chunk.Path,
		Offset:      chunk.Start,
		Bytes:       len(chunk.Data),
		Rotated:     chunk.Rotated,
		RequestID:   requestID,
		Entries:     splitEntries(chunk.Data),
	})
	if err != nil {
		return Permanent(fmt.Errorf("failed to marshal chunk: %w", err))
	}

	body, err := h.encode(payload)
	if err != nil {
		return Permanent(err)
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return Permanent(fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", requestID)
	if h.compress != CompressNone {
		req.Header.Set("Content-Encoding", h.compress)
	}
	if h.Credentials.AccessKeyID != "" {
		h.Credentials.Sign(req, body, now)
	}

	res, err := h.httpClient.Do(req)
	if err != nil {
		return Transient(fmt.Errorf("upload request failed: %w", err))
	}
	defer res.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))

	switch ClassifyStatus(res.StatusCode) {
	case Delivered:
		return DeliveredResult(int64(len(chunk.Data)))
	case TransientFailure:
		return Transient(fmt.Errorf("endpoint returned status: %s", res.Status))
	default:
		logrus.WithFields(logrus.Fields{
			"url":       req.URL.String(),
			"status":    res.StatusCode,
			"requestId": requestID,
			"response":  string(respBody),
		}).Debug("rejected upload request")
		return Permanent(fmt.Errorf("endpoint rejected upload: %s", res.Status))
	}
}

// ClassifyStatus maps an HTTP status to a delivery outcome: 2xx delivered, 408, 429 and 5xx
// transient, any other status permanent.
func ClassifyStatus(code int) Kind {
	switch {
	case code >= 200 && code < 300:
		return Delivered
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		return TransientFailure
	default:
		return PermanentFailure
	}
}

func (h *HTTP) Close() error {
	if h.httpClient != nil {
		h.httpClient.CloseIdleConnections()
	}
	if h.zstd != nil {
		return h.zstd.Close()
	}
	return nil
}
