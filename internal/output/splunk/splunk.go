package outputsplunk

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/MuchTitan/go-log-shipper/internal"
	"github.com/MuchTitan/go-log-shipper/internal/output"
	"github.com/MuchTitan/go-log-shipper/internal/parser"
	"github.com/MuchTitan/go-log-shipper/internal/util"
	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"
)

// Splunk posts every chunk to a Splunk HTTP Event Collector in one request.
type Splunk struct {
	name       string
	token      string
	url        string
	eventHost  string
	sourceType string
	index      string
	service    string
	compress   bool
	sendRaw    bool
	timeout    time.Duration
	httpClient *http.Client
	parser     parser.Parser
	now        func() time.Time
}

type splunkEvent struct {
	Event      any            `json:"event"`
	Fields     map[string]any `json:"fields,omitempty"`
	Index      string         `json:"index,omitempty"`
	Source     string         `json:"source"`
	Sourcetype string         `json:"sourcetype"`
	Host       string         `json:"host"`
	Time       float64        `json:"time"`
}

func (s *Splunk) Name() string {
	return s.name
}

func (s *Splunk) Init(config map[string]any) error {
	var host, scheme string
	err := util.StringFields(config, map[string]*string{
		"Token":           &s.token,
		"Name":            &s.name,
		"EventIndex":      &s.index,
		"ServiceName":     &s.service,
		"EventHost":       &s.eventHost,
		"EventSourcetype": &s.sourceType,
		"Host":            &host,
		"Scheme":          &scheme,
	})
	if err != nil {
		return err
	}

	// Required fields
	if s.token == "" {
		return errors.New("splunk token is required")
	}

	// Optional fields with defaults
	if s.name == "" {
		s.name = "splunk"
	}

	if s.eventHost == "" {
		hostname, _ := os.Hostname()
		s.eventHost = hostname
	}

	if s.sourceType == "" {
		s.sourceType = "_json"
	}

	if host == "" {
		host = "localhost"
	}
	port := 8088
	if p, exists := config["Port"]; exists {
		var ok bool
		if port, ok = p.(int); !ok {
			return errors.New("cant convert port to int")
		}
	}
	if scheme == "" {
		scheme = "https"
	}

	s.sendRaw = config["SendRaw"] == true
	s.url = fmt.Sprintf("%s://%s:%d/services/collector", scheme, host, port)
	if s.sendRaw {
		s.url += "/raw"
	}

	// Compress is shared with the http sink, so both a bool and "gzip" enable it.
	switch c := config["Compress"].(type) {
	case bool:
		s.compress = c
	case string:
		s.compress = c == "gzip"
	}

	s.timeout = output.DefaultUploadTimeout
	if timeout, exists := config["UploadTimeout"]; exists {
		ms, ok := timeout.(int)
		if !ok || ms <= 0 {
			return errors.New("UploadTimeout must be a positive number of milliseconds")
		}
		s.timeout = time.Duration(ms) * time.Millisecond
	}

	if raw, exists := config["Parser"]; exists {
		parserConfig, ok := raw.(map[string]any)
		if !ok {
			return errors.New("parser setting must be a map")
		}
		p, err := parser.New(parserConfig)
		if err != nil {
			return fmt.Errorf("splunk parser: %w", err)
		}
		s.parser = p
	}

	// Setup TLS
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: config["VerifyTLS"] == false,
		},
	}

	s.httpClient = &http.Client{
		Transport: tr,
		Timeout:   s.timeout,
	}
	s.now = time.Now

	return nil
}

func (s *Splunk) newSplunkEvent(line string, source string, offset int64) splunkEvent {
	event := splunkEvent{
		Event:      line,
		Index:      s.index,
		Source:     source,
		Sourcetype: s.sourceType,
		Host:       s.eventHost,
		Time:       float64(s.now().UnixNano()) / float64(time.Second),
		Fields: map[string]any{
			"offset": offset,
		},
	}
	if s.service != "" {
		event.Fields["service"] = s.service
	}

	if s.parser == nil {
		return event
	}
	if fields, ts, ok := s.parser.Parse(line); ok {
		event.Event = fields
		if !ts.IsZero() {
			event.Time = float64(ts.UnixNano()) / float64(time.Second)
		}
	}
	return event
}

// body builds the collector payload: raw lines for the raw endpoint, otherwise one JSON event
// object per line, concatenated.
func (s *Splunk) body(chunk *internal.Chunk) ([]byte, error) {
	var buf bytes.Buffer
	offset := chunk.Start
	for _, line := range bytes.SplitAfter(chunk.Data, []byte{'\n'}) {
		start := offset
		offset += int64(len(line))

		line = bytes.TrimRight(line, "\r\n")
		if len(line) == 0 {
			continue
		}
		if s.sendRaw {
			buf.Write(line)
			buf.WriteByte('\n')
			continue
		}

		data, err := json.Marshal(s.newSplunkEvent(string(line), chunk.Path, start))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal event: %w", err)
		}
		buf.Write(data)
	}

	if !s.compress || buf.Len() == 0 {
		return buf.Bytes(), nil
	}
	var compressed bytes.Buffer
	gz := gzip.NewWriter(&compressed)
	if _, err := gz.Write(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("error during gzip compress: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return compressed.Bytes(), nil
}

func (s *Splunk) Send(ctx context.Context, chunk *internal.Chunk) output.Result {
	body, err := s.body(chunk)
	if err != nil {
		return output.Permanent(err)
	}
	if len(body) == 0 {
		return output.DeliveredResult(int64(len(chunk.Data)))
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return output.Permanent(fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Authorization", "Splunk "+s.token)
	req.Header.Set("Content-Type", "application/json")
	if s.compress {
		req.Header.Set("Content-Encoding", "gzip")
	}
	if s.sendRaw {
		q := url.Values{}
		q.Set("sourcetype", s.sourceType)
		q.Set("source", chunk.Path)
		req.URL.RawQuery = q.Encode()
	}

	res, err := s.httpClient.Do(req)
	if err != nil {
		return output.Transient(fmt.Errorf("splunk request failed: %w", err))
	}
	defer res.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))

	switch output.ClassifyStatus(res.StatusCode) {
	case output.Delivered:
		return output.DeliveredResult(int64(len(chunk.Data)))
	case output.TransientFailure:
		return output.Transient(fmt.Errorf("splunk returned status: %s", res.Status))
	default:
		logrus.WithFields(logrus.Fields{
			"url":      req.URL.String(),
			"status":   res.StatusCode,
			"response": string(respBody),
		}).Debug("splunk rejected request")
		return output.Permanent(fmt.Errorf("splunk rejected request: %s", res.Status))
	}
}

func (s *Splunk) Close() error {
	if s.httpClient != nil {
		s.httpClient.CloseIdleConnections()
	}
	return nil
}
