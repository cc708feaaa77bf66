package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/dbsmedya/goadaptive/internal/config"
	"github.com/dbsmedya/goadaptive/internal/logger"
)

const maxLineSize = 4 << 20

// Source yields raw records one at a time. Next returns io.EOF when the
// source is exhausted.
type Source interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// NewSource builds the source named by cfg.Type.
func NewSource(cfg *config.SourceConfig, log *logger.Logger) (Source, error) {
	switch cfg.Type {
	case "sse", "":
		return NewSSESource(cfg.URL, nil, log), nil
	case "jsonl":
		return OpenJSONL(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown source type %q", cfg.Type)
	}
}

// SSESource reads Server-Sent Events. Each event's data lines form one
// record. The connection is opened on the first Next.
type SSESource struct {
	url    string
	client *http.Client
	logger *logger.Logger

	mu     sync.Mutex // serializes Next
	reader *bufio.Reader

	bodyMu sync.Mutex // Close may run while Next is blocked reading
	body   io.ReadCloser
}

// NewSSESource creates a source for url. A nil client uses a client without
// timeout, since the stream is long-lived.
func NewSSESource(url string, client *http.Client, log *logger.Logger) *SSESource {
	if client == nil {
		client = &http.Client{}
	}
	if log == nil {
		log = logger.NewDefault()
	}
	return &SSESource{url: url, client: client, logger: log}
}

func (s *SSESource) open(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("failed to build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to open stream %s: %w", s.url, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fmt.Errorf("stream %s returned status %d", s.url, resp.StatusCode)
	}
	s.bodyMu.Lock()
	s.body = resp.Body
	s.bodyMu.Unlock()
	s.reader = bufio.NewReaderSize(resp.Body, 64<<10)
	s.logger.Infof("Connected to record stream %s", s.url)
	return nil
}

// Next returns the data of the next non-empty event.
func (s *SSESource) Next(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reader == nil {
		if err := s.open(ctx); err != nil {
			return nil, err
		}
	}

	var data [][]byte
	for {
		line, err := s.reader.ReadBytes('\n')
		line = bytes.TrimRight(line, "\r\n")

		if len(line) == 0 && err == nil {
			if len(data) > 0 {
				return bytes.Join(data, []byte("\n")), nil
			}
			continue
		}
		if payload, ok := bytes.CutPrefix(line, []byte("data:")); ok {
			data = append(data, bytes.TrimPrefix(payload, []byte(" ")))
		}
		// Comments, event names and ids are ignored.

		if err != nil {
			if err == io.EOF && len(data) > 0 {
				return bytes.Join(data, []byte("\n")), nil
			}
			return nil, err
		}
	}
}

// Close closes the stream.
func (s *SSESource) Close() error {
	s.bodyMu.Lock()
	defer s.bodyMu.Unlock()
	if s.body == nil {
		return nil
	}
	err := s.body.Close()
	s.body = nil
	return err
}

// JSONLSource reads one JSON object per line. Blank lines are skipped.
type JSONLSource struct {
	scanner *bufio.Scanner
	closer  io.Closer
}

// NewJSONLSource reads from r.
func NewJSONLSource(r io.Reader) *JSONLSource {
	src := &JSONLSource{scanner: newScanner(r)}
	if c, ok := r.(io.Closer); ok {
		src.closer = c
	}
	return src
}

// OpenJSONL opens path, or stdin for "-".
func OpenJSONL(path string) (*JSONLSource, error) {
	if path == "-" {
		return &JSONLSource{scanner: newScanner(os.Stdin)}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open record file: %w", err)
	}
	return NewJSONLSource(f), nil
}

func newScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxLineSize)
	return sc
}

// Next returns the next non-blank line.
func (s *JSONLSource) Next(_ context.Context) ([]byte, error) {
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line != "" {
			return []byte(line), nil
		}
	}
	if err := s.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// Close closes the underlying file, if any.
func (s *JSONLSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
