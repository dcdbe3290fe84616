// Package compression decodes HTTP transport content encodings.
package compression

import (
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// AcceptEncoding lists the encodings Reader understands, in the form sent
// as an Accept-Encoding request header.
const AcceptEncoding = "gzip, zstd"

// Reader wraps body so that reads yield decoded bytes for the given
// Content-Encoding. Closing the returned reader closes body.
func Reader(body io.ReadCloser, encoding string) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return body, nil
	case "gzip":
		zr, err := gzip.NewReader(body)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		return &decodedReader{Reader: zr, close: func() error {
			if err := zr.Close(); err != nil {
				body.Close()
				return err
			}
			return body.Close()
		}}, nil
	case "zstd":
		zr, err := zstd.NewReader(body, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("failed to open zstd stream: %w", err)
		}
		return &decodedReader{Reader: zr, close: func() error {
			zr.Close()
			return body.Close()
		}}, nil
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}
}

type decodedReader struct {
	io.Reader
	close func() error
}

func (r *decodedReader) Close() error {
	return r.close()
}
