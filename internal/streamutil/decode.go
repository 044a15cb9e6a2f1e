package streamutil

import (
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	log "github.com/llmbridge-dev/llmbridge/internal/logging"
)

type decodedBody struct {
	io.Reader
	close func() error
}

func (d *decodedBody) Close() error {
	return d.close()
}

// DecodeReader wraps body with the decompressor matching the response's
// Content-Encoding so the stream codecs always see plain bytes.
// Identity and empty encodings pass through; unknown encodings pass
// through with a logged warning. Closing the returned reader closes
// body as well.
func DecodeReader(body io.ReadCloser, contentEncoding string) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(contentEncoding)) {
	case "", "identity":
		return body, nil
	case "gzip":
		zr, err := gzip.NewReader(body)
		if err != nil {
			return nil, err
		}
		return &decodedBody{Reader: zr, close: func() error {
			err := zr.Close()
			if cerr := body.Close(); err == nil {
				err = cerr
			}
			return err
		}}, nil
	case "deflate":
		fr := flate.NewReader(body)
		return &decodedBody{Reader: fr, close: func() error {
			err := fr.Close()
			if cerr := body.Close(); err == nil {
				err = cerr
			}
			return err
		}}, nil
	case "br":
		return &decodedBody{Reader: brotli.NewReader(body), close: body.Close}, nil
	case "zstd":
		zr, err := zstd.NewReader(body)
		if err != nil {
			return nil, err
		}
		return &decodedBody{Reader: zr, close: func() error {
			zr.Close()
			return body.Close()
		}}, nil
	default:
		log.Warnf("unknown content encoding %q, passing stream through", contentEncoding)
		return body, nil
	}
}
