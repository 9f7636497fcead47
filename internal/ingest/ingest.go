package ingest

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

const defaultMIME = "image/jpeg"

// ErrMalformed reports an empty or undecodable payload. It is returned
// before any network call is made.
var ErrMalformed = errors.New("malformed image payload")

// Attachment is a decoded image payload ready for upload.
type Attachment struct {
	Data []byte
	MIME string
}

// Error identifies the image that failed and whether it failed decoding or
// uploading.
type Error struct {
	Index     int
	Malformed bool
	Err       error
}

func (e *Error) Error() string {
	if e.Malformed {
		return fmt.Sprintf("image %d: %v", e.Index+1, e.Err)
	}
	return fmt.Sprintf("image %d: upload failed: %v", e.Index+1, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Decode accepts a full data URL (data:<mime>;base64,<payload>) or a bare
// base64 payload. The MIME type defaults to image/jpeg when the payload
// carries no header.
func Decode(raw string) (Attachment, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Attachment{}, fmt.Errorf("%w: empty payload", ErrMalformed)
	}

	mime := defaultMIME
	payload := raw
	if strings.HasPrefix(raw, "data:") {
		header, rest, ok := strings.Cut(raw, ",")
		if !ok {
			return Attachment{}, fmt.Errorf("%w: data URL without payload", ErrMalformed)
		}
		if m := strings.TrimPrefix(header, "data:"); m != "" {
			if semi := strings.Index(m, ";"); semi >= 0 {
				m = m[:semi]
			}
			if m != "" {
				mime = m
			}
		}
		payload = rest
	}

	payload = strings.TrimSpace(payload)
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(payload)
	}
	if err != nil {
		return Attachment{}, fmt.Errorf("%w: invalid base64: %v", ErrMalformed, err)
	}
	if len(data) == 0 {
		return Attachment{}, fmt.Errorf("%w: empty payload", ErrMalformed)
	}

	return Attachment{Data: data, MIME: mime}, nil
}

// Uploader stores raw image bytes and returns a stable URL. Implementations
// must be side-effect-free on failure: a returned error means no remote
// object is referenced by any returned data.
type Uploader interface {
	Upload(ctx context.Context, data []byte, mime string) (string, error)
}

// DisabledUploader rejects every upload. Used when no blob store is
// configured so image requests fail cleanly instead of panicking.
type DisabledUploader struct{}

func (DisabledUploader) Upload(context.Context, []byte, string) (string, error) {
	return "", errors.New("no blob store configured")
}

// Ingestor turns inbound image payloads into blob-store URLs.
type Ingestor struct {
	uploader Uploader
	timeout  time.Duration
}

func NewIngestor(uploader Uploader, timeout time.Duration) *Ingestor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Ingestor{uploader: uploader, timeout: timeout}
}

// IngestAll decodes and uploads every image in parallel. The returned URL
// list matches input order; the first failure aborts the batch with an
// *Error naming the offending image.
func (in *Ingestor) IngestAll(ctx context.Context, raws []string) ([]string, error) {
	if len(raws) == 0 {
		return nil, nil
	}

	urls := make([]string, len(raws))
	g, gctx := errgroup.WithContext(ctx)
	for i, raw := range raws {
		i, raw := i, raw
		g.Go(func() error {
			att, err := Decode(raw)
			if err != nil {
				return &Error{Index: i, Malformed: true, Err: err}
			}

			uctx, cancel := context.WithTimeout(gctx, in.timeout)
			defer cancel()
			url, err := in.uploader.Upload(uctx, att.Data, att.MIME)
			if err != nil {
				return &Error{Index: i, Err: err}
			}
			urls[i] = url
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return urls, nil
}
