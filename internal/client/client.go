package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/stefando/largeFileUpload/internal/logging"
	"github.com/stefando/largeFileUpload/internal/transfer"
)

const (
	StreamRoute = "files/upload/stream"
	ChunkRoute  = "files/upload/chunk"
	BlockRoute  = "files/upload/block"
	CommitRoute = "files/upload/block/commit"

	DefaultUnitSize    = 10 << 20
	DefaultConcurrency = 10
	DefaultBufferSize  = 1 << 20

	maxErrorBodyBytes = 4 << 10
)

var ErrUnknownStrategy = errors.New("unknown upload strategy")

// ResponseError is returned for every non-2xx answer from the server.
type ResponseError struct {
	StatusCode int
	Body       string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("server responded %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// Client uploads files to the ingestion endpoints using one of three strategies.
type Client struct {
	endpoint    *url.URL
	httpClient  *http.Client
	unitSize    int
	concurrency int
	bufferSize  int
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithUnitSize sets the chunk and block size.
func WithUnitSize(n int) Option {
	return func(c *Client) { c.unitSize = n }
}

// WithConcurrency sets how many blocks are in flight at once.
func WithConcurrency(n int) Option {
	return func(c *Client) { c.concurrency = n }
}

// WithBufferSize sets the stream copy buffer, which is also the progress granularity of the stream strategy.
func WithBufferSize(n int) Option {
	return func(c *Client) { c.bufferSize = n }
}

func New(endpoint string, opts ...Option) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("endpoint %q: scheme and host are required", endpoint)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	c := &Client{
		endpoint:    u,
		httpClient:  &http.Client{},
		unitSize:    DefaultUnitSize,
		concurrency: DefaultConcurrency,
		bufferSize:  DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.unitSize <= 0 {
		return nil, transfer.ErrInvalidUnitSize
	}
	if c.concurrency <= 0 {
		return nil, transfer.ErrInvalidConcurrency
	}
	if c.bufferSize <= 0 {
		return nil, fmt.Errorf("buffer size must be greater than zero")
	}
	return c, nil
}

func (c *Client) url(route string, query url.Values) string {
	u := c.endpoint.ResolveReference(&url.URL{Path: route})
	u.RawQuery = query.Encode()
	return u.String()
}

// Upload moves r, which must yield exactly op.Size bytes, with op.Strategy and returns the stored target.
// A source that is shorter or longer than op.Size fails with transfer.ErrSizeMismatch; the block strategy
// then never commits.
// op goes through Started and InProgress and ends Completed or Failed; subscribe before calling Upload.
func (c *Client) Upload(ctx context.Context, op *transfer.Operation, r io.Reader) (string, error) {
	var run func(context.Context, *transfer.Operation, io.Reader) (string, error)
	switch op.Strategy {
	case transfer.StrategyStream:
		run = c.uploadStream
	case transfer.StrategyChunk:
		run = c.uploadChunks
	case transfer.StrategyBlock:
		run = c.uploadBlocks
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, op.Strategy)
	}

	ctx = logging.AddFields(ctx, logging.Fields{
		logging.OperationIDFieldKey: op.ID.String(),
		logging.StrategyFieldKey:    op.Strategy,
	})
	log := logging.FromContext(ctx)
	if err := op.Start(); err != nil {
		return "", err
	}
	target, err := run(ctx, op, r)
	if err == nil {
		err = op.Complete()
	}
	if err != nil {
		log.WithError(err).Warn("upload failed")
		op.Fail(err)
		return "", err
	}
	log.WithField(logging.TargetFieldKey, target).Info("upload completed")
	return target, nil
}

func (c *Client) uploadStream(ctx context.Context, op *transfer.Operation, r io.Reader) (string, error) {
	var resp struct {
		Target string `json:"target"`
	}
	body := newSizedReader(r, op.Size)
	err := c.postMultipart(ctx, c.url(StreamRoute, nil), nil, op.FileName, op.Size, body, op.Progress, &resp)
	return resp.Target, err
}

func (c *Client) uploadChunks(ctx context.Context, op *transfer.Operation, r io.Reader) (string, error) {
	p, err := transfer.NewPartitioner(newSizedReader(r, op.Size), c.unitSize)
	if err != nil {
		return "", err
	}
	target := op.Target()
	opID := op.ID.String()
	query := url.Values{"operationId": {opID}}
	for sent := 0; ; sent++ {
		u, err := p.Next()
		if errors.Is(err, io.EOF) && sent == 0 {
			// an empty file still needs its target created
			u, err = transfer.Unit{}, nil
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		var resp struct {
			Target string `json:"target"`
		}
		fields := [][2]string{{"operationId", opID}}
		err = c.postMultipart(ctx, c.url(ChunkRoute, query), fields, op.FileName, int64(u.Size()), bytes.NewReader(u.Data), nil, &resp)
		if err != nil {
			return "", &transfer.TransferError{Index: u.Index, Err: err}
		}
		target = resp.Target
		op.Progress(int64(u.Size()))
	}
	return target, nil
}

func (c *Client) uploadBlocks(ctx context.Context, op *transfer.Operation, r io.Reader) (string, error) {
	p, err := transfer.NewPartitioner(newSizedReader(r, op.Size), c.unitSize)
	if err != nil {
		return "", err
	}
	coordinator, err := transfer.NewCoordinator(c.concurrency)
	if err != nil {
		return "", err
	}
	target := op.Target()
	units := transfer.UnitCount(op.Size, c.unitSize)

	stage := func(ctx context.Context, u transfer.Unit) (transfer.BlockID, error) {
		id := transfer.NewBlockID(u.Index)
		fields := [][2]string{{"fileName", target}, {"blockId", id.String()}}
		err := c.postMultipart(ctx, c.url(BlockRoute, nil), fields, op.FileName, int64(u.Size()), bytes.NewReader(u.Data), nil, nil)
		return id, err
	}
	manifest, err := coordinator.Run(ctx, p, units, stage, func(u transfer.Unit) {
		op.Progress(int64(u.Size()))
	})
	if err != nil {
		return "", err
	}
	// equal unit counts do not imply equal sizes: a short last unit must not be committed
	if staged := op.BytesTransferred(); staged != op.Size {
		return "", fmt.Errorf("%w: staged %d of %d bytes", transfer.ErrSizeMismatch, staged, op.Size)
	}
	if err := transfer.Commit(ctx, c, target, manifest, units); err != nil {
		return "", err
	}
	return target, nil
}

// CommitBlocks asks the server to materialize target from the manifest.
func (c *Client) CommitBlocks(ctx context.Context, target string, manifest transfer.Manifest) error {
	ids := manifest.Strings()
	if ids == nil {
		ids = []string{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(CommitRoute, url.Values{"blobName": {target}}), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, nil)
}

// postMultipart streams form fields followed by one file section of declared size. onWrite, when set, is
// called with the size of every buffer handed to the transport.
func (c *Client) postMultipart(ctx context.Context, target string, fields [][2]string, fileName string, size int64,
	body io.Reader, onWrite func(int64), out any) error {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	written := make(chan error, 1)
	go func() {
		err := c.writeMultipart(mw, fields, fileName, size, body, onWrite)
		_ = pw.CloseWithError(err)
		written <- err
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, pr)
	if err == nil {
		req.Header.Set("Content-Type", mw.FormDataContentType())
		err = c.do(req, out)
	}
	// unblocks the writer when the request ended before the body was consumed
	_ = pr.CloseWithError(io.ErrClosedPipe)
	writeErr := <-written
	var readErr *transfer.ReadError
	if errors.As(writeErr, &readErr) {
		return readErr
	}
	return err
}

// sizedReader yields the first size bytes of r and fails with transfer.ErrSizeMismatch when r holds more.
type sizedReader struct {
	r         io.Reader
	remaining int64
}

func newSizedReader(r io.Reader, size int64) *sizedReader {
	return &sizedReader{r: r, remaining: size}
}

func (s *sizedReader) Read(p []byte) (int, error) {
	if s.remaining <= 0 {
		var extra [1]byte
		n, err := io.ReadFull(s.r, extra[:])
		if n > 0 {
			return 0, fmt.Errorf("%w: source is longer than declared", transfer.ErrSizeMismatch)
		}
		if errors.Is(err, io.EOF) {
			return 0, io.EOF
		}
		return 0, err
	}
	if int64(len(p)) > s.remaining {
		p = p[:s.remaining]
	}
	n, err := s.r.Read(p)
	s.remaining -= int64(n)
	return n, err
}

func (c *Client) writeMultipart(mw *multipart.Writer, fields [][2]string, fileName string, size int64,
	body io.Reader, onWrite func(int64)) error {
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return err
		}
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(fileName)))
	h.Set("Content-Type", "application/octet-stream")
	h.Set("Content-Length", strconv.FormatInt(size, 10))
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	buf := make([]byte, min(int64(c.bufferSize), max(size, 1)))
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, err := part.Write(buf[:n]); err != nil {
				return err
			}
			if onWrite != nil {
				onWrite(int64(n))
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return &transfer.ReadError{Err: readErr}
		}
	}
	return mw.Close()
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return &ResponseError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
