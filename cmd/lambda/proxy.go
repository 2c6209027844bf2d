package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"github.com/stefando/largeFileUpload/internal/logging"
)

// serveProxyRequest runs one API Gateway event through handler and converts the captured response.
func serveProxyRequest(ctx context.Context, handler http.Handler, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	httpReq, err := createHTTPRequest(ctx, req)
	if err != nil {
		logging.FromContext(ctx).WithError(err).Error("Error creating HTTP request")
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusBadRequest,
			Body:       "Malformed request",
		}
	}

	rec := newResponseRecorder()
	handler.ServeHTTP(rec, httpReq)

	return events.APIGatewayProxyResponse{
		StatusCode:        rec.statusCode,
		MultiValueHeaders: rec.header,
		Body:              rec.body.String(),
	}
}

// createHTTPRequest creates an http.Request from an API Gateway event
func createHTTPRequest(ctx context.Context, req events.APIGatewayProxyRequest) (*http.Request, error) {
	var body io.Reader = http.NoBody
	contentLength := int64(0)
	if req.Body != "" {
		data := []byte(req.Body)
		// binary media types, multipart included, arrive base64 encoded
		if req.IsBase64Encoded {
			decoded, err := base64.StdEncoding.DecodeString(req.Body)
			if err != nil {
				return nil, err
			}
			data = decoded
		}
		body = bytes.NewReader(data)
		contentLength = int64(len(data))
	}

	path := req.Path
	for param, value := range req.PathParameters {
		path = strings.ReplaceAll(path, "{"+param+"}", value)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.HTTPMethod, path, body)
	if err != nil {
		return nil, err
	}
	httpReq.ContentLength = contentLength

	query := httpReq.URL.Query()
	for param, values := range req.MultiValueQueryStringParameters {
		for _, v := range values {
			query.Add(param, v)
		}
	}
	for param, value := range req.QueryStringParameters {
		if !query.Has(param) {
			query.Add(param, value)
		}
	}
	httpReq.URL.RawQuery = query.Encode()

	for key, values := range req.MultiValueHeaders {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	for key, value := range req.Headers {
		if httpReq.Header.Get(key) == "" {
			httpReq.Header.Set(key, value)
		}
	}
	if ip := req.RequestContext.Identity.SourceIP; ip != "" {
		httpReq.RemoteAddr = ip
	}
	return httpReq, nil
}

// responseRecorder captures Chi's HTTP response
type responseRecorder struct {
	header      http.Header
	body        bytes.Buffer
	statusCode  int
	wroteHeader bool
}

func newResponseRecorder() *responseRecorder {
	return &responseRecorder{
		header:     make(http.Header),
		statusCode: http.StatusOK,
	}
}

func (r *responseRecorder) Header() http.Header {
	return r.header
}

func (r *responseRecorder) Write(body []byte) (int, error) {
	r.wroteHeader = true
	return r.body.Write(body)
}

func (r *responseRecorder) WriteHeader(statusCode int) {
	if r.wroteHeader {
		return
	}
	r.wroteHeader = true
	r.statusCode = statusCode
}
