package httpds

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// Source is a datasource.Source that GETs a URL on every Open.
type Source struct {
	client  *Client
	url     string
	headers http.Header
}

// NewSource returns a Source fetching url through c.
func NewSource(c *Client, url string, headers http.Header) *Source {
	return &Source{client: c, url: url, headers: headers}
}

// Open issues the GET and returns the response body. Any non-2xx status is
// an error.
func (s *Source) Open(ctx context.Context) (io.ReadCloser, error) {
	resp, err := s.client.Get(ctx, s.url, s.headers)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("httpds: GET %s: status %d", s.url, resp.StatusCode)
	}
	return resp.Body, nil
}

func (s *Source) Describe() string { return s.url }
