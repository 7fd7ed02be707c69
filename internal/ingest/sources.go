package ingest

import (
	"fmt"
	"net/http"

	"tradepipe/internal/config"
	"tradepipe/internal/datasource"
	"tradepipe/internal/datasource/file"
	"tradepipe/internal/datasource/httpds"
)

// InputsFromConfig builds one Input per configured source.
func InputsFromConfig(srcs []config.Source) ([]Input, error) {
	out := make([]Input, 0, len(srcs))
	for i, s := range srcs {
		src, err := newSource(s)
		if err != nil {
			return nil, fmt.Errorf("sources[%d] (%s): %w", i, s.Dataset, err)
		}
		opts := s.Parser.Options
		if opts == nil {
			opts = config.Options{}
		}
		out = append(out, Input{Dataset: s.Dataset, Source: src, Options: opts})
	}
	return out, nil
}

func newSource(s config.Source) (datasource.Source, error) {
	switch s.Kind {
	case "file":
		if s.File.Path == "" {
			return nil, fmt.Errorf("file source requires a path")
		}
		return file.NewLocal(s.File.Path), nil
	case "http":
		if s.HTTP.URL == "" {
			return nil, fmt.Errorf("http source requires a url")
		}
		hdr := http.Header{}
		for k, v := range s.HTTP.Headers {
			hdr.Set(k, v)
		}
		c := httpds.NewClient(httpds.Config{
			Timeout:            s.HTTP.Timeout.D(),
			MaxRetries:         s.HTTP.MaxRetries,
			InsecureSkipVerify: s.HTTP.InsecureSkipVerify,
		})
		return httpds.NewSource(c, s.HTTP.URL, hdr), nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", s.Kind)
	}
}
