package transfer

import (
	"context"

	"github.com/italolelis/sgx_downloader/internal/telemetry"
)

// InstrumentedSource wraps a Source with a span per fetch.
type InstrumentedSource struct {
	source    Source
	telemetry *telemetry.Telemetry
}

// NewInstrumentedSource creates a new instrumented source.
func NewInstrumentedSource(source Source, tel *telemetry.Telemetry) *InstrumentedSource {
	return &InstrumentedSource{
		source:    source,
		telemetry: tel,
	}
}

// Fetch fetches a session file with telemetry.
func (s *InstrumentedSource) Fetch(ctx context.Context, index int, file string) (*Response, error) {
	var result *Response

	var err error

	instrumentedErr := s.telemetry.InstrumentOperation(ctx, "fetch", "publisher", func(ctx context.Context) error {
		result, err = s.source.Fetch(ctx, index, file)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}
