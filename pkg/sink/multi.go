package sink

import (
	"context"
	"errors"

	"github.com/zen-systems/inkflow/pkg/pipeline"
)

type multi struct {
	sinks []pipeline.ResultSink
}

// Multi fans a record out to every sink. All sinks are attempted even when
// one fails; the errors are joined.
func Multi(sinks ...pipeline.ResultSink) pipeline.ResultSink {
	return &multi{sinks: sinks}
}

func (m *multi) Record(ctx context.Context, run *pipeline.PipelineRun) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Record(ctx, run); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
