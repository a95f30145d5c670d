package runner

import (
	"context"
	"errors"

	"github.com/aretw0/tapestry/pkg/domain"
	"github.com/aretw0/tapestry/pkg/ports"
)

// MultiSink fans a result out to every sink and joins their errors.
type MultiSink []ports.OutputSink

// Deliver calls every sink, even after one fails.
func (m MultiSink) Deliver(ctx context.Context, res domain.Result) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Deliver(ctx, res); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
