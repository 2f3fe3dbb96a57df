package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/9seconds/ipgeo/geolib"
	"go.uber.org/multierr"
)

type chainProvider struct {
	providers []geolib.Provider
}

func (c chainProvider) Name() string {
	names := make([]string, len(c.providers))

	for i, v := range c.providers {
		names[i] = v.Name()
	}

	return NameChain + "(" + strings.Join(names, ",") + ")"
}

func (c chainProvider) Ready() error {
	var err error

	for _, v := range c.providers {
		if e := v.Ready(); e != nil {
			err = multierr.Append(err, fmt.Errorf("%s: %w", v.Name(), e))
		}
	}

	return err
}

// Lookup asks providers one by one. Not found falls through to the
// next provider. Failures fall through as well but the last one is
// reported if nobody has answered.
func (c chainProvider) Lookup(ctx context.Context, addr geolib.Address) (geolib.ProviderRecord, error) {
	var lastErr error

	for _, v := range c.providers {
		record, err := v.Lookup(ctx, addr)

		switch {
		case err == nil:
			return record, nil
		case errors.Is(err, geolib.ErrNotFound):
		default:
			lastErr = fmt.Errorf("%s: %w", v.Name(), err)
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return geolib.ProviderRecord{}, ctxErr
		}
	}

	if lastErr != nil {
		return geolib.ProviderRecord{}, lastErr
	}

	return geolib.ProviderRecord{}, geolib.ErrNotFound
}

// NewChain creates a provider which asks given providers in order.
func NewChain(providers ...geolib.Provider) (geolib.Provider, error) {
	switch len(providers) {
	case 0:
		return nil, ErrNoProviders
	case 1:
		return providers[0], nil
	}

	return chainProvider{
		providers: providers,
	}, nil
}
