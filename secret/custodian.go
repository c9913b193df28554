package secret

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/poiesic/kbpipe/core"
)

// Target is where credential bundles live. Reads may return masked values.
type Target interface {
	LoadCredentials(ctx context.Context, definition string) (Bundle, error)
	SaveCredentials(ctx context.Context, definition string, sealed *Sealed) error
}

// Custodian wraps read-modify-write cycles on credential bundles so that a
// masked value is never written back.
type Custodian struct {
	target Target
	store  Store
	logger *slog.Logger
}

// Option configures a Custodian.
type Option func(*Custodian) error

// WithLogger sets the logger. nil falls back to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Custodian) error {
		if logger != nil {
			c.logger = logger
		}
		return nil
	}
}

// NewCustodian creates a Custodian over target, resolving masked fields from store.
func NewCustodian(target Target, store Store, opts ...Option) (*Custodian, error) {
	if target == nil || store == nil {
		return nil, fmt.Errorf("%w: custodian requires a target and a secret store", core.ErrConfiguration)
	}
	c := &Custodian{
		target: target,
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	c.logger = c.logger.With("component", "secret-custodian")
	return c, nil
}

// Load returns the stored bundle of def. Sensitive fields are typically masked.
func (c *Custodian) Load(ctx context.Context, def *core.PipelineDefinition) (Bundle, error) {
	bundle, err := c.target.LoadCredentials(ctx, def.Name)
	if err != nil {
		return nil, fmt.Errorf("load credentials for %s: %w", def.Name, err)
	}
	if bundle == nil {
		bundle = Bundle{}
	}
	c.logger.Debug("loaded credentials", "definition", def.Name, "fields", len(bundle), "masked", len(bundle.Masked()))
	return bundle, nil
}

// Save writes bundle for def. Every masked field, every field holding a mask
// placeholder as its value, and every field def declares but bundle lacks, is
// replaced by its real value from the secret store. If any cannot be resolved
// to a real value nothing is written.
func (c *Custodian) Save(ctx context.Context, def *core.PipelineDefinition, bundle Bundle) error {
	out := bundle.Clone()
	for field, v := range out {
		if !v.IsMasked() && IsPlaceholder(field, v.value) {
			out[field] = Masked()
		}
	}
	for _, field := range def.Credentials {
		if _, ok := out[field]; !ok {
			out[field] = Masked()
		}
	}

	var errs []error
	for _, field := range out.Masked() {
		value, err := c.store.Resolve(ctx, field)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
			continue
		}
		if IsPlaceholder(field, value) {
			errs = append(errs, fmt.Errorf("%s: %w", field, ErrPlaceholderValue))
			continue
		}
		out[field] = Real(value)
	}
	if len(errs) > 0 {
		err := errors.Join(errs...)
		c.logger.Error("refusing to save credentials", "definition", def.Name, "unresolved", len(errs))
		return fmt.Errorf("%w: %w: %s: %w", core.ErrConfiguration, ErrUnresolved, def.Name, err)
	}

	sealed, err := Seal(out)
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrConfiguration, err)
	}
	if err := c.target.SaveCredentials(ctx, def.Name, sealed); err != nil {
		return fmt.Errorf("save credentials for %s: %w", def.Name, err)
	}
	c.logger.Info("saved credentials", "definition", def.Name, "fields", sealed.Len())
	return nil
}

// Update loads the bundle of def, applies fn and saves the result.
func (c *Custodian) Update(ctx context.Context, def *core.PipelineDefinition, fn func(Bundle) error) error {
	bundle, err := c.Load(ctx, def)
	if err != nil {
		return err
	}
	if err := fn(bundle); err != nil {
		return fmt.Errorf("update credentials for %s: %w", def.Name, err)
	}
	return c.Save(ctx, def, bundle)
}

// Sync re-resolves every declared credential of def from the secret store and saves.
func (c *Custodian) Sync(ctx context.Context, def *core.PipelineDefinition) error {
	return c.Update(ctx, def, func(b Bundle) error {
		for _, field := range def.Credentials {
			b[field] = Masked()
		}
		return nil
	})
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrSecretNotFound)
}
