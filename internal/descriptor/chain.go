package descriptor

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kozaktomas/findandseek/internal/backend"
	"github.com/kozaktomas/findandseek/internal/logging"
)

// ErrNoService is returned when neither a primary nor a fallback service is configured.
var ErrNoService = errors.New("no descriptor service available")

// PartialError reports crops of a batch that could not be described because the
// backend was unavailable for them. Descriptors holds the batch result with an error
// descriptor at each of Slots; Crops holds the matching input indices.
type PartialError struct {
	Descriptors []PersonDescriptor
	Crops       []int
	Slots       []int
	Err         error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("%d crops not described: %v", len(e.Crops), e.Err)
}

// Chain describes with Primary and switches to Fallback when Primary is missing or
// unavailable. Parse failures never reach the chain: Primary turns them into error
// descriptors itself. When only some crops of a batch hit an unavailable backend,
// just those crops are described again with Fallback.
type Chain struct {
	Primary    Service
	Fallback   Service
	Logger     *zap.Logger
	OnFallback func(err error) // called before every fallback call, err is nil when Primary is missing
}

func (c *Chain) Method() string {
	if c.Primary != nil {
		return c.Primary.Method()
	}
	if c.Fallback != nil {
		return c.Fallback.Method()
	}
	return "none"
}

func (c *Chain) Describe(ctx context.Context, image []byte) (PersonDescriptor, error) {
	if c.Primary != nil {
		desc, err := c.Primary.Describe(ctx, image)
		if !c.shouldFallback(ctx, err) {
			return desc, err
		}
		if err := c.fallback(err); err != nil {
			return PersonDescriptor{}, err
		}
	} else if err := c.fallback(nil); err != nil {
		return PersonDescriptor{}, err
	}
	return c.Fallback.Describe(ctx, image)
}

func (c *Chain) DescribeMany(ctx context.Context, images [][]byte) ([]PersonDescriptor, error) {
	if c.Primary != nil {
		descs, err := c.Primary.DescribeMany(ctx, images)
		var partial *PartialError
		if errors.As(err, &partial) && ctx.Err() == nil {
			return c.redescribe(ctx, images, partial)
		}
		if !c.shouldFallback(ctx, err) {
			return descs, err
		}
		if err := c.fallback(err); err != nil {
			return nil, err
		}
	} else if err := c.fallback(nil); err != nil {
		return nil, err
	}
	return c.Fallback.DescribeMany(ctx, images)
}

// redescribe replaces the error descriptors of unavailable crops with Fallback results.
// Without a fallback the error descriptors stay.
func (c *Chain) redescribe(ctx context.Context, images [][]byte, partial *PartialError) ([]PersonDescriptor, error) {
	descs := partial.Descriptors
	if c.Fallback == nil {
		return descs, nil
	}
	if err := c.fallback(partial); err != nil {
		return nil, err
	}

	for i, crop := range partial.Crops {
		desc, err := c.Fallback.Describe(ctx, images[crop])
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logging.OrNop(c.Logger).Warn("fallback failed to describe crop", zap.Int("crop", crop), zap.Error(err))
			continue
		}
		descs[partial.Slots[i]] = desc
	}
	return descs, nil
}

func (c *Chain) shouldFallback(ctx context.Context, err error) bool {
	return err != nil && ctx.Err() == nil && backend.IsUnavailable(err)
}

// fallback reports the switch, or returns why it is impossible.
func (c *Chain) fallback(cause error) error {
	if c.Fallback == nil {
		if cause != nil {
			return cause
		}
		return ErrNoService
	}
	if cause != nil {
		logging.OrNop(c.Logger).Warn("descriptor backend unavailable, using fallback", zap.Error(cause))
	}
	if c.OnFallback != nil {
		c.OnFallback(cause)
	}
	return nil
}
