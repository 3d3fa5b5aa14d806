package attr

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	sharedtypes "github.com/liftroster/rostersync/app/shared/types"
)

// Thin wrappers over slog.Attr so call sites read uniformly and domain
// scalar types log without manual conversion.

func String(key, value string) slog.Attr {
	return slog.String(key, value)
}

func Int(key string, value int) slog.Attr {
	return slog.Int(key, value)
}

func Int64(key string, value int64) slog.Attr {
	return slog.Int64(key, value)
}

func Float64(key string, value float64) slog.Attr {
	return slog.Float64(key, value)
}

func Bool(key string, value bool) slog.Attr {
	return slog.Bool(key, value)
}

func Time(key string, value time.Time) slog.Attr {
	return slog.Time(key, value)
}

func Duration(key string, value time.Duration) slog.Attr {
	return slog.Duration(key, value)
}

func Any(key string, value any) slog.Attr {
	return slog.Any(key, value)
}

func Error(err error) slog.Attr {
	return slog.Any("error", err)
}

func UUIDValue(key string, value uuid.UUID) slog.Attr {
	return slog.String(key, value.String())
}

func AthleteID(key string, id sharedtypes.AthleteID) slog.Attr {
	return slog.Int64(key, int64(id))
}

func ExternalID(key string, id sharedtypes.ExternalID) slog.Attr {
	return slog.Int64(key, int64(id))
}

type correlationIDKey struct{}

// WithCorrelationID stores a correlation id on the context for downstream
// log lines and published events.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, id)
}

// CorrelationIDFromContext returns the correlation id on ctx, minting one
// when absent so a resolution always has a traceable id.
func CorrelationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

// ExtractCorrelationID logs the correlation id carried by ctx, if any.
func ExtractCorrelationID(ctx context.Context) slog.Attr {
	if id, ok := ctx.Value(correlationIDKey{}).(string); ok && id != "" {
		return slog.String("correlation_id", id)
	}
	return slog.String("correlation_id", "")
}
