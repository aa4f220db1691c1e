package assessment

import (
	"context"
	"time"

	"github.com/rpattn/assessor/internal/domain"
	"github.com/rpattn/assessor/internal/temporal"
)

// kindOps erases the payload type so the service can serve every entity kind
// through one surface. Records are returned as *domain.Record[P] or
// []domain.Record[P] of the kind's payload type.
type kindOps interface {
	effective(ctx context.Context, id domain.Identity, year int) (any, error)
	timeline(ctx context.Context, id domain.Identity) (any, error)
	getOrCreate(ctx context.Context, id domain.Identity, year int, actorID string) (any, error)
	update(ctx context.Context, id domain.Identity, year int, patch domain.Values, req WriteRequest) (any, error)
	deactivate(ctx context.Context, id domain.Identity, year int, actorID string) (any, error)
	diff(ctx context.Context, id domain.Identity, fromYear, toYear int) (string, error)
	newLoader(wait time.Duration) batchLoader
}

type batchLoader interface {
	loadMany(ctx context.Context, ids []domain.Identity, year int) ([]any, error)
}

type typedOps[P any] struct {
	engine *temporal.Engine[P]
}

func (o typedOps[P]) effective(ctx context.Context, id domain.Identity, year int) (any, error) {
	record, err := o.engine.Resolver().GetEffectiveRecord(ctx, id, year)
	return found(record, err)
}

func (o typedOps[P]) timeline(ctx context.Context, id domain.Identity) (any, error) {
	records, err := o.engine.Resolver().Timeline(ctx, id)
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (o typedOps[P]) getOrCreate(ctx context.Context, id domain.Identity, year int, actorID string) (any, error) {
	record, err := o.engine.GetOrCreateForYear(ctx, id, year, temporal.GetOrCreateOptions[P]{CreateIfMissing: true, ActorID: actorID})
	return found(record, err)
}

func (o typedOps[P]) update(ctx context.Context, id domain.Identity, year int, patch domain.Values, req WriteRequest) (any, error) {
	record, err := o.engine.UpdateForYear(ctx, id, year, patch, temporal.UpdateOptions[P]{CreateNew: req.CreateNew, ActorID: req.ActorID})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (o typedOps[P]) deactivate(ctx context.Context, id domain.Identity, year int, actorID string) (any, error) {
	record, err := o.engine.Deactivate(ctx, id, year, actorID)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (o typedOps[P]) diff(ctx context.Context, id domain.Identity, fromYear, toYear int) (string, error) {
	return o.engine.Diff(ctx, id, fromYear, toYear)
}

func (o typedOps[P]) newLoader(wait time.Duration) batchLoader {
	return typedLoader[P]{loader: temporal.NewLoader(o.engine.Resolver(), wait)}
}

type typedLoader[P any] struct {
	loader *temporal.Loader[P]
}

func (l typedLoader[P]) loadMany(ctx context.Context, ids []domain.Identity, year int) ([]any, error) {
	records, err := l.loader.LoadMany(ctx, ids, year)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(records))
	for i, record := range records {
		if record != nil {
			out[i] = record
		}
	}
	return out, nil
}

// found keeps a missing record a plain nil instead of a typed nil pointer.
func found[P any](record *domain.Record[P], err error) (any, error) {
	if err != nil || record == nil {
		return nil, err
	}
	return record, nil
}
