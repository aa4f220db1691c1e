package temporal

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/graph-gophers/dataloader"

	"github.com/rpattn/assessor/internal/domain"
)

// Loader batches effective-record lookups issued close together. Lookups that
// share kind, municipality and year collapse into one grouped scope query.
// Create one Loader per request; results are cached for its lifetime.
type Loader[P any] struct {
	loader *dataloader.Loader
}

type scopeYear struct {
	kind           domain.EntityKind
	municipalityID uuid.UUID
	year           int
}

func NewLoader[P any](resolver *Resolver[P], wait time.Duration) *Loader[P] {
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		results := make([]*dataloader.Result, len(keys))
		groups := map[scopeYear][]int{}
		identities := make([]domain.Identity, len(keys))

		for i, k := range keys {
			id, year, err := decodeLoaderKey(k.String())
			if err != nil {
				results[i] = &dataloader.Result{Error: err}
				continue
			}
			identities[i] = id
			group := scopeYear{kind: id.Kind, municipalityID: id.MunicipalityID, year: year}
			groups[group] = append(groups[group], i)
		}

		for group, positions := range groups {
			scope := domain.Scope{Kind: group.kind, MunicipalityID: group.municipalityID}
			for _, pos := range positions {
				scope.Keys = append(scope.Keys, identities[pos].Key)
			}

			records, err := resolver.GetEffectiveRecordsForScope(ctx, scope, group.year)
			if err != nil {
				for _, pos := range positions {
					results[pos] = &dataloader.Result{Error: err}
				}
				continue
			}

			byKey := make(map[string]*domain.Record[P], len(records))
			for i := range records {
				byKey[records[i].Identity.Key] = &records[i]
			}
			for _, pos := range positions {
				// a missing identity resolves to a nil record, not an error
				results[pos] = &dataloader.Result{Data: byKey[identities[pos].Key]}
			}
		}
		return results
	}

	if wait <= 0 {
		wait = 2 * time.Millisecond
	}
	return &Loader[P]{loader: dataloader.NewBatchedLoader(batchFn, dataloader.WithWait(wait))}
}

// Load returns the effective record of id for year, or nil.
func (l *Loader[P]) Load(ctx context.Context, id domain.Identity, year int) (*domain.Record[P], error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	data, err := l.loader.Load(ctx, dataloader.StringKey(encodeLoaderKey(id, year)))()
	if err != nil {
		return nil, err
	}
	record, _ := data.(*domain.Record[P])
	return record, nil
}

// LoadMany resolves several identities for one year in input order.
func (l *Loader[P]) LoadMany(ctx context.Context, ids []domain.Identity, year int) ([]*domain.Record[P], error) {
	keys := make(dataloader.Keys, len(ids))
	for i, id := range ids {
		if err := id.Validate(); err != nil {
			return nil, err
		}
		keys[i] = dataloader.StringKey(encodeLoaderKey(id, year))
	}
	data, errs := l.loader.LoadMany(ctx, keys)()
	records := make([]*domain.Record[P], len(ids))
	for i := range ids {
		if i < len(errs) && errs[i] != nil {
			return nil, errs[i]
		}
		if i < len(data) {
			records[i], _ = data[i].(*domain.Record[P])
		}
	}
	return records, nil
}

func encodeLoaderKey(id domain.Identity, year int) string {
	return fmt.Sprintf("%s|%s|%d|%s", id.Kind, id.MunicipalityID, year, id.Key)
}

func decodeLoaderKey(raw string) (domain.Identity, int, error) {
	parts := strings.SplitN(raw, "|", 4)
	if len(parts) != 4 {
		return domain.Identity{}, 0, fmt.Errorf("invalid loader key %q", raw)
	}
	municipalityID, err := uuid.Parse(parts[1])
	if err != nil {
		return domain.Identity{}, 0, fmt.Errorf("invalid loader key %q: %w", raw, err)
	}
	year, err := strconv.Atoi(parts[2])
	if err != nil {
		return domain.Identity{}, 0, fmt.Errorf("invalid loader key %q: %w", raw, err)
	}
	return domain.Identity{Kind: domain.EntityKind(parts[0]), MunicipalityID: municipalityID, Key: parts[3]}, year, nil
}
