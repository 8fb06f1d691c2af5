package groups

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/secengine/internal/datatypes"
	"github.com/odyssey-erp/secengine/internal/observability"
	"github.com/odyssey-erp/secengine/internal/security"
)

// Repository resolves access group definitions. Persisted groups are compiled
// from the database on every call; named groups come from the registry.
type Repository struct {
	store   security.Repository
	types   *datatypes.Registry
	logger  *slog.Logger
	metrics *observability.Metrics

	named  sync.Map // string -> *AccessGroupDefinition
	flight singleflight.Group
}

// NewRepository wires the resolver. Definitions of every provider are
// registered immediately, in order, so later providers override earlier ones.
func NewRepository(ctx context.Context, store security.Repository, types *datatypes.Registry, logger *slog.Logger, metrics *observability.Metrics, providers ...Provider) (*Repository, error) {
	if types == nil {
		types = datatypes.NewRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Repository{store: store, types: types, logger: logger, metrics: metrics}
	for _, p := range providers {
		defs, err := p.Definitions(ctx)
		if err != nil {
			return nil, fmt.Errorf("groups: load provider: %w", err)
		}
		r.Register(defs...)
	}
	return r, nil
}

// Register stores definitions under their names, replacing existing ones.
func (r *Repository) Register(defs ...*AccessGroupDefinition) {
	for _, def := range defs {
		if def == nil {
			continue
		}
		r.named.Store(def.Name(), def)
	}
}

// Definitions lists the registered definitions sorted by name.
func (r *Repository) Definitions() []*AccessGroupDefinition {
	var out []*AccessGroupDefinition
	r.named.Range(func(_, value any) bool {
		out = append(out, value.(*AccessGroupDefinition))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Definition resolves the group referenced by id.
func (r *Repository) Definition(ctx context.Context, id Identifier) (*AccessGroupDefinition, error) {
	if groupID, ok := id.ID(); ok {
		def, err := r.resolveStored(ctx, groupID)
		r.metrics.ObserveGroupResolution("db", err)
		return def, err
	}
	if id.Name() != "" {
		def, err := r.lookup(id.Name())
		r.metrics.ObserveGroupResolution("name", err)
		return def, err
	}
	return nil, fmt.Errorf("groups: %s: %w", id, security.ErrNotFound)
}

func (r *Repository) lookup(name string) (*AccessGroupDefinition, error) {
	value, ok := r.named.Load(name)
	if !ok {
		return nil, fmt.Errorf("groups: group definition %q: %w", name, security.ErrNotFound)
	}
	return value.(*AccessGroupDefinition), nil
}

func (r *Repository) resolveStored(ctx context.Context, groupID uuid.UUID) (*AccessGroupDefinition, error) {
	// joined callers must not inherit the cancellation of the one that started the flight
	flightCtx := context.WithoutCancel(ctx)
	ch := r.flight.DoChan(groupID.String(), func() (any, error) {
		var def *AccessGroupDefinition
		err := r.store.WithTx(flightCtx, func(ctx context.Context, tx security.TxRepository) error {
			var err error
			def, err = r.Compile(ctx, tx, groupID)
			return err
		})
		return def, err
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*AccessGroupDefinition), nil
	}
}

// Compile builds the definition of a persisted group inside an open transaction.
func (r *Repository) Compile(ctx context.Context, tx security.TxRepository, groupID uuid.UUID) (*AccessGroupDefinition, error) {
	h, err := LoadHierarchy(ctx, tx, groupID)
	if err != nil {
		return nil, err
	}
	return r.Assemble(h)
}

// Assemble compiles a loaded hierarchy. Duplicate attribute names are
// reported through the repository logger.
func (r *Repository) Assemble(h Hierarchy) (*AccessGroupDefinition, error) {
	b := NewBuilder(h.Group.Name)
	for _, c := range h.Constraints() {
		b.WithConstraint(c)
	}
	updates, err := CompileAttributes(r.types, h.Attributes(), r.warnDuplicate)
	if err != nil {
		return nil, err
	}
	for _, u := range updates {
		b.WithSessionAttribute(u.Name, u.Value)
	}
	return b.Build(), nil
}

func (r *Repository) warnDuplicate(name string) {
	r.metrics.DuplicateAttribute()
	WarnDuplicate(r.logger)(name)
}
