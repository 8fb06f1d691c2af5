package groups

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/secengine/internal/datatypes"
	"github.com/odyssey-erp/secengine/internal/security"
	"github.com/odyssey-erp/secengine/internal/security/securitytest"
)

func newTestRepository(t *testing.T, store security.Repository, logger *slog.Logger, providers ...Provider) *Repository {
	t.Helper()
	repo, err := NewRepository(context.Background(), store, datatypes.NewRegistry(), logger, nil, providers...)
	require.NoError(t, err)
	return repo
}

func attr(name, datatype, value string) security.SessionAttribute {
	return security.SessionAttribute{ID: uuid.New(), Name: name, Datatype: datatype, StringValue: value}
}

func TestDefinitionCombinesAncestorConstraints(t *testing.T) {
	store := securitytest.NewStore()
	parent := store.AddGroup(security.Group{
		Name: "Company",
		Constraints: []security.Constraint{{
			EntityName: "sales$Order", OperationType: security.ConstraintRead, IsActive: true,
			WhereClause: "{E}.company.id = :session$companyId",
		}},
	})
	child := store.AddGroup(security.Group{
		Name:     "Sales",
		ParentID: &parent.ID,
		Constraints: []security.Constraint{{
			EntityName: "sales$Order", OperationType: security.ConstraintRead, IsActive: true,
			WhereClause: "{E}.region = :session$region", JoinClause: "join {E}.customer c",
		}},
	})

	repo := newTestRepository(t, store, nil)
	def, err := repo.Definition(context.Background(), ByID(child.ID))
	require.NoError(t, err)

	assert.Equal(t, "Sales", def.Name())
	filters := def.Constraints().RowFilters("sales$Order")
	require.Len(t, filters, 2)
	assert.Equal(t, "{E}.region = :session$region", filters[0].Where)
	assert.Equal(t, "join {E}.customer c", filters[0].Join)
	assert.Equal(t, "{E}.company.id = :session$companyId", filters[1].Where)
	assert.Equal(t, 1, store.Transactions())
}

func TestDefinitionKeepsDuplicateConstraints(t *testing.T) {
	store := securitytest.NewStore()
	c := security.Constraint{EntityName: "sales$Order", OperationType: security.ConstraintRead, IsActive: true, WhereClause: "1=1"}
	parent := store.AddGroup(security.Group{Name: "Root", Constraints: []security.Constraint{c}})
	child := store.AddGroup(security.Group{Name: "Leaf", ParentID: &parent.ID, Constraints: []security.Constraint{c}})

	def, err := newTestRepository(t, store, nil).Definition(context.Background(), ByID(child.ID))
	require.NoError(t, err)
	assert.Equal(t, 2, def.Constraints().Len())
}

func TestDefinitionSkipsInactiveConstraints(t *testing.T) {
	store := securitytest.NewStore()
	g := store.AddGroup(security.Group{
		Name: "Ops",
		Constraints: []security.Constraint{
			{EntityName: "sales$Order", OperationType: security.ConstraintRead, WhereClause: "{E}.x = 1"},
			{EntityName: "sales$Order", OperationType: security.ConstraintCustom, Code: "ok"},
		},
	})

	def, err := newTestRepository(t, store, nil).Definition(context.Background(), ByID(g.ID))
	require.NoError(t, err)
	assert.Zero(t, def.Constraints().Len())
}

func TestDefinitionExpandsConstraintOperations(t *testing.T) {
	store := securitytest.NewStore()
	g := store.AddGroup(security.Group{
		Name: "Ops",
		Constraints: []security.Constraint{
			{EntityName: "sales$Order", OperationType: security.ConstraintAll, IsActive: true, WhereClause: "{E}.open = true", Script: "{E}.open"},
			{EntityName: "sales$Invoice", OperationType: security.ConstraintCustom, IsActive: true, Code: "canPay", JoinClause: "join {E}.order o"},
			{EntityName: "sales$Invoice", OperationType: security.ConstraintUpdate, IsActive: true, WhereClause: "ignored for update"},
		},
	})

	def, err := newTestRepository(t, store, nil).Definition(context.Background(), ByID(g.ID))
	require.NoError(t, err)
	set := def.Constraints()

	assert.Len(t, set.RowFilters("sales$Order"), 1)
	for _, op := range []security.EntityOp{security.OpCreate, security.OpRead, security.OpUpdate, security.OpDelete} {
		scripts := set.Scripts("sales$Order", op)
		require.Len(t, scripts, 1, op)
		assert.Equal(t, "{E}.open", scripts[0].Script)
	}
	assert.Equal(t, []CustomScriptConstraint{{EntityName: "sales$Invoice", Code: "canPay", Join: "join {E}.order o"}}, set.Custom("sales$Invoice"))
	assert.Empty(t, set.RowFilters("sales$Invoice"))
	assert.Equal(t, []string{"sales$Invoice", "sales$Order"}, set.Entities())
}

func TestDefinitionAttributesOwnWinsOverAncestors(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	store := securitytest.NewStore()
	root := store.AddGroup(security.Group{Name: "Root", SessionAttributes: []security.SessionAttribute{
		attr("region", "string", "global"),
		attr("limit", "int", "10"),
	}})
	mid := store.AddGroup(security.Group{Name: "Mid", ParentID: &root.ID, SessionAttributes: []security.SessionAttribute{
		attr("region", "string", "emea"),
	}})
	leaf := store.AddGroup(security.Group{Name: "Leaf", ParentID: &mid.ID, SessionAttributes: []security.SessionAttribute{
		attr("region", "string", "north"),
		attr("limit", "int", ""),
	}})

	def, err := newTestRepository(t, store, logger).Definition(context.Background(), ByID(leaf.ID))
	require.NoError(t, err)

	region, ok := def.SessionAttribute("region")
	require.True(t, ok)
	assert.Equal(t, "north", region)
	_, ok = def.SessionAttribute("limit")
	assert.False(t, ok, "blank value removes the inherited attribute")

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "attribute=region"))
	assert.Equal(t, 1, strings.Count(out, "attribute=limit"))
	assert.Contains(t, out, "level=WARN")
}

func TestDefinitionAttributeParseFailureAborts(t *testing.T) {
	store := securitytest.NewStore()
	g := store.AddGroup(security.Group{Name: "Bad", SessionAttributes: []security.SessionAttribute{
		attr("limit", "int", "ten"),
	}})

	def, err := newTestRepository(t, store, nil).Definition(context.Background(), ByID(g.ID))
	require.Error(t, err)
	assert.Nil(t, def)
	assert.ErrorIs(t, err, datatypes.ErrUnparsable)
	assert.Contains(t, err.Error(), "limit")
}

func TestDefinitionUnknownGroup(t *testing.T) {
	store := securitytest.NewStore()
	repo := newTestRepository(t, store, nil)

	_, err := repo.Definition(context.Background(), ByID(uuid.New()))
	assert.ErrorIs(t, err, security.ErrNotFound)

	_, err = repo.Definition(context.Background(), ByName("missing"))
	assert.ErrorIs(t, err, security.ErrNotFound)

	_, err = repo.Definition(context.Background(), Identifier{})
	assert.ErrorIs(t, err, security.ErrNotFound)
	assert.Zero(t, store.Transactions())
}

func TestDefinitionPropagatesStoreErrors(t *testing.T) {
	store := securitytest.NewStore()
	g := store.AddGroup(security.Group{Name: "G"})
	store.FailWith = errors.New("connection reset")

	_, err := newTestRepository(t, store, nil).Definition(context.Background(), ByID(g.ID))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestRegistryLastWriteWins(t *testing.T) {
	first := NewBuilder("north").WithSessionAttribute("region", "n1").Build()
	second := NewBuilder("north").WithSessionAttribute("region", "n2").Build()
	other := NewBuilder("audit").Build()

	repo := newTestRepository(t, securitytest.NewStore(), nil, StaticProvider{first, other}, StaticProvider{second})

	def, err := repo.Definition(context.Background(), ByName("north"))
	require.NoError(t, err)
	region, _ := def.SessionAttribute("region")
	assert.Equal(t, "n2", region)

	repo.Register(NewBuilder("north").WithSessionAttribute("region", "n3").Build())
	def, err = repo.Definition(context.Background(), ByName("north"))
	require.NoError(t, err)
	region, _ = def.SessionAttribute("region")
	assert.Equal(t, "n3", region)

	names := make([]string, 0)
	for _, d := range repo.Definitions() {
		names = append(names, d.Name())
	}
	assert.Equal(t, []string{"audit", "north"}, names)
}

func TestNewRepositoryFailsOnProviderError(t *testing.T) {
	boom := errors.New("boom")
	_, err := NewRepository(context.Background(), securitytest.NewStore(), nil, nil, nil,
		ProviderFunc(func(context.Context) ([]*AccessGroupDefinition, error) { return nil, boom }))
	assert.ErrorIs(t, err, boom)
}

func TestDefinitionConcurrentResolution(t *testing.T) {
	store := securitytest.NewStore()
	g := store.AddGroup(security.Group{Name: "G", SessionAttributes: []security.SessionAttribute{attr("a", "string", "x")}})
	repo := newTestRepository(t, store, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			def, err := repo.Definition(context.Background(), ByID(g.ID))
			if err == nil && def.Name() != "G" {
				err = errors.New("unexpected definition")
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, store.Transactions(), 16)
}

// gatedStore holds every transaction until release is closed.
type gatedStore struct {
	security.Repository
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (g *gatedStore) WithTx(ctx context.Context, fn func(context.Context, security.TxRepository) error) error {
	if g.calls.Add(1) == 1 {
		close(g.entered)
	}
	<-g.release
	return g.Repository.WithTx(ctx, fn)
}

func TestDefinitionSurvivesCancelledLeader(t *testing.T) {
	store := securitytest.NewStore()
	g := store.AddGroup(security.Group{Name: "G"})
	gated := &gatedStore{Repository: store, entered: make(chan struct{}), release: make(chan struct{})}
	repo := newTestRepository(t, gated, nil)

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := repo.Definition(leaderCtx, ByID(g.ID))
		leaderErr <- err
	}()
	<-gated.entered

	type result struct {
		def *AccessGroupDefinition
		err error
	}
	follower := make(chan result, 1)
	go func() {
		def, err := repo.Definition(context.Background(), ByID(g.ID))
		follower <- result{def, err}
	}()
	// let the follower join the pending flight
	time.Sleep(20 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-leaderErr, context.Canceled)

	close(gated.release)
	res := <-follower
	require.NoError(t, res.err)
	assert.Equal(t, "G", res.def.Name())
	assert.EqualValues(t, 1, gated.calls.Load())
}

func TestDefinitionIsImmutable(t *testing.T) {
	def := NewBuilder("g").WithSessionAttribute("a", "x").WithJPQLConstraint("e", "w", "").Build()
	attrs := def.SessionAttributes()
	attrs["a"] = "mutated"
	rules := def.Constraints().ForEntity("e")
	rules[0] = CustomScriptConstraint{EntityName: "e"}

	v, _ := def.SessionAttribute("a")
	assert.Equal(t, "x", v)
	assert.IsType(t, JPQLConstraint{}, def.Constraints().ForEntity("e")[0])
}
