package secret

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/poiesic/kbpipe/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryTarget behaves like the index service: sensitive fields come back masked.
type memoryTarget struct {
	mu     sync.Mutex
	stored map[string]map[string]string
	writes int
}

func newMemoryTarget() *memoryTarget {
	return &memoryTarget{stored: make(map[string]map[string]string)}
}

func (m *memoryTarget) LoadCredentials(_ context.Context, definition string) (Bundle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := Bundle{}
	for field, v := range m.stored[definition] {
		if Sensitive(field) {
			out[field] = Masked()
		} else {
			out[field] = Real(v)
		}
	}
	return out, nil
}

func (m *memoryTarget) SaveCredentials(_ context.Context, definition string, sealed *Sealed) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stored[definition] = sealed.Fields()
	m.writes++
	return nil
}

func testDefinition() *core.PipelineDefinition {
	def := &core.PipelineDefinition{
		Name:        "manuals",
		Credentials: []string{"index.api_key", "storage.connection_string"},
	}
	def.ApplyDefaults()
	return def
}

func TestCustodian_SaveResolvesMaskedFields(t *testing.T) {
	ctx := context.Background()
	target := newMemoryTarget()
	target.stored["manuals"] = map[string]string{
		"index.api_key":             "old-key",
		"storage.connection_string": "old-conn",
		"index.endpoint":            "https://search.example.com",
	}
	store := MapStore{"index.api_key": "new-key", "storage.connection_string": "new-conn"}

	custodian, err := NewCustodian(target, store)
	require.NoError(t, err)

	def := testDefinition()
	err = custodian.Update(ctx, def, func(b Bundle) error {
		assert.True(t, b["index.api_key"].IsMasked())
		b["index.endpoint"] = Real("https://search2.example.com")
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"index.api_key":             "new-key",
		"storage.connection_string": "new-conn",
		"index.endpoint":            "https://search2.example.com",
	}, target.stored["manuals"])
}

func TestCustodian_SaveRefusesUnresolved(t *testing.T) {
	ctx := context.Background()
	target := newMemoryTarget()
	target.stored["manuals"] = map[string]string{"index.api_key": "k", "storage.connection_string": "c"}

	custodian, err := NewCustodian(target, MapStore{"index.api_key": "k2"})
	require.NoError(t, err)

	bundle, err := custodian.Load(ctx, testDefinition())
	require.NoError(t, err)

	err = custodian.Save(ctx, testDefinition(), bundle)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnresolved)
	assert.ErrorIs(t, err, core.ErrConfiguration)
	assert.ErrorIs(t, err, ErrSecretNotFound)
	assert.False(t, core.IsTransient(err))

	assert.Equal(t, 0, target.writes, "nothing may be written when a field is unresolved")
	assert.Equal(t, "c", target.stored["manuals"]["storage.connection_string"])
}

func TestCustodian_SaveRefusesPlaceholderFromStore(t *testing.T) {
	ctx := context.Background()
	target := newMemoryTarget()
	custodian, err := NewCustodian(target, MapStore{
		"index.api_key":             "<redacted>",
		"storage.connection_string": "c",
	})
	require.NoError(t, err)

	err = custodian.Save(ctx, testDefinition(), Bundle{"index.api_key": Masked()})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnresolved)
	assert.ErrorIs(t, err, ErrPlaceholderValue)
	assert.Zero(t, target.writes)
	assert.Empty(t, target.stored["manuals"])
}

func TestCustodian_SavePlaceholderValueIsResolved(t *testing.T) {
	ctx := context.Background()
	target := newMemoryTarget()
	store := MapStore{"index.api_key": "real-key", "storage.connection_string": "c"}
	custodian, err := NewCustodian(target, store)
	require.NoError(t, err)

	require.NoError(t, custodian.Save(ctx, testDefinition(), Bundle{"index.api_key": Real("<redacted>")}))
	assert.Equal(t, "real-key", target.stored["manuals"]["index.api_key"])

	// Without a real value in the store the write is refused.
	target = newMemoryTarget()
	custodian, err = NewCustodian(target, MapStore{"storage.connection_string": "c"})
	require.NoError(t, err)
	err = custodian.Save(ctx, testDefinition(), Bundle{"index.api_key": Real("<redacted>")})
	assert.ErrorIs(t, err, ErrUnresolved)
	assert.Zero(t, target.writes)
}

func TestCustodian_SaveFillsMissingDeclaredFields(t *testing.T) {
	ctx := context.Background()
	target := newMemoryTarget()
	store := MapStore{"index.api_key": "k", "storage.connection_string": "c"}
	custodian, err := NewCustodian(target, store)
	require.NoError(t, err)

	require.NoError(t, custodian.Save(ctx, testDefinition(), Bundle{}))
	assert.Equal(t, map[string]string{"index.api_key": "k", "storage.connection_string": "c"}, target.stored["manuals"])
}

func TestCustodian_SecretNeverDowngraded(t *testing.T) {
	ctx := context.Background()
	fields := []string{"a.key", "b.token", "c.password", "d.secret", "endpoint"}
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 200; i++ {
		target := newMemoryTarget()
		store := MapStore{}
		bundle := Bundle{}
		for _, f := range fields {
			switch rng.Intn(3) {
			case 0:
				bundle[f] = Masked()
			case 1:
				bundle[f] = Real("real-" + f)
			}
			if rng.Intn(4) > 0 {
				store[f] = "store-" + f
			}
		}

		custodian, err := NewCustodian(target, store)
		require.NoError(t, err)
		def := &core.PipelineDefinition{Name: "p"}

		err = custodian.Save(ctx, def, bundle)
		if err != nil {
			assert.ErrorIs(t, err, ErrUnresolved)
			assert.Zero(t, target.writes)
			continue
		}

		persisted := target.stored["p"]
		for f, v := range bundle {
			got, ok := persisted[f]
			require.True(t, ok, "field %s dropped", f)
			if v.IsMasked() {
				assert.Equal(t, "store-"+f, got)
			} else {
				assert.Equal(t, "real-"+f, got)
			}
		}
	}
}

func TestChainStore(t *testing.T) {
	ctx := context.Background()
	t.Setenv("KBPIPE_SECRET_INDEX_API_KEY", "from-env")

	chain := ChainStore{MapStore{"other": "x"}, EnvStore{}}
	v, err := chain.Resolve(ctx, "index.api_key")
	require.NoError(t, err)
	assert.Equal(t, "from-env", v)

	_, err = chain.Resolve(ctx, "missing.key")
	assert.ErrorIs(t, err, ErrSecretNotFound)

	failing := ChainStore{storeFunc(func(context.Context, string) (string, error) {
		return "", errors.New("vault sealed")
	}), MapStore{"index.api_key": "x"}}
	_, err = failing.Resolve(ctx, "index.api_key")
	assert.EqualError(t, err, "vault sealed")
}

func TestEnvStore_EnvName(t *testing.T) {
	assert.Equal(t, "KBPIPE_SECRET_EMBEDDING_API_KEY", EnvStore{}.EnvName("embedding.api_key"))
	assert.Equal(t, "X_STORAGE_CONN", EnvStore{Prefix: "X_"}.EnvName("storage-conn"))
}

func TestNewCustodian_RequiresCollaborators(t *testing.T) {
	_, err := NewCustodian(nil, MapStore{})
	assert.ErrorIs(t, err, core.ErrConfiguration)
}

type storeFunc func(ctx context.Context, field string) (string, error)

func (f storeFunc) Resolve(ctx context.Context, field string) (string, error) { return f(ctx, field) }
