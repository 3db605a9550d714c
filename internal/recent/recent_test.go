package recent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/chatdesk/internal/domain"
)

type memPersister struct {
	mu      sync.Mutex
	data    map[int64][]domain.EntityRef
	loadErr error
	saves   int
}

func (m *memPersister) LoadRecent(_ context.Context, userID int64) ([]domain.EntityRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return append([]domain.EntityRef(nil), m.data[userID]...), nil
}

func (m *memPersister) SaveRecent(_ context.Context, userID int64, refs []domain.EntityRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.data == nil {
		m.data = make(map[int64][]domain.EntityRef)
	}
	m.data[userID] = append([]domain.EntityRef(nil), refs...)
	return nil
}

func ref(i int) domain.EntityRef {
	return domain.EntityRef{ID: fmt.Sprintf("e%d", i), Name: fmt.Sprintf("Entity %d", i)}
}

func TestTouchOrdersByRecency(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := New(DefaultCapacity, nil, nil)

	c.Touch(ctx, 1, ref(1))
	c.Touch(ctx, 1, ref(2))
	c.Touch(ctx, 1, ref(1))

	assert.Equal(t, []domain.EntityRef{ref(1), ref(2)}, c.List(ctx, 1))
}

func TestCapacityEvictsOldest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := New(DefaultCapacity, nil, nil)

	for i := 1; i <= 12; i++ {
		c.Touch(ctx, 1, ref(i))
	}

	list := c.List(ctx, 1)
	require.Len(t, list, DefaultCapacity)
	assert.Equal(t, ref(12), list[0])
	assert.Equal(t, ref(4), list[len(list)-1])
}

func TestListsArePerUser(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := New(3, nil, nil)

	c.Touch(ctx, 1, ref(1))
	c.Touch(ctx, 2, ref(2))

	assert.Equal(t, []domain.EntityRef{ref(1)}, c.List(ctx, 1))
	assert.Equal(t, []domain.EntityRef{ref(2)}, c.List(ctx, 2))
}

func TestZeroRefIgnored(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := New(3, nil, nil)

	c.Touch(ctx, 1, domain.EntityRef{})
	assert.Empty(t, c.List(ctx, 1))
}

func TestForgetAndClear(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := New(3, nil, nil)
	c.Touch(ctx, 1, ref(1))
	c.Touch(ctx, 1, ref(2))

	c.Forget(ctx, 1, "e1")
	assert.Equal(t, []domain.EntityRef{ref(2)}, c.List(ctx, 1))

	c.Clear(ctx, 1)
	assert.Empty(t, c.List(ctx, 1))
}

func TestPersisterLoadsLazilyAndWritesThrough(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := &memPersister{data: map[int64][]domain.EntityRef{1: {ref(5), ref(6)}}}
	c := New(3, p, nil)

	assert.Equal(t, []domain.EntityRef{ref(5), ref(6)}, c.List(ctx, 1))

	c.Touch(ctx, 1, ref(7))
	assert.Equal(t, []domain.EntityRef{ref(7), ref(5), ref(6)}, p.data[1])
	assert.Equal(t, 1, p.saves)
}

func TestPersisterLoadFailureIsRetried(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := &memPersister{loadErr: errors.New("disk gone")}
	c := New(3, p, nil)

	assert.Empty(t, c.List(ctx, 1))

	p.mu.Lock()
	p.loadErr = nil
	p.data = map[int64][]domain.EntityRef{1: {ref(1)}}
	p.mu.Unlock()

	assert.Equal(t, []domain.EntityRef{ref(1)}, c.List(ctx, 1))
}
