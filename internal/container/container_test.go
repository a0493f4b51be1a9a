package container

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zfogg/vidlayer/internal/testutil"
)

func TestValidateReportsMissingServices(t *testing.T) {
	err := New(MockConfig()).Validate()
	require.Error(t, err)

	var initErr *InitializationError
	require.True(t, errors.As(err, &initErr))
	assert.Contains(t, initErr.MissingDeps, "database")
	assert.Contains(t, initErr.MissingDeps, "payout service")
}

func TestMockIsFullyWired(t *testing.T) {
	db := testutil.NewTestDB(t)
	m := NewMock(db, nil, nil)

	require.NoError(t, m.Validate())
	assert.NotNil(t, m.Hub())
	assert.Equal(t, "http://vidlayer.test", m.Config().Server.WebURL)
	assert.Same(t, m.KV, m.Cache())
}

func TestCleanupRunsInReverseOrder(t *testing.T) {
	c := New(MockConfig())
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		c.OnCleanup(func(context.Context) error {
			order = append(order, i)
			if i == 1 {
				return errors.New("close failed")
			}
			return nil
		})
	}

	err := c.Cleanup(context.Background())
	assert.EqualError(t, err, "close failed")
	assert.Equal(t, []int{2, 1, 0}, order)

	// Cleanup functions run only once
	assert.NoError(t, c.Cleanup(context.Background()))
}
