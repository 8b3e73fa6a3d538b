package status_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/status"
)

func TestTranslate(t *testing.T) {
	t.Run("wb known code", func(t *testing.T) {
		st, err := status.Translate(status.MarketplaceWB, "sold")
		require.NoError(t, err)
		assert.Equal(t, status.StatusBuyout, st)
	})

	t.Run("ozon known code", func(t *testing.T) {
		st, err := status.Translate(status.MarketplaceOzon, "awaiting_packaging")
		require.NoError(t, err)
		assert.Equal(t, status.StatusNew, st)
	})

	t.Run("unknown code", func(t *testing.T) {
		_, err := status.Translate(status.MarketplaceWB, "teleported")
		require.Error(t, err)

		var unknownErr *status.UnknownStatusError
		require.True(t, errors.As(err, &unknownErr))
		assert.Equal(t, status.MarketplaceWB, unknownErr.Marketplace)
		assert.Equal(t, "teleported", unknownErr.RawCode)
	})

	t.Run("unknown marketplace", func(t *testing.T) {
		_, err := status.Translate(status.Marketplace("amazon"), "sold")
		assert.Error(t, err)
	})
}

func TestStatusPartitions(t *testing.T) {
	assert.Len(t, status.All(), 13)

	terminal := []status.Status{
		status.StatusBuyout,
		status.StatusRejection,
		status.StatusDefect,
		status.StatusSellerPickedUp,
	}
	for _, st := range status.All() {
		shouldBeTerminal := false
		for _, term := range terminal {
			if st == term {
				shouldBeTerminal = true
			}
		}
		assert.Equal(t, shouldBeTerminal, st.IsTerminal(), "status %s", st)
	}

	assert.ElementsMatch(t, terminal, status.TerminalStatuses())
}

func TestLifecycleOrdering(t *testing.T) {
	assert.True(t, status.StatusNew.Before(status.StatusHandedToDelivery))
	assert.True(t, status.StatusAssembly.Before(status.StatusHandedToDelivery))
	assert.False(t, status.StatusHandedToDelivery.Before(status.StatusHandedToDelivery))
	assert.False(t, status.StatusBuyout.Before(status.StatusAssembly))
}

func TestParse(t *testing.T) {
	st, err := status.Parse("return_started")
	require.NoError(t, err)
	assert.Equal(t, status.StatusReturnStarted, st)

	_, err = status.Parse("lost_in_space")
	assert.Error(t, err)

	m, err := status.ParseMarketplace("ozon")
	require.NoError(t, err)
	assert.Equal(t, status.MarketplaceOzon, m)

	_, err = status.ParseMarketplace("ebay")
	assert.Error(t, err)
}
