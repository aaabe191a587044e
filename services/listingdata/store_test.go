package listingdata

import (
	"fmt"
	"testing"

	"seller_agent_backend/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) (*Store, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, models.MigrateListingModels(db))
	return NewStore(db), db
}

func TestGetListingAbsentIsNil(t *testing.T) {
	store, _ := newTestStore(t)

	listing, err := store.GetListing("nope")
	require.NoError(t, err)
	assert.Nil(t, listing)
}

func TestListingFilters(t *testing.T) {
	store, db := newTestStore(t)
	require.NoError(t, db.Create(&models.Listing{ID: "a", Platform: "ebay", Category: "toys", Status: models.ListingStatusActive}).Error)
	require.NoError(t, db.Create(&models.Listing{ID: "b", Platform: "ebay", Category: "books", Status: models.ListingStatusActive}).Error)
	require.NoError(t, db.Create(&models.Listing{ID: "c", Platform: "etsy", Category: "toys", Status: models.ListingStatusActive}).Error)

	all, err := store.GetListings("", "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	ebay, err := store.GetListings("ebay", "", 0)
	require.NoError(t, err)
	assert.Len(t, ebay, 2)

	toys, err := store.GetListings("ebay", "toys", 0)
	require.NoError(t, err)
	require.Len(t, toys, 1)
	assert.Equal(t, "a", toys[0].ID)
}

func TestUpdatePriceAndStatus(t *testing.T) {
	store, db := newTestStore(t)
	require.NoError(t, db.Create(&models.Listing{ID: "a", Price: 10, Status: models.ListingStatusActive}).Error)

	require.NoError(t, store.UpdatePrice("a", 12.34))
	require.NoError(t, store.UpdateStatus("a", models.ListingStatusPaused))

	l, err := store.GetListing("a")
	require.NoError(t, err)
	assert.InDelta(t, 12.34, l.Price, 0.001)
	assert.Equal(t, models.ListingStatusPaused, l.Status)

	assert.Error(t, store.UpdatePrice("ghost", 1))
	assert.Error(t, store.UpdateStatus("ghost", models.ListingStatusPaused))
}

func TestCompetitorAndVelocityFeeds(t *testing.T) {
	store, db := newTestStore(t)
	require.NoError(t, db.Create(&models.Listing{ID: "a", Price: 10, Status: models.ListingStatusActive}).Error)

	require.NoError(t, store.RecordCompetitorQuote(&models.CompetitorQuote{ListingID: "a", Price: 9, Shipping: 1.5}))
	quotes, err := store.CompetitorPrices("a")
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.InDelta(t, 10.5, quotes[0].Total(), 0.001)
	assert.False(t, quotes[0].ObservedAt.IsZero())

	v, err := store.SalesVelocity("a")
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, db.Create(&models.SalesVelocity{ListingID: "a", DaysOnMarket: 10, TotalSales: 5}).Error)
	v, err = store.SalesVelocity("a")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.InDelta(t, 0.5, v.DailySellRate(), 0.001)
}
