package controllers

import (
	"net/http"
	"strconv"

	"seller_agent_backend/services/listingdata"

	"github.com/gin-gonic/gin"
)

// ListingController serves the listing feed for UI and diagnostics
type ListingController struct {
	store *listingdata.Store
}

// NewListingController creates a new listing controller
func NewListingController(store *listingdata.Store) *ListingController {
	return &ListingController{store: store}
}

// GetListings lists listings filtered by platform/category
// GET /api/v1/listings?platform=&category=&limit=
func (ctrl *ListingController) GetListings(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	listings, err := ctrl.store.GetListings(c.Query("platform"), c.Query("category"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"listings": listings,
		"count":    len(listings),
	})
}

// GetListing returns one listing with its competitor quotes and velocity
// GET /api/v1/listings/:id
func (ctrl *ListingController) GetListing(c *gin.Context) {
	id := c.Param("id")
	listing, err := ctrl.store.GetListing(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if listing == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Listing not found"})
		return
	}

	quotes, _ := ctrl.store.CompetitorPrices(id)
	velocity, _ := ctrl.store.SalesVelocity(id)
	c.JSON(http.StatusOK, gin.H{
		"listing":     listing,
		"competitors": quotes,
		"velocity":    velocity,
	})
}
