package routes

import (
	"seller_agent_backend/controllers"
	"seller_agent_backend/middleware"
	"seller_agent_backend/services/bulkops"
	"seller_agent_backend/services/jobqueue"
	"seller_agent_backend/services/listingdata"
	"seller_agent_backend/services/pricing"
	"seller_agent_backend/services/stream"

	"github.com/gin-gonic/gin"
)

// SetupRoutes sets up all API routes
func SetupRoutes(router *gin.Engine, queue *jobqueue.Queue, engine *pricing.Engine,
	executor *bulkops.Executor, listings *listingdata.Store, hub *stream.Hub) {

	// Initialize controllers
	jobController := controllers.NewJobController(queue)
	ruleController := controllers.NewRuleController(engine)
	bulkOpController := controllers.NewBulkOpController(queue, executor)
	listingController := controllers.NewListingController(listings)

	// Live progress / price-change stream
	router.GET("/ws", hub.HandleWS)

	// API v1 group
	api := router.Group("/api/v1")
	api.Use(middleware.JWTAuthMiddleware())
	{
		// Job queue routes
		jobs := api.Group("/jobs")
		{
			jobs.POST("", jobController.EnqueueJob)
			jobs.GET("", jobController.GetJobs)
			jobs.GET("/:id", jobController.GetJob)
			jobs.POST("/:id/cancel", jobController.CancelJob)
		}

		// Pricing rule routes
		rules := api.Group("/rules")
		{
			rules.POST("", ruleController.CreateRule)
			rules.GET("", ruleController.GetRules)
			rules.GET("/:id", ruleController.GetRule)
			rules.DELETE("/:id", ruleController.DeleteRule)
			rules.PATCH("/:id/enabled", ruleController.SetEnabled)
			rules.POST("/:id/run", ruleController.RunRule)
		}

		// Bulk operation routes
		bulk := api.Group("/bulk")
		{
			bulk.POST("/pause", bulkOpController.BulkPause)
			bulk.POST("/resume", bulkOpController.BulkResume)
			bulk.POST("/delete", bulkOpController.BulkDelete)
			bulk.POST("/price-update", bulkOpController.BulkPriceUpdate)
		}
		api.GET("/bulk-operations", bulkOpController.GetOperations)
		api.GET("/bulk-operations/:id", bulkOpController.GetOperation)

		// Listing feed routes
		listingsGroup := api.Group("/listings")
		{
			listingsGroup.GET("", listingController.GetListings)
			listingsGroup.GET("/:id", listingController.GetListing)
		}
	}
}
