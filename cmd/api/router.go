package main

import (
	"github.com/gin-gonic/gin"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/logging"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/middleware"
)

func setupRouter(api *API, auth *middleware.Authenticator, limiter *middleware.RateLimiter, logger *logging.Logger) *gin.Engine {
	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Logger(logger))
	router.MaxMultipartMemory = 32 << 20

	// Health check
	router.GET("/health", api.healthCheck)

	vc := router.Group("/video-content")
	vc.Use(auth.JWTAuth())
	{
		// Intake
		vc.POST("/upload/:contentId", api.uploadVideo)
		vc.POST("/assets/:videoAssetId/reprocess", api.reprocessAsset)
		vc.DELETE("/content/:contentId", api.deleteContent)

		// Status, polled by clients
		status := vc.Group("/status")
		status.Use(middleware.RateLimit(limiter))
		status.GET("/:videoAssetId", api.getStatus)
		status.GET("/:videoAssetId/events", api.streamStatus)

		// Jobs
		vc.GET("/jobs/:jobId", api.getJob)
		vc.POST("/jobs/:jobId/retry", api.retryJob)
		vc.POST("/jobs/:jobId/cancel", api.cancelJob)

		// Editorial workflow
		vc.GET("/content/:contentId/workflow", api.getContentWorkflow)
		vc.GET("/workflow/:workflowId", api.getWorkflow)
		vc.PUT("/workflow/:workflowId/status", api.setWorkflowStatus)
		vc.GET("/workflow/:workflowId/history", api.getWorkflowHistory)

		// Catalog
		vc.POST("/metadata/:contentType/:contentId", api.addMetadata)
		vc.GET("/metadata/:contentType/:contentId", api.listMetadata)
		vc.POST("/tags/:contentType/:contentId", api.addTags)
		vc.GET("/tags/:contentType/:contentId", api.listTags)
	}

	return router
}
