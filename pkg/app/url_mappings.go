package app

import (
	"context"
	"net/http"
	"time"

	"github.com/falconandrea/FileSolvers/internal/controllers"
	"github.com/falconandrea/FileSolvers/internal/metrics"
	"github.com/falconandrea/FileSolvers/internal/middleware"

	"github.com/gin-gonic/gin"
)

func SetupMappings(app *Application) {
	app.Engine.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := app.Store.Health(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	app.Engine.GET("/metrics", gin.WrapH(metrics.Handler(app.Metrics)))

	v1 := app.Engine.Group("/v1/filesolvers", middleware.AuthMiddleware(app.Validator))
	limit := func(op string) gin.HandlerFunc {
		return middleware.RateLimitMutations(app.RateLimiter, app.Config, op)
	}
	{
		v1.POST("/requests", limit("create_request"), controllers.NewCreateRequestController(app.Ledger).Handle)
		v1.GET("/requests", controllers.NewListRequestsController(app.Ledger, false).Handle)
		v1.GET("/requests/mine", controllers.NewListRequestsController(app.Ledger, true).Handle)
		v1.GET("/requests/:id", controllers.NewGetRequestController(app.Ledger).Handle)
		v1.POST("/requests/:id/files", limit("send_file"), controllers.NewSendFileController(app.Ledger).Handle)
		v1.POST("/requests/:id/winner", limit("choose_winner"), controllers.NewChooseWinnerController(app.Ledger).Handle)
		v1.POST("/requests/:id/withdraw", limit("withdraw_reward"), controllers.NewWithdrawRewardController(app.Ledger).Handle)
		v1.POST("/requests/sweep", limit("close_expired"), controllers.NewCloseExpiredController(app.Ledger).Handle)

		v1.POST("/content", limit("upload_content"), controllers.NewUploadContentController(app.Content).Handle)
		v1.GET("/content/:address", controllers.NewDownloadContentController(app.Content).Handle)

		v1.GET("/accounts/me", controllers.NewBalanceController(app.Ledger).Handle)
		v1.GET("/accounts/:address", controllers.NewBalanceController(app.Ledger).Handle)

		admin := v1.Group("/admin", middleware.RequireAdmin())
		admin.POST("/accounts/:address/deposit", controllers.NewDepositController(app.Ledger).Handle)
		admin.GET("/stats", controllers.NewStatsController(app.Ledger).Handle)
	}
}
