package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/rishabh19bvp/Opinify-MVP-V3/internal/handlers"
)

func RegisterPublicRoutes(rg *gin.RouterGroup, handler *handlers.VotingHandler, live *handlers.LiveTallyHandler) {
	{
		rg.POST("/wards/resolve", handler.ResolveWard)

		rg.GET("/polls", handler.GetPollsByWard)
		rg.GET("/polls/:id", handler.GetPollByID)
		rg.GET("/polls/:id/tally", handler.GetTally)
		rg.GET("/polls/:id/live", live.Serve)
	}
}

func RegisterPrivateRoutes(rg *gin.RouterGroup, handler *handlers.VotingHandler) {
	{
		rg.POST("/votes", handler.CastVote)
		rg.POST("/polls/:id/tally/recount", handler.ForceRecount)
	}
}
