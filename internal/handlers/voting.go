package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rishabh19bvp/Opinify-MVP-V3/internal/middleware"
	"github.com/rishabh19bvp/Opinify-MVP-V3/internal/services"
)

type VotingHandler struct {
	votingService *services.PollVoting
}

func NewVotingHandler(votingService *services.PollVoting) *VotingHandler {
	return &VotingHandler{votingService: votingService}
}

type CastVoteRequest struct {
	PollID   int64 `json:"poll_id" binding:"required"`
	OptionID int64 `json:"option_id" binding:"required"`
}

type ResolveWardRequest struct {
	Lat *float64 `json:"lat" binding:"required"`
	Lon *float64 `json:"lon" binding:"required"`
}

func (v *VotingHandler) CastVote(c *gin.Context) {
	var req CastVoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "Internal", "error": "invalid input"})
		return
	}

	userIDValue, exists := c.Get(middleware.UserIDKey)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"code": "Unauthenticated", "error": "unauthorized"})
		return
	}

	userID, ok := userIDValue.(string)
	if !ok || userID == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "Internal", "error": "invalid user id in context"})
		return
	}

	vote, err := v.votingService.CastVote(c.Request.Context(), userID, req.PollID, req.OptionID)
	if err != nil {
		rejectJSON(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"vote": vote})
}

func (v *VotingHandler) ResolveWard(c *gin.Context) {
	var req ResolveWardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "InvalidCoordinate", "error": "lat and lon are required"})
		return
	}

	ward, err := v.votingService.ResolveWard(*req.Lat, *req.Lon)
	if err != nil {
		rejectJSON(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ward": gin.H{"id": ward.ID, "name": ward.Name}})
}

func (v *VotingHandler) GetTally(c *gin.Context) {
	pollID, err := pollIDParam(c)
	if err != nil {
		return
	}

	tally, err := v.votingService.GetTally(c.Request.Context(), pollID)
	if err != nil {
		rejectJSON(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"tally": tally})
}

func (v *VotingHandler) ForceRecount(c *gin.Context) {
	pollID, err := pollIDParam(c)
	if err != nil {
		return
	}

	tally, err := v.votingService.ForceRecount(c.Request.Context(), pollID)
	if err != nil {
		rejectJSON(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"tally": tally})
}

func (v *VotingHandler) GetPollsByWard(c *gin.Context) {
	wardIDStr := c.Query("ward_id")
	if wardIDStr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "Internal", "error": "ward_id is required"})
		return
	}
	wardID, err := strconv.ParseInt(wardIDStr, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "Internal", "error": "invalid ward id"})
		return
	}

	polls, err := v.votingService.PollsByWard(c.Request.Context(), wardID)
	if err != nil {
		rejectJSON(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"polls": polls})
}

func (v *VotingHandler) GetPollByID(c *gin.Context) {
	pollID, err := pollIDParam(c)
	if err != nil {
		return
	}

	poll, err := v.votingService.GetPollByID(c.Request.Context(), pollID)
	if err != nil {
		rejectJSON(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"poll": poll})
}

func pollIDParam(c *gin.Context) (int64, error) {
	pollID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "Internal", "error": "invalid poll id"})
		return 0, err
	}
	return pollID, nil
}

// rejectJSON maps a service rejection onto an HTTP status and a stable
// reason code. Unrecognized errors become an opaque Internal response.
func rejectJSON(c *gin.Context, err error) {
	code := services.ReasonCode(err)

	var status int
	switch {
	case errors.Is(err, services.ErrInvalidCoordinate):
		status = http.StatusBadRequest
	case errors.Is(err, services.ErrWardNotFound), errors.Is(err, services.ErrPollClosedOrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrUnauthenticated):
		status = http.StatusUnauthorized
	case errors.Is(err, services.ErrOptionNotInPoll):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrAlreadyVoted):
		status = http.StatusConflict
	case errors.Is(err, services.ErrTemporarilyUnavailable):
		status = http.StatusServiceUnavailable
	default:
		status = http.StatusInternalServerError
	}

	message := "internal error"
	switch code {
	case "InvalidCoordinate":
		message = "latitude must be in [-90, 90] and longitude in [-180, 180]"
	case "WardNotFound":
		message = "no ward contains this location"
	case "Unauthenticated":
		message = "authentication required"
	case "PollClosedOrNotFound":
		message = "poll is closed or does not exist"
	case "OptionNotInPoll":
		message = "option does not belong to this poll"
	case "AlreadyVoted":
		message = "you have already voted on this poll"
	case "TemporarilyUnavailable":
		message = "service temporarily unavailable, try again"
	}

	c.JSON(status, gin.H{"code": code, "error": message})
}
