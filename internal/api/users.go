package api

import (
	"net/http"

	"github.com/ecotionbuddy/binhub/internal/account"
	"github.com/ecotionbuddy/binhub/internal/mission"
	"github.com/gin-gonic/gin"
)

// DefaultHistoryLimit bounds /users/:userId/history without ?limit=.
const DefaultHistoryLimit = 50

type claimRequest struct {
	UserID string `json:"userId"`
	BinID  string `json:"binId"`
}

// handleClaim awards a fixed number of points. It exists for development
// and testing of the app.
func handleClaim(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req claimRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid JSON body")
			return
		}
		if req.BinID == "" {
			badRequest(c, "binId is required")
			return
		}
		claim, err := d.Ledger.Manual(req.UserID, req.BinID, d.ManualClaimPoints)
		if err != nil {
			fail(c, d.Log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"awardedPoints": claim.Points, "status": "ok"})
	}
}

type registerRequest struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Email  string `json:"email"`
}

func handleRegister(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req registerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid JSON body")
			return
		}
		u, err := account.Register(d.DB, req.UserID, req.Name, req.Email)
		if err != nil {
			fail(c, d.Log, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"status": "registered", "user": u})
	}
}

func handleProfile(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := account.GetProfile(d.DB, c.Param("userId"))
		if err != nil {
			fail(c, d.Log, err)
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

func handleHistory(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, ok := limitParam(c, DefaultHistoryLimit)
		if !ok {
			badRequest(c, "limit must be a non-negative integer")
			return
		}
		items, err := account.History(d.DB, c.Param("userId"), limit)
		if err != nil {
			fail(c, d.Log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"history": items})
	}
}

func handleCatalogue() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"missions": mission.Catalogue})
	}
}

func handleUserMissions(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		um, err := d.Missions.ForUser(c.Param("userId"))
		if err != nil {
			fail(c, d.Log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"active_missions":    mission.Views(um.Active),
			"completed_missions": mission.Views(um.Completed),
			"expired_missions":   mission.Views(um.Expired),
		})
	}
}

func handleMissionStart(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		mi, err := d.Missions.Start(c.Param("userId"), c.Param("missionId"))
		if err != nil {
			fail(c, d.Log, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"status": "started", "mission": mission.NewView(*mi)})
	}
}

func handleCheckProgress(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		r, err := d.Missions.CheckProgress(c.Param("userId"))
		if err != nil {
			fail(c, d.Log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"completed_missions": mission.Views(r.Completed),
			"updated_missions":   mission.Views(r.Updated),
			"expired_missions":   mission.Views(r.Expired),
			"points_earned":      r.PointsEarned,
		})
	}
}
