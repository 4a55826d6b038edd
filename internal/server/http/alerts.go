package httpserver

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/and161185/securelink/internal/errs"
	"github.com/and161185/securelink/internal/model"
	"github.com/and161185/securelink/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

func (s *Server) listAlerts(c *gin.Context) {
	limit := service.DefaultAlertListLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	list, err := s.d.Alerts.ListUnresolved(c.Request.Context(), principal(c).CompanyID, limit)
	if err != nil {
		s.log.Error("list alerts", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": nonNil(list)})
}

func (s *Server) linkAlerts(c *gin.Context) {
	e, ok := s.ownedLink(c)
	if !ok {
		return
	}
	list, err := s.d.Alerts.ListByEmail(c.Request.Context(), e.ID)
	if err != nil {
		s.log.Error("list link alerts", zap.String("email_id", e.ID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": nonNil(list)})
}

func (s *Server) resolveAlert(c *gin.Context) {
	id, err := uuid.FromString(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
		return
	}
	ctx := c.Request.Context()
	a, err := s.d.Alerts.Get(ctx, id)
	if errors.Is(err, errs.ErrNotFound) || (err == nil && a.CompanyID != principal(c).CompanyID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
		return
	}
	if err == nil {
		a, err = s.d.Alerts.Resolve(ctx, id)
	}
	if err != nil {
		s.log.Error("resolve alert", zap.String("alert_id", id.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, a)
}

func nonNil(list []model.Alert) []model.Alert {
	if list == nil {
		return []model.Alert{}
	}
	return list
}
