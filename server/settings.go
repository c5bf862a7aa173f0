package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pithecene-io/unlockbench/store"
	"github.com/pithecene-io/unlockbench/types"
)

func (s *Server) handleGetSettings(c *gin.Context) {
	settings, err := s.store.GetSettings(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (s *Server) handleUpdateSettings(c *gin.Context) {
	var body store.Settings
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.ProxyCredentials != nil && *body.ProxyCredentials != "" {
		if _, err := types.ParseCredentials(*body.ProxyCredentials); err != nil {
			fail(c, http.StatusBadRequest, err.Error())
			return
		}
	}

	now := s.now()
	body.LastUpdated = &now
	settings, err := s.store.UpdateSettings(c.Request.Context(), body)
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, settings)
}
