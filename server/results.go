package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/pithecene-io/unlockbench/store"
)

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, "Invalid test ID")
		return 0, false
	}
	return id, true
}

func (s *Server) handleListResults(c *gin.Context) {
	recs, err := s.store.ListTests(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	if recs == nil {
		recs = []store.Record{}
	}
	c.JSON(http.StatusOK, recs)
}

func (s *Server) handleGetResult(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	rec, err := s.store.GetTest(c.Request.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		fail(c, http.StatusNotFound, "Test result not found")
	case err != nil:
		fail(c, http.StatusInternalServerError, err.Error())
	default:
		c.JSON(http.StatusOK, rec)
	}
}

// handleDeleteResult deletes a record, or one instance of it when the
// instanceNum query parameter is present.
func (s *Server) handleDeleteResult(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var instanceNum *int
	if raw, set := c.GetQuery("instanceNum"); set {
		n, err := strconv.Atoi(raw)
		if err != nil {
			fail(c, http.StatusBadRequest, "Invalid instance number")
			return
		}
		instanceNum = &n
	}

	err := s.store.DeleteTest(c.Request.Context(), id, instanceNum)
	switch {
	case errors.Is(err, store.ErrNotFound):
		fail(c, http.StatusNotFound, "Test result not found or could not be deleted")
	case err != nil:
		fail(c, http.StatusInternalServerError, err.Error())
	default:
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func (s *Server) handleDeleteAllResults(c *gin.Context) {
	if err := s.store.DeleteAllTests(c.Request.Context()); err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
