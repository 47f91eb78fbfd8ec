package rest

import (
	"net/http"

	"github.com/KevinKickass/OpenHeatTelemetry/internal/types"
	"github.com/gin-gonic/gin"
)

// GET /api/v1/cycles/latest
func (s *Server) getLatestCycle(c *gin.Context) {
	res, ok := s.lm.LatestCycle()
	if !ok {
		c.JSON(http.StatusNotFound, types.NewErrorResponse("CYCLE_404", "No poll cycle completed yet", nil))
		return
	}
	c.JSON(http.StatusOK, res)
}

// GET /api/v1/diagnostics
func (s *Server) getDiagnostics(c *gin.Context) {
	res, ok := s.lm.LatestCycle()
	if !ok {
		c.JSON(http.StatusNotFound, types.NewErrorResponse("CYCLE_404", "No poll cycle completed yet", nil))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"cycle_id":   res.ID,
		"started_at": res.StartedAt,
		"phase":      res.Phase,
		"trusted":    res.Trusted,
		"hypotheses": res.Hypotheses,
	})
}

// GET /api/v1/registers
func (s *Server) getRegisters(c *gin.Context) {
	catalog := s.lm.Catalog()
	if catalog == nil {
		c.JSON(http.StatusServiceUnavailable, types.NewErrorResponse("CATALOG_503", "Register catalog not loaded", nil))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"profile":     catalog.Profile(),
		"reads":       catalog.Reads(),
		"registers":   catalog.Descriptors(),
		"bit_fields":  catalog.BitFields(),
		"multiplexer": catalog.Multiplexer(),
	})
}
