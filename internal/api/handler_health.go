package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type queueCountsResponse struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Failed     int `json:"failed"`
	Stuck      int `json:"stuck"`
}

type healthResponse struct {
	Status    string              `json:"status"`
	Uptime    float64             `json:"uptime"`
	Port      int                 `json:"port"`
	TokenPath string              `json:"tokenPath"`
	Queue     queueCountsResponse `json:"queue"`
}

// handleHealth serves GET /health, the only unauthenticated route
// (§4.9 middleware 5, §6.1).
func (s *Server) handleHealth(c *gin.Context) {
	counts, err := s.store.QueueStats(int64(s.cfg.StuckThreshold.Seconds()))
	status := "ok"
	if err != nil {
		status = "degraded"
	}

	c.JSON(http.StatusOK, healthResponse{
		Status:    status,
		Uptime:    time.Since(s.startedAt).Seconds(),
		Port:      s.cfg.Port,
		TokenPath: s.auth.Path(),
		Queue: queueCountsResponse{
			Pending:    counts.Pending,
			Processing: counts.Processing,
			Failed:     counts.Failed,
			Stuck:      counts.Stuck,
		},
	})
}
