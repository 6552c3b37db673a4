package server

import (
	"github.com/gin-gonic/gin"
)

func (s *Server) setupRoutes() {
	// no auth, probed by the platform
	s.ginEngine.GET("/health", s.health)
	s.ginEngine.GET("/", s.root)
	s.ginEngine.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	s.ginEngine.POST("/predict",
		s.metrics.instrument(),
		s.rateLimit(),
		s.authentication(),
		s.predict,
	)
}
