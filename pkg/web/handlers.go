package web

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-envision/pkg/camera"
	"github.com/teslashibe/go-envision/pkg/envision"
	"github.com/teslashibe/go-envision/pkg/hub"
)

// Status is the body of GET /api/status.
type Status struct {
	Busy    bool                        `json:"busy"`
	Loop    *envision.Stats             `json:"loop,omitempty"`
	Totals  map[envision.Outcome]uint64 `json:"totals"`
	Last    *envision.Cycle             `json:"last,omitempty"`
	Clients int                         `json:"ws_clients"`
}

func (s *Server) status() Status {
	s.mu.RLock()
	st := Status{
		Busy:    s.busy,
		Totals:  make(map[envision.Outcome]uint64, len(s.totals)),
		Clients: s.statusHub.ClientCount(),
	}
	for k, v := range s.totals {
		st.Totals[k] = v
	}
	if n := len(s.history); n > 0 {
		last := s.history[n-1]
		st.Last = &last
	}
	loop := s.loop
	s.mu.RUnlock()

	if loop != nil {
		stats := loop.Stats()
		st.Loop = &stats
	}
	return st
}

// handleStatus returns the indicator state, counters and the last cycle.
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.status())
}

// handleCycles returns the retained cycle records, oldest first.
func (s *Server) handleCycles(c *fiber.Ctx) error {
	s.mu.RLock()
	out := make([]envision.Cycle, len(s.history))
	copy(out, s.history)
	s.mu.RUnlock()
	return c.JSON(out)
}

// handleAnalyze runs a cycle now.
func (s *Server) handleAnalyze(c *fiber.Ctx) error {
	loop := s.controller()
	if loop == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "loop not attached",
		})
	}

	cycle, err := loop.Analyze(c.UserContext())
	if err != nil {
		return c.Status(analyzeStatus(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(cycle)
}

// handleGetCamera returns the encoding settings and presets.
func (s *Server) handleGetCamera(c *fiber.Ctx) error {
	if s.camera == nil {
		return fiber.ErrNotFound
	}
	return c.JSON(fiber.Map{
		"config":  s.camera.GetConfig(),
		"presets": camera.Presets(),
	})
}

// handleUpdateCamera applies a partial update such as {"preset":"low"} or {"width":480}.
func (s *Server) handleUpdateCamera(c *fiber.Ctx) error {
	if s.camera == nil {
		return fiber.ErrNotFound
	}

	var params map[string]interface{}
	if err := c.BodyParser(&params); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid JSON body",
		})
	}

	if err := s.camera.UpdateConfig(params); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	cfg := s.camera.GetConfig()
	s.logger.Info("camera settings updated", "width", cfg.Width, "height", cfg.Height)
	return c.JSON(fiber.Map{"config": cfg})
}

// handleStatusWS sends the current state, then streams busy and cycle events.
func (s *Server) handleStatusWS(c *websocket.Conn) {
	msg, err := hub.Event{Type: EventState, Data: s.status()}.Encode()
	if err == nil {
		if err := c.WriteMessage(websocket.TextMessage, msg.Data); err != nil {
			c.Close()
			return
		}
	}
	hub.Serve(s.statusHub, c)
}
