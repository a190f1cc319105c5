package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/p-blackswan/project-assistant/internal/project"
)

// GetProject handles GET /v1/projects/:id.
func (s *Server) GetProject(c *fiber.Ctx) error {
	info, err := s.deps.Projects.LoadInfo(c.Params("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(info)
}

// GetBrief handles GET /v1/projects/:id/brief.
func (s *Server) GetBrief(c *fiber.Ctx) error {
	brief, err := s.deps.Projects.LoadBrief(c.Params("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(brief)
}

// GetWhiteboard handles GET /v1/projects/:id/whiteboard.
func (s *Server) GetWhiteboard(c *fiber.Ctx) error {
	wb, err := s.deps.Projects.LoadWhiteboard(c.Params("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(wb)
}

// GetLog handles GET /v1/projects/:id/log?limit=N. Limit keeps the most
// recent entries.
func (s *Server) GetLog(c *fiber.Ctx) error {
	log, err := s.deps.Projects.LoadLog(c.Params("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	if limit := c.QueryInt("limit", 0); limit > 0 && len(log.Entries) > limit {
		log.Entries = log.Entries[len(log.Entries)-limit:]
	}
	return c.JSON(log)
}

// ListRequests handles GET /v1/projects/:id/requests?status=new.
func (s *Server) ListRequests(c *fiber.Ctx) error {
	reqs, err := s.deps.Projects.LoadRequests(c.Params("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	out := make([]*project.InformationRequest, 0, len(reqs))
	status := c.Query("status")
	for _, r := range reqs {
		if status == "" || string(r.Status) == status {
			out = append(out, r)
		}
	}
	return c.JSON(RequestsResponse{Requests: out, Total: len(out)})
}

// ListFiles handles GET /v1/projects/:id/files.
func (s *Server) ListFiles(c *fiber.Ctx) error {
	files, err := s.deps.Projects.LoadFiles(c.Params("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(FilesResponse{Files: files})
}
