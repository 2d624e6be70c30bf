package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tkardel/camwall/session"
	"github.com/tkardel/camwall/wall"
)

// errorResponse is the JSON body for failed requests.
type errorResponse struct {
	Error string `json:"error"`
}

// focusResponse confirms a focus change request.
type focusResponse struct {
	CameraID string `json:"camera_id"`
}

// cameraInfo is one directory entry on the wire.
type cameraInfo struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	HasStream bool    `json:"has_stream"`
}

func (s *Server) stateHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.wall.Snapshot())
}

func (s *Server) camerasHandler(c *gin.Context) {
	records := s.dir.Snapshot()
	out := make([]cameraInfo, len(records))
	for i, r := range records {
		out[i] = cameraInfo{
			ID:        r.ID,
			Title:     r.Title,
			Lat:       r.Lat,
			Lng:       r.Lng,
			HasStream: r.StreamAddress != "",
		}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) openHandler(c *gin.Context) {
	id := c.Param("id")
	if err := s.wall.Open(id); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, focusResponse{CameraID: id})
}

func (s *Server) closeHandler(c *gin.Context) {
	s.wall.Close()
	c.Status(http.StatusNoContent)
}

func (s *Server) nextHandler(c *gin.Context) {
	id, err := s.wall.Next()
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, focusResponse{CameraID: id})
}

func (s *Server) prevHandler(c *gin.Context) {
	id, err := s.wall.Prev()
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, focusResponse{CameraID: id})
}

func (s *Server) switchHandler(c *gin.Context) {
	id := c.Param("id")
	if err := s.wall.SwitchTo(id); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, focusResponse{CameraID: id})
}

func (s *Server) previewOpenHandler(c *gin.Context) {
	id := c.Param("id")
	if err := s.wall.OpenPreview(id, session.NewBasicSink(false)); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, focusResponse{CameraID: id})
}

// warmRequest names the cameras to hold warm.
type warmRequest struct {
	IDs []string `json:"ids" binding:"required"`
}

func (s *Server) warmHandler(c *gin.Context) {
	var req warmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := s.wall.SetFocusNeighbors(req.IDs); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) previewCloseHandler(c *gin.Context) {
	s.wall.ClosePreview(c.Param("id"))
	c.Status(http.StatusNoContent)
}

func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, wall.ErrUnknownCamera):
		status = http.StatusNotFound
	case errors.Is(err, wall.ErrOutsideOrder),
		errors.Is(err, wall.ErrNoFocusedCamera),
		errors.Is(err, wall.ErrPreviewOpen):
		status = http.StatusConflict
	case errors.Is(err, wall.ErrShutdown):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, errorResponse{Error: err.Error()})
}
