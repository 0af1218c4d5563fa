package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"mediadupfinder/internal/fileutil"
	"mediadupfinder/internal/models"
	"mediadupfinder/internal/video"
)

type statusResponse struct {
	State       string `json:"state"`
	Scanning    bool   `json:"scanning"`
	Done        int    `json:"done"`
	Total       int    `json:"total"`
	ScanID      string `json:"scan_id,omitempty"`
	Groups      int    `json:"groups"`
	Duplicates  int    `json:"duplicates"`
	Reclaimable int64  `json:"reclaimable"`
	Errors      int    `json:"errors"`
	LastError   string `json:"last_error,omitempty"`
	// Stale marks groups left over from an earlier scan after the latest one failed
	Stale bool `json:"stale"`
}

func errorJSON(c echo.Context, code int, err error) error {
	return c.JSON(code, map[string]string{"error": err.Error()})
}

func (s *Server) handleStatus(c echo.Context) error {
	s.mu.Lock()
	resp := statusResponse{
		State:     s.engine.State().String(),
		Scanning:  s.cancelScan != nil,
		Done:      s.done,
		Total:     s.total,
		LastError: s.lastErr,
	}
	if r := s.result; r != nil {
		resp.ScanID = r.ID
		resp.Groups = len(r.Groups)
		resp.Duplicates = r.TotalDuplicates()
		resp.Reclaimable = r.Reclaimable()
		resp.Errors = len(r.Errors)
		resp.Stale = s.lastErr != ""
	}
	s.mu.Unlock()

	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleScan(c echo.Context) error {
	var req struct {
		Roots []string `json:"roots"`
	}
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return errorJSON(c, http.StatusBadRequest, err)
		}
	}

	roots := req.Roots
	if len(roots) == 0 {
		roots = s.roots
	}
	if len(roots) == 0 {
		return errorJSON(c, http.StatusBadRequest, errors.New("no directories to scan"))
	}

	if err := s.startScan(roots); err != nil {
		return errorJSON(c, http.StatusConflict, err)
	}
	return c.JSON(http.StatusAccepted, map[string]any{"status": "started", "roots": roots})
}

func (s *Server) handleCancel(c echo.Context) error {
	s.mu.Lock()
	cancel := s.cancelScan
	s.mu.Unlock()

	if cancel == nil {
		return errorJSON(c, http.StatusConflict, errors.New("no scan in progress"))
	}
	cancel()
	return c.JSON(http.StatusOK, map[string]string{"status": "cancelling"})
}

func (s *Server) handleGroups(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	groups := []*models.DuplicateGroup{}
	if s.result != nil {
		groups = s.result.Groups
	}
	return c.JSON(http.StatusOK, groups)
}

func (s *Server) handleErrors(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	errs := []models.FileError{}
	if s.result != nil {
		errs = s.result.Errors
	}
	return c.JSON(http.StatusOK, errs)
}

func (s *Server) handleThumbnail(c echo.Context) error {
	path := c.QueryParam("path")
	if path == "" {
		return errorJSON(c, http.StatusBadRequest, errors.New("path required"))
	}

	// only files from the current result are served
	s.mu.Lock()
	var member *models.Member
	if s.result != nil {
		_, member = s.result.FindMember(path)
	}
	var m models.Member
	var thumb []byte
	if member != nil {
		m = *member
		thumb = s.result.Thumbnails[path]
	}
	s.mu.Unlock()
	if member == nil {
		return errorJSON(c, http.StatusNotFound, fmt.Errorf("%s is not part of any group", path))
	}

	c.Response().Header().Set("Cache-Control", "private, max-age=300")
	if m.Kind == models.KindImage {
		return c.File(m.Path)
	}
	if len(thumb) > 0 {
		return c.Blob(http.StatusOK, "image/jpeg", thumb)
	}

	// no stored thumbnail when the result came from a report
	ctx, cancel := context.WithTimeout(c.Request().Context(), s.cfg.FileTimeout)
	defer cancel()
	img, err := s.frames.Frame(ctx, m.Path, m.Summary.ThumbnailAt)
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, fmt.Errorf("failed to decode thumbnail: %w", err))
	}
	data, err := video.EncodeThumbnail(img, video.ThumbnailWidth)
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err)
	}
	return c.Blob(http.StatusOK, "image/jpeg", data)
}

type deleteRequest struct {
	Paths  []string `json:"paths"`
	Mode   string   `json:"mode"` // trash (default), permanent or move
	MoveTo string   `json:"move_to,omitempty"`
	DryRun bool     `json:"dry_run,omitempty"`
}

type deleteResult struct {
	Path   string `json:"path"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) handleDelete(c echo.Context) error {
	var req deleteRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, err)
	}

	remover := &fileutil.Remover{MoveTo: req.MoveTo}
	switch req.Mode {
	case "", "trash":
		remover.Mode = fileutil.ModeTrash
	case "permanent":
		remover.Mode = fileutil.ModePermanent
	case "move":
		if req.MoveTo == "" {
			return errorJSON(c, http.StatusBadRequest, errors.New("move_to required"))
		}
		remover.Mode = fileutil.ModeMove
	default:
		return errorJSON(c, http.StatusBadRequest, fmt.Errorf("unknown mode %q", req.Mode))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelScan != nil {
		return errorJSON(c, http.StatusConflict, models.ErrScanInProgress)
	}
	if s.result == nil {
		return errorJSON(c, http.StatusConflict, errors.New("no scan result"))
	}

	results := make([]deleteResult, 0, len(req.Paths))
	for _, path := range req.Paths {
		res := deleteResult{Path: path}
		g, m := s.result.FindMember(path)
		switch {
		case m == nil:
			res.Status = "error"
			res.Error = fileutil.ErrNotCandidate.Error()
		case req.DryRun:
			if err := fileutil.Validate(g, m); err != nil {
				res.Status = "error"
				res.Error = err.Error()
			} else {
				res.Status = "would_" + remover.Mode.String()
			}
		default:
			if err := remover.Remove(g, m); err != nil {
				res.Status = "error"
				res.Error = err.Error()
				s.logger.Warn().Err(err).Str("path", path).Msg("delete failed")
			} else {
				res.Status = remover.Mode.String()
				s.result.RemoveMember(g, path)
				s.logger.Info().Str("path", path).Str("mode", res.Status).Msg("duplicate removed")
			}
		}
		results = append(results, res)
	}

	return c.JSON(http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleHeartbeat(c echo.Context) error {
	var req struct {
		Active bool `json:"active"`
	}
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, err)
	}

	s.mu.Lock()
	s.clientActive = req.Active
	s.mu.Unlock()
	return c.NoContent(http.StatusNoContent)
}
