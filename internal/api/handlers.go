package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"github.com/ecoscout/ecoscout-go/internal/errors"
	"github.com/ecoscout/ecoscout-go/internal/logger"
	"github.com/ecoscout/ecoscout-go/internal/mediastore"
)

// MessageResponse is a reply carrying only a message.
type MessageResponse struct {
	Message string `json:"message"`
}

func (s *Server) root(c echo.Context) error {
	return c.JSON(http.StatusOK, MessageResponse{Message: "EcoScout API is running"})
}

// upload analyzes the multipart field "file" and returns the stored record.
func (s *Server) upload(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return s.HandleError(c, err, "No file uploaded", http.StatusBadRequest)
	}
	src, err := fh.Open()
	if err != nil {
		return s.HandleError(c, err, "Failed to read upload", http.StatusBadRequest)
	}
	defer src.Close()

	rec, err := s.analyzer.Process(c.Request().Context(), fh.Filename, src, nil)
	if err != nil {
		switch {
		case errors.IsCategory(err, errors.CategoryUnsupportedMedia):
			return s.HandleError(c, err, "Unsupported file type", http.StatusBadRequest)
		case errors.IsCategory(err, errors.CategoryMediaDecode):
			return s.HandleError(c, err, "Invalid media file", http.StatusBadRequest)
		}
		return s.HandleError(c, err, err.Error(), http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, rec)
}

func (s *Server) getHistory(c echo.Context) error {
	return c.JSON(http.StatusOK, s.analyzer.History(c.Request().Context()))
}

// deleteHistory takes a JSON array of record ids.
func (s *Server) deleteHistory(c echo.Context) error {
	var ids []string
	if err := json.NewDecoder(c.Request().Body).Decode(&ids); err != nil {
		return s.HandleError(c, err, "Request body must be a JSON array of record ids", http.StatusBadRequest)
	}

	res, message, err := s.analyzer.Delete(c.Request().Context(), ids)
	if err != nil {
		return s.HandleError(c, err, "Failed to delete records", http.StatusInternalServerError)
	}
	if res.FileFailures > 0 {
		s.log.WithContext(c.Request().Context()).Warn("some media files could not be removed",
			logger.Int("failures", res.FileFailures))
	}
	return c.JSON(http.StatusOK, MessageResponse{Message: message})
}

// getReport renders the PDF report of a record and serves it inline.
func (s *Server) getReport(c echo.Context) error {
	id := c.Param("id")
	rec, found := s.analyzer.Record(c.Request().Context(), id)
	if !found {
		return s.HandleError(c, nil, "Record not found", http.StatusNotFound)
	}

	name, err := s.reports.Generate(&rec)
	if err != nil {
		return s.HandleError(c, err, fmt.Sprintf("Failed to generate report: %v", err), http.StatusInternalServerError)
	}

	c.Response().Header().Set(echo.HeaderContentType, "application/pdf")
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("inline; filename=%q", mediastore.ReportName(id)))
	return s.store.ServeResult(c, name)
}

func (s *Server) getResult(c echo.Context) error {
	name, err := url.PathUnescape(c.Param("*"))
	if err != nil {
		return s.HandleError(c, err, "Invalid file name", http.StatusBadRequest)
	}
	return s.store.ServeResult(c, name)
}
