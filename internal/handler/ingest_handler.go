package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/kbchat/internal/pkg/errcode"
	appErr "github.com/xxxsen/kbchat/internal/pkg/errors"
	"github.com/xxxsen/kbchat/internal/pkg/response"
	"github.com/xxxsen/kbchat/internal/service"
)

type IngestHandler struct {
	ingest         *service.IngestService
	maxUploadBytes int64
}

func NewIngestHandler(ingest *service.IngestService, maxUploadBytes int64) *IngestHandler {
	return &IngestHandler{ingest: ingest, maxUploadBytes: maxUploadBytes}
}

type scrapeResponse struct {
	Success bool `json:"success"`
	*service.IngestResult
	Error string `json:"error,omitempty"`
}

type uploadResponse struct {
	Success  bool   `json:"success"`
	Filename string `json:"filename"`
	Chunks   int    `json:"chunks_created,omitempty"`
	Code     int    `json:"code,omitempty"`
	Error    string `json:"error,omitempty"`
}

type githubResponse struct {
	Success        bool   `json:"success"`
	Repo           string `json:"repo"`
	FilesProcessed int    `json:"files_processed"`
	FilesIngested  int    `json:"files_ingested"`
	Message        string `json:"message"`
}

func (h *IngestHandler) Scrape(c *gin.Context) {
	var req service.ScrapeRequest
	err := c.ShouldBindJSON(&req)
	if err != nil {
		err = invalid(err)
	} else {
		err = service.Validate(&req)
	}
	var res *service.IngestResult
	if err == nil {
		res, err = h.ingest.IngestURL(c.Request.Context(), req.URL, req.GithubToken)
	}
	if err != nil {
		logError(c, err)
		status, _ := classify(err)
		response.RawStatus(c, status, scrapeResponse{Error: err.Error()})
		return
	}
	response.Raw(c, scrapeResponse{Success: true, IngestResult: res})
}

func (h *IngestHandler) Upload(c *gin.Context) {
	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+1<<20)
	}
	file, err := c.FormFile("file")
	if err != nil {
		logError(c, err)
		response.RawStatus(c, http.StatusBadRequest, uploadResponse{Code: errcode.ErrInvalidFile, Error: "file is required"})
		return
	}
	if h.maxUploadBytes > 0 && file.Size > h.maxUploadBytes {
		h.uploadFailed(c, file.Filename, fmt.Errorf("%w: file exceeds %s", appErr.ErrInvalid, formatUploadLimit(h.maxUploadBytes)))
		return
	}
	opened, err := file.Open()
	if err != nil {
		h.uploadFailed(c, file.Filename, invalid(err))
		return
	}
	defer opened.Close()

	ctx := c.Request.Context()
	tenantURL := c.PostForm("url")
	identifier, err := h.ingest.SaveUpload(ctx, tenantURL, file.Filename, opened, file.Size)
	if err != nil {
		if !errors.Is(err, appErr.ErrInvalid) && !errors.Is(err, appErr.ErrConflict) {
			logError(c, err)
			response.RawStatus(c, http.StatusInternalServerError, uploadResponse{
				Filename: file.Filename, Code: errcode.ErrUploadFailed, Error: err.Error(),
			})
			return
		}
		h.uploadFailed(c, file.Filename, err)
		return
	}
	res, err := h.ingest.IngestFile(ctx, tenantURL, identifier)
	if err != nil {
		h.uploadFailed(c, identifier, err)
		return
	}
	response.Raw(c, uploadResponse{Success: true, Filename: identifier, Chunks: res.ChunksCreated})
}

func (h *IngestHandler) uploadFailed(c *gin.Context, filename string, err error) {
	logError(c, err)
	status, code := classify(err)
	response.RawStatus(c, status, uploadResponse{Filename: filename, Code: code, Error: err.Error()})
}

// Github accepts only the documented keys. A body carrying "url" instead
// of "github_url" is rejected rather than guessed at.
func (h *IngestHandler) Github(c *gin.Context) {
	var req service.GithubIngestRequest
	dec := json.NewDecoder(c.Request.Body)
	dec.DisallowUnknownFields()
	err := dec.Decode(&req)
	if err != nil {
		err = invalid(err)
	} else {
		err = service.Validate(&req)
	}
	var res *service.IngestResult
	if err == nil {
		res, err = h.ingest.IngestGithubRepo(c.Request.Context(), req.GithubURL, req.GithubToken)
	}
	if err != nil {
		logError(c, err)
		status, _ := classify(err)
		response.RawStatus(c, status, githubResponse{Repo: req.GithubURL, Message: err.Error()})
		return
	}
	response.Raw(c, githubResponse{
		Success:        true,
		Repo:           res.Identifier,
		FilesProcessed: res.FilesProcessed,
		FilesIngested:  res.FilesIngested,
		Message: fmt.Sprintf("Ingested %d of %d files into %d chunks",
			res.FilesIngested, res.FilesProcessed, res.ChunksCreated),
	})
}
