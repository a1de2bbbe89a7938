package server

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"docrag/internal/domain"
	"docrag/internal/loader"
	"docrag/internal/service"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func abortWithError(c *gin.Context, status int, code string, err error) {
	c.AbortWithStatusJSON(status, gin.H{"error": errorBody{Code: code, Message: err.Error()}})
}

// statusFor maps a domain error to an HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, domain.ErrSessionRetired):
		return http.StatusGone, "session_expired"
	case errors.Is(err, domain.ErrEmbeddingUnavailable),
		errors.Is(err, domain.ErrVectorStoreUnavailable),
		errors.Is(err, domain.ErrGenerationUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	}
	return http.StatusInternalServerError, "internal_error"
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": s.sessions.Len()})
}

func (s *Server) getSession(c *gin.Context) {
	sess := sessionFrom(c)
	sources := sess.Sources()
	c.JSON(http.StatusOK, gin.H{
		"id":            sess.ID(),
		"sources":       sources,
		"limit":         sess.Limit(),
		"rag_available": len(sources) > 0,
		"models":        s.svc.Models(),
	})
}

func (s *Server) listSources(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sources": sessionFrom(c).Sources()})
}

// sourceItem reports one ingestion attempt.
type sourceItem struct {
	Origin  string          `json:"origin"`
	Status  service.Outcome `json:"status"`
	Title   string          `json:"title,omitempty"`
	Chunks  int             `json:"chunks"`
	Summary string          `json:"summary,omitempty"`
	Message string          `json:"message,omitempty"`
}

// addSources ingests every uploaded file in the "files" field and the URL
// in the "url" field, in that order. Each item is reported separately; the
// request succeeds even when some items are rejected.
func (s *Server) addSources(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.opts.MaxUploadBytes)

	var files []*multipart.FileHeader
	form, err := c.MultipartForm()
	switch {
	case err == nil:
		files = form.File["files"]
	case !errors.Is(err, http.ErrNotMultipart):
		abortWithError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("reading upload: %w", err))
		return
	}
	url := strings.TrimSpace(c.PostForm("url"))
	if len(files) == 0 && url == "" {
		abortWithError(c, http.StatusBadRequest, "bad_request", errors.New("no files or url given"))
		return
	}

	sess := sessionFrom(c)
	items := make([]sourceItem, 0, len(files)+1)
	for _, fh := range files {
		items = append(items, s.ingestUpload(c, fh))
	}
	if url != "" {
		res, err := s.svc.Ingest(c.Request.Context(), sess, loader.Source{Origin: url})
		items = append(items, itemFor(url, res, err))
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "sources": sess.Sources()})
}

// ingestUpload spools an uploaded file to disk so the loader can read it,
// and ingests it under its client-side name.
func (s *Server) ingestUpload(c *gin.Context, fh *multipart.FileHeader) sourceItem {
	origin := filepath.Base(fh.Filename)
	tmp, err := spool(fh)
	if err != nil {
		return itemFor(origin, service.IngestResult{}, err)
	}
	defer os.Remove(tmp)

	res, err := s.svc.Ingest(c.Request.Context(), sessionFrom(c), loader.Source{Origin: origin, Path: tmp})
	return itemFor(origin, res, err)
}

func spool(fh *multipart.FileHeader) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("opening upload: %w", err)
	}
	defer src.Close()

	dst, err := os.CreateTemp("", "docrag-upload-*"+filepath.Ext(fh.Filename))
	if err != nil {
		return "", fmt.Errorf("spooling upload: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return "", fmt.Errorf("spooling upload: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(dst.Name())
		return "", fmt.Errorf("spooling upload: %w", err)
	}
	return dst.Name(), nil
}

func itemFor(origin string, res service.IngestResult, err error) sourceItem {
	item := sourceItem{Origin: origin, Status: service.OutcomeOf(err)}
	if err != nil {
		item.Message = err.Error()
		return item
	}
	item.Title = res.Title
	item.Chunks = res.Chunks
	item.Summary = res.Summary
	return item
}

type chatRequest struct {
	Message string `json:"message"`
	UseRAG  bool   `json:"use_rag"`
	Model   string `json:"model"`
}

// chat streams an answer as Server-Sent Events: one "meta" event, a "delta"
// per fragment, then "done" or "error".
func (s *Server) chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	ans, err := s.svc.Ask(c.Request.Context(), sessionFrom(c), req.Message, service.AskOptions{UseRAG: req.UseRAG, Model: req.Model})
	if ans == nil {
		status, code := statusFor(err)
		abortWithError(c, status, code, err)
		return
	}
	defer ans.Close()

	c.Header("Content-Type", "text/event-stream; charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	send := func(event string, data any) {
		c.SSEvent(event, data)
		c.Writer.Flush()
	}
	send("meta", gin.H{"augmented": ans.Augmented, "reason": ans.Reason, "sources": ans.Sources(), "model": ans.Model})
	if err != nil {
		send("error", gin.H{"message": err.Error(), "state": ans.State()})
		return
	}

	ctx := c.Request.Context()
	for {
		if ctx.Err() != nil {
			return
		}
		frag, done, err := ans.Next()
		switch {
		case err != nil:
			send("error", gin.H{"message": err.Error(), "state": ans.State()})
			return
		case done:
			send("done", gin.H{"augmented": ans.Augmented, "reason": ans.Reason})
			return
		}
		send("delta", gin.H{"text": frag})
	}
}

func (s *Server) clearChat(c *gin.Context) {
	sessionFrom(c).ClearHistory()
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

func (s *Server) reset(c *gin.Context) {
	sess := sessionFrom(c)
	if err := s.svc.Reset(c.Request.Context(), sess); err != nil {
		status, code := statusFor(err)
		abortWithError(c, status, code, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": sess.ID(), "sources": sess.Sources()})
}
