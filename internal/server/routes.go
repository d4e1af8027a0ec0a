package server

import (
	stderrors "errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Taichi-iskw/transcript-index/internal/errors"
	"github.com/Taichi-iskw/transcript-index/internal/model"
	"github.com/Taichi-iskw/transcript-index/internal/orchestrator"
	"github.com/Taichi-iskw/transcript-index/internal/service/media"
)

func registerRoutes(router *gin.Engine, opts StartOpts) {
	status := router.Group("/status")
	status.GET("/capabilities", handleCapabilities(opts.Orchestrator))
	status.GET("/db", handleDBStatus(opts.Orchestrator))
	status.GET("/uploads", handleUploads(opts.Uploads))

	db := router.Group("/db")
	db.POST("/index", handleIndex(opts.Orchestrator))
	db.POST("/query", handleQuery(opts.Orchestrator))

	router.POST("/upload", handleUpload(opts.UploadsDir))
	router.GET("/runs", handleRuns(opts.Runs))
}

type indexRequest struct {
	Source        string `json:"source"`
	RoomName      string `json:"room_name"`
	MaxRecordings int    `json:"max_recordings"`
}

type queryRequest struct {
	Query string `json:"query"`
}

func errorJSON(c *gin.Context, code int, msg string) {
	c.AbortWithStatusJSON(code, gin.H{"error": msg})
}

// messageOf returns the outermost AppError message, falling back to err.Error()
func messageOf(err error) string {
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}

func handleCapabilities(o Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"daily":       o.DailyEnabled(),
			"transcriber": o.TranscriberName(),
		})
	}
}

func handleDBStatus(o Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, o.Status())
	}
}

func handleUploads(uploads UploadLister) gin.HandlerFunc {
	return func(c *gin.Context) {
		names, err := uploads.List()
		if err != nil {
			errorJSON(c, http.StatusInternalServerError, "Failed to retrieve uploaded file paths")
			return
		}
		c.JSON(http.StatusOK, gin.H{"files": names})
	}
}

func handleIndex(o Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if o.Status().State.Busy() {
			errorJSON(c, http.StatusBadRequest, "Vector store not ready for further updates")
			return
		}

		var req indexRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.Source == "" {
			errorJSON(c, http.StatusBadRequest, "Must provide at least the 'source' property in request body")
			return
		}
		source, err := model.ParseSource(req.Source)
		if err != nil {
			errorJSON(c, http.StatusBadRequest, "Unrecognized source: "+req.Source+". Source must be 'daily' or 'uploads'")
			return
		}

		ingest := orchestrator.IngestRequest{Source: source}
		if source == model.SourceDaily {
			ingest.RoomName = req.RoomName
			ingest.MaxRecordings = req.MaxRecordings
		}

		if err := o.TryStart(ingest); err != nil {
			switch errors.CodeOf(err) {
			case errors.CodeConflict:
				errorJSON(c, http.StatusBadRequest, "Vector store not ready for further updates")
			case errors.CodeInvalidArg, errors.CodeConfiguration:
				errorJSON(c, http.StatusBadRequest, messageOf(err))
			default:
				errorJSON(c, http.StatusInternalServerError, "Failed to initialize database")
			}
			return
		}
		c.JSON(http.StatusOK, gin.H{})
	}
}

func handleQuery(o Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !o.Ready() {
			errorJSON(c, http.StatusLocked, "Vector index is not yet ready; try again later")
			return
		}

		var req queryRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.Query == "" {
			errorJSON(c, http.StatusBadRequest, "Must provide the 'query' property in request body")
			return
		}

		answer, err := o.Query(c.Request.Context(), req.Query)
		if err != nil {
			switch errors.CodeOf(err) {
			case errors.CodeNotReady:
				errorJSON(c, http.StatusLocked, "Vector index is not yet ready; try again later")
			case errors.CodeInvalidArg:
				errorJSON(c, http.StatusBadRequest, "Query has no searchable terms")
			default:
				errorJSON(c, http.StatusInternalServerError, "failed to query index")
			}
			return
		}
		c.JSON(http.StatusOK, answer)
	}
}

func handleUpload(dir string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadBytes)

		file, header, err := c.Request.FormFile("file")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if stderrors.As(err, &tooLarge) {
				errorJSON(c, http.StatusRequestEntityTooLarge, "uploaded file exceeds the 600MB limit")
				return
			}
			errorJSON(c, http.StatusBadRequest, "failed to retrieve file from request. Was a file provided?")
			return
		}
		defer file.Close()

		if _, err := media.SaveUpload(dir, header.Filename, file); err != nil {
			if errors.Is(err, errors.CodeInvalidArg) {
				errorJSON(c, http.StatusBadRequest, "uploaded file must be an .mp4 or .mov video")
				return
			}
			errorJSON(c, http.StatusInternalServerError, "Failed to save uploaded file")
			return
		}
		c.JSON(http.StatusOK, gin.H{})
	}
}

func handleRuns(runs RunLister) gin.HandlerFunc {
	return func(c *gin.Context) {
		if runs == nil {
			errorJSON(c, http.StatusNotFound, "run ledger is not configured; set DATABASE_URL")
			return
		}
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

		list, err := runs.List(c.Request.Context(), limit)
		if err != nil {
			errorJSON(c, http.StatusInternalServerError, "failed to list runs")
			return
		}
		c.JSON(http.StatusOK, gin.H{"runs": list})
	}
}
