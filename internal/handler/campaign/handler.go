package campaign

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"

	"github.com/jwalitptl/reschedule-agent/internal/model"
	"github.com/jwalitptl/reschedule-agent/internal/service/campaign"
	"github.com/jwalitptl/reschedule-agent/internal/service/export"
	"github.com/jwalitptl/reschedule-agent/internal/service/loader"
	apperrors "github.com/jwalitptl/reschedule-agent/pkg/errors"
	"github.com/jwalitptl/reschedule-agent/pkg/httputil"
	"github.com/jwalitptl/reschedule-agent/pkg/logger"
)

const (
	ContentTypeNDJSON = "application/x-ndjson"

	phoneNumbersKey        = "phone_numbers"
	DefaultPhoneNumbersTTL = 5 * time.Minute
)

// PhoneNumberLister is satisfied by the call service client.
type PhoneNumberLister interface {
	ListPhoneNumbers(ctx context.Context) ([]model.PhoneNumber, error)
}

type Config struct {
	// DefaultFromNumber is dialed from when a start request names none.
	DefaultFromNumber string
	PhoneNumbersTTL   time.Duration
}

type Handler struct {
	svc     *campaign.Service
	numbers PhoneNumberLister
	cfg     Config
	cache   *cache.Cache
	logger  *logger.Logger
}

func NewHandler(svc *campaign.Service, numbers PhoneNumberLister, cfg Config, log *logger.Logger) *Handler {
	if cfg.PhoneNumbersTTL <= 0 {
		cfg.PhoneNumbersTTL = DefaultPhoneNumbersTTL
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{
		svc:     svc,
		numbers: numbers,
		cfg:     cfg,
		cache:   cache.New(cfg.PhoneNumbersTTL, 2*cfg.PhoneNumbersTTL),
		logger:  log,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	uploads := r.Group("/uploads")
	{
		uploads.POST("/people", h.UploadPeople)
		uploads.POST("/appointments", h.UploadAppointments)
	}

	campaigns := r.Group("/campaigns")
	{
		campaigns.POST("/start", h.Start)
		campaigns.POST("/stop", h.Stop)
	}

	r.GET("/calls/:id/result", h.CallResult)
	r.GET("/results", h.Results)
	r.GET("/results/export", h.ExportResults)
	r.GET("/status", h.Status)
	r.GET("/phone-numbers", h.PhoneNumbers)
}

func (h *Handler) UploadPeople(c *gin.Context) {
	t, err := readUpload(c)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	summary, err := h.svc.UploadPeople(t)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, summary)
}

func (h *Handler) UploadAppointments(c *gin.Context) {
	t, err := readUpload(c)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	summary, err := h.svc.UploadAppointments(t)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, summary)
}

// readUpload accepts either a multipart form with a "file" part or the file
// as the raw request body.
func readUpload(c *gin.Context) (*loader.Table, error) {
	mediaType, _, _ := mime.ParseMediaType(c.GetHeader("Content-Type"))
	if mediaType == "multipart/form-data" {
		fh, err := c.FormFile("file")
		if err != nil {
			return nil, apperrors.BadRequest("missing file", err)
		}
		f, err := fh.Open()
		if err != nil {
			return nil, apperrors.BadRequest("unreadable file", err)
		}
		defer f.Close()
		return loader.Parse(f, fh.Filename, fh.Header.Get("Content-Type"))
	}

	if c.Request.Body == nil {
		return nil, apperrors.Validation("uploaded file has no rows")
	}
	return loader.Parse(c.Request.Body, c.Query("filename"), mediaType)
}

// Start launches a campaign and streams its progress events as NDJSON until
// the run ends. Guard failures are returned before any streaming starts.
func (h *Handler) Start(c *gin.Context) {
	var req model.StartCampaignRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			httputil.RespondWithError(c, apperrors.BadRequest("invalid request body", err))
			return
		}
	}
	from := strings.TrimSpace(req.FromNumber)
	if from == "" {
		from = h.cfg.DefaultFromNumber
	}

	events, err := h.svc.Start(c.Request.Context(), from)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	c.Header("Content-Type", ContentTypeNDJSON)
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	c.Stream(func(w io.Writer) bool {
		evt, ok := <-events
		if !ok {
			return false
		}
		if err := json.NewEncoder(w).Encode(evt); err != nil {
			h.logger.Warn("campaign.stream.write_failed", "run_id", evt.RunID, "error", err.Error())
			return false
		}
		return true
	})
}

func (h *Handler) Stop(c *gin.Context) {
	if err := h.svc.Stop(); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"message": "Stop requested"})
}

// CallResult settles a call whose progress stream was lost.
func (h *Handler) CallResult(c *gin.Context) {
	result, err := h.svc.Recover(c.Request.Context(), c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, result)
}

func (h *Handler) Results(c *gin.Context) {
	httputil.RespondWithSuccess(c, h.svc.Results())
}

func (h *Handler) ExportResults(c *gin.Context) {
	results := h.svc.Results()
	if len(results) == 0 {
		httputil.RespondWithError(c, export.ErrNoResults)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteCSV(&buf, results); err != nil {
		httputil.RespondWithError(c, apperrors.Internal(err))
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+export.FileName(time.Now())+`"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

func (h *Handler) Status(c *gin.Context) {
	httputil.RespondWithSuccess(c, h.svc.Status())
}

func (h *Handler) PhoneNumbers(c *gin.Context) {
	if cached, ok := h.cache.Get(phoneNumbersKey); ok {
		httputil.RespondWithSuccess(c, cached)
		return
	}

	numbers, err := h.numbers.ListPhoneNumbers(c.Request.Context())
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	h.cache.SetDefault(phoneNumbersKey, numbers)
	httputil.RespondWithSuccess(c, numbers)
}
