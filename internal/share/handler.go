package share

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/droplite/service/internal/response"
)

const (
	fieldImages = "images"
	fieldVideo  = "video"

	maxVerifyBody = 1 << 10
)

// Limits bounds what a single upload request may contain.
type Limits struct {
	MaxFileSize int64
	MaxImages   int
	MaxVideos   int
}

// Handler holds HTTP handlers for upload and retrieval endpoints.
type Handler struct {
	uploader *Uploader
	gateway  *Gateway
	limits   Limits
	tempDir  string
	logger   *slog.Logger
}

// NewHandler creates a new share Handler.
func NewHandler(uploader *Uploader, gateway *Gateway, limits Limits, tempDir string, logger *slog.Logger) *Handler {
	return &Handler{
		uploader: uploader,
		gateway:  gateway,
		limits:   limits,
		tempDir:  tempDir,
		logger:   logger.With("component", "share_handler"),
	}
}

type uploadedFiles struct {
	Images []string `json:"images"`
	Video  *string  `json:"video" example:"https://cdn.example.com/drop-lite/videos/clip.mp4"`
}

type uploadResponse struct {
	Success       bool          `json:"success" example:"true"`
	Code          string        `json:"code" example:"4821"`
	UploadedFiles uploadedFiles `json:"uploadedFiles"`
	DownloadLinks []string      `json:"downloadLinks"`
	FailedFiles   []string      `json:"failedFiles,omitempty"`
}

type metadataResponse struct {
	Success   bool      `json:"success" example:"true"`
	ID        string    `json:"id" example:"aB3xY9"`
	FileName  string    `json:"fileName" example:"holiday.jpg"`
	ExpiresAt time.Time `json:"expiresAt" example:"2026-10-26T12:00:00.000Z"`
}

type verifyRequest struct {
	Code string `json:"code" example:"4821"`
}

type verifyResponse struct {
	Success  bool   `json:"success" example:"true"`
	URL      string `json:"url" example:"https://cdn.example.com/drop-lite/images/holiday.jpg"`
	FileName string `json:"fileName" example:"holiday.jpg"`
	// Deprecated: same value as URL, kept for older clients.
	CloudinaryURL string `json:"cloudinary_url" example:"https://cdn.example.com/drop-lite/images/holiday.jpg"`
}

// Upload godoc
//
//	@Summary		Upload files
//	@Description	Accepts up to 10 images and 1 video as multipart form data and returns one 4-digit code plus a retrieval link per stored file.
//	@Tags			files
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			images	formData	file	false	"Image files (repeatable)"
//	@Param			video	formData	file	false	"Video file"
//	@Success		200		{object}	uploadResponse
//	@Failure		400		{object}	response.Envelope
//	@Failure		413		{object}	response.Envelope
//	@Failure		429		{object}	response.Envelope
//	@Failure		500		{object}	response.Envelope
//	@Router			/upload-file/upload [post]
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	staged, err := h.stageParts(r)
	defer releaseAll(staged, h.logger)
	if err != nil {
		h.writeUploadError(w, err)
		return
	}
	if len(staged) == 0 {
		response.BadRequest(w, "No files uploaded. Please select at least one image or video.")
		return
	}

	batch, err := h.uploader.Upload(r.Context(), staged)
	if err != nil {
		h.writeUploadError(w, err)
		return
	}

	resp := uploadResponse{
		Success:       true,
		Code:          batch.Code,
		UploadedFiles: uploadedFiles{Images: []string{}},
		DownloadLinks: make([]string, 0, len(batch.Files)),
	}
	for _, f := range batch.Files {
		if f.Record.Category == CategoryVideo {
			url := f.Record.PublicURL
			resp.UploadedFiles.Video = &url
		} else {
			resp.UploadedFiles.Images = append(resp.UploadedFiles.Images, f.Record.PublicURL)
		}
		resp.DownloadLinks = append(resp.DownloadLinks, f.Link)
	}
	for _, f := range batch.Failed {
		resp.FailedFiles = append(resp.FailedFiles, f.Name)
	}

	response.OK(w, resp)
}

// stageParts streams every file part of the form to the temp dir, enforcing
// the per-field counts and the per-file size. Parts without a file name are skipped.
func (h *Handler) stageParts(r *http.Request) ([]*StagedFile, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, errBadForm
	}

	var staged []*StagedFile
	counts := make(map[Category]int)
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return staged, nil
		}
		if err != nil {
			return staged, formError(err)
		}

		if part.FileName() == "" {
			part.Close()
			continue
		}

		var category Category
		var limit int
		switch part.FormName() {
		case fieldImages:
			category, limit = CategoryImage, h.limits.MaxImages
		case fieldVideo:
			category, limit = CategoryVideo, h.limits.MaxVideos
		default:
			part.Close()
			return staged, ErrUnexpectedField
		}
		counts[category]++
		if counts[category] > limit {
			part.Close()
			return staged, ErrTooManyFiles
		}

		f, err := Stage(h.tempDir, category, part.FileName(), part.Header.Get("Content-Type"), part, h.limits.MaxFileSize)
		part.Close()
		if err != nil {
			return staged, formError(err)
		}
		staged = append(staged, f)
	}
}

var errBadForm = errors.New("invalid multipart form")

// formError keeps the classifiable errors, passes local filesystem failures
// through and folds everything else into errBadForm.
func formError(err error) error {
	var maxErr *http.MaxBytesError
	var pathErr *fs.PathError
	switch {
	case errors.As(err, &maxErr):
		return ErrFileTooLarge
	case errors.Is(err, ErrFileTooLarge), errors.As(err, &pathErr):
		return err
	default:
		return errBadForm
	}
}

func (h *Handler) writeUploadError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNoFiles):
		response.BadRequest(w, "No files uploaded. Please select at least one image or video.")
	case errors.Is(err, ErrUnexpectedField):
		response.BadRequest(w, "Unexpected file field. Use 'images' or 'video'.")
	case errors.Is(err, ErrTooManyFiles):
		response.BadRequest(w, fmt.Sprintf("Too many files. Up to %d images and %d video are allowed.", h.limits.MaxImages, h.limits.MaxVideos))
	case errors.Is(err, errBadForm):
		response.BadRequest(w, "Invalid upload form.")
	case errors.Is(err, ErrFileTooLarge):
		response.PayloadTooLarge(w, "File too large.")
	default:
		h.logger.Error("upload failed", "error", err)
		response.Error(w, http.StatusInternalServerError, "Upload failed. Please try again.")
	}
}

// GetMetadata godoc
//
//	@Summary		Get file metadata
//	@Description	Returns the name and expiry of a file. Does not require the code.
//	@Tags			files
//	@Produce		json
//	@Param			id	path		string	true	"File id"
//	@Success		200	{object}	metadataResponse
//	@Failure		400	{object}	response.Envelope
//	@Failure		404	{object}	response.Envelope
//	@Failure		410	{object}	response.Envelope
//	@Failure		429	{object}	response.Envelope
//	@Router			/download-file/{id} [get]
func (h *Handler) GetMetadata(w http.ResponseWriter, r *http.Request) {
	meta, err := h.gateway.Resolve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeRetrievalError(w, err)
		return
	}
	response.OK(w, metadataResponse{
		Success:   true,
		ID:        meta.ID,
		FileName:  meta.FileName,
		ExpiresAt: meta.ExpiresAt,
	})
}

// VerifyCode godoc
//
//	@Summary		Verify access code
//	@Description	Checks the 4-digit code of a file and returns its URL on a match.
//	@Tags			files
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"File id"
//	@Param			request	body		verifyRequest	true	"Access code"
//	@Success		200		{object}	verifyResponse
//	@Failure		400		{object}	response.Envelope
//	@Failure		403		{object}	response.Envelope
//	@Failure		404		{object}	response.Envelope
//	@Failure		410		{object}	response.Envelope
//	@Failure		429		{object}	response.Envelope
//	@Router			/download-file/{id}/verify [post]
func (h *Handler) VerifyCode(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxVerifyBody)).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	acc, err := h.gateway.Verify(r.Context(), chi.URLParam(r, "id"), req.Code)
	if err != nil {
		h.writeRetrievalError(w, err)
		return
	}
	response.OK(w, verifyResponse{
		Success:       true,
		URL:           acc.URL,
		FileName:      acc.FileName,
		CloudinaryURL: acc.URL,
	})
}

func (h *Handler) writeRetrievalError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidID):
		response.BadRequest(w, "Invalid file id")
	case errors.Is(err, ErrMissingCode):
		response.BadRequest(w, "Code is required")
	case errors.Is(err, ErrNotFound):
		response.NotFound(w, "File not found")
	case errors.Is(err, ErrExpired):
		response.Gone(w, "Link expired")
	case errors.Is(err, ErrInvalidCode):
		response.Forbidden(w, "Invalid code")
	default:
		h.logger.Error("retrieval failed", "error", err)
		response.InternalError(w)
	}
}
