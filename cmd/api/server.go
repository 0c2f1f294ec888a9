package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"squarecrop/internal/api"
	"squarecrop/internal/cropdb"
	"squarecrop/internal/health"
	"squarecrop/internal/imageproc"
	"squarecrop/internal/imagesource"
	"squarecrop/internal/netfetch"
	"squarecrop/internal/pipeline"
	"squarecrop/internal/session"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	middleware "github.com/oapi-codegen/chi-middleware"
	openapi_types "github.com/oapi-codegen/runtime/types"
)

const processingFailedMessage = "processing failed"

// imageContentTypes are decoded as opaque bodies by the request validator.
var imageContentTypes = []string{
	"application/octet-stream",
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/webp",
	"image/bmp",
	"image/tiff",
}

func init() {
	for _, ct := range imageContentTypes {
		openapi3filter.RegisterBodyDecoder(ct, openapi3filter.FileBodyDecoder)
	}
}

type server struct {
	proc     pipeline.Stages
	sessions *session.Store
	ledger   *ledger
	client   *http.Client
	fetch    netfetch.Options
	maxBody  int64
}

// newRouter mounts health checks and the API. Requests are validated against
// swagger when it is non-nil. Bodies are capped at s.maxBody before the
// validator reads them.
func newRouter(s *server, swagger *openapi3.T, checks ...health.Check) http.Handler {
	router := chi.NewRouter()
	health.Register(router, checks...)

	apiRouter := chi.NewRouter()
	if s.maxBody > 0 {
		apiRouter.Use(limitBody(s.maxBody))
	}
	if swagger != nil {
		apiRouter.Use(middleware.OapiRequestValidatorWithOptions(swagger, &middleware.Options{
			ErrorHandler: validationError,
		}))
	}
	api.HandlerWithOptions(s, api.ChiServerOptions{
		BaseRouter:       apiRouter,
		ErrorHandlerFunc: paramError,
	})
	router.Mount("/", apiRouter)
	return router
}

func limitBody(max int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > max {
				writeError(w, http.StatusRequestEntityTooLarge, "image exceeds maximum size")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, max)
			next.ServeHTTP(w, r)
		})
	}
}

// validationError reports request validation failures in the API's error
// shape. A body cut off by limitBody surfaces here as a read failure.
func validationError(w http.ResponseWriter, message string, status int) {
	if strings.Contains(message, "request body too large") {
		writeError(w, http.StatusRequestEntityTooLarge, "image exceeds maximum size")
		return
	}
	writeError(w, status, message)
}

func paramError(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, http.StatusBadRequest, err.Error())
}

func (s *server) PostCrops(w http.ResponseWriter, r *http.Request) {
	src, ok := s.readSource(w, r)
	if !ok {
		return
	}

	runner := pipeline.NewRunner(s.proc)
	defer runner.Close()

	token, err := runner.Submit(src)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to start crop")
		return
	}
	snap, err := runner.Wait(r.Context(), token)
	if err != nil {
		slog.Debug("crop abandoned", "err", err)
		writeError(w, http.StatusServiceUnavailable, "request canceled")
		return
	}

	cropID := s.ledger.record(context.WithoutCancel(r.Context()), "", snap)
	out, err := pipeline.Result(snap)
	if err != nil {
		writeCropError(w, err)
		return
	}
	if cropID != "" {
		w.Header().Set("X-Crop-Id", cropID)
	}
	writeImage(w, out, snap.Region)
}

func (s *server) GetCropsId(w http.ResponseWriter, r *http.Request, id openapi_types.UUID) {
	if s.ledger == nil || s.ledger.db == nil {
		writeError(w, http.StatusServiceUnavailable, "crop ledger is not enabled")
		return
	}
	crop, ok, err := cropdb.GetCrop(r.Context(), s.ledger.db, id.String())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch crop")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "crop not found")
		return
	}
	writeJSON(w, cropRecord(crop), http.StatusOK)
}

func (s *server) PostSessions(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Create()
	slog.Debug("session created", "session_id", sess.ID.String())
	writeJSON(w, sessionResponse(sess), http.StatusCreated)
}

func (s *server) GetSessionsId(w http.ResponseWriter, r *http.Request, id openapi_types.UUID) {
	sess, ok := s.sessions.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, sessionResponse(sess), http.StatusOK)
}

func (s *server) DeleteSessionsId(w http.ResponseWriter, r *http.Request, id openapi_types.UUID) {
	if !s.sessions.Delete(id) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) PutSessionsIdSource(w http.ResponseWriter, r *http.Request, id openapi_types.UUID) {
	sess, ok := s.sessions.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	src, ok := s.readSource(w, r)
	if !ok {
		return
	}
	if _, err := sess.Runner.Submit(src); err != nil {
		if errors.Is(err, pipeline.ErrClosed) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to start crop")
		return
	}
	writeJSON(w, sessionResponse(sess), http.StatusAccepted)
}

func (s *server) PostSessionsIdReset(w http.ResponseWriter, r *http.Request, id openapi_types.UUID) {
	sess, ok := s.sessions.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	sess.Runner.Reset()
	writeJSON(w, sessionResponse(sess), http.StatusOK)
}

func (s *server) GetSessionsIdResult(w http.ResponseWriter, r *http.Request, id openapi_types.UUID) {
	sess, ok := s.sessions.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	snap := sess.Runner.Snapshot()
	out, err := pipeline.Result(snap)
	if err != nil {
		writeCropError(w, err)
		return
	}
	writeImage(w, out, snap.Region)
}

// readSource turns the request body into an image source. Raw bodies are the
// image itself; JSON bodies name a URL or carry a data URI.
func (s *server) readSource(w http.ResponseWriter, r *http.Request) (imageproc.Source, bool) {
	var body io.Reader = r.Body
	if s.maxBody > 0 {
		body = http.MaxBytesReader(w, r.Body, s.maxBody)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "image exceeds maximum size")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "failed to read body")
		return nil, false
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "image is required")
		return nil, false
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "application/json" {
		return imagesource.Bytes(data), true
	}

	var req api.SourceRequest
	if err := json.Unmarshal(data, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return nil, false
	}
	hasURL := req.ImageUrl != nil && *req.ImageUrl != ""
	hasDataURI := req.DataUri != nil && *req.DataUri != ""
	switch {
	case hasURL == hasDataURI:
		writeError(w, http.StatusBadRequest, "exactly one of imageUrl or dataUri is required")
		return nil, false
	case hasURL:
		return imagesource.Remote{URL: *req.ImageUrl, Client: s.client, Options: s.fetch}, true
	default:
		decoded, _, err := imagesource.ParseDataURI(*req.DataUri)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid data uri")
			return nil, false
		}
		return imagesource.Bytes(decoded), true
	}
}

func sessionResponse(sess *session.Session) api.SessionResponse {
	snap := sess.Runner.Snapshot()
	resp := api.SessionResponse{
		Id:         sess.ID,
		State:      api.SessionState(snap.State.String()),
		Generation: int64(snap.Token),
		CreatedAt:  sess.CreatedAt.UTC(),
	}
	if snap.SourceWidth > 0 {
		resp.SourceWidth = &snap.SourceWidth
		resp.SourceHeight = &snap.SourceHeight
	}
	if snap.Region.Width > 0 {
		resp.Region = cropRegion(snap.Region)
	}
	if snap.Output != nil {
		resp.Output = &api.OutputInfo{
			ContentType: snap.Output.ContentType(),
			Filename:    snap.Output.Filename(),
			Size:        len(snap.Output.Data),
			Width:       snap.Output.Width,
			Height:      snap.Output.Height,
		}
	}
	if snap.State == pipeline.Failed {
		msg := errorMessage(snap.Err)
		resp.Error = &msg
	}
	return resp
}

func cropRecord(crop cropdb.Crop) api.CropRecord {
	rec := api.CropRecord{
		Id:           mustParseUUID(crop.ID),
		Status:       api.CropRecordStatus(crop.Status),
		SourceWidth:  crop.SourceWidth,
		SourceHeight: crop.SourceHeight,
		CreatedAt:    crop.CreatedAt,
	}
	if crop.SessionID.Valid {
		sessionID := mustParseUUID(crop.SessionID.String)
		rec.SessionId = &sessionID
	}
	if crop.Status == cropdb.StatusDone {
		rec.Region = cropRegion(imageproc.Region{X: crop.RegionX, Y: crop.RegionY, Width: crop.Side, Height: crop.Side})
		rec.Format = &crop.Format
		rec.OutputBytes = &crop.OutputBytes
	}
	if crop.Error.Valid && crop.Error.String != "" {
		rec.Error = &crop.Error.String
	}
	return rec
}

func cropRegion(r imageproc.Region) *api.CropRegion {
	return &api.CropRegion{X: r.X, Y: r.Y, Width: r.Width, Height: r.Height}
}

// errorMessage is the client-facing text for a crop failure. Details stay in
// the logs.
func errorMessage(err error) string {
	var violation *imageproc.InvariantViolation
	if errors.As(err, &violation) {
		return "internal error"
	}
	return processingFailedMessage
}

func writeCropError(w http.ResponseWriter, err error) {
	var violation *imageproc.InvariantViolation
	switch {
	case errors.As(err, &violation):
		writeError(w, http.StatusInternalServerError, "internal error")
	case errors.Is(err, pipeline.ErrNotFinished):
		writeError(w, http.StatusConflict, "crop is not finished")
	case errors.Is(err, pipeline.ErrProcessingFailed):
		writeError(w, http.StatusUnprocessableEntity, processingFailedMessage)
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeImage(w http.ResponseWriter, out *imageproc.Output, region imageproc.Region) {
	h := w.Header()
	h.Set("Content-Type", out.ContentType())
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": out.Filename()}))
	h.Set("Content-Length", strconv.Itoa(len(out.Data)))
	h.Set("X-Crop-Region", region.String())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out.Data)
}

func writeJSON(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, api.ErrorResponse{Message: message}, status)
}

func mustParseUUID(id string) uuid.UUID {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil
	}
	return parsed
}

var _ api.ServerInterface = (*server)(nil)
