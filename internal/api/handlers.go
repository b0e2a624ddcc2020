package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"chart-rsi/internal/calibrate"
	"chart-rsi/internal/logger"
	"chart-rsi/internal/metrics"
	"chart-rsi/internal/model"
	"chart-rsi/internal/notification"
	"chart-rsi/internal/pipeline"
	"chart-rsi/internal/render"
)

var allowedExtensions = map[string]bool{".png": true, ".jpg": true, ".jpeg": true}

// errBadRequest marks request problems that are not calibration errors.
var errBadRequest = errors.New("bad request")

type errorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, TraceID: w.Header().Get(traceHeader)})
}

// classify maps an analysis error to an HTTP status, a client message and a
// metrics outcome.
func classify(err error) (int, string, string) {
	switch {
	case errors.Is(err, model.ErrCalibration):
		return http.StatusBadRequest, err.Error(), metrics.OutcomeCalibration
	case errors.Is(err, model.ErrEmptyBoundary):
		return http.StatusUnprocessableEntity, model.ErrEmptyBoundary.Error(), metrics.OutcomeEmptyBoundary
	case errors.Is(err, model.ErrInsufficientData):
		return http.StatusUnprocessableEntity, model.ErrInsufficientData.Error(), metrics.OutcomeInsufficientData
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, err.Error(), metrics.OutcomeBadRequest
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge, "upload too large", metrics.OutcomeBadRequest
	}
	return http.StatusInternalServerError, "internal error", metrics.OutcomeError
}

// upload is a validated analysis request.
type upload struct {
	fileName string
	cal      calibrate.Calibration
	pipe     *pipeline.Pipeline
	img      image.Image
}

// parseUpload validates the multipart form. The calibration and period are
// checked before the image is decoded.
func (s *Server) parseUpload(w http.ResponseWriter, r *http.Request) (*upload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.opts.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: malformed multipart form", errBadRequest)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("%w: missing file", errBadRequest)
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	if !allowedExtensions[strings.ToLower(filepath.Ext(name))] {
		return nil, fmt.Errorf("%w: file must be png, jpg or jpeg", errBadRequest)
	}

	cal, err := calibrate.Parse(r.FormValue("price_min"), r.FormValue("price_max"), r.FormValue("chart_height"))
	if err != nil {
		return nil, err
	}

	pipe := s.deps.Pipeline
	if raw := strings.TrimSpace(r.FormValue("period")); raw != "" {
		period, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: period %q is not an integer", errBadRequest, raw)
		}
		if pipe, err = pipe.WithPeriod(period); err != nil {
			return nil, fmt.Errorf("%w: %v", errBadRequest, err)
		}
	}

	img, err := s.decodeImage(file)
	if err != nil {
		return nil, err
	}
	return &upload{fileName: name, cal: cal, pipe: pipe, img: img}, nil
}

// decodeImage reads the header first so an oversized raster is rejected
// before any pixel buffer is allocated.
func (s *Server) decodeImage(f multipart.File) (image.Image, error) {
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("api: read upload: %w", err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: file is not a decodable png or jpeg image", errBadRequest)
	}
	if px := int64(cfg.Width) * int64(cfg.Height); px > s.opts.MaxPixels {
		return nil, fmt.Errorf("%w: image is %dx%d, limit is %d pixels", errBadRequest, cfg.Width, cfg.Height, s.opts.MaxPixels)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: file is not a decodable png or jpeg image", errBadRequest)
	}
	return img, nil
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := s.deps.Log.With(logger.LogWithTrace(ctx)...)

	up, err := s.parseUpload(w, r)
	if err == nil {
		var a *model.Analysis
		if a, err = s.analyze(ctx, up); err == nil {
			s.deps.Metrics.AnalysesTotal.WithLabelValues(metrics.OutcomeOK).Inc()
			writeJSON(w, http.StatusCreated, a)
			return
		}
	}

	status, msg, outcome := classify(err)
	s.deps.Metrics.AnalysesTotal.WithLabelValues(outcome).Inc()
	if status >= http.StatusInternalServerError {
		log.Error("analysis failed", "error", err)
	} else {
		log.Info("analysis rejected", "status", status, "error", err)
	}
	writeError(w, status, msg)
}

// analyze runs the pipeline and hands the finished analysis to the journal,
// the publisher or hub, and the notifier.
func (s *Server) analyze(ctx context.Context, up *upload) (*model.Analysis, error) {
	log := s.deps.Log.With(logger.LogWithTrace(ctx)...)

	res, err := up.pipe.Run(up.img, up.cal)
	up.img = nil
	if err != nil {
		return nil, err
	}

	m := s.deps.Metrics
	for _, st := range res.Stages {
		m.ObserveStage(st.Name, st.Duration)
	}
	m.PointsExtracted.Observe(float64(len(res.Points)))
	if res.OutOfRange > 0 {
		m.OutOfRangeTotal.Add(float64(res.OutOfRange))
		log.Warn("points outside calibrated height",
			"out_of_range", res.OutOfRange, "chart_height", up.cal.ChartHeight)
	}

	latest := res.Latest()
	a := &model.Analysis{
		ID:          uuid.NewString(),
		CreatedAt:   s.now().UTC(),
		FileName:    up.fileName,
		PriceMin:    up.cal.PriceMin,
		PriceMax:    up.cal.PriceMax,
		ChartHeight: up.cal.ChartHeight,
		Period:      up.pipe.Period(),
		Method:      string(up.pipe.Method()),
		PointCount:  len(res.Points),
		RSI:         res.RSI,
		Latest:      latest,
		Zone:        s.deps.Zones.Classify(latest),
	}
	m.LatestRSI.Set(latest)
	s.deps.Health.SetLastAnalysis(a.CreatedAt)

	start := time.Now()
	if err := s.deps.Journal.Save(ctx, a); err != nil {
		log.Error("journal save failed", "id", a.ID, "error", err)
	}
	m.JournalWriteDur.Observe(time.Since(start).Seconds())

	s.fanOut(ctx, a)

	if alert, ok := notification.ForAnalysis(a); ok {
		if err := s.deps.Notifier.Send(ctx, alert); err != nil {
			log.Warn("alert delivery failed", "id", a.ID, "error", err)
		}
		m.AlertsTotal.WithLabelValues(string(a.Zone)).Inc()
	}

	log.Info("analysis complete",
		"id", a.ID, "points", a.PointCount, "samples", len(a.RSI), "latest", a.Latest, "zone", string(a.Zone))
	return a, nil
}

// fanOut publishes through Redis, whose subscription feeds the hub. Without a
// publisher, or when publishing fails, the hub is fed directly.
func (s *Server) fanOut(ctx context.Context, a *model.Analysis) {
	if s.deps.Publisher != nil {
		err := s.deps.Publisher.Publish(ctx, a)
		if err == nil {
			return
		}
		s.deps.Metrics.PublishFailures.Inc()
		s.deps.Log.Warn("publish failed, broadcasting locally",
			append(logger.LogWithTrace(ctx), "id", a.ID, "error", err)...)
	}
	s.deps.Hub.Broadcast(a.JSON())
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be an integer in [1, 500]")
			return
		}
		limit = n
	}
	list, err := s.deps.Journal.List(r.Context(), limit)
	if err != nil {
		s.deps.Log.Error("journal list failed", append(logger.LogWithTrace(r.Context()), "error", err)...)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// lookup loads the analysis named by the {id} route variable, writing the
// error response itself when it fails.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*model.Analysis, bool) {
	id := mux.Vars(r)["id"]
	a, err := s.deps.Journal.Get(r.Context(), id)
	if errors.Is(err, model.ErrNotFound) {
		writeError(w, http.StatusNotFound, "analysis not found")
		return nil, false
	}
	if err != nil {
		s.deps.Log.Error("journal get failed", append(logger.LogWithTrace(r.Context()), "id", id, "error", err)...)
		writeError(w, http.StatusInternalServerError, "internal error")
		return nil, false
	}
	return a, true
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	if a, ok := s.lookup(w, r); ok {
		writeJSON(w, http.StatusOK, a)
	}
}

// handleLatest prefers the Redis latest key, which reflects every instance,
// and falls back to the local journal.
func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.deps.Publisher != nil {
		raw, err := s.deps.Publisher.Latest(ctx)
		if err != nil {
			s.deps.Log.Warn("redis latest failed", append(logger.LogWithTrace(ctx), "error", err)...)
		} else if raw != nil {
			w.Header().Set("Content-Type", "application/json")
			w.Write(raw)
			return
		}
	}

	list, err := s.deps.Journal.List(ctx, 1)
	if err != nil {
		s.deps.Log.Error("journal list failed", append(logger.LogWithTrace(ctx), "error", err)...)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if len(list) == 0 {
		writeError(w, http.StatusNotFound, "no analyses yet")
		return
	}
	a, err := s.deps.Journal.Get(ctx, list[0].ID)
	if err != nil {
		writeError(w, http.StatusNotFound, "analysis not found")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handlePlot(w http.ResponseWriter, r *http.Request) {
	a, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := render.NewPlot(s.deps.Zones).Encode(&buf, a.RSI); err != nil {
		s.deps.Log.Error("render plot failed", append(logger.LogWithTrace(r.Context()), "id", a.ID, "error", err)...)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Write(buf.Bytes())
}
