package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"nexstream/internal/core"
)

const (
	streamChunkSize = 32 * 1024
	maxBodyBytes    = 1 << 20
	defaultSeedID   = "admin-seeder"
)

type errorBody struct {
	Error string `json:"error"`
}

type seedAccepted struct {
	Message    string `json:"message"`
	JobID      string `json:"jobId"`
	Target     string `json:"target"`
	TrackCount int    `json:"trackCount"`
}

// statusRecorder remembers the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.code == 0 {
		r.code = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	if r.code == 0 {
		r.code = http.StatusOK
	}
	return r.ResponseWriter.Write(p)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		if rec.code == 0 {
			rec.code = http.StatusOK
		}
		s.recordRequest(route, rec.code, time.Since(start))
	})
}

// throttle rejects clients that exceed the flood limit on route.
func (s *Server) throttle(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := s.clientIP(r)
		if !s.floodgate.Allow(route, client) {
			s.metrics.Throttled.WithLabelValues(route).Inc()
			wait := s.floodgate.RetryAfter(route, client)
			secs := int(wait.Round(time.Second).Seconds())
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			writeJSON(s.logger, w, http.StatusTooManyRequests, errorBody{Error: "Too many requests, slow down"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) clientIP(r *http.Request) string {
	if s.config.TrustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSON(s.logger, w, http.StatusMethodNotAllowed, errorBody{Error: "Method not allowed"})
		return
	}

	query := r.URL.Query()
	rawURL := strings.TrimSpace(query.Get("url"))
	if rawURL == "" {
		writeJSON(s.logger, w, http.StatusBadRequest, errorBody{Error: core.UserMessage(core.ErrUnsupportedSource)})
		return
	}

	res, err := s.deps.Service.Resolve(r.Context(), rawURL, s.sink(query.Get("id")))
	if err != nil {
		s.writeError(w, r, "info", err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(s.logger, w, http.StatusOK, res)
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.Header().Set("Allow", "GET, POST")
		writeJSON(s.logger, w, http.StatusMethodNotAllowed, errorBody{Error: "Method not allowed"})
		return
	}

	params, err := requestParams(r)
	if err != nil {
		writeJSON(s.logger, w, http.StatusBadRequest, errorBody{Error: "Malformed request body"})
		return
	}

	req := core.DeliveryRequest{
		SourceURL: strings.TrimSpace(params["url"]),
		TargetURL: strings.TrimSpace(params["targetUrl"]),
		Format:    params["format"],
		FormatID:  params["formatId"],
		Title:     params["title"],
		Artist:    params["artist"],
	}
	sink := s.sink(params["id"])

	delivery, err := s.deps.Service.Deliver(r.Context(), req, sink)
	if err != nil {
		s.writeError(w, r, "convert", err)
		return
	}
	stream := delivery.Stream
	defer stream.Close()

	// Hold the headers until the first chunk so a stream that dies on startup still gets a
	// proper error status.
	buf := make([]byte, streamChunkSize)
	n, readErr := stream.Read(buf)
	if n == 0 && readErr != nil {
		if !errors.Is(readErr, io.EOF) {
			s.writeError(w, r, "convert", readErr)
			return
		}
	}

	w.Header().Set("Content-Type", delivery.MIME)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": delivery.Filename}))
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	written := int64(0)
	format := req.Format
	if format == "" {
		format = "mp4"
	}
	for {
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				s.logger.Debug("Download client went away", zap.String("url", req.SourceURL), zap.Error(werr))
				stream.Cancel()
				break
			}
			written += int64(n)
			_ = rc.Flush()
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				s.logger.Warn("Stream ended early",
					zap.String("url", req.SourceURL),
					zap.Int64("bytes", written),
					zap.Error(readErr))
			}
			break
		}
		n, readErr = stream.Read(buf)
	}
	s.metrics.BytesStreamed.WithLabelValues(format).Add(float64(written))
}

func (s *Server) handleSeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.Header().Set("Allow", "GET, POST")
		writeJSON(s.logger, w, http.StatusMethodNotAllowed, errorBody{Error: "Method not allowed"})
		return
	}

	params, err := requestParams(r)
	if err != nil {
		writeJSON(s.logger, w, http.StatusBadRequest, errorBody{Error: "Malformed request body"})
		return
	}
	target := strings.TrimSpace(params["url"])
	if target == "" {
		writeJSON(s.logger, w, http.StatusBadRequest, errorBody{Error: "Spotify URL required"})
		return
	}
	id := params["id"]
	if id == "" {
		id = defaultSeedID
	}

	urls, err := s.deps.Service.SeedTargets(r.Context(), target)
	if err != nil {
		s.writeError(w, r, "seed", err)
		return
	}

	jobID := uuid.NewString()
	sink := s.sink(id)
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		report := s.deps.Service.SeedTracks(s.baseCtx, urls, sink)
		s.logger.Info("Seeding finished",
			zap.String("job", jobID),
			zap.String("target", target),
			zap.Int("total", report.Total),
			zap.Int("added", report.Added),
			zap.Int("skipped", report.Skipped),
			zap.Int("failed", report.Failed))
	}()

	writeJSON(s.logger, w, http.StatusAccepted, seedAccepted{
		Message:    "Seeding started",
		JobID:      jobID,
		Target:     target,
		TrackCount: len(urls),
	})
}

func (s *Server) sink(id string) core.ProgressSink {
	if s.deps.Events == nil {
		return core.NopSink{}
	}
	return s.deps.Events.Sink(id)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, route string, err error) {
	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		s.logger.Debug("Client cancelled request", zap.String("route", route))
		w.WriteHeader(statusClientClosedRequest)
		return
	}

	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", zap.String("route", route), zap.Error(err))
	} else {
		s.logger.Info("Request rejected", zap.String("route", route), zap.Error(err))
	}
	writeJSON(s.logger, w, status, errorBody{Error: core.UserMessage(err)})
}

// statusClientClosedRequest is recorded for requests whose client disconnected first.
const statusClientClosedRequest = 499

func errorStatus(err error) int {
	switch {
	case errors.Is(err, core.ErrUnsupportedSource):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNoMatchFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrRaceTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, core.ErrMetadataUnavailable), errors.Is(err, core.ErrStreamInterrupted):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// requestParams merges query parameters with a form or JSON body. Body values win.
func requestParams(r *http.Request) (map[string]string, error) {
	params := make(map[string]string)
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}
	if r.Method != http.MethodPost || r.Body == nil {
		return params, nil
	}

	contentType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch contentType {
	case "application/json":
		var body map[string]any
		dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
		if err := dec.Decode(&body); err != nil {
			if errors.Is(err, io.EOF) {
				return params, nil
			}
			return nil, err
		}
		for key, value := range body {
			switch v := value.(type) {
			case string:
				params[key] = v
			case float64:
				params[key] = strconv.FormatFloat(v, 'f', -1, 64)
			case bool:
				params[key] = strconv.FormatBool(v)
			}
		}
	case "application/x-www-form-urlencoded":
		r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
		if err := r.ParseForm(); err != nil {
			return nil, err
		}
		for key, values := range r.PostForm {
			if len(values) > 0 {
				params[key] = values[0]
			}
		}
	}
	return params, nil
}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Debug("Failed to write JSON response", zap.Error(err))
	}
}
