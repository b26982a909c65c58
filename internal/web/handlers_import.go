package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/JonMunkholm/crmimport/internal/importer"
	"github.com/JonMunkholm/crmimport/internal/logging"
	"github.com/JonMunkholm/crmimport/internal/source"
)

// multipartMemory is how much of a multipart body is kept in memory before
// spilling to temp files.
const multipartMemory = 32 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

var (
	errNoFile    = errors.New("no file provided")
	errNoRequest = errors.New("missing required mapping: request field is empty")
)

// handleImport runs an import of the uploaded file.
//
// The multipart form carries the file under "file" and the JSON-encoded
// importer.RequestPayload under "request". A "dryRun" form value of true
// forces a dry run.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	entity, err := importer.ParseEntity(chi.URLParam(r, "entity"))
	if err != nil {
		respondError(w, r, err, http.StatusBadRequest)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxUploadSize)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if tooLarge(err) {
			respondError(w, r, fmt.Errorf("file too large: %w", err), http.StatusRequestEntityTooLarge)
			return
		}
		respondError(w, r, fmt.Errorf("parse error: invalid multipart form: %w", err), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	payload, err := decodePayload(r.FormValue("request"))
	if err != nil {
		respondError(w, r, err, http.StatusBadRequest)
		return
	}
	if v := r.FormValue("dryRun"); v != "" {
		if dry, err := strconv.ParseBool(v); err == nil && dry {
			payload.DryRun = true
		}
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, r, errNoFile, http.StatusBadRequest)
		return
	}
	defer file.Close()

	src, err := source.Open(file, source.Options{
		Delimiter: s.cfg.Import.DelimiterRune(),
		Filename:  header.Filename,
	})
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	defer src.Close()

	logging.FromContext(r.Context()).Info("import requested",
		"entity", entity,
		"filename", header.Filename,
		"size", header.Size,
		"dry_run", payload.DryRun,
	)

	res, err := s.importer.Import(r.Context(), payload.Request(entity), src)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}

	status := http.StatusOK
	if res.Fatal() {
		status = http.StatusUnprocessableEntity
	}
	writeJSONStatus(w, status, res)
}

// tooLarge reports whether err comes from the MaxBytesReader limit. The
// multipart reader does not always keep the typed error in its chain.
func tooLarge(err error) bool {
	var maxBytes *http.MaxBytesError
	return errors.As(err, &maxBytes) || strings.Contains(err.Error(), "request body too large")
}

func decodePayload(raw string) (importer.RequestPayload, error) {
	var p importer.RequestPayload
	if raw == "" {
		return p, errNoRequest
	}
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return p, fmt.Errorf("parse error: request: %w", err)
	}
	if err := validate.Struct(p); err != nil {
		return p, fmt.Errorf("missing required mapping: %w", err)
	}
	return p, nil
}

// suggestRequest is the JSON body of the suggest endpoint.
type suggestRequest struct {
	Columns []string `json:"columns" validate:"required,min=1,dive,required"`
}

// suggestResponse lists one suggestion per column.
type suggestResponse struct {
	Entity      importer.Entity       `json:"entity"`
	Suggestions []importer.Suggestion `json:"suggestions"`
}

// handleSuggest proposes a field for each column. Columns come from a JSON
// body or from the header row of an uploaded file.
func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	entity, err := importer.ParseEntity(chi.URLParam(r, "entity"))
	if err != nil {
		respondError(w, r, err, http.StatusBadRequest)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxUploadSize)

	var columns []string
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		columns, err = s.headerColumns(r)
	} else {
		columns, err = decodeColumns(r)
	}
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			status = http.StatusBadRequest
		}
		respondError(w, r, err, status)
		return
	}

	writeJSON(w, suggestResponse{
		Entity:      entity,
		Suggestions: importer.SuggestColumns(columns, entity),
	})
}

func decodeColumns(r *http.Request) ([]string, error) {
	var req suggestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("column not found: %w", err)
	}
	return req.Columns, nil
}

func (s *Server) headerColumns(r *http.Request) ([]string, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if tooLarge(err) {
			return nil, fmt.Errorf("file too large: %w", err)
		}
		return nil, fmt.Errorf("parse error: invalid multipart form: %w", err)
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, errNoFile
	}
	defer file.Close()

	src, err := source.Open(file, source.Options{
		Delimiter: s.cfg.Import.DelimiterRune(),
		Filename:  header.Filename,
	})
	if err != nil {
		return nil, err
	}
	defer src.Close()

	return src.Header().Columns(), nil
}

// handleFields lists the canonical fields of an entity.
func (s *Server) handleFields(w http.ResponseWriter, r *http.Request) {
	entity, err := importer.ParseEntity(chi.URLParam(r, "entity"))
	if err != nil {
		respondError(w, r, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]any{
		"entity": entity,
		"fields": importer.Fields(entity),
	})
}
