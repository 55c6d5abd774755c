package api

import (
	"net/http"
	"strings"

	"neonetworker/internal/csvimport"
	"neonetworker/internal/domain"
)

const maxUploadBytes = 10 << 20

// readUpload accepts a multipart "file" field or a JSON body {csv_data}.
func readUpload(w http.ResponseWriter, r *http.Request) ([][]string, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes+1<<20)
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			return nil, domain.Invalid("file", "invalid multipart upload")
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			return nil, domain.Invalid("file", "file is required")
		}
		defer file.Close()
		return csvimport.ReadRecords(header.Filename, file)
	}

	in := struct {
		CSVData string `json:"csv_data"`
	}{}
	if err := decodeJSON(r, &in); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.CSVData) == "" {
		return nil, domain.Invalid("csv_data", "file or csv_data is required")
	}
	return csvimport.ReadRecords("upload.csv", strings.NewReader(in.CSVData))
}

func (h *handler) csvPreview(w http.ResponseWriter, r *http.Request) {
	records, err := readUpload(w, r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	preview, err := h.Importer.Preview(records)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func (h *handler) csvImport(w http.ResponseWriter, r *http.Request) {
	records, err := readUpload(w, r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	res, err := h.Importer.Import(r.Context(), currentUser(r), records)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
