package handlers

import (
	"io"
	"net/http"
	"strconv"

	"github.com/rukunkita/ipl-recon/internal/api/dto"
	"github.com/rukunkita/ipl-recon/internal/application/recon"
)

// Statement exports run a few hundred KB; anything near this limit is not a
// statement.
const maxUploadBytes = 10 << 20

// Upload ingests a statement file posted as multipart form data with
// year, month and an optional replace flag.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		dto.WriteBadRequest(w, "expected multipart form data")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		dto.WriteBadRequest(w, "missing file field")
		return
	}
	defer file.Close()

	year, err := strconv.Atoi(r.FormValue("year"))
	if err != nil || year < 2000 || year > 2100 {
		dto.WriteBadRequest(w, "year is required")
		return
	}
	month, _ := strconv.Atoi(r.FormValue("month"))
	if month < 0 || month > 12 {
		dto.WriteBadRequest(w, "month must be 1-12")
		return
	}
	replace, _ := strconv.ParseBool(r.FormValue("replace"))
	if replace && month == 0 {
		dto.WriteBadRequest(w, "replace requires a month")
		return
	}

	raw, err := io.ReadAll(file)
	if err != nil {
		dto.WriteBadRequest(w, "reading upload: "+err.Error())
		return
	}

	summary, err := h.service.ProcessUpload(r.Context(), string(raw), recon.UploadOptions{
		FileName: header.Filename,
		Year:     year,
		Month:    month,
		Replace:  replace,
	})
	if err != nil {
		dto.WriteError(w, h.logger, err)
		return
	}
	dto.WriteJSON(w, http.StatusOK, summary)
}
