package httpapi

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"askuni/internal/domain"
)

const maxAudioBytes = 25 << 20

type uploadResponse struct {
	OK            bool              `json:"ok"`
	Filename      string            `json:"filename"`
	FileType      string            `json:"fileType"`
	Size          int64             `json:"size"`
	ExtractedText string            `json:"extractedText"`
	Attachment    domain.Attachment `json:"attachment"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.deps.Uploads == nil {
		writeError(w, r, s.logger, domain.NewDomainError("Upload", domain.ErrUnavailable, "Uploads are disabled"))
		return
	}
	data, header, err := readFormFile(w, r, "file", s.opts.MaxUpload)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	res, err := s.deps.Uploads.Save(r.Context(), header.Filename, header.Header.Get("Content-Type"), data)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{
		OK:            true,
		Filename:      res.Filename,
		FileType:      res.FileType,
		Size:          res.Size,
		ExtractedText: res.Text,
		Attachment:    res.Attachment(),
	})
}

func (s *Server) handleSTT(w http.ResponseWriter, r *http.Request) {
	if s.deps.Transcriber == nil {
		writeError(w, r, s.logger, domain.NewDomainError("STT", domain.ErrUnavailable, "Speech to text is not configured"))
		return
	}
	data, header, err := readFormFile(w, r, "audio", maxAudioBytes)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	text, err := s.deps.Transcriber.Transcribe(r.Context(), header.Filename, data)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "text": text})
}

// readFormFile reads one multipart file field of at most limit bytes.
func readFormFile(w http.ResponseWriter, r *http.Request, field string, limit int64) ([]byte, *multipart.FileHeader, error) {
	const op = "readFormFile"
	// Room for the multipart envelope around the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, limit+64<<10)
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, nil, domain.NewDomainError(op, domain.ErrInvalidInput,
				fmt.Sprintf("File too large (max %d MB)", limit>>20))
		}
		return nil, nil, domain.NewDomainError(op, domain.ErrInvalidInput, "Expected a multipart form")
	}
	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, nil, domain.NewDomainError(op, domain.ErrInvalidInput, fmt.Sprintf("No %s", field))
	}
	defer file.Close()

	if header.Size > limit {
		return nil, nil, domain.NewDomainError(op, domain.ErrInvalidInput,
			fmt.Sprintf("File too large (max %d MB)", limit>>20))
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, nil, domain.WrapOp(op, err)
	}
	return data, header, nil
}
