package documents

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// FormField is the multipart field browsers post files under.
const FormField = "file"

const multipartMemory = 32 << 20

var ErrMalformedUpload = errors.New("request must be multipart/form-data with a file field")

// ReadMultipart pulls the file out of r, validates it and buffers its body.
// The request body is capped slightly above the manager limit so oversized
// uploads fail without being read in full.
func (m *Manager) ReadMultipart(w http.ResponseWriter, r *http.Request) (File, error) {
	r.Body = http.MaxBytesReader(w, r.Body, m.maxBytes+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return File{}, ErrFileTooLarge
		}
		return File{}, ErrMalformedUpload
	}

	part, header, err := r.FormFile(FormField)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return File{}, ErrFileRequired
		}
		return File{}, ErrMalformedUpload
	}
	defer part.Close()

	f := File{
		Name:        header.Filename,
		Size:        header.Size,
		ContentType: header.Header.Get("Content-Type"),
	}
	if err := m.Validate(f); err != nil {
		return File{}, err
	}

	data, err := io.ReadAll(io.LimitReader(part, m.maxBytes+1))
	if err != nil {
		return File{}, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > m.maxBytes {
		return File{}, ErrFileTooLarge
	}
	f.Size = int64(len(data))
	f.Body = bytes.NewReader(data)
	return f, nil
}
