package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"
)

// formFile is a local file attached to a multipart request under field.
type formFile struct {
	field string
	path  string
}

// uploadMultipart streams fields and files to a Bot API method. Files are
// copied through an io.Pipe so large media never sit fully in memory.
func (t *Telegram) uploadMultipart(ctx context.Context, method string, fields map[string]string, files []formFile) (json.RawMessage, error) {
	// Open everything up front so a missing file fails before the request.
	opened := make([]*os.File, 0, len(files))
	defer func() {
		for _, f := range opened {
			f.Close()
		}
	}()
	for _, ff := range files {
		f, err := os.Open(ff.path)
		if err != nil {
			return nil, fmt.Errorf("telegram: opening %s: %w", ff.path, err)
		}
		opened = append(opened, f)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := mw.WriteField(k, fields[k]); err != nil {
				_ = pw.CloseWithError(err)
				return
			}
		}
		for i, ff := range files {
			part, err := mw.CreateFormFile(ff.field, filepath.Base(ff.path))
			if err != nil {
				_ = pw.CloseWithError(err)
				return
			}
			if _, err := io.Copy(part, opened[i]); err != nil {
				_ = pw.CloseWithError(err)
				return
			}
		}
		_ = pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/"+method, pr)
	if err != nil {
		_ = pr.Close()
		return nil, fmt.Errorf("telegram: creating upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: %s upload failed: %w", method, err)
	}
	defer resp.Body.Close()
	return decodeResult(method, resp.Body)
}
