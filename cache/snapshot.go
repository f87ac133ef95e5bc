package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/alwitt/notesync/models"
	"gorm.io/datatypes"
)

// HeaderCacheSource response header naming the generation a cached response came from
const HeaderCacheSource = "X-Notesync-Cache"

// snapshot a buffered response
type snapshot struct {
	statusCode int
	header     http.Header
	body       []byte
}

// isCacheable only successful responses are written to a generation
func (s snapshot) isCacheable() bool {
	return s.statusCode >= 200 && s.statusCode < 300
}

// encodedHeader serialize the headers for storage
func (s snapshot) encodedHeader() (datatypes.JSON, error) {
	raw, err := json.Marshal(s.header)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize response headers [%w]", err)
	}
	return datatypes.JSON(raw), nil
}

// bufferResponse read the full body of a response, leaving the response readable again
func bufferResponse(resp *http.Response) (snapshot, error) {
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return snapshot{}, fmt.Errorf("failed to read response body [%w]", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	return snapshot{statusCode: resp.StatusCode, header: resp.Header.Clone(), body: body}, nil
}

// responseFromEntry rebuild a response from a stored entry
func responseFromEntry(entry models.CacheEntry, req *http.Request) (*http.Response, error) {
	header := http.Header{}
	if len(entry.Header) > 0 {
		if err := json.Unmarshal(entry.Header, &header); err != nil {
			return nil, fmt.Errorf(
				"failed to parse stored headers of '%s' [%w]", entry.RequestKey, err,
			)
		}
	}
	header.Set(HeaderCacheSource, entry.GenerationName)

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", entry.StatusCode, http.StatusText(entry.StatusCode)),
		StatusCode:    entry.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(entry.Body)),
		ContentLength: int64(len(entry.Body)),
		Request:       req,
	}, nil
}
