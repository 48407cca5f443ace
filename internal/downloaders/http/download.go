package velohttp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tanq16/velodown/internal/utils"
)

// Attempt describes one transfer of a task's resource.
type Attempt struct {
	URL        string
	FilePath   string
	ResumeFrom int64
}

// Sample is one progress measurement taken while streaming.
type Sample struct {
	Downloaded    int64
	Total         int64
	Speed         int64
	TimeRemaining *int64
	Progress      float64
}

// Sink receives the task updates produced by an attempt. Implementations must
// not block for long: they run on the streaming goroutine.
type Sink interface {
	Started(offset, total int64, resumable bool)
	Progress(s Sample)
	Verifying()
	Completed(total int64)
}

// Transfer performs a single attempt. The partial file is left on disk on any
// failure so the next attempt can resume from its length.
func Transfer(ctx context.Context, client *utils.VeloHTTPClient, a Attempt, sink Sink) error {
	log := utils.GetLogger("transfer").With().Str("file", filepath.Base(a.FilePath)).Logger()
	resumeFrom := max(a.ResumeFrom, 0)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.URL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", utils.ErrInvalidURL, err)
	}
	if resumeFrom > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", resumeFrom))
		log.Debug().Int64("resumeOffset", resumeFrom).Msg("Setting Range header for resume")
	}
	req.Header.Set("Connection", "keep-alive")
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &utils.ConnectionError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &utils.AuthorizationError{Status: resp.StatusCode}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return &utils.ServerError{Status: resp.StatusCode}
	}

	partial := resp.StatusCode == http.StatusPartialContent
	if resumeFrom > 0 && !partial {
		log.Warn().Int("statusCode", resp.StatusCode).Msg("Server doesn't support resume, starting from beginning")
		resumeFrom = 0
	}
	resumable := strings.EqualFold(resp.Header.Get("Accept-Ranges"), "bytes") || partial
	total := responseTotal(resp, resumeFrom, partial)
	sink.Started(resumeFrom, total, resumable)

	file, err := openDestination(a.FilePath, resumeFrom)
	if err != nil {
		return err
	}
	defer file.Close()

	downloaded := resumeFrom
	lastSample := time.Now()
	lastBytes := downloaded
	buffer := make([]byte, utils.DefaultBufferSize)
	for {
		bytesRead, readErr := resp.Body.Read(buffer)
		if bytesRead > 0 {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if _, writeErr := file.Write(buffer[:bytesRead]); writeErr != nil {
				return &utils.IOError{Op: "error writing to output file", Err: writeErr}
			}
			downloaded += int64(bytesRead)
			if elapsed := time.Since(lastSample); elapsed >= utils.SampleInterval {
				speed := int64(float64(downloaded-lastBytes) / elapsed.Seconds())
				sink.Progress(newSample(downloaded, total, speed))
				lastSample = time.Now()
				lastBytes = downloaded
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &utils.ConnectionError{Err: readErr}
		}
	}
	if err := file.Sync(); err != nil {
		return &utils.IOError{Op: "error syncing output file", Err: err}
	}
	if err := file.Close(); err != nil {
		return &utils.IOError{Op: "error closing output file", Err: err}
	}

	sink.Verifying()
	info, err := os.Stat(a.FilePath)
	if err != nil {
		return &utils.IOError{Op: "error reading output file size", Err: err}
	}
	if total > 0 && info.Size() != total {
		return &utils.SizeMismatchError{Expected: total, Actual: info.Size()}
	}
	log.Debug().Int64("resumeOffset", resumeFrom).Int64("size", info.Size()).Msg("Transfer verified")
	sink.Completed(info.Size())
	return nil
}

func newSample(downloaded, total, speed int64) Sample {
	return Sample{
		Downloaded:    downloaded,
		Total:         total,
		Speed:         speed,
		TimeRemaining: utils.ComputeRemaining(downloaded, total, speed),
		Progress:      utils.ComputeProgress(downloaded, total),
	}
}

// responseTotal is the full resource size, or 0 when the server does not say.
func responseTotal(resp *http.Response, resumeFrom int64, partial bool) int64 {
	if !partial || resumeFrom == 0 {
		return max(resp.ContentLength, 0)
	}
	if resp.ContentLength >= 0 {
		return resp.ContentLength + resumeFrom
	}
	if total, ok := contentRangeTotal(resp.Header.Get("Content-Range")); ok {
		return total
	}
	return 0
}

func openDestination(filePath string, resumeFrom int64) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return nil, &utils.IOError{Op: "error creating output directory", Err: err}
	}
	flag := os.O_CREATE | os.O_WRONLY
	if resumeFrom > 0 {
		flag |= os.O_APPEND
	} else {
		flag |= os.O_TRUNC
	}
	file, err := os.OpenFile(filePath, flag, 0644)
	if err != nil {
		return nil, &utils.IOError{Op: "error opening output file", Err: err}
	}
	return file, nil
}
