package velohttp

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/tanq16/velodown/internal/utils"
)

// ValidateURL accepts only absolute http and https URLs.
func ValidateURL(rawURL string) (*url.URL, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrInvalidURL, err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", utils.ErrInvalidURL, parsedURL.Scheme)
	}
	if parsedURL.Host == "" {
		return nil, fmt.Errorf("%w: missing host", utils.ErrInvalidURL)
	}
	return parsedURL, nil
}

// Resolve issues a GET, follows redirects and reads only the response headers
// to describe the target. It never touches the destination.
func Resolve(ctx context.Context, client *utils.VeloHTTPClient, rawURL string) (utils.DownloadInfo, error) {
	log := utils.GetLogger("resolver")
	if _, err := ValidateURL(rawURL); err != nil {
		return utils.DownloadInfo{}, err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return utils.DownloadInfo{}, fmt.Errorf("%w: %v", utils.ErrInvalidURL, err)
	}
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Referer", rawURL)
	resp, err := client.Do(req)
	if err != nil {
		return utils.DownloadInfo{}, &utils.ConnectionError{Err: err}
	}
	// the body is abandoned after headers; cancel tears the stream down
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return utils.DownloadInfo{}, &utils.ServerError{Status: resp.StatusCode}
	}
	finalURL := resp.Request.URL
	fileName := fileNameFromResponse(resp, finalURL)
	info := utils.DownloadInfo{
		FinalURL:  finalURL.String(),
		FileName:  fileName,
		TotalSize: max(resp.ContentLength, 0),
		FileType:  utils.GetFileType(fileName),
	}
	log.Debug().Str("url", info.FinalURL).Str("file", info.FileName).Int64("size", info.TotalSize).Msg("Resolved download info")
	return info, nil
}
