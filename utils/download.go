package utils

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

const maxMindDownloadURL = "https://download.maxmind.com/geoip/databases/%s/download?suffix=tar.gz"

// DatabaseSource describes where a local database comes from. Either the
// MaxMind credentials or a plain URL must be set; a URL ending in .tar.gz or
// .tgz is unpacked, anything else is stored as is.
type DatabaseSource struct {
	AccountID  string
	LicenseKey string
	EditionID  string
	URL        string
}

func (s DatabaseSource) url() (string, error) {
	if s.LicenseKey != "" {
		if s.AccountID == "" {
			return "", errors.New("MaxMind account_id is required when license_key is set")
		}
		if s.EditionID == "" {
			return "", errors.New("MaxMind edition ID is required for direct download")
		}
		return fmt.Sprintf(maxMindDownloadURL, s.EditionID), nil
	}

	if s.URL == "" {
		return "", errors.New("no license key or download URL configured")
	}

	return s.URL, nil
}

func (s DatabaseSource) authorize(req *http.Request) {
	if s.LicenseKey != "" {
		req.SetBasicAuth(s.AccountID, s.LicenseKey)
	}
}

func (s DatabaseSource) archived(url string) bool {
	if s.LicenseKey != "" {
		return true
	}
	base := strings.ToLower(strings.SplitN(url, "?", 2)[0])
	return strings.HasSuffix(base, ".tar.gz") || strings.HasSuffix(base, ".tgz")
}

// DownloadDatabase fetches a geo database into dest. The ETag of the last
// download is kept next to dest and an unchanged ETag skips the transfer.
// It reports whether a new file was written.
func DownloadDatabase(ctx context.Context, client *http.Client, source DatabaseSource, dest string) (bool, error) {
	url, err := source.url()
	if err != nil {
		return false, err
	}

	return downloadDatabaseFromURL(ctx, client, source, url, dest)
}

func downloadDatabaseFromURL(ctx context.Context, client *http.Client, source DatabaseSource, url, dest string) (bool, error) {
	if client == nil {
		client = http.DefaultClient
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0700); err != nil {
		return false, err
	}

	// MaxMind redirects to a presigned URL which drops the auth header, so
	// the HEAD must not follow redirects to see the real ETag.
	noRedirect := *client
	noRedirect.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}

	headReq, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create HEAD request: %w", err)
	}
	source.authorize(headReq)

	headResp, err := noRedirect.Do(headReq)
	if err != nil {
		return false, fmt.Errorf("failed to HEAD %s: %w", url, err)
	}
	headResp.Body.Close()

	if headResp.StatusCode >= http.StatusBadRequest {
		return false, fmt.Errorf("HEAD request failed with status %d", headResp.StatusCode)
	}

	eTag := strings.Trim(headResp.Header.Get("ETag"), "\"")
	eTagFilename := ChangeExt(dest, "etag")

	if eTag != "" && FileExists(eTagFilename) && FileExists(dest) {
		previous, err := os.ReadFile(eTagFilename)
		if err != nil {
			log.Error().Err(err).Msg("failed to read etag file, will re-download")
		} else if string(previous) == eTag {
			log.Info().Str("dest", dest).Msg("no database change detected")
			return false, nil
		}
	}

	getReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create GET request: %w", err)
	}
	source.authorize(getReq)

	getResp, err := client.Do(getReq)
	if err != nil {
		return false, fmt.Errorf("failed to GET database: %w", err)
	}
	defer getResp.Body.Close()

	if getResp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("GET request failed with status %d", getResp.StatusCode)
	}

	tmpPath := dest + ".tmp"
	if source.archived(url) {
		err = extractMmdb(getResp.Body, tmpPath)
	} else {
		err = writeFile(getResp.Body, tmpPath)
	}
	if err != nil {
		os.Remove(tmpPath)
		return false, err
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return false, fmt.Errorf("failed to rename database to destination: %w", err)
	}

	// the etag is written only once the database is in place
	if eTag != "" {
		if err := os.WriteFile(eTagFilename, []byte(eTag), 0644); err != nil {
			log.Error().Err(err).Msg("failed to write etag file")
		}
	}

	log.Info().Str("dest", dest).Msg("database downloaded successfully")
	return true, nil
}

func writeFile(r io.Reader, dest string) error {
	out, err := os.Create(dest)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("failed to write database: %w", err)
	}

	return out.Close()
}

// extractMmdb reads a tar.gz stream and writes the first .mmdb entry to dest.
func extractMmdb(r io.Reader, dest string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read tar entry: %w", err)
		}

		if header.Typeflag != tar.TypeReg || filepath.Ext(header.Name) != ".mmdb" {
			continue
		}

		return writeFile(tr, dest)
	}

	return errors.New("no .mmdb file found in archive")
}
