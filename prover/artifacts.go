package prover

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"go.vocdoni.io/dvote/log"
)

// CheckHashes is a flag that determines if the hashes of the artifacts should
// be checked when they are loaded or downloaded. It can be set to false by
// setting the VEILPAY_CHECK_HASHES environment variable to false or 0.
var CheckHashes = true

// BaseDir is the path where the artifact cache is expected to be found. If
// the artifacts are not found there, they will be downloaded and stored. It
// defaults to the VEILPAY_ARTIFACTS_DIR env var or the user cache directory.
var BaseDir string

func init() {
	if checkHashes := os.Getenv("VEILPAY_CHECK_HASHES"); checkHashes != "" {
		if strings.ToLower(checkHashes) == "false" || checkHashes == "0" {
			CheckHashes = false
		}
	}
	if dir := os.Getenv("VEILPAY_ARTIFACTS_DIR"); dir != "" {
		BaseDir = dir
	} else {
		home, err := os.UserHomeDir()
		if err != nil || home == "" {
			log.Warnf("unable to access user home directory, using temporary directory: %v", err)
			BaseDir = filepath.Join(os.TempDir(), "veilpay-artifacts")
		} else {
			BaseDir = filepath.Join(home, ".cache", "veilpay-artifacts")
		}
	}
	if err := os.MkdirAll(BaseDir, 0o755); err != nil {
		log.Errorf("failed to create BaseDir %s: %v", BaseDir, err)
	}
}

// Artifact holds a remote URL, the expected sha256 of the content and the
// content itself once loaded. Artifacts are cached on disk keyed by hash.
type Artifact struct {
	RemoteURL string
	Hash      []byte
	Content   []byte
}

// Load fills Content from the local cache. It returns an error when the
// artifact is not cached or its hash does not match.
func (k *Artifact) Load() error {
	if len(k.Content) != 0 {
		return nil
	}
	if len(k.Hash) == 0 {
		return fmt.Errorf("artifact hash not provided")
	}
	content, err := load(k.Hash)
	if err != nil {
		return err
	}
	if content == nil {
		return fmt.Errorf("no content found")
	}
	k.Content = content
	return nil
}

// Download fetches the artifact from its remote URL, verifies the hash and
// stores it in the local cache. Interrupted downloads resume.
func (k *Artifact) Download(ctx context.Context) error {
	if k.RemoteURL == "" {
		return fmt.Errorf("artifact not cached and remote url not provided")
	}
	return downloadAndStore(ctx, k.Hash, k.RemoteURL)
}

// CircuitArtifacts bundles the withdrawal circuit's wasm, proving key and
// verification key.
type CircuitArtifacts struct {
	circuitWasm  *Artifact
	provingKey   *Artifact
	verifyingKey *Artifact
}

// NewCircuitArtifacts creates a CircuitArtifacts bundle. verifyingKey may be
// nil when local verification is not wanted.
func NewCircuitArtifacts(wasm, provingKey, verifyingKey *Artifact) *CircuitArtifacts {
	return &CircuitArtifacts{
		circuitWasm:  wasm,
		provingKey:   provingKey,
		verifyingKey: verifyingKey,
	}
}

// LoadAll loads the circuit artifacts from the local cache into memory.
func (ca *CircuitArtifacts) LoadAll() error {
	if ca.circuitWasm != nil {
		if err := ca.circuitWasm.Load(); err != nil {
			return fmt.Errorf("error loading circuit wasm: %w", err)
		}
	}
	if ca.provingKey != nil {
		if err := ca.provingKey.Load(); err != nil {
			return fmt.Errorf("error loading proving key: %w", err)
		}
	}
	if ca.verifyingKey != nil {
		if err := ca.verifyingKey.Load(); err != nil {
			return fmt.Errorf("error loading verifying key: %w", err)
		}
	}
	return nil
}

// DownloadAll downloads every artifact of the bundle, resuming partial
// downloads and verifying hashes.
func (ca *CircuitArtifacts) DownloadAll(ctx context.Context) error {
	if err := ca.circuitWasm.Download(ctx); err != nil {
		return fmt.Errorf("error downloading circuit wasm: %w", err)
	}
	if err := ca.provingKey.Download(ctx); err != nil {
		return fmt.Errorf("error downloading proving key: %w", err)
	}
	if ca.verifyingKey != nil {
		if err := ca.verifyingKey.Download(ctx); err != nil {
			return fmt.Errorf("error downloading verifying key: %w", err)
		}
	}
	return nil
}

// CircuitWasm returns the loaded circuit wasm, or nil.
func (ca *CircuitArtifacts) CircuitWasm() []byte {
	if ca.circuitWasm == nil {
		return nil
	}
	return ca.circuitWasm.Content
}

// ProvingKey returns the loaded proving key, or nil.
func (ca *CircuitArtifacts) ProvingKey() []byte {
	if ca.provingKey == nil {
		return nil
	}
	return ca.provingKey.Content
}

// VerifyingKey returns the loaded verification key, or nil.
func (ca *CircuitArtifacts) VerifyingKey() []byte {
	if ca.verifyingKey == nil {
		return nil
	}
	return ca.verifyingKey.Content
}

func load(hash []byte) ([]byte, error) {
	if _, err := os.Stat(BaseDir); err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(BaseDir, os.ModePerm); err != nil {
				return nil, fmt.Errorf("error creating the base directory: %w", err)
			}
		} else {
			return nil, fmt.Errorf("error checking the base directory: %w", err)
		}
	}
	path := filepath.Join(BaseDir, hex.EncodeToString(hash))
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("error checking file %s: %w", path, err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading file %s: %w", path, err)
	}
	if CheckHashes {
		hasher := sha256.New()
		hasher.Write(content)
		fileHash := hasher.Sum(nil)
		if !bytes.Equal(fileHash, hash) {
			return nil, fmt.Errorf("hash mismatch for file %s: expected %x, got %x", path, hash, fileHash)
		}
	}
	return content, nil
}

// progressReader wraps an io.Reader and keeps track of the total bytes read.
type progressReader struct {
	reader        io.Reader
	total         int64 // updated atomically
	contentLength int64
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	atomic.AddInt64(&pr.total, int64(n))
	return n, err
}

// downloadAndStore downloads a file from a URL and stores it in the local
// cache under its hash, resuming from a .partial file when one exists.
func downloadAndStore(ctx context.Context, expectedHash []byte, fileUrl string) error {
	if _, err := url.Parse(fileUrl); err != nil {
		return fmt.Errorf("error parsing the file URL provided: %w", err)
	}
	path := filepath.Join(BaseDir, hex.EncodeToString(expectedHash))
	partialPath := path + ".partial"
	parentDir := filepath.Dir(path)
	if _, err := os.Stat(parentDir); err != nil {
		return fmt.Errorf("destination path parent folder does not exist")
	}
	var startByte int64 = 0
	if info, err := os.Stat(partialPath); err == nil {
		startByte = info.Size()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileUrl, nil)
	if err != nil {
		return fmt.Errorf("error creating the file request: %w", err)
	}
	if startByte > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", startByte))
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("error performing the request: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusPartialContent {
		return fmt.Errorf("error downloading file %s: http status: %d", fileUrl, res.StatusCode)
	}
	var fileMode int
	if startByte > 0 && res.StatusCode == http.StatusPartialContent {
		fileMode = os.O_APPEND | os.O_WRONLY
	} else {
		fileMode = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	}
	fd, err := os.OpenFile(partialPath, fileMode, 0o644)
	if err != nil {
		return fmt.Errorf("error opening artifact file: %w", err)
	}
	defer fd.Close()
	hasher := sha256.New()
	if startByte > 0 {
		// hash existing content to continue validation
		existingFile, err := os.Open(partialPath)
		if err == nil {
			io.Copy(hasher, existingFile) //nolint:errcheck
			existingFile.Close()
		}
	}
	pr := &progressReader{
		reader:        res.Body,
		contentLength: res.ContentLength + startByte,
	}
	mw := io.MultiWriter(fd, hasher)
	done := make(chan error, 1)
	go func() {
		_, err := io.Copy(mw, pr)
		done <- err
	}()
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("error copying data to file: %w", err)
			}
			goto finished
		case <-ticker.C:
			total := atomic.LoadInt64(&pr.total)
			downloadedMiB := float64(total) / (1024 * 1024)
			var percentage float64
			if pr.contentLength > 0 {
				percentage = (float64(total) / float64(pr.contentLength)) * 100
			}
			log.Debugw("download artifacts", "url", fileUrl,
				"downloaded", fmt.Sprintf("%.2fMiB", downloadedMiB),
				"progress", fmt.Sprintf("%.2f%%", percentage))
		}
	}
finished:
	if CheckHashes {
		computedHash := hasher.Sum(nil)
		if !bytes.Equal(computedHash, expectedHash) {
			os.Remove(partialPath) // delete invalid file
			return fmt.Errorf("hash mismatch: expected %x, got %x", expectedHash, computedHash)
		}
	}
	if err := os.Rename(partialPath, path); err != nil {
		return fmt.Errorf("error renaming file: %w", err)
	}
	return nil
}
