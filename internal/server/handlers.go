package server

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/mux"
)

// handleRoot reports the build version. Unauthenticated by design — it
// leaks nothing beyond liveness.
func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	body := fmt.Sprintf(`{"version":%q,"status":200}`, s.version)
	if _, err := w.Write([]byte(body)); err != nil {
		s.logger.Warn("unable to write root response", "error", err)
	}
}

// handleQuery looks up the caller's allowed prefixes as the query batch
// and waits on the daemon's oneshot reply with a bounded deadline.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	paths := allowedPrefixes(r)

	reply := s.bus.SendQuery(paths)

	select {
	case results := <-reply:
		writeResult(w, s.logger, http.StatusOK, results)

	case <-time.After(s.waitTime):
		// The daemon will eventually answer into the abandoned oneshot;
		// nobody reads it and it is collected.
		s.logger.Warn("query timed out", "paths", len(paths), "wait", s.waitTime)
		writeError(w, s.logger, http.StatusGatewayTimeout, "query timed out")

	case <-r.Context().Done():
		writeError(w, s.logger, http.StatusGatewayTimeout, "client gave up")
	}
}

// handleFile streams a single file from within the caller's permitted
// subtree. Both the penetration check and the prefix check must pass.
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	rawPath := mux.Vars(r)["path"]

	if !checkPenetration(s.workDir, rawPath) {
		writeError(w, s.logger, http.StatusForbidden, "path escapes served tree")
		return
	}

	if !hasAllowedPrefix(rawPath, allowedPrefixes(r)) {
		writeError(w, s.logger, http.StatusForbidden, "path not in allowed prefixes")
		return
	}

	fullPath := filepath.Join(s.workDir, normalizeRequestPath(rawPath))

	info, err := os.Stat(fullPath)
	if errors.Is(err, fs.ErrNotExist) {
		writeError(w, s.logger, http.StatusNotFound, "no such file")
		return
	}

	if err != nil {
		s.logger.Warn("unable to stat requested file", "path", rawPath, "error", err)
		writeError(w, s.logger, http.StatusInternalServerError, "unable to read file")

		return
	}

	if info.IsDir() {
		writeError(w, s.logger, http.StatusBadRequest, "path is a directory")
		return
	}

	f, err := os.Open(fullPath)
	if err != nil {
		s.logger.Warn("unable to open requested file", "path", rawPath, "error", err)
		writeError(w, s.logger, http.StatusInternalServerError, "unable to read file")

		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", filepath.Base(fullPath)))

	if _, err := io.Copy(w, f); err != nil {
		// Headers are gone; all we can do is note the broken transfer.
		s.logger.Warn("file transfer interrupted", "path", rawPath, "error", err)
	}
}

// handleFallback rejects everything outside the declared surface.
func (s *Server) handleFallback(w http.ResponseWriter, _ *http.Request) {
	writeError(w, s.logger, http.StatusForbidden, "forbidden")
}
