package agent

import (
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/kubev2v/doctrack/internal/agent/fileio"
	"go.uber.org/zap"
)

// RegisterFileServer serves a static renderer from wwwDir. Unknown paths fall
// back to index.html so client side routes survive a reload.
func RegisterFileServer(router chi.Router, wwwDir string) {
	fs := http.FileServer(http.Dir(wwwDir))
	reader := fileio.NewReader()

	router.Get("/*", func(w http.ResponseWriter, r *http.Request) {
		if err := reader.CheckPathExists(filepath.Join(wwwDir, filepath.Clean("/"+r.URL.Path))); err == nil {
			fs.ServeHTTP(w, r)
			return
		}
		handleGetIndex(reader, wwwDir)(w, r)
	})
}

func handleGetIndex(reader *fileio.Reader, wwwDir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pathToIndexHtml := filepath.Join(wwwDir, "index.html")
		file, err := reader.ReadFile(pathToIndexHtml)
		if err != nil {
			zap.S().Named("handler_get_index").Warnf("Failed reading %s", pathToIndexHtml)
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Content-Type", "text/html")
		w.Header().Set("Content-Length", strconv.Itoa(len(file)))
		if _, err := w.Write(file); err != nil {
			zap.S().Named("handler_get_index").Warnf("Failed writing the content of %s", pathToIndexHtml)
		}
	}
}
