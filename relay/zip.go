package relay

import (
	"archive/zip"
	"bytes"
	"io"
	"log/slog"
)

// unwrapArchive interprets an octet-stream body as a single-file zip
// archive and returns the first entry's decompressed bytes. Bodies that
// are not valid archives are returned verbatim; this fallback is logged,
// never fatal.
func (r *Relay) unwrapArchive(body []byte) []byte {
	archive, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		r.log.Error("octet-stream response is not a zip archive", "err", err)
		return body
	}
	if len(archive.File) == 0 {
		r.log.Error("octet-stream response is an empty zip archive")
		return body
	}

	names := make([]string, len(archive.File))
	for i, f := range archive.File {
		names[i] = f.Name
	}
	r.log.Debug("archive contains following files", slog.Any("names", names))

	// Assume the first entry is the meaningful one.
	entry, err := archive.File[0].Open()
	if err != nil {
		r.log.Error("failed to open archive entry", "name", archive.File[0].Name, "err", err)
		return body
	}
	defer entry.Close()

	content, err := io.ReadAll(entry)
	if err != nil {
		r.log.Error("failed to read archive entry", "name", archive.File[0].Name, "err", err)
		return body
	}
	return content
}
