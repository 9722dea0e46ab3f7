package apkg

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// zstdMagic is the zstandard frame header. Current Anki compresses both the
// collection database and individual media files, while older exporters
// compress neither, so every payload is sniffed rather than trusting the
// format label.
var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// archive wraps the .apkg zip and remembers which collection variant it
// holds.
type archive struct {
	zr     *zip.ReadCloser
	format Format
	byName map[string]*zip.File
}

func openArchive(path string) (*archive, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open package: %w", err)
	}

	a := &archive{zr: zr, byName: make(map[string]*zip.File, len(zr.File))}
	for _, f := range zr.File {
		a.byName[f.Name] = f
	}

	// Newest variant wins when an exporter ships more than one.
	for _, f := range []Format{FormatCompressed, FormatModern, FormatLegacy} {
		if _, ok := a.byName[string(f)]; ok {
			a.format = f
			return a, nil
		}
	}
	_ = zr.Close()
	return nil, fmt.Errorf("not an Anki package: no collection database in %s", path)
}

func (a *archive) Close() error {
	return a.zr.Close()
}

// readEntry returns the raw bytes of one zip entry.
func (a *archive) readEntry(name string) ([]byte, error) {
	f, ok := a.byName[name]
	if !ok {
		return nil, fmt.Errorf("no %q entry in package", name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %q: %w", name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", name, err)
	}
	return data, nil
}

// extractDatabase returns the decompressed SQLite collection bytes.
func (a *archive) extractDatabase() ([]byte, error) {
	data, err := a.readEntry(string(a.format))
	if err != nil {
		return nil, err
	}
	return maybeDecompress(data)
}

// manifest parses the media index: a JSON object mapping zip entry names to
// original filenames. Packages without media ship an empty or absent
// manifest, and a corrupt one is treated the same way since losing media
// should not sink the whole import.
func (a *archive) manifest() map[string]string {
	data, err := a.readEntry("media")
	if err != nil || len(bytes.TrimSpace(data)) == 0 {
		return map[string]string{}
	}
	if decoded, err := maybeDecompress(data); err == nil {
		data = decoded
	}

	m := make(map[string]string)
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]string{}
	}
	return m
}

// mediaFile returns the decompressed bytes of one media entry, or nil when
// the manifest names an entry the zip does not carry.
func (a *archive) mediaFile(index string) ([]byte, error) {
	if _, ok := a.byName[index]; !ok {
		return nil, nil
	}
	data, err := a.readEntry(index)
	if err != nil {
		return nil, err
	}
	return maybeDecompress(data)
}

// maybeDecompress passes non-zstd data through untouched.
func maybeDecompress(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, zstdMagic) {
		return data, nil
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize zstd: %w", err)
	}
	defer dec.Close()

	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress: %w", err)
	}
	return out, nil
}
