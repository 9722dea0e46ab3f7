package media

import "bytes"

// DetectMIME identifies a media file by magic bytes. Returns "" for
// anything unrecognized; the importer uses that to drop junk files that
// Anki packages sometimes carry.
func DetectMIME(data []byte) string {
	if len(data) < 4 {
		return ""
	}

	switch {
	// Images
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8}):
		return "image/jpeg"
	case bytes.HasPrefix(data, []byte{0x89, 0x50, 0x4E, 0x47}):
		return "image/png"
	case bytes.HasPrefix(data, []byte("GIF87a")) || bytes.HasPrefix(data, []byte("GIF89a")):
		return "image/gif"
	case len(data) >= 12 && bytes.HasPrefix(data, []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return "image/webp"
	case bytes.HasPrefix(data, []byte("BM")):
		return "image/bmp"
	case looksLikeSVG(data):
		return "image/svg+xml"

	// Audio
	case bytes.HasPrefix(data, []byte("ID3")):
		return "audio/mpeg"
	case data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		// MP3 frame sync word without an ID3 tag
		return "audio/mpeg"
	case bytes.HasPrefix(data, []byte("OggS")):
		return "audio/ogg"
	case bytes.HasPrefix(data, []byte("fLaC")):
		return "audio/flac"
	case len(data) >= 12 && bytes.HasPrefix(data, []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")):
		return "audio/wav"
	case len(data) >= 12 && bytes.Equal(data[4:8], []byte("ftyp")):
		return "audio/mp4"
	}

	return ""
}

// looksLikeSVG checks for an XML or <svg prefix, tolerating leading
// whitespace and a UTF-8 BOM.
func looksLikeSVG(data []byte) bool {
	trimmed := bytes.TrimLeft(bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF}), " \t\r\n")
	return bytes.HasPrefix(trimmed, []byte("<svg")) || bytes.HasPrefix(trimmed, []byte("<?xml"))
}
