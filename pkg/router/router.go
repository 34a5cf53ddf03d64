// Package router classifies uploaded files by magic bytes, probes for
// encryption, and rejects anything the pipeline cannot process before any
// expensive work starts.
package router

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf16"
)

// FileType is the detected document format.
type FileType string

// Supported formats.
const (
	TypePDF     FileType = "PDF"
	TypeDOC     FileType = "DOC"
	TypeDOCX    FileType = "DOCX"
	TypeHWP     FileType = "HWP"
	TypeHWPX    FileType = "HWPX"
	TypeUnknown FileType = "UNKNOWN"
)

// Limits enforced before parsing.
const (
	MaxFileSizeMB = 50
	MaxPageCount  = 50
)

// Result is the router's verdict on an upload.
type Result struct {
	Type         FileType `json:"file_type"`
	Rejected     bool     `json:"rejected"`
	RejectReason string   `json:"reject_reason,omitempty"`
	Encrypted    bool     `json:"is_encrypted"`
	PageCount    int      `json:"page_count"`
	SizeMB       float64  `json:"size_mb"`
	Warnings     []string `json:"warnings,omitempty"`
}

var (
	magicPDF = []byte("%PDF")
	magicZIP = []byte("PK\x03\x04")
	magicOLE = []byte{0xD0, 0xCF, 0x11, 0xE0}

	pdfPagePattern    = regexp.MustCompile(`/Type\s*/Page[^s]`)
	pdfEncryptPattern = regexp.MustCompile(`/Encrypt\b`)
)

// Classify inspects the bytes and filename and returns the routing
// verdict. Magic bytes take precedence; the extension only breaks ties.
func Classify(data []byte, filename string) Result {
	sizeMB := float64(len(data)) / (1024 * 1024)
	res := Result{SizeMB: sizeMB, Type: TypeUnknown}

	if sizeMB > MaxFileSizeMB {
		res.Rejected = true
		res.RejectReason = fmt.Sprintf("file size %.1fMB exceeds %dMB limit", sizeMB, MaxFileSizeMB)
		return res
	}

	res.Type = detectType(data, filename)
	if res.Type == TypeUnknown {
		res.Rejected = true
		res.RejectReason = "unsupported or unrecognized file type"
		return res
	}

	res.Encrypted = checkEncryption(data, res.Type)
	if res.Encrypted {
		res.Rejected = true
		res.RejectReason = "file is password protected"
		return res
	}

	res.PageCount = estimatePages(data, res.Type)
	if res.PageCount > MaxPageCount {
		res.Rejected = true
		res.RejectReason = fmt.Sprintf("estimated %d pages exceeds %d page limit", res.PageCount, MaxPageCount)
		return res
	}

	return res
}

// detectType resolves the file type from magic bytes, disambiguating the
// ZIP and OLE container families by their entries/streams. The extension
// is consulted only when container inspection is inconclusive.
func detectType(data []byte, filename string) FileType {
	ext := strings.ToLower(strings.TrimPrefix(extOf(filename), "."))

	switch {
	case bytes.HasPrefix(data, magicPDF):
		return TypePDF

	case bytes.HasPrefix(data, magicZIP):
		if t := detectZipType(data); t != TypeUnknown {
			return t
		}
		switch ext {
		case "docx":
			return TypeDOCX
		case "hwpx":
			return TypeHWPX
		}
		return TypeUnknown

	case bytes.HasPrefix(data, magicOLE):
		if t := detectOLEType(data); t != TypeUnknown {
			return t
		}
		switch ext {
		case "doc":
			return TypeDOC
		case "hwp":
			return TypeHWP
		}
		return TypeUnknown
	}

	return TypeUnknown
}

// detectZipType opens the archive and looks for the format-defining
// entries: word/ for DOCX, Contents/ for HWPX.
func detectZipType(data []byte) FileType {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return TypeUnknown
	}
	for _, f := range r.File {
		if strings.HasPrefix(f.Name, "word/") {
			return TypeDOCX
		}
		if strings.HasPrefix(f.Name, "Contents/") {
			return TypeHWPX
		}
	}
	return TypeUnknown
}

// detectOLEType scans for UTF-16LE encoded stream names in the compound
// file directory: WordDocument for DOC, FileHeader for HWP. A full CFB
// parse is unnecessary for discrimination.
func detectOLEType(data []byte) FileType {
	if containsUTF16LE(data, "FileHeader") {
		return TypeHWP
	}
	if containsUTF16LE(data, "WordDocument") {
		return TypeDOC
	}
	return TypeUnknown
}

// checkEncryption runs the type-specific probe. Any probe error flags the
// file encrypted so it is rejected rather than failed mid-pipeline.
func checkEncryption(data []byte, t FileType) bool {
	switch t {
	case TypePDF:
		return pdfEncryptPattern.Match(data)
	case TypeHWP:
		return checkHWPEncryption(data)
	case TypeHWPX:
		return zipHasEntry(data, "META-INF/manifest.xml", "encrypt")
	case TypeDOC:
		return containsUTF16LE(data, "EncryptedPackage")
	case TypeDOCX:
		r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return true
		}
		for _, f := range r.File {
			if f.Name == "word/document.xml" {
				return false
			}
		}
		return true
	}
	return false
}

// checkHWPEncryption reads bit 1 of the FileHeader flags DWORD at offset
// 36 of the FileHeader stream. The stream content for non-fragmented
// headers sits in the first sectors, so a bounded scan for the signature
// suffices.
func checkHWPEncryption(data []byte) bool {
	sig := []byte("HWP Document File")
	idx := bytes.Index(data, sig)
	if idx < 0 {
		return true // cannot locate header: conservative
	}
	flagsOffset := idx + 36
	if flagsOffset+4 > len(data) {
		return true
	}
	flags := binary.LittleEndian.Uint32(data[flagsOffset : flagsOffset+4])
	return flags&0x2 != 0
}

// estimatePages bounds page count per type. Types without a cheap count
// get a size-derived estimate (~3KB of text per page).
func estimatePages(data []byte, t FileType) int {
	switch t {
	case TypePDF:
		if n := len(pdfPagePattern.FindAllIndex(data, -1)); n > 0 {
			return n
		}
	case TypeHWPX:
		r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
		if err == nil {
			sections := 0
			for _, f := range r.File {
				if strings.HasPrefix(f.Name, "Contents/section") {
					sections++
				}
			}
			if sections > 0 {
				return sections * 4 // sections hold several pages each
			}
		}
	}
	pages := len(data) / (3 * 1024)
	if pages < 1 {
		pages = 1
	}
	return pages
}

func zipHasEntry(data []byte, name, contentSubstring string) bool {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return true
	}
	for _, f := range r.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return true
		}
		buf := make([]byte, 64*1024)
		n, _ := rc.Read(buf)
		rc.Close()
		return strings.Contains(strings.ToLower(string(buf[:n])), contentSubstring)
	}
	return false
}

// containsUTF16LE reports whether the ASCII name occurs UTF-16LE encoded
// anywhere in the data (how OLE directory entries store stream names).
func containsUTF16LE(data []byte, name string) bool {
	encoded := utf16.Encode([]rune(name))
	needle := make([]byte, 0, len(encoded)*2)
	for _, u := range encoded {
		needle = append(needle, byte(u), byte(u>>8))
	}
	return bytes.Contains(data, needle)
}

func extOf(filename string) string {
	if idx := strings.LastIndex(filename, "."); idx >= 0 {
		return filename[idx:]
	}
	return ""
}
