package receiptvalidation

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ReceiptLimits defines the validation limits for receipt uploads
type ReceiptLimits struct {
	MaxFileSizeMB     int
	AllowedExtensions []string
}

// DefaultLimits matches the bank-transfer receipt policy: images or a
// single PDF, at most 5 MB.
var DefaultLimits = ReceiptLimits{
	MaxFileSizeMB:     5,
	AllowedExtensions: []string{".jpg", ".jpeg", ".png", ".webp", ".pdf"},
}

// magic numbers for the allowed image formats
var imageSignatures = map[string][]byte{
	".jpg":  {0xFF, 0xD8, 0xFF},
	".jpeg": {0xFF, 0xD8, 0xFF},
	".png":  {0x89, 0x50, 0x4E, 0x47},
	".webp": {0x52, 0x49, 0x46, 0x46}, // RIFF container
}

// ValidationResult contains the result of receipt validation
type ValidationResult struct {
	Valid       bool
	FileSize    int64
	ContentType string
	Content     []byte
	Error       string
}

// ValidateReceiptFile validates an uploaded payment receipt against the
// given limits. A failed validation is reported through Result.Error so
// the caller can reject the upload before touching any state; the error
// return is reserved for I/O faults while reading the upload.
func ValidateReceiptFile(file *multipart.FileHeader, limits ReceiptLimits) (*ValidationResult, error) {
	result := &ValidationResult{
		FileSize: file.Size,
	}

	// 1. Validate file size
	maxSize := int64(limits.MaxFileSizeMB) * 1024 * 1024
	if file.Size > maxSize {
		result.Error = fmt.Sprintf("File size exceeds maximum allowed size of %dMB", limits.MaxFileSizeMB)
		return result, nil
	}
	if file.Size == 0 {
		result.Error = "File is empty"
		return result, nil
	}

	// 2. Validate file extension against the allow-list
	ext := strings.ToLower(filepath.Ext(file.Filename))
	allowed := false
	for _, e := range limits.AllowedExtensions {
		if ext == e {
			allowed = true
			break
		}
	}
	if !allowed {
		result.Error = fmt.Sprintf("File type %q is not allowed. Allowed types: %s",
			ext, strings.Join(limits.AllowedExtensions, ", "))
		return result, nil
	}

	// 3. Open file and read content
	fileContent, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer fileContent.Close()

	content, err := io.ReadAll(fileContent)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	result.Content = content

	// 4. Validate content matches the claimed extension
	if ext == ".pdf" {
		if !bytes.HasPrefix(content, []byte("%PDF-")) {
			result.Error = "Invalid PDF file: missing PDF header"
			return result, nil
		}
		pageCount, err := getPDFPageCount(content)
		if err != nil {
			result.Error = fmt.Sprintf("Failed to read PDF: %v", err)
			return result, nil
		}
		if pageCount == 0 {
			result.Error = "PDF has no pages"
			return result, nil
		}
		result.ContentType = "application/pdf"
	} else {
		sig := imageSignatures[ext]
		if !bytes.HasPrefix(content, sig) {
			result.Error = "File content does not match its extension"
			return result, nil
		}
		result.ContentType = contentTypeForExtension(ext)
	}

	result.Valid = true
	return result, nil
}

// getPDFPageCount reads the number of pages in a PDF
func getPDFPageCount(content []byte) (int, error) {
	reader := bytes.NewReader(content)
	pdfReader, err := pdf.NewReader(reader, int64(len(content)))
	if err != nil {
		return 0, err
	}
	return pdfReader.NumPage(), nil
}

func contentTypeForExtension(ext string) string {
	switch ext {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}
