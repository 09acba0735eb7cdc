package receiptvalidation

import (
	"bytes"
	"mime/multipart"
	"testing"
)

func uploadedFile(t *testing.T, filename string, content []byte) *multipart.FileHeader {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("receipt", filename)
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("failed to write form file: %v", err)
	}
	writer.Close()

	form, err := multipart.NewReader(&buf, writer.Boundary()).ReadForm(32 << 20)
	if err != nil {
		t.Fatalf("failed to parse form: %v", err)
	}
	return form.File["receipt"][0]
}

func pngContent() []byte {
	return append([]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, bytes.Repeat([]byte{0x01}, 32)...)
}

func TestValidateReceiptAcceptsImages(t *testing.T) {
	cases := []struct {
		filename    string
		content     []byte
		contentType string
	}{
		{"receipt.png", pngContent(), "image/png"},
		{"receipt.jpg", append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, bytes.Repeat([]byte{0x01}, 32)...), "image/jpeg"},
		{"receipt.webp", append([]byte("RIFF"), bytes.Repeat([]byte{0x01}, 32)...), "image/webp"},
		{"RECEIPT.PNG", pngContent(), "image/png"}, // extension check is case-insensitive
	}

	for _, tc := range cases {
		result, err := ValidateReceiptFile(uploadedFile(t, tc.filename, tc.content), DefaultLimits)
		if err != nil {
			t.Fatalf("%s: ValidateReceiptFile failed: %v", tc.filename, err)
		}
		if !result.Valid {
			t.Errorf("%s: expected valid, got %q", tc.filename, result.Error)
			continue
		}
		if result.ContentType != tc.contentType {
			t.Errorf("%s: expected content type %q, got %q", tc.filename, tc.contentType, result.ContentType)
		}
		if int(result.FileSize) != len(tc.content) {
			t.Errorf("%s: expected size %d, got %d", tc.filename, len(tc.content), result.FileSize)
		}
	}
}

func TestValidateReceiptRejections(t *testing.T) {
	cases := []struct {
		name     string
		filename string
		content  []byte
	}{
		{"empty file", "receipt.png", nil},
		{"oversize", "receipt.png", append(pngContent(), bytes.Repeat([]byte{0}, 6*1024*1024)...)},
		{"executable", "receipt.exe", pngContent()},
		{"no extension", "receipt", pngContent()},
		{"content does not match extension", "receipt.png", []byte("just some text pretending to be an image")},
		{"jpeg claimed as png", "receipt.png", append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, bytes.Repeat([]byte{0x01}, 32)...)},
		{"pdf without header", "receipt.pdf", []byte("not a pdf at all, honest")},
	}

	for _, tc := range cases {
		result, err := ValidateReceiptFile(uploadedFile(t, tc.filename, tc.content), DefaultLimits)
		if err != nil {
			t.Fatalf("%s: ValidateReceiptFile failed: %v", tc.name, err)
		}
		if result.Valid {
			t.Errorf("%s: expected rejection", tc.name)
		}
		if result.Error == "" {
			t.Errorf("%s: expected a rejection message", tc.name)
		}
	}
}

func TestValidateReceiptCustomLimits(t *testing.T) {
	limits := ReceiptLimits{
		MaxFileSizeMB:     1,
		AllowedExtensions: []string{".png"},
	}

	result, err := ValidateReceiptFile(uploadedFile(t, "receipt.jpg", pngContent()), limits)
	if err != nil {
		t.Fatalf("ValidateReceiptFile failed: %v", err)
	}
	if result.Valid {
		t.Error("expected .jpg to be rejected under the narrowed allow-list")
	}

	result, err = ValidateReceiptFile(uploadedFile(t, "receipt.png", append(pngContent(), bytes.Repeat([]byte{0}, 2*1024*1024)...)), limits)
	if err != nil {
		t.Fatalf("ValidateReceiptFile failed: %v", err)
	}
	if result.Valid {
		t.Error("expected a 2MB file to exceed the 1MB limit")
	}
}
