package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/learnsphere/course-market-api/model"
	"github.com/learnsphere/course-market-api/services/storage"
)

// invoiceCategory is the blob-store prefix for generated invoices
const invoiceCategory = "invoices"

// InvoiceService renders a PDF invoice for an approved payment and keeps
// it in blob storage next to the receipts. Generation runs after the
// review transaction commits; a rendering failure is reported but never
// affects the payment decision.
type InvoiceService struct {
	blobs storage.BlobStore
}

// NewInvoiceService creates a new invoice service
func NewInvoiceService(blobs storage.BlobStore) *InvoiceService {
	return &InvoiceService{blobs: blobs}
}

// GenerateForAttempt renders the invoice for a paid attempt and stores
// it. Returns the stored file so callers can hand the URL to the user.
func (s *InvoiceService) GenerateForAttempt(ctx context.Context, user *model.User, order *model.Order, attempt *model.PaymentAttempt) (*storage.SavedFile, error) {
	content, err := s.render(user, order, attempt)
	if err != nil {
		return nil, err
	}

	filename := fmt.Sprintf("invoice-%s.pdf", attempt.TrackingCode)
	return s.blobs.SaveFile(ctx, invoiceCategory, user.ID, filename, content, "application/pdf")
}

func (s *InvoiceService) render(user *model.User, order *model.Order, attempt *model.PaymentAttempt) ([]byte, error) {
	var items []model.OrderItem
	if err := json.Unmarshal(order.ItemsSnapshot, &items); err != nil {
		return nil, fmt.Errorf("failed to decode order snapshot: %w", err)
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Payment Invoice", false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 12, "LearnSphere")
	pdf.Ln(14)

	pdf.SetFont("Helvetica", "", 11)
	pdf.Cell(0, 6, fmt.Sprintf("Invoice for order %s", order.Number))
	pdf.Ln(6)
	pdf.Cell(0, 6, fmt.Sprintf("Tracking code: %s", attempt.TrackingCode))
	pdf.Ln(6)
	pdf.Cell(0, 6, fmt.Sprintf("Billed to: %s <%s>", user.Name, user.Email))
	pdf.Ln(6)

	paidAt := time.Now()
	if attempt.ReviewedAt != nil {
		paidAt = *attempt.ReviewedAt
	}
	pdf.Cell(0, 6, fmt.Sprintf("Date: %s", paidAt.Format("2006-01-02")))
	pdf.Ln(12)

	// Line items
	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(130, 8, "Course", "1", 0, "L", false, 0, "")
	pdf.CellFormat(50, 8, fmt.Sprintf("Price (%s)", order.Currency), "1", 1, "R", false, 0, "")

	pdf.SetFont("Helvetica", "", 11)
	for _, item := range items {
		pdf.CellFormat(130, 8, item.Title, "1", 0, "L", false, 0, "")
		pdf.CellFormat(50, 8, fmt.Sprintf("%.0f", item.UnitPrice), "1", 1, "R", false, 0, "")
	}

	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(130, 8, "Paid this invoice", "1", 0, "L", false, 0, "")
	pdf.CellFormat(50, 8, fmt.Sprintf("%.0f", attempt.Amount), "1", 1, "R", false, 0, "")

	pdf.Ln(8)
	pdf.SetFont("Helvetica", "I", 9)
	pdf.Cell(0, 5, fmt.Sprintf("Payment method: %s", attempt.Method))

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render invoice: %w", err)
	}
	return buf.Bytes(), nil
}
