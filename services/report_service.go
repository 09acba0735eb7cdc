package services

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"

	"github.com/learnsphere/course-market-api/model"
	"github.com/learnsphere/course-market-api/utils/apperr"
)

// ReportService builds the admin payments workbook. One sheet lists
// every attempt in the period, a second sheet totals per decision so
// finance can reconcile against the bank statement.
type ReportService struct {
	db *gorm.DB
}

// NewReportService creates a new report service
func NewReportService(db *gorm.DB) *ReportService {
	return &ReportService{db: db}
}

// PaymentsReport renders the attempts between from and to as an xlsx
// workbook and returns its bytes.
func (s *ReportService) PaymentsReport(ctx context.Context, from, to time.Time) ([]byte, error) {
	if !to.After(from) {
		return nil, apperr.Validation("report end must be after its start")
	}

	var attempts []model.PaymentAttempt
	err := s.db.WithContext(ctx).
		Preload("User").
		Preload("Order").
		Where("created_at >= ? AND created_at < ?", from, to).
		Order("created_at ASC").
		Find(&attempts).Error
	if err != nil {
		return nil, apperr.Unexpected("failed to load payment attempts", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Payments"
	f.SetSheetName("Sheet1", sheet)

	headers := []string{"Tracking Code", "Order", "Student", "Method", "Status", "Amount", "Currency", "Created", "Reviewed", "Rejection Reason"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, h)
	}

	totals := map[model.PaymentAttemptStatus]float64{}
	for i, attempt := range attempts {
		row := i + 2
		reviewed := ""
		if attempt.ReviewedAt != nil {
			reviewed = attempt.ReviewedAt.Format(time.RFC3339)
		}
		values := []interface{}{
			attempt.TrackingCode,
			attempt.Order.Number,
			attempt.User.Email,
			string(attempt.Method),
			string(attempt.Status),
			attempt.Amount,
			attempt.Currency,
			attempt.CreatedAt.Format(time.RFC3339),
			reviewed,
			attempt.RejectionReason,
		}
		for j, v := range values {
			cell, _ := excelize.CoordinatesToCellName(j+1, row)
			f.SetCellValue(sheet, cell, v)
		}
		totals[attempt.Status] += attempt.Amount
	}

	const summary = "Summary"
	if _, err := f.NewSheet(summary); err != nil {
		return nil, apperr.Unexpected("failed to build report", err)
	}
	f.SetCellValue(summary, "A1", "Status")
	f.SetCellValue(summary, "B1", "Total Amount")
	row := 2
	for _, status := range []model.PaymentAttemptStatus{
		model.AttemptStatusPaid,
		model.AttemptStatusFailed,
		model.AttemptStatusExpired,
		model.AttemptStatusRefunded,
		model.AttemptStatusAwaitingAdminApproval,
	} {
		f.SetCellValue(summary, fmt.Sprintf("A%d", row), string(status))
		f.SetCellValue(summary, fmt.Sprintf("B%d", row), totals[status])
		row++
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, apperr.Unexpected("failed to render report", err)
	}
	return buf.Bytes(), nil
}
