package mcp

import (
	"encoding/base64"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/redmine-mcp/redmine-mcp-server/internal/redmine"
)

var exportColumns = []string{
	"ID", "Project", "Tracker", "Status", "Priority",
	"Subject", "Assignee", "Start Date", "Due Date", "Done %", "Updated",
}

// issueWorkbook renders issues as a single-sheet XLSX workbook and
// returns it base64-encoded.
func issueWorkbook(issues []redmine.Issue) (string, error) {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Issues"
	f.SetSheetName("Sheet1", sheet)

	for col, title := range exportColumns {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return "", fmt.Errorf("failed to build header cell: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, title); err != nil {
			return "", fmt.Errorf("failed to write header: %w", err)
		}
	}

	for row, issue := range issues {
		assignee := ""
		if issue.AssignedTo != nil {
			assignee = issue.AssignedTo.Name
		}
		values := []any{
			issue.ID, issue.Project.Name, issue.Tracker.Name, issue.Status.Name,
			issue.Priority.Name, issue.Subject, assignee,
			issue.StartDate, issue.DueDate, issue.DoneRatio, issue.UpdatedOn,
		}
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row+2)
			if err != nil {
				return "", fmt.Errorf("failed to build cell name: %w", err)
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return "", fmt.Errorf("failed to write row %d: %w", row+1, err)
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return "", fmt.Errorf("failed to serialize workbook: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
