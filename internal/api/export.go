package api

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"whatsapp-automation/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"
)

const logsSheet = "Logs"

var logColumns = []struct {
	name  string
	width float64
}{
	{"id", 38}, {"created_at", 22}, {"automation_id", 38}, {"trigger_type", 22},
	{"status", 12}, {"contact_id", 38}, {"conversation_id", 38},
	{"actions", 50}, {"error_message", 50},
}

// WriteLogsWorkbook renders logs as a single-sheet xlsx workbook
func WriteLogsWorkbook(w io.Writer, logs []models.AutomationLog) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), logsSheet); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}

	for i, col := range logColumns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(logsSheet, cell, col.name)
		letter, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(logsSheet, letter, letter, col.width)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"D9D9D9"}, Pattern: 1},
	})
	if err == nil {
		last, _ := excelize.CoordinatesToCellName(len(logColumns), 1)
		f.SetCellStyle(logsSheet, "A1", last, headerStyle)
	}

	statusStyles := map[models.LogStatus]int{}
	for status, color := range map[models.LogStatus]string{
		models.LogSuccess: "C6EFCE",
		models.LogPartial: "FFEB9C",
		models.LogFailed:  "FFC7CE",
	} {
		if id, err := f.NewStyle(&excelize.Style{
			Fill: excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
		}); err == nil {
			statusStyles[status] = id
		}
	}

	for i, l := range logs {
		row := i + 2
		values := []any{
			l.ID,
			l.CreatedAt.UTC().Format(time.RFC3339),
			l.AutomationID,
			string(l.TriggerType),
			string(l.Status),
			deref(l.ContactID),
			deref(l.ConversationID),
			summarizeActions(l.ActionsExecuted),
			l.ErrorMessage,
		}
		start, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(logsSheet, start, &values); err != nil {
			return fmt.Errorf("failed to write row %d: %w", row, err)
		}
		if style, ok := statusStyles[l.Status]; ok {
			cell, _ := excelize.CoordinatesToCellName(5, row)
			f.SetCellStyle(logsSheet, cell, cell, style)
		}
	}

	_, err = f.WriteTo(w)
	return err
}

// summarizeActions renders "send_message:ok, add_tag:error(reason)"
func summarizeActions(results models.ActionResults) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		if r.Success {
			parts = append(parts, string(r.Type)+":ok")
			continue
		}
		parts = append(parts, fmt.Sprintf("%s:error(%s)", r.Type, r.Error))
	}
	return strings.Join(parts, ", ")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// ExportLogs streams the filtered logs of a workspace as an xlsx download
func (h *AutomationHandler) ExportLogs(c *gin.Context) {
	f, err := logFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if f.Limit == 0 {
		f.Limit = 1000
	}

	workspaceID := c.Param("workspaceId")
	logs, err := h.Store.ListLogs(c.Request.Context(), workspaceID, f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	filename := fmt.Sprintf("automation_logs_%s_%d.xlsx", workspaceID, time.Now().Unix())
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	if err := WriteLogsWorkbook(c.Writer, logs); err != nil {
		h.log.WithError(err).WithField("workspace_id", workspaceID).Error("Log export failed")
	}
}
