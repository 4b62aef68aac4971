package service

import (
	"bytes"
	"context"
	"fmt"

	"github.com/taipham2710/OTA-Webserver/internal/apperr"
	"github.com/taipham2710/OTA-Webserver/internal/models"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// anomalyExportHeader 异常历史导出表头
var anomalyExportHeader = []string{
	"Event ID",
	"Device ID",
	"Score",
	"Risk Level",
	"Decision",
	"Action",
	"Threshold",
	"Soft Threshold",
	"Source",
	"Decided At",
}

// exportHistoryLimit 单次导出的事件条数上限
const exportHistoryLimit = 5000

// ExportService 异常历史 Excel 导出
type ExportService struct {
	store  AnomalyStore
	logger *zap.Logger
}

// NewExportService 创建导出服务
func NewExportService(store AnomalyStore, logger *zap.Logger) *ExportService {
	return &ExportService{
		store:  store,
		logger: logger,
	}
}

// ExportAnomalyHistory 导出设备的异常决策历史为 Excel 文件
// 历史为空时只生成表头
func (s *ExportService) ExportAnomalyHistory(ctx context.Context, deviceID string) ([]byte, error) {
	if deviceID == "" {
		return nil, apperr.Validation("device_id is required")
	}

	events, err := s.store.ListEvents(ctx, deviceID, exportHistoryLimit)
	if err != nil {
		return nil, err
	}

	data, err := generateAnomalyHistoryExcel(events)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Anomaly history exported",
		zap.String("device_id", deviceID),
		zap.Int("event_count", len(events)),
	)

	return data, nil
}

// generateAnomalyHistoryExcel 生成异常历史 Excel 文件
func generateAnomalyHistoryExcel(events []models.AnomalyEvent) ([]byte, error) {
	f := excelize.NewFile()
	// Note: Don't defer Close() here, because WriteTo needs the file to be open

	sheetName := "Anomaly History"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}

	// 删除默认的 Sheet1
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	// 表头样式
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Bold: true,
		},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	// 写入表头
	for col, header := range anomalyExportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheetName, cell, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheetName, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}
	}

	// 列宽
	columnWidths := []float64{
		38, // Event ID
		24, // Device ID
		12, // Score
		12, // Risk Level
		12, // Decision
		12, // Action
		12, // Threshold
		14, // Soft Threshold
		14, // Source
		22, // Decided At
	}
	for i := range anomalyExportHeader {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert column number: %w", err)
		}
		if i < len(columnWidths) {
			if err := f.SetColWidth(sheetName, col, col, columnWidths[i]); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to set column width: %w", err)
			}
		}
	}

	// 写入数据（第 1 行是表头）
	for rowIdx, event := range events {
		row := rowIdx + 2

		values := []interface{}{
			event.EventID,
			event.DeviceID,
			nil, // Score：缺失时留空
			string(event.RiskLevel),
			string(event.Decision),
			event.ResolvedAction(),
			event.Threshold,
			event.SoftThreshold,
			event.Source,
			event.DecidedAt.Format("2006-01-02 15:04:05"),
		}
		if event.Score != nil {
			values[2] = *event.Score
		}

		for col, value := range values {
			if value == nil {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to convert coordinates: %w", err)
			}
			if err := f.SetCellValue(sheetName, cell, value); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to set cell value at row %d, col %d: %w", row, col+1, err)
			}
		}
	}

	// 冻结表头
	if err := f.SetPanes(sheetName, &excelize.Panes{
		Freeze:      true,
		Split:       false,
		XSplit:      0,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to freeze panes: %w", err)
	}

	// Write to bytes buffer
	// Note: File must remain open during Write operation
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}

	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}

	return buf.Bytes(), nil
}
