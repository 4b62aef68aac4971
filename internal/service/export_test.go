package service

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/taipham2710/OTA-Webserver/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

func TestExportService_ExportAnomalyHistory(t *testing.T) {
	now := time.Now().UTC()
	events := []models.AnomalyEvent{
		anomalyEvent(now.Add(-1*time.Minute), 0.91, models.RiskHigh, models.DecisionBlock),
		anomalyEvent(now.Add(-6*time.Minute), 0.35, models.RiskLow, models.DecisionAllow),
	}
	svc := NewExportService(&fakeAnomalyStore{events: events}, zap.NewNop())

	data, err := svc.ExportAnomalyHistory(context.Background(), "device-001")
	require.NoError(t, err)
	require.NotEmpty(t, data)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Anomaly History")
	require.NoError(t, err)
	require.Len(t, rows, 3) // 表头 + 2 条事件

	assert.Equal(t, "Event ID", rows[0][0])
	assert.Equal(t, "device-001", rows[1][1])
	assert.Equal(t, "high", rows[1][3])
	assert.Equal(t, "BLOCK", rows[1][5])
	assert.Equal(t, "allow", rows[2][4])
}

func TestExportService_ExportAnomalyHistory_Empty(t *testing.T) {
	svc := NewExportService(&fakeAnomalyStore{}, zap.NewNop())

	data, err := svc.ExportAnomalyHistory(context.Background(), "device-001")
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Anomaly History")
	require.NoError(t, err)
	require.Len(t, rows, 1) // 只有表头
}
