package service

import (
	"context"
	"testing"
	"time"

	"github.com/taipham2710/OTA-Webserver/internal/apperr"
	"github.com/taipham2710/OTA-Webserver/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeDeviceReader struct {
	exists bool
	err    error
}

func (f *fakeDeviceReader) DeviceExists(ctx context.Context, deviceID string) (bool, error) {
	return f.exists, f.err
}

type fakeFirmwareStore struct {
	state       *models.FirmwareState
	getErr      error
	applyErr    error
	transitions []models.OTAEvent
	applied     []models.FirmwareState
}

func (f *fakeFirmwareStore) GetFirmwareState(ctx context.Context, deviceID string) (*models.FirmwareState, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.state == nil {
		return nil, nil
	}
	copied := *f.state
	return &copied, nil
}

func (f *fakeFirmwareStore) EnsureFirmwareState(ctx context.Context, deviceID string) error {
	if f.state == nil {
		f.state = &models.FirmwareState{DeviceID: deviceID, Status: models.FirmwareIdle}
	}
	return nil
}

func (f *fakeFirmwareStore) ApplyTransition(ctx context.Context, state *models.FirmwareState, event *models.OTAEvent) error {
	if f.applyErr != nil {
		return f.applyErr
	}
	f.state = state
	f.applied = append(f.applied, *state)
	f.transitions = append(f.transitions, *event)
	return nil
}

func (f *fakeFirmwareStore) ListOTAEvents(ctx context.Context, deviceID string, limit int) ([]models.OTAEvent, error) {
	return f.transitions, nil
}

type fakeDecisionReader struct {
	state *models.AnomalyState
	err   error
}

func (f *fakeDecisionReader) ReadCurrent(ctx context.Context, deviceID string) (*models.AnomalyState, error) {
	return f.state, f.err
}

func newTestFirmwareService(store *fakeFirmwareStore, decisions *fakeDecisionReader) *FirmwareService {
	return NewFirmwareService(
		&fakeDeviceReader{exists: true},
		store,
		decisions,
		zap.NewNop(),
	)
}

func decisionState(decision models.Decision) *models.AnomalyState {
	return &models.AnomalyState{
		DeviceID:      "device-001",
		Score:         0.3,
		RiskLevel:     models.RiskLow,
		Decision:      decision,
		Threshold:     0.8,
		SoftThreshold: 0.5,
		UpdatedAt:     time.Now().UTC(),
	}
}

func TestFirmwareService_Assign_Allow(t *testing.T) {
	store := &fakeFirmwareStore{}
	svc := newTestFirmwareService(store, &fakeDecisionReader{state: decisionState(models.DecisionAllow)})

	state, err := svc.Assign(context.Background(), "device-001", "2.0.0")
	require.NoError(t, err)

	assert.Equal(t, models.FirmwareAssigned, state.Status)
	assert.Equal(t, "2.0.0", state.DesiredVersion)
	require.NotNil(t, state.AssignedAt)

	require.Len(t, store.transitions, 1)
	assert.Equal(t, "assign", store.transitions[0].Action)
	assert.Equal(t, models.FirmwareIdle, store.transitions[0].FromStatus)
	assert.Equal(t, models.FirmwareAssigned, store.transitions[0].ToStatus)
	assert.Equal(t, "admin", store.transitions[0].Source)
}

func TestFirmwareService_Assign_DelayGoesPending(t *testing.T) {
	store := &fakeFirmwareStore{}
	svc := newTestFirmwareService(store, &fakeDecisionReader{state: decisionState(models.DecisionDelay)})

	state, err := svc.Assign(context.Background(), "device-001", "2.0.0")
	require.NoError(t, err)

	assert.Equal(t, models.FirmwarePending, state.Status)
	require.Len(t, store.transitions, 1)
	require.NotNil(t, store.transitions[0].Reason)
	assert.Contains(t, *store.transitions[0].Reason, "delay")
}

func TestFirmwareService_Assign_BlockRejected(t *testing.T) {
	store := &fakeFirmwareStore{}
	svc := newTestFirmwareService(store, &fakeDecisionReader{state: decisionState(models.DecisionBlock)})

	_, err := svc.Assign(context.Background(), "device-001", "2.0.0")
	require.Error(t, err)
	assert.True(t, apperr.IsInvalidTransition(err))
	assert.Empty(t, store.transitions)
}

func TestFirmwareService_Assign_DecisionUnavailableFailsClosed(t *testing.T) {
	store := &fakeFirmwareStore{}
	svc := newTestFirmwareService(store, &fakeDecisionReader{err: apperr.UpstreamUnavailable(nil, "scorer down")})

	state, err := svc.Assign(context.Background(), "device-001", "2.0.0")
	require.NoError(t, err)

	assert.Equal(t, models.FirmwarePending, state.Status)
	require.Len(t, store.transitions, 1)
	require.NotNil(t, store.transitions[0].Reason)
	assert.Contains(t, *store.transitions[0].Reason, "failing closed")
}

func TestFirmwareService_Assign_NoDecisionFailsClosed(t *testing.T) {
	store := &fakeFirmwareStore{}
	svc := newTestFirmwareService(store, &fakeDecisionReader{state: nil})

	state, err := svc.Assign(context.Background(), "device-001", "2.0.0")
	require.NoError(t, err)
	assert.Equal(t, models.FirmwarePending, state.Status)
}

func TestFirmwareService_Assign_OlderVersionRejected(t *testing.T) {
	store := &fakeFirmwareStore{state: &models.FirmwareState{
		DeviceID:       "device-001",
		CurrentVersion: "2.0.0",
		Status:         models.FirmwareIdle,
	}}
	svc := newTestFirmwareService(store, &fakeDecisionReader{state: decisionState(models.DecisionAllow)})

	_, err := svc.Assign(context.Background(), "device-001", "1.9.0")
	require.Error(t, err)
	assert.True(t, apperr.IsInvalidTransition(err))
	assert.Empty(t, store.transitions)
}

func TestFirmwareService_Assign_WhileUpdatingRejected(t *testing.T) {
	store := &fakeFirmwareStore{state: &models.FirmwareState{
		DeviceID:       "device-001",
		CurrentVersion: "1.0.0",
		DesiredVersion: "2.0.0",
		Status:         models.FirmwareUpdating,
	}}
	svc := newTestFirmwareService(store, &fakeDecisionReader{state: decisionState(models.DecisionAllow)})

	_, err := svc.Assign(context.Background(), "device-001", "3.0.0")
	require.Error(t, err)
	assert.True(t, apperr.IsInvalidTransition(err))
}

func TestFirmwareService_Assign_UnknownDevice(t *testing.T) {
	svc := NewFirmwareService(
		&fakeDeviceReader{exists: false},
		&fakeFirmwareStore{},
		&fakeDecisionReader{state: decisionState(models.DecisionAllow)},
		zap.NewNop(),
	)

	_, err := svc.Assign(context.Background(), "ghost-device", "2.0.0")
	require.Error(t, err)
	assert.True(t, apperr.IsNotFound(err))
}

func TestFirmwareService_Assign_MissingFields(t *testing.T) {
	svc := newTestFirmwareService(&fakeFirmwareStore{}, &fakeDecisionReader{})

	_, err := svc.Assign(context.Background(), "", "2.0.0")
	assert.True(t, apperr.IsValidation(err))

	_, err = svc.Assign(context.Background(), "device-001", "")
	assert.True(t, apperr.IsValidation(err))
}

func TestFirmwareService_Report_DownloadingFromAssigned(t *testing.T) {
	store := &fakeFirmwareStore{state: &models.FirmwareState{
		DeviceID:       "device-001",
		CurrentVersion: "1.0.0",
		DesiredVersion: "2.0.0",
		Status:         models.FirmwareAssigned,
	}}
	svc := newTestFirmwareService(store, &fakeDecisionReader{})

	state, err := svc.Report(context.Background(), "device-001", models.OTAReportDownloading, "2.0.0")
	require.NoError(t, err)

	assert.Equal(t, models.FirmwareDownloading, state.Status)
	require.Len(t, store.transitions, 1)
	assert.Equal(t, "report", store.transitions[0].Action)
	assert.Equal(t, "device", store.transitions[0].Source)
}

func TestFirmwareService_Report_SuccessPromotesVersion(t *testing.T) {
	store := &fakeFirmwareStore{state: &models.FirmwareState{
		DeviceID:       "device-001",
		CurrentVersion: "1.0.0",
		DesiredVersion: "2.0.0",
		Status:         models.FirmwareUpdating,
	}}
	svc := newTestFirmwareService(store, &fakeDecisionReader{})

	state, err := svc.Report(context.Background(), "device-001", models.OTAReportSuccess, "2.0.0")
	require.NoError(t, err)

	assert.Equal(t, models.FirmwareSuccess, state.Status)
	assert.Equal(t, "2.0.0", state.CurrentVersion)
	assert.Empty(t, state.DesiredVersion)
}

func TestFirmwareService_Report_SuccessVersionMismatch(t *testing.T) {
	store := &fakeFirmwareStore{state: &models.FirmwareState{
		DeviceID:       "device-001",
		CurrentVersion: "1.0.0",
		DesiredVersion: "2.0.0",
		Status:         models.FirmwareUpdating,
	}}
	svc := newTestFirmwareService(store, &fakeDecisionReader{})

	_, err := svc.Report(context.Background(), "device-001", models.OTAReportSuccess, "2.1.0")
	require.Error(t, err)
	assert.True(t, apperr.IsInvalidTransition(err))
	assert.Empty(t, store.transitions)
}

func TestFirmwareService_Report_IllegalFromStatus(t *testing.T) {
	store := &fakeFirmwareStore{state: &models.FirmwareState{
		DeviceID: "device-001",
		Status:   models.FirmwareIdle,
	}}
	svc := newTestFirmwareService(store, &fakeDecisionReader{})

	_, err := svc.Report(context.Background(), "device-001", models.OTAReportDownloading, "2.0.0")
	require.Error(t, err)
	assert.True(t, apperr.IsInvalidTransition(err))
}

func TestFirmwareService_Report_SkippedStepRejected(t *testing.T) {
	store := &fakeFirmwareStore{state: &models.FirmwareState{
		DeviceID:       "device-001",
		DesiredVersion: "2.0.0",
		Status:         models.FirmwareAssigned,
	}}
	svc := newTestFirmwareService(store, &fakeDecisionReader{})

	// assigned 不能直接跳到 success
	_, err := svc.Report(context.Background(), "device-001", models.OTAReportSuccess, "2.0.0")
	require.Error(t, err)
	assert.True(t, apperr.IsInvalidTransition(err))
}

func TestFirmwareService_Report_NoRollout(t *testing.T) {
	svc := newTestFirmwareService(&fakeFirmwareStore{}, &fakeDecisionReader{})

	_, err := svc.Report(context.Background(), "device-001", models.OTAReportDownloading, "2.0.0")
	require.Error(t, err)
	assert.True(t, apperr.IsInvalidTransition(err))
}

func TestFirmwareService_Report_InvalidStatus(t *testing.T) {
	svc := newTestFirmwareService(&fakeFirmwareStore{}, &fakeDecisionReader{})

	_, err := svc.Report(context.Background(), "device-001", models.OTAReportStatus("rebooting"), "2.0.0")
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
}

func TestFirmwareService_Retry_FromFailed(t *testing.T) {
	assignedAt := time.Now().UTC().Add(-1 * time.Hour)
	store := &fakeFirmwareStore{state: &models.FirmwareState{
		DeviceID:       "device-001",
		CurrentVersion: "1.0.0",
		DesiredVersion: "2.0.0",
		Status:         models.FirmwareFailed,
		AssignedAt:     &assignedAt,
	}}
	svc := newTestFirmwareService(store, &fakeDecisionReader{})

	state, err := svc.Retry(context.Background(), "device-001")
	require.NoError(t, err)

	assert.Equal(t, models.FirmwarePending, state.Status)
	assert.Equal(t, "2.0.0", state.DesiredVersion)
	require.NotNil(t, state.AssignedAt)
	assert.True(t, state.AssignedAt.After(assignedAt))

	require.Len(t, store.transitions, 1)
	assert.Equal(t, "retry", store.transitions[0].Action)
}

func TestFirmwareService_Retry_NotFailed(t *testing.T) {
	store := &fakeFirmwareStore{state: &models.FirmwareState{
		DeviceID: "device-001",
		Status:   models.FirmwareAssigned,
	}}
	svc := newTestFirmwareService(store, &fakeDecisionReader{})

	_, err := svc.Retry(context.Background(), "device-001")
	require.Error(t, err)
	assert.True(t, apperr.IsInvalidTransition(err))
}

func TestFirmwareService_GetState_ImplicitIdle(t *testing.T) {
	svc := newTestFirmwareService(&fakeFirmwareStore{}, &fakeDecisionReader{})

	state, err := svc.GetState(context.Background(), "device-001")
	require.NoError(t, err)
	assert.Equal(t, models.FirmwareIdle, state.Status)
	assert.Empty(t, state.DesiredVersion)
}
