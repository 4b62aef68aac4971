package service

// App 服务聚合：外部 HTTP 层（独立部署）通过它访问全部操作
type App struct {
	Decisions *DecisionEngine
	Monitor   *Monitor
	Trends    *TrendService
	Firmware  *FirmwareService
	Export    *ExportService
}

// Components 返回已装配的组件名（启动日志用）
func (a *App) Components() []string {
	var names []string
	if a.Decisions != nil {
		names = append(names, "decision-engine")
	}
	if a.Monitor != nil {
		names = append(names, "monitor")
	}
	if a.Trends != nil {
		names = append(names, "trend")
	}
	if a.Firmware != nil {
		names = append(names, "firmware")
	}
	if a.Export != nil {
		names = append(names, "export")
	}
	return names
}

// NewApp 创建服务聚合
func NewApp(
	decisions *DecisionEngine,
	monitor *Monitor,
	trends *TrendService,
	firmware *FirmwareService,
	export *ExportService,
) *App {
	return &App{
		Decisions: decisions,
		Monitor:   monitor,
		Trends:    trends,
		Firmware:  firmware,
		Export:    export,
	}
}
