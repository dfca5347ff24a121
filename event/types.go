package event

// EventSeverity 事件严重程度
type EventSeverity string

const (
	SeverityCritical EventSeverity = "critical"
	SeverityWarning  EventSeverity = "warning"
	SeverityInfo     EventSeverity = "info"
)

// EventSource 事件来源
type EventSource string

const (
	SourceOrder    EventSource = "order"
	SourcePosition EventSource = "position"
	SourceSystem   EventSource = "system"
)

// GetEventSeverity 获取事件严重程度
func GetEventSeverity(t EventType) EventSeverity {
	switch t {
	case EventTypeExitFailed, EventTypeEmergencyStop, EventTypeError:
		return SeverityCritical
	case EventTypeOrderFailed, EventTypeStopLoss:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// GetEventSource 获取事件来源
func GetEventSource(t EventType) EventSource {
	switch t {
	case EventTypeOrderPlaced, EventTypeOrderFailed:
		return SourceOrder
	case EventTypeStopLoss, EventTypeTakeProfit, EventTypePositionClosed, EventTypeExitFailed:
		return SourcePosition
	default:
		return SourceSystem
	}
}

// GetEventTitle 获取事件标题
func GetEventTitle(t EventType) string {
	switch t {
	case EventTypeOrderPlaced:
		return "开仓订单已提交"
	case EventTypeOrderFailed:
		return "开仓订单失败"
	case EventTypeStopLoss:
		return "止损平仓"
	case EventTypeTakeProfit:
		return "止盈平仓"
	case EventTypePositionClosed:
		return "持仓已平仓"
	case EventTypeExitFailed:
		return "平仓失败"
	case EventTypeEmergencyStop:
		return "紧急停止"
	case EventTypeConfigReloaded:
		return "配置已热更新"
	case EventTypeError:
		return "系统错误"
	case EventTypeSystemStart:
		return "系统启动"
	case EventTypeSystemStop:
		return "系统停止"
	default:
		return string(t)
	}
}

// IsExit 是否为平仓成功事件
func IsExit(t EventType) bool {
	return t == EventTypeStopLoss || t == EventTypeTakeProfit || t == EventTypePositionClosed
}
