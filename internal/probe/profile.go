package probe

// GATT profile of the analyzer probe firmware.
const (
	ServiceUUID = "6b6a78d7-8ee0-4a26-ba7b-62e357dd9720"

	InfoCharUUID              = "ff01"
	TelemetryCharUUID         = "ff02"
	CurrentHistogramCharUUID  = "ff03"
	TimeHistogramCharUUID     = "ff04"
	DistanceHistogramCharUUID = "ff05"
	CommandCharUUID           = "ff06"
	CaptureCharUUID           = "ff07"
)

// Characteristics returns every characteristic the client relies on, in handle order.
func Characteristics() []string {
	return []string{
		InfoCharUUID,
		TelemetryCharUUID,
		CurrentHistogramCharUUID,
		TimeHistogramCharUUID,
		DistanceHistogramCharUUID,
		CommandCharUUID,
		CaptureCharUUID,
	}
}
