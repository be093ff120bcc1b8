package vehiclestatus

import "github.com/ukydev/fleet-simulation/internal/models"

// DefaultStayMinutes is how long a vehicle nominally remains in a status when
// no action of an assignment dictates the duration.
var DefaultStayMinutes = map[models.VehicleStatus]int{
	models.VehicleIdle:         30,
	models.VehicleTransporting: 120,
	models.VehicleUnloading:    30,
	models.VehicleMaintaining:  120,
	models.VehicleRefueling:    30,
	models.VehicleResting:      60,
	models.VehicleAccident:     120,
}

// StayDuration returns the window length in minutes for a status. A positive
// actionMinutes overrides the status default. The result is capped at
// maxStayMinutes, then rounded up to whole ticks with a floor of one tick.
func StayDuration(status models.VehicleStatus, actionMinutes, minutesPerTick, maxStayMinutes int) int {
	if minutesPerTick <= 0 {
		minutesPerTick = 1
	}
	minutes := actionMinutes
	if minutes <= 0 {
		minutes = DefaultStayMinutes[status]
	}
	if maxStayMinutes > 0 && minutes > maxStayMinutes {
		minutes = maxStayMinutes
	}
	ticks := (minutes + minutesPerTick - 1) / minutesPerTick
	if ticks < 1 {
		ticks = 1
	}
	return ticks * minutesPerTick
}
