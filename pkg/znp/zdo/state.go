package zdo

import "fmt"

// DeviceState is the ZDO state reported by StateChangeInd.
type DeviceState byte

// Device states.
const (
	DevHold DeviceState = iota
	DevInit
	DevNwkDisc
	DevNwkJoining
	DevNwkRejoin
	DevEndDeviceUnauth
	DevEndDevice
	DevRouter
	DevCoordStarting
	DevZBCoord
	DevNwkOrphan
)

var stateDesc = []string{
	"initialized, not started automatically",
	"initialized, not connected",
	"discovering PANs to join",
	"joining a PAN",
	"rejoining a PAN",
	"joined, not yet authenticated by trust center",
	"started as end device",
	"started as router",
	"starting as coordinator",
	"started as coordinator",
	"lost information about its parent",
}

var stateNames = []string{
	"DEV_HOLD", "DEV_INIT", "DEV_NWK_DISC", "DEV_NWK_JOINING", "DEV_NWK_REJOIN",
	"DEV_END_DEVICE_UNAUTH", "DEV_END_DEVICE", "DEV_ROUTER", "DEV_COORD_STARTING",
	"DEV_ZB_COORD", "DEV_NWK_ORPHAN",
}

func (s DeviceState) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("DEV_STATE(%d)", byte(s))
}

// Description is a human readable explanation.
func (s DeviceState) Description() string {
	if int(s) < len(stateDesc) {
		return stateDesc[s]
	}
	return "unknown state"
}

// Joined tells whether the device is operating in a network.
func (s DeviceState) Joined() bool {
	return s == DevEndDevice || s == DevRouter || s == DevZBCoord
}
