package env

import (
	"os"

	"github.com/denisbrodbeck/machineid"
	"github.com/golang/glog"
)

// MachineID retrieves an ID identifying the machine, derived from the
// machine id so the raw value is not exposed on the broker. The hostname
// is used when no machine id is available.
func MachineID() string {
	id, err := machineid.ProtectedID("sbclink")
	if err == nil {
		return id[:16]
	}
	glog.Warningf("machine id unavailable: %v", err)
	host, err := os.Hostname()
	if err != nil {
		panic(err)
	}
	return host
}
