package discovery

import (
	"net"
	"strconv"
	"strings"
)

// TXT record keys.
const (
	txtDistributionID = "distributionId"
	txtGlobalID       = "globalId"
	txtName           = "name"
	txtPlatform       = "platform"
)

// Device identifies an advertising device.
type Device struct {
	GlobalID string
	Name     string
	Platform string
}

// Record is what this device advertises.
type Record struct {
	// Instance is the DNS-SD instance name. Defaults to Device.Name, then
	// Device.GlobalID.
	Instance       string
	DistributionID string
	Device         Device
	Port           int
}

func (r Record) instance() string {
	switch {
	case r.Instance != "":
		return r.Instance
	case r.Device.Name != "":
		return r.Device.Name
	default:
		return r.Device.GlobalID
	}
}

func (r Record) txt() []string {
	return []string{
		txtDistributionID + "=" + r.DistributionID,
		txtGlobalID + "=" + r.Device.GlobalID,
		txtName + "=" + r.Device.Name,
		txtPlatform + "=" + r.Device.Platform,
	}
}

// ServiceFound is one sighting of a peer's advertisement.
type ServiceFound struct {
	Instance       string
	DistributionID string
	Device         Device
	Host           string
	Port           int

	// Addrs lists IPv4 addresses before IPv6 ones. Scan never emits a
	// service without one.
	Addrs []net.IP
}

// Address returns host:port for the preferred address. Without resolved
// addresses it falls back to the host name, and to "" without either.
func (f ServiceFound) Address() string {
	port := strconv.Itoa(f.Port)
	if len(f.Addrs) > 0 {
		return net.JoinHostPort(f.Addrs[0].String(), port)
	}
	if host := strings.TrimSuffix(f.Host, "."); host != "" {
		return net.JoinHostPort(host, port)
	}
	return ""
}

// parseTXT converts zeroconf TXT records into a key/value map.
func parseTXT(records []string) map[string]string {
	values := make(map[string]string, len(records))
	for _, record := range records {
		if record == "" {
			continue
		}

		if eq := strings.IndexByte(record, '='); eq >= 0 {
			key := strings.TrimSpace(record[:eq])
			value := strings.TrimSpace(record[eq+1:])
			if key != "" {
				values[key] = value
			}
			continue
		}

		values[strings.TrimSpace(record)] = ""
	}
	return values
}
